package omr

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/emandor/omr_service/internal/img"
	"github.com/emandor/omr_service/internal/model"
)

// setupTestDB creates an in-memory database with the service schema.
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite", ":memory:?_time_format=sqlite")
	require.NoError(t, err)
	// every connection to :memory: is its own database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE templates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT,
			total_questions INTEGER NOT NULL,
			answer_key TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE answer_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT,
			answer_key TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE omr_sheets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			template_id INTEGER NOT NULL REFERENCES templates(id),
			student_name TEXT,
			roll_number TEXT,
			exam_date TEXT,
			other_details TEXT,
			responses TEXT NOT NULL,
			image_path TEXT,
			correct_count INTEGER NOT NULL DEFAULT 0,
			wrong_count INTEGER NOT NULL DEFAULT 0,
			unanswered_count INTEGER NOT NULL DEFAULT 0,
			total_questions INTEGER NOT NULL DEFAULT 0,
			percentage TEXT NOT NULL DEFAULT '0%',
			created_at DATETIME NOT NULL
		);
	`)
	require.NoError(t, err)
	return db
}

// fakeReader answers from canned readings; ranges are keyed by first question.
type fakeReader struct {
	mu     sync.Mutex
	sheet  model.Reading
	key    model.KeyReading
	name   model.NameFields
	ranges map[int]model.Reading
	fail   map[int]error
	err    error
	calls  int
	keys   []model.Answers
}

func (f *fakeReader) record(key model.Answers) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.keys = append(f.keys, key)
}

func (f *fakeReader) ReadSheet(_ context.Context, _ []byte, key model.Answers) (model.Reading, error) {
	f.record(key)
	return f.sheet, f.err
}

func (f *fakeReader) ReadRegion(_ context.Context, _ []byte, key model.Answers) (model.Reading, error) {
	f.record(key)
	return f.sheet, f.err
}

func (f *fakeReader) ReadRange(ctx context.Context, _ []byte, first, _ int, key model.Answers) (model.Reading, error) {
	f.record(key)
	if err := f.fail[first]; err != nil {
		return model.Reading{}, err
	}
	return f.ranges[first], ctx.Err()
}

func (f *fakeReader) ReadAnswerKey(context.Context, []byte) (model.KeyReading, error) {
	f.record(nil)
	return f.key, f.err
}

func (f *fakeReader) ReadName(context.Context, []byte) (model.NameFields, error) {
	f.record(nil)
	return f.name, f.err
}

var errModelDown = errors.New("model unavailable")

type fixture struct {
	store  *Store
	files  *img.Store
	reader *fakeReader
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := NewStore(setupTestDB(t))
	files, err := img.NewStore(t.TempDir(), "/uploads")
	require.NoError(t, err)
	r := &fakeReader{}
	return &fixture{store: st, files: files, reader: r, svc: NewService(st, files, r)}
}

func (f *fixture) answerKey(t *testing.T, key model.Answers) model.AnswerKey {
	t.Helper()
	k, err := f.svc.CreateAnswerKey(context.Background(), AnswerKeyInput{Name: "Physics", AnswerKey: key})
	require.NoError(t, err)
	return k
}

func itoa64(i int64) string { return strconv.FormatInt(i, 10) }
