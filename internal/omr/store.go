package omr

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/emandor/omr_service/internal/model"
)

const (
	templateCols  = `id, name, description, total_questions, answer_key, created_at`
	answerKeyCols = `id, name, description, answer_key, created_at`
	sheetCols     = `id, template_id, student_name, roll_number, exam_date, other_details, responses,
		image_path, correct_count, wrong_count, unanswered_count, total_questions, percentage, created_at`
)

// Store persists templates, answer keys and sheets. Queries stick to ?
// placeholders and caller-supplied timestamps so they run on MySQL and SQLite.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) stamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func (s *Store) CreateTemplate(ctx context.Context, t *model.Template) error {
	t.CreatedAt = s.stamp()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (name, description, total_questions, answer_key, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.Name, t.Description, t.TotalQuestions, t.AnswerKey, t.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert template")
	}
	t.ID, err = res.LastInsertId()
	return err
}

func (s *Store) ListTemplates(ctx context.Context) ([]model.Template, error) {
	out := []model.Template{}
	err := s.db.SelectContext(ctx, &out, `SELECT `+templateCols+` FROM templates ORDER BY id`)
	return out, errors.Wrap(err, "list templates")
}

func (s *Store) GetTemplate(ctx context.Context, id int64) (model.Template, error) {
	var t model.Template
	err := s.db.GetContext(ctx, &t, `SELECT `+templateCols+` FROM templates WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return t, notFound("Template")
	}
	return t, errors.Wrap(err, "get template")
}

func (s *Store) FindTemplateByName(ctx context.Context, name string) (model.Template, error) {
	var t model.Template
	err := s.db.GetContext(ctx, &t, `SELECT `+templateCols+` FROM templates WHERE name=? ORDER BY id LIMIT 1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return t, notFound("Template")
	}
	return t, errors.Wrap(err, "find template")
}

// DeleteTemplate refuses to orphan sheets that still point at the template.
func (s *Store) DeleteTemplate(ctx context.Context, id int64) error {
	if _, err := s.GetTemplate(ctx, id); err != nil {
		return err
	}
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM omr_sheets WHERE template_id=?`, id); err != nil {
		return errors.Wrap(err, "count sheets")
	}
	if n > 0 {
		return &Error{Kind: ErrTemplateInUse, Detail: "Template is used by existing OMR sheets"}
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id=?`, id)
	return errors.Wrap(err, "delete template")
}

func (s *Store) CreateAnswerKey(ctx context.Context, k *model.AnswerKey) error {
	k.CreatedAt = s.stamp()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO answer_keys (name, description, answer_key, created_at)
		VALUES (?, ?, ?, ?)`,
		k.Name, k.Description, k.AnswerKey, k.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert answer key")
	}
	k.ID, err = res.LastInsertId()
	return err
}

func (s *Store) ListAnswerKeys(ctx context.Context) ([]model.AnswerKey, error) {
	out := []model.AnswerKey{}
	err := s.db.SelectContext(ctx, &out, `SELECT `+answerKeyCols+` FROM answer_keys ORDER BY id`)
	return out, errors.Wrap(err, "list answer keys")
}

func (s *Store) GetAnswerKey(ctx context.Context, id int64) (model.AnswerKey, error) {
	var k model.AnswerKey
	err := s.db.GetContext(ctx, &k, `SELECT `+answerKeyCols+` FROM answer_keys WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return k, notFound("Answer key")
	}
	return k, errors.Wrap(err, "get answer key")
}

func (s *Store) DeleteAnswerKey(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM answer_keys WHERE id=?`, id)
	if err != nil {
		return errors.Wrap(err, "delete answer key")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("Answer key")
	}
	return nil
}

func (s *Store) CreateSheet(ctx context.Context, sh *model.Sheet) error {
	sh.CreatedAt = s.stamp()
	if sh.OtherDetails == nil {
		sh.OtherDetails = model.Details{}
	}
	if sh.Responses == nil {
		sh.Responses = model.Answers{}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO omr_sheets
			(template_id, student_name, roll_number, exam_date, other_details, responses, image_path,
			 correct_count, wrong_count, unanswered_count, total_questions, percentage, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sh.TemplateID, sh.StudentName, sh.RollNumber, sh.ExamDate, sh.OtherDetails, sh.Responses, sh.ImagePath,
		sh.CorrectCount, sh.WrongCount, sh.UnansweredCount, sh.TotalQuestions, sh.Percentage, sh.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert sheet")
	}
	sh.ID, err = res.LastInsertId()
	return err
}

// ListSheets returns every sheet, or only those of templateID when it is set.
func (s *Store) ListSheets(ctx context.Context, templateID *int64) ([]model.Sheet, error) {
	out := []model.Sheet{}
	var err error
	if templateID != nil {
		err = s.db.SelectContext(ctx, &out, `SELECT `+sheetCols+` FROM omr_sheets WHERE template_id=? ORDER BY id`, *templateID)
	} else {
		err = s.db.SelectContext(ctx, &out, `SELECT `+sheetCols+` FROM omr_sheets ORDER BY id`)
	}
	if err != nil {
		return nil, errors.Wrap(err, "list sheets")
	}
	for i := range out {
		out[i].Normalize()
	}
	return out, nil
}

func (s *Store) GetSheet(ctx context.Context, id int64) (model.Sheet, error) {
	var sh model.Sheet
	err := s.db.GetContext(ctx, &sh, `SELECT `+sheetCols+` FROM omr_sheets WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return sh, notFound("OMR sheet")
	}
	if err != nil {
		return sh, errors.Wrap(err, "get sheet")
	}
	sh.Normalize()
	return sh, nil
}

func (s *Store) DeleteSheet(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM omr_sheets WHERE id=?`, id)
	if err != nil {
		return errors.Wrap(err, "delete sheet")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("OMR sheet")
	}
	return nil
}
