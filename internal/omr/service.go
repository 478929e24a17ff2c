package omr

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/emandor/omr_service/internal/img"
	"github.com/emandor/omr_service/internal/model"
	"github.com/emandor/omr_service/internal/telemetry"
	"github.com/emandor/omr_service/internal/ws"
)

// SheetReader reads marks off sheet images. vision.Reader implements it.
type SheetReader interface {
	ReadSheet(ctx context.Context, image []byte, key model.Answers) (model.Reading, error)
	ReadRegion(ctx context.Context, image []byte, key model.Answers) (model.Reading, error)
	ReadRange(ctx context.Context, image []byte, first, last int, key model.Answers) (model.Reading, error)
	ReadAnswerKey(ctx context.Context, image []byte) (model.KeyReading, error)
}

// NameReader reads the handwritten name box. vision.Reader and
// ocr.Tesseract implement it.
type NameReader interface {
	ReadName(ctx context.Context, image []byte) (model.NameFields, error)
}

// Upload is one received file.
type Upload struct {
	Filename string
	Data     []byte
}

// Crop describes optional server-side preprocessing of an upload.
type Crop struct {
	Rect   *img.Rect
	Rotate int
}

func (c Crop) empty() bool { return c.Rect == nil && c.Rotate%360 == 0 }

type TemplateInput struct {
	Name           string        `json:"name"`
	Description    *string       `json:"description"`
	TotalQuestions int           `json:"total_questions"`
	AnswerKey      model.Answers `json:"answer_key"`
}

type AnswerKeyInput struct {
	Name        string        `json:"name"`
	Description *string       `json:"description"`
	AnswerKey   model.Answers `json:"answer_key"`
}

// NameResult is the reply of the name extraction endpoints.
type NameResult struct {
	model.NameFields
	ImagePath string `json:"image_path"`
}

type Service struct {
	store   *Store
	files   *img.Store
	reader  SheetReader
	names   NameReader
	crops   int
	perCrop int
	workers int

	mirrorMu sync.Mutex
}

type ServiceOption func(*Service)

// WithCropLayout sets how many crops the multi-crop flow expects and how
// many consecutive questions each holds.
func WithCropLayout(crops, perCrop int) ServiceOption {
	return func(s *Service) {
		if crops > 0 {
			s.crops = crops
		}
		if perCrop > 0 {
			s.perCrop = perCrop
		}
	}
}

// WithNameReader replaces the reader used for name extraction.
func WithNameReader(n NameReader) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.names = n
		}
	}
}

// NewService wires the store, the image store and a reader. The reader also
// serves name extraction unless it does not implement NameReader or
// WithNameReader says otherwise.
func NewService(store *Store, files *img.Store, reader SheetReader, opts ...ServiceOption) *Service {
	s := &Service{store: store, files: files, reader: reader, crops: 5, perCrop: 10, workers: 3}
	if n, ok := reader.(NameReader); ok {
		s.names = n
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// --- templates

func (s *Service) CreateTemplate(ctx context.Context, in TemplateInput) (model.Template, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.Template{}, invalid("name is required")
	}
	if in.TotalQuestions <= 0 {
		return model.Template{}, invalid("total_questions must be greater than 0")
	}
	t := model.Template{
		Name:           name,
		Description:    model.NullIfBlank(in.Description),
		TotalQuestions: in.TotalQuestions,
		AnswerKey:      in.AnswerKey,
	}
	if t.AnswerKey == nil {
		t.AnswerKey = model.Answers{}
	}
	if err := s.store.CreateTemplate(ctx, &t); err != nil {
		return model.Template{}, err
	}
	telemetry.L().Info().Int64("template_id", t.ID).Msg("template_created")
	return t, nil
}

func (s *Service) ListTemplates(ctx context.Context) ([]model.Template, error) {
	return s.store.ListTemplates(ctx)
}

func (s *Service) GetTemplate(ctx context.Context, id int64) (model.Template, error) {
	return s.store.GetTemplate(ctx, id)
}

func (s *Service) DeleteTemplate(ctx context.Context, id int64) error {
	return s.store.DeleteTemplate(ctx, id)
}

// --- answer keys

func (s *Service) CreateAnswerKey(ctx context.Context, in AnswerKeyInput) (model.AnswerKey, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.AnswerKey{}, invalid("name is required")
	}
	if len(in.AnswerKey) == 0 {
		return model.AnswerKey{}, invalid("answer_key must not be empty")
	}
	k := model.AnswerKey{Name: name, Description: model.NullIfBlank(in.Description), AnswerKey: in.AnswerKey}
	if err := s.store.CreateAnswerKey(ctx, &k); err != nil {
		return model.AnswerKey{}, err
	}
	telemetry.L().Info().Int64("answer_key_id", k.ID).Int("questions", len(k.AnswerKey)).Msg("answer_key_created")
	ws.BroadcastAnswerKeyCreated(k)
	return k, nil
}

// CreateAnswerKeyFromImage reads a filled-in key sheet with the vision model.
// A blank description falls back to the one the model produced.
func (s *Service) CreateAnswerKeyFromImage(ctx context.Context, name string, description *string, up Upload) (model.AnswerKey, error) {
	if strings.TrimSpace(name) == "" {
		return model.AnswerKey{}, invalid("name is required")
	}
	if len(up.Data) == 0 {
		return model.AnswerKey{}, invalid("Uploaded file is empty")
	}
	kr, err := s.reader.ReadAnswerKey(ctx, up.Data)
	if err != nil {
		telemetry.L().Error().Err(err).Str("name", name).Msg("answer_key_read_failed")
		return model.AnswerKey{}, visionFailed("Error creating answer key", err)
	}
	desc := model.NullIfBlank(description)
	if desc == nil {
		desc = model.NullIfBlank(kr.Description)
	}
	k := model.AnswerKey{Name: strings.TrimSpace(name), Description: desc, AnswerKey: kr.AnswerKey}
	if k.AnswerKey == nil {
		k.AnswerKey = model.Answers{}
	}
	if err := s.store.CreateAnswerKey(ctx, &k); err != nil {
		return model.AnswerKey{}, err
	}
	telemetry.L().Info().Int64("answer_key_id", k.ID).Int("questions", len(k.AnswerKey)).Msg("answer_key_created")
	ws.BroadcastAnswerKeyCreated(k)
	return k, nil
}

func (s *Service) ListAnswerKeys(ctx context.Context) ([]model.AnswerKey, error) {
	return s.store.ListAnswerKeys(ctx)
}

func (s *Service) GetAnswerKey(ctx context.Context, id int64) (model.AnswerKey, error) {
	return s.store.GetAnswerKey(ctx, id)
}

func (s *Service) DeleteAnswerKey(ctx context.Context, id int64) error {
	return s.store.DeleteAnswerKey(ctx, id)
}

// MirrorName is the template name that stands in for an answer key.
func MirrorName(k model.AnswerKey) string {
	return fmt.Sprintf("AK #%d: %s", k.ID, k.Name)
}

// mirrorTemplate finds or creates the template sheets scored against k
// point at.
func (s *Service) mirrorTemplate(ctx context.Context, k model.AnswerKey) (model.Template, error) {
	s.mirrorMu.Lock()
	defer s.mirrorMu.Unlock()

	name := MirrorName(k)
	t, err := s.store.FindTemplateByName(ctx, name)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.Template{}, err
	}
	t = model.Template{
		Name:           name,
		Description:    k.Description,
		TotalQuestions: len(k.AnswerKey),
		AnswerKey:      k.AnswerKey,
	}
	if err := s.store.CreateTemplate(ctx, &t); err != nil {
		return model.Template{}, err
	}
	telemetry.L().Info().Int64("template_id", t.ID).Int64("answer_key_id", k.ID).Msg("template_mirror_created")
	return t, nil
}

func (s *Service) mirrorFor(ctx context.Context, answerKeyID int64) (model.Template, error) {
	k, err := s.store.GetAnswerKey(ctx, answerKeyID)
	if err != nil {
		return model.Template{}, err
	}
	return s.mirrorTemplate(ctx, k)
}

// --- sheets

// UploadSheet reads a whole photographed sheet and scores it against the
// template.
func (s *Service) UploadSheet(ctx context.Context, templateID int64, up Upload) (model.Sheet, error) {
	t, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return model.Sheet{}, err
	}
	return s.readWholeSheet(ctx, t, up)
}

// UploadSheetByAnswerKey is UploadSheet against the answer key's mirror
// template.
func (s *Service) UploadSheetByAnswerKey(ctx context.Context, answerKeyID int64, up Upload) (model.Sheet, error) {
	t, err := s.mirrorFor(ctx, answerKeyID)
	if err != nil {
		return model.Sheet{}, err
	}
	return s.readWholeSheet(ctx, t, up)
}

func (s *Service) readWholeSheet(ctx context.Context, t model.Template, up Upload) (model.Sheet, error) {
	if len(up.Data) == 0 {
		return model.Sheet{}, invalid("Uploaded file is empty")
	}
	path, err := s.files.Save("omr", up.Filename, up.Data, false)
	if err != nil {
		return model.Sheet{}, err
	}
	rd, err := s.reader.ReadSheet(ctx, up.Data, t.AnswerKey)
	if err != nil {
		s.discard(path)
		telemetry.L().Error().Err(err).Int64("template_id", t.ID).Msg("sheet_read_failed")
		return model.Sheet{}, visionFailed("Error processing OMR sheet", err)
	}
	return s.saveSheet(ctx, t, rd, path)
}

// ProcessCroppedSheet scores an image of the bubble region alone, cropped
// either by the client or here through crop. Non-blank override fields win
// over what the model read.
func (s *Service) ProcessCroppedSheet(ctx context.Context, answerKeyID int64, up Upload, crop Crop, override model.NameFields) (model.Sheet, error) {
	t, err := s.mirrorFor(ctx, answerKeyID)
	if err != nil {
		return model.Sheet{}, err
	}
	data, transformed, err := s.prepare(up, crop)
	if err != nil {
		return model.Sheet{}, err
	}
	path, err := s.files.Save("omr_crop", up.Filename, data, transformed)
	if err != nil {
		return model.Sheet{}, err
	}
	rd, err := s.reader.ReadRegion(ctx, data, t.AnswerKey)
	if err != nil {
		s.discard(path)
		telemetry.L().Error().Err(err).Int64("template_id", t.ID).Msg("region_read_failed")
		return model.Sheet{}, visionFailed("Error processing OMR sheet", err)
	}
	rd.NameFields = rd.NameFields.Override(override)
	return s.saveSheet(ctx, t, rd, path)
}

type rangeResult struct {
	first, last int
	responses   model.Answers
	err         error
}

// ProcessCropRanges reads one crop per question range (1-10, 11-20, ...)
// concurrently. A failed range is recorded in other_details.processing_errors
// and the sheet is still saved. Name fields come from override only.
func (s *Service) ProcessCropRanges(ctx context.Context, reqID string, answerKeyID int64, ups []Upload, override model.NameFields) (model.Sheet, error) {
	t, err := s.mirrorFor(ctx, answerKeyID)
	if err != nil {
		return model.Sheet{}, err
	}
	if len(ups) != s.crops {
		return model.Sheet{}, invalid("Expected exactly %d files for question ranges %s", s.crops, s.rangeList())
	}
	if len(ups[0].Data) == 0 {
		return model.Sheet{}, invalid("Uploaded file is empty")
	}

	log := telemetry.L().With().Str("req_id", reqID).Int64("template_id", t.ID).Logger()
	results := make([]rangeResult, len(ups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, up := range ups {
		first, last := i*s.perCrop+1, (i+1)*s.perCrop
		results[i] = rangeResult{first: first, last: last}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i].err = fmt.Errorf("panic: %v", r)
					log.Error().Interface("panic", r).Int("first", first).Msg("range_panic")
				}
			}()
			if len(up.Data) == 0 {
				results[i].err = errors.New("empty file")
				ws.BroadcastRangeError(reqID, first, last, results[i].err)
				return nil
			}
			rd, err := s.reader.ReadRange(gctx, up.Data, first, last, t.AnswerKey)
			if err != nil {
				results[i].err = err
				log.Error().Err(err).Int("first", first).Int("last", last).Msg("range_read_failed")
				ws.BroadcastRangeError(reqID, first, last, err)
				return nil
			}
			results[i].responses = rd.Responses
			log.Info().Int("first", first).Int("last", last).Int("responses", len(rd.Responses)).Msg("range_read_done")
			ws.BroadcastRangeDone(reqID, first, last, len(rd.Responses))
			return nil
		})
	}
	_ = g.Wait()

	merged := model.Reading{Responses: model.Answers{}, OtherDetails: model.Details{}}
	var errs []string
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, fmt.Sprintf("Questions %d-%d: %s", r.first, r.last, r.err))
			continue
		}
		for q, a := range r.responses {
			merged.Responses[q] = a
		}
	}
	if len(errs) > 0 {
		merged.OtherDetails["processing_errors"] = errs
	}
	merged.NameFields = model.NameFields{}.Override(override)

	path, err := s.files.Save("omr_crop", ups[0].Filename, ups[0].Data, false)
	if err != nil {
		return model.Sheet{}, err
	}
	return s.saveSheet(ctx, t, merged, path)
}

func (s *Service) rangeList() string {
	parts := make([]string, s.crops)
	for i := range parts {
		parts[i] = fmt.Sprintf("%d-%d", i*s.perCrop+1, (i+1)*s.perCrop)
	}
	return strings.Join(parts, ", ")
}

func (s *Service) saveSheet(ctx context.Context, t model.Template, rd model.Reading, path string) (model.Sheet, error) {
	sc := Grade(t.AnswerKey, rd.Responses, t.TotalQuestions)
	sh := model.Sheet{
		TemplateID:      t.ID,
		StudentName:     model.NullIfBlank(rd.StudentName),
		RollNumber:      model.NullIfBlank(rd.RollNumber),
		ExamDate:        model.NullIfBlank(rd.ExamDate),
		OtherDetails:    rd.OtherDetails,
		Responses:       rd.Responses,
		ImagePath:       model.Ptr(path),
		CorrectCount:    sc.Correct,
		WrongCount:      sc.Wrong,
		UnansweredCount: sc.Unanswered,
		TotalQuestions:  sc.Total,
		Percentage:      sc.Percentage,
	}
	if err := s.store.CreateSheet(ctx, &sh); err != nil {
		s.discard(path)
		return model.Sheet{}, err
	}
	telemetry.L().Info().
		Int64("sheet_id", sh.ID).
		Int64("template_id", t.ID).
		Int("correct", sc.Correct).
		Str("percentage", sc.Percentage).
		Msg("sheet_saved")
	ws.BroadcastSheetCreated(sh)
	return sh, nil
}

func (s *Service) ListSheets(ctx context.Context, templateID *int64) ([]model.Sheet, error) {
	return s.store.ListSheets(ctx, templateID)
}

func (s *Service) GetSheet(ctx context.Context, id int64) (model.Sheet, error) {
	return s.store.GetSheet(ctx, id)
}

// DeleteSheet removes the row and its stored image.
func (s *Service) DeleteSheet(ctx context.Context, id int64) error {
	sh, err := s.store.GetSheet(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSheet(ctx, id); err != nil {
		return err
	}
	if sh.ImagePath != nil {
		s.discard(*sh.ImagePath)
	}
	ws.BroadcastSheetDeleted(id)
	return nil
}

// --- names

// ExtractName stores the (optionally cropped) name box and reads the
// student's name, roll number and exam date from it.
func (s *Service) ExtractName(ctx context.Context, up Upload, crop Crop) (NameResult, error) {
	if s.names == nil {
		return NameResult{}, visionFailed("Error extracting name", errors.New("no name reader configured"))
	}
	data, transformed, err := s.prepare(up, crop)
	if err != nil {
		return NameResult{}, err
	}
	path, err := s.files.Save("name_crop", up.Filename, data, transformed)
	if err != nil {
		return NameResult{}, err
	}
	nf, err := s.names.ReadName(ctx, data)
	if err != nil {
		s.discard(path)
		telemetry.L().Error().Err(err).Msg("name_read_failed")
		return NameResult{}, visionFailed("Error extracting name", err)
	}
	return NameResult{NameFields: nf.Normalize(), ImagePath: path}, nil
}

// prepare applies crop to the upload; transformed reports whether the
// bytes were re-encoded as PNG.
func (s *Service) prepare(up Upload, crop Crop) ([]byte, bool, error) {
	if len(up.Data) == 0 {
		return nil, false, invalid("Uploaded file is empty")
	}
	if crop.empty() {
		return up.Data, false, nil
	}
	out, err := img.Transform(up.Data, crop.Rect, crop.Rotate)
	if err != nil {
		return nil, false, invalid("cannot crop image: %s", err)
	}
	return out, true, nil
}

func (s *Service) discard(path string) {
	if err := s.files.Remove(path); err != nil {
		telemetry.L().Warn().Err(err).Str("path", path).Msg("image_remove_failed")
	}
}
