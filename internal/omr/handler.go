package omr

import (
	"io"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"github.com/emandor/omr_service/internal/img"
	"github.com/emandor/omr_service/internal/middleware"
	"github.com/emandor/omr_service/internal/model"
	"github.com/emandor/omr_service/internal/telemetry"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Mount registers the REST routes on r. upload validates multipart bodies and
// limit throttles the routes that call the vision model.
func (h *Handler) Mount(r fiber.Router, upload, limit fiber.Handler) {
	r.Post("/templates", h.CreateTemplate)
	r.Get("/templates", h.ListTemplates)
	r.Get("/templates/:id", h.GetTemplate)
	r.Delete("/templates/:id", h.DeleteTemplate)

	r.Post("/answer-keys/create", limit, upload, h.CreateAnswerKeyFromImage)
	r.Post("/answer-keys", h.CreateAnswerKey)
	r.Get("/answer-keys", h.ListAnswerKeys)
	r.Get("/answer-keys/:id", h.GetAnswerKey)
	r.Delete("/answer-keys/:id", h.DeleteAnswerKey)

	r.Post("/omr-sheets/upload", limit, upload, h.UploadSheet)
	r.Post("/omr-sheets/upload-by-answer-key", limit, upload, h.UploadSheetByAnswerKey)
	r.Post("/omr-sheets/process-cropped-omr-by-answer-key", limit, upload, h.ProcessCroppedOMR)
	r.Post("/omr-sheets/process-cropped-by-answer-key", limit, upload, h.ProcessCroppedByRect)
	r.Post("/omr-sheets/process-multiple-omr-crops", limit, upload, h.ProcessMultipleCrops)
	r.Get("/omr-sheets", h.ListSheets)
	r.Get("/omr-sheets/export.csv", h.ExportCSV)
	r.Get("/omr-sheets/:id", h.GetSheet)
	r.Delete("/omr-sheets/:id", h.DeleteSheet)

	r.Post("/extract-name", limit, upload, h.ExtractName)
	r.Post("/extract-name-from-cropped", limit, upload, h.ExtractNameFromCropped)
}

// --- templates

func (h *Handler) CreateTemplate(c *fiber.Ctx) error {
	var in TemplateInput
	if err := c.BodyParser(&in); err != nil {
		return unprocessable(c, "invalid JSON body")
	}
	t, err := h.svc.CreateTemplate(c.UserContext(), in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(t)
}

func (h *Handler) ListTemplates(c *fiber.Ctx) error {
	list, err := h.svc.ListTemplates(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(list)
}

func (h *Handler) GetTemplate(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return unprocessable(c, err.Error())
	}
	t, err := h.svc.GetTemplate(c.UserContext(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(t)
}

func (h *Handler) DeleteTemplate(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return unprocessable(c, err.Error())
	}
	if err := h.svc.DeleteTemplate(c.UserContext(), id); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Template deleted successfully"})
}

// --- answer keys

func (h *Handler) CreateAnswerKeyFromImage(c *fiber.Ctx) error {
	up, err := formUpload(c, "file")
	if err != nil {
		return unprocessable(c, err.Error())
	}
	name := c.FormValue("name")
	if strings.TrimSpace(name) == "" {
		return unprocessable(c, "name is required")
	}
	var desc *string
	if v := c.FormValue("description"); v != "" {
		desc = &v
	}
	k, err := h.svc.CreateAnswerKeyFromImage(c.UserContext(), name, desc, up)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(k)
}

func (h *Handler) CreateAnswerKey(c *fiber.Ctx) error {
	var in AnswerKeyInput
	if err := c.BodyParser(&in); err != nil {
		return unprocessable(c, "invalid JSON body")
	}
	k, err := h.svc.CreateAnswerKey(c.UserContext(), in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(k)
}

func (h *Handler) ListAnswerKeys(c *fiber.Ctx) error {
	list, err := h.svc.ListAnswerKeys(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(list)
}

func (h *Handler) GetAnswerKey(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return unprocessable(c, err.Error())
	}
	k, err := h.svc.GetAnswerKey(c.UserContext(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(k)
}

func (h *Handler) DeleteAnswerKey(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return unprocessable(c, err.Error())
	}
	if err := h.svc.DeleteAnswerKey(c.UserContext(), id); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Answer key deleted successfully"})
}

// --- sheets

func (h *Handler) UploadSheet(c *fiber.Ctx) error {
	templateID, err := queryID(c, "template_id")
	if err != nil {
		return unprocessable(c, err.Error())
	}
	up, err := formUpload(c, "file")
	if err != nil {
		return unprocessable(c, err.Error())
	}
	sh, err := h.svc.UploadSheet(c.UserContext(), templateID, up)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(sh)
}

func (h *Handler) UploadSheetByAnswerKey(c *fiber.Ctx) error {
	keyID, err := queryID(c, "answer_key_id")
	if err != nil {
		return unprocessable(c, err.Error())
	}
	up, err := formUpload(c, "file")
	if err != nil {
		return unprocessable(c, err.Error())
	}
	sh, err := h.svc.UploadSheetByAnswerKey(c.UserContext(), keyID, up)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(sh)
}

func (h *Handler) ProcessCroppedOMR(c *fiber.Ctx) error {
	h.logParams(c)
	return h.processCropped(c, false)
}

func (h *Handler) ProcessCroppedByRect(c *fiber.Ctx) error {
	return h.processCropped(c, true)
}

func (h *Handler) processCropped(c *fiber.Ctx, needRect bool) error {
	keyID, err := queryID(c, "answer_key_id")
	if err != nil {
		return unprocessable(c, err.Error())
	}
	crop, err := queryCrop(c, needRect)
	if err != nil {
		return unprocessable(c, err.Error())
	}
	up, err := formUpload(c, "file")
	if err != nil {
		return unprocessable(c, err.Error())
	}
	sh, err := h.svc.ProcessCroppedSheet(c.UserContext(), keyID, up, crop, queryNames(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(sh)
}

func (h *Handler) ProcessMultipleCrops(c *fiber.Ctx) error {
	h.logParams(c)
	keyID, err := queryID(c, "answer_key_id")
	if err != nil {
		return unprocessable(c, err.Error())
	}
	form, err := c.MultipartForm()
	if err != nil {
		return unprocessable(c, "invalid multipart form")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return unprocessable(c, "files is required")
	}
	ups := make([]Upload, 0, len(files))
	for _, fh := range files {
		up, err := readUpload(fh)
		if err != nil {
			return unprocessable(c, err.Error())
		}
		ups = append(ups, up)
	}
	sh, err := h.svc.ProcessCropRanges(c.UserContext(), middleware.ReqID(c), keyID, ups, queryNames(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(sh)
}

func (h *Handler) ListSheets(c *fiber.Ctx) error {
	tid, err := optionalQueryID(c, "template_id")
	if err != nil {
		return unprocessable(c, err.Error())
	}
	list, err := h.svc.ListSheets(c.UserContext(), tid)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(list)
}

func (h *Handler) GetSheet(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return unprocessable(c, err.Error())
	}
	sh, err := h.svc.GetSheet(c.UserContext(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(sh)
}

func (h *Handler) DeleteSheet(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return unprocessable(c, err.Error())
	}
	if err := h.svc.DeleteSheet(c.UserContext(), id); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "OMR sheet deleted successfully"})
}

func (h *Handler) ExportCSV(c *fiber.Ctx) error {
	tid, err := optionalQueryID(c, "template_id")
	if err != nil {
		return unprocessable(c, err.Error())
	}
	var buf strings.Builder
	if err := h.svc.ExportCSV(c.UserContext(), &buf, tid); err != nil {
		return h.fail(c, err)
	}
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="omr_sheets.csv"`)
	return c.SendString(buf.String())
}

// --- names

func (h *Handler) ExtractName(c *fiber.Ctx) error {
	return h.extractName(c, true)
}

func (h *Handler) ExtractNameFromCropped(c *fiber.Ctx) error {
	return h.extractName(c, false)
}

func (h *Handler) extractName(c *fiber.Ctx, needRect bool) error {
	crop, err := queryCrop(c, needRect)
	if err != nil {
		return unprocessable(c, err.Error())
	}
	up, err := formUpload(c, "file")
	if err != nil {
		return unprocessable(c, err.Error())
	}
	res, err := h.svc.ExtractName(c.UserContext(), up, crop)
	if err != nil {
		return h.fail(c, err)
	}
	telemetry.L().Info().
		Str("req_id", middleware.ReqID(c)).
		Bool("student_name", res.StudentName != nil).
		Bool("roll_number", res.RollNumber != nil).
		Msg("name_extracted")
	return c.JSON(res)
}

// --- helpers

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	log := telemetry.L().With().Str("req_id", middleware.ReqID(c)).Str("path", c.Path()).Logger()

	var e *Error
	if !errors.As(err, &e) {
		log.Error().Err(err).Msg("request_failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": "internal error"})
	}
	status := fiber.StatusInternalServerError
	switch e.Kind {
	case ErrNotFound:
		status = fiber.StatusNotFound
	case ErrInvalid:
		status = fiber.StatusBadRequest
	case ErrTemplateInUse:
		status = fiber.StatusConflict
	case ErrVision:
		status = fiber.StatusBadGateway
	}
	if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg("request_failed")
	}
	return c.Status(status).JSON(fiber.Map{"detail": e.Detail})
}

func (h *Handler) logParams(c *fiber.Ctx) {
	telemetry.L().Info().
		Str("req_id", middleware.ReqID(c)).
		Str("student_name", c.Query("student_name")).
		Str("roll_number", c.Query("roll_number")).
		Str("exam_date", c.Query("exam_date")).
		Msg("crop_params")
}

func unprocessable(c *fiber.Ctx, detail string) error {
	return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"detail": detail})
}

func pathID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("id must be a positive integer")
	}
	return id, nil
}

func queryID(c *fiber.Ctx, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, errors.Errorf("%s is required", name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.Errorf("%s must be an integer", name)
	}
	return id, nil
}

func optionalQueryID(c *fiber.Ctx, name string) (*int64, error) {
	if c.Query(name) == "" {
		return nil, nil
	}
	id, err := queryID(c, name)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// queryCrop reads x, y, w, h (required when needRect) and rotate.
func queryCrop(c *fiber.Ctx, needRect bool) (Crop, error) {
	var crop Crop
	if v := c.Query("rotate"); v != "" {
		deg, err := strconv.Atoi(v)
		if err != nil || deg%90 != 0 {
			return crop, img.ErrBadRotation
		}
		crop.Rotate = deg
	}
	if !needRect {
		return crop, nil
	}
	var vals [4]float64
	for i, name := range []string{"x", "y", "w", "h"} {
		raw := c.Query(name)
		if raw == "" {
			return crop, errors.Errorf("%s is required", name)
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f < 0 || f > 1 {
			return crop, errors.Errorf("%s must be a number between 0 and 1", name)
		}
		vals[i] = f
	}
	crop.Rect = &img.Rect{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}
	return crop, nil
}

func queryNames(c *fiber.Ctx) model.NameFields {
	opt := func(k string) *string {
		v := c.Query(k)
		return &v
	}
	return model.NameFields{
		StudentName: opt("student_name"),
		RollNumber:  opt("roll_number"),
		ExamDate:    opt("exam_date"),
	}.Normalize()
}

func formUpload(c *fiber.Ctx, field string) (Upload, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return Upload{}, errors.Errorf("%s is required", field)
	}
	return readUpload(fh)
}

func readUpload(fh *multipart.FileHeader) (Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return Upload{}, errors.Wrap(err, "open upload")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return Upload{}, errors.Wrap(err, "read upload")
	}
	return Upload{Filename: fh.Filename, Data: data}, nil
}
