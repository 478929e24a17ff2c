package omr

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emandor/omr_service/internal/middleware"
	"github.com/emandor/omr_service/internal/model"
)

func newTestApp(t *testing.T) (*fiber.App, *fixture) {
	t.Helper()
	f := newFixture(t)
	app := fiber.New()
	app.Use(middleware.RequestID())
	pass := func(c *fiber.Ctx) error { return c.Next() }
	NewHandler(f.svc).Mount(app.Group("/api"), pass, pass)
	return app, f
}

func doJSON(t *testing.T, app *fiber.App, method, target string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return do(t, app, req)
}

func doUpload(t *testing.T, app *fiber.App, target, field string, files []Upload, fields map[string]string) (*http.Response, []byte) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, up := range files {
		fw, err := w.CreateFormFile(field, up.Filename)
		require.NoError(t, err)
		_, err = fw.Write(up.Data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return do(t, app, req)
}

func do(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func detail(t *testing.T, b []byte) string {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	s, _ := m["detail"].(string)
	return s
}

func TestTemplateEndpoints(t *testing.T) {
	app, _ := newTestApp(t)

	resp, body := doJSON(t, app, "POST", "/api/templates", map[string]any{
		"name": "Maths", "total_questions": 2, "answer_key": map[string]string{"1": "A", "2": "B"},
	})
	require.Equal(t, 200, resp.StatusCode, string(body))
	var tpl model.Template
	require.NoError(t, json.Unmarshal(body, &tpl))
	assert.Equal(t, "Maths", tpl.Name)
	assert.Equal(t, model.Answers{"1": "A", "2": "B"}, tpl.AnswerKey)

	resp, body = doJSON(t, app, "POST", "/api/templates", map[string]any{"name": "Zero", "total_questions": 0})
	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, "total_questions must be greater than 0", detail(t, body))

	resp, body = doJSON(t, app, "GET", "/api/templates/99", nil)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "Template not found", detail(t, body))

	resp, _ = doJSON(t, app, "GET", "/api/templates/abc", nil)
	assert.Equal(t, 422, resp.StatusCode)

	resp, body = doJSON(t, app, "GET", "/api/templates", nil)
	assert.Equal(t, 200, resp.StatusCode)
	var list []model.Template
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	resp, body = doJSON(t, app, "DELETE", "/api/templates/"+itoa64(tpl.ID), nil)
	assert.Equal(t, 200, resp.StatusCode)
	assert.JSONEq(t, `{"message":"Template deleted successfully"}`, string(body))
}

func TestUploadEndpoints(t *testing.T) {
	app, f := newTestApp(t)
	resp, body := doJSON(t, app, "POST", "/api/answer-keys", map[string]any{
		"name": "Key", "answer_key": map[string]string{"1": "A", "2": "B"},
	})
	require.Equal(t, 200, resp.StatusCode, string(body))
	var k model.AnswerKey
	require.NoError(t, json.Unmarshal(body, &k))
	byKey := "/api/omr-sheets/upload-by-answer-key?answer_key_id=" + itoa64(k.ID)

	f.reader.sheet = model.Reading{Responses: model.Answers{"1": "A", "2": "D"}}
	resp, body = doUpload(t, app, byKey, "file", []Upload{pngUpload(t, "sheet.png")}, nil)
	require.Equal(t, 200, resp.StatusCode, string(body))

	var sh model.Sheet
	require.NoError(t, json.Unmarshal(body, &sh))
	assert.Equal(t, 1, sh.CorrectCount)
	assert.Equal(t, 1, sh.WrongCount)
	assert.Equal(t, "50.00%", sh.Percentage)
	assert.Equal(t, model.Details{}, sh.OtherDetails)

	resp, body = doUpload(t, app, "/api/omr-sheets/upload", "file", []Upload{pngUpload(t, "sheet.png")}, nil)
	assert.Equal(t, 422, resp.StatusCode)
	assert.Equal(t, "template_id is required", detail(t, body))

	f.reader.err = errModelDown
	resp, body = doUpload(t, app, byKey, "file", []Upload{pngUpload(t, "sheet.png")}, nil)
	assert.Equal(t, 502, resp.StatusCode)
	assert.Equal(t, "Error processing OMR sheet: model unavailable", detail(t, body))

	resp, body = doJSON(t, app, "GET", "/api/omr-sheets/"+itoa64(sh.ID), nil)
	assert.Equal(t, 200, resp.StatusCode, string(body))

	resp, body = doJSON(t, app, "GET", "/api/omr-sheets?template_id="+itoa64(sh.TemplateID), nil)
	assert.Equal(t, 200, resp.StatusCode)
	var list []model.Sheet
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	resp, body = doJSON(t, app, "DELETE", "/api/templates/"+itoa64(sh.TemplateID), nil)
	assert.Equal(t, 409, resp.StatusCode)
	assert.Equal(t, "Template is used by existing OMR sheets", detail(t, body))

	resp, body = doJSON(t, app, "DELETE", "/api/omr-sheets/"+itoa64(sh.ID), nil)
	assert.Equal(t, 200, resp.StatusCode)
	assert.JSONEq(t, `{"message":"OMR sheet deleted successfully"}`, string(body))

	resp, body = doJSON(t, app, "GET", "/api/omr-sheets/"+itoa64(sh.ID), nil)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "OMR sheet not found", detail(t, body))
}

func TestMultipleCropsEndpoint(t *testing.T) {
	app, f := newTestApp(t)
	k := f.answerKey(t, model.Answers{"1": "A", "11": "B"})
	f.reader.ranges = map[int]model.Reading{
		1:  {Responses: model.Answers{"1": "A"}},
		11: {Responses: model.Answers{"11": "C"}},
	}

	ups := make([]Upload, 5)
	for i := range ups {
		ups[i] = pngUpload(t, "blob")
	}
	target := "/api/omr-sheets/process-multiple-omr-crops?answer_key_id=" + itoa64(k.ID) + "&student_name=%20Ana%20&roll_number="
	resp, body := doUpload(t, app, target, "files", ups, nil)
	require.Equal(t, 200, resp.StatusCode, string(body))

	var sh model.Sheet
	require.NoError(t, json.Unmarshal(body, &sh))
	assert.Equal(t, model.Answers{"1": "A", "11": "C"}, sh.Responses)
	require.NotNil(t, sh.StudentName)
	assert.Equal(t, "Ana", *sh.StudentName)
	assert.Nil(t, sh.RollNumber)
	assert.Equal(t, "50.00%", sh.Percentage)

	resp, body = doUpload(t, app, target, "files", ups[:2], nil)
	assert.Equal(t, 400, resp.StatusCode)
	assert.Contains(t, detail(t, body), "Expected exactly 5 files")
}

func TestExtractNameEndpoints(t *testing.T) {
	app, f := newTestApp(t)
	f.reader.name = model.NameFields{StudentName: model.Ptr("Ravi"), ExamDate: model.Ptr("")}

	resp, body := doUpload(t, app, "/api/extract-name?x=0&y=0&w=1&h=0.5", "file", []Upload{pngUpload(t, "n.png")}, nil)
	require.Equal(t, 200, resp.StatusCode, string(body))

	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, "Ravi", m["student_name"])
	assert.Contains(t, m, "exam_date")
	assert.Nil(t, m["exam_date"])
	assert.True(t, strings.HasPrefix(m["image_path"].(string), "/uploads/name_crop_"))

	resp, body = doUpload(t, app, "/api/extract-name?x=0&y=0&w=1.5&h=0.5", "file", []Upload{pngUpload(t, "n.png")}, nil)
	assert.Equal(t, 422, resp.StatusCode)
	assert.Equal(t, "w must be a number between 0 and 1", detail(t, body))

	resp, _ = doUpload(t, app, "/api/extract-name-from-cropped?rotate=45", "file", []Upload{pngUpload(t, "n.png")}, nil)
	assert.Equal(t, 422, resp.StatusCode)

	resp, body = doUpload(t, app, "/api/extract-name-from-cropped?rotate=90", "file", []Upload{pngUpload(t, "n.png")}, nil)
	assert.Equal(t, 200, resp.StatusCode, string(body))
}

func TestAnswerKeyFromImageEndpoint(t *testing.T) {
	app, f := newTestApp(t)
	f.reader.key = model.KeyReading{AnswerKey: model.Answers{"1": "D"}}

	resp, body := doUpload(t, app, "/api/answer-keys/create", "file", []Upload{pngUpload(t, "key.png")},
		map[string]string{"name": "Final", "description": "Term 2"})
	require.Equal(t, 200, resp.StatusCode, string(body))

	var k model.AnswerKey
	require.NoError(t, json.Unmarshal(body, &k))
	assert.Equal(t, "Final", k.Name)
	require.NotNil(t, k.Description)
	assert.Equal(t, "Term 2", *k.Description)

	resp, body = doJSON(t, app, "GET", "/api/answer-keys/"+itoa64(k.ID), nil)
	assert.Equal(t, 200, resp.StatusCode, string(body))

	resp, _ = doJSON(t, app, "DELETE", "/api/answer-keys/"+itoa64(k.ID), nil)
	assert.Equal(t, 200, resp.StatusCode)

	resp, body = doJSON(t, app, "GET", "/api/answer-keys/"+itoa64(k.ID), nil)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "Answer key not found", detail(t, body))
}

func TestExportEndpoint(t *testing.T) {
	app, f := newTestApp(t)
	k := f.answerKey(t, model.Answers{"1": "A", "2": "B", "10": "C"})
	f.reader.sheet = model.Reading{
		NameFields: model.NameFields{StudentName: model.Ptr("Zoya")},
		Responses:  model.Answers{"10": "C", "2": "B", "1": "A"},
	}
	sh, err := f.svc.UploadSheetByAnswerKey(context.Background(), k.ID, pngUpload(t, "s.png"))
	require.NoError(t, err)

	resp, body := doJSON(t, app, "GET", "/api/omr-sheets/export.csv", nil)
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,template_id,student_name,roll_number,exam_date,correct,wrong,unanswered,total,percentage,created_at,Q1,Q2,Q10", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], itoa64(sh.ID)+","+itoa64(sh.TemplateID)+",Zoya,,,3,0,0,3,100.00%,"), lines[1])
	assert.True(t, strings.HasSuffix(lines[1], ",A,B,C"), lines[1])
}
