package ocr

import (
	"context"
	"regexp"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/emandor/omr_service/internal/model"
	"github.com/emandor/omr_service/internal/telemetry"
)

// Tesseract reads the name box locally, without a vision model call.
// Handwriting is hit and miss; printed or stamped names work well.
type Tesseract struct {
	Lang string
}

// ExtractText runs Tesseract over an encoded image.
func ExtractText(image []byte, lang string) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(lang); err != nil {
		return "", err
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", err
	}
	return client.Text()
}

func (t *Tesseract) ReadName(_ context.Context, image []byte) (model.NameFields, error) {
	txt, err := ExtractText(image, t.Lang)
	if err != nil {
		return model.NameFields{}, err
	}
	telemetry.L().Debug().Int("chars", len(txt)).Msg("tesseract_name_text")
	return ParseNameText(txt), nil
}

var (
	rxName = regexp.MustCompile(`(?im)^\s*(?:student'?s?\s*)?name\s*[:\-.]?\s*(.+?)\s*$`)
	rxRoll = regexp.MustCompile(`(?im)\broll\s*(?:no\.?|number|#)?\s*[:\-.]?\s*([A-Za-z0-9][A-Za-z0-9\-/]*)`)
	rxDate = regexp.MustCompile(`(?im)\bdate\s*[:\-.]?\s*(\d{1,4}[./\-]\d{1,2}[./\-]\d{1,4})`)
)

// ParseNameText picks labelled Name / Roll No / Date values out of OCR text.
// Without a Name label the first line with letters only is taken as the name.
func ParseNameText(txt string) model.NameFields {
	var n model.NameFields
	if m := rxName.FindStringSubmatch(txt); len(m) > 1 {
		n.StudentName = model.Ptr(m[1])
	}
	if m := rxRoll.FindStringSubmatch(txt); len(m) > 1 {
		n.RollNumber = model.Ptr(m[1])
	}
	if m := rxDate.FindStringSubmatch(txt); len(m) > 1 {
		n.ExamDate = model.Ptr(m[1])
	}
	if n.StudentName == nil {
		for _, line := range strings.Split(txt, "\n") {
			line = strings.TrimSpace(line)
			if line != "" && isLettersOnly(line) {
				n.StudentName = model.Ptr(line)
				break
			}
		}
	}
	return n.Normalize()
}

func isLettersOnly(s string) bool {
	for _, r := range s {
		if !(r == ' ' || r == '.' || r == '\'' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return false
		}
	}
	return true
}
