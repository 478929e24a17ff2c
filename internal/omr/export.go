package omr

import (
	"context"
	"encoding/csv"
	"io"
	"sort"
	"strconv"

	"github.com/emandor/omr_service/internal/model"
)

// ExportCSV writes one row per sheet: identity fields, score columns and one
// column per question seen on any sheet, in numeric order.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, templateID *int64) error {
	sheets, err := s.store.ListSheets(ctx, templateID)
	if err != nil {
		return err
	}
	return WriteCSV(w, sheets)
}

func WriteCSV(w io.Writer, sheets []model.Sheet) error {
	questions := questionColumns(sheets)

	cw := csv.NewWriter(w)
	header := []string{
		"id", "template_id", "student_name", "roll_number", "exam_date",
		"correct", "wrong", "unanswered", "total", "percentage", "created_at",
	}
	for _, q := range questions {
		header = append(header, "Q"+q)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, sh := range sheets {
		row := []string{
			strconv.FormatInt(sh.ID, 10),
			strconv.FormatInt(sh.TemplateID, 10),
			deref(sh.StudentName),
			deref(sh.RollNumber),
			deref(sh.ExamDate),
			strconv.Itoa(sh.CorrectCount),
			strconv.Itoa(sh.WrongCount),
			strconv.Itoa(sh.UnansweredCount),
			strconv.Itoa(sh.TotalQuestions),
			sh.Percentage,
			sh.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		}
		for _, q := range questions {
			row = append(row, sh.Responses[q])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func questionColumns(sheets []model.Sheet) []string {
	seen := map[string]struct{}{}
	for _, sh := range sheets {
		for q := range sh.Responses {
			seen[q] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for q := range seen {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		a, errA := strconv.Atoi(out[i])
		b, errB := strconv.Atoi(out[j])
		if errA == nil && errB == nil {
			return a < b
		}
		if (errA == nil) != (errB == nil) {
			return errA == nil
		}
		return out[i] < out[j]
	})
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
