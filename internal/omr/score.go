package omr

import (
	"fmt"
	"strings"

	"github.com/emandor/omr_service/internal/model"
)

// Score is the outcome of grading one sheet.
type Score struct {
	Correct    int
	Wrong      int
	Unanswered int
	Total      int
	Percentage string
}

// Grade compares responses with key. Responses to questions the key does not
// contain are ignored; blank responses and questions never answered both
// count as unanswered.
func Grade(key, responses model.Answers, total int) Score {
	s := Score{Total: total}
	for q, got := range responses {
		want, ok := key[q]
		if !ok {
			continue
		}
		got = strings.TrimSpace(got)
		switch {
		case got == "":
		case strings.EqualFold(got, strings.TrimSpace(want)):
			s.Correct++
		default:
			s.Wrong++
		}
	}
	s.Unanswered = max(0, total-s.Correct-s.Wrong)
	s.Percentage = Percentage(s.Correct, total)
	return s
}

// Percentage formats correct/total as "87.50%".
func Percentage(correct, total int) string {
	if total <= 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", float64(correct)/float64(total)*100)
}
