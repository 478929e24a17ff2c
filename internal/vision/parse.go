package vision

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/emandor/omr_service/internal/model"
)

// ErrUnparseable means the model reply held no JSON object.
var ErrUnparseable = errors.New("model reply is not valid JSON")

// ExtractJSON finds the JSON object in a model reply.
// Priorities: whole reply -> ```json fence -> any fence -> first balanced object.
func ExtractJSON(content string) (string, bool) {
	s := strings.TrimSpace(content)
	if isObject(s) {
		return s, true
	}
	for _, rx := range []*regexp.Regexp{rxFenceJSON, rxFenceAny} {
		if m := rx.FindStringSubmatch(s); len(m) > 1 && isObject(strings.TrimSpace(m[1])) {
			return strings.TrimSpace(m[1]), true
		}
	}
	if o := extractFirstJSONObject(s); o != "" && isObject(o) {
		return o, true
	}
	return "", false
}

func isObject(s string) bool {
	return strings.HasPrefix(s, "{") && gjson.Valid(s)
}

var (
	rxFenceJSON = regexp.MustCompile("(?is)```json\\s*(.*?)\\s*```")
	rxFenceAny  = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")
)

// extractFirstJSONObject returns the first brace-balanced block that is a
// valid JSON object, skipping braces inside strings.
func extractFirstJSONObject(s string) string {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if o := balancedFrom(s, start); o != "" && isObject(o) {
			return o
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return ""
}

func balancedFrom(s string, start int) string {
	level := 0
	inStr, esc := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case ch == '\\':
				esc = true
			case ch == '"':
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '{':
			level++
		case '}':
			level--
			if level == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func parseObject(text string) (gjson.Result, error) {
	s, ok := ExtractJSON(text)
	if !ok {
		return gjson.Result{}, errors.Wrapf(ErrUnparseable, "reply preview: %q", truncate(strings.TrimSpace(text), 200))
	}
	return gjson.Parse(s), nil
}

// ParseReading turns a sheet/region/range reply into a Reading.
func ParseReading(text string) (model.Reading, error) {
	obj, err := parseObject(text)
	if err != nil {
		return model.Reading{}, err
	}
	r := model.Reading{
		NameFields:   parseNameObject(obj),
		OtherDetails: model.Details{},
		Responses:    parseChoices(obj.Get("responses")),
	}
	if d, ok := obj.Get("other_details").Value().(map[string]any); ok {
		r.OtherDetails = d
	}
	return r, nil
}

// ParseKeyReading turns an answer-key reply into a KeyReading. total_questions
// falls back to the number of keys when the model leaves it out.
func ParseKeyReading(text string) (model.KeyReading, error) {
	obj, err := parseObject(text)
	if err != nil {
		return model.KeyReading{}, err
	}
	k := model.KeyReading{
		AnswerKey:      parseChoices(obj.Get("answer_key")),
		TotalQuestions: int(obj.Get("total_questions").Int()),
		Description:    optionalString(obj.Get("description")),
	}
	if k.TotalQuestions <= 0 {
		k.TotalQuestions = len(k.AnswerKey)
	}
	return k, nil
}

// ParseNameFields turns a name-extraction reply into NameFields.
func ParseNameFields(text string) (model.NameFields, error) {
	obj, err := parseObject(text)
	if err != nil {
		return model.NameFields{}, err
	}
	return parseNameObject(obj), nil
}

func parseNameObject(obj gjson.Result) model.NameFields {
	return model.NameFields{
		StudentName: optionalString(obj.Get("student_name")),
		RollNumber:  optionalString(obj.Get("roll_number")),
		ExamDate:    optionalString(obj.Get("exam_date")),
	}
}

// parseChoices reads a {"1": "A", ...} object. Keys are normalized to plain
// question numbers; values are coerced to choice strings.
func parseChoices(res gjson.Result) model.Answers {
	out := model.Answers{}
	if !res.IsObject() {
		return out
	}
	res.ForEach(func(k, v gjson.Result) bool {
		n, ok := questionNumber(k.String())
		if !ok {
			return true
		}
		out[strconv.Itoa(n)] = choice(v)
		return true
	})
	return out
}

// choice: null -> "", ["a","c"] -> "A,C", " b " -> "B".
func choice(v gjson.Result) string {
	switch {
	case v.IsArray():
		var parts []string
		for _, it := range v.Array() {
			if c := choice(it); c != "" {
				parts = append(parts, c)
			}
		}
		return strings.Join(parts, ",")
	case v.Type == gjson.String:
		s := strings.ToUpper(strings.TrimSpace(v.String()))
		if isNullWord(s) {
			return ""
		}
		return s
	case v.Type == gjson.Number:
		return v.Raw
	default:
		return ""
	}
}

func optionalString(v gjson.Result) *string {
	var s string
	switch v.Type {
	case gjson.String:
		s = strings.TrimSpace(v.String())
	case gjson.Number:
		s = v.Raw
	default:
		return nil
	}
	if s == "" || isNullWord(strings.ToUpper(s)) {
		return nil
	}
	return &s
}

func isNullWord(s string) bool {
	switch s {
	case "NULL", "NONE", "N/A", "NA", "UNANSWERED", "BLANK", "-":
		return true
	}
	return false
}

// questionNumber accepts "7", " 7 ", "Q7" and "q.7".
func questionNumber(q string) (int, bool) {
	q = strings.TrimSpace(q)
	q = strings.TrimLeft(q, "Qq. ")
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// InRange drops every response outside first..last.
func InRange(a model.Answers, first, last int) model.Answers {
	out := model.Answers{}
	for q, v := range a {
		if n, ok := questionNumber(q); ok && n >= first && n <= last {
			out[q] = v
		}
	}
	return out
}
