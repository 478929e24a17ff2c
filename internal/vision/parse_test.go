package vision

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emandor/omr_service/internal/model"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain", `{"a":1}`, `{"a":1}`, true},
		{"json fence", "Here you go:\n```json\n{\"a\":1}\n```\nthanks", `{"a":1}`, true},
		{"bare fence", "```\n{\"a\":2}\n```", `{"a":2}`, true},
		{"embedded", `The result is {"a":{"b":"}"}} as requested.`, `{"a":{"b":"}"}}`, true},
		{"prose braces first", `Marks use {A,B}; result: {"a":1}`, `{"a":1}`, true},
		{"unclosed prose brace", `see { below {"a":3}`, `{"a":3}`, true},
		{"no json", "I cannot read this image.", "", false},
		{"broken", `{"a":`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseReading(t *testing.T) {
	reply := "```json\n" + `{
		"student_name": "  Priya Nair ",
		"roll_number": 1042,
		"exam_date": "null",
		"other_details": {"class": "10-B"},
		"responses": {"1": "a", "Q2": ["B", "d"], "3": null, "4": " ", "x": "C", "5": "N/A"}
	}` + "\n```"

	r, err := ParseReading(reply)
	require.NoError(t, err)

	require.NotNil(t, r.StudentName)
	assert.Equal(t, "Priya Nair", *r.StudentName)
	require.NotNil(t, r.RollNumber)
	assert.Equal(t, "1042", *r.RollNumber)
	assert.Nil(t, r.ExamDate)
	assert.Equal(t, model.Details{"class": "10-B"}, r.OtherDetails)

	want := model.Answers{"1": "A", "2": "B,D", "3": "", "4": "", "5": ""}
	if diff := cmp.Diff(want, r.Responses); diff != "" {
		t.Errorf("responses mismatch (-want +got):\n%s", diff)
	}
}

func TestParseReadingUnparseable(t *testing.T) {
	_, err := ParseReading("sorry, the image is blurry")
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestParseKeyReading(t *testing.T) {
	k, err := ParseKeyReading(`{"answer_key": {"1": "B", "2": "c"}, "description": "Set A"}`)
	require.NoError(t, err)

	assert.Equal(t, model.Answers{"1": "B", "2": "C"}, k.AnswerKey)
	assert.Equal(t, 2, k.TotalQuestions, "falls back to the key size")
	require.NotNil(t, k.Description)
	assert.Equal(t, "Set A", *k.Description)
}

func TestParseNameFields(t *testing.T) {
	n, err := ParseNameFields(`{"student_name": "", "roll_number": "R-9"}`)
	require.NoError(t, err)
	assert.Nil(t, n.StudentName)
	require.NotNil(t, n.RollNumber)
	assert.Equal(t, "R-9", *n.RollNumber)
	assert.Nil(t, n.ExamDate)
}

func TestInRange(t *testing.T) {
	got := InRange(model.Answers{"9": "A", "11": "B", "20": "C", "21": "D"}, 11, 20)
	assert.Equal(t, model.Answers{"11": "B", "20": "C"}, got)
}

func TestBuildRangePrompt(t *testing.T) {
	p := BuildRangePrompt(11, 20, model.Answers{"1": "A", "12": "B"})
	assert.Contains(t, p, "questions 11 to 20")
	assert.Contains(t, p, `{"12":"B"}`)
	assert.NotContains(t, p, `"1":"A"`)
	assert.Contains(t, p, JSON_INSTRUCTION)
}
