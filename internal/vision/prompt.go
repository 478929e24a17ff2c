package vision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/emandor/omr_service/internal/model"
)

// instruction appended to every prompt so replies stay machine readable.
const JSON_INSTRUCTION = `Return ONLY a JSON object. No Markdown, no code fences, no extra text. Use null for anything you cannot read.`

const sheetPrompt = `Analyze this OMR (Optical Mark Recognition) sheet image and extract the following information:

1. Student/Exam Details:
   - Name
   - Roll Number
   - Exam Date (if visible)
   - Any other identifying information

2. Question Responses:
   - For each question, identify which option (A, B, C, D, etc.) is marked
   - If multiple options are marked, list all of them, e.g. "A,C"
   - If no option is marked, use an empty string

3. Return the result as a JSON object with the following structure:
{
  "student_name": "extracted name or null",
  "roll_number": "extracted roll number or null",
  "exam_date": "extracted date or null",
  "other_details": {"any additional fields": "values"},
  "responses": {"1": "A", "2": "B", "3": ""}
}

Focus on accuracy. If a bubble looks partially filled or unclear, mention it in other_details.`

const answerKeyPrompt = `Analyze this OMR sheet image which contains the answer key (the correct answers).

Extract the marked answer for each question and return a JSON object:
{
  "answer_key": {"1": "A", "2": "B", "3": "C"},
  "total_questions": <number>,
  "description": "brief description if visible, else null"
}`

const namePrompt = `Extract ONLY the student's name, roll number and exam date from this cropped exam image.
Return strict JSON: {"student_name": string | null, "roll_number": string | null, "exam_date": string | null}.
If uncertain, use null.`

const regionPrompt = `Analyze this cropped OMR region and extract question responses.
There are 50 questions laid out in 5 columns of 10. Compare the grey shading of every bubble carefully; a filled bubble is clearly darker than its neighbours.
Return strict JSON: {"responses": {"1": "A", "2": "", ...}} mapping every question number to the selected option, "" when none is marked and "A,C" when several are.`

const rangePrompt = `Analyze this cropped OMR strip. It contains ONLY questions %d to %d, one row per question, top to bottom.
For every question in that range identify the filled bubble by its grey shading.
Return strict JSON: {"responses": {"%d": "A", ...}} with exactly the keys %d..%d, "" when no option is marked and "A,C" when several are.`

func BuildSheetPrompt(key model.Answers) string {
	return withKey(sheetPrompt, key)
}

func BuildAnswerKeyPrompt() string {
	return answerKeyPrompt + "\n\n" + JSON_INSTRUCTION
}

func BuildNamePrompt() string {
	return namePrompt + "\n\n" + JSON_INSTRUCTION
}

func BuildRegionPrompt(key model.Answers) string {
	return withKey(regionPrompt, key)
}

func BuildRangePrompt(first, last int, key model.Answers) string {
	p := fmt.Sprintf(rangePrompt, first, last, first, first, last)
	return withKey(p, subset(key, first, last))
}

// withKey appends the answer key as a reference so the model knows which
// question numbers and options to expect.
func withKey(prompt string, key model.Answers) string {
	var b strings.Builder
	b.WriteString(prompt)
	if len(key) > 0 {
		k, _ := json.Marshal(key)
		b.WriteString("\n\nTemplate Answer Key (for reference): ")
		b.Write(k)
	}
	b.WriteString("\n\n")
	b.WriteString(JSON_INSTRUCTION)
	return b.String()
}

func subset(key model.Answers, first, last int) model.Answers {
	if len(key) == 0 {
		return nil
	}
	out := model.Answers{}
	for q, v := range key {
		if n, ok := questionNumber(q); ok && n >= first && n <= last {
			out[q] = v
		}
	}
	return out
}
