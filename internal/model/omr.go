package model

import (
	"strings"
	"time"
)

type Template struct {
	ID             int64     `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Description    *string   `db:"description" json:"description"`
	TotalQuestions int       `db:"total_questions" json:"total_questions"`
	AnswerKey      Answers   `db:"answer_key" json:"answer_key"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

type AnswerKey struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description"`
	AnswerKey   Answers   `db:"answer_key" json:"answer_key"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

type Sheet struct {
	ID              int64     `db:"id" json:"id"`
	TemplateID      int64     `db:"template_id" json:"template_id"`
	StudentName     *string   `db:"student_name" json:"student_name"`
	RollNumber      *string   `db:"roll_number" json:"roll_number"`
	ExamDate        *string   `db:"exam_date" json:"exam_date"`
	OtherDetails    Details   `db:"other_details" json:"other_details"`
	Responses       Answers   `db:"responses" json:"responses"`
	ImagePath       *string   `db:"image_path" json:"image_path"`
	CorrectCount    int       `db:"correct_count" json:"correct_count"`
	WrongCount      int       `db:"wrong_count" json:"wrong_count"`
	UnansweredCount int       `db:"unanswered_count" json:"unanswered_count"`
	TotalQuestions  int       `db:"total_questions" json:"total_questions"`
	Percentage      string    `db:"percentage" json:"percentage"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Normalize fills defaults for rows written by older clients.
func (s *Sheet) Normalize() {
	s.StudentName = NullIfBlank(s.StudentName)
	if s.Responses == nil {
		s.Responses = Answers{}
	}
	if s.OtherDetails == nil {
		s.OtherDetails = Details{}
	}
	if s.Percentage == "" {
		s.Percentage = "0%"
	}
}

// NameFields are the handwritten identity fields of a sheet.
type NameFields struct {
	StudentName *string `json:"student_name"`
	RollNumber  *string `json:"roll_number"`
	ExamDate    *string `json:"exam_date"`
}

// Normalize trims every field and turns blanks into nil.
func (n NameFields) Normalize() NameFields {
	return NameFields{
		StudentName: NullIfBlank(n.StudentName),
		RollNumber:  NullIfBlank(n.RollNumber),
		ExamDate:    NullIfBlank(n.ExamDate),
	}
}

// Override returns n with every non-blank field of o taking precedence.
func (n NameFields) Override(o NameFields) NameFields {
	n, o = n.Normalize(), o.Normalize()
	if o.StudentName != nil {
		n.StudentName = o.StudentName
	}
	if o.RollNumber != nil {
		n.RollNumber = o.RollNumber
	}
	if o.ExamDate != nil {
		n.ExamDate = o.ExamDate
	}
	return n
}

// Reading is one parsed model reply for a sheet or part of one.
type Reading struct {
	NameFields
	OtherDetails Details `json:"other_details"`
	Responses    Answers `json:"responses"`
}

// KeyReading is a parsed model reply for an answer-key image.
type KeyReading struct {
	AnswerKey      Answers `json:"answer_key"`
	TotalQuestions int     `json:"total_questions"`
	Description    *string `json:"description"`
}

func NullIfBlank(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func Ptr(s string) *string { return &s }
