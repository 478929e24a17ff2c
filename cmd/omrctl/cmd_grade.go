package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/emandor/omr_service/internal/config"
	"github.com/emandor/omr_service/internal/model"
	"github.com/emandor/omr_service/internal/omr"
)

var gradeKeyFile string

// GradeReport is what "grade" prints.
type GradeReport struct {
	StudentName string        `yaml:"student_name,omitempty"`
	RollNumber  string        `yaml:"roll_number,omitempty"`
	ExamDate    string        `yaml:"exam_date,omitempty"`
	Correct     int           `yaml:"correct"`
	Wrong       int           `yaml:"wrong"`
	Unanswered  int           `yaml:"unanswered"`
	Total       int           `yaml:"total"`
	Percentage  string        `yaml:"percentage"`
	Responses   model.Answers `yaml:"responses"`
}

var gradeCmd = &cobra.Command{
	Use:   "grade IMAGE",
	Short: "Read a sheet photo and grade it against a YAML key, without storing anything",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kf, err := readKeyFile(gradeKeyFile)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		r, err := newReader(cmd.Context(), config.LoadNoDB())
		if err != nil {
			return err
		}
		rd, err := r.ReadSheet(cmd.Context(), data, kf.AnswerKey)
		if err != nil {
			return err
		}
		return writeYAML(cmd.OutOrStdout(), report(rd, kf))
	},
}

func report(rd model.Reading, kf KeyFile) GradeReport {
	sc := omr.Grade(kf.AnswerKey, rd.Responses, kf.TotalQuestions)
	nf := rd.NameFields.Normalize()
	return GradeReport{
		StudentName: deref(nf.StudentName),
		RollNumber:  deref(nf.RollNumber),
		ExamDate:    deref(nf.ExamDate),
		Correct:     sc.Correct,
		Wrong:       sc.Wrong,
		Unanswered:  sc.Unanswered,
		Total:       sc.Total,
		Percentage:  sc.Percentage,
		Responses:   rd.Responses,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func init() {
	gradeCmd.Flags().StringVar(&gradeKeyFile, "key", "", "YAML answer key file")
	_ = gradeCmd.MarkFlagRequired("key")
}
