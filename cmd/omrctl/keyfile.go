package main

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/emandor/omr_service/internal/model"
)

// KeyFile is the YAML form of an answer key:
//
//	name: Physics mid-term
//	description: Set A
//	answer_key:
//	  "1": A
//	  "2": C
type KeyFile struct {
	Name           string        `yaml:"name"`
	Description    string        `yaml:"description,omitempty"`
	TotalQuestions int           `yaml:"total_questions,omitempty"`
	AnswerKey      model.Answers `yaml:"answer_key"`
}

func readKeyFile(path string) (KeyFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return KeyFile{}, err
	}
	return parseKeyFile(b)
}

func parseKeyFile(b []byte) (KeyFile, error) {
	var kf KeyFile
	if err := yaml.Unmarshal(b, &kf); err != nil {
		return KeyFile{}, errors.Wrap(err, "parse key file")
	}
	if len(kf.AnswerKey) == 0 {
		return KeyFile{}, errors.New("key file has no answer_key entries")
	}
	for q, a := range kf.AnswerKey {
		kf.AnswerKey[q] = strings.ToUpper(strings.TrimSpace(a))
	}
	if kf.TotalQuestions <= 0 {
		kf.TotalQuestions = len(kf.AnswerKey)
	}
	return kf, nil
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
