package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Answers maps a question number ("1", "2", ...) to a choice ("A", "B,C", "").
type Answers map[string]string

func (a Answers) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *Answers) Scan(src any) error {
	out := Answers{}
	if err := scanJSON(src, &out); err != nil {
		return fmt.Errorf("answers: %w", err)
	}
	*a = out
	return nil
}

// Details holds free-form sheet details such as processing errors.
type Details map[string]any

func (d Details) Value() (driver.Value, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (d *Details) Scan(src any) error {
	out := Details{}
	if err := scanJSON(src, &out); err != nil {
		return fmt.Errorf("details: %w", err)
	}
	*d = out
	return nil
}

func scanJSON(src any, dst any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T", src)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}
