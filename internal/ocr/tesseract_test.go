package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNameText(t *testing.T) {
	txt := "GOVT HIGH SCHOOL 2\nName: Meera Iyer\nRoll No. 23-B/7\nDate : 12/03/2024\n"

	n := ParseNameText(txt)
	require.NotNil(t, n.StudentName)
	assert.Equal(t, "Meera Iyer", *n.StudentName)
	require.NotNil(t, n.RollNumber)
	assert.Equal(t, "23-B/7", *n.RollNumber)
	require.NotNil(t, n.ExamDate)
	assert.Equal(t, "12/03/2024", *n.ExamDate)
}

func TestParseNameTextFallsBackToFirstWordLine(t *testing.T) {
	n := ParseNameText("  \n1234\nArjun K. Das\n")
	require.NotNil(t, n.StudentName)
	assert.Equal(t, "Arjun K. Das", *n.StudentName)
	assert.Nil(t, n.RollNumber)
	assert.Nil(t, n.ExamDate)
}
