package omr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emandor/omr_service/internal/model"
)

func TestStoreTemplates(t *testing.T) {
	ctx := context.Background()
	st := NewStore(setupTestDB(t))
	st.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 15, 500, time.UTC) }

	tpl := model.Template{Name: "Unit test 1", TotalQuestions: 3, AnswerKey: model.Answers{"1": "A"}}
	require.NoError(t, st.CreateTemplate(ctx, &tpl))
	assert.NotZero(t, tpl.ID)

	got, err := st.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "Unit test 1", got.Name)
	assert.Nil(t, got.Description)
	assert.Equal(t, model.Answers{"1": "A"}, got.AnswerKey)
	assert.True(t, got.CreatedAt.Equal(time.Date(2024, 3, 1, 9, 30, 15, 0, time.UTC)))

	byName, err := st.FindTemplateByName(ctx, "Unit test 1")
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, byName.ID)

	_, err = st.FindTemplateByName(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := st.ListTemplates(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStoreDeleteTemplateInUse(t *testing.T) {
	ctx := context.Background()
	st := NewStore(setupTestDB(t))

	tpl := model.Template{Name: "T", TotalQuestions: 1, AnswerKey: model.Answers{"1": "A"}}
	require.NoError(t, st.CreateTemplate(ctx, &tpl))
	sh := model.Sheet{TemplateID: tpl.ID, Percentage: "0.00%"}
	require.NoError(t, st.CreateSheet(ctx, &sh))

	err := st.DeleteTemplate(ctx, tpl.ID)
	assert.ErrorIs(t, err, ErrTemplateInUse)

	require.NoError(t, st.DeleteSheet(ctx, sh.ID))
	require.NoError(t, st.DeleteTemplate(ctx, tpl.ID))
	assert.ErrorIs(t, st.DeleteTemplate(ctx, tpl.ID), ErrNotFound)
}

func TestStoreSheets(t *testing.T) {
	ctx := context.Background()
	st := NewStore(setupTestDB(t))

	a := model.Template{Name: "A", TotalQuestions: 2, AnswerKey: model.Answers{}}
	b := model.Template{Name: "B", TotalQuestions: 2, AnswerKey: model.Answers{}}
	require.NoError(t, st.CreateTemplate(ctx, &a))
	require.NoError(t, st.CreateTemplate(ctx, &b))

	s1 := model.Sheet{
		TemplateID:   a.ID,
		StudentName:  model.Ptr("Kiran"),
		Responses:    model.Answers{"1": "A", "2": ""},
		OtherDetails: model.Details{"processing_errors": []string{"Questions 11-20: timeout"}},
		ImagePath:    model.Ptr("/uploads/omr_1.png"),
		CorrectCount: 1, UnansweredCount: 1, TotalQuestions: 2, Percentage: "50.00%",
	}
	s2 := model.Sheet{TemplateID: b.ID, StudentName: model.Ptr(""), Percentage: "0.00%"}
	require.NoError(t, st.CreateSheet(ctx, &s1))
	require.NoError(t, st.CreateSheet(ctx, &s2))

	got, err := st.GetSheet(ctx, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Answers{"1": "A", "2": ""}, got.Responses)
	assert.Equal(t, []any{"Questions 11-20: timeout"}, got.OtherDetails["processing_errors"])
	assert.Equal(t, "50.00%", got.Percentage)
	require.NotNil(t, got.ImagePath)
	assert.Equal(t, "/uploads/omr_1.png", *got.ImagePath)

	all, err := st.ListSheets(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Nil(t, all[1].StudentName, "blank names read back as null")
	assert.Equal(t, model.Answers{}, all[1].Responses)

	onlyB, err := st.ListSheets(ctx, &b.ID)
	require.NoError(t, err)
	require.Len(t, onlyB, 1)
	assert.Equal(t, s2.ID, onlyB[0].ID)

	_, err = st.GetSheet(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.DeleteSheet(ctx, 999), ErrNotFound)
}

func TestStoreAnswerKeys(t *testing.T) {
	ctx := context.Background()
	st := NewStore(setupTestDB(t))

	k := model.AnswerKey{Name: "Set A", Description: model.Ptr("Mid-term"), AnswerKey: model.Answers{"1": "C"}}
	require.NoError(t, st.CreateAnswerKey(ctx, &k))

	got, err := st.GetAnswerKey(ctx, k.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Description)
	assert.Equal(t, "Mid-term", *got.Description)
	assert.Equal(t, model.Answers{"1": "C"}, got.AnswerKey)

	list, err := st.ListAnswerKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, st.DeleteAnswerKey(ctx, k.ID))
	_, err = st.GetAnswerKey(ctx, k.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
