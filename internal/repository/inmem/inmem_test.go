package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gradeflow/internal/model"
	"gradeflow/internal/repository"
)

func TestSheetRepoUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := NewSheetRepo()

	first := &model.AnswerSheet{ExamID: "e1", StudentID: "s1", IsActive: true}
	require.NoError(t, repo.Create(ctx, first))

	dup := &model.AnswerSheet{ExamID: "e1", StudentID: "s1", IsActive: true}
	assert.ErrorIs(t, repo.Create(ctx, dup), repository.ErrDuplicateSheet)

	// unmatched sheets coexist freely
	require.NoError(t, repo.Create(ctx, &model.AnswerSheet{ExamID: "e1", IsActive: true}))
	require.NoError(t, repo.Create(ctx, &model.AnswerSheet{ExamID: "e1", IsActive: true}))

	// other exam is fine
	require.NoError(t, repo.Create(ctx, &model.AnswerSheet{ExamID: "e2", StudentID: "s1", IsActive: true}))

	// soft-deleting frees the slot
	first.IsActive = false
	require.NoError(t, repo.Save(ctx, first))
	require.NoError(t, repo.Create(ctx, &model.AnswerSheet{ExamID: "e1", StudentID: "s1", IsActive: true}))
}

func TestSheetRepoOptimisticSave(t *testing.T) {
	ctx := context.Background()
	repo := NewSheetRepo()

	sheet := &model.AnswerSheet{ExamID: "e1", IsActive: true}
	require.NoError(t, repo.Create(ctx, sheet))

	a, _ := repo.GetByID(ctx, sheet.ID)
	b, _ := repo.GetByID(ctx, sheet.ID)

	a.AddFlag(model.FlagPoorQuality, model.SeverityMedium, "blurry", a.CreatedAt)
	require.NoError(t, repo.Save(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.ErrorMessage = "stale write"
	assert.ErrorIs(t, repo.Save(ctx, b), repository.ErrVersionConflict)

	got, _ := repo.GetByID(ctx, sheet.ID)
	assert.Equal(t, 1, got.FlagCount)
	assert.Empty(t, got.ErrorMessage)
}
