package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"gradeflow/internal/model"
)

// testDB connects to MONGO_TEST_URI and returns a throwaway database.
func testDB(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set, skipping MongoDB integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))

	db := client.Database(fmt.Sprintf("gradeflow_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		db.Drop(context.Background())
		client.Disconnect(context.Background())
	})
	return db
}

func TestSheetRepoConcurrentUploadsForSameStudent(t *testing.T) {
	repo := NewSheetRepo(testDB(t))
	ctx := context.Background()

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.Create(ctx, &model.AnswerSheet{
				ExamID:     "exam-1",
				StudentID:  "student-1",
				StorageKey: fmt.Sprintf("answer-sheets/exam-1/%d.pdf", i),
				Status:     model.SheetStatusUploaded,
				IsActive:   true,
				UploadedAt: time.Now(),
			})
		}(i)
	}
	wg.Wait()

	ok, conflicts := 0, 0
	for _, err := range errs {
		switch err {
		case nil:
			ok++
		case ErrDuplicateSheet:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, racers-1, conflicts)
}

func TestSheetRepoUnmatchedSheetsCoexist(t *testing.T) {
	repo := NewSheetRepo(testDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, &model.AnswerSheet{
			ExamID:     "exam-1",
			StorageKey: fmt.Sprintf("k-%d", i),
			Status:     model.SheetStatusFlagged,
			IsActive:   true,
		}))
	}
	list, err := repo.List(ctx, SheetFilter{ExamID: "exam-1"})
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestSheetRepoRoundTripRecomputesFlags(t *testing.T) {
	repo := NewSheetRepo(testDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	sheet := &model.AnswerSheet{ExamID: "exam-1", IsActive: true, Status: model.SheetStatusFlagged}
	sheet.AddFlag(model.FlagUnmatchedRoll, model.SeverityCritical, "no roll number detected", now)
	sheet.AddFlag(model.FlagAlignmentIssue, model.SeverityLow, "rotated", now.Add(time.Second))
	sheet.Flags[1].Resolve("teacher-1", now.Add(time.Minute))
	sheet.FlagCount = 99 // stale on purpose

	require.NoError(t, repo.Create(ctx, sheet))

	got, err := repo.GetByID(ctx, sheet.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	want := model.ComputeFlagStats(got.Flags)
	assert.Len(t, got.Flags, 2)
	assert.Equal(t, want.Count, got.FlagCount)
	assert.Equal(t, want.HasCritical, got.HasCriticalFlags)
	assert.Equal(t, want.ResolutionRate, got.FlagResolutionRate)
	assert.Equal(t, sheet.Flags[0].Description, got.Flags[0].Description)
}

func TestSheetRepoSaveDetectsLostUpdate(t *testing.T) {
	repo := NewSheetRepo(testDB(t))
	ctx := context.Background()

	sheet := &model.AnswerSheet{ExamID: "exam-1", StudentID: "s1", IsActive: true, Status: model.SheetStatusUploaded}
	require.NoError(t, repo.Create(ctx, sheet))

	a, _ := repo.GetByID(ctx, sheet.ID)
	b, _ := repo.GetByID(ctx, sheet.ID)

	a.Status = model.SheetStatusProcessing
	require.NoError(t, repo.Save(ctx, a))

	b.Status = model.SheetStatusError
	assert.ErrorIs(t, repo.Save(ctx, b), ErrVersionConflict)
}
