package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildKey(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name       string
		hint       string
		wantPrefix string
		wantSuffix string
	}{
		{"folder and name", "answer-sheets/exam-1/Scan 01.PDF", "answer-sheets/exam-1/2026/03/02/", "-scan-01.pdf"},
		{"bare name", "sheet.png", "2026/03/02/", "-sheet.png"},
		{"empty base", "answer-sheets/.pdf", "answer-sheets/2026/03/02/", "-file.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := BuildKey(tt.hint, now)
			assert.True(t, strings.HasPrefix(key, tt.wantPrefix), key)
			assert.True(t, strings.HasSuffix(key, tt.wantSuffix), key)
		})
	}

	assert.NotEqual(t, BuildKey("a.pdf", now), BuildKey("a.pdf", now))
}

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://files.test/")
	require.NoError(t, err)
	ctx := context.Background()

	obj, err := store.Store(ctx, []byte("%PDF-1.4"), "answer-sheets/e1/a.pdf", "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "http://files.test/"+obj.Key, obj.URL)

	data, err := store.Fetch(ctx, obj.Key)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), data)

	require.NoError(t, store.Delete(ctx, obj.Key))
	_, err = store.Fetch(ctx, obj.Key)
	assert.ErrorIs(t, err, ErrObjectNotFound)

	_, err = store.Fetch(ctx, "../../etc/passwd")
	assert.Error(t, err)
}
