package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestComputeFlagStats(t *testing.T) {
	resolvedAt := t0.Add(time.Hour)
	tests := []struct {
		name         string
		flags        []SheetFlag
		wantCount    int
		wantCritical bool
		wantLast     *time.Time
		wantRate     float64
	}{
		{name: "no flags"},
		{
			name: "unresolved critical",
			flags: []SheetFlag{
				{Type: FlagUnmatchedRoll, Severity: SeverityCritical, DetectedAt: t0},
			},
			wantCount:    1,
			wantCritical: true,
			wantLast:     &t0,
		},
		{
			name: "resolved critical does not count",
			flags: []SheetFlag{
				{Type: FlagUnmatchedRoll, Severity: SeverityCritical, DetectedAt: t0, Resolved: true, ResolvedAt: &resolvedAt},
				{Type: FlagAlignmentIssue, Severity: SeverityLow, DetectedAt: t0.Add(time.Minute)},
			},
			wantCount: 2,
			wantLast:  ptr(t0.Add(time.Minute)),
			wantRate:  50,
		},
		{
			name: "last flagged ignores resolved flags",
			flags: []SheetFlag{
				{Type: FlagPoorQuality, Severity: SeverityMedium, DetectedAt: t0},
				{Type: FlagDuplicateUpload, Severity: SeverityHigh, DetectedAt: t0.Add(time.Hour), Resolved: true},
				{Type: FlagAlignmentIssue, Severity: SeverityLow, DetectedAt: t0.Add(time.Hour), Resolved: true},
			},
			wantCount: 3,
			wantLast:  &t0,
			wantRate:  66.67,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeFlagStats(tt.flags)
			assert.Equal(t, tt.wantCount, got.Count)
			assert.Equal(t, tt.wantCritical, got.HasCritical)
			assert.Equal(t, tt.wantRate, got.ResolutionRate)
			if tt.wantLast == nil {
				assert.Nil(t, got.LastFlaggedAt)
			} else {
				require.NotNil(t, got.LastFlaggedAt)
				assert.True(t, tt.wantLast.Equal(*got.LastFlaggedAt))
			}
		})
	}
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name  string
		sheet AnswerSheet
		want  SheetStatus
	}{
		{
			name:  "matched without flags stays uploaded",
			sheet: AnswerSheet{StudentID: "s1", Status: SheetStatusUploaded},
			want:  SheetStatusUploaded,
		},
		{
			name:  "unmatched is flagged",
			sheet: AnswerSheet{Status: SheetStatusUploaded},
			want:  SheetStatusFlagged,
		},
		{
			name: "low severity does not block",
			sheet: AnswerSheet{StudentID: "s1", Status: SheetStatusUploaded, Flags: []SheetFlag{
				{Type: FlagAlignmentIssue, Severity: SeverityLow, DetectedAt: t0},
			}},
			want: SheetStatusUploaded,
		},
		{
			name: "medium severity blocks",
			sheet: AnswerSheet{StudentID: "s1", Status: SheetStatusAICorrected, Flags: []SheetFlag{
				{Type: FlagPoorQuality, Severity: SeverityMedium, DetectedAt: t0},
			}},
			want: SheetStatusFlagged,
		},
		{
			name: "flagged reverts once flags resolve",
			sheet: AnswerSheet{StudentID: "s1", Status: SheetStatusFlagged, Flags: []SheetFlag{
				{Type: FlagUnmatchedRoll, Severity: SeverityCritical, DetectedAt: t0, Resolved: true},
			}},
			want: SheetStatusUploaded,
		},
		{
			name: "flagged reverts to manually reviewed",
			sheet: AnswerSheet{StudentID: "s1", Status: SheetStatusFlagged, AICorrection: &AICorrection{},
				ManualOverrides: []ManualOverride{{QuestionNumber: 1}}},
			want: SheetStatusManuallyReviewed,
		},
		{
			name: "terminal status untouched",
			sheet: AnswerSheet{Status: SheetStatusAbsent, Flags: []SheetFlag{
				{Type: FlagUnmatchedRoll, Severity: SeverityCritical, DetectedAt: t0},
			}},
			want: SheetStatusAbsent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.sheet
			s.Reconcile()
			assert.Equal(t, tt.want, s.Status)
			assert.Equal(t, len(s.Flags), s.FlagCount)
		})
	}
}

func TestResolveFlags(t *testing.T) {
	s := AnswerSheet{}
	s.AddFlag(FlagUnmatchedRoll, SeverityCritical, "no roll number", t0)
	s.AddFlag(FlagPoorQuality, SeverityMedium, "blurry", t0)

	n := s.ResolveFlags(FlagUnmatchedRoll, "teacher-1", true, t0.Add(time.Minute))
	assert.Equal(t, 1, n)
	assert.True(t, s.Flags[0].Resolved)
	assert.True(t, s.Flags[0].AutoResolved)
	assert.False(t, s.Flags[1].Resolved)

	assert.Equal(t, 0, s.ResolveFlags(FlagUnmatchedRoll, "teacher-1", true, t0))
}

func TestEffectiveResult(t *testing.T) {
	s := AnswerSheet{
		AICorrection: &AICorrection{
			TotalMarks: 20,
			Questions: []QuestionResult{
				{QuestionNumber: 1, MarksAwarded: 5, MaxMarks: 5},
				{QuestionNumber: 2, MarksAwarded: 2, MaxMarks: 5},
				{QuestionNumber: 3, MarksAwarded: 0, MaxMarks: 10},
			},
		},
		ManualOverrides: []ManualOverride{
			{QuestionNumber: 3, CorrectedMarks: 6, CorrectedAt: t0},
			{QuestionNumber: 3, CorrectedMarks: 8, CorrectedAt: t0.Add(time.Minute)},
		},
	}

	res := s.EffectiveResult(0)
	require.NotNil(t, res)
	assert.Equal(t, 15.0, res.ObtainedMarks)
	assert.Equal(t, 20.0, res.TotalMarks)
	assert.Equal(t, 75.0, res.Percentage)
	assert.True(t, res.Questions[2].Overridden)
	// the AI payload is left intact
	assert.Equal(t, 0.0, s.AICorrection.Questions[2].MarksAwarded)

	assert.Nil(t, (&AnswerSheet{}).EffectiveResult(10))
}

func ptr(t time.Time) *time.Time { return &t }
