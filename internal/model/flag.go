package model

import (
	"math"
	"time"
)

// FlagType names an exception condition on a sheet
type FlagType string

const (
	FlagUnmatchedRoll        FlagType = "UNMATCHED_ROLL"
	FlagPoorQuality          FlagType = "POOR_QUALITY"
	FlagMissingPages         FlagType = "MISSING_PAGES"
	FlagAlignmentIssue       FlagType = "ALIGNMENT_ISSUE"
	FlagDuplicateUpload      FlagType = "DUPLICATE_UPLOAD"
	FlagInvalidFormat        FlagType = "INVALID_FORMAT"
	FlagSizeTooLarge         FlagType = "SIZE_TOO_LARGE"
	FlagCorruptedFile        FlagType = "CORRUPTED_FILE"
	FlagManualReviewRequired FlagType = "MANUAL_REVIEW_REQUIRED"
)

// FlagSeverity orders flags by urgency
type FlagSeverity string

const (
	SeverityLow      FlagSeverity = "LOW"
	SeverityMedium   FlagSeverity = "MEDIUM"
	SeverityHigh     FlagSeverity = "HIGH"
	SeverityCritical FlagSeverity = "CRITICAL"
)

// Rank returns a comparable weight, 0 for unknown severities
func (s FlagSeverity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// SheetFlag is a recorded exception on a sheet
type SheetFlag struct {
	Type         FlagType     `json:"type" bson:"type"`
	Severity     FlagSeverity `json:"severity" bson:"severity"`
	Description  string       `json:"description" bson:"description"`
	DetectedAt   time.Time    `json:"detectedAt" bson:"detectedAt"`
	Resolved     bool         `json:"resolved" bson:"resolved"`
	ResolvedBy   string       `json:"resolvedBy,omitempty" bson:"resolvedBy,omitempty"`
	ResolvedAt   *time.Time   `json:"resolvedAt,omitempty" bson:"resolvedAt,omitempty"`
	AutoResolved bool         `json:"autoResolved" bson:"autoResolved"`
}

func (f *SheetFlag) resolve(by string, auto bool, now time.Time) {
	f.Resolved = true
	f.ResolvedBy = by
	f.ResolvedAt = &now
	f.AutoResolved = auto
}

// Resolve marks the flag resolved by a user
func (f *SheetFlag) Resolve(by string, now time.Time) {
	f.resolve(by, false, now)
}

// FlagStats are the fields derived from a flag list
type FlagStats struct {
	Count          int
	HasCritical    bool
	LastFlaggedAt  *time.Time
	ResolutionRate float64 // percentage of flags resolved
}

// ComputeFlagStats derives the summary fields from flags without side effects.
func ComputeFlagStats(flags []SheetFlag) FlagStats {
	stats := FlagStats{Count: len(flags)}
	resolved := 0
	for i := range flags {
		f := flags[i]
		if f.Resolved {
			resolved++
			continue
		}
		if f.Severity == SeverityCritical {
			stats.HasCritical = true
		}
		if stats.LastFlaggedAt == nil || f.DetectedAt.After(*stats.LastFlaggedAt) {
			at := f.DetectedAt
			stats.LastFlaggedAt = &at
		}
	}
	if stats.Count > 0 {
		stats.ResolutionRate = math.Round(float64(resolved)/float64(stats.Count)*10000) / 100
	}
	return stats
}

// ApplyFlagStats stores freshly computed flag stats on the sheet.
func ApplyFlagStats(s *AnswerSheet) {
	stats := ComputeFlagStats(s.Flags)
	s.FlagCount = stats.Count
	s.HasCriticalFlags = stats.HasCritical
	s.LastFlaggedAt = stats.LastFlaggedAt
	s.FlagResolutionRate = stats.ResolutionRate
}

// HasBlockingFlags reports whether an unresolved flag of MEDIUM severity or above exists
func HasBlockingFlags(flags []SheetFlag) bool {
	for _, f := range flags {
		if !f.Resolved && f.Severity.Rank() >= SeverityMedium.Rank() {
			return true
		}
	}
	return false
}
