package service

import (
	"context"
	"math"
	"sort"
	"strings"

	"gradeflow/internal/model"
)

const (
	// AutoMatchThreshold is the similarity a fuzzy candidate needs to be matched without review
	AutoMatchThreshold = 0.7
	// CandidateThreshold is the similarity a roster entry needs to be offered as an alternative
	CandidateThreshold = 0.3
	// MaxAlternatives bounds the ranked candidates considered per detection
	MaxAlternatives = 3
)

// rosterSource resolves an exam to its class roster
type rosterSource interface {
	GetExam(ctx context.Context, examID string) (*model.Exam, error)
	ListActiveStudents(ctx context.Context, classID string) ([]*model.Student, error)
}

// StudentMatcher matches detected roll numbers against an exam's roster
type StudentMatcher struct {
	roster rosterSource
}

// NewStudentMatcher creates a matcher backed by the roster service
func NewStudentMatcher(roster rosterSource) *StudentMatcher {
	return &StudentMatcher{roster: roster}
}

// Match looks up the exam's active roster and matches rollNumber against it
func (m *StudentMatcher) Match(ctx context.Context, rollNumber, examID string, priorConfidence float64) (*model.StudentMatch, error) {
	exam, err := m.roster.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	return m.MatchExam(ctx, rollNumber, exam, priorConfidence)
}

// MatchExam is Match for an exam the caller already loaded
func (m *StudentMatcher) MatchExam(ctx context.Context, rollNumber string, exam *model.Exam, priorConfidence float64) (*model.StudentMatch, error) {
	students, err := m.roster.ListActiveStudents(ctx, exam.ClassID)
	if err != nil {
		return nil, err
	}
	return MatchRoster(rollNumber, students, priorConfidence), nil
}

// NormalizeRollNumber trims whitespace and leading zeros; an all-zero number stays "0".
func NormalizeRollNumber(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

// Similarity is the share of positions holding the same character, over the longer length.
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 0
	}
	same := 0
	for i := 0; i < len(ra) && i < len(rb); i++ {
		if ra[i] == rb[i] {
			same++
		}
	}
	return float64(same) / float64(longest)
}

// MatchRoster is the deterministic matching rule. Exact matches (after normalization)
// win with min(prior+0.1, 1). Otherwise the best positional-similarity candidate is
// matched only above AutoMatchThreshold; the confidence is always the top similarity.
// roster order breaks ties, so callers pass it sorted.
func MatchRoster(rollNumber string, roster []*model.Student, priorConfidence float64) *model.StudentMatch {
	result := &model.StudentMatch{Alternatives: []model.StudentCandidate{}}
	query := NormalizeRollNumber(rollNumber)
	if query == "" {
		return result
	}

	var exact []model.StudentCandidate
	for _, s := range roster {
		if NormalizeRollNumber(s.RollNumber) == query {
			exact = append(exact, candidate(s, 1))
		}
	}
	if len(exact) > 0 {
		matched := exact[0]
		result.MatchedStudent = &matched
		result.ExactMatch = true
		result.Confidence = math.Min(priorConfidence+0.1, 1.0)
		// Two roster entries normalizing to the same number are surfaced for review.
		for _, c := range exact[1:] {
			if len(result.Alternatives) == MaxAlternatives-1 {
				break
			}
			result.Alternatives = append(result.Alternatives, c)
		}
		return result
	}

	var candidates []model.StudentCandidate
	for _, s := range roster {
		sim := Similarity(query, NormalizeRollNumber(s.RollNumber))
		if sim > CandidateThreshold {
			candidates = append(candidates, candidate(s, sim))
		}
	}
	if len(candidates) == 0 {
		return result
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if len(candidates) > MaxAlternatives {
		candidates = candidates[:MaxAlternatives]
	}

	top := candidates[0]
	result.Confidence = top.Similarity
	if top.Similarity > AutoMatchThreshold {
		result.MatchedStudent = &top
		candidates = candidates[1:]
	}
	result.Alternatives = append(result.Alternatives, candidates...)
	return result
}

func candidate(s *model.Student, similarity float64) model.StudentCandidate {
	return model.StudentCandidate{
		StudentID:  s.ID,
		Name:       s.Name,
		RollNumber: s.RollNumber,
		Similarity: math.Round(similarity*1000) / 1000,
	}
}
