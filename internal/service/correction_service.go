package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"gradeflow/internal/config"
	"gradeflow/internal/logger"
	"gradeflow/internal/model"
	"gradeflow/internal/scan"
)

// Corrector grades a sheet against an exam's answer key
type Corrector interface {
	Correct(ctx context.Context, exam *model.Exam, sheet *model.AnswerSheet, file []byte) (*model.AICorrection, error)
}

// NewCorrector selects the correction backend from cfg
func NewCorrector(cfg *config.AIConfig, client VisionClient) Corrector {
	if cfg.CorrectorBackend == config.DetectorGemini && client != nil {
		logger.Infof("[Corrector] using gemini backend (%s)", cfg.Models.Correction)
		return &GeminiCorrector{client: client, model: cfg.Models.Correction}
	}
	logger.Infof("[Corrector] using mock backend")
	return MockCorrector{}
}

// GeminiCorrector grades sheets with a vision model
type GeminiCorrector struct {
	client VisionClient
	model  string
}

// Correct sends the sheet and answer key to the model and normalizes the result.
// Unlike detection, failures are returned so the sheet can move to ERROR.
func (c *GeminiCorrector) Correct(ctx context.Context, exam *model.Exam, sheet *model.AnswerSheet, file []byte) (*model.AICorrection, error) {
	start := time.Now()
	page, err := scan.Open(file, sheet.OriginalFileName)
	if err != nil {
		return nil, fmt.Errorf("open sheet: %w", err)
	}
	attachment, _, err := prepareForVision(page)
	if err != nil {
		return nil, fmt.Errorf("prepare sheet: %w", err)
	}

	text, err := c.client.Generate(ctx, c.model, buildCorrectionPrompt(exam, sheet.Language), attachment)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	var result model.AICorrection
	if err := json.Unmarshal([]byte(extractJSON(text)), &result); err != nil {
		return nil, fmt.Errorf("unparseable correction response: %w", err)
	}
	if len(result.Questions) == 0 {
		return nil, fmt.Errorf("correction response has no questions")
	}
	normalizeCorrection(&result, exam)
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	return &result, nil
}

func buildCorrectionPrompt(exam *model.Exam, language string) string {
	var key strings.Builder
	for _, q := range exam.Questions {
		fmt.Fprintf(&key, "Q%d (%.2f marks): %s\nExpected answer: %s\n\n", q.Number, q.Marks, q.Text, q.CorrectAnswer)
	}
	if language == "" {
		language = "en"
	}
	return fmt.Sprintf(`You are grading a scanned school exam answer sheet. Return ONLY valid JSON matching this schema:
{
  "questions": [
    {
      "questionNumber": 1,
      "correctAnswer": "expected answer",
      "studentAnswer": "what the student wrote",
      "isCorrect": true,
      "marksAwarded": 0.0,
      "maxMarks": 0.0,
      "feedback": "short feedback",
      "confidence": 0.0 to 1.0
    }
  ],
  "overallFeedback": "one paragraph",
  "strengths": ["..."],
  "weaknesses": ["..."],
  "suggestions": ["..."],
  "confidence": 0.0 to 1.0
}

Exam: %s
Answer language: %s
Total marks: %.2f

Answer key:
%s
Award partial marks where the answer is partly right. Never award more than a question's marks.
If an answer is illegible, award 0 and say so in the feedback with a low confidence.`,
		exam.Title, language, exam.MaxMarks(), key.String())
}

// extractJSON strips markdown fences and any prose around the JSON object
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}

// normalizeCorrection clamps marks to the answer key and recomputes the totals
func normalizeCorrection(c *model.AICorrection, exam *model.Exam) {
	obtained := 0.0
	for i := range c.Questions {
		q := &c.Questions[i]
		if key, ok := exam.Question(q.QuestionNumber); ok {
			q.MaxMarks = key.Marks
			if q.CorrectAnswer == "" {
				q.CorrectAnswer = key.CorrectAnswer
			}
		}
		q.MarksAwarded = math.Max(0, q.MarksAwarded)
		if q.MaxMarks > 0 {
			q.MarksAwarded = math.Min(q.MarksAwarded, q.MaxMarks)
		}
		q.Confidence = clamp01(q.Confidence)
		obtained += q.MarksAwarded
	}
	if len(c.Questions) > 0 {
		c.ObtainedMarks = obtained
	}
	if total := exam.MaxMarks(); total > 0 {
		c.TotalMarks = total
	}
	c.ObtainedMarks = math.Max(0, c.ObtainedMarks)
	if c.TotalMarks > 0 {
		c.ObtainedMarks = math.Min(c.ObtainedMarks, c.TotalMarks)
	}
	c.ObtainedMarks = math.Round(c.ObtainedMarks*100) / 100
	if c.TotalMarks > 0 {
		c.Percentage = math.Round(c.ObtainedMarks/c.TotalMarks*10000) / 100
	}
	c.Confidence = clamp01(c.Confidence)
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// MockCorrector awards full marks on every question of the answer key
type MockCorrector struct{}

func (MockCorrector) Correct(_ context.Context, exam *model.Exam, _ *model.AnswerSheet, _ []byte) (*model.AICorrection, error) {
	c := &model.AICorrection{
		OverallFeedback: "Mock correction: no AI backend is configured.",
		Strengths:       []string{},
		Weaknesses:      []string{},
		Suggestions:     []string{},
		Confidence:      0.5,
	}
	for _, q := range exam.Questions {
		c.Questions = append(c.Questions, model.QuestionResult{
			QuestionNumber: q.Number,
			CorrectAnswer:  q.CorrectAnswer,
			StudentAnswer:  q.CorrectAnswer,
			IsCorrect:      true,
			MarksAwarded:   q.Marks,
			MaxMarks:       q.Marks,
			Feedback:       "Mock evaluation",
			Confidence:     0.5,
		})
	}
	normalizeCorrection(c, exam)
	return c, nil
}
