package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"gradeflow/internal/cache"
	"gradeflow/internal/config"
	"gradeflow/internal/logger"
	"gradeflow/internal/model"
	"gradeflow/internal/scan"
)

// RollNumberDetector reads a roll number off a scanned sheet.
// Detect never fails; problems degrade to an empty roll number with confidence 0.
type RollNumberDetector interface {
	Detect(ctx context.Context, page *scan.Page) *model.RollNumberDetection
}

// rollNumberBackend turns a prepared file into raw text for ParseRollNumber
type rollNumberBackend interface {
	Name() string
	Read(ctx context.Context, file *InlineData, fileName string) (string, error)
}

// rollNumberNotFound is the sentinel the vision model is told to answer with
const rollNumberNotFound = "NOT_FOUND"

const rollNumberPrompt = `You are reading a scanned school exam answer sheet.
Find the student's roll number. It is usually written near the top of the first page,
next to a label such as "Roll No", "R.No" or "Reg No".

Respond with the digits of the roll number only, nothing else.
If no roll number is visible, respond with exactly: ` + rollNumberNotFound

// Detector is the RollNumberDetector used by the upload pipeline
type Detector struct {
	backend rollNumberBackend
	cache   cache.DetectionCache
}

// NewDetector selects the backend from cfg. cache may be nil.
func NewDetector(cfg *config.AIConfig, client VisionClient, detections cache.DetectionCache) *Detector {
	var backend rollNumberBackend = mockRollNumberBackend{}
	if cfg.DetectorBackend == config.DetectorGemini && client != nil {
		backend = &geminiRollNumberBackend{client: client, model: cfg.Models.RollNumber}
	}
	logger.Infof("[Detector] using %s backend", backend.Name())
	return &Detector{backend: backend, cache: detections}
}

// NewMockDetector reads roll numbers from file names
func NewMockDetector() *Detector {
	return &Detector{backend: mockRollNumberBackend{}}
}

// Detect runs the full detection for one already opened page
func (d *Detector) Detect(ctx context.Context, page *scan.Page) *model.RollNumberDetection {
	start := time.Now()
	det := d.detect(ctx, page)
	det.ProcessingTimeMs = time.Since(start).Milliseconds()
	return det
}

// DetectFile opens raw bytes and detects. Files that cannot be opened are UNREADABLE.
func (d *Detector) DetectFile(ctx context.Context, data []byte, fileName string) *model.RollNumberDetection {
	page, err := scan.Open(data, fileName)
	if err != nil {
		logger.Warnf("[Detector] cannot open %s: %v", fileName, err)
		return &model.RollNumberDetection{ImageQuality: model.ScanQualityUnreadable, Backend: d.backend.Name()}
	}
	return d.Detect(ctx, page)
}

func (d *Detector) detect(ctx context.Context, page *scan.Page) *model.RollNumberDetection {
	fileName := page.FileName
	hash := ContentHash(page.Data)
	if d.cache != nil {
		cached, err := d.cache.Get(ctx, hash)
		if err != nil {
			logger.Warnf("[Detector] cache lookup failed: %v", err)
		} else if cached != nil {
			logger.Debugf("[Detector] cache hit for %s", fileName)
			return cached
		}
	}

	failed := &model.RollNumberDetection{ImageQuality: model.ScanQualityPoor, Backend: d.backend.Name()}

	file, assessment, err := prepareForVision(page)
	if err != nil {
		logger.Warnf("[Detector] cannot prepare %s: %v", fileName, err)
		failed.ImageQuality = model.ScanQualityUnreadable
		return failed
	}

	text, err := d.backend.Read(ctx, file, fileName)
	if err != nil {
		logger.Warnf("[Detector] %s backend failed for %s: %v", d.backend.Name(), fileName, err)
		return failed
	}

	roll, confidence := ParseRollNumber(text)
	det := &model.RollNumberDetection{
		RollNumber:   roll,
		Confidence:   confidence,
		ImageQuality: assessment.Quality,
		IsAligned:    assessment.Aligned,
		Backend:      d.backend.Name(),
	}
	if det.Found() && d.cache != nil {
		if err := d.cache.Set(ctx, hash, det); err != nil {
			logger.Warnf("[Detector] cache store failed: %v", err)
		}
	}
	return det
}

// prepareForVision passes PDFs through untouched and normalizes raster images.
// PDFs are not rasterized, so they are assumed GOOD and aligned.
func prepareForVision(page *scan.Page) (*InlineData, scan.Assessment, error) {
	switch {
	case page.Format == scan.FormatPDF:
		return &InlineData{MimeType: page.Format.MIME(), Data: page.Data},
			scan.Assessment{Quality: model.ScanQualityGood, Aligned: true}, nil
	case page.Format.IsImage() && page.Image != nil:
		assessment := scan.Assess(page.Image)
		normalized, err := scan.Normalize(page.Image)
		if err != nil {
			return nil, scan.Assessment{}, err
		}
		return &InlineData{MimeType: scan.FormatJPEG.MIME(), Data: normalized}, assessment, nil
	}
	return nil, scan.Assessment{}, scan.ErrUnsupportedFormat
}

var (
	labeledRollPattern = regexp.MustCompile(`(?i)(?:roll\s*(?:no\.?|number|#)?|r\.\s*no\.?|reg(?:istration)?\s*(?:no\.?|number)?)\s*[:#.\-]?\s*(\d+)`)
	shortDigitsPattern = regexp.MustCompile(`\b\d{3,6}\b`)
	anyDigitsPattern   = regexp.MustCompile(`\d+`)
)

// ParseRollNumber extracts a roll number from model output. Rules are tried in order:
// the not-found sentinel, a labeled number (0.95), a bare 3-6 digit token (0.85),
// any digit run (0.6). Text with no digits yields ("", 0).
func ParseRollNumber(text string) (string, float64) {
	text = strings.TrimSpace(text)
	upper := strings.ToUpper(text)
	if text == "" || strings.Contains(upper, rollNumberNotFound) || strings.Contains(upper, "NOT FOUND") {
		return "", 0
	}
	if m := labeledRollPattern.FindStringSubmatch(text); m != nil {
		return m[1], 0.95
	}
	if m := shortDigitsPattern.FindString(text); m != "" {
		return m, 0.85
	}
	if m := anyDigitsPattern.FindString(text); m != "" {
		return m, 0.6
	}
	return "", 0
}

// ContentHash is the hex SHA-256 of data
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type geminiRollNumberBackend struct {
	client VisionClient
	model  string
}

func (b *geminiRollNumberBackend) Name() string { return config.DetectorGemini }

func (b *geminiRollNumberBackend) Read(ctx context.Context, file *InlineData, _ string) (string, error) {
	return b.client.Generate(ctx, b.model, rollNumberPrompt, file)
}

// mockRollNumberBackend treats the file name as the model's answer,
// so "roll_007.jpg" detects "007".
type mockRollNumberBackend struct{}

func (mockRollNumberBackend) Name() string { return config.DetectorMock }

func (mockRollNumberBackend) Read(_ context.Context, _ *InlineData, fileName string) (string, error) {
	name := fileName
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	return strings.NewReplacer("_", " ", "-", " ").Replace(name), nil
}
