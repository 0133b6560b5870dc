// Package storage persists uploaded answer-sheet files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"gradeflow/internal/config"
)

// ErrObjectNotFound is returned when a key has no stored object
var ErrObjectNotFound = errors.New("storage: object not found")

// StoredObject locates a persisted file
type StoredObject struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// ObjectStore is the file storage backend
type ObjectStore interface {
	// Store writes data under a fresh key derived from keyHint.
	Store(ctx context.Context, data []byte, keyHint, contentType string) (*StoredObject, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// New builds the backend selected in cfg
func New(cfg config.StorageConfig) (ObjectStore, error) {
	switch cfg.Backend {
	case "oss":
		return NewOSSStore(cfg)
	case "", "local":
		return NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// BuildKey turns a hint like "answer-sheets/<exam>/scan 01.PDF" into
// "answer-sheets/<exam>/2026/03/02/<uuid>-scan-01.pdf".
func BuildKey(keyHint string, now time.Time) string {
	dir, name := filepath.Split(filepath.ToSlash(keyHint))
	dir = strings.Trim(dir, "/")

	ext := strings.ToLower(filepath.Ext(name))
	base := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
	base = strings.Trim(unsafeChars.ReplaceAllString(base, "-"), "-")
	if base == "" {
		base = "file"
	}
	if len(base) > 60 {
		base = base[:60]
	}

	parts := []string{}
	if dir != "" {
		parts = append(parts, dir)
	}
	parts = append(parts, now.Format("2006/01/02"), uuid.New().String()+"-"+base+ext)
	return strings.Join(parts, "/")
}
