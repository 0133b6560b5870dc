package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"gradeflow/internal/config"
	"gradeflow/internal/logger"
)

// OSSStore keeps files in an Alibaba Cloud OSS bucket
type OSSStore struct {
	bucket     *oss.Bucket
	endpoint   string
	bucketName string
	prefix     string
	publicBase string
}

// NewOSSStore connects to the configured bucket
func NewOSSStore(cfg config.StorageConfig) (*OSSStore, error) {
	if cfg.OSSEndpoint == "" || cfg.OSSAccessKey == "" || cfg.OSSSecretKey == "" || cfg.OSSBucket == "" {
		return nil, fmt.Errorf("storage: missing OSS_ENDPOINT/OSS_ACCESS_KEY_ID/OSS_ACCESS_KEY_SECRET/OSS_BUCKET_NAME")
	}

	client, err := oss.New(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey)
	if err != nil {
		return nil, fmt.Errorf("oss.New: %w", err)
	}
	bkt, err := client.Bucket(cfg.OSSBucket)
	if err != nil {
		return nil, fmt.Errorf("client.Bucket: %w", err)
	}

	if loc, err := client.GetBucketLocation(cfg.OSSBucket); err != nil {
		if se, ok := err.(oss.ServiceError); ok && se.StatusCode == 403 {
			logger.Warnf("[OSS] skip location check due to AccessDenied (bucket=%s)", cfg.OSSBucket)
		} else {
			return nil, fmt.Errorf("verify bucket: %w", err)
		}
	} else {
		logger.Infof("[OSS] bucket %s location: %s", cfg.OSSBucket, loc)
	}

	return &OSSStore{
		bucket:     bkt,
		endpoint:   cfg.OSSEndpoint,
		bucketName: cfg.OSSBucket,
		prefix:     strings.Trim(cfg.OSSPrefix, "/"),
		publicBase: strings.TrimRight(cfg.OSSPublicBase, "/"),
	}, nil
}

func (s *OSSStore) Store(ctx context.Context, data []byte, keyHint, contentType string) (*StoredObject, error) {
	key := BuildKey(keyHint, time.Now())
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}

	opts := []oss.Option{
		oss.WithContext(ctx),
		oss.ContentType(contentType),
		oss.ContentDisposition("inline"),
	}
	if err := s.bucket.PutObject(key, bytes.NewReader(data), opts...); err != nil {
		return nil, fmt.Errorf("oss put %s: %w", key, err)
	}
	return &StoredObject{Key: key, URL: s.PublicURL(key)}, nil
}

func (s *OSSStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	body, err := s.bucket.GetObject(key, oss.WithContext(ctx))
	if err != nil {
		if se, ok := err.(oss.ServiceError); ok && se.StatusCode == 404 {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("oss get %s: %w", key, err)
	}
	defer body.Close()
	return io.ReadAll(body)
}

func (s *OSSStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.DeleteObject(key, oss.WithContext(ctx)); err != nil {
		return fmt.Errorf("oss delete %s: %w", key, err)
	}
	return nil
}

// PublicURL returns the browser-facing URL for key
func (s *OSSStore) PublicURL(key string) string {
	if key == "" {
		return ""
	}
	if s.publicBase != "" {
		return s.publicBase + "/" + key
	}
	end := strings.TrimPrefix(strings.TrimPrefix(s.endpoint, "https://"), "http://")
	return fmt.Sprintf("https://%s.%s/%s", s.bucketName, end, key)
}
