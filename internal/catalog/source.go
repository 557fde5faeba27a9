package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gopkg.in/yaml.v3"
)

// Source loads the full item list.
type Source interface {
	Load(ctx context.Context) ([]Item, error)
}

// FileSource reads a JSON or YAML array from disk. The format follows the
// file extension.
type FileSource struct {
	Path string
}

func (s FileSource) Load(_ context.Context) ([]Item, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", s.Path, err)
	}
	return decodeItems(data, filepath.Ext(s.Path))
}

// S3API is the subset of the S3 client used by S3Source.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads the catalog export from a bucket.
type S3Source struct {
	client S3API
	bucket string
	key    string
}

// NewS3Source creates a source for s3://bucket/key.
func NewS3Source(client S3API, bucket, key string) *S3Source {
	if client == nil {
		panic("catalog: s3 client cannot be nil")
	}
	return &S3Source{client: client, bucket: bucket, key: key}
}

func (s *S3Source) Load(ctx context.Context) ([]Item, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: s3 get %s: %w", s.key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("catalog: read s3 body: %w", err)
	}
	return decodeItems(data, filepath.Ext(s.key))
}

// StaticSource serves a fixed list. Used by tests and the classify tool.
type StaticSource []Item

func (s StaticSource) Load(_ context.Context) ([]Item, error) {
	return append([]Item(nil), s...), nil
}

func decodeItems(data []byte, ext string) ([]Item, error) {
	var items []Item
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("catalog: decode yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("catalog: decode json: %w", err)
		}
	}
	valid := items[:0]
	for _, it := range items {
		if strings.TrimSpace(it.ID) == "" || strings.TrimSpace(it.Name) == "" {
			continue
		}
		valid = append(valid, it)
	}
	return valid, nil
}
