package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// immutableCacheControl is sent with content-addressed outputs; their names
// change whenever their bytes do.
const immutableCacheControl = "public, max-age=31536000, immutable"

// S3API is the subset of *s3.Client the sink uses.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 writes outputs to a bucket under an optional key prefix.
type S3 struct {
	Client S3API
	Bucket string
	Prefix string
	// Mutable lists paths that must not be served with immutable caching,
	// such as the manifest.
	Mutable map[string]bool
}

// NewS3 returns a sink writing to bucket under prefix.
func NewS3(client S3API, bucket, prefix string) *S3 {
	return &S3{
		Client:  client,
		Bucket:  bucket,
		Prefix:  strings.Trim(prefix, "/"),
		Mutable: map[string]bool{},
	}
}

func (s *S3) key(p string) string {
	if s.Prefix == "" {
		return p
	}
	return path.Join(s.Prefix, p)
}

// Exists implements Sink.
func (s *S3) Exists(ctx context.Context, p string) (bool, error) {
	key := s.key(p)
	_, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.Bucket,
		Key:    &key,
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("S3 HeadObject: %w", err)
	}
	return true, nil
}

// Write implements Sink.
func (s *S3) Write(ctx context.Context, p string, data []byte, mediaType string) error {
	key := s.key(p)
	in := &s3.PutObjectInput{
		Bucket:      &s.Bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mediaType),
	}
	if enc := contentEncoding(p); enc != "" {
		in.ContentEncoding = aws.String(enc)
	}
	if !s.Mutable[p] {
		in.CacheControl = aws.String(immutableCacheControl)
	}
	if _, err := s.Client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}

	log.Debug().
		Str("bucket", s.Bucket).
		Str("key", key).
		Str("media_type", mediaType).
		Int("size_bytes", len(data)).
		Msg("Output uploaded to S3")
	return nil
}

func contentEncoding(p string) string {
	for _, v := range encodings {
		if strings.HasSuffix(p, v.Suffix) {
			return v.Encoding
		}
	}
	return ""
}
