// Package blob stores oversized code payloads outside the submission queue.
// The queue envelope carries the returned key; the worker fetches the code
// back when the message is consumed.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// ErrBlob wraps storage failures. Callers degrade to inline delivery or
// fail the job, never retry here.
var ErrBlob = errors.New("blob storage failure")

// Store persists and retrieves offloaded code payloads.
type Store interface {
	// Put stores code under a key derived from analysisID and returns
	// that key.
	Put(ctx context.Context, analysisID, code string) (string, error)

	// Fetch returns the payload stored under key.
	Fetch(ctx context.Context, key string) (string, error)
}

// S3API is the slice of the S3 client the store needs. Tests supply fakes.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store keeps offloaded payloads in a private S3 bucket under
// analysis/{analysisId}/code.txt.
type S3Store struct {
	client S3API
	bucket string
}

// NewS3Store wraps an S3 client for the given bucket.
func NewS3Store(client S3API, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// Key returns the object key for an analysis payload.
func Key(analysisID string) string {
	return path.Join("analysis", analysisID, "code.txt")
}

// Put uploads the payload and returns its key.
func (s *S3Store) Put(ctx context.Context, analysisID, code string) (string, error) {
	key := Key(analysisID)
	start := time.Now()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte(code)),
		ACL:         types.ObjectCannedACLPrivate,
		ContentType: aws.String("text/plain; charset=utf-8"),
		Metadata: map[string]string{
			"analysis_id": analysisID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: put %s: %v", ErrBlob, key, err)
	}
	log.Debug().
		Str("bucket", s.bucket).
		Str("key", key).
		Int("bytes", len(code)).
		Dur("took", time.Since(start)).
		Msg("payload offloaded to blob storage")
	return key, nil
}

// Fetch downloads the payload stored under key.
func (s *S3Store) Fetch(ctx context.Context, key string) (string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %v", ErrBlob, key, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrBlob, key, err)
	}
	return string(b), nil
}
