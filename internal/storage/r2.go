package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"deedstudio/internal/model"
)

// partSize is the multipart chunk size. S3 requires at least 5MiB for every
// part except the last.
const partSize = 8 * 1024 * 1024

// s3API is the subset of the S3 client used by R2Store.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// R2Config holds the Cloudflare R2 credentials.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// R2Store uploads to Cloudflare R2 through its S3-compatible API.
type R2Store struct {
	client    s3API
	bucket    string
	publicURL string
	log       *logrus.Entry
}

// NewR2Store constructs an S3-compatible client for Cloudflare R2.
func NewR2Store(ctx context.Context, cfg R2Config, log *logrus.Entry) (*R2Store, error) {
	if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.BucketName == "" || cfg.PublicURL == "" {
		return nil, fmt.Errorf("missing Cloudflare R2 configuration")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for R2: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return newR2Store(client, cfg.BucketName, cfg.PublicURL, log), nil
}

func newR2Store(client s3API, bucket, publicURL string, log *logrus.Entry) *R2Store {
	return &R2Store{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		log:       log,
	}
}

// UploadResumable sends small bodies with a single PutObject and larger
// ones as a multipart upload, reporting progress after every part. A failed
// multipart upload is aborted so no parts linger in the bucket.
func (s *R2Store) UploadResumable(ctx context.Context, path, contentType string, r io.Reader, size int64, onProgress ProgressFunc) (*Object, error) {
	tracker := NewTracker(size, onProgress)

	if size >= 0 && size <= partSize {
		body, err := io.ReadAll(io.LimitReader(r, partSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read upload: %w", err)
		}
		if err := s.putObject(ctx, path, body, contentType); err != nil {
			return nil, err
		}
		tracker.Complete()
		return s.object(path), nil
	}

	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(path),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String(model.ObjectCacheControl),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start multipart upload: %w", err)
	}
	uploadID := created.UploadId

	parts, err := s.uploadParts(ctx, path, uploadID, r, tracker)
	if err != nil {
		s.abort(path, uploadID)
		return nil, err
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(path),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		s.abort(path, uploadID)
		return nil, fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	tracker.Complete()

	s.log.Debugf("Upload OK: key=%s parts=%d", path, len(parts))
	return s.object(path), nil
}

func (s *R2Store) uploadParts(ctx context.Context, path string, uploadID *string, r io.Reader, tracker *Tracker) ([]types.CompletedPart, error) {
	var (
		parts []types.CompletedPart
		sent  int64
		buf   = make([]byte, partSize)
	)
	for number := int32(1); ; number++ {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(s.bucket),
				Key:        aws.String(path),
				UploadId:   uploadID,
				PartNumber: aws.Int32(number),
				Body:       bytes.NewReader(buf[:n]),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to upload part %d: %w", number, err)
			}
			parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(number)})
			sent += int64(n)
			tracker.Update(sent)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			return parts, nil
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to read upload: %w", readErr)
		}
	}
}

func (s *R2Store) abort(path string, uploadID *string) {
	// The request context may already be cancelled; abort on a fresh one.
	_, err := s.client.AbortMultipartUpload(context.Background(), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(path),
		UploadId: uploadID,
	})
	if err != nil {
		s.log.Warnf("AbortMultipartUpload FAILED: key=%s err=%v", path, err)
	}
}

// putObject uploads bytes to R2 with metadata.
func (s *R2Store) putObject(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String(model.ObjectCacheControl),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to r2: %w", err)
	}
	return nil
}

func (s *R2Store) object(key string) *Object {
	return &Object{PublicURL: fmt.Sprintf("%s/%s", s.publicURL, key), InternalPath: key}
}

// Delete removes an object by key.
func (s *R2Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from r2: %w", err)
	}
	return nil
}
