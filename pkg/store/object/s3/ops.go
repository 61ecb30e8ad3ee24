package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/pkg/store/object"
)

// Put writes an object with retry on transient errors.
func (s *Store) Put(ctx context.Context, key, contentType string, data []byte) error {
	var lastErr error

	for attempt := 0; attempt <= int(s.retry.maxRetries); attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("Put: retrying", "backoff", backoff, "attempt", attempt, "max_retries", s.retry.maxRetries, "key", key)
			if s.onRetry != nil {
				s.onRetry()
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		_, lastErr = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentType:   aws.String(contentType),
			ContentLength: aws.Int64(int64(len(data))),
		})
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr) {
			break
		}

		logger.Debug("Put: transient error", "attempt", attempt+1, "max_retries", s.retry.maxRetries+1, "key", key, "error", lastErr)
	}

	return fmt.Errorf("failed to put object after %d attempts: %w", s.retry.maxRetries+1, lastErr)
}

// Head returns object metadata.
func (s *Store) Head(ctx context.Context, key string) (object.Info, error) {
	var lastErr error

	for attempt := 0; attempt <= int(s.retry.maxRetries); attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)

			select {
			case <-ctx.Done():
				return object.Info{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			info := object.Info{Key: key}
			if out.ContentLength != nil {
				info.Size = *out.ContentLength
			}
			if out.LastModified != nil {
				info.LastModified = *out.LastModified
			}
			return info, nil
		}
		if isNotFoundError(err) {
			return object.Info{}, object.ErrObjectNotFound
		}
		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	return object.Info{}, fmt.Errorf("failed to head object after %d attempts: %w", s.retry.maxRetries+1, lastErr)
}

// Get reads an object's bytes and content type.
func (s *Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	var lastErr error

	for attempt := 0; attempt <= int(s.retry.maxRetries); attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("Get: retrying", "backoff", backoff, "attempt", attempt, "max_retries", s.retry.maxRetries, "key", key)

			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			data, rerr := io.ReadAll(out.Body)
			out.Body.Close()
			if rerr != nil {
				lastErr = rerr
				continue
			}
			contentType := ""
			if out.ContentType != nil {
				contentType = *out.ContentType
			}
			return data, contentType, nil
		}
		if isNotFoundError(err) {
			return nil, "", object.ErrObjectNotFound
		}
		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	return nil, "", fmt.Errorf("failed to get object after %d attempts: %w", s.retry.maxRetries+1, lastErr)
}

// Delete removes an object. S3 DeleteObject is idempotent: deleting a
// missing key succeeds.
func (s *Store) Delete(ctx context.Context, key string) error {
	var lastErr error

	for attempt := 0; attempt <= int(s.retry.maxRetries); attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("Delete: retrying", "backoff", backoff, "attempt", attempt, "max_retries", s.retry.maxRetries, "key", key)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		_, lastErr = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if lastErr == nil {
			return nil
		}
		if isNotFoundError(lastErr) {
			return nil
		}
		if !isRetryableError(lastErr) {
			break
		}
	}

	return fmt.Errorf("failed to delete object after %d attempts: %w", s.retry.maxRetries+1, lastErr)
}

// List returns one page of keys under prefix.
func (s *Store) List(ctx context.Context, prefix, token string, max int32) (object.ListPage, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if token != "" {
		input.ContinuationToken = aws.String(token)
	}
	if max > 0 {
		input.MaxKeys = aws.Int32(max)
	}

	out, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return object.ListPage{}, fmt.Errorf("failed to list objects: %w", err)
	}

	page := object.ListPage{
		Objects: make([]object.Info, 0, len(out.Contents)),
	}
	for _, obj := range out.Contents {
		info := object.Info{}
		if obj.Key != nil {
			info.Key = *obj.Key
		}
		if obj.Size != nil {
			info.Size = *obj.Size
		}
		if obj.LastModified != nil {
			info.LastModified = *obj.LastModified
		}
		page.Objects = append(page.Objects, info)
	}
	if out.IsTruncated != nil && *out.IsTruncated && out.NextContinuationToken != nil {
		page.NextToken = *out.NextContinuationToken
	}

	return page, nil
}
