package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"fivecut/internal/config"
)

// ObjectInfo describes an object without its content.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// CompletedPart identifies one finished part of a multipart upload.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// Client talks to the S3-compatible store backing uploads and exports.
// Source uploads and finished artifacts live in separate buckets; keys are
// routed between them by their path shape.
type Client struct {
	api     *s3.Client
	presign *s3.PresignClient

	uploadsBucket string
	exportsBucket string
	endpoint      string
}

// New builds a storage client from the daemon configuration. A non-empty
// endpoint switches the client into path-style addressing for MinIO and
// other S3-compatible services.
func New(ctx context.Context, cfg *config.Config) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Storage.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.Storage.AccessKey,
			cfg.Storage.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{
		api:           api,
		presign:       s3.NewPresignClient(api),
		uploadsBucket: cfg.Storage.UploadsBucket,
		exportsBucket: cfg.Storage.ExportsBucket,
		endpoint:      cfg.Storage.Endpoint,
	}, nil
}

// BucketFor routes a key to the bucket that holds it.
func (c *Client) BucketFor(key string) string {
	if IsExportKey(key) {
		return c.exportsBucket
	}
	return c.uploadsBucket
}

// EnsureBuckets creates the uploads and exports buckets when they do not
// already exist.
func (c *Client) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{c.uploadsBucket, c.exportsBucket} {
		_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
		if err == nil {
			continue
		}
		if !IsNotFound(err) {
			return fmt.Errorf("head bucket %s: %w", bucket, err)
		}
		if _, err := c.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
			var exists *types.BucketAlreadyOwnedByYou
			if errors.As(err, &exists) {
				continue
			}
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// Head returns the object's metadata.
func (c *Client) Head(ctx context.Context, key string) (ObjectInfo, error) {
	resp, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.BucketFor(key)),
		Key:    aws.String(key),
	})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("head object %s: %w", key, err)
	}
	return ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(resp.ContentLength),
		ContentType:  aws.ToString(resp.ContentType),
		ETag:         aws.ToString(resp.ETag),
		LastModified: aws.ToTime(resp.LastModified),
	}, nil
}

// GetRange streams the inclusive byte range [start, end] of the object.
func (c *Client) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	resp, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.BucketFor(key)),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
	})
	if err != nil {
		return nil, fmt.Errorf("get object range %s: %w", key, err)
	}
	return resp.Body, nil
}

// Download copies the object to a local path, creating parent directories.
func (c *Client) Download(ctx context.Context, key, destPath string) error {
	resp, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.BucketFor(key)),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get object %s: %w", key, err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", destPath, err)
	}
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	return nil
}

// Upload stores a local file under the given key.
func (c *Client) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.BucketFor(key)),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(ContentTypeFor(key)),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// Delete removes the object. Deleting a missing object is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.BucketFor(key)),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// List returns all objects under the prefix, following pagination.
func (c *Client) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.BucketFor(prefix)),
		Prefix: aws.String(prefix),
	})

	var objects []ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         aws.ToString(obj.ETag),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

// ListPage returns one page of objects under the prefix along with the
// continuation token for the next page, if any.
func (c *Client) ListPage(ctx context.Context, prefix string, limit int32, continuation string) ([]ObjectInfo, string, bool, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.BucketFor(prefix)),
		Prefix: aws.String(prefix),
	}
	if limit > 0 {
		input.MaxKeys = aws.Int32(limit)
	}
	if continuation != "" {
		input.ContinuationToken = aws.String(continuation)
	}

	page, err := c.api.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, "", false, fmt.Errorf("list objects %s: %w", prefix, err)
	}

	objects := make([]ObjectInfo, 0, len(page.Contents))
	for _, obj := range page.Contents {
		objects = append(objects, ObjectInfo{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         aws.ToString(obj.ETag),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	truncated := aws.ToBool(page.IsTruncated)
	return objects, aws.ToString(page.NextContinuationToken), truncated, nil
}

// PresignGet generates a time-limited download URL. A non-empty filename
// forces an attachment content disposition on the response.
func (c *Client) PresignGet(ctx context.Context, key string, expiry time.Duration, filename string) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(c.BucketFor(key)),
		Key:    aws.String(key),
	}
	if filename != "" {
		input.ResponseContentDisposition = aws.String(fmt.Sprintf("attachment; filename=%q", filename))
	}

	req, err := c.presign.PresignGetObject(ctx, input, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign get %s: %w", key, err)
	}
	return req.URL, nil
}

// CreateMultipart starts a multipart upload and returns its upload ID.
func (c *Client) CreateMultipart(ctx context.Context, key string) (string, error) {
	resp, err := c.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(c.BucketFor(key)),
		Key:         aws.String(key),
		ContentType: aws.String(ContentTypeFor(key)),
	})
	if err != nil {
		return "", fmt.Errorf("create multipart %s: %w", key, err)
	}
	return aws.ToString(resp.UploadId), nil
}

// PresignUploadPart generates a time-limited URL for uploading one part.
func (c *Client) PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, expiry time.Duration) (string, error) {
	req, err := c.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(c.BucketFor(key)),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign part %d of %s: %w", partNumber, key, err)
	}
	return req.URL, nil
}

// CompleteMultipart finishes a multipart upload from its recorded parts.
// Failures from the backend, including attempts to complete the same upload
// twice, surface to the caller unchanged.
func (c *Client) CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) error {
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, part := range parts {
		completed = append(completed, types.CompletedPart{
			PartNumber: aws.Int32(part.PartNumber),
			ETag:       aws.String(part.ETag),
		})
	}

	_, err := c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.BucketFor(key)),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return fmt.Errorf("complete multipart %s: %w", key, err)
	}
	return nil
}

// AbortMultipart abandons an in-progress multipart upload.
func (c *Client) AbortMultipart(ctx context.Context, key, uploadID string) error {
	_, err := c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.BucketFor(key)),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return fmt.Errorf("abort multipart %s: %w", key, err)
	}
	return nil
}

// IsNotFound reports whether the error marks a missing object or bucket.
func IsNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var noSuchBucket *types.NoSuchBucket
	return errors.As(err, &noSuchBucket)
}

// ContentTypeFor guesses a content type from the key's extension, defaulting
// to application/octet-stream.
func ContentTypeFor(key string) string {
	switch ext := filepath.Ext(key); ext {
	case ".mp4":
		return "video/mp4"
	case ".json":
		return "application/json"
	case ".log", ".txt":
		return "text/plain"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}
