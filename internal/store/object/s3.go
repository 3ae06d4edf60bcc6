package object

import (
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/bunsuihq/bunsui/internal/bunsuierr"
	"github.com/bunsuihq/bunsui/internal/config"
	"github.com/bunsuihq/bunsui/internal/obs"
	"github.com/bunsuihq/bunsui/internal/retry"
)

// S3Store is the AWS S3 implementation of Store, used for session log
// archives, compiled state-machine definitions, and pipeline config blobs.
type S3Store struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	backoff  retry.BackoffPolicy
	breaker  *retry.CircuitBreaker
}

func NewS3Store(cfg *config.Config) (*S3Store, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Object.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Object.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(cfg.Object.ForcePathStyle)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, bunsuierr.Wrap(bunsuierr.Configuration, "object", "new_session", err)
	}
	return &S3Store{
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		bucket:   cfg.Object.BucketPrefix,
		backoff:  retry.DefaultBackoffPolicy(),
		breaker:  retry.NewCircuitBreaker("object", cfg.CircuitBreaker),
	}, nil
}

func (s *S3Store) call(ctx context.Context, operation string, fn func(attempt int) error) error {
	_, span := obs.StartAdapterSpan(ctx, "object", operation)
	defer span.End()
	start := time.Now()
	err := s.breaker.Call(func() error {
		return s.backoff.Do(ctx, func(attempt int) error {
			if attempt > 0 {
				obs.AdapterRetries.WithLabelValues("object", operation).Inc()
			}
			return fn(attempt)
		})
	})
	obs.AdapterLatency.WithLabelValues("object", operation).Observe(time.Since(start).Seconds())
	if err != nil {
		obs.RecordError(ctx, err)
		return err
	}
	obs.SetSpanSuccess(ctx)
	return nil
}

func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) error {
	return s.call(ctx, "put", func(int) error {
		input := &s3manager.UploadInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   body,
		}
		if opts.ContentType != "" {
			input.ContentType = aws.String(opts.ContentType)
		}
		_, err := s.uploader.UploadWithContext(ctx, input)
		return translateErr("object", "put", err)
	})
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var out io.ReadCloser
	err := s.call(ctx, "get", func(int) error {
		resp, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return translateErr("object", "get", err)
		}
		out = resp.Body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	return s.call(ctx, "delete", func(int) error {
		_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return translateErr("object", "delete", err)
	})
}

// DeletePrefix removes every object under prefix, paging through
// ListObjectsV2 and batch-deleting up to 1000 keys per request.
func (s *S3Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	deleted := 0
	err := s.call(ctx, "delete_prefix", func(int) error {
		var continuationToken *string
		for {
			resp, err := s.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(s.bucket),
				Prefix:            aws.String(prefix),
				ContinuationToken: continuationToken,
			})
			if err != nil {
				return translateErr("object", "delete_prefix", err)
			}
			if len(resp.Contents) == 0 {
				break
			}
			objects := make([]*s3.ObjectIdentifier, 0, len(resp.Contents))
			for _, obj := range resp.Contents {
				objects = append(objects, &s3.ObjectIdentifier{Key: obj.Key})
			}
			_, err = s.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(s.bucket),
				Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return translateErr("object", "delete_prefix", err)
			}
			deleted += len(objects)
			if !aws.BoolValue(resp.IsTruncated) {
				break
			}
			continuationToken = resp.NextContinuationToken
		}
		return nil
	})
	return deleted, err
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.call(ctx, "list", func(int) error {
		var continuationToken *string
		for {
			resp, err := s.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(s.bucket),
				Prefix:            aws.String(prefix),
				ContinuationToken: continuationToken,
			})
			if err != nil {
				return translateErr("object", "list", err)
			}
			for _, obj := range resp.Contents {
				keys = append(keys, aws.StringValue(obj.Key))
			}
			if !aws.BoolValue(resp.IsTruncated) {
				return nil
			}
			continuationToken = resp.NextContinuationToken
		}
	})
	return keys, err
}

func (s *S3Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(ttl)
	if err != nil {
		return "", translateErr("object", "presign_get", err)
	}
	return url, nil
}

func (s *S3Store) EnsureBucket(ctx context.Context) error {
	return s.call(ctx, "ensure_bucket", func(int) error {
		_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
		if err == nil {
			return nil
		}
		_, err = s.client.CreateBucketWithContext(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
		if aerr, ok := err.(awserr.Error); ok && (aerr.Code() == s3.ErrCodeBucketAlreadyOwnedByYou || aerr.Code() == s3.ErrCodeBucketAlreadyExists) {
			return nil
		}
		return translateErr("object", "ensure_bucket", err)
	})
}
