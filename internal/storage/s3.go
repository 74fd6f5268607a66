package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"social_chat/internal/config"
	"social_chat/internal/metrics"
	apperrors "social_chat/pkg/errors"
	"social_chat/pkg/logger"
)

// ObjectUploader - то, что нужно S3Uploader от SDK; подменяется в тестах
type ObjectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Uploader загружает вложения чата. Все загрузки идут через circuit breaker:
// при серии отказов S3 запросы сразу получают ErrUploadFailed.
type S3Uploader struct {
	client     *s3.Client
	uploader   ObjectUploader
	breaker    *gobreaker.CircuitBreaker
	bucket     string
	region     string
	endpoint   string
	publicRead bool
	log        logger.Logger
}

func NewS3Uploader(ctx context.Context, cfg config.S3Config, log logger.Logger) (*S3Uploader, error) {
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.Region))
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// MinIO и другие совместимые хранилища
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	u := NewUploader(manager.NewUploader(client), cfg, log)
	u.client = client
	return u, nil
}

func NewUploader(uploader ObjectUploader, cfg config.S3Config, log logger.Logger) *S3Uploader {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "s3-upload",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &S3Uploader{
		uploader:   uploader,
		breaker:    breaker,
		bucket:     cfg.Bucket,
		region:     cfg.Region,
		endpoint:   cfg.Endpoint,
		publicRead: cfg.PublicRead,
		log:        log,
	}
}

// Upload возвращает публичный URL объекта либо presigned URL, если бакет закрыт
func (u *S3Uploader) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	_, err := u.breaker.Execute(func() (interface{}, error) {
		return u.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(u.bucket),
			Key:         aws.String(key),
			Body:        body,
			ContentType: aws.String(contentType),
		})
	})
	if err != nil {
		metrics.Uploads.WithLabelValues("failed").Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			u.log.Warn("Upload rejected by circuit breaker", "key", key)
		} else {
			u.log.Error("Failed to upload object", "error", err, "key", key)
		}
		return "", fmt.Errorf("%w: %v", apperrors.ErrUploadFailed, err)
	}
	metrics.Uploads.WithLabelValues("ok").Inc()

	if u.publicRead || u.client == nil {
		return u.PublicURL(key), nil
	}
	return u.PresignURL(ctx, key, 7*24*time.Hour)
}

func (u *S3Uploader) PublicURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	if u.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(u.endpoint, "/"), u.bucket, escaped)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, escaped)
}

func (u *S3Uploader) PresignURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s3.NewPresignClient(u.client).PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		u.log.Error("Failed to presign object", "error", err, "key", key)
		return "", err
	}
	return req.URL, nil
}

// ObjectKey: media/<userID>/<yyyy>/<mm>/<uuid><ext>
func ObjectKey(userID, fileName string, now time.Time) string {
	ext := strings.ToLower(path.Ext(fileName))
	return fmt.Sprintf("media/%s/%s/%s%s", userID, now.UTC().Format("2006/01"), uuid.NewString(), ext)
}
