// Package objectstore checks that an S3-compatible repository bucket is
// reachable before a backup tool is started against it.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/fgeck/persephone/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// ErrBucketNotFound is returned when the bucket does not exist.
var ErrBucketNotFound = errors.New("bucket does not exist")

// Service defines the interface for object storage preflight checks.
type Service interface {
	CheckBucket(ctx context.Context, profile models.BackupProfile) (*models.BucketLocation, error)
}

// BucketClient is the subset of the minio client used here.
type BucketClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
}

// ClientFactory creates bucket clients.
type ClientFactory func(loc models.BucketLocation, accessKey, secretKey string) (BucketClient, error)

// DefaultClientFactory connects with static V4 credentials.
func DefaultClientFactory(loc models.BucketLocation, accessKey, secretKey string) (BucketClient, error) {
	client, err := minio.New(loc.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: loc.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	return client, nil
}

// Impl implements the Service interface.
type Impl struct {
	clientFactory ClientFactory
	logger        zerolog.Logger
}

// New creates a new object storage service.
func New(logger zerolog.Logger) *Impl {
	return NewWithClientFactory(logger, DefaultClientFactory)
}

// NewWithClientFactory creates a new object storage service with a custom factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, factory ClientFactory) *Impl {
	return &Impl{
		clientFactory: factory,
		logger:        logger,
	}
}

// CheckBucket verifies that the profile's bucket exists and the credentials can see it.
func (s *Impl) CheckBucket(ctx context.Context, profile models.BackupProfile) (*models.BucketLocation, error) {
	loc, err := ParseLocator(profile.RepositoryLocator)
	if err != nil {
		return nil, err
	}
	if profile.AccessKeyID == "" || profile.SecretAccessKey == "" {
		return loc, &models.MissingConfigError{Fields: []models.MissingField{
			{Key: "repository.access_key_id", Description: "object storage access key"},
			{Key: "repository.secret_access_key", Description: "object storage secret key"},
		}}
	}

	s.logger.Info().
		Str("endpoint", loc.Endpoint).
		Str("bucket", loc.Bucket).
		Msg("checking object storage bucket")

	client, err := s.clientFactory(*loc, profile.AccessKeyID, profile.SecretAccessKey)
	if err != nil {
		return loc, &models.ConnectionError{Host: loc.Endpoint, Err: err}
	}

	exists, err := client.BucketExists(ctx, loc.Bucket)
	if err != nil {
		return loc, &models.ConnectionError{Host: loc.Endpoint, Err: fmt.Errorf("failed to check bucket: %w", err)}
	}
	if !exists {
		return loc, fmt.Errorf("%w: %s", ErrBucketNotFound, loc.Bucket)
	}

	s.logger.Debug().Str("bucket", loc.Bucket).Msg("bucket is reachable")
	return loc, nil
}

// ParseLocator splits "s3:https://host/bucket/prefix" or "s3:host/bucket/prefix"
// into its parts. A locator without a scheme uses https.
func ParseLocator(locator string) (*models.BucketLocation, error) {
	rest, ok := strings.CutPrefix(locator, "s3:")
	if !ok {
		return nil, fmt.Errorf("not an object storage locator: %q", locator)
	}
	rest = strings.TrimPrefix(rest, "//")

	loc := &models.BucketLocation{Secure: true}
	if strings.Contains(rest, "://") {
		u, err := url.Parse(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid object storage URL %q: %w", rest, err)
		}
		switch u.Scheme {
		case "https":
		case "http":
			loc.Secure = false
		default:
			return nil, fmt.Errorf("unsupported object storage scheme %q", u.Scheme)
		}
		loc.Endpoint = u.Host
		rest = strings.TrimPrefix(u.Path, "/")
	} else {
		loc.Endpoint, rest, _ = strings.Cut(rest, "/")
	}

	bucket, prefix, _ := strings.Cut(strings.Trim(rest, "/"), "/")
	if loc.Endpoint == "" || bucket == "" {
		return nil, fmt.Errorf("object storage locator %q needs a bucket", locator)
	}
	loc.Bucket = bucket
	loc.Prefix = prefix
	return loc, nil
}
