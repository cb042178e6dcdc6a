package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// Object key namespaces.
const (
	PrefixSubmissions = "submissions/"
	PrefixCorrections = "corrections/"
	PrefixExercises   = "exercises/"
)

// ErrObjectNotFound indicates the requested key does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

// Config contains the settings for an S3-compatible bucket.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	PublicBaseURL   string
}

// Object identifies a stored blob by key and by its externally visible URL.
type Object struct {
	Key string
	URL string
}

// S3Store implements put/get/delete against an S3-compatible object store.
type S3Store struct {
	client  *s3.Client
	bucket  string
	baseURL string
	logger  zerolog.Logger
}

// NewS3Store builds a store using static credentials when provided and the default AWS chain otherwise.
func NewS3Store(ctx context.Context, cfg Config, logger zerolog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket must be provided")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: objectBaseURL(cfg),
		logger:  logger.With().Str("component", "s3_store").Logger(),
	}, nil
}

// Put uploads data under key and returns the stored object reference.
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (Object, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return Object{}, fmt.Errorf("failed to upload object: %w", err)
	}

	s.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("object uploaded")

	return Object{Key: key, URL: s.URLFor(key)}, nil
}

// Get downloads the object stored under key.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to download object: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return data, nil
}

// Delete removes the object stored under key. Missing keys are not an error.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// URLFor returns the externally visible URL of key.
func (s *S3Store) URLFor(key string) string {
	return s.baseURL + "/" + escapeKey(key)
}

func objectBaseURL(cfg Config) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	}
	if cfg.Endpoint != "" {
		endpoint := strings.TrimRight(cfg.Endpoint, "/")
		if cfg.UsePathStyle {
			return endpoint + "/" + cfg.Bucket
		}
		if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
			parsed.Host = cfg.Bucket + "." + parsed.Host
			return parsed.String()
		}
		return endpoint + "/" + cfg.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// KeyFromURL recovers the bucket-relative key from a stored object URL by locating
// the first known namespace prefix in the URL path. It exists for rows persisted
// before the key was stored explicitly.
func KeyFromURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse object url: %w", err)
	}

	path := strings.TrimPrefix(parsed.EscapedPath(), "/")
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		for _, prefix := range []string{PrefixSubmissions, PrefixCorrections, PrefixExercises} {
			if segment+"/" != prefix {
				continue
			}
			unescaped := make([]string, 0, len(segments)-i)
			for _, part := range segments[i:] {
				value, err := url.PathUnescape(part)
				if err != nil {
					return "", fmt.Errorf("unescape object url: %w", err)
				}
				unescaped = append(unescaped, value)
			}
			return strings.Join(unescaped, "/"), nil
		}
	}

	return "", fmt.Errorf("no known key prefix in %q", raw)
}
