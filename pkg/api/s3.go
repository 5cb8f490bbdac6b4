package api

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/msslab/testmgr/pkg/config"
)

const defaultPresignExpiry = 15 * time.Minute

// presignCacheEntry holds a cached presigned URL and its expiration time.
type presignCacheEntry struct {
	url       string
	expiresAt time.Time
}

// headObjectResult carries the object metadata needed for HEAD responses.
type headObjectResult struct {
	ContentType   string
	ContentLength int64
}

// s3Presigner generates presigned GET URLs for result artifacts stored
// in S3.
type s3Presigner struct {
	log             logrus.FieldLogger
	cfg             *config.S3Config
	client          *s3.Client
	presignClient   *s3.PresignClient
	expiry          time.Duration
	allowedPrefixes []string
	cacheTTL        time.Duration
	mu              sync.RWMutex
	cache           map[string]presignCacheEntry
}

// newS3Presigner creates a new S3 presigner from the given configuration.
func newS3Presigner(
	log logrus.FieldLogger,
	cfg *config.S3Config,
) (*s3Presigner, error) {
	expiry := defaultPresignExpiry

	if cfg.PresignExpiry != "" {
		d, err := time.ParseDuration(cfg.PresignExpiry)
		if err != nil {
			return nil, fmt.Errorf("parsing presign_expiry: %w", err)
		}

		expiry = d
	}

	client := newS3Client(cfg)

	// Normalize allowed prefixes: trim trailing slashes.
	prefixes := make([]string, 0, len(cfg.AllowedPrefixes))
	for _, p := range cfg.AllowedPrefixes {
		prefixes = append(prefixes, strings.TrimRight(p, "/"))
	}

	return &s3Presigner{
		log:             log.WithField("component", "s3-presigner"),
		cfg:             cfg,
		client:          client,
		presignClient:   s3.NewPresignClient(client),
		expiry:          expiry,
		allowedPrefixes: prefixes,
		cacheTTL:        expiry / 2,
		cache:           make(map[string]presignCacheEntry),
	}, nil
}

// GeneratePresignedURL returns a presigned GET URL for the given S3 key.
// Results are cached for half the presigned URL expiry duration to avoid
// redundant presigning while ensuring URLs always have sufficient validity.
func (p *s3Presigner) GeneratePresignedURL(
	ctx context.Context,
	key string,
) (string, error) {
	if !p.isAllowedPath(key) {
		return "", fmt.Errorf("path %q is not allowed", key)
	}

	now := time.Now()

	// Fast path: check cache under read lock.
	p.mu.RLock()
	if entry, ok := p.cache[key]; ok && now.Before(entry.expiresAt) {
		p.mu.RUnlock()

		return entry.url, nil
	}
	p.mu.RUnlock()

	// Slow path: acquire write lock and double-check.
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.cache[key]; ok && now.Before(entry.expiresAt) {
		return entry.url, nil
	}

	result, err := p.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.expiry))
	if err != nil {
		return "", fmt.Errorf("presigning URL for %q: %w", key, err)
	}

	p.cache[key] = presignCacheEntry{
		url:       result.URL,
		expiresAt: now.Add(p.cacheTTL),
	}

	return result.URL, nil
}

// HeadObject retrieves object metadata for HEAD responses.
func (p *s3Presigner) HeadObject(
	ctx context.Context,
	key string,
) (*headObjectResult, error) {
	if !p.isAllowedPath(key) {
		return nil, fmt.Errorf("path %q is not allowed", key)
	}

	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("heading object %q: %w", key, err)
	}

	result := &headObjectResult{}

	if out.ContentType != nil {
		result.ContentType = *out.ContentType
	}

	if out.ContentLength != nil {
		result.ContentLength = *out.ContentLength
	}

	return result, nil
}

// isAllowedPath checks that the key is clean and, when prefixes are
// configured, falls under one of them.
func (p *s3Presigner) isAllowedPath(key string) bool {
	if key == "" {
		return false
	}

	// Reject path traversal.
	if strings.Contains(key, "..") {
		return false
	}

	// Clean the path and ensure it didn't change meaning.
	if path.Clean(key) != key {
		return false
	}

	if len(p.allowedPrefixes) == 0 {
		return true
	}

	for _, prefix := range p.allowedPrefixes {
		if key == prefix || strings.HasPrefix(key, prefix+"/") {
			return true
		}
	}

	return false
}

// newS3Client constructs an S3 client from the storage config.
func newS3Client(cfg *config.S3Config) *s3.Client {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return s3.New(s3.Options{}, opts...)
}
