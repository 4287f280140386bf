// Package upload stores recorded audio segments in a bucket-style object store.
package upload

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/audio"
)

const (
	// Prefix is the logical directory all segments are written under.
	Prefix       = "batches"
	CacheControl = "3600"
)

var (
	ErrNotConfigured    = errors.New("storage credentials not configured")
	ErrBucketMissing    = errors.New("bucket does not exist")
	ErrPermissionDenied = errors.New("permission denied")
	ErrAlreadyExists    = errors.New("object already exists")
	ErrNoPublicURL      = errors.New("failed to get public URL for uploaded audio")
)

// Bucket is the object store boundary.
type Bucket interface {
	Name() string
	// Ping checks that the bucket is reachable (list with limit 1).
	Ping(ctx context.Context) error
	// Put writes data at path and must fail with ErrAlreadyExists rather than overwrite.
	Put(ctx context.Context, path, contentType string, data []byte) error
	PublicURL(path string) (string, error)
}

type Uploader struct {
	bucket Bucket
	log    zerolog.Logger
	now    func() time.Time
	suffix func() string
}

func New(bucket Bucket, logger zerolog.Logger) *Uploader {
	return &Uploader{
		bucket: bucket,
		log:    logger,
		now:    time.Now,
		suffix: randomSuffix,
	}
}

// Upload stores b under a fresh path and returns its public URL. It never retries.
func (u *Uploader) Upload(ctx context.Context, b *audio.Blob) (string, error) {
	if b == nil {
		return "", fmt.Errorf("upload to bucket %q: nil blob", u.bucket.Name())
	}
	p := u.ObjectPath(b.BaseType())
	contentType := ContentType(b, p)
	logger := u.log.With().Str("bucket", u.bucket.Name()).Str("path", p).Logger()
	logger.Info().
		Str("size", fmt.Sprintf("%.2f KB", float64(b.Size())/1024)).
		Str("content_type", contentType).
		Msg("uploading audio batch")

	if err := u.bucket.Ping(ctx); err != nil {
		logger.Warn().Err(err).Msg("bucket check failed, attempting upload anyway")
	}

	if err := u.bucket.Put(ctx, p, contentType, b.Data); err != nil {
		return "", fmt.Errorf("failed to upload audio to %s: %w", u.bucket.Name(), err)
	}

	url, err := u.bucket.PublicURL(p)
	if err != nil {
		return "", fmt.Errorf("bucket %s: %w: %v", u.bucket.Name(), ErrNoPublicURL, err)
	}
	if url == "" {
		return "", fmt.Errorf("bucket %s: %w", u.bucket.Name(), ErrNoPublicURL)
	}
	logger.Info().Str("url", url).Msg("upload successful")
	return url, nil
}

// ObjectPath builds batches/<timestamp>-session-<unix ms>-<random>.<ext>.
func (u *Uploader) ObjectPath(mimeType string) string {
	now := u.now().UTC()
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(now.Format("2006-01-02T15:04:05.000Z"))
	return fmt.Sprintf("%s/%s-session-%d-%s.%s", Prefix, stamp, now.UnixMilli(), u.suffix(), extension(mimeType))
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:7]
}

func extension(mimeType string) string {
	switch audio.BaseMIME(mimeType) {
	case audio.MIMEWebM:
		return "webm"
	case audio.MIMEMP4:
		return "mp4"
	case audio.MIMEOgg:
		return "ogg"
	default:
		return "wav"
	}
}

// ContentType prefers the blob's own tag and falls back to the path extension.
func ContentType(b *audio.Blob, objectPath string) string {
	if b != nil && b.MIMEType != "" {
		return b.MIMEType
	}
	switch path.Ext(objectPath) {
	case ".webm":
		return audio.MIMEWebM
	case ".mp4":
		return audio.MIMEMP4
	case ".ogg":
		return audio.MIMEOgg
	default:
		return audio.MIMEWav
	}
}

// Hint maps an upload failure to an operator-facing remediation, or "".
func Hint(err error, bucket string) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBucketMissing):
		return fmt.Sprintf("bucket does not exist; create %s in the object store", bucket)
	case errors.Is(err, ErrNotConfigured):
		return "storage credentials not configured; check the environment"
	case errors.Is(err, ErrPermissionDenied):
		return "permission denied; check the bucket access policies"
	}
	return ""
}

// Bucket returns the destination bucket name.
func (u *Uploader) Bucket() string { return u.bucket.Name() }
