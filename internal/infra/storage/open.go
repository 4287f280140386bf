package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/callsync"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/config"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/upload"
)

// OpenBucket selects the object store named by STORAGE_BACKEND.
func OpenBucket(ctx context.Context, cfg config.Config) (upload.Bucket, error) {
	switch cfg.StorageBackend {
	case "supabase", "":
		return NewSupabaseBucket(SupabaseConfig{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceKey,
			Bucket:         cfg.SupabaseBucket,
		}), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET is required for the s3 backend: %w", upload.ErrNotConfigured)
		}
		return NewS3Bucket(ctx, S3Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// OpenCallStore selects the record store named by CALL_STORE. The closer is a no-op
// for stores without local resources.
func OpenCallStore(cfg config.Config) (callsync.Store, io.Closer, error) {
	switch cfg.CallStore {
	case "supabase", "":
		return NewSupabaseCallStore(SupabaseConfig{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceKey,
		}), nopCloser{}, nil
	case "sqlite":
		s, err := NewSQLiteCallStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown call store %q", cfg.CallStore)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
