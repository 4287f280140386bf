package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/config"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/upload"
)

func TestOpenBucket(t *testing.T) {
	ctx := context.Background()

	b, err := OpenBucket(ctx, config.Config{StorageBackend: "supabase", SupabaseBucket: "audio_bucket"})
	require.NoError(t, err)
	assert.IsType(t, &SupabaseBucket{}, b)
	assert.Equal(t, "audio_bucket", b.Name())

	_, err = OpenBucket(ctx, config.Config{StorageBackend: "s3"})
	assert.True(t, errors.Is(err, upload.ErrNotConfigured))

	_, err = OpenBucket(ctx, config.Config{StorageBackend: "ftp"})
	assert.Error(t, err)
}

func TestOpenCallStore(t *testing.T) {
	s, closer, err := OpenCallStore(config.Config{CallStore: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "calls.db")})
	require.NoError(t, err)
	defer closer.Close()
	require.NoError(t, s.Ping(context.Background()))
	assert.IsType(t, &SQLiteCallStore{}, s)

	s, closer, err = OpenCallStore(config.Config{CallStore: "supabase"})
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
	assert.IsType(t, &SupabaseCallStore{}, s)

	_, _, err = OpenCallStore(config.Config{CallStore: "mongo"})
	assert.Error(t, err)
}
