package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/upload"
)

type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// SupabaseBucket stores objects in a Supabase Storage bucket.
type SupabaseBucket struct {
	cfg SupabaseConfig

	once    sync.Once
	client  *supabase.Client
	initErr error
}

func NewSupabaseBucket(cfg SupabaseConfig) *SupabaseBucket {
	return &SupabaseBucket{cfg: cfg}
}

// newSupabaseClient builds a client, reporting missing credentials as upload.ErrNotConfigured.
func newSupabaseClient(cfg SupabaseConfig) (*supabase.Client, error) {
	if cfg.URL == "" || cfg.ServiceRoleKey == "" {
		return nil, fmt.Errorf("%w: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required", upload.ErrNotConfigured)
	}
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return client, nil
}

func (s *SupabaseBucket) storage() (*storage_go.Client, error) {
	s.once.Do(func() {
		s.client, s.initErr = newSupabaseClient(s.cfg)
	})
	if s.initErr != nil {
		return nil, s.initErr
	}
	return s.client.Storage, nil
}

func (s *SupabaseBucket) Name() string { return s.cfg.Bucket }

func (s *SupabaseBucket) Ping(ctx context.Context) error {
	st, err := s.storage()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := st.ListFiles(s.cfg.Bucket, "", storage_go.FileSearchOptions{Limit: 1}); err != nil {
		return classifySupabase(err)
	}
	return nil
}

func (s *SupabaseBucket) Put(ctx context.Context, path, contentType string, data []byte) error {
	st, err := s.storage()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	cacheControl := upload.CacheControl
	upsert := false
	_, err = st.UploadFile(s.cfg.Bucket, path, bytes.NewReader(data), storage_go.FileOptions{
		ContentType:  &contentType,
		CacheControl: &cacheControl,
		Upsert:       &upsert,
	})
	if err != nil {
		return classifySupabase(err)
	}
	return nil
}

func (s *SupabaseBucket) PublicURL(path string) (string, error) {
	st, err := s.storage()
	if err != nil {
		return "", err
	}
	return st.GetPublicUrl(s.cfg.Bucket, path).SignedURL, nil
}

// classifySupabase maps storage API messages onto the upload error categories.
func classifySupabase(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "bucket not found"), strings.Contains(msg, "does not exist"):
		return fmt.Errorf("%w: %v", upload.ErrBucketMissing, err)
	case strings.Contains(msg, "already exists"), strings.Contains(msg, "duplicate"):
		return fmt.Errorf("%w: %v", upload.ErrAlreadyExists, err)
	case strings.Contains(msg, "row-level security"), strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "permission"), strings.Contains(msg, "forbidden"):
		return fmt.Errorf("%w: %v", upload.ErrPermissionDenied, err)
	case strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %v", upload.ErrBucketMissing, err)
	}
	return err
}

var _ upload.Bucket = (*SupabaseBucket)(nil)
