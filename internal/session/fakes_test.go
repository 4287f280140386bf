package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/audio"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/callsync"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/provision"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/speech"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type fakePermissions struct {
	err error
	// gate, when set, holds Acquire until closed
	gate chan struct{}

	mu     sync.Mutex
	asked  []audio.Constraints
	closed int
}

func (p *fakePermissions) Acquire(ctx context.Context, c audio.Constraints) (io.Closer, error) {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asked = append(p.asked, c)
	if p.err != nil {
		return nil, p.err
	}
	return closerFunc(func() error {
		p.mu.Lock()
		p.closed++
		p.mu.Unlock()
		return nil
	}), nil
}

type fakeProvisioner struct {
	tokenErr  error
	avatarErr error
	avatarID  string

	mu         sync.Mutex
	identities []string
	avatarReqs []provision.AvatarRequest
}

func (p *fakeProvisioner) Token(ctx context.Context, room, identity string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identities = append(p.identities, identity)
	if p.tokenErr != nil {
		return "", p.tokenErr
	}
	return "token-" + identity, nil
}

func (p *fakeProvisioner) CreateAvatarSession(ctx context.Context, req provision.AvatarRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.avatarReqs = append(p.avatarReqs, req)
	if p.avatarErr != nil {
		return "", p.avatarErr
	}
	return p.avatarID, nil
}

func (p *fakeProvisioner) calls() ([]string, []provision.AvatarRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.identities...), append([]provision.AvatarRequest(nil), p.avatarReqs...)
}

type fakeRoom struct {
	joinErr error

	mu     sync.Mutex
	tokens []string
	leaves int
}

func (r *fakeRoom) Join(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, token)
	return r.joinErr
}

func (r *fakeRoom) Leave() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaves++
	return nil
}

func (r *fakeRoom) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens), r.leaves
}

// fakeRecorder hands out queued blobs on Stop, or a small WAV-tagged blob.
// With dieWithCtx it behaves like a capture process bound to its start
// context: once that context ends, the segment comes back empty.
type fakeRecorder struct {
	dieWithCtx bool

	mu        sync.Mutex
	ctx       context.Context
	active    bool
	starts    int
	startErrs []error
	blobs     []*audio.Blob
	open      int
	maxOpen   int
}

func (r *fakeRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	if len(r.startErrs) > 0 {
		err := r.startErrs[0]
		r.startErrs = r.startErrs[1:]
		if err != nil {
			return err
		}
	}
	if r.active {
		return nil
	}
	r.ctx = ctx
	r.active = true
	r.open++
	if r.open > r.maxOpen {
		r.maxOpen = r.open
	}
	return nil
}

func (r *fakeRecorder) Stop() *audio.Blob {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil
	}
	r.active = false
	r.open--
	if r.dieWithCtx && r.ctx != nil && r.ctx.Err() != nil {
		return &audio.Blob{MIMEType: audio.MIMEWebM}
	}
	if len(r.blobs) > 0 {
		b := r.blobs[0]
		r.blobs = r.blobs[1:]
		return b
	}
	return &audio.Blob{Data: []byte("segment"), MIMEType: audio.MIMEWebM}
}

func (r *fakeRecorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *fakeRecorder) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

type fakeConverter struct {
	err error
}

func (c *fakeConverter) ToWAV(ctx context.Context, b *audio.Blob) (*audio.Blob, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &audio.Blob{Data: append([]byte("wav:"), b.Data...), MIMEType: audio.MIMEWav}, nil
}

type fakeUploader struct {
	mu    sync.Mutex
	errs  []error
	blobs []*audio.Blob
}

func (u *fakeUploader) Upload(ctx context.Context, b *audio.Blob) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.blobs = append(u.blobs, b)
	if len(u.errs) > 0 {
		err := u.errs[0]
		u.errs = u.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return "https://cdn.example/batches/" + string(rune('a'+len(u.blobs)-1)), nil
}

func (u *fakeUploader) Bucket() string { return "audio_bucket" }

func (u *fakeUploader) uploaded() []*audio.Blob {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]*audio.Blob(nil), u.blobs...)
}

type fakeSync struct {
	err error

	mu       sync.Mutex
	combined int
	ended    int
	tests    int
}

func (s *fakeSync) SyncEnded(ctx context.Context, limit int) (callsync.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended++
	return callsync.Result{}, s.err
}

func (s *fakeSync) SyncCombined(ctx context.Context, limit int) (callsync.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.combined++
	return callsync.Result{}, s.err
}

func (s *fakeSync) TestConnections(ctx context.Context) callsync.ConnectionReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tests++
	return callsync.ConnectionReport{}
}

func (s *fakeSync) counts() (combined, ended int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.combined, s.ended
}

type fakeCues struct {
	mu      sync.Mutex
	opts    speech.Options
	started int
	stopped int
}

func (c *fakeCues) Start(ctx context.Context) {
	c.mu.Lock()
	c.started++
	c.mu.Unlock()
}

func (c *fakeCues) Stop() {
	c.mu.Lock()
	c.stopped++
	c.mu.Unlock()
}

type harness struct {
	perms    *fakePermissions
	prov     *fakeProvisioner
	room     *fakeRoom
	rec      *fakeRecorder
	conv     *fakeConverter
	up       *fakeUploader
	sync     *fakeSync
	cues     *fakeCues
	uploaded chan string

	mu     sync.Mutex
	states []State
}

func newHarness() *harness {
	return &harness{
		perms:    &fakePermissions{},
		prov:     &fakeProvisioner{avatarID: "avatar-session-1"},
		room:     &fakeRoom{},
		rec:      &fakeRecorder{},
		conv:     &fakeConverter{},
		up:       &fakeUploader{},
		sync:     &fakeSync{},
		cues:     &fakeCues{},
		uploaded: make(chan string, 16),
	}
}

// fastOptions keeps timers short; SettleDelay is long so tests opt into batches.
func fastOptions() Options {
	o := DefaultOptions()
	o.SettleDelay = time.Hour
	o.BatchInterval = time.Hour
	o.SyncInterval = time.Hour
	o.RecorderRetryDelay = 5 * time.Millisecond
	o.UploadBaseDelay = time.Millisecond
	o.UploadMaxDelay = 2 * time.Millisecond
	o.OperationTimeout = time.Second
	return o
}

func (h *harness) build(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	o := New(Deps{
		Permissions: h.perms,
		Provisioner: h.prov,
		Room:        h.room,
		Recorder:    h.rec,
		Converter:   h.conv,
		Uploader:    h.up,
		Sync:        h.sync,
		Cues: func(so speech.Options) CueDetector {
			h.cues.mu.Lock()
			h.cues.opts = so
			h.cues.mu.Unlock()
			return h.cues
		},
	}, opts, Hooks{
		OnState: func(s State, _ error) {
			h.mu.Lock()
			h.states = append(h.states, s)
			h.mu.Unlock()
		},
		OnBatchUploaded: func(url string) { h.uploaded <- url },
	}, zerolog.Nop())
	t.Cleanup(func() { _ = o.Close(context.Background()) })
	return o
}

func (h *harness) stateLog() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.states...)
}

var errUpload = errors.New("upload failed")
