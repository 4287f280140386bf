package audio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	r        io.Reader
	mimeType string
	closed   chan struct{}
	once     sync.Once
}

func newFakeStream(data []byte, mimeType string) *fakeStream {
	return &fakeStream{r: bytes.NewReader(data), mimeType: mimeType, closed: make(chan struct{})}
}

func (s *fakeStream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err == io.EOF {
		// behave like a live device: block until closed
		<-s.closed
		return n, io.EOF
	}
	return n, err
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) MIMEType() string { return s.mimeType }

type fakeDevice struct {
	mu        sync.Mutex
	supported map[string]bool
	failures  int
	failErr   error
	data      []byte
	opened    []string
	defaultTy string
}

func (d *fakeDevice) Supports(mimeType string) bool { return d.supported[mimeType] }

func (d *fakeDevice) Open(ctx context.Context, c Constraints, mimeType string) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = append(d.opened, mimeType)
	if d.failures > 0 {
		d.failures--
		return nil, d.failErr
	}
	if mimeType == "" {
		mimeType = d.defaultTy
	}
	return newFakeStream(d.data, mimeType), nil
}

func (d *fakeDevice) opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opened)
}

func newTestRecorder(d Device) *Recorder {
	r := NewRecorder(d, zerolog.Nop())
	r.AcquireDelay = time.Millisecond
	r.ChunkInterval = 5 * time.Millisecond
	return r
}

func TestRecorder_StopWhenIdle(t *testing.T) {
	r := newTestRecorder(&fakeDevice{})
	assert.Nil(t, r.Stop())
	assert.False(t, r.Active())
}

func TestRecorder_PrefersWav(t *testing.T) {
	d := &fakeDevice{supported: map[string]bool{MIMEWav: true, MIMEWebM: true}, data: []byte("RIFFdata")}
	r := newTestRecorder(d)
	require.NoError(t, r.Start(context.Background()))
	require.True(t, r.Active())
	time.Sleep(20 * time.Millisecond)

	blob := r.Stop()
	require.NotNil(t, blob)
	assert.Equal(t, MIMEWav, blob.MIMEType)
	assert.Equal(t, []byte("RIFFdata"), blob.Data)
	assert.False(t, r.Active())
	assert.Nil(t, r.Stop())
}

func TestRecorder_FallbackOrder(t *testing.T) {
	d := &fakeDevice{supported: map[string]bool{MIMEMP4: true, MIMEWebM: true}}
	r := newTestRecorder(d)
	require.NoError(t, r.Start(context.Background()))
	blob := r.Stop()
	require.NotNil(t, blob)
	assert.Equal(t, MIMEWebM, blob.MIMEType)
}

func TestRecorder_DeviceDefaultWhenNothingPreferred(t *testing.T) {
	d := &fakeDevice{supported: map[string]bool{}, defaultTy: "audio/x-raw"}
	r := newTestRecorder(d)
	require.NoError(t, r.Start(context.Background()))
	blob := r.Stop()
	require.NotNil(t, blob)
	assert.Equal(t, "audio/x-raw", blob.MIMEType)
	assert.Equal(t, []string{""}, d.opened)
}

func TestRecorder_StartIsIdempotent(t *testing.T) {
	d := &fakeDevice{supported: map[string]bool{MIMEWav: true}}
	r := newTestRecorder(d)
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, 1, d.opens())
	r.Stop()
}

func TestRecorder_RetriesAcquisition(t *testing.T) {
	d := &fakeDevice{supported: map[string]bool{MIMEWav: true}, failures: 2, failErr: ErrNotFound, data: []byte{1, 2}}
	r := newTestRecorder(d)
	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, 3, d.opens())
	assert.NoError(t, r.Err())
	blob := r.Stop()
	require.NotNil(t, blob)
	assert.Equal(t, 2, blob.Size())
}

func TestRecorder_GivesUpAfterThreeAttempts(t *testing.T) {
	d := &fakeDevice{supported: map[string]bool{MIMEWav: true}, failures: 5, failErr: ErrNotAllowed}
	r := newTestRecorder(d)
	err := r.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotAllowed))
	assert.True(t, errors.Is(r.Err(), ErrNotAllowed))
	assert.Equal(t, 3, d.opens())
	assert.False(t, r.Active())
	assert.Nil(t, r.Stop())
}

func TestRecorder_EmptyCaptureYieldsEmptyBlob(t *testing.T) {
	d := &fakeDevice{supported: map[string]bool{MIMEWav: true}}
	r := newTestRecorder(d)
	require.NoError(t, r.Start(context.Background()))
	blob := r.Stop()
	require.NotNil(t, blob)
	assert.Equal(t, 0, blob.Size())
	assert.Equal(t, MIMEWav, blob.MIMEType)
}

func TestRecorder_ConsecutiveSegmentsAreIndependent(t *testing.T) {
	d := &fakeDevice{supported: map[string]bool{MIMEWav: true}, data: []byte("abc")}
	r := newTestRecorder(d)
	require.NoError(t, r.Start(context.Background()))
	first := r.Stop()
	require.NoError(t, r.Start(context.Background()))
	second := r.Stop()
	assert.Equal(t, []byte("abc"), first.Data)
	assert.Equal(t, []byte("abc"), second.Data)
}

func TestBlob_BaseType(t *testing.T) {
	b := &Blob{MIMEType: "audio/webm;codecs=opus"}
	assert.Equal(t, MIMEWebM, b.BaseType())
	var nilBlob *Blob
	assert.Equal(t, 0, nilBlob.Size())
}

func TestRecorder_StateReadableWhileAcquiring(t *testing.T) {
	d := &fakeDevice{supported: map[string]bool{MIMEWav: true}, failures: 5, failErr: ErrNotFound}
	r := newTestRecorder(d)
	r.AcquireDelay = 300 * time.Millisecond

	started := make(chan error, 1)
	go func() { started <- r.Start(context.Background()) }()
	require.Eventually(t, func() bool { return d.opens() >= 1 }, time.Second, time.Millisecond)

	read := make(chan struct{})
	go func() {
		_ = r.Active()
		_ = r.Err()
		close(read)
	}()
	select {
	case <-read:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Active/Err blocked behind device acquisition")
	}

	// a second Start while the first is acquiring is ignored
	require.NoError(t, r.Start(context.Background()))
	assert.False(t, r.Active())

	select {
	case err := <-started:
		assert.True(t, errors.Is(err, ErrNotFound))
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return")
	}
	assert.Equal(t, 3, d.opens())
	assert.True(t, errors.Is(r.Err(), ErrNotFound))
}
