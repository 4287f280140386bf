package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// preferredTypes is the order in which recording formats are tried.
var preferredTypes = []string{MIMEWav, MIMEWebM, MIMEMP4}

// Recorder captures microphone audio into segments. At most one capture is
// active at a time.
type Recorder struct {
	device      Device
	constraints Constraints
	log         zerolog.Logger

	ChunkInterval   time.Duration
	AcquireAttempts int
	AcquireDelay    time.Duration

	mu       sync.Mutex
	active   *capture
	starting bool
	lastErr  error
}

func NewRecorder(device Device, logger zerolog.Logger) *Recorder {
	return &Recorder{
		device:          device,
		constraints:     RecordingConstraints(),
		log:             logger,
		ChunkInterval:   time.Second,
		AcquireAttempts: 3,
		AcquireDelay:    time.Second,
	}
}

// Active reports whether a capture is running.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Err returns the last acquisition error, cleared by a successful Start.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Start begins a capture. It is a no-op while one is already active or
// starting. The lock is not held while the device is being acquired.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.active != nil || r.starting {
		r.mu.Unlock()
		r.log.Debug().Msg("recording already active, start ignored")
		return nil
	}
	r.starting = true
	r.mu.Unlock()

	stream, mimeType, err := r.acquire(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.starting = false
	if err != nil {
		r.lastErr = fmt.Errorf("start recording: %w", err)
		return r.lastErr
	}
	r.lastErr = nil
	r.active = newCapture(stream, mimeType, r.ChunkInterval)
	r.log.Info().Str("mime", mimeType).Msg("recording started")
	return nil
}

// acquire opens the device, retrying AcquireAttempts times AcquireDelay apart.
func (r *Recorder) acquire(ctx context.Context) (Stream, string, error) {
	mimeType := r.pickType()
	attempts := r.AcquireAttempts
	if attempts < 1 {
		attempts = 1
	}
	var (
		stream Stream
		err    error
	)
	for i := 1; ; i++ {
		stream, err = r.device.Open(ctx, r.constraints, mimeType)
		if err == nil {
			break
		}
		r.log.Warn().Err(err).Int("attempt", i).Msg("microphone acquisition failed")
		if i >= attempts {
			break
		}
		if !sleepCtx(ctx, r.AcquireDelay) {
			err = ctx.Err()
			break
		}
	}
	if err != nil {
		return nil, "", err
	}
	if t := stream.MIMEType(); t != "" {
		mimeType = t
	}
	return stream, mimeType, nil
}

func (r *Recorder) pickType() string {
	for _, t := range preferredTypes {
		if r.device.Supports(t) {
			return t
		}
	}
	return ""
}

// Stop ends the active capture and returns everything recorded since Start.
// It returns nil when nothing was recording. A capture that produced no data
// yields an empty, non-nil blob.
func (r *Recorder) Stop() *Blob {
	r.mu.Lock()
	c := r.active
	r.active = nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}

	blob := c.finish()
	if c.readErr != nil {
		r.log.Warn().Err(c.readErr).Msg("capture stream ended with error")
	}
	r.log.Info().Int("chunks", c.chunkCount).Int("bytes", blob.Size()).Msg("recording stopped")
	return blob
}

type capture struct {
	stream   Stream
	mimeType string

	mu      sync.Mutex
	chunks  [][]byte
	pending bytes.Buffer

	stopTick   chan struct{}
	readDone   chan struct{}
	readErr    error
	chunkCount int
}

func newCapture(stream Stream, mimeType string, every time.Duration) *capture {
	if every <= 0 {
		every = time.Second
	}
	c := &capture{
		stream:   stream,
		mimeType: mimeType,
		stopTick: make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go c.read()
	go c.tick(every)
	return c
}

func (c *capture) read() {
	defer close(c.readDone)
	buf := make([]byte, 32*1024)
	for {
		n, err := c.stream.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.pending.Write(buf[:n])
			c.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				c.readErr = err
			}
			return
		}
	}
}

func (c *capture) tick(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.stopTick:
			return
		case <-t.C:
			c.flush()
		}
	}
}

// flush moves buffered bytes into a new chunk. Empty intervals produce no chunk.
func (c *capture) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending.Len() == 0 {
		return
	}
	chunk := make([]byte, c.pending.Len())
	copy(chunk, c.pending.Bytes())
	c.pending.Reset()
	c.chunks = append(c.chunks, chunk)
}

func (c *capture) finish() *Blob {
	close(c.stopTick)
	_ = c.stream.Close()
	<-c.readDone
	c.flush()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunkCount = len(c.chunks)
	size := 0
	for _, ch := range c.chunks {
		size += len(ch)
	}
	data := make([]byte, 0, size)
	for _, ch := range c.chunks {
		data = append(data, ch...)
	}
	c.chunks = nil
	return &Blob{Data: data, MIMEType: c.mimeType}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
