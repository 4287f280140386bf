package audio

import (
	"context"
	"errors"
	"io"
	"strings"
)

// MIME types the capture side knows how to produce.
const (
	MIMEWav  = "audio/wav"
	MIMEWebM = "audio/webm"
	MIMEMP4  = "audio/mp4"
	MIMEOgg  = "audio/ogg"
	MIMEL16  = "audio/L16"
)

var (
	// ErrNotAllowed mirrors a denied capture permission.
	ErrNotAllowed = errors.New("audio: capture not allowed")
	// ErrNotFound means no capture device matched.
	ErrNotFound = errors.New("audio: capture device not found")
)

// Blob is one recorded audio segment.
type Blob struct {
	Data     []byte
	MIMEType string
}

func (b *Blob) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// BaseType returns the MIME type without parameters (e.g. ";codecs=opus").
func (b *Blob) BaseType() string {
	if b == nil {
		return ""
	}
	return BaseMIME(b.MIMEType)
}

func BaseMIME(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// Constraints describe a capture request.
type Constraints struct {
	Audio            bool
	Video            bool
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// RecordingConstraints returns mono 16 kHz capture with all processing enabled.
func RecordingConstraints() Constraints {
	return Constraints{
		Audio:            true,
		SampleRate:       16000,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Stream is an open capture producing encoded bytes of MIMEType.
type Stream interface {
	io.ReadCloser
	MIMEType() string
}

// Device opens capture streams.
type Device interface {
	Supports(mimeType string) bool
	// Open starts a capture. An empty mimeType selects the device default.
	Open(ctx context.Context, c Constraints, mimeType string) (Stream, error)
}

// Permissions acquires access to capture devices. The returned closer releases them.
type Permissions interface {
	Acquire(ctx context.Context, c Constraints) (io.Closer, error)
}
