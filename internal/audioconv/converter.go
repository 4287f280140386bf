package audioconv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/audio"
)

// Transcoder turns arbitrary encoded audio into a WAV file.
type Transcoder interface {
	TranscodeWAV(ctx context.Context, data []byte) ([]byte, error)
}

// Converter re-encodes recorded blobs as 16-bit PCM WAV.
type Converter struct {
	// Fallback handles containers with no native decoder (WebM, MP4). Optional.
	Fallback Transcoder
}

func New(fallback Transcoder) *Converter {
	return &Converter{Fallback: fallback}
}

// ToWAV decodes b and re-encodes it as WAV at its native rate and channel count.
func (c *Converter) ToWAV(ctx context.Context, b *audio.Blob) (*audio.Blob, error) {
	return c.convert(ctx, b, 0)
}

// Resample decodes b and re-encodes it as WAV at rate. Interpolation is skipped
// when the decoded rate already matches.
func (c *Converter) Resample(ctx context.Context, b *audio.Blob, rate int) (*audio.Blob, error) {
	return c.convert(ctx, b, rate)
}

func (c *Converter) convert(ctx context.Context, b *audio.Blob, rate int) (*audio.Blob, error) {
	pcm, err := c.Decode(ctx, b)
	if err != nil {
		return nil, err
	}
	if rate > 0 {
		pcm = ResamplePCM(pcm, rate)
	}
	data, err := EncodeWAV(pcm)
	if err != nil {
		return nil, err
	}
	return &audio.Blob{Data: data, MIMEType: audio.MIMEWav}, nil
}

// Decode identifies the blob by content, falling back to its MIME type.
func (c *Converter) Decode(ctx context.Context, b *audio.Blob) (PCM, error) {
	if b == nil || len(b.Data) == 0 {
		return PCM{}, fmt.Errorf("%w: empty blob", ErrCorrupt)
	}
	data := b.Data
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		return DecodeWAV(data)
	case bytes.HasPrefix(data, []byte("OggS")):
		return DecodeOggOpus(data)
	case b.BaseType() == audio.MIMEWav:
		return DecodeWAV(data)
	}
	if c.Fallback == nil {
		return PCM{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, describe(b))
	}
	wavData, err := c.Fallback.TranscodeWAV(ctx, data)
	if err != nil {
		return PCM{}, fmt.Errorf("transcode %s: %w", describe(b), err)
	}
	return DecodeWAV(wavData)
}

func describe(b *audio.Blob) string {
	if b.MIMEType == "" {
		return "unknown type"
	}
	return b.MIMEType
}

// FFmpegTranscoder pipes data through ffmpeg.
type FFmpegTranscoder struct {
	Command string
}

func (t FFmpegTranscoder) TranscodeWAV(ctx context.Context, data []byte) ([]byte, error) {
	command := t.Command
	if command == "" {
		command = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, command,
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-c:a", "pcm_s16le", "-fflags", "+bitexact", "-f", "wav", "pipe:1")
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
