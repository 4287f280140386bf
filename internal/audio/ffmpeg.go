package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FFmpegDevice captures local devices by spawning ffmpeg.
type FFmpegDevice struct {
	command     string
	audioFormat string
	audioDevice string
	videoFormat string
	videoDevice string
}

type FFmpegOptions struct {
	Command     string
	AudioFormat string
	AudioDevice string
	VideoFormat string
	VideoDevice string
}

func NewFFmpegDevice(o FFmpegOptions) *FFmpegDevice {
	d := &FFmpegDevice{
		command:     o.Command,
		audioFormat: o.AudioFormat,
		audioDevice: o.AudioDevice,
		videoFormat: o.VideoFormat,
		videoDevice: o.VideoDevice,
	}
	if d.command == "" {
		d.command = "ffmpeg"
	}
	if d.audioFormat == "" {
		d.audioFormat = "pulse"
	}
	if d.audioDevice == "" {
		d.audioDevice = "default"
	}
	if d.videoFormat == "" {
		d.videoFormat = "v4l2"
	}
	if d.videoDevice == "" {
		d.videoDevice = "/dev/video0"
	}
	return d
}

func (d *FFmpegDevice) Supports(mimeType string) bool {
	switch BaseMIME(mimeType) {
	case MIMEWav, MIMEWebM, MIMEMP4, MIMEOgg, MIMEL16:
		return true
	}
	return false
}

func (d *FFmpegDevice) Open(ctx context.Context, c Constraints, mimeType string) (Stream, error) {
	if mimeType == "" {
		mimeType = MIMEWebM
	}
	if !d.Supports(mimeType) {
		return nil, fmt.Errorf("ffmpeg: unsupported output type %q", mimeType)
	}
	c.Audio = true
	c.Video = false
	args := append(d.inputArgs(c), encoderArgs(BaseMIME(mimeType))...)
	args = append(args, "-")
	return d.start(ctx, args, mimeType)
}

// Acquire opens the requested devices into the null muxer. Holding the returned
// closer keeps the devices claimed.
func (d *FFmpegDevice) Acquire(ctx context.Context, c Constraints) (io.Closer, error) {
	args := append(d.inputArgs(c), "-f", "null", "-")
	return d.start(ctx, args, "")
}

func (d *FFmpegDevice) inputArgs(c Constraints) []string {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	withAudio := c.Audio || !c.Video
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "warning"}
	if c.Video {
		args = append(args, "-f", d.videoFormat, "-i", d.videoDevice)
	}
	if !withAudio {
		return args
	}
	args = append(args, "-f", d.audioFormat, "-i", d.audioDevice)
	if c.Video {
		args = append(args, "-map", "0:v", "-map", "1:a")
	}
	if f := audioFilters(c); f != "" {
		args = append(args, "-af", f)
	}
	return append(args, "-ac", strconv.Itoa(c.Channels), "-ar", strconv.Itoa(c.SampleRate))
}

// Echo cancellation has no ffmpeg equivalent for a single input; it is left to the device.
func audioFilters(c Constraints) string {
	var filters []string
	if c.NoiseSuppression {
		filters = append(filters, "afftdn")
	}
	if c.AutoGainControl {
		filters = append(filters, "dynaudnorm")
	}
	return strings.Join(filters, ",")
}

func encoderArgs(mimeType string) []string {
	switch mimeType {
	case MIMEWav:
		return []string{"-c:a", "pcm_s16le", "-fflags", "+bitexact", "-f", "wav"}
	case MIMEWebM:
		return []string{"-c:a", "libopus", "-f", "webm"}
	case MIMEOgg:
		return []string{"-c:a", "libopus", "-f", "ogg"}
	case MIMEMP4:
		return []string{"-c:a", "aac", "-movflags", "frag_keyframe+empty_moov", "-f", "mp4"}
	default:
		return []string{"-f", "s16le"}
	}
}

func (d *FFmpegDevice) start(ctx context.Context, args []string, mimeType string) (*ffmpegStream, error) {
	cmd := exec.CommandContext(ctx, d.command, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	// Stdout goes through an io.Pipe so Wait returns only after every byte was handed to the reader.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	if err := cmd.Start(); err != nil {
		return nil, classify(fmt.Errorf("failed to start ffmpeg: %w", err), "")
	}

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = pw.Close()
		waitErr <- err
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		msg := strings.TrimSpace(stderr.String())
		if err != nil {
			return nil, classify(fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, msg), msg)
		}
		return nil, classify(errors.New("ffmpeg exited before capture started"), msg)
	case <-time.After(250 * time.Millisecond):
	}

	return &ffmpegStream{
		stdout:   pr,
		stderr:   stderr,
		process:  cmd.Process,
		waitErr:  waitErr,
		mimeType: mimeType,
	}, nil
}

func classify(err error, stderr string) error {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "permission denied"), strings.Contains(s, "operation not permitted"):
		return fmt.Errorf("%w: %v", ErrNotAllowed, err)
	case strings.Contains(s, "no such file or directory"), strings.Contains(s, "no such device"),
		strings.Contains(s, "cannot open"), strings.Contains(s, "not found"),
		errors.Is(err, exec.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

type ffmpegStream struct {
	stdout   *io.PipeReader
	stderr   *lockedBuffer
	process  *os.Process
	waitErr  <-chan error
	mimeType string

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegStream) MIMEType() string { return s.mimeType }

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Close interrupts ffmpeg so it can finalise its output, killing it after 1.2s.
func (s *ffmpegStream) Close() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			_ = s.stdout.CloseWithError(io.ErrClosedPipe)
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})
	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
