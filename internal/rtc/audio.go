package rtc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"
)

const (
	opusRate         = 48000
	frameDuration    = 20 * time.Millisecond
	opusFrameSamples = opusRate / 50
	// bytes of 16-bit mono PCM in one frame
	pcmFrameBytes = opusFrameSamples * 2
)

// sampleWriter is the part of a local track the writer needs.
type sampleWriter interface {
	WriteSample(media.Sample) error
}

// OpusPacedWriter encodes 48 kHz mono PCM into 20 ms Opus frames and writes
// them to a track at real-time pace.
type OpusPacedWriter struct {
	enc     *opus.Encoder
	track   sampleWriter
	pcmBuf  []int16
	frames  chan []byte
	stopCh  chan struct{}
	stopped bool
	mu      sync.Mutex
	written atomic.Int64
}

func NewOpusPacedWriter(track sampleWriter) (*OpusPacedWriter, error) {
	enc, err := opus.NewEncoder(opusRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	w := newPacedWriter(track, enc)
	go w.pacer()
	return w, nil
}

func newPacedWriter(track sampleWriter, enc *opus.Encoder) *OpusPacedWriter {
	return &OpusPacedWriter{
		enc:    enc,
		track:  track,
		frames: make(chan []byte, 256),
		stopCh: make(chan struct{}),
	}
}

// WritePCM buffers little-endian PCM and queues every complete frame.
func (w *OpusPacedWriter) WritePCM(pcm []byte) {
	if len(pcm) < 2 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := 0; i+1 < len(pcm); i += 2 {
		w.pcmBuf = append(w.pcmBuf, int16(uint16(pcm[i])|uint16(pcm[i+1])<<8))
	}
	for len(w.pcmBuf) >= opusFrameSamples {
		w.encodeFrame(w.pcmBuf[:opusFrameSamples])
		w.pcmBuf = append(w.pcmBuf[:0], w.pcmBuf[opusFrameSamples:]...)
	}
}

// FlushTail pads the pending samples to a whole frame so the last words are not clipped.
func (w *OpusPacedWriter) FlushTail() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pcmBuf) == 0 {
		return
	}
	pad := make([]int16, opusFrameSamples)
	copy(pad, w.pcmBuf)
	w.encodeFrame(pad)
	w.pcmBuf = w.pcmBuf[:0]
}

// caller holds mu
func (w *OpusPacedWriter) encodeFrame(frame []int16) {
	if w.enc == nil {
		return
	}
	buf := make([]byte, 4000)
	n, err := w.enc.Encode(frame, buf)
	if err != nil || n == 0 {
		return
	}
	w.pushFrame(buf[:n])
}

// Reset drops queued frames and buffered samples.
func (w *OpusPacedWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pcmBuf = w.pcmBuf[:0]
	for {
		select {
		case <-w.frames:
		default:
			return
		}
	}
}

// Written reports how many frames reached the track.
func (w *OpusPacedWriter) Written() int64 { return w.written.Load() }

func (w *OpusPacedWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
}

func (w *OpusPacedWriter) pacer() {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-w.frames:
				if err := w.track.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err == nil {
					w.written.Add(1)
				}
			default:
			}
		}
	}
}

// pushFrame drops the oldest frame when the queue is full; live audio should not back up.
func (w *OpusPacedWriter) pushFrame(pkt []byte) {
	for {
		select {
		case <-w.stopCh:
			return
		case w.frames <- pkt:
			return
		default:
			select {
			case <-w.frames:
			default:
			}
		}
	}
}
