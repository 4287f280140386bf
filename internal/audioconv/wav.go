package audioconv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

const wavHeaderSize = 44

var (
	// ErrUnsupportedFormat is returned for containers or codecs that cannot be decoded.
	ErrUnsupportedFormat = errors.New("audioconv: unsupported audio format")
	// ErrCorrupt is returned for data that claims a supported format but cannot be parsed.
	ErrCorrupt = errors.New("audioconv: corrupt audio data")
)

// PCM is interleaved float audio with nominal range [-1, 1].
type PCM struct {
	SampleRate int
	Channels   int
	Samples    []float32
}

// Frames returns the number of sample frames.
func (p PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// EncodeWAV renders PCM as a canonical 16-bit little-endian WAV file.
// Samples are clamped to [-1, 1]; negatives scale by 32768, the rest by 32767.
func EncodeWAV(p PCM) ([]byte, error) {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return nil, fmt.Errorf("encode wav: invalid format rate=%d channels=%d", p.SampleRate, p.Channels)
	}
	data := make([]int, len(p.Samples))
	for i, s := range p.Samples {
		data[i] = toInt16(s)
	}

	ws := &writerseeker.WriterSeeker{}
	enc := wav.NewEncoder(ws, p.SampleRate, 16, p.Channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: p.Channels, SampleRate: p.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	// Write is required even for empty input so the data chunk header exists.
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	return io.ReadAll(ws.Reader())
}

func toInt16(s float32) int {
	if s != s {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int(s * 32768)
	}
	return int(s * 32767)
}

// DecodeWAV parses a RIFF/WAVE PCM file into float samples.
func DecodeWAV(data []byte) (PCM, error) {
	fixed, err := normalizeWAV(data)
	if err != nil {
		return PCM{}, err
	}
	dec := wav.NewDecoder(bytes.NewReader(fixed))
	if !dec.IsValidFile() {
		return PCM{}, fmt.Errorf("%w: invalid wav header", ErrCorrupt)
	}
	if dec.WavAudioFormat != 1 && dec.WavAudioFormat != 0xFFFE {
		return PCM{}, fmt.Errorf("%w: wav format tag %d", ErrUnsupportedFormat, dec.WavAudioFormat)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	depth := int(dec.BitDepth)
	out := PCM{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		Samples:    make([]float32, len(buf.Data)),
	}
	switch depth {
	case 8:
		for i, v := range buf.Data {
			out.Samples[i] = float32(v-128) / 128
		}
	case 16, 24, 32:
		scale := float32(int64(1) << (depth - 1))
		for i, v := range buf.Data {
			out.Samples[i] = float32(v) / scale
		}
	default:
		return PCM{}, fmt.Errorf("%w: %d-bit wav", ErrUnsupportedFormat, depth)
	}
	return out, nil
}

// normalizeWAV fixes the size fields a streaming writer leaves as placeholders,
// clamping the data chunk to the bytes actually present.
func normalizeWAV(data []byte) ([]byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrCorrupt)
	}
	out := make([]byte, len(data))
	copy(out, data)

	blockAlign := 0
	pos := 12
	for pos+8 <= len(out) {
		id := string(out[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(out[pos+4 : pos+8]))
		body := pos + 8
		switch id {
		case "fmt ":
			if body+16 > len(out) {
				return nil, fmt.Errorf("%w: truncated fmt chunk", ErrCorrupt)
			}
			blockAlign = int(binary.LittleEndian.Uint16(out[body+12 : body+14]))
		case "data":
			avail := len(out) - body
			if size <= 0 || size > avail {
				size = avail
				if blockAlign > 0 {
					size -= size % blockAlign
				}
				binary.LittleEndian.PutUint32(out[pos+4:pos+8], uint32(size))
			}
			out = out[:body+size]
			binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))
			return out, nil
		}
		if size < 0 || body+size > len(out) {
			return nil, fmt.Errorf("%w: chunk %q overruns file", ErrCorrupt, id)
		}
		pos = body + size + size%2
	}
	return nil, fmt.Errorf("%w: no data chunk", ErrCorrupt)
}
