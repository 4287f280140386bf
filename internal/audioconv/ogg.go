package audioconv

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/hraban/opus"
)

const opusRate = 48000

// DecodeOggOpus decodes an Ogg Opus file at 48 kHz.
func DecodeOggOpus(data []byte) (PCM, error) {
	channels, err := opusHeadChannels(data)
	if err != nil {
		return PCM{}, err
	}
	s, err := opus.NewStream(bytes.NewReader(data))
	if err != nil {
		return PCM{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer s.Close()

	out := PCM{SampleRate: opusRate, Channels: channels}
	// 120 ms is the largest opus frame.
	frame := make([]int16, opusRate/1000*120*channels)
	for {
		n, err := s.Read(frame)
		if n > 0 {
			for _, v := range frame[:n*channels] {
				out.Samples = append(out.Samples, float32(v)/32768)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return PCM{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}
	return out, nil
}

func opusHeadChannels(data []byte) (int, error) {
	i := bytes.Index(data, []byte("OpusHead"))
	if i < 0 || i+10 > len(data) {
		return 0, fmt.Errorf("%w: missing OpusHead", ErrCorrupt)
	}
	ch := int(data[i+9])
	if ch < 1 || ch > 2 {
		// multichannel streams are downmixed by opusfile to stereo
		ch = 2
	}
	return ch, nil
}
