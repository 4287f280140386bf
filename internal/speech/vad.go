package speech

import (
	"encoding/binary"
	"math"
)

// voiceDetector is an energy VAD smoothed by a majority vote over the last
// few chunks, so single clicks do not count as speech.
type voiceDetector struct {
	threshold float64
	smoothN   int
	win       []bool
}

func newVoiceDetector() *voiceDetector {
	return &voiceDetector{threshold: voiceRMS, smoothN: 4}
}

// isSpeech classifies one chunk of 16-bit little-endian PCM.
func (v *voiceDetector) isSpeech(pcm []byte) bool {
	if len(pcm) < 2 {
		return false
	}
	v.win = append(v.win, rms(pcm) >= v.threshold)
	if len(v.win) > v.smoothN {
		v.win = v.win[len(v.win)-v.smoothN:]
	}
	voiced := 0
	for _, b := range v.win {
		if b {
			voiced++
		}
	}
	return voiced*2 >= len(v.win)
}

// rms computes the root-mean-square level of 16-bit little-endian PCM.
func rms(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sum float64
	n := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i:])))
		sum += v * v
		n++
	}
	return math.Sqrt(sum / float64(n))
}
