package audioconv

import "math"

// ResamplePCM converts p to rate using linear interpolation per channel.
func ResamplePCM(p PCM, rate int) PCM {
	if rate <= 0 || p.SampleRate == rate || p.Channels <= 0 {
		return p
	}
	inFrames := p.Frames()
	outFrames := int(math.Round(float64(inFrames) * float64(rate) / float64(p.SampleRate)))
	out := PCM{SampleRate: rate, Channels: p.Channels, Samples: make([]float32, outFrames*p.Channels)}
	if inFrames == 0 {
		return out
	}
	step := float64(p.SampleRate) / float64(rate)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * step
		i0 := int(pos)
		if i0 >= inFrames {
			i0 = inFrames - 1
		}
		i1 := i0 + 1
		if i1 >= inFrames {
			i1 = inFrames - 1
		}
		frac := float32(pos - float64(i0))
		for c := 0; c < p.Channels; c++ {
			a := p.Samples[i0*p.Channels+c]
			b := p.Samples[i1*p.Channels+c]
			out.Samples[i*p.Channels+c] = a + (b-a)*frac
		}
	}
	return out
}
