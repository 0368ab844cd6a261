package render

import (
	"math"
)

// Stretcher alters a clip's duration without changing its pitch.
// The engine takes it as an interface so the DSP can be swapped or stubbed
// out in tests.
type Stretcher interface {
	// Stretch returns a clip whose length is exactly targetSamples.
	Stretch(c Clip, targetSamples int) Clip
}

// OLAStretcher is a Hann-windowed overlap-add time stretcher. It preserves
// pitch because analysis frames are read at the stretched rate but written
// back at the original rate.
type OLAStretcher struct {
	FrameSize int
}

// NewStretcher returns the default overlap-add stretcher.
func NewStretcher() *OLAStretcher {
	return &OLAStretcher{FrameSize: 2048}
}

// Stretch resamples the clip's time axis to targetSamples while keeping
// the spectral content of each frame. Degenerate inputs pass through as
// silence or truncation.
func (s *OLAStretcher) Stretch(c Clip, targetSamples int) Clip {
	n := len(c.Samples)
	if targetSamples <= 0 {
		return Clip{}
	}
	if n == 0 {
		return Clip{Samples: make([]float64, targetSamples)}
	}
	if n == targetSamples {
		return c
	}

	frame := s.FrameSize
	if frame > n {
		frame = n
	}
	if frame < 4 {
		// Too short for windowing, fall back to padding/truncation.
		return padOrTrim(c, targetSamples)
	}

	synHop := frame / 2
	ratio := float64(n) / float64(targetSamples)
	window := hannWindow(frame)

	out := make([]float64, targetSamples+frame)
	norm := make([]float64, targetSamples+frame)

	for outPos := 0; outPos < targetSamples; outPos += synHop {
		inPos := int(float64(outPos) * ratio)
		if inPos+frame > n {
			inPos = n - frame
		}
		for i := 0; i < frame; i++ {
			w := window[i]
			out[outPos+i] += c.Samples[inPos+i] * w
			norm[outPos+i] += w
		}
	}

	result := make([]float64, targetSamples)
	for i := range result {
		if norm[i] > 1e-9 {
			result[i] = out[i] / norm[i]
		}
	}
	return Clip{Samples: result}
}

// PitchShift shifts a clip by the given number of semitones without
// changing its duration: the clip is resampled at the altered playback
// rate (which shifts pitch and transiently changes length) and then
// time-stretched back to its original length. The stretch-back runs last
// so the net duration effect is zero regardless of any earlier duration
// fitting.
func PitchShift(c Clip, semitones float64, s Stretcher) Clip {
	if semitones == 0 || len(c.Samples) == 0 {
		return c
	}
	factor := math.Pow(2, semitones/12)
	shifted := Clip{Samples: resampleLinear(c.Samples, factor)}
	return s.Stretch(shifted, len(c.Samples))
}

// resampleLinear reads the input at the given rate ratio with linear
// interpolation. ratio > 1 shortens the output.
func resampleLinear(in []float64, ratio float64) []float64 {
	if len(in) == 0 || ratio <= 0 {
		return nil
	}
	outLen := int(float64(len(in)) / ratio)
	if outLen < 1 {
		outLen = 1
	}
	out := make([]float64, outLen)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}

func padOrTrim(c Clip, target int) Clip {
	out := make([]float64, target)
	copy(out, c.Samples)
	return Clip{Samples: out}
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}
