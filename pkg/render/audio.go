// Package render turns a mashup recipe into an audio file: stem lookup,
// segment extraction, time-stretching, layer overlay, crossfaded
// sequencing, and WAV export.
package render

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// Rate is the internal processing sample rate. Everything is decoded to
// mono float64 at this rate before any DSP step runs.
const Rate = 44100

// Clip is a mono audio buffer at the engine rate.
type Clip struct {
	Samples []float64
}

// DurationMS returns the clip length in milliseconds.
func (c Clip) DurationMS() int {
	return len(c.Samples) * 1000 / Rate
}

// SliceMS returns the [startMS, endMS) portion of the clip. Bounds are
// clamped to the clip's length.
func (c Clip) SliceMS(startMS, endMS int) Clip {
	start := startMS * Rate / 1000
	end := endMS * Rate / 1000
	if start < 0 {
		start = 0
	}
	if end > len(c.Samples) {
		end = len(c.Samples)
	}
	if start >= end {
		return Clip{}
	}
	out := make([]float64, end-start)
	copy(out, c.Samples[start:end])
	return Clip{Samples: out}
}

// msToSamples converts a millisecond count to a sample count at Rate.
func msToSamples(ms int) int {
	return ms * Rate / 1000
}

// LoadClip decodes an audio file to a mono clip at the engine rate.
func LoadClip(path string) (Clip, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		return loadWAV(path)
	case ".mp3":
		return loadMP3(path)
	default:
		return Clip{}, fmt.Errorf("unsupported audio format: %s", ext)
	}
}

func loadWAV(path string) (Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("decode wav %s: %w", filepath.Base(path), err)
	}
	if buf.Format == nil || buf.Format.NumChannels == 0 {
		return Clip{}, fmt.Errorf("decode wav %s: missing format", filepath.Base(path))
	}

	ch := buf.Format.NumChannels
	scale := float64(int(1) << (buf.SourceBitDepth - 1))
	if buf.SourceBitDepth == 0 {
		scale = 1 << 15
	}

	frames := len(buf.Data) / ch
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		sum := 0.0
		for c := 0; c < ch; c++ {
			sum += float64(buf.Data[i*ch+c])
		}
		samples[i] = sum / float64(ch) / scale
	}

	return resampleClip(Clip{Samples: samples}, buf.Format.SampleRate), nil
}

// go-mp3 emits more leading samples than the reference decoders the
// original stems were cut against. Skipping the encoder delay keeps stem
// and full-mix timelines aligned.
const mp3DecoderDelay = 924

const defaultEncoderDelay = 576

func loadMP3(path string) (Clip, error) {
	totalDelay := readLAMEEncoderDelay(path) + mp3DecoderDelay

	f, err := os.Open(path)
	if err != nil {
		return Clip{}, fmt.Errorf("open mp3: %w", err)
	}
	defer f.Close()

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return Clip{}, fmt.Errorf("decode mp3 %s: %w", filepath.Base(path), err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return Clip{}, fmt.Errorf("read mp3 %s: %w", filepath.Base(path), err)
	}

	// 16-bit signed stereo interleaved, mixed down to mono.
	pairs := len(pcm) / 4
	samples := make([]float64, pairs)
	for i := 0; i < pairs; i++ {
		off := i * 4
		left := int16(binary.LittleEndian.Uint16(pcm[off:]))
		right := int16(binary.LittleEndian.Uint16(pcm[off+2:]))
		samples[i] = (float64(left) + float64(right)) / 2 / 32768
	}

	if len(samples) > totalDelay {
		samples = samples[totalDelay:]
	}

	return resampleClip(Clip{Samples: samples}, decoder.SampleRate()), nil
}

// readLAMEEncoderDelay reads the encoder delay from a LAME/Xing header if
// one is present in the first 4KB of the file.
func readLAMEEncoderDelay(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return defaultEncoderDelay
	}
	defer f.Close()

	buf := make([]byte, 4096)
	n, err := f.Read(buf)
	if err != nil || n < 200 {
		return defaultEncoderDelay
	}
	buf = buf[:n]

	lameIdx := bytes.Index(buf, []byte("LAME"))
	if lameIdx == -1 {
		return defaultEncoderDelay
	}

	// The delay lives in the upper 12 bits of a 24-bit field at offset 21
	// from the "LAME" marker.
	delayOffset := lameIdx + 21
	if delayOffset+3 > len(buf) {
		return defaultEncoderDelay
	}
	b := buf[delayOffset : delayOffset+3]
	delay := (int(b[0]) << 4) | (int(b[1]) >> 4)

	if delay < 0 || delay > 4096 {
		return defaultEncoderDelay
	}
	return delay
}

// resampleClip converts a clip from srcRate to the engine rate.
func resampleClip(c Clip, srcRate int) Clip {
	if srcRate == Rate || len(c.Samples) == 0 {
		return c
	}
	ratio := float64(srcRate) / float64(Rate)
	return Clip{Samples: resampleLinear(c.Samples, ratio)}
}
