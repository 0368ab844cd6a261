package render

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/nzoschke/mashlab/pkg/recipe"
)

// crossfadeMS is the fixed overlap between consecutive timeline items.
const crossfadeMS = 100

// fitToleranceMS: clips within this distance of the slot length are used
// as-is instead of being stretched.
const fitToleranceMS = 10

// normalizePeak is the target peak amplitude after loudness normalization.
const normalizePeak = 0.95

// Engine renders recipes into audio files inside a workspace.
type Engine struct {
	Workspace Workspace
	Stretcher Stretcher
}

// NewEngine returns an engine using the default overlap-add stretcher.
func NewEngine(w Workspace) *Engine {
	return &Engine{Workspace: w, Stretcher: NewStretcher()}
}

// Render resolves every timeline item into audio and writes the final
// waveform to the workspace's mashups directory. It returns the output
// file name. Any missing stem-and-source pair aborts the whole render
// with no partial output.
func (e *Engine) Render(rec recipe.Recipe) (string, error) {
	if len(rec.Briefs) == 0 {
		return "", fmt.Errorf("render: recipe has no embedded briefs")
	}

	var out []float64
	for i, item := range rec.Timeline {
		mix, err := e.renderItem(rec, item)
		if err != nil {
			return "", fmt.Errorf("render: timeline[%d]: %w", i, err)
		}
		out = appendCrossfade(out, mix, msToSamples(crossfadeMS))
	}

	normalize(out)

	name := outputFileName(rec.MashupTitle, rec.Version)
	path := filepath.Join(e.Workspace.MashupsDir(), name)
	if err := exportWAV(path, out); err != nil {
		return "", fmt.Errorf("render: export: %w", err)
	}
	log.Printf("render: wrote %s (%.1fs)", name, float64(len(out))/Rate)
	return name, nil
}

// renderItem overlays all of an item's layers onto a silent buffer the
// length of the item's slot.
func (e *Engine) renderItem(rec recipe.Recipe, item recipe.TimelineItem) ([]float64, error) {
	slotMS := item.TimeMS.DurationMS()
	mix := make([]float64, msToSamples(slotMS))

	// Sorted role order keeps float accumulation deterministic.
	roles := make([]string, 0, len(item.Layers))
	for role := range item.Layers {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	for _, role := range roles {
		layer := item.Layers[role]
		clip, err := e.resolveLayer(rec, role, layer, slotMS)
		if err != nil {
			return nil, err
		}
		overlay(mix, clip.Samples)
	}
	return mix, nil
}

// resolveLayer fetches, slices, duration-fits, and pitch-shifts one
// layer's audio.
func (e *Engine) resolveLayer(rec recipe.Recipe, role string, layer recipe.Layer, slotMS int) (Clip, error) {
	b, ok := rec.FindBrief(layer.Source)
	if !ok {
		return Clip{}, fmt.Errorf("layer %q: no brief for song %q", role, layer.Source)
	}
	seg, ok := b.FindSegment(layer.Segment)
	if !ok {
		return Clip{}, fmt.Errorf("layer %q: segment %q not found in %q", role, layer.Segment, b.Title)
	}

	stem := e.Workspace.LookupStem(b.SourceFile, role)
	switch stem.Status {
	case StemFound:
	case StemFallback:
		log.Printf("render: no %s stem for %q, falling back to full mix", role, b.Title)
	case StemMissing:
		return Clip{}, fmt.Errorf("layer %q: neither stem nor source audio found for %q", role, b.Title)
	}

	src, err := LoadClip(stem.Path)
	if err != nil {
		return Clip{}, fmt.Errorf("layer %q: %w", role, err)
	}

	clip := src.SliceMS(int(seg.StartTime*1000), int(seg.EndTime*1000))
	if len(clip.Samples) > 0 && absInt(clip.DurationMS()-slotMS) > fitToleranceMS {
		clip = e.Stretcher.Stretch(clip, msToSamples(slotMS))
	}
	if layer.PitchShift != 0 {
		clip = PitchShift(clip, layer.PitchShift, e.Stretcher)
	}
	return clip, nil
}

// overlay sums src into dst, clamped to [-1, 1].
func overlay(dst, src []float64) {
	n := len(src)
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		v := dst[i] + src[i]
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		dst[i] = v
	}
}

// appendCrossfade appends next to out with a smoothstep crossfade over the
// trailing cf samples. The first item has nothing to fade against and is
// appended as-is.
func appendCrossfade(out, next []float64, cf int) []float64 {
	if len(out) == 0 {
		return next
	}
	if cf > len(out) {
		cf = len(out)
	}
	if cf > len(next) {
		cf = len(next)
	}

	base := len(out) - cf
	res := make([]float64, base+len(next))
	copy(res, out[:base])
	for i := 0; i < cf; i++ {
		g := smoothstep(float64(i) / float64(cf))
		res[base+i] = out[base+i]*(1-g) + next[i]*g
	}
	copy(res[base+cf:], next[cf:])
	return res
}

// smoothstep is the 3t^2 - 2t^3 fade curve.
func smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// normalize scales the buffer so its peak sits at normalizePeak.
func normalize(samples []float64) {
	peak := 0.0
	for _, s := range samples {
		if s > peak {
			peak = s
		} else if -s > peak {
			peak = -s
		}
	}
	if peak < 1e-9 {
		return
	}
	gain := normalizePeak / peak
	for i := range samples {
		samples[i] *= gain
	}
}

// outputFileName derives a filesystem-safe name from the mashup title and
// version: spaces become underscores and the "vs" joiner is dropped.
func outputFileName(title string, version int) string {
	name := strings.ReplaceAll(title, " ", "_")
	name = strings.ReplaceAll(name, "vs", "")
	return fmt.Sprintf("%s_v%d.wav", name, version)
}

// exportWAV writes mono 16-bit PCM at the engine rate.
func exportWAV(path string, samples []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, Rate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: Rate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		buf.Data[i] = int(s * 32767)
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
