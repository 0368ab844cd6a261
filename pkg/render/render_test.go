package render

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/nzoschke/mashlab/pkg/brief"
	"github.com/nzoschke/mashlab/pkg/recipe"
)

// writeWAV writes a mono 16-bit fixture through the engine's own encoder.
func writeWAV(t *testing.T, path string, samples []float64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := exportWAV(path, samples); err != nil {
		t.Fatal(err)
	}
}

func sineSamples(ms int, freq float64) []float64 {
	s := make([]float64, msToSamples(ms))
	for i := range s {
		s[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/Rate)
	}
	return s
}

func TestLookupStem(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	source := filepath.Join(w.SourcesDir(), "song.mp3")

	if got := w.LookupStem(source, "vocals"); got.Status != StemMissing {
		t.Errorf("no files on disk: status = %v, want StemMissing", got.Status)
	}

	if err := os.WriteFile(source, []byte("mp3"), 0644); err != nil {
		t.Fatal(err)
	}
	got := w.LookupStem(source, "vocals")
	if got.Status != StemFallback || got.Path != source {
		t.Errorf("source only: got %+v, want fallback to %s", got, source)
	}

	stem := filepath.Join(w.StemsDir(), "htdemucs", "song", "vocals.wav")
	writeWAV(t, stem, sineSamples(10, 440))
	got = w.LookupStem(source, "vocals")
	if got.Status != StemFound || got.Path != stem {
		t.Errorf("stem present: got %+v, want %s", got, stem)
	}

	// Any non-vocal role maps to the instrumental stem file.
	inst := filepath.Join(w.StemsDir(), "htdemucs", "song", "no_vocals.wav")
	writeWAV(t, inst, sineSamples(10, 440))
	got = w.LookupStem(source, "instrumental")
	if got.Status != StemFound || got.Path != inst {
		t.Errorf("instrumental role: got %+v, want %s", got, inst)
	}
}

func TestLoadClipWAVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tone.wav")
	in := sineSamples(250, 440)
	writeWAV(t, path, in)

	clip, err := LoadClip(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(clip.Samples) != len(in) {
		t.Fatalf("length changed: %d -> %d", len(in), len(clip.Samples))
	}
	for i := range in {
		if math.Abs(clip.Samples[i]-in[i]) > 2.0/32768 {
			t.Fatalf("sample %d: %v != %v beyond 16-bit quantization", i, clip.Samples[i], in[i])
		}
	}
}

func TestLoadClipUnsupportedFormat(t *testing.T) {
	if _, err := LoadClip("song.ogg"); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestSliceMS(t *testing.T) {
	c := Clip{Samples: sineSamples(1000, 440)}

	got := c.SliceMS(250, 750)
	if got.DurationMS() != 500 {
		t.Errorf("slice duration = %dms, want 500", got.DurationMS())
	}
	if got.Samples[0] != c.Samples[msToSamples(250)] {
		t.Error("slice must start at the requested offset")
	}

	if got := c.SliceMS(900, 2000); got.DurationMS() != 100 {
		t.Errorf("end past clip should clamp, got %dms", got.DurationMS())
	}
	if got := c.SliceMS(500, 500); len(got.Samples) != 0 {
		t.Error("empty range must yield empty clip")
	}
	if got := c.SliceMS(2000, 3000); len(got.Samples) != 0 {
		t.Error("range past clip must yield empty clip")
	}
}

func TestOverlayClamps(t *testing.T) {
	dst := []float64{0.8, -0.8, 0.1}
	overlay(dst, []float64{0.8, -0.8})
	if dst[0] != 1 || dst[1] != -1 {
		t.Errorf("overlay must clamp to [-1, 1], got %v", dst)
	}
	if dst[2] != 0.1 {
		t.Error("samples past the source must be untouched")
	}
}

func TestAppendCrossfade(t *testing.T) {
	first := appendCrossfade(nil, []float64{1, 2, 3}, 100)
	if len(first) != 3 || first[0] != 1 {
		t.Errorf("first item must be appended as-is, got %v", first)
	}

	out := make([]float64, 10)
	for i := range out {
		out[i] = 1
	}
	next := make([]float64, 10)
	for i := range next {
		next[i] = -1
	}
	res := appendCrossfade(out, next, 4)
	if len(res) != 16 {
		t.Fatalf("length = %d, want 10 + 10 - 4", len(res))
	}
	if res[5] != 1 {
		t.Error("samples before the fade must keep the old value")
	}
	// Fade start is all old signal, and the blend moves monotonically
	// toward the new one.
	if res[6] != 1 {
		t.Errorf("fade[0] = %v, want 1 (smoothstep(0) = 0)", res[6])
	}
	for i := 7; i < 10; i++ {
		if res[i] >= res[i-1] {
			t.Errorf("fade must decrease toward next: res[%d]=%v res[%d]=%v", i-1, res[i-1], i, res[i])
		}
	}
	if res[10] != -1 {
		t.Error("samples after the fade must be the new value")
	}
}

func TestSmoothstep(t *testing.T) {
	if smoothstep(-1) != 0 || smoothstep(0) != 0 {
		t.Error("smoothstep must clamp at 0")
	}
	if smoothstep(1) != 1 || smoothstep(2) != 1 {
		t.Error("smoothstep must clamp at 1")
	}
	if smoothstep(0.5) != 0.5 {
		t.Errorf("smoothstep(0.5) = %v, want 0.5", smoothstep(0.5))
	}
}

func TestNormalize(t *testing.T) {
	s := []float64{0.5, -0.25, 0.1}
	normalize(s)
	if math.Abs(s[0]-0.95) > 1e-12 {
		t.Errorf("peak after normalize = %v, want 0.95", s[0])
	}

	quiet := []float64{0, 0, 0}
	normalize(quiet)
	if quiet[0] != 0 {
		t.Error("silence must stay silent")
	}
}

func TestOutputFileName(t *testing.T) {
	if got := outputFileName("Alpha vs Beta", 2); got != "Alpha__Beta_v2.wav" {
		t.Errorf("got %q", got)
	}
	if got := outputFileName("Solo", 3); got != "Solo_v3.wav" {
		t.Errorf("got %q", got)
	}
}

// testRecipe builds a two-item recipe over two source songs whose audio
// the caller places in the workspace.
func testRecipe(alphaSrc, betaSrc string) recipe.Recipe {
	seg := func(name string, start, end float64) brief.Segment {
		return brief.Segment{Name: name, StartTime: start, EndTime: end}
	}
	alpha := brief.Brief{Title: "Alpha", SourceFile: alphaSrc, Tempo: 128, Key: "C",
		Segments: []brief.Segment{seg("verse_1", 0, 0.5), seg("chorus_1", 0.5, 1.0)}}
	beta := brief.Brief{Title: "Beta", SourceFile: betaSrc, Tempo: 120, Key: "A",
		Segments: []brief.Segment{seg("verse_1", 0, 0.5), seg("chorus_1", 0.5, 1.0)}}

	item := func(start, end int, seg string) recipe.TimelineItem {
		return recipe.TimelineItem{
			TimeMS: recipe.TimeRange{StartMS: start, EndMS: end},
			Layers: map[string]recipe.Layer{
				"instrumental": {Source: "Alpha", Segment: seg},
				"vocals":       {Source: "Beta", Segment: seg},
			},
		}
	}
	return recipe.Recipe{
		Version:     2,
		MashupTitle: "Alpha vs Beta",
		Timeline:    []recipe.TimelineItem{item(0, 500, "verse_1"), item(500, 1000, "chorus_1")},
		Briefs:      []brief.Brief{alpha, beta},
	}
}

func TestRender(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	alphaSrc := filepath.Join(w.SourcesDir(), "alpha.wav")
	betaSrc := filepath.Join(w.SourcesDir(), "beta.wav")
	writeWAV(t, alphaSrc, sineSamples(1000, 220))
	writeWAV(t, betaSrc, sineSamples(1000, 440))

	e := NewEngine(w)
	name, err := e.Render(testRecipe(alphaSrc, betaSrc))
	if err != nil {
		t.Fatal(err)
	}
	if name != "Alpha__Beta_v2.wav" {
		t.Errorf("output name = %q", name)
	}

	out, err := LoadClip(filepath.Join(w.MashupsDir(), name))
	if err != nil {
		t.Fatal(err)
	}
	// Two 500ms items joined with a 100ms crossfade.
	if d := out.DurationMS(); d != 900 {
		t.Errorf("output duration = %dms, want 900", d)
	}

	peak := 0.0
	for _, v := range out.Samples {
		if math.Abs(v) > peak {
			peak = math.Abs(v)
		}
	}
	if math.Abs(peak-normalizePeak) > 0.01 {
		t.Errorf("output peak = %v, want %v", peak, normalizePeak)
	}
}

func TestRenderPrefersStems(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	// Full mixes are silent; only the separated stems carry signal. A
	// non-silent output proves the stems were picked over the sources.
	alphaSrc := filepath.Join(w.SourcesDir(), "alpha.wav")
	betaSrc := filepath.Join(w.SourcesDir(), "beta.wav")
	writeWAV(t, alphaSrc, make([]float64, msToSamples(1000)))
	writeWAV(t, betaSrc, make([]float64, msToSamples(1000)))
	writeWAV(t, filepath.Join(w.StemsDir(), "htdemucs", "alpha", "no_vocals.wav"), sineSamples(1000, 220))
	writeWAV(t, filepath.Join(w.StemsDir(), "htdemucs", "beta", "vocals.wav"), sineSamples(1000, 440))

	e := NewEngine(w)
	name, err := e.Render(testRecipe(alphaSrc, betaSrc))
	if err != nil {
		t.Fatal(err)
	}

	out, err := LoadClip(filepath.Join(w.MashupsDir(), name))
	if err != nil {
		t.Fatal(err)
	}
	silent := true
	for _, v := range out.Samples {
		if v != 0 {
			silent = false
			break
		}
	}
	if silent {
		t.Error("output is silent, stems were not used")
	}
}

func TestRenderDeterministic(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	alphaSrc := filepath.Join(w.SourcesDir(), "alpha.wav")
	betaSrc := filepath.Join(w.SourcesDir(), "beta.wav")
	writeWAV(t, alphaSrc, sineSamples(1000, 220))
	writeWAV(t, betaSrc, sineSamples(1000, 440))

	e := NewEngine(w)
	rec := testRecipe(alphaSrc, betaSrc)
	name, err := e.Render(rec)
	if err != nil {
		t.Fatal(err)
	}
	first, err := os.ReadFile(filepath.Join(w.MashupsDir(), name))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Render(rec); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(filepath.Join(w.MashupsDir(), name))
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Error("same recipe must render byte-identical output")
	}
}

func TestRenderErrors(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(w)

	if _, err := e.Render(recipe.Recipe{MashupTitle: "Empty"}); err == nil {
		t.Error("recipe without briefs must fail")
	}

	alphaSrc := filepath.Join(w.SourcesDir(), "alpha.wav")
	betaSrc := filepath.Join(w.SourcesDir(), "beta.wav")
	writeWAV(t, alphaSrc, sineSamples(1000, 220))
	writeWAV(t, betaSrc, sineSamples(1000, 440))

	rec := testRecipe(alphaSrc, betaSrc)
	rec.Timeline[0].Layers["vocals"] = recipe.Layer{Source: "Gamma", Segment: "verse_1"}
	if _, err := e.Render(rec); err == nil {
		t.Error("layer referencing an unknown song must fail")
	}

	rec = testRecipe(alphaSrc, betaSrc)
	rec.Timeline[0].Layers["vocals"] = recipe.Layer{Source: "Beta", Segment: "bridge_9"}
	if _, err := e.Render(rec); err == nil {
		t.Error("layer referencing an unknown segment must fail")
	}

	rec = testRecipe(alphaSrc, filepath.Join(w.SourcesDir(), "gone.wav"))
	if _, err := e.Render(rec); err == nil {
		t.Error("missing stem and source audio must fail")
	}
}

func TestRenderAppliesPitchShift(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	alphaSrc := filepath.Join(w.SourcesDir(), "alpha.wav")
	betaSrc := filepath.Join(w.SourcesDir(), "beta.wav")
	writeWAV(t, alphaSrc, sineSamples(1000, 220))
	writeWAV(t, betaSrc, sineSamples(1000, 440))

	rec := testRecipe(alphaSrc, betaSrc)
	for i := range rec.Timeline {
		l := rec.Timeline[i].Layers["vocals"]
		l.PitchShift = 3
		rec.Timeline[i].Layers["vocals"] = l
	}

	e := NewEngine(w)
	name, err := e.Render(rec)
	if err != nil {
		t.Fatal(err)
	}
	out, err := LoadClip(filepath.Join(w.MashupsDir(), name))
	if err != nil {
		t.Fatal(err)
	}
	// Pitch shifting never changes the item length, so the total
	// duration matches the unshifted render.
	if d := out.DurationMS(); d != 900 {
		t.Errorf("output duration = %dms, want 900", d)
	}
}
