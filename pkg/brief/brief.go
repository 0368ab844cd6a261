// Package brief defines the Creative Brief: the per-song analysis document
// produced by the external feature-extraction step and consumed by the
// recipe builder and rendering engine.
package brief

import (
	"encoding/json"
	"fmt"
	"os"
)

// PitchClasses are the 12 valid key labels for a brief.
var PitchClasses = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Brief is the structured analysis output for one song. It is created once
// by the analysis step and never mutated afterwards.
type Brief struct {
	Title      string    `json:"title"`
	SourceFile string    `json:"source_file"`
	Tempo      float64   `json:"tempo"`
	Key        string    `json:"key"`
	Segments   []Segment `json:"segments"`
	Features   Features  `json:"features"`
}

// Segment is one structural section of a song. Beat indices address the
// song's beat grid; times are seconds from the start of the source audio.
type Segment struct {
	Name      string  `json:"name"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	StartBeat int     `json:"start_beat"`
	EndBeat   int     `json:"end_beat"`
}

// Features holds the three beat-aligned feature matrices. Each matrix is
// row-major with the beat axis as columns: Chroma is 12 pitch classes x
// beats, Rhythm is 2 percussive channels x beats, Spectral is 3 frequency
// bands x beats. All three share the same beat-axis length.
type Features struct {
	Chroma   [][]float64 `json:"chroma"`
	Rhythm   [][]float64 `json:"rhythm"`
	Spectral [][]float64 `json:"spectral"`
}

// Beats returns the length of the shared beat axis.
func (f Features) Beats() int {
	if len(f.Chroma) == 0 {
		return 0
	}
	return len(f.Chroma[0])
}

// Validate checks the invariants the rest of the system relies on:
// identity fields present, a recognized key label, ordered segments with
// monotonically non-decreasing beat indices, and feature matrices with the
// expected row counts and a shared beat-axis length.
func (b Brief) Validate() error {
	if b.Title == "" {
		return fmt.Errorf("brief: missing title")
	}
	if b.SourceFile == "" {
		return fmt.Errorf("brief %q: missing source_file", b.Title)
	}
	if b.Tempo <= 0 {
		return fmt.Errorf("brief %q: tempo must be positive, got %v", b.Title, b.Tempo)
	}
	if !validKey(b.Key) {
		return fmt.Errorf("brief %q: unknown key %q", b.Title, b.Key)
	}
	if len(b.Segments) == 0 {
		return fmt.Errorf("brief %q: no segments", b.Title)
	}

	prevBeat := 0
	for i, s := range b.Segments {
		if s.Name == "" {
			return fmt.Errorf("brief %q: segment %d has no name", b.Title, i)
		}
		if s.StartTime >= s.EndTime {
			return fmt.Errorf("brief %q: segment %q: start_time %v >= end_time %v", b.Title, s.Name, s.StartTime, s.EndTime)
		}
		if s.StartBeat > s.EndBeat {
			return fmt.Errorf("brief %q: segment %q: start_beat %d > end_beat %d", b.Title, s.Name, s.StartBeat, s.EndBeat)
		}
		if s.StartBeat < prevBeat {
			return fmt.Errorf("brief %q: segment %q: beats not monotonic", b.Title, s.Name)
		}
		prevBeat = s.StartBeat
	}

	if err := checkMatrix("chroma", b.Features.Chroma, 12); err != nil {
		return fmt.Errorf("brief %q: %w", b.Title, err)
	}
	if err := checkMatrix("rhythm", b.Features.Rhythm, 2); err != nil {
		return fmt.Errorf("brief %q: %w", b.Title, err)
	}
	if err := checkMatrix("spectral", b.Features.Spectral, 3); err != nil {
		return fmt.Errorf("brief %q: %w", b.Title, err)
	}

	beats := b.Features.Beats()
	if len(b.Features.Rhythm[0]) != beats || len(b.Features.Spectral[0]) != beats {
		return fmt.Errorf("brief %q: feature matrices disagree on beat count", b.Title)
	}
	return nil
}

// FindSegment returns the named segment, or false if the brief has none.
func (b Brief) FindSegment(name string) (Segment, bool) {
	for _, s := range b.Segments {
		if s.Name == name {
			return s, true
		}
	}
	return Segment{}, false
}

func checkMatrix(name string, m [][]float64, rows int) error {
	if len(m) != rows {
		return fmt.Errorf("%s matrix must have %d rows, got %d", name, rows, len(m))
	}
	width := len(m[0])
	if width == 0 {
		return fmt.Errorf("%s matrix has no beats", name)
	}
	for i, row := range m {
		if len(row) != width {
			return fmt.Errorf("%s matrix row %d is ragged", name, i)
		}
	}
	return nil
}

func validKey(key string) bool {
	for _, k := range PitchClasses {
		if k == key {
			return true
		}
	}
	return false
}

// Load reads and validates a brief from a JSON file.
func Load(path string) (Brief, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Brief{}, fmt.Errorf("read brief: %w", err)
	}
	var b Brief
	if err := json.Unmarshal(data, &b); err != nil {
		return Brief{}, fmt.Errorf("parse brief: %w", err)
	}
	if err := b.Validate(); err != nil {
		return Brief{}, err
	}
	return b, nil
}
