// Package recipe defines the mashup recipe: the serializable plan handed
// from the recipe builder to the rendering engine, and the document the
// external revision service rewrites. The JSON schema is a wire contract
// and must round-trip losslessly.
package recipe

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nzoschke/mashlab/pkg/brief"
)

// Recipe is the full mashup plan. Briefs are embedded so the rendering
// engine and the revision service are self-contained; no shared session
// state exists between the stages that exchange a recipe.
type Recipe struct {
	Version     int            `json:"version"`
	MashupTitle string         `json:"mashup_title"`
	Concept     string         `json:"concept"`
	TargetTempo float64        `json:"target_tempo"`
	TargetKey   string         `json:"target_key"`
	Timeline    []TimelineItem `json:"timeline"`
	Briefs      []brief.Brief  `json:"briefs"`
}

// TimelineItem is one time-bounded slot holding role-tagged layers.
type TimelineItem struct {
	TimeMS      TimeRange        `json:"time_ms"`
	Description string           `json:"description"`
	Layers      map[string]Layer `json:"layers"`
}

// Layer references a segment of a source song for one role (for example
// "instrumental" or "vocals").
type Layer struct {
	Source     string  `json:"source"`
	Segment    string  `json:"segment"`
	PitchShift float64 `json:"pitch_shift_semitones,omitempty"`
}

// TimeRange is a start/end pair in milliseconds, serialized on the wire as
// the string "<start>-<end>".
type TimeRange struct {
	StartMS int
	EndMS   int
}

// DurationMS returns the slot length in milliseconds.
func (t TimeRange) DurationMS() int { return t.EndMS - t.StartMS }

func (t TimeRange) String() string {
	return fmt.Sprintf("%d-%d", t.StartMS, t.EndMS)
}

// MarshalJSON encodes the range as "start-end".
func (t TimeRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes the "start-end" wire form.
func (t *TimeRange) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("time_ms: %w", err)
	}
	start, end, ok := strings.Cut(s, "-")
	if !ok {
		return fmt.Errorf("time_ms %q: want \"start-end\"", s)
	}
	var err error
	if t.StartMS, err = strconv.Atoi(start); err != nil {
		return fmt.Errorf("time_ms %q: bad start: %w", s, err)
	}
	if t.EndMS, err = strconv.Atoi(end); err != nil {
		return fmt.Errorf("time_ms %q: bad end: %w", s, err)
	}
	return nil
}

// FindBrief returns the embedded brief with the given title.
func (r Recipe) FindBrief(title string) (brief.Brief, bool) {
	for _, b := range r.Briefs {
		if b.Title == title {
			return b, true
		}
	}
	return brief.Brief{}, false
}

// Validate checks the timeline invariants: each range must run forward and
// the ordered timeline must be non-overlapping with non-decreasing starts.
// Layer references are deliberately not resolved here; a dangling
// source/segment pair is a render-time error.
func (r Recipe) Validate() error {
	if r.Version < 1 {
		return fmt.Errorf("recipe: version must be >= 1, got %d", r.Version)
	}
	if r.MashupTitle == "" {
		return fmt.Errorf("recipe: missing mashup_title")
	}
	prevEnd := -1
	prevStart := -1
	for i, item := range r.Timeline {
		tr := item.TimeMS
		if tr.EndMS <= tr.StartMS {
			return fmt.Errorf("recipe: timeline[%d]: range %s runs backwards", i, tr)
		}
		if tr.StartMS < prevStart {
			return fmt.Errorf("recipe: timeline[%d]: start %dms before previous item", i, tr.StartMS)
		}
		if tr.StartMS < prevEnd {
			return fmt.Errorf("recipe: timeline[%d]: overlaps previous item", i)
		}
		if len(item.Layers) == 0 {
			return fmt.Errorf("recipe: timeline[%d]: no layers", i)
		}
		prevStart = tr.StartMS
		prevEnd = tr.EndMS
	}
	return nil
}

// Load reads and validates a recipe from a JSON file.
func Load(path string) (Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Recipe{}, fmt.Errorf("read recipe: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a recipe document.
func Parse(data []byte) (Recipe, error) {
	var r Recipe
	if err := json.Unmarshal(data, &r); err != nil {
		return Recipe{}, fmt.Errorf("parse recipe: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Recipe{}, err
	}
	return r, nil
}

// WriteJSON writes the recipe to a JSON file.
func (r Recipe) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
