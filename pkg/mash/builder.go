package mash

import (
	"fmt"
	"log"

	"github.com/nzoschke/mashlab/pkg/brief"
	"github.com/nzoschke/mashlab/pkg/recipe"
)

// Layer role names used in generated timelines.
const (
	RoleInstrumental = "instrumental"
	RoleVocals       = "vocals"
)

// beatTolerance is the hard duration-compatibility gate: candidate pairs
// whose beat lengths differ by more than this never reach the scorer.
const beatTolerance = 8

// builderVersion is the recipe version stamped on brief-driven creation.
// Revisions increment from here.
const builderVersion = 2

// Build pairs each primary segment with its best-scoring compatible
// secondary segment and emits the ordered recipe timeline. The
// highest-tempo brief becomes the primary (instrumental backbone, target
// tempo and key); the lowest-tempo brief becomes the secondary (vocal
// content). Only two roles are populated regardless of how many briefs are
// supplied.
func Build(briefs []brief.Brief) (recipe.Recipe, error) {
	if len(briefs) < 2 {
		return recipe.Recipe{}, fmt.Errorf("build recipe: need at least 2 briefs, got %d", len(briefs))
	}
	for _, b := range briefs {
		if err := b.Validate(); err != nil {
			return recipe.Recipe{}, fmt.Errorf("build recipe: %w", err)
		}
	}

	primary, secondary := selectRoles(briefs)
	log.Printf("recipe: primary=%q (%.1f BPM) secondary=%q (%.1f BPM)",
		primary.Title, primary.Tempo, secondary.Title, secondary.Tempo)

	var timeline []recipe.TimelineItem
	for _, pSeg := range primary.Segments {
		pf := SliceFeatures(primary.Features, pSeg.StartBeat, pSeg.EndBeat)
		pLen := pf.Beats()

		bestScore := -1.0
		bestName := ""
		for _, sSeg := range secondary.Segments {
			sLen := sSeg.EndBeat - sSeg.StartBeat
			if abs(pLen-sLen) > beatTolerance {
				continue
			}
			if pLen == 0 || sLen == 0 {
				continue
			}
			sf := SliceFeatures(secondary.Features, sSeg.StartBeat, sSeg.EndBeat)
			if sf.Beats() == 0 {
				continue
			}
			if sf.Beats() != pLen {
				sf = ResampleBeats(sf, pLen)
			}
			// Strict > keeps the earliest-seen candidate on ties.
			if score := Score(pf, sf); score > bestScore {
				bestScore = score
				bestName = sSeg.Name
			}
		}

		// No eligible candidate: the primary segment is dropped from the
		// timeline.
		if bestName == "" {
			log.Printf("recipe: no compatible match for %q, dropping", pSeg.Name)
			continue
		}

		timeline = append(timeline, recipe.TimelineItem{
			TimeMS: recipe.TimeRange{
				StartMS: int(pSeg.StartTime * 1000),
				EndMS:   int(pSeg.EndTime * 1000),
			},
			Description: fmt.Sprintf("Pairing %s with %s", pSeg.Name, bestName),
			Layers: map[string]recipe.Layer{
				RoleInstrumental: {Source: primary.Title, Segment: pSeg.Name},
				RoleVocals:       {Source: secondary.Title, Segment: bestName},
			},
		})
	}

	return recipe.Recipe{
		Version:     builderVersion,
		MashupTitle: fmt.Sprintf("%s vs %s", primary.Title, secondary.Title),
		Concept:     "A mashup generated from harmonic, rhythmic, and spectral compatibility.",
		TargetTempo: primary.Tempo,
		TargetKey:   primary.Key,
		Timeline:    timeline,
		Briefs:      []brief.Brief{primary, secondary},
	}, nil
}

// selectRoles picks the highest-tempo brief as primary and the lowest as
// secondary. Ties keep the earliest brief; if every tempo is equal the
// first two briefs take the roles in order.
func selectRoles(briefs []brief.Brief) (primary, secondary brief.Brief) {
	pi, si := 0, 0
	for i, b := range briefs {
		if b.Tempo > briefs[pi].Tempo {
			pi = i
		}
		if b.Tempo < briefs[si].Tempo {
			si = i
		}
	}
	if pi == si {
		si = pi + 1
		if si >= len(briefs) {
			si = 0
		}
	}
	return briefs[pi], briefs[si]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
