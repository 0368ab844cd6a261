// Package mash scores segment compatibility between two analyzed songs and
// builds a mashup recipe from the best-scoring pairings.
package mash

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/nzoschke/mashlab/pkg/brief"
)

// Sub-score weights. Fixed constants; harmonic agreement dominates.
const (
	weightHarmonic = 1.0
	weightRhythmic = 0.2
	weightSpectral = 0.2

	eps = 1e-9
)

// SegmentFeatures bundles the three feature matrices sliced to one
// candidate beat range. Chroma is 12 x n, Rhythm 2 x n, Spectral 3 x n.
type SegmentFeatures struct {
	Chroma   *mat.Dense
	Rhythm   *mat.Dense
	Spectral *mat.Dense
}

// Beats returns the beat length of the slice.
func (sf SegmentFeatures) Beats() int {
	_, c := sf.Chroma.Dims()
	return c
}

// Score computes the mashability of two segment slices: a weighted sum of
// harmonic similarity, rhythmic similarity, and combined spectral balance.
// Both slices must be non-empty and share the same beat length; callers
// resample mismatched candidates before scoring (see ResampleBeats).
func Score(a, b SegmentFeatures) float64 {
	h := harmonicSimilarity(a.Chroma, b.Chroma)
	r := rhythmicSimilarity(a.Rhythm, b.Rhythm)
	s := spectralBalance(a.Spectral, b.Spectral)
	return weightHarmonic*h + weightRhythmic*r + weightSpectral*s
}

// harmonicSimilarity treats the secondary chroma as cyclic along the beat
// axis and takes the maximum cross-correlation with the primary over all
// beat offsets, normalized by the product of Frobenius norms. The cyclic
// scan tolerates phase misalignment left behind by structural segmentation.
func harmonicSimilarity(p, s *mat.Dense) float64 {
	rows, n := p.Dims()

	best := math.Inf(-1)
	for off := 0; off < n; off++ {
		sum := 0.0
		for r := 0; r < rows; r++ {
			for c := 0; c < n; c++ {
				sum += p.At(r, c) * s.At(r, (c+off)%n)
			}
		}
		if sum > best {
			best = sum
		}
	}

	return best / (mat.Norm(p, 2)*mat.Norm(s, 2) + eps)
}

// rhythmicSimilarity is the cosine similarity of the flattened
// percussive-onset matrices.
func rhythmicSimilarity(a, b *mat.Dense) float64 {
	rows, cols := a.Dims()
	var dot, na, nb float64
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			x, y := a.At(r, c), b.At(r, c)
			dot += x * y
			na += x * x
			nb += y * y
		}
	}
	return dot / (math.Sqrt(na)*math.Sqrt(nb) + eps)
}

// spectralBalance sums the two band-energy slices, averages each band over
// the beat axis, normalizes the 3-band vector to sum to one, and returns
// 1 - stddev. An even spread across bands scores high: a proxy for the
// combined mix not turning bass- or treble-heavy.
func spectralBalance(a, b *mat.Dense) float64 {
	rows, cols := a.Dims()

	bands := make([]float64, rows)
	total := 0.0
	for r := 0; r < rows; r++ {
		sum := 0.0
		for c := 0; c < cols; c++ {
			sum += a.At(r, c) + b.At(r, c)
		}
		bands[r] = sum / float64(cols)
		total += bands[r]
	}

	mean := 0.0
	for r := range bands {
		bands[r] /= total + eps
		mean += bands[r]
	}
	mean /= float64(rows)

	variance := 0.0
	for _, v := range bands {
		variance += (v - mean) * (v - mean)
	}
	return 1 - math.Sqrt(variance/float64(rows))
}

// SliceFeatures extracts the [startBeat, endBeat) columns of a brief's
// feature matrices. Beat indices past the matrix edge are clamped.
func SliceFeatures(f brief.Features, startBeat, endBeat int) SegmentFeatures {
	beats := f.Beats()
	if startBeat < 0 {
		startBeat = 0
	}
	if endBeat > beats {
		endBeat = beats
	}
	if endBeat < startBeat {
		endBeat = startBeat
	}
	return SegmentFeatures{
		Chroma:   sliceCols(f.Chroma, startBeat, endBeat),
		Rhythm:   sliceCols(f.Rhythm, startBeat, endBeat),
		Spectral: sliceCols(f.Spectral, startBeat, endBeat),
	}
}

func sliceCols(m [][]float64, start, end int) *mat.Dense {
	rows := len(m)
	cols := end - start
	if cols == 0 {
		return &mat.Dense{}
	}
	d := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			d.Set(r, c, m[r][start+c])
		}
	}
	return d
}

// ResampleBeats linearly resamples all three matrices of a slice along the
// beat axis to the target beat length, preserving per-row feature
// alignment.
func ResampleBeats(sf SegmentFeatures, target int) SegmentFeatures {
	if sf.Beats() == target {
		return sf
	}
	return SegmentFeatures{
		Chroma:   resampleCols(sf.Chroma, target),
		Rhythm:   resampleCols(sf.Rhythm, target),
		Spectral: resampleCols(sf.Spectral, target),
	}
}

func resampleCols(m *mat.Dense, target int) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, target, nil)
	if cols == 1 {
		for r := 0; r < rows; r++ {
			for c := 0; c < target; c++ {
				out.Set(r, c, m.At(r, 0))
			}
		}
		return out
	}
	scale := 0.0
	if target > 1 {
		scale = float64(cols-1) / float64(target-1)
	}
	for c := 0; c < target; c++ {
		pos := float64(c) * scale
		i := int(pos)
		if i >= cols-1 {
			i = cols - 2
		}
		frac := pos - float64(i)
		for r := 0; r < rows; r++ {
			v := m.At(r, i)*(1-frac) + m.At(r, i+1)*frac
			out.Set(r, c, v)
		}
	}
	return out
}
