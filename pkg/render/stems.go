package render

import (
	"os"
	"path/filepath"
	"strings"
)

// StemStatus tags the outcome of a stem lookup.
type StemStatus int

const (
	// StemFound means the role-specific isolated stem exists.
	StemFound StemStatus = iota
	// StemFallback means only the full-mix source audio exists; rendering
	// proceeds degraded.
	StemFallback
	// StemMissing means neither the stem nor the source audio exists.
	// Fatal for the whole render.
	StemMissing
)

// StemResult is the tagged outcome of LookupStem. Callers branch on
// Status instead of catching errors.
type StemResult struct {
	Status StemStatus
	Path   string
}

// Workspace holds the path conventions for stems, source audio, and
// rendered output. Stem files are keyed by the source file's base name, so
// concurrent renders of different songs never collide.
type Workspace struct {
	Root string
}

// NewWorkspace creates the workspace directory tree rooted at dir.
func NewWorkspace(dir string) (Workspace, error) {
	w := Workspace{Root: dir}
	for _, d := range []string{w.StemsDir(), w.MashupsDir(), w.SourcesDir()} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return Workspace{}, err
		}
	}
	return w, nil
}

// StemsDir is where the external source-separation step leaves isolated
// stems, laid out as stems/htdemucs/<source-basename>/<stem>.wav.
func (w Workspace) StemsDir() string { return filepath.Join(w.Root, "stems") }

// MashupsDir is where rendered output files land.
func (w Workspace) MashupsDir() string { return filepath.Join(w.Root, "mashups") }

// SourcesDir is where acquired full-mix source audio lives.
func (w Workspace) SourcesDir() string { return filepath.Join(w.Root, "audio_sources") }

// stemFileName maps a layer role to the separator's output file name.
// Every non-vocal role takes the instrumental stem.
func stemFileName(role string) string {
	if role == "vocals" {
		return "vocals.wav"
	}
	return "no_vocals.wav"
}

// LookupStem resolves the audio for one layer: the role-specific isolated
// stem if the separation cache has it, otherwise the full-mix source
// audio, otherwise missing.
func (w Workspace) LookupStem(sourceFile, role string) StemResult {
	base := strings.TrimSuffix(filepath.Base(sourceFile), filepath.Ext(sourceFile))
	stemPath := filepath.Join(w.StemsDir(), "htdemucs", base, stemFileName(role))

	if _, err := os.Stat(stemPath); err == nil {
		return StemResult{Status: StemFound, Path: stemPath}
	}
	if _, err := os.Stat(sourceFile); err == nil {
		return StemResult{Status: StemFallback, Path: sourceFile}
	}
	return StemResult{Status: StemMissing}
}
