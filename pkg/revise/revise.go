// Package revise rewrites a mashup recipe from a natural-language
// instruction by calling an external text-generation service. Providers
// are tried in order; if none returns a valid replacement the original
// recipe comes back unchanged and revision is a no-op.
package revise

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nzoschke/mashlab/pkg/recipe"
)

// Provider turns a recipe and an instruction into a replacement recipe.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string
	// Revise returns the complete rewritten recipe document.
	Revise(ctx context.Context, rec recipe.Recipe, instruction string) (recipe.Recipe, error)
}

// Chain tries each provider in order and returns the first valid
// replacement recipe.
type Chain struct {
	Providers []Provider
}

// NewChain builds a chain over the given providers.
func NewChain(providers ...Provider) *Chain {
	return &Chain{Providers: providers}
}

// Revise asks each provider in turn for a replacement. A replacement is
// accepted only if it parses, passes recipe validation, and carries a
// version exactly one above the input. When every provider fails the
// original recipe is returned with a nil error: downstream consumers only
// depend on receiving a valid recipe, not on which provider produced it.
func (c *Chain) Revise(ctx context.Context, rec recipe.Recipe, instruction string) recipe.Recipe {
	for _, p := range c.Providers {
		revised, err := p.Revise(ctx, rec, instruction)
		if err != nil {
			log.Printf("revise: provider %s: %v", p.Name(), err)
			continue
		}
		if err := checkRevision(rec, revised); err != nil {
			log.Printf("revise: provider %s returned invalid recipe: %v", p.Name(), err)
			continue
		}
		return revised
	}
	log.Printf("revise: no provider produced a valid revision, keeping recipe v%d", rec.Version)
	return rec
}

// checkRevision verifies the revision contract: a structurally valid
// recipe with version incremented by exactly 1.
func checkRevision(old, revised recipe.Recipe) error {
	if err := revised.Validate(); err != nil {
		return err
	}
	if revised.Version != old.Version+1 {
		return fmt.Errorf("version must be %d, got %d", old.Version+1, revised.Version)
	}
	if len(revised.Briefs) == 0 {
		return fmt.Errorf("revision dropped the embedded briefs")
	}
	return nil
}

// marshalRecipe renders a recipe as indented JSON for inclusion in a
// provider prompt.
func marshalRecipe(rec recipe.Recipe) (string, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal recipe: %w", err)
	}
	return string(data), nil
}
