// CLI for mashup recipe generation, rendering, and revision.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nzoschke/mashlab/pkg/brief"
	"github.com/nzoschke/mashlab/pkg/config"
	"github.com/nzoschke/mashlab/pkg/mash"
	"github.com/nzoschke/mashlab/pkg/recipe"
	"github.com/nzoschke/mashlab/pkg/render"
	"github.com/nzoschke/mashlab/pkg/revise"
	"github.com/nzoschke/mashlab/pkg/server"
)

var rootCmd = &cobra.Command{
	Use:   "app",
	Short: "Mashup recipe generation and rendering",
}

var createCmd = &cobra.Command{
	Use:   "create <brief.json> <brief.json> [more briefs...]",
	Short: "Build a recipe from analyzed briefs and render it",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace, _ := cmd.Flags().GetString("workspace")
		recipeOut, _ := cmd.Flags().GetString("recipe-out")
		return runCreate(args, workspace, recipeOut)
	},
}

var renderCmd = &cobra.Command{
	Use:   "render <recipe.json>",
	Short: "Render an existing recipe to audio",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace, _ := cmd.Flags().GetString("workspace")
		return runRender(args[0], workspace)
	},
}

var reviseCmd = &cobra.Command{
	Use:   "revise <recipe.json> <instruction>",
	Short: "Revise a recipe with a natural-language instruction and re-render",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace, _ := cmd.Flags().GetString("workspace")
		return runRevise(args[0], args[1], workspace)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mashup API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Run(config.Load())
	},
}

func init() {
	for _, cmd := range []*cobra.Command{createCmd, renderCmd, reviseCmd} {
		cmd.Flags().StringP("workspace", "w", "workspace", "Workspace directory for stems, sources, and output")
	}
	createCmd.Flags().String("recipe-out", "", "Also write the generated recipe JSON to this path")
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(reviseCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCreate(briefPaths []string, workspace, recipeOut string) error {
	var briefs []brief.Brief
	for _, path := range briefPaths {
		b, err := brief.Load(path)
		if err != nil {
			return err
		}
		briefs = append(briefs, b)
	}

	rec, err := mash.Build(briefs)
	if err != nil {
		return err
	}
	if recipeOut != "" {
		if err := rec.WriteJSON(recipeOut); err != nil {
			return fmt.Errorf("write recipe: %w", err)
		}
	}

	return renderRecipe(rec, workspace)
}

func runRender(recipePath, workspace string) error {
	rec, err := recipe.Load(recipePath)
	if err != nil {
		return err
	}
	return renderRecipe(rec, workspace)
}

func runRevise(recipePath, instruction, workspace string) error {
	rec, err := recipe.Load(recipePath)
	if err != nil {
		return err
	}

	cfg := config.Load()
	chain := revise.NewChain(revise.NewOllamaProvider(cfg.OllamaHost, cfg.OllamaModel))
	revised := chain.Revise(context.Background(), rec, instruction)

	if revised.Version == rec.Version {
		fmt.Println("Revision unchanged, re-rendering original recipe")
	} else if err := revised.WriteJSON(recipePath); err != nil {
		return fmt.Errorf("write revised recipe: %w", err)
	}
	return renderRecipe(revised, workspace)
}

func renderRecipe(rec recipe.Recipe, workspace string) error {
	ws, err := render.NewWorkspace(workspace)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	name, err := render.NewEngine(ws).Render(rec)
	if err != nil {
		return err
	}
	fmt.Printf("Rendered %s\n", name)
	return nil
}
