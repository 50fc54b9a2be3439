package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentgraph/app"
	"github.com/hupe1980/agentgraph/coordinator"
	"github.com/hupe1980/agentgraph/processor"
	"github.com/hupe1980/agentgraph/template"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check an app definition and print its actor graph",
	Long: `Parses the app definition, resolves every processor and computes the
dependencies of each actor without running anything.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("app")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if err := runValidate(cmd.OutOrStdout(), path, providerConfig(cfg).RegisterChat); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}

		return nil
	},
}

func init() {
	validateCmd.Flags().String("app", "app.yaml", "Path to the app definition (YAML or JSON)")
	rootCmd.AddCommand(validateCmd)
}

// runValidate builds the run graph of the definition at path and prints
// every actor with its dependencies.
func runValidate(w io.Writer, path string, register func(*processor.Registry) error) error {
	def, err := app.Load(path)
	if err != nil {
		return err
	}

	cfgs, err := def.ActorConfigs()
	if err != nil {
		return err
	}

	renderer := template.Default()
	registry := processor.NewRegistry()
	if err := processor.RegisterBuiltins(registry, renderer); err != nil {
		return err
	}
	if register != nil {
		if err := register(registry); err != nil {
			return err
		}
	}

	c, err := coordinator.New(cfgs, func(o *coordinator.Options) {
		o.OutputTemplate = def.OutputTemplate
		o.Registry = registry
		o.Renderer = renderer
		o.Agent = def.Agent
		o.Models = validationModels
	})
	if err != nil {
		return err
	}
	defer c.Stop(context.Background())

	for _, name := range c.Actors() {
		deps := c.Dependencies(name)
		if len(deps) == 0 {
			fmt.Fprintf(w, "%s\n", name)
			continue
		}
		fmt.Fprintf(w, "%s <- %s\n", name, strings.Join(deps, ", "))
	}
	fmt.Fprintln(w, "app is valid")

	return nil
}
