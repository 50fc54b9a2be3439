package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentgraph/config"
	"github.com/hupe1980/agentgraph/engine"
	"github.com/hupe1980/agentgraph/logging"
)

var rootCmd = &cobra.Command{
	Use:   "agentgraph",
	Short: "agentgraph runs actor graphs of LLM processors and tools",
	Long: `agentgraph executes app definitions: a set of processor actors wired by
template references, optionally driven by a tool-calling agent.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a TOML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}

	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg config.Config) *logging.StructuredLogger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.ParseLevel(cfg.Log.Level),
		Format:    cfg.Log.Format,
		Output:    cmd.ErrOrStderr(),
		Component: "agentgraph",
	})
}

func providerConfig(cfg config.Config) engine.ProviderConfig {
	return engine.ProviderConfig{
		OpenAIModel:     cfg.Models.OpenAIModel,
		AnthropicModel:  cfg.Models.AnthropicModel,
		AnthropicAPIKey: cfg.Models.AnthropicAPIKey,
	}
}
