// Package main provides the parley command: an HTTP service and terminal
// client for staged, memory-aware conversations with an OpenAI-compatible
// model.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/entrhq/parley/pkg/agent"
	"github.com/entrhq/parley/pkg/config"
	"github.com/entrhq/parley/pkg/logging"
	"github.com/entrhq/parley/pkg/session"
	"github.com/spf13/cobra"
)

const version = "0.1.0" // Version of the parley service

var (
	// Global flags
	configPath string
	model      string
	apiKey     string
	baseURL    string
	verbose    bool

	// cfg is loaded once per invocation by the root command.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "parley",
	Short:   "Staged conversation service with long-term memory",
	Version: version,
	Long: `parley runs a multi-stage conversation engine on top of an
OpenAI-compatible chat model.

Each session moves through configured stages, keeps its history within the
model's context window by summarizing old messages, and can recall long-term
facts about the user.

Configuration is read from ~/.parley/config.yaml unless --config is given.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		if level != "" {
			if err := logging.SetLevel(level); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "Model for every stage (overrides the config file)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "OpenAI API key (or set OPENAI_API_KEY env)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "OpenAI API base URL (or set OPENAI_BASE_URL env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(factsCmd)
}

func main() {
	// Create context with signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nShutting down gracefully...")
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		os.Exit(1)
	}
}

// buildEngine opens the session store and assembles the orchestrator from
// the loaded configuration and the provider flags. The caller closes the
// returned store.
func buildEngine() (*agent.Orchestrator, session.Store, error) {
	provider, resolved, err := config.BuildProvider(cfg, model, baseURL, apiKey)
	if err != nil {
		return nil, nil, err
	}

	store, err := cfg.OpenStore()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session store: %w", err)
	}

	orch, err := cfg.NewOrchestrator(store, provider, resolved.Model)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	return orch, store, nil
}
