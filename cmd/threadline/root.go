package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/threadline/internal/cli"
	"github.com/aretw0/threadline/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// defaultConfigFile is read when --config is not given and the file exists.
const defaultConfigFile = "threadline.yaml"

var rootCmd = &cobra.Command{
	Use:   "threadline",
	Short: "Threadline is a conversational request orchestrator",
	Long: `Threadline routes each question through rewriting, relevance grading,
tool selection and answer synthesis, keeping per-thread memory so
follow-up questions stay coherent.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	addGlobalFlags(rootCmd.PersistentFlags())
}

func addGlobalFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "", "Path to the YAML configuration (default ./"+defaultConfigFile+" when present)")
	flags.Bool("debug", false, "Log every stage transition and capability call")
	flags.String("provider", "", "Generation provider: openrouter, openai, anthropic, gemini, ollama")
	flags.String("model", "", "Generation model")
	flags.String("store", "", "Checkpoint store: memory, file, sqlite, redis")
	flags.String("store-path", "", "Directory (file) or database path (sqlite) of the store")
}

// loadConfig resolves the configuration: defaults, file, environment, flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	cfg, err := config.Read(path)
	if err != nil {
		return cfg, err
	}

	overrides := map[string]*string{
		"provider":   &cfg.LLM.Provider,
		"model":      &cfg.LLM.Model,
		"store":      &cfg.Store.Driver,
		"store-path": &cfg.Store.Path,
	}
	for name, dst := range overrides {
		if cmd.Flags().Changed(name) {
			*dst, _ = cmd.Flags().GetString(name)
		}
	}
	return cfg, cfg.Validate()
}

// buildApp loads the configuration and assembles the engine.
func buildApp(cmd *cobra.Command, mutate ...func(*config.Config)) (*cli.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	for _, m := range mutate {
		m(&cfg)
	}
	debug, _ := cmd.Flags().GetBool("debug")
	app, err := cli.Build(cmd.Context(), cfg, cli.WithDebug(debug))
	if err != nil {
		return nil, fmt.Errorf("error initializing threadline: %w", err)
	}
	return app, nil
}
