package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cfsupport/internal/config"
	"cfsupport/internal/logger"
)

var (
	configPath string
	kubeconfig string
	logLevel   string
	outputDir  string

	// cfg is loaded once per invocation in PersistentPreRunE.
	cfg *config.Config
)

func main() {
	rootCmd := NewRootCommand()

	// Set up context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCommand creates the cf-support command tree
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cf-support",
		Short: "Codefresh support package collector",
		Long: `cf-support collects Kubernetes resources, events, pod logs and Helm releases
from a Codefresh runtime namespace and archives them for support analysis.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			// Default action: show help
			cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a configuration file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&kubeconfig, "kubeconfig", "", "Path to the kubeconfig file (defaults to $KUBECONFIG or ~/.kube/config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warning, error")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output-dir", "o", "", "Directory the support package is written to")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Skip config loading for version command
		if cmd.Name() == "version" {
			return nil
		}

		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		applyFlagOverrides(cmd, loaded)
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = loaded

		ctx := logger.SetupLogger(cmd.Context(), cfg.LogLevel, cfg.LogDir)
		cmd.SetContext(ctx)
		return nil
	}

	rootCmd.AddCommand(NewGitOpsCommand())
	rootCmd.AddCommand(NewPipelinesCommand())
	rootCmd.AddCommand(NewOnPremCommand())
	rootCmd.AddCommand(NewOSSCommand())
	rootCmd.AddCommand(NewCheckCommand())
	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewUpgradeCommand())

	return rootCmd
}

// applyFlagOverrides lets explicitly set flags win over file and environment values.
func applyFlagOverrides(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("kubeconfig") {
		c.Kubeconfig = kubeconfig
	}
	if flags.Changed("log-level") {
		c.LogLevel = logLevel
	}
	if flags.Changed("output-dir") {
		c.OutputDir = outputDir
	}
}
