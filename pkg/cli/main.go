// Package cli builds the repokit command line: it loads configuration, wires
// the configured store and event bus, and runs commands against them.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimburion/repokit/pkg/config"
	"github.com/nimburion/repokit/pkg/migrate"
	"github.com/nimburion/repokit/pkg/observability/logger"
	"github.com/nimburion/repokit/pkg/version"
)

// Options configures the root command.
type Options struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string
}

// NewRootCommand creates the CLI with scenario, healthcheck, migrate, config and version subcommands.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "repokit"
	}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var cfgPath, envPrefix, secretFilePath string
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", opts.ConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&envPrefix, "env-prefix", opts.EnvPrefix, "environment variable prefix (default APP)")
	rootCmd.PersistentFlags().StringVar(&secretFilePath, "secret-file", "", "path to secrets file (sets <PREFIX>_SECRETS_FILE)")

	loadConfig := func() (*config.Config, *config.Config, logger.Logger, error) {
		return LoadConfigAndLogger(cfgPath, envPrefix, secretFilePath, opts.Name)
	}

	// version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current(opts.Name)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go:         %s\n", info.GoVersion)
		},
	})

	// scenario command
	var (
		scenario     ScenarioOptions
		printMetrics bool
	)
	scenarioCmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run the book soft-delete scenario against the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := logger.ContextWithCorrelationID(cmd.Context(), fmt.Sprintf("scenario-%d", time.Now().UnixNano()))
			log = log.WithContext(ctx)
			rt, err := NewRuntime(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := rt.Close(context.WithoutCancel(ctx)); closeErr != nil {
					log.Error("failed to close runtime", "error", closeErr)
				}
			}()

			if err := RunScenario(ctx, rt, scenario, cmd.OutOrStdout()); err != nil {
				return err
			}
			if printMetrics {
				return writeMetrics(cmd, rt)
			}
			return nil
		},
	}
	scenarioCmd.Flags().StringVar(&scenario.Title, "title", "X", "title of the scenario book")
	scenarioCmd.Flags().StringVar(&scenario.Author, "author", "Y", "author of the scenario book")
	scenarioCmd.Flags().BoolVar(&printMetrics, "print-metrics", false, "print collected metrics after the scenario")
	rootCmd.AddCommand(scenarioCmd)

	// healthcheck command
	var healthTimeout time.Duration
	healthCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check connectivity to the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, log, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := NewRuntime(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(context.WithoutCancel(cmd.Context())) }()

			report := rt.Health(healthTimeout).Check(cmd.Context())
			for _, res := range report.Checks {
				line := fmt.Sprintf("%-9s %s (%s)", res.Name, res.Status, res.Duration.Round(time.Millisecond))
				if res.Error != "" {
					line += ": " + res.Error
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			if !report.Healthy() {
				return errors.New("unhealthy")
			}
			return nil
		},
	}
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "health check timeout")
	rootCmd.AddCommand(healthCmd)

	// migrate command
	migrateCmd := &cobra.Command{
		Use:   "migrate [up|down|status] [steps]",
		Short: "Apply or revert the bundled SQL migrations",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			subcommand, steps, err := migrate.ParseArgs(args)
			if err != nil {
				return err
			}
			cfg, _, log, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := NewRuntime(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(context.WithoutCancel(cmd.Context())) }()

			m, err := newMigrator(rt)
			if err != nil {
				return err
			}
			if m == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s store has no schema to migrate\n", rt.Backend.Type)
				return nil
			}
			return migrate.Run(cmd.Context(), m, subcommand, steps, cmd.OutOrStdout())
		},
	}
	rootCmd.AddCommand(migrateCmd)

	// config command
	var showSecrets bool
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, secrets, _, err := loadConfig()
			if err != nil {
				return err
			}
			if showSecrets {
				secrets = nil
			}
			fmt.Fprint(cmd.OutOrStdout(), cfg.Redacted(secrets))
			return nil
		},
	}
	configCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	rootCmd.AddCommand(configCmd)

	return rootCmd
}

// LoadConfigAndLogger loads configuration with secrets and builds the logger
// it selects. The second result holds the values read from the secrets file.
func LoadConfigAndLogger(cfgPath, envPrefix, secretFilePath, defaultServiceName string) (*config.Config, *config.Config, logger.Logger, error) {
	envPrefix = resolveEnvPrefix(envPrefix)
	if err := applySecretFileFlag(envPrefix, secretFilePath); err != nil {
		return nil, nil, nil, err
	}
	cfg, secrets, err := config.NewViperLoader(cfgPath, envPrefix).
		WithServiceNameDefault(defaultServiceName).
		LoadWithSecrets()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(cfg.Observability.LogLevel),
		Format: logger.LogFormat(cfg.Observability.LogFormat),
		// stdout carries command output
		Output: os.Stderr,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create logger: %w", err)
	}

	logConfigIfDebug(log, cfg, secrets)
	return cfg, secrets, log, nil
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(resolveEnvPrefix(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

func writeMetrics(cmd *cobra.Command, rt *Runtime) error {
	return rt.Metrics.WriteText(cmd.OutOrStdout(), rt.Config.Observability.MetricsNamespace+"_")
}

// Execute runs the command and exits with appropriate code.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func logConfigIfDebug(log logger.Logger, cfg, secrets *config.Config) {
	if log == nil || cfg == nil {
		return
	}

	if !strings.EqualFold(cfg.Observability.LogLevel, string(logger.DebugLevel)) {
		return
	}

	log.Debug("effective configuration", "config", cfg.Redacted(secrets))
}

func resolveEnvPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return "APP"
	}
	return strings.ToUpper(trimmed)
}
