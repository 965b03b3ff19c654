// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/irpa-agent/internal/config"
	"github.com/xkilldash9x/irpa-agent/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// defaultConfigName is looked up in the working directory when --config is not given.
const defaultConfigName = "irpa-agent"

// settings is shared between the root command and its subcommands.
type settings struct {
	v       *viper.Viper
	cfgFile string
}

// NewRootCommand builds a fresh command tree. Each call gets its own viper
// instance, so commands never share state.
func NewRootCommand() *cobra.Command {
	s := &settings{v: viper.New()}

	cmd := &cobra.Command{
		Use:           "irpa-agent",
		Short:         "irpa-agent executes remote automation commands on this device.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.SetDefaults(s.v)

			if err := initializeConfig(s); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(s.v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "irpa-agent"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Info("Starting irpa-agent", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&s.cfgFile, "config", "c", "", "config file (default is ./irpa-agent.yaml)")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cmd.AddCommand(newRunCmd(s))
	cmd.AddCommand(newConfigCmd(s))
	return cmd
}

// Execute runs the command tree with ctx, logging any failure.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		root.PrintErrln("Error:", err)
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file, if any, and enables env overrides.
func initializeConfig(s *settings) error {
	if s.cfgFile != "" {
		path, err := homedir.Expand(s.cfgFile)
		if err != nil {
			return fmt.Errorf("cannot expand config path %q: %w", s.cfgFile, err)
		}
		s.v.SetConfigFile(path)
	} else {
		s.v.AddConfigPath(".")
		s.v.SetConfigName(defaultConfigName)
		s.v.SetConfigType("yaml")
	}

	config.ConfigureEnv(s.v)

	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file yet; defaults and env vars apply.
	}
	return nil
}

// getConfigFromContext returns the configuration stored by PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in context")
	}
	return cfg, nil
}
