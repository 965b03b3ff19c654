// File: cmd/config.go
package cmd

import (
	"fmt"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/irpa-agent/internal/observability"
	"github.com/xkilldash9x/irpa-agent/internal/transport"
)

func newConfigCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or change the persisted agent configuration.",
	}
	cmd.AddCommand(newSetAddressCmd(s))
	cmd.AddCommand(newShowConfigCmd())
	return cmd
}

func newSetAddressCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "set-address <address>",
		Short: "Validate and persist the controller address.",
		Long: `Stores the controller address in the config file used by this invocation,
or ./irpa-agent.yaml when there is none. ws://, wss:// and the legacy tcp://host:port
form are accepted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := args[0]
			u, err := transport.ParseAddress(address)
			if err != nil {
				return err
			}

			target, err := configTarget(s)
			if err != nil {
				return err
			}
			s.v.Set("agent.address", address)
			if err := s.v.WriteConfigAs(target); err != nil {
				return fmt.Errorf("failed to write %s: %w", target, err)
			}

			observability.GetLogger().Info("Controller address saved.",
				zap.String("address", address),
				zap.String("resolved", u.String()),
				zap.String("file", target),
			)
			cmd.Printf("Controller address set to %s (%s)\n", address, target)
			return nil
		},
	}
}

// configTarget picks the file set-address writes to.
func configTarget(s *settings) (string, error) {
	if s.cfgFile != "" {
		return homedir.Expand(s.cfgFile)
	}
	if used := s.v.ConfigFileUsed(); used != "" {
		return used, nil
	}
	return defaultConfigName + ".yaml", nil
}

func newShowConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to render configuration: %w", err)
			}
			cmd.Print(string(out))
			return nil
		},
	}
}
