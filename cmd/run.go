// File: cmd/run.go
package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/irpa-agent/internal/agent"
	"github.com/xkilldash9x/irpa-agent/internal/automation/sim"
	"github.com/xkilldash9x/irpa-agent/internal/metrics"
	"github.com/xkilldash9x/irpa-agent/internal/observability"
)

func newRunCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the controller and serve automation requests until interrupted.",
		Long: `Connects to the controller at agent.address and executes each request it sends.
The agent reconnects on its own if the controller goes away. Stop it with Ctrl+C.

Without a platform bridge the agent drives a simulated device.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			device := sim.New(logger, sim.DefaultOptions())
			defer device.Close()

			a, err := agent.New(ctx, cfg, device.Automation(), logger, agent.WithMetrics(metrics.New()))
			if err != nil {
				return err
			}
			defer a.Close()

			logger.Info("Serving controller.",
				zap.String("identity", a.Identity()),
				zap.String("address", cfg.Agent().Address),
				zap.Bool("metrics", cfg.Metrics().Enabled),
			)
			return a.Run(ctx)
		},
	}

	cmd.Flags().String("address", "", "controller address, overrides agent.address")
	cmd.Flags().Bool("metrics", false, "serve Prometheus metrics on metrics.listen_address")
	_ = s.v.BindPFlag("agent.address", cmd.Flags().Lookup("address"))
	_ = s.v.BindPFlag("metrics.enabled", cmd.Flags().Lookup("metrics"))
	return cmd
}
