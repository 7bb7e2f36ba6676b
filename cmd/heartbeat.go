package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ctlbridge/internal/bridge"
	"github.com/xkilldash9x/ctlbridge/internal/observability"
)

var errNoHeartbeat = errors.New("decision server did not answer the heartbeat")

// newHeartbeatCmd creates the `heartbeat` command.
func newHeartbeatCmd() *cobra.Command {
	var (
		wait    bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Checks that the decision server is reachable and healthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			session := bridge.NewSession(bridge.OptionsFromConfig(cfg.Bridge()), logger)
			defer session.Close()

			attempts := 0
			operation := func() error {
				attempts++
				if session.Heartbeat(ctx) {
					return nil
				}
				return errNoHeartbeat
			}

			if !wait {
				err = operation()
			} else {
				b := backoff.NewExponentialBackOff()
				b.InitialInterval = cfg.Bridge().Heartbeat.InitialInterval
				b.MaxInterval = cfg.Bridge().Heartbeat.MaxInterval
				b.MaxElapsedTime = timeout
				notify := func(err error, next time.Duration) {
					logger.Info("Decision server not ready, retrying...",
						zap.Int("attempt", attempts), zap.Duration("next", next))
				}
				err = backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", session.Address(), err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "OK %s (attempts=%d)\n", session.Address(), attempts)
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "retry with exponential backoff until the server answers")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up waiting after this long")
	return cmd
}
