package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/ctlbridge/api/schemas"
	"github.com/xkilldash9x/ctlbridge/internal/agent"
	"github.com/xkilldash9x/ctlbridge/internal/bridge"
	"github.com/xkilldash9x/ctlbridge/internal/engine"
	"github.com/xkilldash9x/ctlbridge/internal/humanoid"
	"github.com/xkilldash9x/ctlbridge/internal/observability"
	"github.com/xkilldash9x/ctlbridge/internal/sensor"
	"github.com/xkilldash9x/ctlbridge/internal/simulation"
)

// newRunCmd creates the `run` command.
func newRunCmd() *cobra.Command {
	var (
		initialMode string
		duration    time.Duration
		console     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drives the built-in arena, handing control between the console and the decision server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			mode := schemas.ControlMode(upper(initialMode))
			if !mode.Valid() {
				return fmt.Errorf("unknown mode %q: expected ai or human", initialMode)
			}
			logger := observability.GetLogger()

			// -- Wiring --
			kb := humanoid.NewKeyboard()
			arena := simulation.New(cfg.Simulation(), kb)
			session := bridge.NewSession(bridge.OptionsFromConfig(cfg.Bridge()), logger)

			orch, err := agent.New(
				session,
				sensor.NewCollector(arena),
				humanoid.NewActuator(kb, arena, logger),
				humanoid.NewDetector(kb),
				cfg.Agent(),
				logger,
			)
			if err != nil {
				_ = session.Close()
				return fmt.Errorf("failed to create orchestrator: %w", err)
			}
			defer orch.Close()

			world := engine.HandlerFunc(func(context.Context) error {
				switch ev := arena.Step(); ev {
				case simulation.EventDied:
					logger.Info("Actor died.")
				case simulation.EventRespawned:
					logger.Info("Actor respawned; resetting orchestrator.")
					orch.Reset()
				}
				return nil
			})
			loop, err := engine.New(cfg.Engine(), engine.Chain(world, orch), logger)
			if err != nil {
				return fmt.Errorf("failed to create tick loop: %w", err)
			}

			if mode == schemas.ModeAI {
				orch.SetMode(schemas.ModeAI)
			}

			// -- Execution --
			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			if duration > 0 {
				runCtx, cancel = context.WithTimeout(runCtx, duration)
				defer cancel()
			}

			g, gctx := errgroup.WithContext(runCtx)
			g.Go(func() error { return loop.Run(gctx) })
			if console {
				c := &operatorConsole{
					out:    cmd.OutOrStdout(),
					orch:   orch,
					kb:     kb,
					arena:  arena,
					loop:   loop,
					cancel: cancel,
				}
				g.Go(func() error { return c.run(gctx, cmd.InOrStdin()) })
			}

			logger.Info("Bridge running.",
				zap.String("decision_server", session.Address()),
				zap.Stringer("mode", orch.Mode()),
				zap.Duration("tick_interval", loop.Interval()))

			if err := g.Wait(); err != nil {
				return err
			}

			printStats(cmd.OutOrStdout(), orch, arena, loop)
			return nil
		},
	}

	cmd.Flags().StringVar(&initialMode, "mode", "human", "initial control mode (ai or human)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().BoolVar(&console, "console", true, "read operator commands from stdin")
	return cmd
}
