package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/ctlbridge/api/schemas"
	"github.com/xkilldash9x/ctlbridge/internal/bridge"
	"github.com/xkilldash9x/ctlbridge/internal/observability"
)

// newModeCmd creates the `mode` command.
func newModeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "mode ai|human",
		Short:     "Announces a control-mode change to the decision server",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"ai", "human"},
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := schemas.ControlMode(strings.ToUpper(args[0]))
			if !mode.Valid() {
				return fmt.Errorf("unknown mode %q: expected ai or human", args[0])
			}

			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			session := bridge.NewSession(bridge.OptionsFromConfig(cfg.Bridge()), observability.GetLogger())
			defer session.Close()

			if !session.SendControlMode(ctx, mode) {
				return fmt.Errorf("%s: decision server did not acknowledge mode %s", session.Address(), mode)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mode %s acknowledged by %s\n", mode, session.Address())
			return nil
		},
	}
}
