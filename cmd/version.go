// File: cmd/version.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/ctlbridge/api/schemas"
)

// Version is the application version.
// Set at build time: go build -ldflags "-X github.com/xkilldash9x/ctlbridge/cmd.Version=1.0.0"
var Version = "0.1.0"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the version and wire protocol",
		Args:  cobra.NoArgs,
		// The version never needs configuration or a logger.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ctlbridge %s (protocol %d)\n", Version, schemas.ProtocolVersion)
		},
	}
}
