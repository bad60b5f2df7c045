// Package retracecmder
package retracecmder

import (
	diffcmder "github.com/retracehq/retrace/cmd/retrace/diff"
	listcmder "github.com/retracehq/retrace/cmd/retrace/list"
	showcmder "github.com/retracehq/retrace/cmd/retrace/show"
	verifycmder "github.com/retracehq/retrace/cmd/retrace/verify"
	versioncmder "github.com/retracehq/retrace/cmd/retrace/version"
	"github.com/spf13/cobra"
)

const retraceLongDesc string = `Retrace records your service's dependency calls per request and replays
them deterministically.

Inspect recordings using:
  retrace list         List stored cassettes
  retrace show         Print one cassette's request, response, and events
  retrace diff         Compare two cassettes for the same endpoint
  retrace verify       Integrity-check stored cassettes`

const retraceShortDesc string = "Retrace - record and replay request dependencies"

func NewRetraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retrace",
		Short: retraceShortDesc,
		Long:  retraceLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Directory containing retrace.toml")

	// Add subcommands
	cmd.AddCommand(listcmder.NewListCmd())
	cmd.AddCommand(showcmder.NewShowCmd())
	cmd.AddCommand(diffcmder.NewDiffCmd())
	cmd.AddCommand(verifycmder.NewVerifyCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
