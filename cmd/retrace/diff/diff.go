// Package diffcmder provides the diff command for comparing two cassettes.
package diffcmder

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/retracehq/retrace/pkg/config"
	"github.com/retracehq/retrace/pkg/diff"
	"github.com/retracehq/retrace/pkg/storage"
	"github.com/retracehq/retrace/pkg/storage/open"
)

type DiffCommander struct {
	asJSON bool
	dir    string
}

const diffLongDesc string = `Compare two cassettes recorded for the same endpoint.

The first key is the baseline, the second the comparison. Exits non-zero
when a regression is detected, so the command slots into CI:

  retrace diff 2026-08-20/GET_users_a1b2.json 2026-08-23/GET_users_c3d4.json`

func NewDiffCmd() *cobra.Command {
	cmder := &DiffCommander{}

	cmd := &cobra.Command{
		Use:   "diff <baseline> <comparison>",
		Short: "Compare two cassettes",
		Long:  diffLongDesc,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args[0], args[1])
		},
	}

	cmd.Flags().BoolVar(&cmder.asJSON, "json", false, "Emit the report as JSON")
	cmd.Flags().StringVar(&cmder.dir, "dir", "", "Cassette directory (overrides config)")

	return cmd
}

func (c *DiffCommander) run(cmd *cobra.Command, keyA, keyB string) error {
	configDir, err := cmd.Flags().GetString("config-dir")
	if err != nil {
		return fmt.Errorf("could not get config-dir flag: %v", err)
	}

	v, err := config.InitViper(configDir)
	if err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if c.dir != "" {
		cfg.CassetteDir = c.dir
	}

	store, err := open.Store(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	casA, err := storage.LoadCassette(cmd.Context(), store, keyA)
	if err != nil {
		return fmt.Errorf("loading baseline: %w", err)
	}
	casB, err := storage.LoadCassette(cmd.Context(), store, keyB)
	if err != nil {
		return fmt.Errorf("loading comparison: %w", err)
	}

	report := diff.Compare(casA, casB, keyA, keyB)

	if c.asJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	} else {
		fmt.Fprint(cmd.OutOrStdout(), diff.Format(report))
	}

	if report.IsRegression {
		return fmt.Errorf("regression detected between %s and %s", keyA, keyB)
	}
	return nil
}
