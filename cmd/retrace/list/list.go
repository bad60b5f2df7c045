// Package listcmder provides the list command for browsing stored cassettes.
package listcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/retracehq/retrace/pkg/config"
	"github.com/retracehq/retrace/pkg/storage/open"
)

type ListCommander struct {
	prefix string
	dir    string
}

const listLongDesc string = `List stored cassettes.

Keys are date-partitioned, so a date prefix narrows the listing:
  retrace list --prefix 2026-08-23`

func NewListCmd() *cobra.Command {
	cmder := &ListCommander{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored cassettes",
		Long:  listLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.prefix, "prefix", "p", "", "Only list keys under this prefix")
	cmd.Flags().StringVar(&cmder.dir, "dir", "", "Cassette directory (overrides config)")

	return cmd
}

func (c *ListCommander) run(cmd *cobra.Command) error {
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

	keys, err := store.List(cmd.Context(), c.prefix)
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no cassettes found")
		return nil
	}
	for _, key := range keys {
		fmt.Fprintln(cmd.OutOrStdout(), key)
	}
	return nil
}
