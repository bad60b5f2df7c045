// Package showcmder provides the show command for inspecting one cassette.
package showcmder

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/retracehq/retrace/pkg/cassette"
	"github.com/retracehq/retrace/pkg/config"
	"github.com/retracehq/retrace/pkg/storage"
	"github.com/retracehq/retrace/pkg/storage/open"
	"github.com/retracehq/retrace/pkg/utils"
)

type ShowCommander struct {
	asJSON bool
	dir    string
}

const showLongDesc string = `Print one cassette: session metadata, the recorded request and response,
and every dependency event in replay order.

  retrace show 2026-08-23/GET_users_id_a1b2c3d4.json`

func NewShowCmd() *cobra.Command {
	cmder := &ShowCommander{}

	cmd := &cobra.Command{
		Use:   "show <key>",
		Short: "Print one cassette",
		Long:  showLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&cmder.asJSON, "json", false, "Dump the decoded cassette as JSON")
	cmd.Flags().StringVar(&cmder.dir, "dir", "", "Cassette directory (overrides config)")

	return cmd
}

func (c *ShowCommander) run(cmd *cobra.Command, key string) error {
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

	cas, err := storage.LoadCassette(cmd.Context(), store, key)
	if err != nil {
		return err
	}

	if c.asJSON {
		data, err := json.MarshalIndent(cas, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	printCassette(cmd, cas)
	return nil
}

func printCassette(cmd *cobra.Command, cas *cassette.Cassette) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Session:  %s\n", cas.Session.ID)
	fmt.Fprintf(out, "Recorded: %s  service=%s env=%s\n",
		cas.Session.RecordedAt.Format("2006-01-02 15:04:05 MST"), cas.Session.Service, cas.Session.Env)
	fmt.Fprintf(out, "Request:  %s %s\n", cas.Request.Method, cas.Request.Path)
	fmt.Fprintf(out, "Response: %d  (%.1fms)\n", cas.Response.Status, cas.Response.DurationMS)
	if cas.ErrorInfo != nil {
		fmt.Fprintf(out, "Error:    %s: %s\n", cas.ErrorInfo.Type, cas.ErrorInfo.Message)
	}

	fmt.Fprintf(out, "\nEvents (%d):\n", len(cas.Events))
	for _, ev := range cas.Events {
		outcome := fmt.Sprintf("%d", ev.Result.Status)
		if ev.Result.IsError() {
			outcome = "ERR " + ev.Result.Error.Type
		}
		fmt.Fprintf(out, "  #%-3d %-12s %-50s %s  %.1fms\n",
			ev.EID, ev.Type, utils.Truncate(ev.Signature.Summary(), 50), outcome, ev.DurationMS)
	}
}
