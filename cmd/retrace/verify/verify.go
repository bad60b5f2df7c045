// Package verifycmder provides the verify command for integrity-checking
// stored cassettes.
package verifycmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/retracehq/retrace/pkg/config"
	"github.com/retracehq/retrace/pkg/logger"
	"github.com/retracehq/retrace/pkg/storage/open"
	"github.com/retracehq/retrace/pkg/worker"
)

type VerifyCommander struct {
	prefix  string
	dir     string
	workers uint
}

const verifyLongDesc string = `Decode and integrity-check stored cassettes.

Every cassette under the prefix is loaded, decoded, and checked for a
replayable event stream. Exits non-zero when any cassette fails.`

func NewVerifyCmd() *cobra.Command {
	cmder := &VerifyCommander{}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Integrity-check stored cassettes",
		Long:  verifyLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.prefix, "prefix", "p", "", "Only verify keys under this prefix")
	cmd.Flags().StringVar(&cmder.dir, "dir", "", "Cassette directory (overrides config)")
	cmd.Flags().UintVarP(&cmder.workers, "workers", "w", 0, "Number of concurrent verifiers")

	return cmd
}

func (c *VerifyCommander) run(cmd *cobra.Command) error {
	debug, err := cmd.Flags().GetBool("debug")
	if err != nil {
		return fmt.Errorf("could not get debug flag: %v", err)
	}
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

	log := logger.New(logger.WithDebug(debug || cfg.Debug))
	defer log.Sync() //nolint:errcheck

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

	pool, err := worker.NewPool(&worker.Config{
		Store:      store,
		NumWorkers: c.workers,
		QueueSize:  uint(len(keys)),
		Logger:     log,
	})
	if err != nil {
		return err
	}

	for _, key := range keys {
		pool.Enqueue(worker.Job{Key: key})
	}
	pool.Close()

	failed := 0
	for _, res := range pool.Results() {
		if !res.OK() {
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", res.Key, res.Err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d cassettes checked, %d failed\n", len(keys), failed)
	if failed > 0 {
		return fmt.Errorf("%d cassettes failed verification", failed)
	}
	return nil
}
