package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newSnapshotCommand builds a one-shot command: scan what is on disk now,
// print a single snapshot as JSON, exit.
func newSnapshotCommand(cfgFile *string) *cobra.Command {
	var settle time.Duration

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print a single usage snapshot as JSON and exit.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, _, cleanup, err := newEngine(*cfgFile)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			if err := eng.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = eng.Stop() }()

			// Give the tailer time to sweep existing files once.
			select {
			case <-time.After(settle):
			case <-ctx.Done():
				return ctx.Err()
			}

			snap, err := eng.Publish(ctx)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().DurationVar(&settle, "settle", 2*time.Second, "how long to wait for the initial scan")
	return cmd
}
