package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/tokenmeter/tokenmeter/internal/version"
)

func main() {
	if os.Getenv("TOKENMETER_DEBUG") != "" {
		log.SetOutput(os.Stderr)
	} else {
		log.SetOutput(io.Discard)
	}

	var cfgFile string

	root := cobra.Command{
		Use:     "tokenmeter",
		Short:   "tokenmeter aggregates AI coding session logs into billing-block usage totals.",
		Version: version.String(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd.Context(), cfgFile)
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	root.AddCommand(newSnapshotCommand(&cfgFile))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
