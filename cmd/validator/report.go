package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"validator/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize an event log into metrics_summary.csv and metrics_summary.html",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("events")
		out, _ := cmd.Flags().GetString("out")
		rows, err := report.Generate(path, out)
		if err != nil {
			return err
		}
		failed := 0
		for _, r := range rows {
			if !r.Consensus {
				failed++
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "summarized %d requests (%d without consensus) into %s\n", len(rows), failed, out)
		return nil
	},
}

func init() {
	reportCmd.Flags().String("events", "events.jsonl", "event log to read")
	reportCmd.Flags().String("out", ".", "output directory")
}
