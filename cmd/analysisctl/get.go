package main

import (
	"time"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get JOB_ID",
	Short: "Show an analysis job",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var (
	getWait         bool
	getPollInterval time.Duration
)

func init() {
	getCmd.Flags().BoolVar(&getWait, "wait", false, "Poll until the job reaches a terminal status")
	getCmd.Flags().DurationVar(&getPollInterval, "poll-interval", 2*time.Second, "Polling interval used with --wait")
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	client := newAPIClient(apiURL)
	if getWait {
		view, err := waitForJob(cmd, client, args[0], getPollInterval)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), view)
	}
	view, err := client.get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), view)
}

func waitForJob(cmd *cobra.Command, client *apiClient, jobID string, every time.Duration) (map[string]any, error) {
	ctx := cmd.Context()
	for {
		view, err := client.get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		switch view["status"] {
		case "SUCCEEDED", "FAILED":
			return view, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(every):
		}
	}
}
