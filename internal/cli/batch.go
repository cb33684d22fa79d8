package cli

import (
	"github.com/spf13/cobra"

	"github.com/cyradotpink/influencer/internal/obsws"
)

var batchCmd = &cobra.Command{
	Use:   "batch DATA",
	Short: "Send a batch of requests and wait for the combined response.",
	Long: `DATA is a JSON array of {"requestType", "requestData"?, "requestId"?}
objects. Per-request failures are reported in the printed results.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reqs, err := parseBatch(args[0])
		if err != nil {
			return err
		}
		batch := obsws.RequestBatch{Requests: reqs}
		halt, _ := cmd.Flags().GetBool("halt-on-failure")
		batch.HaltOnFailure = &halt
		if cmd.Flags().Changed("execution-type") {
			n, _ := cmd.Flags().GetInt("execution-type")
			exec := obsws.ExecutionType(n)
			batch.ExecutionType = &exec
		}

		client, cfg, _, err := session(cmd, obsws.Subscriptions(obsws.SubNone))
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.RequestBatch(cmd.Context(), batch)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), resp, cfg.Compact)
	},
}

func init() {
	batchCmd.Flags().Bool("halt-on-failure", false, "Stop processing requests after the first failure")
	batchCmd.Flags().Int("execution-type", int(obsws.ExecSerialRealtime),
		"-1 none, 0 serial realtime, 1 serial frame, 2 parallel")
	rootCmd.AddCommand(batchCmd)
}
