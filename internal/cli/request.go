package cli

import (
	"github.com/spf13/cobra"

	"github.com/cyradotpink/influencer/internal/obsws"
)

var requestCmd = &cobra.Command{
	Use:   "request NAME [DATA]",
	Short: "Send a request and wait for its response.",
	Long: `Sends one request of type NAME, with optional JSON DATA as requestData,
and prints the full response. Exits non-zero if OBS rejects the request.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw string
		if len(args) > 1 {
			raw = args[1]
		}
		data, err := parseData(raw)
		if err != nil {
			return err
		}
		id, _ := cmd.Flags().GetString("id")

		client, cfg, _, err := session(cmd, obsws.Subscriptions(obsws.SubNone))
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.Do(cmd.Context(), obsws.Request{Type: args[0], ID: id, Data: data})
		if err != nil {
			return err
		}
		if err := writeJSON(cmd.OutOrStdout(), resp, cfg.Compact); err != nil {
			return err
		}
		if !resp.Status.Result {
			return &obsws.RequestError{Type: resp.Type, ID: resp.ID, Code: resp.Status.Code, Comment: resp.Status.Comment}
		}
		return nil
	},
}

func init() {
	requestCmd.Flags().String("id", "", "requestId to send instead of a generated one")
	rootCmd.AddCommand(requestCmd)
}
