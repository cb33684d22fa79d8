package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/cyradotpink/influencer/internal/obsws"
	"github.com/cyradotpink/influencer/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch NAME [DATA]",
	Short: "Poll a request and print fields that change.",
	Long: `Sends request NAME every --interval and prints one JSON line per top-level
responseData field whose value changed, for example:

  obsctl watch GetStats --field renderSkippedFrames --field outputSkippedFrames`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var arg string
		if len(args) == 2 {
			arg = args[1]
		}
		data, err := parseData(arg)
		if err != nil {
			return err
		}
		interval, _ := cmd.Flags().GetDuration("interval")
		fields, _ := cmd.Flags().GetStringSlice("field")

		client, _, logger, err := session(cmd, obsws.Subscriptions(obsws.SubNone))
		if err != nil {
			return err
		}
		defer client.Close()

		p := watch.NewPoller(client, args[0], data, logger)
		p.Track(fields...)

		out := cmd.OutOrStdout()
		if err := p.Start(cmd.Context(), interval, func(c watch.Change) {
			_ = writeJSON(out, struct {
				Time string `json:"time"`
				watch.Change
			}{time.Now().Format(time.RFC3339), c}, true)
		}); err != nil {
			return err
		}
		defer p.Stop()

		select {
		case <-p.Done():
			if cmd.Context().Err() != nil {
				return nil
			}
			return p.Err()
		case <-client.Done():
			return client.Err()
		}
	},
}

func init() {
	watchCmd.Flags().Duration("interval", time.Second, "Time between polls")
	watchCmd.Flags().StringSlice("field", nil, "Only report this field, repeatable")
	rootCmd.AddCommand(watchCmd)
}
