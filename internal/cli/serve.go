package cli

import (
	"github.com/spf13/cobra"

	"github.com/cyradotpink/influencer/internal/gateway"
	"github.com/cyradotpink/influencer/internal/obsws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the OBS session over HTTP.",
	Long: `Keeps one OBS session open and serves:

  GET  /status           session state
  POST /requests/:type   body is requestData, ?id= sets requestId
  POST /batch            body is a RequestBatch
  GET  /events           server-sent events, one per OBS event`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, logger, err := session(cmd, obsws.Subscriptions(obsws.SubAll))
		if err != nil {
			return err
		}
		defer client.Close()

		if cmd.Flags().Changed("listen") {
			cfg.Listen, _ = cmd.Flags().GetString("listen")
		}
		srv := gateway.NewServer(client, logger)
		addr, err := srv.Start(cfg.Listen)
		if err != nil {
			return err
		}
		defer srv.Stop()
		printStatus(cmd.ErrOrStderr(), "listening on", "http://"+addr.String())

		select {
		case <-cmd.Context().Done():
			return nil
		case <-client.Done():
			return client.Err()
		}
	},
}

func init() {
	serveCmd.Flags().String("listen", "127.0.0.1:8455", "HTTP listen address")
	rootCmd.AddCommand(serveCmd)
}
