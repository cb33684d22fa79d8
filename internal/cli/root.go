// Package cli implements the obsctl command tree.
package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var rootCmd = &cobra.Command{
	Use:   "obsctl",
	Short: "Talk to OBS Studio over obs-websocket v5.",
	Long: `obsctl sends requests and request batches to an OBS Studio instance,
streams its events as JSON, and can expose the session over HTTP or relay its
events to Redis.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree. Cancelling ctx stops long-running commands.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	addSessionFlags(rootCmd.PersistentFlags())
}

func addSessionFlags(f *pflag.FlagSet) {
	f.StringP("host", "H", "localhost", "OBS websocket host (env OBS_WS_HOST)")
	f.Uint16P("port", "p", 4455, "OBS websocket port (env OBS_WS_PORT)")
	f.StringP("password", "s", "", "OBS websocket password (env OBS_WS_PASSWORD)")
	f.BoolP("compact", "c", false, "Compact JSON output")
	f.Duration("timeout", 30*time.Second, "Per-request timeout, 0 to wait forever")
	f.Int("retry", 0, "Extra connection attempts with exponential backoff")
	f.String("log-level", "warn", "Log level: debug, info, warn, error (env OBSCTL_LOG_LEVEL)")
	f.String("config", "", "JSON settings file")
}
