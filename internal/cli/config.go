package cli

import (
	"github.com/spf13/cobra"

	"github.com/cyradotpink/influencer/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the settings file.",
}

var configInitCmd = &cobra.Command{
	Use:   "init [PATH]",
	Short: "Write the effective settings to a file.",
	Long: `Writes the settings obsctl would use right now (defaults, --config file,
environment, flags) to PATH, or to the --config path when PATH is omitted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		path, _ := cmd.Flags().GetString("config")
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			path = "obsctl.json"
		}
		store := config.NewStore(path)
		store.Set(cfg)
		if err := store.Save(); err != nil {
			return err
		}
		printStatus(cmd.ErrOrStderr(), "wrote", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		shown := *cfg
		if shown.Password != "" {
			shown.Password = "********"
		}
		if shown.Redis.Password != "" {
			shown.Redis.Password = "********"
		}
		return writeJSON(cmd.OutOrStdout(), shown, cfg.Compact)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
