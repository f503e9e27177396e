// Package commands implements nfs4cbd's CLI commands.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "nfs4cbd",
	Short: "nfs4cb - NFSv4 callback channel engine",
	Long: `nfs4cbd hosts the NFSv4 server-side callback channel: CB_SEQUENCE
slot/session management and the CB_COMPOUND dispatch engine for
CB_RECALL, CB_RECALL_ANY, CB_GETATTR, CB_LAYOUTRECALL, CB_NOTIFY_LOCK,
and CB_OFFLOAD.

Use "nfs4cbd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
// Called once by main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/nfs4cb/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(initCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
