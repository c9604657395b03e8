// Package commands implements the pgbasebackup agent CLI.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pgbasebackup/agent/cmd/pgbasebackup/commands/backup"
	"github.com/pgbasebackup/agent/cmd/pgbasebackup/commands/restore"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "pgbasebackup-agent",
	Short: "Continuous PostgreSQL base-backup agent",
	Long: `pgbasebackup-agent schedules, executes, and restores PostgreSQL
physical base backups against an object store, with content-addressed
delta dedup and preservation holds on top of normal retention.

Use "pgbasebackup-agent [command] --help" for more information about a
command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/pgbasebackup/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(backup.Cmd)
	rootCmd.AddCommand(restore.Cmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}
