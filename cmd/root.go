package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the notably application
var rootCmd = &cobra.Command{
	Use:   "notably",
	Short: "Notes backend with Gmail and Calendar integration",
	Long: `notably is the backend for a notes application that signs users in
with Google, shows their Gmail inbox next to their notes, and turns note
reminders into Google Calendar events.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "notably version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
