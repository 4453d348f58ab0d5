// Package commands provides the CLI commands for chatpanel.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/chatpanel-ai/chatpanel/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel   string
	prettyLogs bool
	workDir    string
)

var rootCmd = &cobra.Command{
	Use:   "chatpanel",
	Short: "chatpanel - assistant chat session engine",
	Long: `chatpanel drives an editor-embedded assistant chat surface: it
reconciles the assistant's streaming event feed into a conversation model,
derives the grouped timeline, and governs tool-permission requests.

Run 'chatpanel run' to attach an assistant process on stdio, or
'chatpanel serve' to expose the engine to an editor webview.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
		logging.Init(logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Pretty: prettyLogs,
		})
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty-logs", false, "Human-readable log output")
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "d", "", "Working directory (defaults to cwd)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("chatpanel %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// getWorkDir returns the working directory from flag or current directory.
func getWorkDir() (string, error) {
	if workDir != "" {
		return workDir, nil
	}
	return os.Getwd()
}
