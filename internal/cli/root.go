// Package cli provides the command-line interface for squadchat.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/SachiPatankar/buildasquad-sub000/internal/client"
	"github.com/SachiPatankar/buildasquad-sub000/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config, logger and collaborator client
	cfg        config.Config
	logger     *slog.Logger
	logCleanup func() error
	api        *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "squadchat",
	Short: "Realtime chat client for BuildASquad",
	Long: `Squadchat is the realtime chat and notification client for the
BuildASquad team-matchmaking platform.

It keeps a local view of your conversations consistent with the live push
stream: message history, optimistic sends, unread badges and pending
connection requests.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}

		logger, logCleanup = config.SetupLogger(cfg.LogFile, cfg.LogLevel)

		if cfg.SessionToken == "" {
			return fmt.Errorf("no session token: set SQUADCHAT_SESSION_TOKEN or session_token in ~/.squadchat.yaml")
		}

		api = client.New(cfg.APIURL, cfg.SessionToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCleanup != nil {
			if err := logCleanup(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(unreadCmd)
	rootCmd.AddCommand(openCmd)
}
