// Package cli provides the campushub CLI commands.
package cli

import (
	"fmt"
	"os"

	"github.com/campushub/campushub/config"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "campushub",
	Short: "campushub - real-time notifications for the campus social platform",
	Long: `campushub delivers notifications (new answers, mentions, achievements,
streaks, moderation decisions) to signed-in students in real time.

It provides:
  - The notification API and push channel with 'campushub serve'
  - The background worker for emitted events with 'campushub worker'
  - Event injection for collaborators with 'campushub emit'
  - A terminal client with 'campushub listen'`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(cfgFile, cfgFile != "", nil); err != nil {
			return err
		}
		config.SetupLogging(config.GetLogConfig())
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default searches /etc/campushub, $HOME/.campushub and .)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(emitCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}
