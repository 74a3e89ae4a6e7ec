package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/taskpilot/internal/monitor"
)

var (
	watchServer   string
	watchInterval time.Duration
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchServer, "server", "http://localhost:9191", "taskpilot server URL")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "Refresh interval")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard for a running server",
	Long: `Poll a taskpilot server and render the session, task table and recent log.

Keys: r refreshes, q quits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if watchInterval <= 0 {
			return fmt.Errorf("--interval must be positive")
		}
		p := tea.NewProgram(monitor.NewModel(watchServer, watchInterval),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()))
		_, err := p.Run()
		return err
	},
}
