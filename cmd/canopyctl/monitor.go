package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/canopy/internal/client"
	"github.com/fyrsmithlabs/canopy/internal/monitor"
)

var monitorInterval time.Duration

func init() {
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 2*time.Second, "Refresh interval")
	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live dashboard of the tree and server activity",
	Long: `Open a terminal dashboard that follows the tree over the client protocol
and polls the admin API for server status.

Keys: q quit, r refresh status, s resync the replica.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	// updates are dropped rather than stalling the replica when the
	// dashboard falls behind; the next tick still shows the current tree
	updates := make(chan client.Update, 256)
	r, err := client.Dial(ctx, addr, client.Options{
		Token:       token,
		DialTimeout: 10 * time.Second,
		OnUpdate: func(u client.Update) {
			select {
			case updates <- u:
			default:
			}
		},
	})
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer r.Close()

	go func() {
		defer close(updates)
		_ = r.Run(ctx)
	}()

	model := monitor.NewModel(r, newAPI(), updates, monitorInterval)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
