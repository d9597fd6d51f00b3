// Package main implements canopyctl, a command-line client for canopyd.
//
// Read and edit commands go through the admin HTTP API; watch opens a
// replica over the client protocol and prints every update it receives.
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/canopy/internal/client"
)

var (
	// serverURL is the base URL of the canopyd admin API
	serverURL string
	// token is sent as a bearer token and selects the caller's permission
	token string
	// addr is the client protocol address used by watch
	addr string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "canopyctl",
	Short: "CLI for canopyd",
	Long: `canopyctl is a command-line interface for a running canopyd.
It reads and edits the shared tree and can follow changes live.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:9124", "canopyd admin API URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("CANOPY_TOKEN"), "access token (default $CANOPY_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:9123", "canopyd client address (host:port or ws:// URL)")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statusCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check canopyd health",
	Long: `Check the health status of the canopyd admin API.

Examples:
  # Check health
  canopyctl health

  # Check health on a different server
  canopyctl health --server http://10.0.0.5:9124`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

// statusCmd prints a summary of the running server
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func newAPI() *client.HTTPClient {
	return client.NewHTTPClient(serverURL, token)
}

func runHealth(cmd *cobra.Command, _ []string) error {
	resp, err := newAPI().Health(cmd.Context())
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Server status: %s\n", resp.Status)
	if resp.Telemetry != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Telemetry:     %s\n", resp.Telemetry)
	}
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	resp, err := newAPI().Status(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Status:  %s\n", resp.Status)
	fmt.Fprintf(out, "Version: %s\n", resp.Version)
	fmt.Fprintf(out, "Uptime:  %s\n", resp.Uptime)
	fmt.Fprintf(out, "Clients: %d\n", resp.Clients)
	fmt.Fprintf(out, "Nodes:   %d\n", resp.Nodes)
	fmt.Fprintf(out, "Hash:    %s\n", resp.Hash)
	return nil
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return id, nil
}
