package main

import (
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/canopy/internal/change"
	"github.com/fyrsmithlabs/canopy/internal/client"
)

var (
	watchTLS     bool
	watchTimeout time.Duration
)

func init() {
	watchCmd.Flags().BoolVar(&watchTLS, "tls", false, "Use TLS for host:port addresses")
	watchCmd.Flags().DurationVar(&watchTimeout, "dial-timeout", 10*time.Second, "Connection and handshake timeout")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow tree changes live",
	Long: `Connect over the client protocol and print every change, snapshot and
server log line until interrupted.

Examples:
  # Watch over TCP
  canopyctl watch --addr 127.0.0.1:9123

  # Watch through the admin server's WebSocket endpoint
  canopyctl watch --addr ws://127.0.0.1:9124/ws`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := &printer{w: cmd.OutOrStdout()}
	opts := client.Options{
		Token:       token,
		DialTimeout: watchTimeout,
		OnUpdate:    p.update,
	}

	var (
		r   *client.Replica
		err error
	)
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		r, err = client.DialWebSocket(ctx, addr, opts)
	} else {
		if watchTLS {
			opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		r, err = client.Dial(ctx, addr, opts)
	}
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer r.Close()

	p.printf("connected as session %d (%d nodes, hash %016x)\n", r.Session(), r.View().Count(), r.Hash())
	return r.Run(ctx)
}

// printer serializes output from the replica's update callback.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) update(u client.Update) {
	switch u.Kind {
	case client.UpdateChange:
		p.printf("change %s (hash %016x)\n", change.Describe(u.Change), u.Hash)
	case client.UpdateSnapshot:
		p.printf("snapshot (hash %016x)\n", u.Hash)
	case client.UpdateLog:
		p.printf("log %s\n", u.Text)
	}
}
