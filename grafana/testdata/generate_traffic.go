// Package main runs an in-process canopy server with a handful of simulated
// clients so the Grafana dashboards can be tried without a real deployment.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fyrsmithlabs/canopy/internal/actor"
	"github.com/fyrsmithlabs/canopy/internal/auth"
	"github.com/fyrsmithlabs/canopy/internal/client"
	"github.com/fyrsmithlabs/canopy/internal/config"
	"github.com/fyrsmithlabs/canopy/internal/gateway"
	"github.com/fyrsmithlabs/canopy/internal/transport"
	"github.com/fyrsmithlabs/canopy/internal/tree"
)

const simulatedClients = 4

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	buttons := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	a := actor.New(sampleTree(buttons), actor.WithMetrics(actor.NewMetrics()))
	go func() {
		if err := a.Run(ctx); err != nil {
			log.Printf("actor stopped: %v", err)
		}
	}()

	authn, err := auth.New(config.AuthConfig{DefaultPermission: config.PermissionConfig{Level: "public"}})
	if err != nil {
		log.Fatal(err)
	}
	srv := transport.NewServer(gateway.New(a), authn, transport.Config{}, transport.WithMetrics(transport.NewMetrics()))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatal(err)
	}
	go func() { _ = srv.Serve(ln) }()

	for i := 0; i < simulatedClients; i++ {
		r, err := client.Dial(ctx, ln.Addr().String(), client.Options{DialTimeout: 5 * time.Second})
		if err != nil {
			log.Fatalf("client %d: %v", i, err)
		}
		go func() { _ = r.Run(ctx) }()
		go simulate(ctx, r, buttons, rand.New(rand.NewSource(int64(i))))
	}

	http.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              ":" + port,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
		cancel()
		_ = server.Shutdown(sctx)
	}()

	fmt.Printf("Sample metrics server running on http://localhost:%s/metrics\n", port)
	fmt.Printf("%d simulated clients editing the tree\n", simulatedClients)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println("\nTo use with Prometheus, add this to prometheus.yml:")
	fmt.Printf("  - job_name: 'canopy-test'\n    static_configs:\n      - targets: ['localhost:%s']\n", port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func sampleTree(buttons []uuid.UUID) *tree.Node {
	children := make([]*tree.Node, 0, len(buttons))
	for i, id := range buttons {
		children = append(children, tree.New(tree.Config{
			ID:   id,
			Name: tree.Name(fmt.Sprintf("button-%d", i)),
			Data: tree.Button{},
		}))
	}
	return tree.New(tree.Config{Name: tree.Name("root"), Children: children})
}

// simulate makes one random edit every few hundred milliseconds until ctx
// is done. Each client only edits the nodes it added itself.
func simulate(ctx context.Context, r *client.Replica, buttons []uuid.UUID, rng *rand.Rand) {
	root := r.View().ID
	var own []uuid.UUID

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(100+rng.Intn(400)) * time.Millisecond):
		}

		var err error
		switch n := rng.Intn(10); {
		case n < 3:
			err = r.Trigger(buttons[rng.Intn(len(buttons))])
		case n < 5 || len(own) == 0:
			var id uuid.UUID
			id, err = r.Add(root, tree.Name("value"), tree.Int64(rng.Int63n(1000)))
			if err == nil {
				own = append(own, id)
			}
		case n < 8:
			err = r.Set(own[rng.Intn(len(own))], tree.Int64(rng.Int63n(1000)))
		case n < 9:
			err = r.Rename(own[rng.Intn(len(own))], fmt.Sprintf("value-%d", rng.Intn(100)))
		default:
			i := rng.Intn(len(own))
			err = r.Remove(own[i])
			own = append(own[:i], own[i+1:]...)
		}
		if err != nil && ctx.Err() == nil {
			log.Printf("edit failed: %v", err)
		}
	}
}
