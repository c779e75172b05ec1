// Command tracker follows one order through the gateway and prints each
// status change until the order settles or the connection degrades.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joao-fontenele/bigbestmart/internal/config"
	"github.com/joao-fontenele/bigbestmart/internal/domain"
	"github.com/joao-fontenele/bigbestmart/internal/identity"
	"github.com/joao-fontenele/bigbestmart/internal/poller"
	"github.com/joao-fontenele/bigbestmart/internal/statusclient"
	"github.com/joao-fontenele/bigbestmart/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	defaults := poller.DefaultConfig()
	interval, err := config.Duration("POLL_INTERVAL", defaults.Interval)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	maxFailures, err := config.Int("POLL_MAX_FAILURES", defaults.MaxConsecutiveFailures)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	gatewayURL := flag.String("gateway", config.String("GATEWAY_URL", "http://localhost:8080"), "gateway base URL")
	userID := flag.String("user", "", "caller id sent as "+identity.HeaderUserID)
	admin := flag.Bool("admin", false, "act with the admin role (the gateway drops it; point -gateway at the orders service)")
	flag.DurationVar(&interval, "interval", interval, "poll interval")
	flag.IntVar(&maxFailures, "max-failures", maxFailures, "consecutive failures before giving up")
	flag.Parse()

	if flag.NArg() != 1 || *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: tracker -user <id> [-admin] [-gateway url] [-interval d] <order-id>")
		os.Exit(2)
	}
	orderID := flag.Arg(0)

	cfg := defaults
	cfg.Interval = interval
	cfg.MaxConsecutiveFailures = maxFailures

	client := statusclient.New(*gatewayURL, telemetry.HTTPClient(cfg.FetchTimeout), identity.Caller{ID: *userID, Admin: *admin})
	p, err := poller.New(client, cfg, logger)
	if err != nil {
		logger.Error("invalid poller configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	final := make(chan poller.State, 1)
	sub, err := p.Subscribe(ctx, orderID, poller.Listener{
		OnChange: func(status domain.OrderStatus) {
			fmt.Printf("%s\t%s\t%s\n", time.Now().Format(time.RFC3339), orderID, status)
		},
		OnDegraded: func(err error) {
			logger.Error("lost contact with the status service", "error", err)
		},
		OnStop: func(state poller.State) {
			final <- state
		},
	})
	if err != nil {
		logger.Error("failed to subscribe", "error", err)
		os.Exit(2)
	}

	<-sub.Done()
	state := <-final
	if state == poller.StateError {
		os.Exit(1)
	}
}
