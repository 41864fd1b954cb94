// Command khala-demo wires the broker to a stub Authorizer and
// WorkerOwnershipStore and runs a handful of concurrent publishers and
// pollers against it, so the broker's behavior can be exercised without
// a real transport layer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	khala "github.com/dev-console/khala/internal/khala"
	"github.com/dev-console/khala/internal/khalaconfig"
	"github.com/dev-console/khala/internal/khalalog"
)

// allowAllAuthorizer admits every topic; a real transport would
// delegate to token validation here.
type allowAllAuthorizer struct{}

func (allowAllAuthorizer) AuthorizeTopic(ctx context.Context, p khala.Principal, topic string) error {
	return nil
}

// allowAllOwnership treats every principal as owning every worker; a
// real transport would consult its worker-assignment store here.
type allowAllOwnership struct{}

func (allowAllOwnership) OwnsWorker(ctx context.Context, p khala.Principal, workerID string) (bool, error) {
	return true, nil
}

func main() {
	fs := flag.NewFlagSet("khala-demo", flag.ExitOnError)
	loadConfig := khalaconfig.RegisterFlags(fs)
	publishers := fs.Int("publishers", 2, "number of concurrent demo publishers")
	pollers := fs.Int("pollers", 3, "number of concurrent demo pollers")
	duration := fs.Duration("duration", 3*time.Second, "how long to run the demo")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	logger := khalalog.NewConsole(os.Stderr, zerolog.InfoLevel)
	registerer := prometheus.NewRegistry()
	broker := khala.New(cfg, allowAllAuthorizer{}, allowAllOwnership{}, logger, registerer)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < *publishers; i++ {
		i := i
		g.Go(func() error { return runPublisher(gctx, broker, i) })
	}
	for i := 0; i < *pollers; i++ {
		i := i
		g.Go(func() error { return runPoller(gctx, broker, i) })
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "demo run failed:", err)
		os.Exit(1)
	}

	snap := broker.Introspect()
	fmt.Printf("total_polls=%d served_messages=%d topics=%d\n",
		snap.Metrics.TotalPolls, snap.Metrics.ServedMessages, len(snap.TopicWindows))
}

func runPublisher(ctx context.Context, broker *khala.Broker, id int) error {
	topic := fmt.Sprintf("run:demo-%d:events", id)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			seq++
			payload := map[string]int{"step": seq}
			if err := broker.Publish(ctx, topic, "demo.step", payload); err != nil {
				continue // publish rejections are expected under load, not fatal
			}
		}
	}
}

func runPoller(ctx context.Context, broker *khala.Broker, id int) error {
	topic := fmt.Sprintf("run:demo-%d:events", id%2)
	user := fmt.Sprintf("poller-%d", id)
	principal := khala.Principal{UserID: &user}

	var afterSeq uint64
	ticker := time.NewTicker(15 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			env, err := broker.Poll(ctx, principal, topic, afterSeq, 10, time.Now())
			if err != nil {
				continue // throttling/eviction is expected demo behavior, not fatal
			}
			afterSeq = env.NextCursor
		}
	}
}
