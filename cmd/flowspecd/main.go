// Command flowspecd boots one FlowSpec engine process: it loads config,
// wires the Postgres-backed persistence layer, the configured Evidence
// object store adapter and the optional read-through cache, constructs
// the flowspec.Engine that serves every operation, and then registers
// the optional hook subscribers on the engine's bus. Grounded on the teacher's cmd/demo/main.go
// explicit-wiring style — no DI framework, every dependency constructed
// and handed off by hand in main.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/flowspec/engine/cache"
	"github.com/flowspec/engine/config"
	"github.com/flowspec/engine/evidence"
	evidencemongo "github.com/flowspec/engine/evidence/mongo"
	evidences3 "github.com/flowspec/engine/evidence/s3"
	"github.com/flowspec/engine/flowspec"
	"github.com/flowspec/engine/hooks"
	"github.com/flowspec/engine/hooks/subscribers"
	"github.com/flowspec/engine/truth/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "flowspecd:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	logger := slog.Default()

	path := "flowspecd.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := postgres.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer store.Close()

	objectStore, err := buildObjectStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build object store: %w", err)
	}

	bus := hooks.NewBus(nil)
	opts := []flowspec.Option{
		flowspec.WithHookBus(bus),
		flowspec.WithImpactAnalysisRate(cfg.ImpactAnalysisRatePerSecond),
	}

	if cfg.Features.Cache {
		c, err := cache.New(cfg.Cache.Address, cfg.Cache.TTL, logger)
		if err != nil {
			return fmt.Errorf("build cache: %w", err)
		}
		defer c.Close()
		opts = append(opts, flowspec.WithCache(c))
		logger.Info("actionable-task cache enabled", "address", cfg.Cache.Address, "ttl", cfg.Cache.TTL)
	}

	engine := flowspec.New(opts...)

	if cfg.Features.AuditSubscriber {
		bus.Register(subscribers.NewAudit(objectStore))
	}
	if cfg.Features.SlackNotifier {
		bus.Register(subscribers.NewNotifier(cfg.Slack.Token, cfg.Slack.Channel))
	}

	logger.Info("flowspecd ready",
		"objectStore", cfg.ObjectStore.Kind,
		"auditSubscriber", cfg.Features.AuditSubscriber,
		"slackNotifier", cfg.Features.SlackNotifier,
		"cache", cfg.Features.Cache,
	)

	_ = engine // a real deployment hands engine to its transport (HTTP/gRPC), not shown here
	<-ctx.Done()
	return nil
}

// buildObjectStore selects and constructs the Evidence storage adapter
// (§6) named by config.ObjectStore.Kind. Only one is active per process.
func buildObjectStore(ctx context.Context, cfg config.Config) (evidence.Store, error) {
	switch cfg.ObjectStore.Kind {
	case config.ObjectStoreS3:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		return evidences3.New(client, cfg.ObjectStore.Bucket, cfg.ObjectStore.Prefix), nil
	case config.ObjectStoreMongo:
		client, err := mongodriver.Connect(options.Client().ApplyURI(cfg.DatabaseDSN))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		return evidencemongo.New(evidencemongo.Options{Client: client, Database: cfg.ObjectStore.Bucket})
	default:
		return nil, fmt.Errorf("unsupported object store kind %q", cfg.ObjectStore.Kind)
	}
}
