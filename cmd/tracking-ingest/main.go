package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"

	"github.com/xenking/passproduct-escrow/internal/domain/order"
	"github.com/xenking/passproduct-escrow/internal/ingest"
	"github.com/xenking/passproduct-escrow/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.gz carrier delivery feeds")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	res, err := run(ctx, dataDir, databaseURL)
	if err != nil {
		slog.Error("tracking ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if res.Failed > 0 {
		slog.Error("tracking ingest finished with failures", slog.Int("failed", res.Failed))
		os.Exit(1)
	}

	slog.Info("tracking ingest completed successfully", slog.Int("delivered", res.Delivered))
}

func run(ctx context.Context, dataDir, databaseURL string) (ingest.Result, error) {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.gz"))
	if err != nil {
		return ingest.Result{}, errors.Wrap(err, "list feeds")
	}
	if len(files) == 0 {
		slog.Info("no feeds found", slog.String("dir", dataDir))
		return ingest.Result{}, nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return ingest.Result{}, errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	orders := postgres.NewOrderRepository(pool)
	listings := postgres.NewListingRepository(pool)
	// Delivery never reaches the payment processor.
	svc := order.NewService(postgres.NewStore(pool), orders, listings, nil,
		postgres.NewPayoutLedger(pool), postgres.NewNotificationRepository(pool))

	return ingest.New(orders, svc, slog.Default()).Run(ctx, files)
}
