package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/passproduct-escrow/internal/domain/auth"
	"github.com/xenking/passproduct-escrow/internal/domain/listing"
	"github.com/xenking/passproduct-escrow/internal/storage/postgres"
)

type seedFile struct {
	Users []struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"users"`
	Listings []struct {
		ID              string          `json:"id"`
		SellerID        string          `json:"sellerId"`
		Title           string          `json:"title"`
		Price           decimal.Decimal `json:"price"`
		ShippingEnabled bool            `json:"shippingEnabled"`
		ShippingCost    decimal.Decimal `json:"shippingCost"`
	} `json:"listings"`
	// APIKeys name the environment variable holding each raw key. Keys
	// whose variable is unset are skipped.
	APIKeys []struct {
		ID     string   `json:"id"`
		Name   string   `json:"name"`
		UserID string   `json:"userId"`
		Scopes []string `json:"scopes"`
		Env    string   `json:"env"`
	} `json:"apiKeys"`
}

func main() {
	var (
		databaseURL  string
		seedPath     string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/marketplace.json", "path to marketplace seed JSON file")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or ESCROW_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("ESCROW_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedPath, []byte(apiKeyPepper)); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedPath string, pepper []byte) error {
	slog.Info("reading seed file", slog.String("path", seedPath))

	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed JSON")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// One transaction: a partial seed is worse than none.
	return postgres.NewStore(pool).WithTx(ctx, func(ctx context.Context) error {
		users := postgres.NewUserRepository(pool)
		for _, u := range seed.Users {
			if err := users.Upsert(ctx, postgres.User{ID: u.ID, Email: u.Email, Name: u.Name}); err != nil {
				return errors.Wrapf(err, "upsert user %s", u.ID)
			}
			slog.Info("upserted user", slog.String("id", u.ID))
		}

		listings := postgres.NewListingRepository(pool)
		for _, l := range seed.Listings {
			if err := listings.Upsert(ctx, &listing.Listing{
				ID:              l.ID,
				SellerID:        l.SellerID,
				Title:           l.Title,
				Price:           l.Price,
				ShippingEnabled: l.ShippingEnabled,
				ShippingCost:    l.ShippingCost,
				Status:          listing.StatusPublished,
			}); err != nil {
				return errors.Wrapf(err, "upsert listing %s", l.ID)
			}
			slog.Info("upserted listing", slog.String("id", l.ID), slog.String("price", l.Price.StringFixed(2)))
		}

		keys := postgres.NewAPIKeyRepository(pool)
		for _, k := range seed.APIKeys {
			raw := os.Getenv(k.Env)
			if raw == "" {
				slog.Warn("skipping api key, variable unset", slog.String("id", k.ID), slog.String("env", k.Env))
				continue
			}
			if err := keys.Upsert(ctx, &auth.APIKeyInfo{
				ID:      k.ID,
				KeyHash: auth.HashKey(raw, pepper),
				Name:    k.Name,
				UserID:  k.UserID,
				Scopes:  k.Scopes,
			}); err != nil {
				return errors.Wrapf(err, "upsert api key %s", k.ID)
			}
			slog.Info("upserted api key", slog.String("id", k.ID), slog.String("name", k.Name))
		}
		return nil
	})
}
