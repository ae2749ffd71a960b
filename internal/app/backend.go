package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/passproduct-escrow/internal/domain/auth"
	"github.com/xenking/passproduct-escrow/internal/domain/listing"
	"github.com/xenking/passproduct-escrow/internal/domain/notify"
	"github.com/xenking/passproduct-escrow/internal/domain/order"
	"github.com/xenking/passproduct-escrow/internal/domain/payment"
	"github.com/xenking/passproduct-escrow/internal/payment/simulated"
	"github.com/xenking/passproduct-escrow/internal/payment/stripe"
	"github.com/xenking/passproduct-escrow/internal/storage/memory"
	"github.com/xenking/passproduct-escrow/internal/storage/postgres"
	"github.com/xenking/passproduct-escrow/pkg/health"
)

type notificationStore interface {
	notify.Notifier
	notify.Inbox
}

// backend is the storage behind one process, chosen by Storage.Driver.
type backend struct {
	store    order.Store
	orders   order.Repository
	listings listing.Repository
	payouts  payment.Ledger
	inbox    notificationStore
	apiKeys  auth.Repository

	// ping is nil when there is no external dependency to probe.
	ping  health.CheckFunc
	close func()
}

func openBackend(ctx context.Context, lg *zap.Logger, cfg *Config) (*backend, error) {
	switch cfg.Storage.Driver {
	case DriverMemory:
		s := memory.New()
		seedDemo(ctx, lg, s, []byte(cfg.APIKeyPepper))
		return &backend{
			store:    s,
			orders:   s.Orders(),
			listings: s.Listings(),
			payouts:  s.Payouts(),
			inbox:    s.Notifications(),
			apiKeys:  s.APIKeys(),
			close:    func() {},
		}, nil
	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		return &backend{
			store:    postgres.NewStore(pool),
			orders:   postgres.NewOrderRepository(pool),
			listings: postgres.NewListingRepository(pool),
			payouts:  postgres.NewPayoutLedger(pool),
			inbox:    postgres.NewNotificationRepository(pool),
			apiKeys:  postgres.NewAPIKeyRepository(pool),
			ping:     health.PingCheck("postgres", pool),
			close:    pool.Close,
		}, nil
	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func newProcessor(cfg PaymentConfig) payment.Processor {
	if cfg.Provider == ProviderSimulated {
		return simulated.New(simulated.AutoSucceed())
	}
	return stripe.New(cfg.StripeSecretKey, nil)
}

// Demo credentials installed by the memory driver.
const (
	demoBuyerKey  = "demo-buyer"
	demoSellerKey = "demo-seller"
	demoSystemKey = "demo-system"
	demoListingID = "demo-listing"
)

func seedDemo(ctx context.Context, lg *zap.Logger, s *memory.Store, pepper []byte) {
	s.Listings().Put(ctx, listing.Listing{
		ID:              demoListingID,
		SellerID:        "demo-seller-user",
		Title:           "Nintendo Switch OLED",
		Price:           decimal.RequireFromString("200.00"),
		ShippingEnabled: true,
		ShippingCost:    decimal.RequireFromString("10.00"),
		Status:          listing.StatusPublished,
		UpdatedAt:       time.Now(),
	})
	keys := []struct {
		key  string
		info auth.APIKeyInfo
	}{
		{demoBuyerKey, auth.APIKeyInfo{ID: "demo-buyer-key", Name: "demo buyer", UserID: "demo-buyer-user"}},
		{demoSellerKey, auth.APIKeyInfo{ID: "demo-seller-key", Name: "demo seller", UserID: "demo-seller-user"}},
		{demoSystemKey, auth.APIKeyInfo{ID: "demo-system-key", Name: "tracking", Scopes: []string{auth.ScopeSystem}}},
	}
	for _, k := range keys {
		k.info.KeyHash = auth.HashKey(k.key, pepper)
		s.APIKeys().Put(ctx, k.info)
	}
	lg.Info("Seeded in-memory demo data",
		zap.String("listing", demoListingID),
		zap.Strings("api_keys", []string{demoBuyerKey, demoSellerKey, demoSystemKey}),
	)
}
