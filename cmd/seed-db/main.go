// Command seed-db loads the product catalog and a client api key into the
// storefront database.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/mercadochaco/storefront/internal/domain/auth"
	"github.com/mercadochaco/storefront/internal/storage/postgres"
)

type options struct {
	databaseURL  string
	productsFile string
	apiKey       string
	apiKeyPepper string
	clientName   string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.productsFile, "products-file", "db/seed/products.json", "path to products JSON file, optionally .gz")
	flag.StringVar(&opts.apiKey, "api-key", "", "API key to seed (or MERCADO_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or MERCADO_API_KEY_PEPPER env)")
	flag.StringVar(&opts.clientName, "client-name", "web", "name of the client application owning the key")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	opts.databaseURL = firstNonEmpty(opts.databaseURL, os.Getenv("DATABASE_URL"))
	opts.apiKey = firstNonEmpty(opts.apiKey, os.Getenv("MERCADO_SEED_API_KEY"))
	opts.apiKeyPepper = firstNonEmpty(opts.apiKeyPepper, os.Getenv("MERCADO_API_KEY_PEPPER"))

	if opts.databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}
	if opts.apiKey == "" {
		lg.Fatal("API key is required: set --api-key or MERCADO_SEED_API_KEY")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Error("Seed failed", zap.Error(err))
		cancel()
		_ = lg.Sync()
		os.Exit(1)
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	products, err := readCatalog(opts.productsFile)
	if err != nil {
		return errors.Wrap(err, "read catalog")
	}
	lg.Info("Read catalog", zap.String("path", opts.productsFile), zap.Int("products", len(products)))

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := postgres.NewProductRepository(pool).Upsert(ctx, products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	lg.Info("Upserted products", zap.Int("count", len(products)))

	key := auth.APIKeyInfo{
		ID:      opts.clientName,
		KeyHash: auth.HashKey(opts.apiKey, []byte(opts.apiKeyPepper)),
		Name:    opts.clientName,
		Scopes:  []string{"cart", "checkout"},
	}
	if err := postgres.NewAPIKeyRepository(pool).Upsert(ctx, key); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	lg.Info("Upserted API key", zap.String("id", key.ID))
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
