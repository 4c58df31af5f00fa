package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/takeout/db"
	"github.com/xenking/takeout/internal/handler"
	"github.com/xenking/takeout/internal/storage/postgres"
	"github.com/xenking/takeout/internal/storage/seed"
)

func main() {
	var (
		databaseURL string
		catalogFile string
		addresses   bool
		adminKey    string
		adminPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "", "path to a catalog JSON file (defaults to the embedded development catalog)")
	flag.BoolVar(&addresses, "addresses", true, "insert the address book entries; they are not deduplicated on re-runs")
	flag.StringVar(&adminKey, "admin-key", "", "operator API key to print the configuration hash for (or TAKEOUT_SEED_ADMIN_KEY env)")
	flag.StringVar(&adminPepper, "admin-pepper", "", "HMAC pepper for the operator API key (or TAKEOUT_ADMIN_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if adminKey == "" {
		adminKey = os.Getenv("TAKEOUT_SEED_ADMIN_KEY")
	}
	if adminPepper == "" {
		adminPepper = os.Getenv("TAKEOUT_ADMIN_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, addresses); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if adminKey != "" {
		slog.Info("operator key hash, set as TAKEOUT_ADMIN_KEY_HASH",
			slog.String("hash", handler.HashAdminKey(adminKey, []byte(adminPepper))),
		)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile string, withAddresses bool) error {
	data := db.Catalog
	if catalogFile != "" {
		slog.Info("reading catalog file", slog.String("path", catalogFile))
		var err error
		if data, err = os.ReadFile(catalogFile); err != nil {
			return errors.Wrap(err, "read catalog file")
		}
	}
	parsed, err := seed.Parse(data)
	if err != nil {
		return err
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

	if err := seedCatalog(ctx, postgres.NewCatalogRepository(pool), parsed); err != nil {
		return errors.Wrap(err, "seed catalog")
	}
	if withAddresses {
		if err := seedAddresses(ctx, postgres.NewAddressRepository(pool), parsed); err != nil {
			return errors.Wrap(err, "seed addresses")
		}
	}
	return nil
}

func seedCatalog(ctx context.Context, repo *postgres.CatalogRepository, data *seed.Data) error {
	slog.Info("upserting catalog",
		slog.Int("dishes", len(data.Dishes)),
		slog.Int("setmeals", len(data.SetMeals)),
	)

	for _, item := range data.Dishes {
		id, err := repo.UpsertDish(ctx, item)
		if err != nil {
			return errors.Wrapf(err, "upsert dish %q", item.Name)
		}
		slog.Info("upserted dish", slog.Int64("id", id), slog.String("name", item.Name))
	}
	for _, item := range data.SetMeals {
		id, err := repo.UpsertSetMeal(ctx, item)
		if err != nil {
			return errors.Wrapf(err, "upsert set meal %q", item.Name)
		}
		slog.Info("upserted set meal", slog.Int64("id", id), slog.String("name", item.Name))
	}
	return nil
}

func seedAddresses(ctx context.Context, repo *postgres.AddressRepository, data *seed.Data) error {
	for _, a := range data.Addresses {
		if err := repo.Insert(ctx, &a); err != nil {
			return errors.Wrapf(err, "insert address of user %d", a.UserID)
		}
		slog.Info("inserted address",
			slog.Int64("id", a.ID),
			slog.Int64("user_id", a.UserID),
			slog.String("consignee", a.Consignee),
		)
	}
	return nil
}
