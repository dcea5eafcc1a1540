package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/retail-pos/internal/app"
	"github.com/noah-isme/retail-pos/internal/catalog"
	"github.com/noah-isme/retail-pos/internal/config"
	"github.com/noah-isme/retail-pos/internal/obs"
)

func main() {
	file := flag.String("file", "", "JSON array of products to load instead of the demo catalog")
	migrate := flag.Bool("migrate", true, "apply migrations before seeding")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "seeder").Logger()

	if *migrate {
		cfg.AutoMigrate = true
		if err := app.RunMigrations(cfg, logger); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	products := demoCatalog()
	if *file != "" {
		products, err = loadProducts(*file)
		if err != nil {
			logger.Fatal().Err(err).Str("file", *file).Msg("read products")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	pool, err := app.OpenPostgres(ctx, cfg, "pos-seeder")
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer pool.Close()

	store := catalog.Postgres{DB: pool}
	for _, p := range products {
		if p.LowStockThreshold == 0 {
			p.LowStockThreshold = cfg.LowStockThreshold
		}
		if err := store.Upsert(ctx, p); err != nil {
			logger.Fatal().Err(err).Str("code", p.Code).Msg("seed product")
		}
		logger.Debug().Str("code", p.Code).Int("on_hand", p.OnHand).Msg("seeded product")
	}
	forgetCached(ctx, cfg, logger, products)
	logger.Info().Int("products", len(products)).Msg("seeding completed")
}

// forgetCached drops stale snapshots so running tills see the new prices.
func forgetCached(ctx context.Context, cfg *config.Config, logger zerolog.Logger, products []catalog.Product) {
	rdb, err := app.OpenRedis(ctx, cfg, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, catalog cache left to expire")
		return
	}
	defer rdb.Close()
	codes := make([]string, 0, len(products))
	for _, p := range products {
		codes = append(codes, p.Code)
	}
	if err := catalog.NewCache(rdb, cfg.CatalogCacheTTL).Forget(ctx, codes...); err != nil {
		logger.Warn().Err(err).Msg("invalidate catalog cache")
	}
}

func loadProducts(path string) ([]catalog.Product, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []catalog.Product
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func demoCatalog() []catalog.Product {
	pct := func(s string) *decimal.Decimal {
		d := decimal.RequireFromString(s)
		return &d
	}
	food := &catalog.TaxCategory{Name: "FOOD", Percentage: pct("7")}
	bottle := &catalog.DepositCategory{Name: "PET", Value: decimal.RequireFromString("0.25")}
	can := &catalog.DepositCategory{Name: "CAN", Value: decimal.RequireFromString("0.10")}
	return []catalog.Product{
		{Code: "4001", Name: "Cola 1.5L", Department: "DRINKS", SalePrice: decimal.RequireFromString("2.50"),
			UnitCost: decimal.RequireFromString("1.40"), OnHand: 120, VATApplicable: true, TaxCategory: food, Deposit: bottle},
		{Code: "4002", Name: "Sparkling Water 0.5L", Department: "DRINKS", SalePrice: decimal.RequireFromString("0.99"),
			UnitCost: decimal.RequireFromString("0.40"), OnHand: 200, VATApplicable: true, TaxCategory: food, Deposit: bottle},
		{Code: "4003", Name: "Lager 0.33L", Department: "DRINKS", SalePrice: decimal.RequireFromString("1.29"),
			UnitCost: decimal.RequireFromString("0.70"), OnHand: 96, VATApplicable: true, Deposit: can},
		{Code: "2001", Name: "Sourdough Loaf", Department: "BAKERY", SalePrice: decimal.RequireFromString("3.80"),
			UnitCost: decimal.RequireFromString("1.90"), OnHand: 30, VATApplicable: true, TaxCategory: food},
		{Code: "3001", Name: "Free Range Eggs 10", Department: "DAIRY", SalePrice: decimal.RequireFromString("3.49"),
			UnitCost: decimal.RequireFromString("2.10"), OnHand: 40, VATApplicable: true, TaxCategory: food},
		{Code: "7001", Name: "AA Batteries 4pk", Department: "HOUSEHOLD", SalePrice: decimal.RequireFromString("5.99"),
			UnitCost: decimal.RequireFromString("3.20"), OnHand: 25, VATApplicable: true, VATPercentage: pct("18")},
		{Code: "9001", Name: "Postage Stamp", Department: "SERVICES", SalePrice: decimal.RequireFromString("0.95"),
			UnitCost: decimal.RequireFromString("0.95"), OnHand: 500, VATApplicable: false},
	}
}
