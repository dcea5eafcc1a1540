package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/retail-pos/internal/common"
	"github.com/noah-isme/retail-pos/internal/db"
)

const selectProduct = `
SELECT p.code, p.name, p.department, p.sale_price::text, p.unit_cost::text,
       p.on_hand, p.low_stock_threshold, p.vat_applicable, p.vat_percentage::text,
       tc.name, tc.percentage::text, dc.name, dc.deposit_value::text
FROM products p
LEFT JOIN tax_categories tc ON tc.id = p.tax_category_id
LEFT JOIN deposit_categories dc ON dc.id = p.deposit_category_id
WHERE p.code = $1`

// Postgres reads products from the products table.
type Postgres struct {
	DB db.DBTX
}

// GetByCode implements Reader.
func (s Postgres) GetByCode(ctx context.Context, code string) (Product, error) {
	if s.DB == nil {
		return Product{}, errors.New("catalog store not configured")
	}
	var (
		p                       Product
		salePrice, unitCost     string
		vatPct                  *string
		taxName, taxPct         *string
		depositName, depositVal *string
	)
	err := s.DB.QueryRow(ctx, selectProduct, code).Scan(
		&p.Code, &p.Name, &p.Department, &salePrice, &unitCost,
		&p.OnHand, &p.LowStockThreshold, &p.VATApplicable, &vatPct,
		&taxName, &taxPct, &depositName, &depositVal,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, common.Persistence("load product", err)
	}
	if p.SalePrice, err = db.ParseNum(salePrice); err != nil {
		return Product{}, fmt.Errorf("product %s sale price: %w", code, err)
	}
	if p.UnitCost, err = db.ParseNum(unitCost); err != nil {
		return Product{}, fmt.Errorf("product %s unit cost: %w", code, err)
	}
	if p.VATPercentage, err = db.ParseNullNum(vatPct); err != nil {
		return Product{}, fmt.Errorf("product %s vat percentage: %w", code, err)
	}
	if taxName != nil {
		pct, err := db.ParseNullNum(taxPct)
		if err != nil {
			return Product{}, fmt.Errorf("product %s tax category: %w", code, err)
		}
		p.TaxCategory = &TaxCategory{Name: *taxName, Percentage: pct}
	}
	if depositName != nil && depositVal != nil {
		val, err := db.ParseNum(*depositVal)
		if err != nil {
			return Product{}, fmt.Errorf("product %s deposit: %w", code, err)
		}
		p.Deposit = &DepositCategory{Name: *depositName, Value: val}
	}
	return p, nil
}

const (
	upsertTaxCategory = `INSERT INTO tax_categories (name, percentage) VALUES ($1, $2::numeric)
ON CONFLICT (name) DO UPDATE SET percentage = EXCLUDED.percentage RETURNING id`
	upsertDepositCategory = `INSERT INTO deposit_categories (name, deposit_value) VALUES ($1, $2::numeric)
ON CONFLICT (name) DO UPDATE SET deposit_value = EXCLUDED.deposit_value RETURNING id`
	upsertProduct = `INSERT INTO products (code, name, department, sale_price, unit_cost, on_hand,
low_stock_threshold, vat_applicable, vat_percentage, tax_category_id, deposit_category_id, updated_at)
VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9::numeric, $10, $11, now())
ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, department = EXCLUDED.department,
sale_price = EXCLUDED.sale_price, unit_cost = EXCLUDED.unit_cost, on_hand = EXCLUDED.on_hand,
low_stock_threshold = EXCLUDED.low_stock_threshold, vat_applicable = EXCLUDED.vat_applicable,
vat_percentage = EXCLUDED.vat_percentage, tax_category_id = EXCLUDED.tax_category_id,
deposit_category_id = EXCLUDED.deposit_category_id, updated_at = now()`
)

// Upsert writes p together with its categories, replacing any existing row.
// It backs the seeder; the till never writes the catalog.
func (s Postgres) Upsert(ctx context.Context, p Product) error {
	if s.DB == nil {
		return errors.New("catalog store not configured")
	}
	var taxID, depositID *int
	if p.TaxCategory != nil {
		var id int
		if err := s.DB.QueryRow(ctx, upsertTaxCategory, p.TaxCategory.Name, db.NullNum(p.TaxCategory.Percentage)).Scan(&id); err != nil {
			return common.Persistence("upsert tax category", err)
		}
		taxID = &id
	}
	if p.Deposit != nil {
		var id int
		if err := s.DB.QueryRow(ctx, upsertDepositCategory, p.Deposit.Name, db.Num(p.Deposit.Value)).Scan(&id); err != nil {
			return common.Persistence("upsert deposit category", err)
		}
		depositID = &id
	}
	_, err := s.DB.Exec(ctx, upsertProduct, p.Code, p.Name, p.Department, db.Num(p.SalePrice), db.Num(p.UnitCost),
		p.OnHand, p.Threshold(), p.VATApplicable, db.NullNum(p.VATPercentage), taxID, depositID)
	if err != nil {
		if db.IsCheckViolation(err) {
			return common.Validation("product %s violates a catalog constraint", p.Code)
		}
		return common.Persistence("upsert product", err)
	}
	return nil
}
