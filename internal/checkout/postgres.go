package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/retail-pos/internal/common"
	"github.com/noah-isme/retail-pos/internal/db"
	"github.com/noah-isme/retail-pos/internal/inventory"
)

const saleColumns = `id, number, idempotency_key, created_at, operator, payment_method,
sub_total::text, vat_total::text, deposit_total::text, total::text, tendered::text,
change_due::text, paid_amount::text, reference, debtor_name`

const (
	insertSaleSQL = `INSERT INTO sales (id, number, idempotency_key, created_at, operator, payment_method,
sub_total, vat_total, deposit_total, total, tendered, change_due, paid_amount, reference, debtor_name)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10::numeric, $11::numeric,
$12::numeric, $13::numeric, $14, $15)`
	insertLineSQL = `INSERT INTO sale_lines (sale_id, position, code, name, department, quantity,
unit_price, unit_cost, vat_percentage, vat_amount, deposit_per_unit, deposit_amount, line_total)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10::numeric, $11::numeric,
$12::numeric, $13::numeric)`
	selectLinesSQL = `SELECT code, name, department, quantity, unit_price::text, unit_cost::text,
vat_percentage::text, vat_amount::text, deposit_per_unit::text, deposit_amount::text, line_total::text
FROM sale_lines WHERE sale_id = $1 ORDER BY position`
)

// PostgresRepository stores sales and reserves stock in one transaction.
type PostgresRepository struct {
	Pool      db.TxBeginner
	DB        db.DBTX
	Inventory inventory.Postgres
}

// Create implements Repository.
func (p PostgresRepository) Create(ctx context.Context, sale Sale, reserve []inventory.Movement) (Sale, error) {
	err := db.WithTx(ctx, p.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if err := p.Inventory.WithTx(tx).ReserveAll(ctx, reserve); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertSaleSQL,
			sale.ID, sale.Number, sale.IdempotencyKey, sale.CreatedAt, sale.Operator, string(sale.Method),
			db.Num(sale.SubTotal), db.Num(sale.VATTotal), db.Num(sale.DepositTotal), db.Num(sale.Total),
			db.Num(sale.Tendered), db.Num(sale.Change), db.NullNum(sale.PaidAmount), sale.Reference, sale.DebtorName,
		); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for i, l := range sale.Lines {
			batch.Queue(insertLineSQL, sale.ID, i, l.Code, l.Name, l.Department, l.Quantity,
				db.Num(l.UnitPrice), db.Num(l.UnitCost), db.Num(l.VATPercentage), db.Num(l.VAT),
				db.Num(l.DepositPerUnit), db.Num(l.Deposit), db.Num(l.Total))
		}
		br := tx.SendBatch(ctx, batch)
		for range sale.Lines {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return err
			}
		}
		return br.Close()
	})
	if err != nil {
		return Sale{}, createError(err)
	}
	return sale, nil
}

// saleNumberConstraint is the name Postgres gives the UNIQUE on sales.number.
const saleNumberConstraint = "sales_number_key"

// createError maps a failed sale insert. Only a clash on the sale number is
// retried with a fresh one; any other unique violation is a persistence fault.
func createError(err error) error {
	switch {
	case errors.Is(err, common.ErrInsufficientStock), errors.Is(err, common.ErrNotFound),
		errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrPersistence):
		return err
	case db.IsUniqueViolation(err) && db.ConstraintName(err) == saleNumberConstraint:
		return ErrNumberTaken
	default:
		return common.Persistence("create sale", err)
	}
}

// Get implements Repository.
func (p PostgresRepository) Get(ctx context.Context, id uuid.UUID) (Sale, error) {
	return p.one(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id)
}

// GetByNumber implements Repository.
func (p PostgresRepository) GetByNumber(ctx context.Context, number string) (Sale, error) {
	return p.one(ctx, `SELECT `+saleColumns+` FROM sales WHERE number = $1`, number)
}

// List implements Repository. Lines are not loaded.
func (p PostgresRepository) List(ctx context.Context, limit, offset int) ([]Sale, int, error) {
	var total int
	if err := p.DB.QueryRow(ctx, `SELECT count(*) FROM sales`).Scan(&total); err != nil {
		return nil, 0, common.Persistence("count sales", err)
	}
	rows, err := p.DB.Query(ctx, `SELECT `+saleColumns+` FROM sales ORDER BY number DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, common.Persistence("list sales", err)
	}
	defer rows.Close()
	out := []Sale{}
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, 0, common.Persistence("scan sale", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, common.Persistence("list sales", err)
	}
	return out, total, nil
}

func (p PostgresRepository) one(ctx context.Context, query string, arg any) (Sale, error) {
	s, err := scanSale(p.DB.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, ErrNotFound
		}
		return Sale{}, common.Persistence("load sale", err)
	}
	rows, err := p.DB.Query(ctx, selectLinesSQL, s.ID)
	if err != nil {
		return Sale{}, common.Persistence("load sale lines", err)
	}
	defer rows.Close()
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return Sale{}, common.Persistence("scan sale line", err)
		}
		s.Lines = append(s.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return Sale{}, common.Persistence("load sale lines", err)
	}
	return s, nil
}

type decimalField struct {
	dst  *decimal.Decimal
	name string
}

func scanSale(row pgx.Row) (Sale, error) {
	var (
		s       Sale
		method  string
		nums    [6]string
		paidStr *string
	)
	if err := row.Scan(&s.ID, &s.Number, &s.IdempotencyKey, &s.CreatedAt, &s.Operator, &method,
		&nums[0], &nums[1], &nums[2], &nums[3], &nums[4], &nums[5], &paidStr, &s.Reference, &s.DebtorName); err != nil {
		return Sale{}, err
	}
	s.Method = Method(method)
	targets := [...]*decimalField{
		{&s.SubTotal, "sub_total"}, {&s.VATTotal, "vat_total"}, {&s.DepositTotal, "deposit_total"},
		{&s.Total, "total"}, {&s.Tendered, "tendered"}, {&s.Change, "change_due"},
	}
	for i, t := range targets {
		v, err := db.ParseNum(nums[i])
		if err != nil {
			return Sale{}, fmt.Errorf("sale %s %s: %w", s.ID, t.name, err)
		}
		*t.dst = v
	}
	paid, err := db.ParseNullNum(paidStr)
	if err != nil {
		return Sale{}, fmt.Errorf("sale %s paid_amount: %w", s.ID, err)
	}
	s.PaidAmount = paid
	return s, nil
}

func scanLine(row pgx.Row) (SaleLine, error) {
	var (
		l    SaleLine
		nums [7]string
	)
	if err := row.Scan(&l.Code, &l.Name, &l.Department, &l.Quantity,
		&nums[0], &nums[1], &nums[2], &nums[3], &nums[4], &nums[5], &nums[6]); err != nil {
		return SaleLine{}, err
	}
	targets := [...]*decimalField{
		{&l.UnitPrice, "unit_price"}, {&l.UnitCost, "unit_cost"}, {&l.VATPercentage, "vat_percentage"},
		{&l.VAT, "vat_amount"}, {&l.DepositPerUnit, "deposit_per_unit"}, {&l.Deposit, "deposit_amount"},
		{&l.Total, "line_total"},
	}
	for i, t := range targets {
		v, err := db.ParseNum(nums[i])
		if err != nil {
			return SaleLine{}, fmt.Errorf("sale line %s %s: %w", l.Code, t.name, err)
		}
		*t.dst = v
	}
	return l, nil
}
