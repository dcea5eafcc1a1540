package debt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/retail-pos/internal/common"
	"github.com/noah-isme/retail-pos/internal/db"
)

const debtColumns = `id, sale_id, sale_number, total_amount::text, paid_amount::text, status,
due_date, debtor_name, phone, created_by, created_at, updated_at`

const (
	insertDebtSQL = `INSERT INTO debts (id, sale_id, sale_number, total_amount, paid_amount, status,
due_date, debtor_name, phone, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9, $10, $11, $11)`
	insertPaymentSQL = `INSERT INTO debt_payments (id, debt_id, amount, method, note, actor, created_at)
VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)`
	incrementPaidSQL = `UPDATE debts SET paid_amount = paid_amount + $1::numeric, updated_at = $3
WHERE id = $2 AND paid_amount + $1::numeric <= total_amount
RETURNING ` + debtColumns
	setStatusSQL = `UPDATE debts SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
)

// Postgres stores debts in the debts and debt_payments tables.
type Postgres struct {
	Pool db.TxBeginner
	DB   db.DBTX
}

// NewPostgres builds a store over a pool.
func NewPostgres(pool *pgxpool.Pool) Postgres {
	return Postgres{Pool: pool, DB: pool}
}

// Create implements Store.
func (p Postgres) Create(ctx context.Context, d Debt, initial *Payment) (Debt, error) {
	err := db.WithTx(ctx, p.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertDebtSQL,
			d.ID, d.SaleID, d.SaleNumber, db.Num(d.Total), db.Num(d.Paid), string(d.Status),
			d.DueDate, d.DebtorName, d.Phone, d.CreatedBy, d.CreatedAt,
		)
		if err != nil {
			return err
		}
		if initial == nil {
			return nil
		}
		return insertPayment(ctx, tx, *initial)
	})
	switch {
	case err == nil:
		return d, nil
	case db.IsUniqueViolation(err):
		return Debt{}, ErrDuplicate
	case db.IsCheckViolation(err):
		return Debt{}, ErrOverpayment
	default:
		return Debt{}, common.Persistence("create debt", err)
	}
}

// Get implements Store.
func (p Postgres) Get(ctx context.Context, id uuid.UUID) (Debt, error) {
	return p.one(ctx, `SELECT `+debtColumns+` FROM debts WHERE id = $1`, id)
}

// BySale implements Store.
func (p Postgres) BySale(ctx context.Context, saleID uuid.UUID) (Debt, error) {
	return p.one(ctx, `SELECT `+debtColumns+` FROM debts WHERE sale_id = $1`, saleID)
}

// AddPayment implements Store. The guarded increment takes the row lock, so
// the status written afterwards in the same transaction sees the new total.
func (p Postgres) AddPayment(ctx context.Context, pay Payment, now time.Time) (Debt, Status, error) {
	var (
		updated Debt
		prev    Status
	)
	err := db.WithTx(ctx, p.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var err error
		updated, err = scanDebt(tx.QueryRow(ctx, incrementPaidSQL, db.Num(pay.Amount), pay.DebtID, now))
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := scanDebt(tx.QueryRow(ctx, `SELECT `+debtColumns+` FROM debts WHERE id = $1`, pay.DebtID)); getErr != nil {
				if errors.Is(getErr, pgx.ErrNoRows) {
					return ErrNotFound
				}
				return getErr
			}
			return ErrOverpayment
		}
		if err != nil {
			return err
		}
		prev = updated.Status
		updated.Status = StatusFor(updated.Total, updated.Paid, updated.DueDate, now)
		if updated.Status != prev {
			if _, err := tx.Exec(ctx, setStatusSQL, updated.ID, string(prev), string(updated.Status), now); err != nil {
				return err
			}
		}
		return insertPayment(ctx, tx, pay)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrOverpayment) {
			return Debt{}, "", err
		}
		if db.IsCheckViolation(err) {
			return Debt{}, "", ErrOverpayment
		}
		return Debt{}, "", common.Persistence("apply debt payment", err)
	}
	return updated, prev, nil
}

// Payments implements Store.
func (p Postgres) Payments(ctx context.Context, debtID uuid.UUID) ([]Payment, error) {
	if _, err := p.Get(ctx, debtID); err != nil {
		return nil, err
	}
	rows, err := p.DB.Query(ctx, `SELECT id, debt_id, amount::text, method, note, actor, created_at
FROM debt_payments WHERE debt_id = $1 ORDER BY created_at, id`, debtID)
	if err != nil {
		return nil, common.Persistence("list debt payments", err)
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var (
			pay    Payment
			amount string
			method string
		)
		if err := rows.Scan(&pay.ID, &pay.DebtID, &amount, &method, &pay.Note, &pay.Actor, &pay.CreatedAt); err != nil {
			return nil, common.Persistence("scan debt payment", err)
		}
		if pay.Amount, err = db.ParseNum(amount); err != nil {
			return nil, fmt.Errorf("payment %s amount: %w", pay.ID, err)
		}
		pay.Method = Method(method)
		out = append(out, pay)
	}
	if err := rows.Err(); err != nil {
		return nil, common.Persistence("list debt payments", err)
	}
	return out, nil
}

// Unsettled implements Store.
func (p Postgres) Unsettled(ctx context.Context) ([]Debt, error) {
	rows, err := p.DB.Query(ctx, `SELECT `+debtColumns+` FROM debts WHERE status <> $1 ORDER BY created_at`, string(StatusPaid))
	if err != nil {
		return nil, common.Persistence("list unsettled debts", err)
	}
	defer rows.Close()
	var out []Debt
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, common.Persistence("scan debt", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, common.Persistence("list unsettled debts", err)
	}
	return out, nil
}

// SetStatus implements Store.
func (p Postgres) SetStatus(ctx context.Context, id uuid.UUID, from, to Status, now time.Time) (bool, error) {
	tag, err := p.DB.Exec(ctx, setStatusSQL, id, string(from), string(to), now)
	if err != nil {
		return false, common.Persistence("set debt status", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p Postgres) one(ctx context.Context, query string, arg any) (Debt, error) {
	d, err := scanDebt(p.DB.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Debt{}, ErrNotFound
		}
		return Debt{}, common.Persistence("load debt", err)
	}
	return d, nil
}

func insertPayment(ctx context.Context, tx pgx.Tx, pay Payment) error {
	_, err := tx.Exec(ctx, insertPaymentSQL,
		pay.ID, pay.DebtID, db.Num(pay.Amount), string(pay.Method), pay.Note, pay.Actor, pay.CreatedAt,
	)
	return err
}

func scanDebt(row pgx.Row) (Debt, error) {
	var (
		d           Debt
		total, paid string
		status      string
	)
	if err := row.Scan(&d.ID, &d.SaleID, &d.SaleNumber, &total, &paid, &status,
		&d.DueDate, &d.DebtorName, &d.Phone, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Debt{}, err
	}
	var err error
	if d.Total, err = db.ParseNum(total); err != nil {
		return Debt{}, fmt.Errorf("debt %s total: %w", d.ID, err)
	}
	if d.Paid, err = db.ParseNum(paid); err != nil {
		return Debt{}, fmt.Errorf("debt %s paid: %w", d.ID, err)
	}
	d.Status = Status(status)
	return d, nil
}
