package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/retail-pos/internal/common"
	"github.com/noah-isme/retail-pos/internal/db"
	"github.com/noah-isme/retail-pos/internal/obs"
)

const (
	reserveSQL = `UPDATE products SET on_hand = on_hand - $1, updated_at = now()
WHERE code = $2 AND on_hand >= $1`
	restockSQL = `UPDATE products SET on_hand = on_hand + $1, updated_at = now()
WHERE code = $2`
	onHandSQL = `SELECT on_hand FROM products WHERE code = $1`
)

// Postgres reserves stock with conditional updates on the products table.
// LockTimeout bounds how long a batch waits on rows held by another commit.
type Postgres struct {
	DB          db.DBTX
	LockTimeout time.Duration
}

// WithTx returns a ledger bound to tx.
func (p Postgres) WithTx(tx pgx.Tx) Postgres {
	return Postgres{DB: tx, LockTimeout: p.LockTimeout}
}

// Reserve decrements on-hand by qty when enough stock is available.
func (p Postgres) Reserve(ctx context.Context, code string, qty int) error {
	if err := checkArgs(code, qty); err != nil {
		return err
	}
	return p.reserve(ctx, code, qty)
}

// Restock increments on-hand by qty.
func (p Postgres) Restock(ctx context.Context, code string, qty int) error {
	if err := checkArgs(code, qty); err != nil {
		return err
	}
	return p.restock(ctx, code, qty)
}

// OnHand returns the current quantity for code.
func (p Postgres) OnHand(ctx context.Context, code string) (int, error) {
	var onHand int
	if err := p.DB.QueryRow(ctx, onHandSQL, code).Scan(&onHand); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUnknownItem
		}
		return 0, common.Persistence("read on hand", err)
	}
	return onHand, nil
}

// ReserveAll applies every movement in code order. It must run on a
// transaction-bound ledger (see WithTx); the first failure aborts and the
// caller's rollback discards the earlier decrements.
func (p Postgres) ReserveAll(ctx context.Context, movements []Movement) error {
	net := Net(movements)
	if len(net) == 0 {
		return nil
	}
	if p.LockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", p.LockTimeout.Milliseconds())
		if _, err := p.DB.Exec(ctx, stmt); err != nil {
			return common.Persistence("set lock timeout", err)
		}
	}
	for _, mv := range net {
		var err error
		if mv.Quantity > 0 {
			err = p.reserve(ctx, mv.Code, mv.Quantity)
		} else {
			err = p.restock(ctx, mv.Code, -mv.Quantity)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p Postgres) reserve(ctx context.Context, code string, qty int) error {
	tag, err := p.DB.Exec(ctx, reserveSQL, qty, code)
	if err != nil {
		if db.IsLockTimeout(err) {
			// The transaction is aborted at this point, so on-hand cannot be re-read.
			obs.CountInventoryRejection()
			return &common.StockError{Code: code, Available: 0, Requested: qty}
		}
		return common.Persistence("reserve stock", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	available, err := p.OnHand(ctx, code)
	if err != nil {
		return err
	}
	obs.CountInventoryRejection()
	return &common.StockError{Code: code, Available: available, Requested: qty}
}

func (p Postgres) restock(ctx context.Context, code string, qty int) error {
	tag, err := p.DB.Exec(ctx, restockSQL, qty, code)
	if err != nil {
		return common.Persistence("restock", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownItem
	}
	return nil
}
