package receipt

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/retail-pos/internal/checkout"
	"github.com/noah-isme/retail-pos/internal/events"
	"github.com/noah-isme/retail-pos/internal/obs"
	"github.com/noah-isme/retail-pos/internal/resilience"
)

// Notifier prints a receipt for every committed sale. It implements
// events.Notifier.
type Notifier struct {
	Printer Printer
	Breaker *resilience.Breaker
	Width   int
	Logger  zerolog.Logger
}

// Notify implements events.Notifier. Other topics are ignored.
func (n *Notifier) Notify(ctx context.Context, ev events.Event) error {
	if n == nil || n.Printer == nil || ev.Topic != events.TopicSaleCommitted {
		return nil
	}
	var sale checkout.Sale
	if err := ev.Decode(&sale); err != nil {
		obs.CountReceipt("invalid")
		return fmt.Errorf("decode committed sale: %w", err)
	}
	return n.Print(ctx, sale)
}

// Print renders and prints one sale. A refused call while the breaker is open
// is skipped with a warning and reported as success.
func (n *Notifier) Print(ctx context.Context, sale checkout.Sale) error {
	data := Frame(Render(sale, n.Width))
	send := func(ctx context.Context) error { return n.Printer.Print(ctx, data) }

	var err error
	if n.Breaker != nil {
		err = n.Breaker.Do(ctx, send)
	} else {
		err = send(ctx)
	}
	switch {
	case err == nil:
		obs.CountReceipt("ok")
		n.Logger.Debug().Str("sale_id", sale.ID.String()).Str("number", sale.Number).Msg("receipt printed")
		return nil
	case errors.Is(err, resilience.ErrOpenCircuit):
		obs.CountReceipt("skipped")
		n.Logger.Warn().Str("sale_id", sale.ID.String()).Str("number", sale.Number).Msg("printer breaker open, receipt skipped")
		return nil
	default:
		obs.CountReceipt("error")
		n.Logger.Warn().Err(err).Str("sale_id", sale.ID.String()).Msg("receipt print failed")
		return fmt.Errorf("print receipt %s: %w", sale.Number, err)
	}
}
