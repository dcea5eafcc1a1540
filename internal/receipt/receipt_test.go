package receipt_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/retail-pos/internal/checkout"
	"github.com/noah-isme/retail-pos/internal/events"
	"github.com/noah-isme/retail-pos/internal/receipt"
	"github.com/noah-isme/retail-pos/internal/resilience"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleSale() checkout.Sale {
	return checkout.Sale{
		ID:           uuid.New(),
		Number:       "20261015093000123456",
		CreatedAt:    time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC),
		Operator:     "ana",
		Method:       checkout.MethodCash,
		SubTotal:     dec("1368.81"),
		VATTotal:     dec("136.69"),
		DepositTotal: dec("0.50"),
		Total:        dec("1505.50"),
		Tendered:     dec("2000"),
		Change:       dec("494.50"),
		Lines: []checkout.SaleLine{
			{Code: "COLA", Name: "Cola 1L", Quantity: 2, UnitPrice: dec("2.50"), Deposit: dec("0.50"), Total: dec("5.50")},
			{Code: "RADIO", Name: "Pocket radio with a very long descriptive name", Quantity: 3, UnitPrice: dec("500"), Total: dec("1500")},
		},
	}
}

func TestRenderFixedWidth(t *testing.T) {
	out := string(receipt.Render(sampleSale(), 32))
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	for _, l := range lines {
		require.LessOrEqual(t, len([]rune(l)), 32, l)
	}
	require.Contains(t, out, "20261015093000123456")
	require.Contains(t, out, "Pocket radio with a very long de\n")
	require.Contains(t, out, "  3 x 500.00")
	require.Contains(t, out, "1505.50\n")
	require.Contains(t, out, "Change")
	require.Contains(t, out, "494.50\n")
	require.NotContains(t, out, "Balance due")
}

func TestRenderCreditSaleShowsBalance(t *testing.T) {
	s := sampleSale()
	s.Method = checkout.MethodDebt
	paid := dec("500")
	s.PaidAmount = &paid
	s.DebtorName = "Amina"
	out := string(receipt.Render(s, 0))
	require.Contains(t, out, "Balance due")
	require.Contains(t, out, "1005.50\n")
	require.Contains(t, out, "Amina\n")
	require.NotContains(t, out, "Change")
}

func TestFrameAddsEscPosCommands(t *testing.T) {
	framed := receipt.Frame([]byte("hello\n"))
	require.True(t, bytes.HasPrefix(framed, []byte{0x1B, '@'}))
	require.True(t, bytes.HasSuffix(framed, []byte{0x1D, 'V', 0x42, 0x00}))
}

func TestNotifierPrintsCommittedSales(t *testing.T) {
	var buf bytes.Buffer
	n := &receipt.Notifier{Printer: &receipt.WriterPrinter{W: &buf}, Width: 40, Logger: zerolog.Nop()}
	bus := &events.Bus{Store: &events.Memory{}, Notifiers: []events.Notifier{n}}
	sale := sampleSale()

	_, err := bus.Emit(context.Background(), events.TopicSaleCommitted, sale.ID, sale)
	require.NoError(t, err)
	require.Contains(t, buf.String(), sale.Number)

	buf.Reset()
	_, err = bus.Emit(context.Background(), events.TopicDebtOpened, uuid.New(), map[string]string{"x": "y"})
	require.NoError(t, err)
	require.Zero(t, buf.Len())
}

type jammedPrinter struct {
	mu    sync.Mutex
	calls int
}

func (p *jammedPrinter) Print(context.Context, []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return errors.New("paper jam")
}

func (p *jammedPrinter) Close() error { return nil }

func TestNotifierSkipsWhileBreakerOpen(t *testing.T) {
	printer := &jammedPrinter{}
	n := &receipt.Notifier{
		Printer: printer,
		Breaker: resilience.NewBreaker(2, 0.5, time.Minute).WithTarget("printer"),
		Logger:  zerolog.Nop(),
	}
	ctx := context.Background()
	sale := sampleSale()

	require.Error(t, n.Print(ctx, sale))
	require.Error(t, n.Print(ctx, sale))
	require.NoError(t, n.Print(ctx, sale))
	require.NoError(t, n.Print(ctx, sale))
	require.Equal(t, 2, printer.calls)
	require.Equal(t, resilience.Open, n.Breaker.State())
}

type recordingClient struct {
	tasks []*asynq.Task
	err   error
}

func (c *recordingClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{ID: "1", Type: task.Type()}, nil
}

func TestSchedulerEnqueuesPrintJobs(t *testing.T) {
	client := &recordingClient{}
	bus := &events.Bus{Store: &events.Memory{}, Scheduler: receipt.Scheduler{Client: client}}
	sale := sampleSale()
	ctx := context.Background()

	_, err := bus.Emit(ctx, events.TopicSaleCommitted, sale.ID, sale)
	require.NoError(t, err)
	_, err = bus.Emit(ctx, events.TopicDebtOpened, uuid.New(), nil)
	require.NoError(t, err)
	require.Len(t, client.tasks, 1)
	require.Equal(t, receipt.TaskPrint, client.tasks[0].Type())
	require.Contains(t, string(client.tasks[0].Payload()), sale.ID.String())

	client.err = asynq.ErrTaskIDConflict
	require.NoError(t, receipt.Scheduler{Client: client}.Schedule(ctx, events.Event{Topic: events.TopicSaleCommitted, AggregateID: sale.ID}))
}

type saleMap map[uuid.UUID]checkout.Sale

func (m saleMap) Get(_ context.Context, id uuid.UUID) (checkout.Sale, error) {
	s, ok := m[id]
	if !ok {
		return checkout.Sale{}, checkout.ErrNotFound
	}
	return s, nil
}

func TestPrintHandlerLoadsSale(t *testing.T) {
	var buf bytes.Buffer
	sale := sampleSale()
	h := receipt.PrintHandler(saleMap{sale.ID: sale}, &receipt.Notifier{Printer: &receipt.WriterPrinter{W: &buf}, Logger: zerolog.Nop()})

	task, err := receipt.NewPrintTask(sale.ID)
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))
	require.Contains(t, buf.String(), sale.Number)

	missing, err := receipt.NewPrintTask(uuid.New())
	require.NoError(t, err)
	require.ErrorIs(t, h.ProcessTask(context.Background(), missing), checkout.ErrNotFound)

	bad := asynq.NewTask(receipt.TaskPrint, []byte("{"))
	require.ErrorIs(t, h.ProcessTask(context.Background(), bad), asynq.SkipRetry)
}

func TestNewPrinter(t *testing.T) {
	p, err := receipt.NewPrinter("none", "")
	require.NoError(t, err)
	require.Nil(t, p)

	p, err = receipt.NewPrinter("network", "10.0.0.5:9100")
	require.NoError(t, err)
	require.Equal(t, receipt.NetworkPrinter{Addr: "10.0.0.5:9100"}, p)

	_, err = receipt.NewPrinter("usb", "")
	require.Error(t, err)
	_, err = receipt.NewPrinter("fax", "x")
	require.Error(t, err)
}
