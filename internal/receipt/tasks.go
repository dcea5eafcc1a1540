package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/noah-isme/retail-pos/internal/checkout"
	"github.com/noah-isme/retail-pos/internal/events"
	"github.com/noah-isme/retail-pos/internal/resilience"
)

// TaskPrint is the asynq task type that prints the receipt of one sale.
const TaskPrint = "receipt:print"

// PrintPayload identifies the sale to print.
type PrintPayload struct {
	SaleID uuid.UUID `json:"saleId"`
}

// NewPrintTask builds a print job for saleID.
func NewPrintTask(saleID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(PrintPayload{SaleID: saleID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPrint, payload,
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
		asynq.TaskID(TaskPrint+":"+saleID.String()),
	), nil
}

// SaleSource loads committed sales.
type SaleSource interface {
	Get(ctx context.Context, id uuid.UUID) (checkout.Sale, error)
}

// PrintHandler loads the sale and prints it through n.
func PrintHandler(sales SaleSource, n *Notifier) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p PrintPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("decode print payload: %v: %w", err, asynq.SkipRetry)
		}
		sale, err := sales.Get(ctx, p.SaleID)
		if err != nil {
			return fmt.Errorf("load sale %s: %w", p.SaleID, err)
		}
		return n.Print(ctx, sale)
	}
}

// RetryDelay spaces print retries with jittered exponential backoff.
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	return resilience.Backoff(2*time.Second, n, 0.2)
}

// Register mounts the receipt task handlers on mux.
func Register(mux *asynq.ServeMux, sales SaleSource, n *Notifier) {
	mux.Handle(TaskPrint, PrintHandler(sales, n))
}

// TaskEnqueuer is the subset of *asynq.Client the scheduler needs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler hands committed sales to the worker for printing. It implements
// events.Scheduler.
type Scheduler struct {
	Client TaskEnqueuer
	Queue  string
}

// Schedule implements events.Scheduler. Other topics are ignored.
func (s Scheduler) Schedule(ctx context.Context, ev events.Event) error {
	if s.Client == nil || ev.Topic != events.TopicSaleCommitted {
		return nil
	}
	task, err := NewPrintTask(ev.AggregateID)
	if err != nil {
		return err
	}
	var opts []asynq.Option
	if s.Queue != "" {
		opts = append(opts, asynq.Queue(s.Queue))
	}
	if _, err := s.Client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue receipt print: %w", err)
	}
	return nil
}
