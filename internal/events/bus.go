package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a persisted domain event.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID uuid.UUID       `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// Decode unmarshals the payload into dst.
func (e Event) Decode(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}

// Store persists events.
type Store interface {
	Append(ctx context.Context, ev Event) (Event, error)
}

// Scheduler hands events to asynchronous workers.
type Scheduler interface {
	Schedule(ctx context.Context, ev Event) error
}

// Notifier reacts to emitted events in-process.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Bus persists domain events and fans them out to downstream handlers.
type Bus struct {
	Store     Store
	Scheduler Scheduler
	Notifiers []Notifier
	Now       func() time.Time
}

// Emit records the event and dispatches it to all configured handlers. The
// event is returned even when a handler fails; handler errors are joined.
func (b *Bus) Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (Event, error) {
	if b == nil || b.Store == nil {
		return Event{}, errors.New("events: store not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	if aggregateID == uuid.Nil {
		return Event{}, errors.New("events: aggregate id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	ev, err := b.Store.Append(ctx, Event{
		ID:          uuid.New(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     encoded,
		OccurredAt:  now().UTC(),
	})
	if err != nil {
		return Event{}, fmt.Errorf("events: persist event: %w", err)
	}
	if q, ok := ctx.Value(queueKey{}).(*queue); ok {
		q.add(func(ctx context.Context) error { return b.dispatch(ctx, ev) })
		return ev, nil
	}
	return ev, b.dispatch(ctx, ev)
}

func (b *Bus) dispatch(ctx context.Context, ev Event) error {
	var joined error
	if b.Scheduler != nil {
		if schedErr := b.Scheduler.Schedule(ctx, ev); schedErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: schedule: %w", schedErr))
		}
	}
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if notifyErr := notifier.Notify(ctx, ev); notifyErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", notifyErr))
		}
	}
	return joined
}

type queueKey struct{}

type queue struct {
	mu    sync.Mutex
	calls []func(context.Context) error
}

func (q *queue) add(fn func(context.Context) error) {
	q.mu.Lock()
	q.calls = append(q.calls, fn)
	q.mu.Unlock()
}

// Defer returns a context under which Emit still persists events but holds
// back scheduling and notifiers until flush is called. Callers that emit while
// holding a lock flush after releasing it. flush runs each queued dispatch
// once, in emit order, and joins their errors.
func Defer(ctx context.Context) (context.Context, func(context.Context) error) {
	q := &queue{}
	flush := func(ctx context.Context) error {
		q.mu.Lock()
		calls := q.calls
		q.calls = nil
		q.mu.Unlock()
		var joined error
		for _, call := range calls {
			joined = errors.Join(joined, call(ctx))
		}
		return joined
	}
	return context.WithValue(ctx, queueKey{}, q), flush
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return validJSON(v)
	case []byte:
		return validJSON(v)
	case string:
		return validJSON([]byte(strings.TrimSpace(v)))
	default:
		return json.Marshal(v)
	}
}

func validJSON(data []byte) (json.RawMessage, error) {
	if len(data) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(data) {
		return nil, errors.New("payload is not valid json")
	}
	return append(json.RawMessage(nil), data...), nil
}
