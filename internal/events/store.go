package events

import (
	"context"
	"errors"
	"sync"

	"github.com/noah-isme/retail-pos/internal/common"
	"github.com/noah-isme/retail-pos/internal/db"
)

// Memory keeps events in process.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// Append implements Store.
func (m *Memory) Append(_ context.Context, ev Event) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return ev, nil
}

// ByTopic returns a copy of the stored events for topic in emit order.
func (m *Memory) ByTopic(topic string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}

const insertEvent = `INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
VALUES ($1, $2, $3, $4::jsonb, $5)
RETURNING occurred_at`

// Postgres writes events to the domain_events table.
type Postgres struct {
	DB db.DBTX
}

// Append implements Store.
func (p Postgres) Append(ctx context.Context, ev Event) (Event, error) {
	if p.DB == nil {
		return Event{}, errors.New("events: postgres store not configured")
	}
	err := p.DB.QueryRow(ctx, insertEvent, ev.ID, ev.Topic, ev.AggregateID, string(ev.Payload), ev.OccurredAt).
		Scan(&ev.OccurredAt)
	if err != nil {
		return Event{}, common.Persistence("insert domain event", err)
	}
	return ev, nil
}
