package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/retail-pos/internal/common"
)

var (
	// ErrHeldNotFound is returned when recalling an unknown held cart.
	ErrHeldNotFound = fmt.Errorf("held cart %w", common.ErrNotFound)
	// ErrCartNotEmpty is returned when recalling into a session that already has lines.
	ErrCartNotEmpty = fmt.Errorf("%w: session cart is not empty", common.ErrValidation)
	// ErrEmptyCart is returned when holding a cart without lines.
	ErrEmptyCart = fmt.Errorf("%w: cart is empty", common.ErrValidation)
)

// Held is a suspended cart waiting to be recalled.
type Held struct {
	ID      string    `json:"id"`
	Label   string    `json:"label"`
	HeldAt  time.Time `json:"heldAt"`
	Cart    *Cart     `json:"cart"`
	Summary Totals    `json:"summary"`
}

// Store keeps session carts and held carts in Redis as JSON.
type Store struct {
	R       *redis.Client
	TTL     time.Duration
	HeldTTL time.Duration
	Now     func() time.Time
}

func (s *Store) ttl() time.Duration {
	if s == nil || s.TTL <= 0 {
		return 12 * time.Hour
	}
	return s.TTL
}

func (s *Store) heldTTL() time.Duration {
	if s == nil || s.HeldTTL <= 0 {
		return 72 * time.Hour
	}
	return s.HeldTTL
}

func (s *Store) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func sessionKey(session string) string { return "cart:session:" + session }
func heldIndexKey(session string) string { return "cart:held:" + session }

func (s *Store) check(session string) error {
	if s == nil || s.R == nil {
		return errors.New("cart store not configured")
	}
	if strings.TrimSpace(session) == "" {
		return common.Validation("session is required")
	}
	return nil
}

// Load returns the session cart, or an empty one when none is stored.
func (s *Store) Load(ctx context.Context, session string) (*Cart, error) {
	if err := s.check(session); err != nil {
		return nil, err
	}
	data, err := s.R.Get(ctx, sessionKey(session)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return New(session), nil
		}
		return nil, fmt.Errorf("load cart: %w", err)
	}
	c := New(session)
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	c.Session = session
	c.ensure()
	return c, nil
}

// Save stores the cart and refreshes its TTL. Empty carts are deleted.
func (s *Store) Save(ctx context.Context, c *Cart) error {
	if c == nil {
		return errors.New("cart is nil")
	}
	if err := s.check(c.Session); err != nil {
		return err
	}
	if c.Len() == 0 {
		return s.Delete(ctx, c.Session)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := s.R.Set(ctx, sessionKey(c.Session), data, s.ttl()).Err(); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

// Delete drops the session cart.
func (s *Store) Delete(ctx context.Context, session string) error {
	if err := s.check(session); err != nil {
		return err
	}
	return s.R.Del(ctx, sessionKey(session)).Err()
}

// Hold suspends the session cart under a new id and clears the session.
func (s *Store) Hold(ctx context.Context, session, label string) (Held, error) {
	c, err := s.Load(ctx, session)
	if err != nil {
		return Held{}, err
	}
	if c.Len() == 0 {
		return Held{}, ErrEmptyCart
	}
	h := Held{
		ID:      uuid.NewString(),
		Label:   strings.TrimSpace(label),
		HeldAt:  s.now().UTC(),
		Cart:    c,
		Summary: c.Totals(),
	}
	data, err := json.Marshal(h)
	if err != nil {
		return Held{}, fmt.Errorf("encode held cart: %w", err)
	}
	_, err = s.R.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, heldIndexKey(session), h.ID, data)
		pipe.Expire(ctx, heldIndexKey(session), s.heldTTL())
		pipe.Del(ctx, sessionKey(session))
		return nil
	})
	if err != nil {
		return Held{}, fmt.Errorf("hold cart: %w", err)
	}
	return h, nil
}

// ListHeld lists the suspended carts of a session, oldest first.
func (s *Store) ListHeld(ctx context.Context, session string) ([]Held, error) {
	if err := s.check(session); err != nil {
		return nil, err
	}
	raw, err := s.R.HGetAll(ctx, heldIndexKey(session)).Result()
	if err != nil {
		return nil, fmt.Errorf("list held carts: %w", err)
	}
	out := make([]Held, 0, len(raw))
	for _, v := range raw {
		var h Held
		if err := json.Unmarshal([]byte(v), &h); err != nil {
			return nil, fmt.Errorf("decode held cart: %w", err)
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HeldAt.Before(out[j].HeldAt) })
	return out, nil
}

// Recall restores a held cart into the empty session cart.
func (s *Store) Recall(ctx context.Context, session, id string) (*Cart, error) {
	current, err := s.Load(ctx, session)
	if err != nil {
		return nil, err
	}
	if current.Len() > 0 {
		return nil, ErrCartNotEmpty
	}
	raw, err := s.R.HGet(ctx, heldIndexKey(session), id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrHeldNotFound
		}
		return nil, fmt.Errorf("load held cart: %w", err)
	}
	var h Held
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("decode held cart: %w", err)
	}
	c := h.Cart
	if c == nil {
		c = New(session)
	}
	c.Session = session
	c.ensure()
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode cart: %w", err)
	}
	_, err = s.R.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(session), data, s.ttl())
		pipe.HDel(ctx, heldIndexKey(session), id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recall cart: %w", err)
	}
	return c, nil
}
