package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/retail-pos/internal/cart"
	"github.com/noah-isme/retail-pos/internal/money"
)

// Fingerprint derives the idempotency key of a commit from operator, method,
// total and the line contents. Line order does not matter.
func Fingerprint(operator string, method Method, total decimal.Decimal, lines []cart.Line) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, fmt.Sprintf("%s|%d|%s", l.Code, l.Quantity, money.Format(l.UnitPrice)))
	}
	sort.Strings(parts)
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s\n", strings.TrimSpace(operator), method, money.Format(total))
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IdemRecord is the state stored under an idempotency key.
type IdemRecord struct {
	Pending bool
	Token   string
	SaleID  uuid.UUID
}

// IdempotencyStore is a compare-and-swap registry of commit keys.
type IdempotencyStore interface {
	// Claim marks key pending. It reports false when another commit holds it.
	Claim(ctx context.Context, key string) (token string, claimed bool, err error)
	Lookup(ctx context.Context, key string) (IdemRecord, bool, error)
	// Complete maps key to the committed sale, provided token still holds it.
	Complete(ctx context.Context, key, token string, saleID uuid.UUID) error
	// Release drops a pending marker held by token.
	Release(ctx context.Context, key, token string) error
}

const (
	pendingPrefix = "pending:"
	donePrefix    = "done:"
)

var completeScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  redis.call("set", KEYS[1], ARGV[2], "PX", ARGV[3])
  return 1
end
return 0`)

var releaseScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`)

// RedisIdempotency keeps commit keys in Redis. Pending markers expire after
// PendingTTL so a crashed commit cannot block its key forever; completed keys
// live for TTL.
type RedisIdempotency struct {
	R          *redis.Client
	Prefix     string
	TTL        time.Duration
	PendingTTL time.Duration
}

func (s RedisIdempotency) key(k string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "idem:commit:"
	}
	sum := sha256.Sum256([]byte(k))
	return prefix + hex.EncodeToString(sum[:])
}

func (s RedisIdempotency) ttl() time.Duration {
	if s.TTL <= 0 {
		return 30 * time.Second
	}
	return s.TTL
}

func (s RedisIdempotency) pendingTTL() time.Duration {
	if s.PendingTTL <= 0 {
		return 30 * time.Second
	}
	return s.PendingTTL
}

// Claim implements IdempotencyStore.
func (s RedisIdempotency) Claim(ctx context.Context, key string) (string, bool, error) {
	if s.R == nil {
		return "", false, errors.New("idempotency: redis client not configured")
	}
	token := uuid.NewString()
	ok, err := s.R.SetNX(ctx, s.key(key), pendingPrefix+token, s.pendingTTL()).Result()
	if err != nil {
		return "", false, fmt.Errorf("idempotency claim: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Lookup implements IdempotencyStore.
func (s RedisIdempotency) Lookup(ctx context.Context, key string) (IdemRecord, bool, error) {
	val, err := s.R.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return IdemRecord{}, false, nil
	}
	if err != nil {
		return IdemRecord{}, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	switch {
	case strings.HasPrefix(val, pendingPrefix):
		return IdemRecord{Pending: true, Token: strings.TrimPrefix(val, pendingPrefix)}, true, nil
	case strings.HasPrefix(val, donePrefix):
		id, err := uuid.Parse(strings.TrimPrefix(val, donePrefix))
		if err != nil {
			return IdemRecord{}, false, fmt.Errorf("idempotency record %q: %w", val, err)
		}
		return IdemRecord{SaleID: id}, true, nil
	default:
		return IdemRecord{}, false, fmt.Errorf("idempotency record %q: unknown state", val)
	}
}

// Complete implements IdempotencyStore.
func (s RedisIdempotency) Complete(ctx context.Context, key, token string, saleID uuid.UUID) error {
	err := completeScript.Run(ctx, s.R, []string{s.key(key)},
		pendingPrefix+token, donePrefix+saleID.String(), s.ttl().Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("idempotency complete: %w", err)
	}
	return nil
}

// Release implements IdempotencyStore.
func (s RedisIdempotency) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, s.R, []string{s.key(key)}, pendingPrefix+token).Err(); err != nil {
		return fmt.Errorf("idempotency release: %w", err)
	}
	return nil
}
