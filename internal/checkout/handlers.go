package checkout

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/retail-pos/internal/cart"
	"github.com/noah-isme/retail-pos/internal/common"
	"github.com/noah-isme/retail-pos/internal/events"
	"github.com/noah-isme/retail-pos/internal/lock"
	"github.com/noah-isme/retail-pos/internal/money"
)

// IdempotencyHeader lets a client pin its own idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// Handler commits session carts and serves sale lookups.
type Handler struct {
	Pipeline *Pipeline
	Carts    *cart.Store
	Locker   *lock.Locker
	LockTTL  time.Duration
	// Limit wraps the commit endpoint, typically with a rate limiter.
	Limit  func(http.Handler) http.Handler
	Logger zerolog.Logger
}

// Routes mounts the checkout endpoints.
func (h *Handler) Routes(r chi.Router) {
	commit := http.Handler(http.HandlerFunc(h.Commit))
	if h.Limit != nil {
		commit = h.Limit(commit)
	}
	r.Method(http.MethodPost, "/carts/{session}/checkout", commit)
	r.Get("/sales", h.List)
	r.Get("/sales/{saleID}", h.Get)
	r.Get("/sales/by-number/{number}", h.GetByNumber)
}

type commitRequest struct {
	Method    string      `json:"method"`
	Tendered  *string     `json:"tendered,omitempty"`
	Reference string      `json:"reference,omitempty"`
	Debtor    *DebtorInfo `json:"debtor,omitempty"`
}

// Commit turns the session cart into a sale and clears the cart.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Pipeline == nil || h.Carts == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var body commitRequest
	if err := common.DecodeJSON(r, &body); err != nil {
		common.WriteError(w, err)
		return
	}
	var tendered *decimal.Decimal
	if body.Tendered != nil {
		v, err := money.ParseStrict(*body.Tendered)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		tendered = &v
	}

	session := chi.URLParam(r, "session")
	var res Result
	// Receipt printing and other event handlers run once the cart lock is released.
	deferred, flush := events.Defer(r.Context())
	defer func() {
		if err := flush(context.WithoutCancel(r.Context())); err != nil {
			h.Logger.Warn().Err(err).Str("session", session).Msg("post-commit event handlers failed")
		}
	}()
	err := h.withSession(deferred, session, func(ctx context.Context) error {
		c, err := h.Carts.Load(ctx, session)
		if err != nil {
			return err
		}
		res, err = h.Pipeline.Commit(ctx, Request{
			Lines:     c.Snapshot().Lines,
			Operator:  common.Operator(r),
			Method:    Method(body.Method),
			Tendered:  tendered,
			Reference: body.Reference,
			Debtor:    body.Debtor,
			Key:       strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
		})
		if err != nil && res.Sale.ID == uuid.Nil {
			return err
		}
		if delErr := h.Carts.Delete(ctx, session); delErr != nil {
			h.Logger.Warn().Err(delErr).Str("session", session).Msg("clear committed cart")
		}
		return err
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	common.JSON(w, status, map[string]any{"data": res})
}

// List returns a page of sales, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := common.ParsePagination(r, 20, 100)
	sales, total, err := h.Pipeline.List(r.Context(), page.PerPage, page.Offset())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       sales,
		"pagination": page.Meta(total),
	})
}

// Get returns one sale by id.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "saleID"))
	if err != nil {
		common.WriteError(w, common.Validation("invalid sale id"))
		return
	}
	sale, err := h.Pipeline.Get(r.Context(), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": sale})
}

// GetByNumber returns one sale by its number.
func (h *Handler) GetByNumber(w http.ResponseWriter, r *http.Request) {
	sale, err := h.Pipeline.GetByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": sale})
}

func (h *Handler) withSession(ctx context.Context, session string, fn func(context.Context) error) error {
	if h.Locker == nil {
		return fn(ctx)
	}
	err := h.Locker.WithLock(ctx, h.Locker.Key("cart", session), h.LockTTL, fn)
	if errors.Is(err, lock.ErrNotAcquired) {
		h.Logger.Warn().Str("session", session).Msg("cart busy, commit rejected")
	}
	return err
}
