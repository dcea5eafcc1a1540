package cart

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/retail-pos/internal/catalog"
	"github.com/noah-isme/retail-pos/internal/common"
	"github.com/noah-isme/retail-pos/internal/lock"
	"github.com/noah-isme/retail-pos/internal/money"
)

// Handler wires the cart engine and session store to HTTP.
type Handler struct {
	Engine  *Engine
	Store   *Store
	Locker  *lock.Locker
	LockTTL time.Duration
	// Search backs the till's product lookup; nil leaves the route unmounted.
	Search  catalog.Searcher
	Logger  zerolog.Logger
}

// Routes mounts the cart endpoints under /carts/{session}.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/carts/{session}", func(c chi.Router) {
		c.Get("/", h.Get)
		c.Delete("/", h.Clear)
		c.Post("/items", h.AddItem)
		c.Put("/items/{code}", h.SetQuantity)
		c.Post("/items/{code}/decrement", h.Decrement)
		c.Delete("/items/{code}", h.RemoveItem)
		c.Post("/returns", h.Returns)
		c.Post("/hold", h.Hold)
		c.Get("/held", h.ListHeld)
		c.Post("/held/{heldID}/recall", h.Recall)
	})
	if h.Search != nil {
		r.Get("/products/search", h.SearchProducts)
	}
}

// SearchProducts lists products whose code starts with ?q=, then those whose
// name contains it.
func (h *Handler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	matches, err := h.Search.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": matches})
}

type addItemRequest struct {
	Code     string  `json:"code"`
	Quantity int     `json:"quantity"`
	Price    *string `json:"price,omitempty"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

type amountRequest struct {
	Amount *int `json:"amount,omitempty"`
}

type holdRequest struct {
	Label string `json:"label"`
}

// Get returns the session cart snapshot.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	c, err := h.Store.Load(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c.Snapshot()})
}

// AddItem adds a product, optionally at an override price.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		common.WriteError(w, common.Validation("code is required"))
		return
	}
	var override *decimal.Decimal
	if req.Price != nil {
		price, err := money.ParseStrict(*req.Price)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		override = &price
	}
	h.mutate(w, r, func(ctx context.Context, c *Cart) (Outcome, error) {
		return h.Engine.Add(ctx, c, req.Code, req.Quantity, override)
	})
}

// SetQuantity sets a line to an exact quantity.
func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	code := chi.URLParam(r, "code")
	h.mutate(w, r, func(ctx context.Context, c *Cart) (Outcome, error) {
		return h.Engine.SetQuantity(ctx, c, code, req.Quantity)
	})
}

// Decrement lowers a line quantity, by one unless an amount is given.
func (h *Handler) Decrement(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if r.ContentLength != 0 {
		if err := common.DecodeJSON(r, &req); err != nil {
			common.WriteError(w, err)
			return
		}
	}
	amount := 1
	if req.Amount != nil {
		amount = *req.Amount
	}
	code := chi.URLParam(r, "code")
	h.mutate(w, r, func(ctx context.Context, c *Cart) (Outcome, error) {
		return h.Engine.Decrement(ctx, c, code, amount)
	})
}

// RemoveItem drops a line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	h.mutate(w, r, func(ctx context.Context, c *Cart) (Outcome, error) {
		return h.Engine.Remove(ctx, c, code)
	})
}

// Clear empties the cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(_ context.Context, c *Cart) (Outcome, error) {
		return h.Engine.Clear(c), nil
	})
}

// Returns negates the cart to stage a refund.
func (h *Handler) Returns(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(_ context.Context, c *Cart) (Outcome, error) {
		return h.Engine.Returns(c), nil
	})
}

// Hold suspends the session cart.
func (h *Handler) Hold(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req holdRequest
	if r.ContentLength != 0 {
		if err := common.DecodeJSON(r, &req); err != nil {
			common.WriteError(w, err)
			return
		}
	}
	session := chi.URLParam(r, "session")
	var held Held
	err := h.withSession(r.Context(), session, func(ctx context.Context) error {
		var err error
		held, err = h.Store.Hold(ctx, session, req.Label)
		return err
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": held})
}

// ListHeld lists suspended carts.
func (h *Handler) ListHeld(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	held, err := h.Store.ListHeld(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": held})
}

// Recall restores a suspended cart.
func (h *Handler) Recall(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	session := chi.URLParam(r, "session")
	var c *Cart
	err := h.withSession(r.Context(), session, func(ctx context.Context) error {
		var err error
		c, err = h.Store.Recall(ctx, session, chi.URLParam(r, "heldID"))
		return err
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c.Snapshot()})
}

// mutate loads the session cart, applies fn and saves it when it changed.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, fn func(context.Context, *Cart) (Outcome, error)) {
	if !h.ready(w) {
		return
	}
	session := chi.URLParam(r, "session")
	var (
		outcome Outcome
		c       *Cart
	)
	err := h.withSession(r.Context(), session, func(ctx context.Context) error {
		var err error
		c, err = h.Store.Load(ctx, session)
		if err != nil {
			return err
		}
		outcome, err = fn(ctx, c)
		if err != nil {
			return err
		}
		if outcome == Noop {
			return nil
		}
		return h.Store.Save(ctx, c)
	})
	if err != nil {
		var stockErr *common.StockError
		if errors.As(err, &stockErr) {
			h.Logger.Info().Str("session", session).Str("code", stockErr.Code).
				Int("available", stockErr.Available).Int("requested", stockErr.Requested).
				Msg("cart stock check rejected")
		}
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"outcome": outcome,
			"cart":    c.Snapshot(),
		},
	})
}

func (h *Handler) withSession(ctx context.Context, session string, fn func(context.Context) error) error {
	if h.Locker == nil {
		return fn(ctx)
	}
	return h.Locker.WithLock(ctx, h.Locker.Key("cart", session), h.LockTTL, fn)
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h == nil || h.Engine == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return false
	}
	return true
}
