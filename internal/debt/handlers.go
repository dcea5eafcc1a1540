package debt

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/retail-pos/internal/common"
	"github.com/noah-isme/retail-pos/internal/money"
)

// Handler exposes the debt ledger over HTTP.
type Handler struct {
	Ledger   *Ledger
	Validate *validator.Validate
}

// Routes mounts the debt endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/debts", func(d chi.Router) {
		d.Get("/{debtID}", h.Get)
		d.Get("/{debtID}/payments", h.Payments)
		d.Post("/{debtID}/payments", h.ApplyPayment)
	})
	r.Get("/sales/{saleID}/debt", h.BySale)
}

type paymentRequest struct {
	Amount string `json:"amount" validate:"required"`
	Method string `json:"method" validate:"omitempty,oneof=CASH CARD EBT cash card ebt"`
	Note   string `json:"note" validate:"max=255"`
}

// Get returns a debt with its balance.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "debtID")
	if !ok {
		return
	}
	d, err := h.Ledger.Get(r.Context(), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view(d)})
}

// BySale returns the debt opened for a sale.
func (h *Handler) BySale(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "saleID")
	if !ok {
		return
	}
	d, err := h.Ledger.BySale(r.Context(), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view(d)})
}

// Payments lists the payment history.
func (h *Handler) Payments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "debtID")
	if !ok {
		return
	}
	payments, err := h.Ledger.Payments(r.Context(), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if payments == nil {
		payments = []Payment{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": payments})
}

// ApplyPayment records a payment against a debt.
func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "debtID")
	if !ok {
		return
	}
	var req paymentRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.ValidateStruct(h.Validate, req); err != nil {
		common.WriteError(w, err)
		return
	}
	amount, err := money.ParseStrict(req.Amount)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.Ledger.ApplyPayment(r.Context(), id, PaymentInput{
		Amount: amount,
		Method: Method(req.Method),
		Note:   req.Note,
		Actor:  common.Operator(r),
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": res})
}

type debtView struct {
	Debt
	Balance string `json:"balance"`
}

func view(d Debt) debtView {
	return debtView{Debt: d, Balance: money.Format(d.Balance())}
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		common.WriteError(w, common.Validation("invalid %s", param))
		return uuid.Nil, false
	}
	return id, true
}
