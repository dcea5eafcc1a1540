package common_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/retail-pos/internal/common"
)

type errorEnvelope struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func render(t *testing.T, err error) (int, errorEnvelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	common.WriteError(rec, err)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec.Code, env
}

func TestWriteErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", common.Validation("quantity must be positive"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not found", fmt.Errorf("sale 42: %w", common.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"conflict", fmt.Errorf("debt row: %w", common.ErrConflict), http.StatusConflict, "CONCURRENCY_CONFLICT"},
		{"stock", &common.StockError{Code: "4001", Available: 1, Requested: 3}, http.StatusConflict, "INSUFFICIENT_STOCK"},
		{"persistence", common.Persistence("insert sale", errors.New("connection reset")), http.StatusInternalServerError, "PERSISTENCE_FAILURE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, env := render(t, tc.err)
			require.Equal(t, tc.status, status)
			require.Equal(t, tc.code, env.Error.Code)
		})
	}
}

func TestWriteErrorHidesStorageCause(t *testing.T) {
	err := common.Persistence("insert sale", errors.New("password authentication failed"))
	require.ErrorIs(t, err, common.ErrPersistence)

	_, env := render(t, err)
	require.Equal(t, "internal error", env.Error.Message)
}

func TestWriteErrorStockDetails(t *testing.T) {
	err := fmt.Errorf("reserve: %w", &common.StockError{Code: "4001", Available: 1, Requested: 3})
	_, env := render(t, err)

	var details map[string]any
	require.NoError(t, json.Unmarshal(env.Error.Details, &details))
	require.Equal(t, "4001", details["code"])
	require.EqualValues(t, 1, details["available"])
	require.EqualValues(t, 3, details["requested"])
}

func TestWriteErrorAppError(t *testing.T) {
	status, env := render(t, common.NewAppError("RATE_LIMITED", "slow down", http.StatusTooManyRequests, nil))
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, "RATE_LIMITED", env.Error.Code)
	require.Equal(t, "slow down", env.Error.Message)
}

func TestValidateStructReportsJSONFields(t *testing.T) {
	type line struct {
		Code     string `json:"code" validate:"required"`
		Quantity int    `json:"quantity" validate:"gt=0"`
	}
	err := common.ValidateStruct(common.NewValidator(), line{Quantity: 0})
	require.ErrorIs(t, err, common.ErrValidation)

	var verr *common.ValidationError
	require.ErrorAs(t, err, &verr)
	require.ElementsMatch(t, []common.FieldError{{Field: "code", Rule: "required"}, {Field: "quantity", Rule: "gt"}}, verr.Fields)

	require.NoError(t, common.ValidateStruct(common.NewValidator(), line{Code: "4001", Quantity: 2}))
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var dst struct {
		Code string `json:"code"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"4001","price":"0.01"}`))
	require.ErrorIs(t, common.DecodeJSON(req, &dst), common.ErrValidation)
}

func TestParsePagination(t *testing.T) {
	cases := []struct {
		query  string
		page   int
		per    int
		offset int
	}{
		{"", 1, 20, 0},
		{"page=3&limit=10", 3, 10, 20},
		{"page=-1&limit=abc", 1, 20, 0},
		{"page=2&limit=1000", 2, 100, 100},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/sales?"+tc.query, nil)
		p := common.ParsePagination(req, 20, 100)
		require.Equal(t, tc.page, p.Page, tc.query)
		require.Equal(t, tc.per, p.PerPage, tc.query)
		require.Equal(t, tc.offset, p.Offset(), tc.query)
	}

	meta := common.PageRequest{Page: 2, PerPage: 10}.Meta(21)
	require.Equal(t, 3, meta.TotalPages)
	require.Equal(t, 21, meta.TotalItems)
}

func TestOperator(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	require.Equal(t, "10.0.0.7", common.Operator(req))

	var behindProxy string
	middleware.RealIP(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		behindProxy = common.Operator(r)
	})).ServeHTTP(httptest.NewRecorder(), func() *http.Request {
		r := req.Clone(req.Context())
		r.Header.Set("X-Forwarded-For", "192.0.2.4, 10.0.0.1")
		return r
	}())
	require.Equal(t, "192.0.2.4", behindProxy)

	req.Header.Set(common.OperatorHeader, " cashier-3 ")
	require.Equal(t, "cashier-3", common.Operator(req))
}
