package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-tx-go/internal/catalog"
	"github.com/nazeru/storefront-tx-go/internal/order/domain"
	"github.com/nazeru/storefront-tx-go/internal/order/projection"
	"github.com/nazeru/storefront-tx-go/internal/order/tx"
	"github.com/nazeru/storefront-tx-go/pkg/idempotency"
	"github.com/nazeru/storefront-tx-go/pkg/tx/common"
)

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if a.Ping != nil {
		if err := a.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *api) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := a.Catalog.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if ps == nil {
		ps = []domain.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}

type CheckoutRequest struct {
	Items []domain.CartItem `json:"items"`
}

type CheckoutResponse struct {
	OrderID  domain.OrderID     `json:"orderId"`
	Items    []domain.CartItem  `json:"items,omitempty"`
	Total    *decimal.Decimal   `json:"total,omitempty"`
	Status   domain.OrderStatus `json:"status"`
	State    common.TxState     `json:"state"`
	Attempts int                `json:"attempts"`
	Replayed bool               `json:"replayed"`
}

func (a *api) checkout(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if !p.Authenticated() {
		writeError(w, domain.ErrUnauthorized)
		return
	}
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	key, err := idempotency.Key(r)
	if err != nil {
		badRequest(w, fmt.Sprintf("%s must be printable and at most %d bytes", idempotency.Header, idempotency.MaxLen))
		return
	}

	res, err := a.Checkout.ExecuteCheckout(r.Context(), tx.CheckoutInput{
		Principal:      p,
		CorrelationID:  common.CorrelationID(middleware.GetReqID(r.Context())),
		IdempotencyKey: key,
		Items:          req.Items,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	total := res.Total
	out := CheckoutResponse{
		OrderID:  res.OrderID,
		Items:    res.Items,
		Total:    &total,
		Status:   res.Status,
		State:    res.State,
		Attempts: res.Attempts,
		Replayed: res.Replayed,
	}
	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, out)
}

func (a *api) myOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := projection.Collect(a.Orders.ListOrdersForUser(r.Context(), principal(r)))
	if err != nil {
		writeError(w, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (a *api) allOrders(w http.ResponseWriter, r *http.Request) {
	views, err := projection.Collect(a.Orders.ListAllOrders(r.Context(), principal(r)))
	if err != nil {
		writeError(w, err)
		return
	}
	if views == nil {
		views = []projection.OrderView{}
	}
	writeJSON(w, http.StatusOK, views)
}

type StatusRequest struct {
	Status string `json:"status"`
}

func (a *api) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	id := domain.OrderID(chi.URLParam(r, "id"))
	status, err := a.Orders.UpdateStatus(r.Context(), principal(r), id, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
}

func (a *api) createProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.ProductInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid json")
		return
	}
	p, err := a.Catalog.Create(r.Context(), principal(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *api) updateProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.ProductInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid json")
		return
	}
	p, err := a.Catalog.Update(r.Context(), principal(r), domain.ProductID(chi.URLParam(r, "id")), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *api) sales(w http.ResponseWriter, r *http.Request) {
	sum, err := a.Orders.SalesSummary(r.Context(), principal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type InsightRequest struct {
	Query string `json:"query"`
}

func (a *api) insight(w http.ResponseWriter, r *http.Request) {
	var req InsightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	sum, err := a.Orders.SalesSummary(r.Context(), principal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	text, err := a.Insight.Interpret(r.Context(), sum, req.Query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"insight": text})
}

func (a *api) putUser(w http.ResponseWriter, r *http.Request) {
	var prof domain.UserProfile
	if err := json.NewDecoder(r.Body).Decode(&prof); err != nil {
		badRequest(w, "invalid json")
		return
	}
	prof.UID = domain.UserID(chi.URLParam(r, "id"))
	switch prof.Role {
	case "", domain.RoleUser, domain.RoleAdmin:
	default:
		badRequest(w, "role must be admin or user")
		return
	}
	if strings.TrimSpace(string(prof.UID)) == "" {
		badRequest(w, "user id is required")
		return
	}
	if err := a.Users.PutProfile(r.Context(), prof); err != nil {
		var malformed *domain.MalformedRecordError
		if errors.As(err, &malformed) {
			badRequest(w, err.Error())
			return
		}
		writeError(w, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err))
		return
	}
	if prof.Role == "" {
		prof.Role = domain.RoleUser
	}
	writeJSON(w, http.StatusOK, prof)
}
