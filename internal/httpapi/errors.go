package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nazeru/storefront-tx-go/internal/catalog"
	"github.com/nazeru/storefront-tx-go/internal/insight"
	"github.com/nazeru/storefront-tx-go/internal/order/domain"
)

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	ProductID string `json:"productId,omitempty"`
	Requested int    `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func errorStatus(err error) (int, string) {
	var (
		stock     *domain.InsufficientStockError
		missing   *domain.ProductNotFoundError
		status    *domain.InvalidStatusError
		malformed *domain.MalformedRecordError
	)
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.As(err, &stock):
		return http.StatusConflict, "insufficient_stock"
	case errors.As(err, &missing):
		return http.StatusNotFound, "product_not_found"
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, domain.ErrKeyReused):
		return http.StatusUnprocessableEntity, "idempotency_key_reused"
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusBadRequest, "empty_cart"
	case errors.Is(err, domain.ErrInvalidQuantity):
		return http.StatusBadRequest, "invalid_quantity"
	case errors.As(err, &status):
		return http.StatusBadRequest, "invalid_status"
	case errors.Is(err, catalog.ErrInvalidProduct):
		return http.StatusBadRequest, "invalid_product"
	case errors.Is(err, insight.ErrEmptyQuery):
		return http.StatusBadRequest, "invalid_query"
	case errors.Is(err, domain.ErrTransactionAborted):
		return http.StatusConflict, "transaction_aborted"
	case errors.Is(err, insight.ErrDisabled):
		return http.StatusServiceUnavailable, "insight_disabled"
	case errors.Is(err, insight.ErrUpstream):
		return http.StatusBadGateway, "insight_failed"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.As(err, &malformed):
		return http.StatusInternalServerError, "malformed_record"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, err error) {
	code, name := errorStatus(err)
	body := errorBody{Error: name, Message: domain.UserMessage(err)}
	var stock *domain.InsufficientStockError
	if errors.As(err, &stock) {
		body.ProductID = string(stock.ProductID)
		body.Requested = stock.Requested
		body.Available = &stock.Available
	}
	var missing *domain.ProductNotFoundError
	if errors.As(err, &missing) {
		body.ProductID = string(missing.ProductID)
	}
	switch {
	case errors.Is(err, catalog.ErrInvalidProduct), errors.Is(err, insight.ErrEmptyQuery),
		errors.Is(err, insight.ErrDisabled), errors.Is(err, insight.ErrUpstream):
		body.Message = err.Error()
	}
	writeJSON(w, code, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: msg})
}
