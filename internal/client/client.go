// Package client talks to the order-service HTTP API on behalf of the
// signed-in principal.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nazeru/storefront-tx-go/internal/auth"
	"github.com/nazeru/storefront-tx-go/internal/catalog"
	"github.com/nazeru/storefront-tx-go/internal/httpapi"
	"github.com/nazeru/storefront-tx-go/internal/order/domain"
	"github.com/nazeru/storefront-tx-go/internal/order/projection"
	"github.com/nazeru/storefront-tx-go/pkg/idempotency"
)

// APIError is a non-2xx response. It unwraps to the matching domain error
// so callers can use errors.Is and errors.As as they would in-process.
type APIError struct {
	Status    int
	Code      string `json:"error"`
	Message   string `json:"message"`
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Available *int   `json:"available"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("status %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Code)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case "unauthorized":
		return domain.ErrUnauthorized
	case "forbidden":
		return domain.ErrForbidden
	case "insufficient_stock":
		avail := 0
		if e.Available != nil {
			avail = *e.Available
		}
		return &domain.InsufficientStockError{ProductID: domain.ProductID(e.ProductID), Requested: e.Requested, Available: avail}
	case "product_not_found":
		return &domain.ProductNotFoundError{ProductID: domain.ProductID(e.ProductID)}
	case "order_not_found":
		return domain.ErrOrderNotFound
	case "empty_cart":
		return domain.ErrEmptyCart
	case "invalid_quantity":
		return domain.ErrInvalidQuantity
	case "idempotency_key_reused":
		return domain.ErrKeyReused
	case "transaction_aborted":
		return domain.ErrTransactionAborted
	case "store_unavailable":
		return domain.ErrStoreUnavailable
	}
	return nil
}

type Client struct {
	base string
	auth auth.Provider
	http *http.Client
}

func New(baseURL string, p auth.Provider, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		auth: p,
		http: &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, hdr http.Header) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	if c.auth != nil {
		if p := c.auth.CurrentPrincipal(); p.Authenticated() {
			req.Header.Set(httpapi.UserHeader, string(p.ID))
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = "http_error"
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return resp.StatusCode, apiErr
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) Products(ctx context.Context) ([]domain.Product, error) {
	var out []domain.Product
	_, err := c.do(ctx, http.MethodGet, "/products", nil, &out, nil)
	return out, err
}

// Checkout submits the cart. An empty key sends no Idempotency-Key header.
func (c *Client) Checkout(ctx context.Context, items []domain.CartItem, key string) (httpapi.CheckoutResponse, error) {
	var hdr http.Header
	if key != "" {
		hdr = http.Header{}
		hdr.Set(idempotency.Header, key)
	}
	var out httpapi.CheckoutResponse
	_, err := c.do(ctx, http.MethodPost, "/checkout", httpapi.CheckoutRequest{Items: items}, &out, hdr)
	return out, err
}

func (c *Client) MyOrders(ctx context.Context) ([]domain.Order, error) {
	var out []domain.Order
	_, err := c.do(ctx, http.MethodGet, "/orders", nil, &out, nil)
	return out, err
}

func (c *Client) AllOrders(ctx context.Context) ([]projection.OrderView, error) {
	var out []projection.OrderView
	_, err := c.do(ctx, http.MethodGet, "/admin/orders", nil, &out, nil)
	return out, err
}

func (c *Client) UpdateStatus(ctx context.Context, id domain.OrderID, status domain.OrderStatus) error {
	path := "/admin/orders/" + url.PathEscape(string(id)) + "/status"
	_, err := c.do(ctx, http.MethodPatch, path, httpapi.StatusRequest{Status: string(status)}, nil, nil)
	return err
}

func (c *Client) CreateProduct(ctx context.Context, in catalog.ProductInput) (domain.Product, error) {
	var out domain.Product
	_, err := c.do(ctx, http.MethodPost, "/admin/products", in, &out, nil)
	return out, err
}

func (c *Client) UpdateProduct(ctx context.Context, id domain.ProductID, in catalog.ProductInput) (domain.Product, error) {
	var out domain.Product
	_, err := c.do(ctx, http.MethodPut, "/admin/products/"+url.PathEscape(string(id)), in, &out, nil)
	return out, err
}

func (c *Client) Sales(ctx context.Context) (projection.SalesSummary, error) {
	var out projection.SalesSummary
	_, err := c.do(ctx, http.MethodGet, "/admin/sales", nil, &out, nil)
	return out, err
}

func (c *Client) Insight(ctx context.Context, query string) (string, error) {
	var out struct {
		Insight string `json:"insight"`
	}
	_, err := c.do(ctx, http.MethodPost, "/admin/insight", httpapi.InsightRequest{Query: query}, &out, nil)
	return out.Insight, err
}
