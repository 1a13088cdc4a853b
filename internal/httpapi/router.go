// Package httpapi is the storefront's HTTP surface.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nazeru/storefront-tx-go/internal/catalog"
	"github.com/nazeru/storefront-tx-go/internal/insight"
	"github.com/nazeru/storefront-tx-go/internal/order/domain"
	"github.com/nazeru/storefront-tx-go/internal/order/projection"
	"github.com/nazeru/storefront-tx-go/internal/order/store"
	"github.com/nazeru/storefront-tx-go/internal/order/tx"
	"github.com/nazeru/storefront-tx-go/pkg/logging"
	"github.com/nazeru/storefront-tx-go/pkg/metrics"
)

// UserHeader carries the caller's user id. Roles are never taken from the
// request; they are looked up in the user directory.
const UserHeader = "X-User-ID"

type Deps struct {
	Service        string
	Checkout       tx.CheckoutEngine
	Catalog        *catalog.Service
	Orders         *projection.Service
	Users          store.ProfileStore
	Insight        *insight.Client
	Metrics        *metrics.ServerMetrics
	Gatherer       prometheus.Gatherer
	Ping           func(ctx context.Context) error
	RequestTimeout time.Duration
}

type api struct {
	Deps
}

func NewRouter(d Deps) http.Handler {
	if d.Service == "" {
		d.Service = "order-service"
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	a := &api{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.observe)
	if d.RequestTimeout > 0 {
		r.Use(middleware.Timeout(d.RequestTimeout))
	}

	r.Get("/health", a.health)
	r.Handle("/metrics", metrics.HandlerFor(d.Gatherer))

	r.Group(func(r chi.Router) {
		r.Use(a.identify)
		r.Get("/products", a.listProducts)
		r.Post("/checkout", a.checkout)
		r.Get("/orders", a.myOrders)

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin)
			r.Get("/orders", a.allOrders)
			r.Patch("/orders/{id}/status", a.updateStatus)
			r.Post("/products", a.createProduct)
			r.Put("/products/{id}", a.updateProduct)
			r.Get("/sales", a.sales)
			r.Post("/insight", a.insight)
			r.Put("/users/{id}", a.putUser)
		})
	})
	return r
}

// observe records per-route metrics and logs server errors.
func (a *api) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		a.Metrics.Observe(route, status, start)
		if status >= http.StatusInternalServerError {
			logging.Log(logging.Fields{
				Service:    a.Service,
				Step:       r.Method + " " + route,
				Status:     http.StatusText(status),
				DurationMS: time.Since(start).Milliseconds(),
			})
		}
	})
}

type ctxKey struct{}

type identity struct {
	principal *domain.Principal
	err       error
}

// identify resolves the caller. A missing header leaves the request
// anonymous; a user without a profile is a plain user.
func (a *api) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id identity
		if uid := strings.TrimSpace(r.Header.Get(UserHeader)); uid != "" {
			p := &domain.Principal{ID: domain.UserID(uid), Role: domain.RoleUser}
			prof, err := a.Users.GetProfile(r.Context(), p.ID)
			switch {
			case err == nil:
				p.Role = prof.Role
			case !errors.Is(err, store.ErrNotFound):
				id.err = err
			}
			id.principal = p
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func principal(r *http.Request) *domain.Principal {
	id, _ := r.Context().Value(ctxKey{}).(identity)
	return id.principal
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := r.Context().Value(ctxKey{}).(identity)
		switch {
		case id.err != nil:
			writeError(w, domain.ErrStoreUnavailable)
		case !id.principal.Authenticated():
			writeError(w, domain.ErrUnauthorized)
		case !id.principal.IsAdmin():
			writeError(w, domain.ErrForbidden)
		default:
			next.ServeHTTP(w, r)
		}
	})
}
