// Package projection serves the read side of orders: per-user history,
// the admin order board, status edits and the sales summary.
package projection

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/nazeru/storefront-tx-go/internal/order/domain"
	"github.com/nazeru/storefront-tx-go/internal/order/store"
	"github.com/nazeru/storefront-tx-go/pkg/logging"
)

// UnknownUser is shown for orders whose owner has no profile.
const UnknownUser = "Unknown"

type OrderView struct {
	domain.Order
	CustomerName string `json:"customerName"`
}

type Service struct {
	orders store.OrderStore
	users  store.UserDirectory
}

func New(orders store.OrderStore, users store.UserDirectory) *Service {
	return &Service{orders: orders, users: users}
}

func storeErr(err error) error {
	var malformed *domain.MalformedRecordError
	if errors.Is(err, domain.ErrStoreUnavailable) || errors.As(err, &malformed) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}

// ListOrdersForUser yields the principal's orders newest first. Each range
// over the returned sequence queries the store again.
func (s *Service) ListOrdersForUser(ctx context.Context, p *domain.Principal) iter.Seq2[domain.Order, error] {
	return func(yield func(domain.Order, error) bool) {
		if !p.Authenticated() {
			yield(domain.Order{}, domain.ErrUnauthorized)
			return
		}
		orders, err := s.orders.ListOrders(ctx, store.OrderFilter{UserID: p.ID})
		if err != nil {
			yield(domain.Order{}, storeErr(err))
			return
		}
		for _, o := range orders {
			if !yield(o, nil) {
				return
			}
		}
	}
}

// ListAllOrders yields every order newest first with its owner's display
// name. Owners are resolved once per distinct user per pass.
func (s *Service) ListAllOrders(ctx context.Context, p *domain.Principal) iter.Seq2[OrderView, error] {
	return func(yield func(OrderView, error) bool) {
		if !p.IsAdmin() {
			yield(OrderView{}, forbidden(p))
			return
		}
		orders, err := s.orders.ListOrders(ctx, store.OrderFilter{})
		if err != nil {
			yield(OrderView{}, storeErr(err))
			return
		}
		names := make(map[domain.UserID]string)
		for _, o := range orders {
			name, ok := names[o.UserID]
			if !ok {
				name = s.displayName(ctx, o.UserID)
				names[o.UserID] = name
			}
			if !yield(OrderView{Order: o, CustomerName: name}, nil) {
				return
			}
		}
	}
}

func (s *Service) displayName(ctx context.Context, id domain.UserID) string {
	prof, err := s.users.GetProfile(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logging.Log(logging.Fields{Service: "projection", UserID: string(id), Step: "owner_lookup", Status: "error", Error: err.Error()})
		}
		return UnknownUser
	}
	switch {
	case prof.DisplayName != "":
		return prof.DisplayName
	case prof.Email != "":
		return prof.Email
	}
	return UnknownUser
}

func forbidden(p *domain.Principal) error {
	if !p.Authenticated() {
		return domain.ErrUnauthorized
	}
	return domain.ErrForbidden
}

// UpdateStatus sets one order's status. It is a single-field write and is
// not transactional with anything else.
func (s *Service) UpdateStatus(ctx context.Context, p *domain.Principal, id domain.OrderID, raw string) (domain.OrderStatus, error) {
	if !p.IsAdmin() {
		return "", forbidden(p)
	}
	status, err := domain.ParseStatus(raw)
	if err != nil {
		return "", err
	}
	if err := s.orders.UpdateOrderStatus(ctx, id, status); err != nil {
		var invalid *domain.InvalidStatusError
		if errors.Is(err, domain.ErrOrderNotFound) || errors.As(err, &invalid) {
			return "", err
		}
		return "", storeErr(err)
	}
	logging.Log(logging.Fields{Service: "projection", UserID: string(p.ID), OrderID: string(id), Step: "update_status", Status: string(status)})
	return status, nil
}

// Collect drains seq, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
