package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          ProductID       `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	ImageURL    string          `json:"imageUrl"`
	ImageHint   string          `json:"imageHint"`
}

// Validate checks the invariants a stored product must hold.
func (p Product) Validate() error {
	switch {
	case strings.TrimSpace(string(p.ID)) == "":
		return &MalformedRecordError{Kind: "product", Field: "id", Reason: "empty"}
	case strings.TrimSpace(p.Name) == "":
		return &MalformedRecordError{Kind: "product", ID: string(p.ID), Field: "name", Reason: "empty"}
	case p.Price.IsNegative():
		return &MalformedRecordError{Kind: "product", ID: string(p.ID), Field: "price", Reason: "negative"}
	case p.Stock < 0:
		return &MalformedRecordError{Kind: "product", ID: string(p.ID), Field: "stock", Reason: "negative"}
	}
	return nil
}

// CartItem snapshots the product for a cart line.
func (p Product) CartItem(qty int) CartItem {
	return CartItem{
		ID:        p.ID,
		Name:      p.Name,
		Price:     p.Price,
		ImageURL:  p.ImageURL,
		ImageHint: p.ImageHint,
		Quantity:  qty,
	}
}

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type UserProfile struct {
	UID         UserID `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

// Principal is the authenticated identity performing an action.
type Principal struct {
	ID   UserID
	Role Role
}

func (p *Principal) Authenticated() bool {
	return p != nil && strings.TrimSpace(string(p.ID)) != ""
}

func (p *Principal) IsAdmin() bool {
	return p.Authenticated() && p.Role == RoleAdmin
}
