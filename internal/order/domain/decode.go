package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// wireItem mirrors CartItem with pointers so missing fields can be told
// apart from zero values.
type wireItem struct {
	ID        *string          `json:"id"`
	Name      *string          `json:"name"`
	Price     *decimal.Decimal `json:"price"`
	ImageURL  string           `json:"imageUrl"`
	ImageHint string           `json:"imageHint"`
	Quantity  *int             `json:"quantity"`
}

func (w wireItem) check(kind, owner string, idx int) (CartItem, error) {
	field := func(name string) string { return fmt.Sprintf("items[%d].%s", idx, name) }
	switch {
	case w.ID == nil || *w.ID == "":
		return CartItem{}, &MalformedRecordError{Kind: kind, ID: owner, Field: field("id"), Reason: "missing"}
	case w.Name == nil:
		return CartItem{}, &MalformedRecordError{Kind: kind, ID: owner, Field: field("name"), Reason: "missing"}
	case w.Price == nil:
		return CartItem{}, &MalformedRecordError{Kind: kind, ID: owner, Field: field("price"), Reason: "missing"}
	case w.Price.IsNegative():
		return CartItem{}, &MalformedRecordError{Kind: kind, ID: owner, Field: field("price"), Reason: "negative"}
	case w.Quantity == nil:
		return CartItem{}, &MalformedRecordError{Kind: kind, ID: owner, Field: field("quantity"), Reason: "missing"}
	case *w.Quantity <= 0:
		return CartItem{}, &MalformedRecordError{Kind: kind, ID: owner, Field: field("quantity"), Reason: "not positive"}
	}
	return CartItem{
		ID:        ProductID(*w.ID),
		Name:      *w.Name,
		Price:     *w.Price,
		ImageURL:  w.ImageURL,
		ImageHint: w.ImageHint,
		Quantity:  *w.Quantity,
	}, nil
}

// DecodeItems parses a stored item list and fails fast on any malformed entry.
// kind and owner only label the error.
func DecodeItems(raw []byte, kind, owner string) ([]CartItem, error) {
	var wire []wireItem
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &MalformedRecordError{Kind: kind, ID: owner, Field: "items", Reason: err.Error()}
	}
	items := make([]CartItem, 0, len(wire))
	for i, w := range wire {
		it, err := w.check(kind, owner, i)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// EncodeItems is the inverse of DecodeItems.
func EncodeItems(items []CartItem) ([]byte, error) {
	if items == nil {
		items = []CartItem{}
	}
	return json.Marshal(items)
}
