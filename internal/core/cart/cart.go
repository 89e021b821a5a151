// Package cart holds the per-user cart model shared by the local store, the
// remote channels and the reconciler.
//
// A Cart is a value: every mutation helper returns a new Cart and never touches
// the receiver, so a snapshot handed to a listener can't change under it.
package cart

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidProduct  = errors.New("cart: product id is empty")
	ErrInvalidQuantity = errors.New("cart: quantity must be at least 1")
)

// ProductSnapshot is the catalog data copied into a line when the product is
// added. It is never re-fetched and may go stale.
type ProductSnapshot struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Price       decimal.Decimal `json:"price"`
	Image       string          `json:"image,omitempty"`
	Category    string          `json:"category,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Line is one product's presence in a cart. Quantity is always >= 1 for a
// line stored in a Cart.
type Line struct {
	Product  ProductSnapshot `json:"product"`
	Quantity int             `json:"quantity"`
}

// Subtotal is price times quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart maps product id to line. The zero value (nil) is a valid empty cart.
type Cart map[string]Line

// New returns an empty, non-nil cart.
func New() Cart {
	return Cart{}
}

// Normalize drops lines that can't exist in a cart (empty id, quantity < 1)
// and returns a fresh copy. Used on everything decoded from storage or the wire.
func Normalize(in map[string]Line) Cart {
	out := make(Cart, len(in))
	for id, line := range in {
		id = strings.TrimSpace(id)
		if id == "" || line.Quantity < 1 {
			continue
		}
		if line.Product.ID == "" {
			line.Product.ID = id
		}
		out[id] = line
	}
	return out
}

func (c Cart) Clone() Cart {
	out := make(Cart, len(c))
	for id, line := range c {
		out[id] = line
	}
	return out
}

func (c Cart) Len() int {
	return len(c)
}

func (c Cart) IsEmpty() bool {
	return len(c) == 0
}

func (c Cart) Line(productID string) (Line, bool) {
	line, ok := c[productID]
	return line, ok
}

// Has reports whether productID has a line.
func (c Cart) Has(productID string) bool {
	_, ok := c[productID]
	return ok
}

// WithLine returns a copy with productID's line replaced by line.
func (c Cart) WithLine(productID string, line Line) Cart {
	out := c.Clone()
	out[productID] = line
	return out
}

// WithQuantity returns a copy with productID's quantity replaced. The second
// result is false when there is no such line.
func (c Cart) WithQuantity(productID string, quantity int) (Cart, bool) {
	line, ok := c[productID]
	if !ok {
		return c, false
	}
	line.Quantity = quantity
	return c.WithLine(productID, line), true
}

// Without returns a copy with productID removed. The second result is false
// when there was nothing to remove.
func (c Cart) Without(productID string) (Cart, bool) {
	if _, ok := c[productID]; !ok {
		return c, false
	}
	out := c.Clone()
	delete(out, productID)
	return out, true
}

// Count is the number of units in the cart, shown on the header cart button.
func (c Cart) Count() int {
	n := 0
	for _, line := range c {
		n += line.Quantity
	}
	return n
}

func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c {
		total = total.Add(line.Subtotal())
	}
	return total
}

// ProductIDs returns the ids sorted, for stable rendering.
func (c Cart) ProductIDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Equal compares ids, quantities and snapshots. Prices compare by value so
// "9.90" and "9.9" are the same.
func (c Cart) Equal(other Cart) bool {
	if len(c) != len(other) {
		return false
	}
	for id, a := range c {
		b, ok := other[id]
		if !ok || !lineEqual(a, b) {
			return false
		}
	}
	return true
}

func lineEqual(a, b Line) bool {
	if a.Quantity != b.Quantity {
		return false
	}
	pa, pb := a.Product, b.Product
	return pa.ID == pb.ID &&
		pa.Title == pb.Title &&
		pa.Price.Equal(pb.Price) &&
		pa.Image == pb.Image &&
		pa.Category == pb.Category &&
		pa.Description == pb.Description
}

// Marshal encodes the cart as a JSON object keyed by product id. An empty
// cart encodes as {} rather than null.
func Marshal(c Cart) ([]byte, error) {
	if c == nil {
		c = Cart{}
	}
	return json.Marshal(map[string]Line(c))
}

// Unmarshal decodes a JSON object keyed by product id. "null" and empty input
// decode to an empty cart.
func Unmarshal(data []byte) (Cart, error) {
	if len(data) == 0 {
		return New(), nil
	}
	var raw map[string]Line
	if err := json.Unmarshal(data, &raw); err != nil {
		return New(), err
	}
	return Normalize(raw), nil
}

// NewLine validates a product and quantity and builds a line.
func NewLine(product ProductSnapshot, quantity int) (Line, error) {
	product.ID = strings.TrimSpace(product.ID)
	if product.ID == "" {
		return Line{}, ErrInvalidProduct
	}
	if quantity < 1 {
		return Line{}, ErrInvalidQuantity
	}
	return Line{Product: product, Quantity: quantity}, nil
}
