package fsremote

import (
	"github.com/shopspring/decimal"

	"github.com/zeusync/cartsync/internal/core/cart"
	"github.com/zeusync/cartsync/internal/core/observability/log"
)

// Prices are stored as strings so no precision is lost to float64.
func encodeLine(line cart.Line) map[string]any {
	p := line.Product
	return map[string]any{
		"product": map[string]any{
			"id":          p.ID,
			"title":       p.Title,
			"price":       p.Price.String(),
			"image":       p.Image,
			"category":    p.Category,
			"description": p.Description,
		},
		"quantity": line.Quantity,
	}
}

// decodeItems reads the "items" field. Lines that do not decode, or that
// carry a non-positive quantity, are skipped.
func decodeItems(raw any, logger log.Log) cart.Cart {
	out := cart.New()
	items, ok := raw.(map[string]any)
	if !ok {
		return out
	}
	for productID, v := range items {
		line, ok := decodeLine(v)
		if !ok || productID == "" {
			log.OrNop(logger).Warn("Dropping undecodable cart line", log.ProductID(productID))
			continue
		}
		if line.Product.ID == "" {
			line.Product.ID = productID
		}
		out[productID] = line
	}
	return out
}

func decodeLine(raw any) (cart.Line, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return cart.Line{}, false
	}
	qty, ok := asInt(m["quantity"])
	if !ok || qty <= 0 {
		return cart.Line{}, false
	}
	pm, _ := m["product"].(map[string]any)
	price, ok := asDecimal(pm["price"])
	if !ok {
		return cart.Line{}, false
	}
	return cart.Line{
		Product: cart.ProductSnapshot{
			ID:          asString(pm["id"]),
			Title:       asString(pm["title"]),
			Price:       price,
			Image:       asString(pm["image"]),
			Category:    asString(pm["category"]),
			Description: asString(pm["description"]),
		},
		Quantity: qty,
	}, true
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// asDecimal accepts the string form plus numbers written by other clients.
// A missing price reads as zero.
func asDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case nil:
		return decimal.Zero, true
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	default:
		if s, ok := v.(interface{ String() string }); ok {
			d, err := decimal.NewFromString(s.String())
			return d, err == nil
		}
		return decimal.Zero, false
	}
}
