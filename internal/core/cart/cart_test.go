package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func product(id string, price string) ProductSnapshot {
	return ProductSnapshot{
		ID:       id,
		Title:    "product " + id,
		Price:    decimal.RequireFromString(price),
		Category: "electronics",
	}
}

func TestMutationsDoNotTouchReceiver(t *testing.T) {
	base := New().WithLine("p1", Line{Product: product("p1", "10"), Quantity: 1})

	updated, ok := base.WithQuantity("p1", 5)
	require.True(t, ok)
	assert.Equal(t, 1, base["p1"].Quantity)
	assert.Equal(t, 5, updated["p1"].Quantity)

	removed, ok := updated.Without("p1")
	require.True(t, ok)
	assert.True(t, removed.IsEmpty())
	assert.True(t, updated.Has("p1"))
}

func TestWithQuantityMissingLine(t *testing.T) {
	c := New()
	out, ok := c.WithQuantity("nope", 3)
	assert.False(t, ok)
	assert.True(t, out.IsEmpty())
}

func TestWithoutMissingLine(t *testing.T) {
	c := New().WithLine("p1", Line{Product: product("p1", "1"), Quantity: 1})
	out, ok := c.Without("p2")
	assert.False(t, ok)
	assert.True(t, out.Equal(c))
}

func TestCountAndTotal(t *testing.T) {
	c := New().
		WithLine("p1", Line{Product: product("p1", "9.99"), Quantity: 2}).
		WithLine("p2", Line{Product: product("p2", "0.02"), Quantity: 3})

	assert.Equal(t, 5, c.Count())
	assert.True(t, decimal.RequireFromString("20.04").Equal(c.Total()), c.Total().String())
	assert.Equal(t, []string{"p1", "p2"}, c.ProductIDs())
}

func TestMarshalRoundTripKeepsShape(t *testing.T) {
	c := New().WithLine("7", Line{Product: product("7", "109.95"), Quantity: 2})

	data, err := Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"7":{"product":{"id":"7","title":"product 7","price":"109.95","category":"electronics"},"quantity":2}}`, string(data))

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.True(t, c.Equal(back))
}

func TestMarshalEmpty(t *testing.T) {
	data, err := Marshal(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestUnmarshalDropsInvalidLines(t *testing.T) {
	back, err := Unmarshal([]byte(`{"a":{"quantity":0},"b":{"quantity":2},"":{"quantity":1}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, back.Len())
	assert.Equal(t, "b", back["b"].Product.ID)
}

func TestUnmarshalNullAndGarbage(t *testing.T) {
	back, err := Unmarshal([]byte("null"))
	require.NoError(t, err)
	assert.True(t, back.IsEmpty())

	back, err = Unmarshal([]byte("{not json"))
	assert.Error(t, err)
	assert.NotNil(t, back)
	assert.True(t, back.IsEmpty())
}

func TestNewLineValidation(t *testing.T) {
	_, err := NewLine(ProductSnapshot{ID: "  "}, 1)
	assert.ErrorIs(t, err, ErrInvalidProduct)

	_, err = NewLine(product("p", "1"), 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	line, err := NewLine(product(" p ", "1"), 2)
	require.NoError(t, err)
	assert.Equal(t, "p", line.Product.ID)
}

func TestEqualComparesPriceByValue(t *testing.T) {
	a := New().WithLine("p", Line{Product: product("p", "9.90"), Quantity: 1})
	b := New().WithLine("p", Line{Product: product("p", "9.9"), Quantity: 1})
	assert.True(t, a.Equal(b))

	c := b.WithLine("p", Line{Product: product("p", "9.9"), Quantity: 2})
	assert.False(t, a.Equal(c))
}
