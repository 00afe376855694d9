package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCartItem_JSONUsesNumericPrices(t *testing.T) {
	item := CartItem{ProductID: 42, Name: "Keyboard", Price: decimal.RequireFromString("1299.50"), Quantity: 2}

	b, err := json.Marshal([]CartItem{item})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"productId":42,"name":"Keyboard","price":1299.5,"quantity":2}]`, string(b))
}

func TestImportSetsNumericDecimalsProcessWide(t *testing.T) {
	assert.True(t, decimal.MarshalJSONWithoutQuotes)

	b, err := json.Marshal(map[string]decimal.Decimal{"total": decimal.RequireFromString("5112.00")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":5112}`, string(b))
}

func TestCartItem_DecodesExistingPayload(t *testing.T) {
	var items []CartItem
	err := json.Unmarshal([]byte(`[{"productId":7,"name":"Mouse","price":499.0,"quantity":3}]`), &items)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].LineTotal().Equal(decimal.NewFromInt(1497)))
}

func TestNewOrderCreateRequest(t *testing.T) {
	cart := &PricedCart{
		Items: []CartItem{
			{ProductID: 1, Name: "Monitor", Price: decimal.NewFromInt(1200), Quantity: 1},
			{ProductID: 2, Name: "Cable", Price: decimal.NewFromInt(10), Quantity: 3},
		},
		GrandTotal: decimal.NewFromInt(1110),
	}

	req := NewOrderCreateRequest("u-1", cart)
	assert.Equal(t, "u-1", req.UserID)
	assert.True(t, req.Total.Equal(decimal.NewFromInt(1110)))
	require.Len(t, req.Items, 2)
	assert.Equal(t, "Cable", req.Items[1].ProductName)
	assert.True(t, req.Items[1].Subtotal.Equal(decimal.NewFromInt(30)))
}
