// Package models holds the cart, catalog, order and event payloads.
//
// Importing models switches shopspring/decimal to marshal as bare JSON numbers
// (decimal.MarshalJSONWithoutQuotes) for the whole process. Cached carts, Order
// Service requests and HTTP responses all carry prices as numbers, so every decimal
// the service encodes, gin responses included, follows that setting.
package models

import (
	"github.com/shopspring/decimal"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// CartItem is one product line. A cart holds at most one item per ProductID.
type CartItem struct {
	ProductID int64           `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// LineTotal is Price × Quantity.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type AddItemRequest struct {
	ProductID int64 `json:"productId" binding:"required"`
	Quantity  *int  `json:"quantity"`
}

type CouponRequest struct {
	Coupon string `json:"coupon"`
}

// Product is the catalog view of a product.
type Product struct {
	ID     int64           `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Status string          `json:"status"`
}

// PricedCart is computed on demand and never cached.
type PricedCart struct {
	Items          []CartItem      `json:"items"`
	SubTotal       decimal.Decimal `json:"subTotal"`
	ItemDiscount   decimal.Decimal `json:"itemDiscount"`
	CartDiscount   decimal.Decimal `json:"cartDiscount"`
	CouponDiscount decimal.Decimal `json:"couponDiscount"`
	TotalDiscount  decimal.Decimal `json:"totalDiscount"`
	GrandTotal     decimal.Decimal `json:"grandTotal"`
	AppliedCoupon  string          `json:"appliedCoupon,omitempty"`
}
