// Package pricing reduces a cart and an optional coupon to a priced breakdown.
// Discounts stack in a fixed order: item, cart, then coupon on what remains.
package pricing

import (
	"strings"

	"cart-service/models"

	"github.com/shopspring/decimal"
)

const (
	CouponSave10    = "SAVE10"
	CouponWelcome50 = "WELCOME50"
	CouponNewUser   = "NEWUSER"
	CouponFlat100   = "FLAT100"
)

var (
	itemDiscountThreshold = decimal.NewFromInt(1000)
	itemDiscountRate      = decimal.RequireFromString("0.10")
	cartDiscountThreshold = decimal.NewFromInt(5000)
	cartDiscountAmount    = decimal.NewFromInt(200)
)

type couponRule func(base decimal.Decimal) decimal.Decimal

func percentOff(rate string) couponRule {
	r := decimal.RequireFromString(rate)
	return func(base decimal.Decimal) decimal.Decimal { return base.Mul(r) }
}

func flatOff(amount int64) couponRule {
	a := decimal.NewFromInt(amount)
	return func(decimal.Decimal) decimal.Decimal { return a }
}

var couponRules = map[string]couponRule{
	CouponSave10:    percentOff("0.10"),
	CouponWelcome50: flatOff(50),
	CouponNewUser:   percentOff("0.15"),
	CouponFlat100:   flatOff(100),
}

// IsRecognizedCoupon reports whether code is one of the known coupons, ignoring case.
func IsRecognizedCoupon(code string) bool {
	_, ok := couponRules[strings.ToUpper(code)]
	return ok
}

// SubTotal is the sum of every line total.
func SubTotal(items []models.CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, i := range items {
		total = total.Add(i.LineTotal())
	}
	return total
}

// ItemDiscount takes 10% off each line whose unit price exceeds 1000.
func ItemDiscount(items []models.CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, i := range items {
		if i.Price.GreaterThan(itemDiscountThreshold) {
			total = total.Add(i.LineTotal().Mul(itemDiscountRate))
		}
	}
	return total
}

// CartDiscount is a flat 200 once the raw subtotal exceeds 5000.
func CartDiscount(subTotal decimal.Decimal) decimal.Decimal {
	if subTotal.GreaterThan(cartDiscountThreshold) {
		return cartDiscountAmount
	}
	return decimal.Zero
}

// CouponDiscount applies code to base. Unknown codes are worth nothing.
func CouponDiscount(code string, base decimal.Decimal) decimal.Decimal {
	rule, ok := couponRules[strings.ToUpper(code)]
	if !ok {
		return decimal.Zero
	}
	return rule(base)
}

// Calculate prices items with an optional coupon ("" for none). The grand total is not
// floored, so stacked flat discounts on a tiny cart can go negative.
func Calculate(items []models.CartItem, coupon string) models.PricedCart {
	if items == nil {
		items = []models.CartItem{}
	}

	subTotal := SubTotal(items)
	itemDiscount := ItemDiscount(items)
	cartDiscount := CartDiscount(subTotal)

	couponDiscount := decimal.Zero
	if coupon != "" {
		couponDiscount = CouponDiscount(coupon, subTotal.Sub(itemDiscount).Sub(cartDiscount))
	}

	totalDiscount := itemDiscount.Add(cartDiscount).Add(couponDiscount)

	return models.PricedCart{
		Items:          items,
		SubTotal:       subTotal,
		ItemDiscount:   itemDiscount,
		CartDiscount:   cartDiscount,
		CouponDiscount: couponDiscount,
		TotalDiscount:  totalDiscount,
		GrandTotal:     subTotal.Sub(totalDiscount),
		AppliedCoupon:  coupon,
	}
}
