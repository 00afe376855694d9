package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const EventCheckoutCompleted = "checkout.completed"

type CheckoutEvent struct {
	Event     string          `json:"event"`
	UserID    string          `json:"user_id"`
	OrderID   int64           `json:"order_id"`
	Total     decimal.Decimal `json:"total"`
	Coupon    string          `json:"coupon,omitempty"`
	Items     []CartItem      `json:"items"`
	Timestamp time.Time       `json:"timestamp"`
}
