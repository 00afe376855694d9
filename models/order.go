package models

import "github.com/shopspring/decimal"

type OrderItemRequest struct {
	ProductID   int64           `json:"productId"`
	ProductName string          `json:"productName"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type OrderCreateRequest struct {
	UserID string             `json:"userId"`
	Total  decimal.Decimal    `json:"total"`
	Items  []OrderItemRequest `json:"items"`
}

// NewOrderCreateRequest builds the order payload from a priced cart.
func NewOrderCreateRequest(userID string, cart *PricedCart) OrderCreateRequest {
	items := make([]OrderItemRequest, 0, len(cart.Items))
	for _, i := range cart.Items {
		items = append(items, OrderItemRequest{
			ProductID:   i.ProductID,
			ProductName: i.Name,
			Price:       i.Price,
			Quantity:    i.Quantity,
			Subtotal:    i.LineTotal(),
		})
	}
	return OrderCreateRequest{
		UserID: userID,
		Total:  cart.GrandTotal,
		Items:  items,
	}
}
