package domain

import "time"

// SoldItem is one line of a seller's share of a settled order.
type SoldItem struct {
	ProductID string `json:"product_id,omitempty"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
	Subtotal  int64  `json:"subtotal"`
}

type SellerSale struct {
	SellerID string     `json:"seller_id"`
	Items    []SoldItem `json:"items"`
}

// OrderSettledEvent is published after a settlement transaction commits so
// the notification worker can mail each seller. It is never published for a
// rolled-back settlement.
type OrderSettledEvent struct {
	OrderID   string       `json:"order_id"`
	BuyerID   string       `json:"buyer_id"`
	Total     int64        `json:"total"`
	Currency  string       `json:"currency"`
	Sellers   []SellerSale `json:"sellers"`
	Timestamp time.Time    `json:"timestamp"`
}
