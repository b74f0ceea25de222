package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusFailed    OrderStatus = "FAILED"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether the status ends the payment lifecycle. PAID and
// FAILED orders never transition back to PENDING; fulfillment states only
// ever follow PAID.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusPaid || s == OrderStatusFailed
}

// CanTransition reports whether the fulfillment flow allows moving from s to
// the given status. Payment transitions (PENDING to PAID or FAILED) belong to
// the settlement engine and are excluded here.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return to == OrderStatusCancelled
	case OrderStatusPaid:
		return to == OrderStatusShipped
	case OrderStatusShipped:
		return to == OrderStatusDelivered
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodWallet  PaymentMethod = "WALLET"
	PaymentMethodGateway PaymentMethod = "GATEWAY"
)

type Order struct {
	ID               string        `json:"id"`
	BuyerID          string        `json:"buyer_id"`
	Items            []OrderItem   `json:"items"`
	Total            int64         `json:"total"`
	Currency         string        `json:"currency"`
	Country          string        `json:"country"`
	Status           OrderStatus   `json:"status"`
	PaymentMethod    PaymentMethod `json:"payment_method"`
	PaymentChannel   string        `json:"payment_channel,omitempty"`
	FailureReason    string        `json:"failure_reason,omitempty"`
	GatewayRequestID string        `json:"gateway_request_id,omitempty"`
	GatewayPaymentID string        `json:"gateway_payment_id,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// OrderItem snapshots product price and seller at order-creation time. The
// product reference may be empty if the product was deleted afterwards; the
// snapshot fields keep the order history intact.
type OrderItem struct {
	ProductID string `json:"product_id,omitempty"`
	SellerID  string `json:"seller_id,omitempty"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

func (i OrderItem) Subtotal() int64 {
	return i.Price * int64(i.Quantity)
}
