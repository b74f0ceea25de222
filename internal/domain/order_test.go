package domain

import "testing"

func TestOrderStatusTerminal(t *testing.T) {
	tests := []struct {
		status OrderStatus
		want   bool
	}{
		{OrderStatusPending, false},
		{OrderStatusPaid, true},
		{OrderStatusFailed, true},
		{OrderStatusShipped, false},
		{OrderStatusDelivered, false},
		{OrderStatusCancelled, false},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestOrderStatusCanTransition(t *testing.T) {
	allowed := map[OrderStatus]OrderStatus{
		OrderStatusPending: OrderStatusCancelled,
		OrderStatusPaid:    OrderStatusShipped,
		OrderStatusShipped: OrderStatusDelivered,
	}

	statuses := []OrderStatus{
		OrderStatusPending, OrderStatusPaid, OrderStatusFailed,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			want := allowed[from] == to
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s.CanTransition(%s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestOrderItemSubtotal(t *testing.T) {
	item := OrderItem{Quantity: 3, Price: 2500}
	if got := item.Subtotal(); got != 7500 {
		t.Errorf("Subtotal() = %d, want 7500", got)
	}
}
