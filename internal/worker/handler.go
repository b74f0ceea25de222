package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ukaymarket/settlement/internal/domain"
)

// NotificationHandler consumes order.settled events and mails each seller a
// summary of what they sold. Settlement has already committed when an event
// arrives, so notification failures are reported for redelivery but never
// touch the ledger.
type NotificationHandler struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewNotificationHandler(emailServiceURL string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		logger:          logger,
	}
}

func (h *NotificationHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderSettledEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order settled event: %w", err)
	}

	h.logger.Info("processing order settled event",
		"order_id", event.OrderID, "buyer_id", event.BuyerID, "sellers", len(event.Sellers))

	var failed []string
	for _, sale := range event.Sellers {
		if err := h.sendSaleEmail(ctx, event, sale); err != nil {
			h.logger.Error("failed to send sale notification",
				"error", err, "order_id", event.OrderID, "seller_id", sale.SellerID)
			failed = append(failed, sale.SellerID)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("send sale notifications for order %s: sellers %s failed",
			event.OrderID, strings.Join(failed, ", "))
	}

	h.logger.Info("sale notifications sent", "order_id", event.OrderID, "sellers", len(event.Sellers))
	return nil
}

func (h *NotificationHandler) sendSaleEmail(ctx context.Context, event domain.OrderSettledEvent, sale domain.SellerSale) error {
	var lines []string
	var total int64
	for _, item := range sale.Items {
		lines = append(lines, fmt.Sprintf("%dx %s", item.Quantity, item.Title))
		total += item.Subtotal
	}

	body := map[string]string{
		"to":      sale.SellerID + "@example.com",
		"subject": fmt.Sprintf("You made a sale! Order #%.8s", event.OrderID),
		"body": fmt.Sprintf("Sold: %s. Proceeds of %d %s (before fees) were credited to your wallet.",
			strings.Join(lines, ", "), total, event.Currency),
	}

	return h.sendEmail(ctx, body)
}

func (h *NotificationHandler) sendEmail(ctx context.Context, body map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
