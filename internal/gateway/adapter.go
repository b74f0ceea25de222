package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ukaymarket/settlement/internal/domain"
)

// Client talks to the payment provider's payment request API. It shapes
// provider responses into domain results so callers never see provider
// wire formats.
type Client struct {
	http       *resty.Client
	successURL string
	failureURL string
	logger     *slog.Logger
}

type ClientConfig struct {
	BaseURL string
	APIKey  string
	// SuccessURL and FailureURL are where e-wallet flows redirect the buyer
	// after the provider-hosted payment page.
	SuccessURL string
	FailureURL string
	Timeout    time.Duration
}

func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetBasicAuth(cfg.APIKey, "").
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetTransport(otelhttp.NewTransport(http.DefaultTransport))

	return &Client{
		http:       client,
		successURL: cfg.SuccessURL,
		failureURL: cfg.FailureURL,
		logger:     logger,
	}
}

type paymentRequestPayload struct {
	ReferenceID   string         `json:"reference_id"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	Country       string         `json:"country"`
	Description   string         `json:"description,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	PaymentMethod map[string]any `json:"payment_method"`
}

type paymentRequestResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Actions []struct {
		Action string `json:"action"`
		URL    string `json:"url"`
	} `json:"actions"`
	PaymentMethod struct {
		VirtualAccount *channelProperties `json:"virtual_account"`
		QRCode         *channelProperties `json:"qr_code"`
		OverTheCounter *channelProperties `json:"over_the_counter"`
	} `json:"payment_method"`
}

type channelProperties struct {
	ChannelCode       string         `json:"channel_code"`
	ChannelProperties map[string]any `json:"channel_properties"`
}

type apiError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// CreatePaymentRequest asks the provider to open a payment for the given
// reference. Provider rejections (4xx) come back as a FAILED result rather
// than an error; only transport and provider-side failures error out.
func (c *Client) CreatePaymentRequest(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentResult, error) {
	channel, err := ParseChannelKey(req.ChannelKey)
	if err != nil {
		return nil, err
	}

	payload := paymentRequestPayload{
		ReferenceID: req.ReferenceID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Country:     req.Country,
		Description: req.Description,
		Metadata: map[string]any{
			"kind":     string(req.Kind),
			"buyer_id": req.BuyerID,
		},
		PaymentMethod: c.buildPaymentMethod(channel, req),
	}

	var (
		out    paymentRequestResponse
		outErr apiError
	)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&out).
		SetError(&outErr).
		Post("/payment_requests")
	if err != nil {
		return nil, fmt.Errorf("payment request call: %w", err)
	}

	if resp.IsError() {
		if resp.StatusCode() >= 500 {
			return nil, fmt.Errorf("payment provider unavailable: status %d", resp.StatusCode())
		}
		c.logger.Warn("payment request rejected",
			"reference_id", req.ReferenceID, "status", resp.StatusCode(), "error_code", outErr.ErrorCode)
		return &domain.PaymentResult{
			Status:       domain.PaymentResultFailed,
			ErrorCode:    outErr.ErrorCode,
			ErrorMessage: outErr.Message,
		}, nil
	}

	return c.shapeResult(channel, &out), nil
}

func (c *Client) buildPaymentMethod(channel Channel, req domain.PaymentRequest) map[string]any {
	method := map[string]any{
		"type":        channel.Type,
		"reusability": "ONE_TIME_USE",
	}

	switch channel.Type {
	case TypeEwallet:
		method["ewallet"] = map[string]any{
			"channel_code": channel.Code,
			"channel_properties": map[string]any{
				"success_return_url": c.successURL,
				"failure_return_url": c.failureURL,
			},
		}
	case TypeVirtualAccount:
		method["virtual_account"] = map[string]any{
			"channel_code": channel.Code,
			"channel_properties": map[string]any{
				"customer_name": req.BuyerEmail,
			},
		}
	case TypeOverTheCounter:
		method["over_the_counter"] = map[string]any{
			"channel_code": channel.Code,
			"channel_properties": map[string]any{
				"customer_name": req.BuyerEmail,
			},
		}
	case TypeQRCode:
		method["qr_code"] = map[string]any{
			"channel_code": channel.Code,
		}
	case TypeDirectDebit:
		method["direct_debit"] = map[string]any{
			"channel_code": channel.Code,
			"channel_properties": map[string]any{
				"success_return_url": c.successURL,
				"failure_return_url": c.failureURL,
			},
		}
	case TypeCard:
		method["card"] = map[string]any{
			"channel_properties": map[string]any{
				"success_return_url": c.successURL,
				"failure_return_url": c.failureURL,
			},
		}
	}

	return method
}

// shapeResult extracts what the buyer needs to complete payment: a redirect
// URL for hosted flows, or channel details (account number, QR string,
// payment code) for reference flows.
func (c *Client) shapeResult(channel Channel, resp *paymentRequestResponse) *domain.PaymentResult {
	result := &domain.PaymentResult{
		Status:    mapStatus(resp.Status),
		RequestID: resp.ID,
	}

	for _, action := range resp.Actions {
		if action.URL != "" {
			result.RedirectURL = action.URL
			break
		}
	}

	var props *channelProperties
	switch channel.Type {
	case TypeVirtualAccount:
		props = resp.PaymentMethod.VirtualAccount
	case TypeQRCode:
		props = resp.PaymentMethod.QRCode
	case TypeOverTheCounter:
		props = resp.PaymentMethod.OverTheCounter
	}
	if props != nil && len(props.ChannelProperties) > 0 {
		result.DisplayDetails = props.ChannelProperties
	}

	return result
}

func mapStatus(status string) domain.PaymentResultStatus {
	switch status {
	case "SUCCEEDED":
		return domain.PaymentResultSucceeded
	case "FAILED":
		return domain.PaymentResultFailed
	case "REQUIRES_ACTION":
		return domain.PaymentResultRequiresAction
	default:
		return domain.PaymentResultPending
	}
}
