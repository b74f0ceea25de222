package domain

// PaymentKind tags what a gateway payment request settles: an order checkout
// or a wallet top-up. The webhook processor resolves the correlation
// reference back to the matching record.
type PaymentKind string

const (
	PaymentKindOrder PaymentKind = "ORDER"
	PaymentKindTopup PaymentKind = "WALLET_TOPUP"
)

// PaymentRequest is what the gateway adapter needs to create an external
// payment: a correlation reference, an amount and a buyer. Both checkout and
// wallet top-ups build one of these; Kind discriminates the two.
type PaymentRequest struct {
	Kind        PaymentKind
	ReferenceID string
	Amount      int64
	Currency    string
	Country     string
	BuyerID     string
	BuyerEmail  string
	ChannelKey  string
	Description string
}

type PaymentResultStatus string

const (
	PaymentResultPending        PaymentResultStatus = "PENDING"
	PaymentResultRequiresAction PaymentResultStatus = "REQUIRES_ACTION"
	PaymentResultSucceeded      PaymentResultStatus = "SUCCEEDED"
	PaymentResultFailed         PaymentResultStatus = "FAILED"
)

// PaymentResult is the adapter's shaped response: either a redirect URL the
// buyer must visit, or channel-specific display details (virtual account
// number, QR string, over-the-counter payment code).
type PaymentResult struct {
	Status         PaymentResultStatus `json:"status"`
	RequestID      string              `json:"request_id,omitempty"`
	RedirectURL    string              `json:"redirect_url,omitempty"`
	DisplayDetails map[string]any      `json:"display_details,omitempty"`
	ErrorCode      string              `json:"error_code,omitempty"`
	ErrorMessage   string              `json:"error_message,omitempty"`
}
