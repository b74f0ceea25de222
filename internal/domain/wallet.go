package domain

import "time"

type Wallet struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TransactionType string

const (
	TransactionDeposit      TransactionType = "DEPOSIT"
	TransactionWithdrawal   TransactionType = "WITHDRAWAL"
	TransactionPurchase     TransactionType = "PURCHASE"
	TransactionSale         TransactionType = "SALE"
	TransactionRefund       TransactionType = "REFUND"
	TransactionTopupPending TransactionType = "TOPUP_PENDING"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
)

// WalletTransaction is an append-only ledger entry. Only a PENDING top-up
// ever changes after creation, and only once: PENDING to COMPLETED or FAILED.
// Its ID doubles as the gateway correlation reference for top-ups.
type WalletTransaction struct {
	ID                string            `json:"id"`
	WalletID          string            `json:"wallet_id"`
	Type              TransactionType   `json:"type"`
	Status            TransactionStatus `json:"status"`
	Amount            int64             `json:"amount"`
	ExternalReference string            `json:"external_reference,omitempty"`
	RelatedOrderID    string            `json:"related_order_id,omitempty"`
	Description       string            `json:"description,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}
