package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ukaymarket/settlement/internal/database"
	"github.com/ukaymarket/settlement/internal/domain"
)

var (
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Entry describes a single balance mutation. Every applied entry produces
// exactly one COMPLETED wallet_transactions row in the same transaction as
// the balance update.
type Entry struct {
	UserID            string
	Amount            int64
	Type              domain.TransactionType
	Description       string
	RelatedOrderID    string
	ExternalReference string
}

type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Provision creates an empty wallet for a user. Wallets are created with the
// account; Credit and Debit never create one lazily.
func (l *Ledger) Provision(ctx context.Context, userID string) (*domain.Wallet, error) {
	w := &domain.Wallet{ID: uuid.New().String(), UserID: userID}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, balance, created_at, updated_at)
		VALUES ($1, $2, 0, NOW(), NOW())
	`, w.ID, w.UserID)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (l *Ledger) GetByUser(ctx context.Context, userID string) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	err := l.db.QueryRowContext(ctx, `
		SELECT id, user_id, balance, updated_at
		FROM wallets
		WHERE user_id = $1
	`, userID).Scan(&w.ID, &w.UserID, &w.Balance, &w.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return w, nil
}

func (l *Ledger) ListTransactions(ctx context.Context, userID string) ([]domain.WalletTransaction, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT t.id, t.wallet_id, t.type, t.status, t.amount,
		       COALESCE(t.external_reference, ''), COALESCE(t.related_order_id::text, ''),
		       COALESCE(t.description, ''), t.created_at
		FROM wallet_transactions t
		JOIN wallets w ON w.id = t.wallet_id
		WHERE w.user_id = $1
		ORDER BY t.created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var txs []domain.WalletTransaction
	for rows.Next() {
		var t domain.WalletTransaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Type, &t.Status, &t.Amount,
			&t.ExternalReference, &t.RelatedOrderID, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// Credit increases a wallet balance and appends the matching ledger entry.
// Must run inside a transaction: the wallet row stays locked until the
// caller commits, which serializes concurrent credits and debits per wallet.
func (l *Ledger) Credit(ctx context.Context, q database.Querier, e Entry) error {
	if e.Amount <= 0 {
		return ErrInvalidAmount
	}

	walletID, _, err := lockWallet(ctx, q, e.UserID)
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE wallets SET balance = balance + $2, updated_at = NOW() WHERE id = $1
	`, walletID, e.Amount); err != nil {
		return err
	}

	return appendEntry(ctx, q, walletID, e)
}

// Debit decreases a wallet balance after verifying sufficiency under the row
// lock, and appends the matching ledger entry. Must run inside a transaction.
func (l *Ledger) Debit(ctx context.Context, q database.Querier, e Entry) error {
	if e.Amount <= 0 {
		return ErrInvalidAmount
	}

	walletID, balance, err := lockWallet(ctx, q, e.UserID)
	if err != nil {
		return err
	}

	if balance < e.Amount {
		return fmt.Errorf("balance %d, required %d: %w", balance, e.Amount, ErrInsufficientFunds)
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE wallets SET balance = balance - $2, updated_at = NOW() WHERE id = $1
	`, walletID, e.Amount); err != nil {
		return err
	}

	return appendEntry(ctx, q, walletID, e)
}

func lockWallet(ctx context.Context, q database.Querier, userID string) (id string, balance int64, err error) {
	err = q.QueryRowContext(ctx, `
		SELECT id, balance FROM wallets WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&id, &balance)
	if err == sql.ErrNoRows {
		return "", 0, fmt.Errorf("user %s: %w", userID, ErrWalletNotFound)
	}
	return id, balance, err
}

func appendEntry(ctx context.Context, q database.Querier, walletID string, e Entry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, type, status, amount, external_reference, related_order_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, '')::uuid, $8, NOW())
	`, uuid.New().String(), walletID, e.Type, domain.TransactionStatusCompleted,
		e.Amount, e.ExternalReference, e.RelatedOrderID, e.Description)
	return err
}

// OpenPendingTopup records a top-up awaiting gateway confirmation. The
// balance is untouched; the returned transaction id is the correlation
// reference handed to the gateway.
func (l *Ledger) OpenPendingTopup(ctx context.Context, userID string, amount int64, channelDescription string) (*domain.WalletTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	w, err := l.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("user %s: %w", userID, ErrWalletNotFound)
	}

	t := &domain.WalletTransaction{
		ID:          uuid.New().String(),
		WalletID:    w.ID,
		Type:        domain.TransactionTopupPending,
		Status:      domain.TransactionStatusPending,
		Amount:      amount,
		Description: "Pending top-up via " + channelDescription,
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, type, status, amount, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, t.ID, t.WalletID, t.Type, t.Status, t.Amount, t.Description)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// SetTopupReference stores the gateway's request id on a pending top-up.
func (l *Ledger) SetTopupReference(ctx context.Context, transactionID, externalReference string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE wallet_transactions SET external_reference = $2 WHERE id = $1
	`, transactionID, externalReference)
	return err
}

// GetTransaction returns a wallet transaction by id, or nil when absent.
func (l *Ledger) GetTransaction(ctx context.Context, id string) (*domain.WalletTransaction, error) {
	t := &domain.WalletTransaction{}
	err := l.db.QueryRowContext(ctx, `
		SELECT id, wallet_id, type, status, amount,
		       COALESCE(external_reference, ''), COALESCE(related_order_id::text, ''),
		       COALESCE(description, ''), created_at
		FROM wallet_transactions
		WHERE id = $1
	`, id).Scan(&t.ID, &t.WalletID, &t.Type, &t.Status, &t.Amount,
		&t.ExternalReference, &t.RelatedOrderID, &t.Description, &t.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// ResolvePendingTopup drives a pending top-up to its single terminal status.
// Re-delivered confirmations are no-ops: the row is locked and its status
// re-checked before any mutation, so the wallet is credited exactly once.
func (l *Ledger) ResolvePendingTopup(ctx context.Context, transactionID string, success bool, externalReference, failureReason string) error {
	return database.Transact(ctx, l.db, func(tx *sql.Tx) error {
		var walletID, userID string
		var status domain.TransactionStatus
		var amount int64

		err := tx.QueryRowContext(ctx, `
			SELECT t.wallet_id, w.user_id, t.status, t.amount
			FROM wallet_transactions t
			JOIN wallets w ON w.id = t.wallet_id
			WHERE t.id = $1
			FOR UPDATE OF t
		`, transactionID).Scan(&walletID, &userID, &status, &amount)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}

		if status != domain.TransactionStatusPending {
			return nil
		}

		if !success {
			_, err := tx.ExecContext(ctx, `
				UPDATE wallet_transactions
				SET status = $2,
				    description = COALESCE(description, '') || ' | Failed: ' || $3,
				    external_reference = COALESCE(NULLIF($4, ''), external_reference)
				WHERE id = $1
			`, transactionID, domain.TransactionStatusFailed, truncate(failureReason, 100), externalReference)
			return err
		}

		if err := l.Credit(ctx, tx, Entry{
			UserID:            userID,
			Amount:            amount,
			Type:              domain.TransactionDeposit,
			Description:       fmt.Sprintf("Completed top-up ref %.8s", transactionID),
			ExternalReference: externalReference,
		}); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE wallet_transactions
			SET status = $2, external_reference = COALESCE(NULLIF($3, ''), external_reference)
			WHERE id = $1
		`, transactionID, domain.TransactionStatusCompleted, externalReference)
		return err
	})
}

// truncate caps s at n bytes without splitting a multi-byte rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
