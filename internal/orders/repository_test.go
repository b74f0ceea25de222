package orders

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ukaymarket/settlement/internal/domain"
)

func newMock(t *testing.T) (*OrderRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return NewOrderRepository(db), mock, func() { _ = db.Close() }
}

func TestMarkFailedReasonFitsColumn(t *testing.T) {
	t.Run("short reason stored as is", func(t *testing.T) {
		repo, mock, done := newMock(t)
		defer done()

		mock.ExpectExec("UPDATE orders").
			WithArgs("order-1", string(domain.OrderStatusFailed), "card declined", "pay-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := repo.MarkFailed(context.Background(), repo.db, "order-1", "card declined", "pay-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("long reason truncated on a rune boundary", func(t *testing.T) {
		repo, mock, done := newMock(t)
		defer done()

		// 254 ASCII bytes followed by a two-byte rune: a byte slice at 255
		// would cut the rune in half.
		reason := strings.Repeat("x", 254) + "éé"
		want := strings.Repeat("x", 254)

		mock.ExpectExec("UPDATE orders").
			WithArgs("order-1", string(domain.OrderStatusFailed), want, "").
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := repo.MarkFailed(context.Background(), repo.db, "order-1", reason, ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}
