package ledger

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rojaria/smartcart/internal/ledger/config"
	"github.com/rojaria/smartcart/internal/model"
)

// Integration test against a real postgres. Set TEST_DATABASE_DSN to run.
func newTestLedger(t *testing.T) Ledger {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	l, err := NewLedger(config.Config{DBDsn: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func testTransaction(orderID string) model.Transaction {
	return model.Transaction{
		OrderID:     orderID,
		UserUID:     "user-1",
		UserEmail:   "user@example.com",
		PaymentKey:  "P_" + orderID,
		Amount:      2000,
		FinalAmount: 2000,
		Status:      model.TransactionStatusCaptured,
		TossData:    []byte("{}"),
		Items: []model.LineItem{
			{ProductName: "milk", Barcode: "A", Price: 1000, Quantity: 2, TotalPrice: 2000},
		},
	}
}

func TestSaveAndLatestByOrder(t *testing.T) {
	l := newTestLedger(t)
	orderID := fmt.Sprintf("ORDER_%d_test", time.Now().UnixNano())

	id, err := l.SaveTransaction(context.Background(), testTransaction(orderID))
	require.NoError(t, err)
	require.NotZero(t, id)

	transaction, err := l.LatestByOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, id, transaction.ID)
	require.Equal(t, 2000, transaction.FinalAmount)
	require.Equal(t, model.TransactionStatusCaptured, transaction.Status)
	require.Len(t, transaction.Items, 1)
	require.Equal(t, "A", transaction.Items[0].Barcode)
}

func TestLatestByOrderNoRows(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.LatestByOrder(context.Background(), "ORDER_never_written")
	require.ErrorIs(t, err, ErrNoRows)
}

func TestMarkRefunded(t *testing.T) {
	l := newTestLedger(t)
	orderID := fmt.Sprintf("ORDER_%d_test", time.Now().UnixNano())

	_, err := l.SaveTransaction(context.Background(), testTransaction(orderID))
	require.NoError(t, err)

	require.NoError(t, l.MarkRefunded(context.Background(), orderID))

	transaction, err := l.LatestByOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, model.TransactionStatusRefunded, transaction.Status)
}

func TestMarkRefundedFlipsLatestOnly(t *testing.T) {
	l := newTestLedger(t)
	orderID := fmt.Sprintf("ORDER_%d_test", time.Now().UnixNano())

	first := testTransaction(orderID)
	_, err := l.SaveTransaction(context.Background(), first)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	second := testTransaction(orderID)
	secondID, err := l.SaveTransaction(context.Background(), second)
	require.NoError(t, err)

	require.NoError(t, l.MarkRefunded(context.Background(), orderID))

	latest, err := l.LatestByOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, secondID, latest.ID)
	require.Equal(t, model.TransactionStatusRefunded, latest.Status)
}

func TestHistoryByUser(t *testing.T) {
	l := newTestLedger(t)
	orderID := fmt.Sprintf("ORDER_%d_test", time.Now().UnixNano())

	_, err := l.SaveTransaction(context.Background(), testTransaction(orderID))
	require.NoError(t, err)

	history, err := l.HistoryByUser(context.Background(), "user-1", 5)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	require.Equal(t, orderID, history[0].OrderID)
	require.Equal(t, 1, history[0].ItemCount)
}
