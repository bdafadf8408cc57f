package state

import (
	"path/filepath"
	"testing"

	bolt "github.com/boltdb/bolt"
	"github.com/stretchr/testify/require"

	"github.com/rojaria/smartcart/internal/model"
	"github.com/rojaria/smartcart/internal/state/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(config.Config{DBPath: filepath.Join(t.TempDir(), "state.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestStockAdjust(t *testing.T) {
	store := newTestStore(t)

	err := store.ProductPut(model.Product{Barcode: "8801111111111", Name: "cola", Price: 1500, Stock: 5})
	require.NoError(t, err)

	product, err := store.StockAdjust("8801111111111", -2)
	require.NoError(t, err)
	require.Equal(t, 3, product.Stock)
	require.True(t, product.InStock)

	// floor at zero, inStock follows
	product, err = store.StockAdjust("8801111111111", -10)
	require.NoError(t, err)
	require.Equal(t, 0, product.Stock)
	require.False(t, product.InStock)

	product, err = store.StockAdjust("8801111111111", 2)
	require.NoError(t, err)
	require.Equal(t, 2, product.Stock)
	require.True(t, product.InStock)

	_, err = store.StockAdjust("no-such-barcode", -1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPointsAdjust(t *testing.T) {
	store := newTestStore(t)

	points, err := store.PointsAdjust("user-1", 100)
	require.NoError(t, err)
	require.Equal(t, 100, points)

	points, err = store.PointsAdjust("user-1", -30)
	require.NoError(t, err)
	require.Equal(t, 70, points)

	// never below zero
	points, err = store.PointsAdjust("user-1", -1000)
	require.NoError(t, err)
	require.Equal(t, 0, points)
}

func TestOrderComplete(t *testing.T) {
	store := newTestStore(t)

	order := model.Order{
		OrderID:     "ORDER_1_user1234",
		UserUID:     "user1234abcd",
		Items:       []model.OrderItem{{Barcode: "A", Name: "milk", Price: 1000, Quantity: 2}},
		Total:       2000,
		FinalAmount: 2000,
		Status:      model.OrderStatusPending,
	}
	require.NoError(t, store.OrderPut(order))

	completed, err := store.OrderComplete(order.OrderID, "pay-key-1", "CARD", map[string]any{"method": "CARD"})
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusCompleted, completed.Status)
	require.Equal(t, "pay-key-1", completed.PaymentKey)
	require.NotZero(t, completed.CompletedAt)

	// completing a completed order keeps the original record
	again, err := store.OrderComplete(order.OrderID, "pay-key-other", "CARD", nil)
	require.NoError(t, err)
	require.Equal(t, "pay-key-1", again.PaymentKey)
	require.Equal(t, completed.CompletedAt, again.CompletedAt)

	_, err = store.OrderComplete("no-such-order", "k", "CARD", nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRefundCreateWritesEverythingAtomically(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.ProductPut(model.Product{Barcode: "A", Name: "milk", Price: 1000, Stock: 0}))
	_, err := store.PointsAdjust("user-1", 50)
	require.NoError(t, err)

	refund := model.Refund{
		RefundID:       "refund_1_abc",
		OrderID:        "ORDER_1_user1234",
		PaymentKey:     "P1",
		Items:          []model.OrderItem{{Barcode: "A", Quantity: 2}},
		Amount:         2000,
		EffectsApplied: true,
		UserUID:        "user-1",
		CreatedAt:      123,
	}
	effects := &RefundEffects{
		Stock:       []StockDelta{{Barcode: "A", Quantity: 2}},
		UserUID:     "user-1",
		PointsDelta: 20,
		History: &model.PointEvent{
			Amount: 20,
			Type:   model.PointEventRefund,
			Reason: "refund",
		},
	}
	require.NoError(t, store.RefundCreate(refund, "P1:2000", effects))

	stored, err := store.RefundGet("refund_1_abc")
	require.NoError(t, err)
	require.Equal(t, refund.OrderID, stored.OrderID)

	refundID, found, err := store.RefundByPayment("P1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "refund_1_abc", refundID)

	entry, found, err := store.RefundByKey("P1:2000")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "refund_1_abc", entry.RefundID)

	product, err := store.ProductGet("A")
	require.NoError(t, err)
	require.Equal(t, 2, product.Stock)
	require.True(t, product.InStock)

	points, err := store.PointsGet("user-1")
	require.NoError(t, err)
	require.Equal(t, 70, points)

	history, err := store.PointHistoryList("user-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "refund", history[0].Reason)
}

func TestCartLifecycle(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CartBind("user-1", "007"))

	cartNumber, err := store.CartNumber("user-1")
	require.NoError(t, err)
	require.Equal(t, "007", cartNumber)

	// another user cannot take the same slot
	require.ErrorIs(t, store.CartBind("user-2", "007"), ErrCartInUse)

	// rebinding by the owner is fine
	require.NoError(t, store.CartBind("user-1", "007"))

	require.NoError(t, store.CartClear("user-1"))

	require.NoError(t, store.CartRelease("user-1"))
	_, err = store.CartNumber("user-1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.CartBind("user-2", "007"))
}

func TestUserRegisterLogin(t *testing.T) {
	store := newTestStore(t)

	uid, err := store.UserRegister("cart@example.com", "secret")
	require.NoError(t, err)
	require.NotEmpty(t, uid)

	_, err = store.UserRegister("cart@example.com", "other")
	require.ErrorIs(t, err, ErrAlreadyExists)

	loginUID, err := store.UserLogin("cart@example.com", "secret")
	require.NoError(t, err)
	require.Equal(t, uid, loginUID)

	_, err = store.UserLogin("cart@example.com", "wrong")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPasswordStoredHashed(t *testing.T) {
	store := newTestStore(t)

	_, err := store.UserRegister("cart@example.com", "hunter2-plain")
	require.NoError(t, err)

	err = store.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte("users")).Get([]byte("cart@example.com"))
		require.NotNil(t, raw)
		require.NotContains(t, string(raw), "hunter2-plain")
		return nil
	})
	require.NoError(t, err)
}
