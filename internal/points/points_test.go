package points

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rojaria/smartcart/internal/model"
	"github.com/rojaria/smartcart/internal/state"
	stateConfig "github.com/rojaria/smartcart/internal/state/config"
)

func newTestPoints(t *testing.T) (Points, *state.Store) {
	t.Helper()

	store, err := state.NewStore(stateConfig.Config{DBPath: filepath.Join(t.TempDir(), "state.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewPoints(store), store
}

func TestReversal(t *testing.T) {
	points, _ := newTestPoints(t)

	// full refund: ratio 1, everything comes back
	earned, used := points.Reversal(2000, 2000, 10, 50)
	require.Equal(t, 10, earned)
	require.Equal(t, 50, used)

	// half refund: floored scaling (unreachable under the full-refund
	// policy, but the computation must stay correct)
	earned, used = points.Reversal(1000, 2000, 15, 51)
	require.Equal(t, 7, earned)
	require.Equal(t, 25, used)

	// zero order total must not divide by zero
	earned, used = points.Reversal(2000, 0, 10, 50)
	require.Equal(t, 0, earned)
	require.Equal(t, 0, used)
}

func TestDebit(t *testing.T) {
	points, store := newTestPoints(t)

	_, err := store.PointsAdjust("user-1", 100)
	require.NoError(t, err)

	require.NoError(t, points.Debit("user-1", "ORDER_1_user1234", 30))

	balance, err := points.Get("user-1")
	require.NoError(t, err)
	require.Equal(t, 70, balance)

	history, err := store.PointHistoryList("user-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, -30, history[0].Amount)
	require.Equal(t, model.PointEventUsed, history[0].Type)
	require.Equal(t, "purchase", history[0].Reason)

	// zero debit is a no-op, no history entry
	require.NoError(t, points.Debit("user-1", "ORDER_1_user1234", 0))
	history, err = store.PointHistoryList("user-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
}
