package points

import (
	"math"
	"time"

	"github.com/rojaria/smartcart/internal/model"
	"github.com/rojaria/smartcart/internal/state"
)

type Points interface {
	Get(uid string) (int, error)
	Debit(uid string, orderID string, amount int) error
	Reversal(refundAmount, orderTotal, earned, used int) (int, int)
}

type points struct {
	store *state.Store
}

func NewPoints(store *state.Store) Points {
	return &points{store: store}
}

func (p *points) Get(uid string) (int, error) {
	return p.store.PointsGet(uid)
}

// Debit removes used points from the balance and records the purchase in the
// point history.
func (p *points) Debit(uid string, orderID string, amount int) error {
	if amount <= 0 {
		return nil
	}
	if _, err := p.store.PointsAdjust(uid, -amount); err != nil {
		return err
	}
	return p.store.PointHistoryAppend(uid, model.PointEvent{
		Amount:    -amount,
		Type:      model.PointEventUsed,
		Reason:    "purchase",
		OrderID:   orderID,
		Processed: true,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Reversal computes how many earned and used points a refund takes back.
// The refunded fraction of the order scales both values; with the current
// full-refund-only policy the ratio is always 1, but the computation stays
// here so partial refunds only need the policy check relaxed.
func (p *points) Reversal(refundAmount, orderTotal, earned, used int) (earnedReversal, usedReversal int) {
	ratio := 0.0
	if orderTotal > 0 {
		ratio = float64(refundAmount) / float64(orderTotal)
	}
	earnedReversal = int(math.Floor(float64(earned) * ratio))
	usedReversal = int(math.Floor(float64(used) * ratio))
	return earnedReversal, usedReversal
}
