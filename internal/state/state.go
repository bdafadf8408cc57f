// Package state is the realtime side of the smart cart: orders before and
// after capture, product stock, user point balances, cart slots and refund
// markers. Everything lives in a single BoltDB file; every mutation that
// reads before it writes runs inside one bolt.Update so concurrent requests
// cannot lose updates.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/rojaria/smartcart/internal/model"
	"github.com/rojaria/smartcart/internal/state/config"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrCartInUse     = errors.New("cart already in use")
)

var buckets = []string{
	"users",
	"orders",
	"products",
	"points",
	"pointHistory",
	"carts",
	"cartNumbers",
	"refunds",
	"refundsByPayment",
	"refundsIndex",
}

type Store struct {
	db *bolt.DB
}

func NewStore(cfg config.Config) (*Store, error) {
	db, err := bolt.Open(cfg.DBPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Users

type userRecord struct {
	UID          string `json:"uid"`
	Login        string `json:"login"`
	PasswordHash string `json:"passwordHash"`
}

func (s *Store) UserRegister(login, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	uid := uuid.NewString()
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte("users"))
		if b.Get([]byte(login)) != nil {
			return ErrAlreadyExists
		}
		raw, err := json.Marshal(userRecord{UID: uid, Login: login, PasswordHash: string(hash)})
		if err != nil {
			return err
		}
		return b.Put([]byte(login), raw)
	})
	if err != nil {
		return "", err
	}
	return uid, nil
}

func (s *Store) UserLogin(login, password string) (string, error) {
	var rec userRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte("users")).Get([]byte(login))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)) != nil {
		return "", ErrNotFound
	}
	return rec.UID, nil
}

// Orders

func (s *Store) OrderGet(orderID string) (model.Order, error) {
	var order model.Order
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte("orders")).Get([]byte(orderID))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &order)
	})
	return order, err
}

func (s *Store) OrderPut(order model.Order) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		raw, err := json.Marshal(order)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte("orders")).Put([]byte(order.OrderID), raw)
	})
}

// OrderComplete marks a pending order completed and attaches the gateway
// payment data. The read and the write share one transaction, so a racing
// duplicate sees either pending or the final record, never a half-update.
func (s *Store) OrderComplete(orderID, paymentKey, paymentMethod string, tossData map[string]any) (model.Order, error) {
	var order model.Order
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte("orders"))
		raw := b.Get([]byte(orderID))
		if raw == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(raw, &order); err != nil {
			return err
		}
		if order.Status == model.OrderStatusCompleted {
			return nil
		}
		order.Status = model.OrderStatusCompleted
		order.PaymentKey = paymentKey
		order.PaymentMethod = paymentMethod
		order.TossData = tossData
		order.CompletedAt = time.Now().UnixMilli()

		updated, err := json.Marshal(order)
		if err != nil {
			return err
		}
		return b.Put([]byte(orderID), updated)
	})
	return order, err
}

// Products

func (s *Store) ProductGet(barcode string) (model.Product, error) {
	var product model.Product
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte("products")).Get([]byte(barcode))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &product)
	})
	return product, err
}

func (s *Store) ProductPut(product model.Product) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		product.InStock = product.Stock > 0
		product.UpdatedAt = time.Now().UnixMilli()
		raw, err := json.Marshal(product)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte("products")).Put([]byte(product.Barcode), raw)
	})
}

// StockAdjust applies a stock delta with the floor at zero and keeps the
// inStock flag consistent. Read-modify-write inside a single transaction.
func (s *Store) StockAdjust(barcode string, delta int) (model.Product, error) {
	var product model.Product
	err := s.db.Update(func(tx *bolt.Tx) error {
		return stockAdjustTx(tx, barcode, delta, &product)
	})
	return product, err
}

func stockAdjustTx(tx *bolt.Tx, barcode string, delta int, out *model.Product) error {
	b := tx.Bucket([]byte("products"))
	raw := b.Get([]byte(barcode))
	if raw == nil {
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return err
	}
	newStock := out.Stock + delta
	if newStock < 0 {
		newStock = 0
	}
	out.Stock = newStock
	out.InStock = newStock > 0
	out.UpdatedAt = time.Now().UnixMilli()

	updated, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return b.Put([]byte(barcode), updated)
}

// Points

func (s *Store) PointsGet(uid string) (int, error) {
	var points int
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte("points")).Get([]byte(uid))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &points)
	})
	return points, err
}

// PointsAdjust applies a delta to the user's balance, clamped at zero.
func (s *Store) PointsAdjust(uid string, delta int) (int, error) {
	var points int
	err := s.db.Update(func(tx *bolt.Tx) error {
		return pointsAdjustTx(tx, uid, delta, &points)
	})
	return points, err
}

func pointsAdjustTx(tx *bolt.Tx, uid string, delta int, out *int) error {
	b := tx.Bucket([]byte("points"))
	current := 0
	if raw := b.Get([]byte(uid)); raw != nil {
		if err := json.Unmarshal(raw, &current); err != nil {
			return err
		}
	}
	current += delta
	if current < 0 {
		current = 0
	}
	*out = current

	updated, err := json.Marshal(current)
	if err != nil {
		return err
	}
	return b.Put([]byte(uid), updated)
}

func (s *Store) PointHistoryAppend(uid string, event model.PointEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return pointHistoryAppendTx(tx, uid, event)
	})
}

func pointHistoryAppendTx(tx *bolt.Tx, uid string, event model.PointEvent) error {
	b := tx.Bucket([]byte("pointHistory"))
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s/%020d", uid, seq)
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), raw)
}

func (s *Store) PointHistoryList(uid string) ([]model.PointEvent, error) {
	var events []model.PointEvent
	prefix := []byte(uid + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte("pointHistory")).Cursor()
		for k, v := c.Seek(prefix); k != nil && len(k) > len(prefix) && string(k[:len(prefix)]) == string(prefix); k, v = c.Next() {
			var event model.PointEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}
			events = append(events, event)
		}
		return nil
	})
	return events, err
}

// Carts

type cartRecord struct {
	InUse      bool              `json:"inUse"`
	UserID     string            `json:"userId,omitempty"`
	Items      []model.OrderItem `json:"items,omitempty"`
	BoundAt    int64             `json:"boundAt,omitempty"`
	ReleasedAt int64             `json:"releasedAt,omitempty"`
}

func (s *Store) CartBind(uid, cartNumber string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		carts := tx.Bucket([]byte("carts"))

		var cart cartRecord
		if raw := carts.Get([]byte(cartNumber)); raw != nil {
			if err := json.Unmarshal(raw, &cart); err != nil {
				return err
			}
			if cart.InUse && cart.UserID != uid {
				return ErrCartInUse
			}
		}
		cart.InUse = true
		cart.UserID = uid
		cart.BoundAt = time.Now().UnixMilli()
		cart.ReleasedAt = 0

		raw, err := json.Marshal(cart)
		if err != nil {
			return err
		}
		if err := carts.Put([]byte(cartNumber), raw); err != nil {
			return err
		}
		return tx.Bucket([]byte("cartNumbers")).Put([]byte(uid), []byte(cartNumber))
	})
}

func (s *Store) CartRelease(uid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		numbers := tx.Bucket([]byte("cartNumbers"))
		cartNumber := numbers.Get([]byte(uid))
		if cartNumber == nil {
			return nil
		}

		carts := tx.Bucket([]byte("carts"))
		var cart cartRecord
		if raw := carts.Get(cartNumber); raw != nil {
			if err := json.Unmarshal(raw, &cart); err != nil {
				return err
			}
		}
		cart.InUse = false
		cart.UserID = ""
		cart.Items = nil
		cart.ReleasedAt = time.Now().UnixMilli()

		raw, err := json.Marshal(cart)
		if err != nil {
			return err
		}
		if err := carts.Put(cartNumber, raw); err != nil {
			return err
		}
		return numbers.Delete([]byte(uid))
	})
}

func (s *Store) CartNumber(uid string) (string, error) {
	var cartNumber string
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte("cartNumbers")).Get([]byte(uid))
		if raw == nil {
			return ErrNotFound
		}
		cartNumber = string(raw)
		return nil
	})
	return cartNumber, err
}

// CartClear empties the cart slot bound to the user, if any.
func (s *Store) CartClear(uid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		cartNumber := tx.Bucket([]byte("cartNumbers")).Get([]byte(uid))
		if cartNumber == nil {
			return nil
		}
		carts := tx.Bucket([]byte("carts"))
		raw := carts.Get(cartNumber)
		if raw == nil {
			return nil
		}
		var cart cartRecord
		if err := json.Unmarshal(raw, &cart); err != nil {
			return err
		}
		cart.Items = nil

		updated, err := json.Marshal(cart)
		if err != nil {
			return err
		}
		return carts.Put(cartNumber, updated)
	})
}

// Refunds

type IdemEntry struct {
	RefundID  string `json:"refundId"`
	CreatedAt int64  `json:"createdAt"`
}

// RefundByKey looks up the idempotency index keyed by "<paymentKey>:<amount>".
func (s *Store) RefundByKey(idemKey string) (IdemEntry, bool, error) {
	var entry IdemEntry
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte("refundsIndex")).Get([]byte(idemKey))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &entry)
	})
	return entry, found, err
}

// RefundByPayment looks up the duplicate-refund guard keyed by payment key
// alone, regardless of amount.
func (s *Store) RefundByPayment(paymentKey string) (string, bool, error) {
	var refundID string
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte("refundsByPayment")).Get([]byte(paymentKey))
		if raw == nil {
			return nil
		}
		found = true
		refundID = string(raw)
		return nil
	})
	return refundID, found, err
}

type StockDelta struct {
	Barcode  string
	Quantity int
}

// RefundEffects are the side effects applied together with the refund record.
type RefundEffects struct {
	Stock       []StockDelta
	UserUID     string
	PointsDelta int
	History     *model.PointEvent
}

// RefundCreate writes the refund record, the payment-key guard, the
// idempotency index entry and the optional side effects in one transaction.
// A crash mid-refund can therefore never leave a record without its effects
// or effects without a record.
func (s *Store) RefundCreate(refund model.Refund, idemKey string, effects *RefundEffects) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		raw, err := json.Marshal(refund)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte("refunds")).Put([]byte(refund.RefundID), raw); err != nil {
			return err
		}
		if err := tx.Bucket([]byte("refundsByPayment")).Put([]byte(refund.PaymentKey), []byte(refund.RefundID)); err != nil {
			return err
		}
		entry, err := json.Marshal(IdemEntry{RefundID: refund.RefundID, CreatedAt: refund.CreatedAt})
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte("refundsIndex")).Put([]byte(idemKey), entry); err != nil {
			return err
		}

		if effects == nil {
			return nil
		}
		for _, delta := range effects.Stock {
			var product model.Product
			err := stockAdjustTx(tx, delta.Barcode, delta.Quantity, &product)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		if effects.PointsDelta != 0 {
			var points int
			if err := pointsAdjustTx(tx, effects.UserUID, effects.PointsDelta, &points); err != nil {
				return err
			}
		}
		if effects.History != nil {
			if err := pointHistoryAppendTx(tx, effects.UserUID, *effects.History); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) RefundGet(refundID string) (model.Refund, error) {
	var refund model.Refund
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte("refunds")).Get([]byte(refundID))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &refund)
	})
	return refund, err
}
