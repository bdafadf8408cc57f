package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rojaria/smartcart/internal/events"
	"github.com/rojaria/smartcart/internal/gateway"
	"github.com/rojaria/smartcart/internal/ledger"
	"github.com/rojaria/smartcart/internal/model"
	"github.com/rojaria/smartcart/internal/points"
	"github.com/rojaria/smartcart/internal/state"
)

type Service interface {
	CreateOrder(ctx context.Context, uid string, items []model.OrderItem, usedPoints int) (model.Order, error)
	ConfirmOrder(ctx context.Context, uid, orderID, paymentKey string, amount int) (ConfirmResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	SaveTransaction(ctx context.Context, transaction model.Transaction) (int64, error)
	PaymentHistory(ctx context.Context, userUID string, limit int) ([]ledger.HistoryRow, error)
	OrderDetail(ctx context.Context, orderID string) (model.Transaction, error)
	SearchOrders(ctx context.Context, userUID string, from, to time.Time, limit int) ([]model.Transaction, error)
	BindCart(uid, cartNumber string) error
	ReleaseCart(uid string) error
}

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrOrderNotFound   = errors.New("order not found")
	ErrPaymentMismatch = errors.New("payment key does not match order")
	ErrOnlyFullRefund  = errors.New("only full refund allowed")
	ErrAlreadyRefunded = errors.New("already refunded")
	ErrPgConfirm       = errors.New("pg confirm failed")
	ErrPgRefund        = errors.New("pg refund failed")
	ErrCartInUse       = errors.New("cart already in use")
)

// DuplicateRefundError carries the original refund id so the caller can
// reconcile against it.
type DuplicateRefundError struct {
	RefundID string
}

func (e *DuplicateRefundError) Error() string {
	return fmt.Sprintf("already refunded: %s", e.RefundID)
}

func (e *DuplicateRefundError) Unwrap() error {
	return ErrAlreadyRefunded
}

type ConfirmResult struct {
	Order    model.Order
	Replayed bool
}

type RefundRequest struct {
	OrderID      string
	PaymentKey   string
	Items        []model.OrderItem
	Amount       float64
	Reason       string
	AdminUID     string
	ApplyEffects bool
	UserUID      string
	OrderTotal   int
	UsedPoints   int
	EarnedPoints int
}

type RefundResult struct {
	RefundID   string
	Idempotent bool
}

type service struct {
	state   *state.Store
	ledger  ledger.Ledger
	gateway gateway.Client
	points  points.Points
	events  events.Publisher
	zaplog  *zap.Logger
}

func NewService(stateStore *state.Store, ledgerStore ledger.Ledger, gatewayClient gateway.Client, publisher events.Publisher, zaplog *zap.Logger) Service {
	return &service{
		state:   stateStore,
		ledger:  ledgerStore,
		gateway: gatewayClient,
		points:  points.NewPoints(stateStore),
		events:  publisher,
		zaplog:  zaplog,
	}
}

// CreateOrder records a pending order. The id embeds the owner's uid prefix
// for compatibility with existing clients, but authorization on confirm uses
// the stored UserUID field, not the id.
func (s *service) CreateOrder(_ context.Context, uid string, items []model.OrderItem, usedPoints int) (model.Order, error) {
	if uid == "" || len(items) == 0 || usedPoints < 0 {
		return model.Order{}, ErrInvalidRequest
	}

	total := 0
	for _, item := range items {
		if item.Quantity <= 0 || item.Price < 0 {
			return model.Order{}, ErrInvalidRequest
		}
		total += item.Price * item.Quantity
	}

	if usedPoints > 0 {
		balance, err := s.points.Get(uid)
		if err != nil {
			return model.Order{}, err
		}
		if usedPoints > balance {
			return model.Order{}, ErrInvalidRequest
		}
	}

	discount := usedPoints * model.PointRate
	finalAmount := total - discount
	if finalAmount < model.MinPaymentAmount {
		return model.Order{}, ErrInvalidRequest
	}

	order := model.Order{
		OrderID:     fmt.Sprintf("ORDER_%d_%s", time.Now().UnixMilli(), uidPrefix(uid)),
		UserUID:     uid,
		Items:       items,
		Total:       total,
		UsedPoints:  usedPoints,
		Discount:    discount,
		FinalAmount: finalAmount,
		Status:      model.OrderStatusPending,
		CreatedAt:   time.Now().UnixMilli(),
	}
	if err := s.state.OrderPut(order); err != nil {
		return model.Order{}, err
	}
	return order, nil
}

func uidPrefix(uid string) string {
	if len(uid) > 8 {
		return uid[:8]
	}
	return uid
}

// ConfirmOrder drives a pending order through gateway confirmation to a
// completed order with ledger record and side effects. Safe to call twice:
// a completed order is returned as-is without a second gateway call.
func (s *service) ConfirmOrder(ctx context.Context, uid, orderID, paymentKey string, amount int) (ConfirmResult, error) {
	if orderID == "" || paymentKey == "" || amount <= 0 {
		return ConfirmResult{}, ErrInvalidRequest
	}

	order, err := s.state.OrderGet(orderID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return ConfirmResult{}, ErrOrderNotFound
		}
		return ConfirmResult{}, err
	}
	if order.UserUID != uid {
		return ConfirmResult{}, ErrUnauthorized
	}

	// Idempotent fast path: a reloaded success page re-sends the same
	// confirmation.
	if order.Status == model.OrderStatusCompleted {
		return ConfirmResult{Order: order, Replayed: true}, nil
	}

	payload, err := s.gateway.Confirm(ctx, orderID, paymentKey, amount)
	if err != nil {
		if errors.Is(err, gateway.ErrAlreadyProcessed) {
			// The gateway settled this payment already; whatever state we
			// hold is the result of the first confirmation.
			replayed, rerr := s.state.OrderGet(orderID)
			if rerr != nil {
				return ConfirmResult{}, ErrOrderNotFound
			}
			return ConfirmResult{Order: replayed, Replayed: true}, nil
		}
		return ConfirmResult{}, fmt.Errorf("%w: %v", ErrPgConfirm, err)
	}

	paymentMethod, _ := payload["method"].(string)
	if paymentMethod == "" {
		paymentMethod = "CARD"
	}

	completed, err := s.state.OrderComplete(orderID, paymentKey, paymentMethod, payload)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return ConfirmResult{}, ErrOrderNotFound
		}
		return ConfirmResult{}, err
	}

	// The payment is captured at the gateway from here on. Ledger mirror and
	// side effects are best-effort: failures are logged for reconciliation,
	// never surfaced as a failed payment.
	s.mirrorToLedger(ctx, completed, payload)
	s.applyCaptureEffects(completed)

	if err := s.events.Publish(events.TypeCaptured, completed.OrderID, completed.PaymentKey, completed.UserUID, completed.FinalAmount); err != nil {
		s.zaplog.Error("publish captured event", zap.String("orderId", completed.OrderID), zap.Error(err))
	}

	return ConfirmResult{Order: completed}, nil
}

func (s *service) mirrorToLedger(ctx context.Context, order model.Order, payload map[string]any) {
	tossData, err := json.Marshal(payload)
	if err != nil {
		tossData = []byte("{}")
	}

	transaction := model.Transaction{
		OrderID:       order.OrderID,
		UserUID:       order.UserUID,
		PaymentKey:    order.PaymentKey,
		Amount:        order.Total,
		Discount:      order.Discount,
		FinalAmount:   order.FinalAmount,
		UsedPoints:    order.UsedPoints,
		PaymentMethod: order.PaymentMethod,
		Status:        model.TransactionStatusCaptured,
		TossData:      tossData,
	}
	for _, item := range order.Items {
		transaction.Items = append(transaction.Items, model.LineItem{
			ProductName: item.Name,
			Barcode:     item.Barcode,
			Price:       item.Price,
			Quantity:    item.Quantity,
			TotalPrice:  item.Price * item.Quantity,
		})
	}

	if _, err := s.ledger.SaveTransaction(ctx, transaction); err != nil {
		s.zaplog.Error("ledger write failed after capture",
			zap.String("orderId", order.OrderID),
			zap.String("paymentKey", order.PaymentKey),
			zap.Error(err))
	}
}

func (s *service) applyCaptureEffects(order model.Order) {
	for _, item := range order.Items {
		if item.Barcode == "" {
			continue
		}
		if _, err := s.state.StockAdjust(item.Barcode, -item.Quantity); err != nil {
			s.zaplog.Error("stock decrement failed",
				zap.String("orderId", order.OrderID),
				zap.String("barcode", item.Barcode),
				zap.Error(err))
		}
	}

	if order.UsedPoints > 0 {
		if err := s.points.Debit(order.UserUID, order.OrderID, order.UsedPoints); err != nil {
			s.zaplog.Error("point debit failed",
				zap.String("orderId", order.OrderID),
				zap.Error(err))
		}
	}

	if err := s.state.CartClear(order.UserUID); err != nil {
		s.zaplog.Error("cart clear failed",
			zap.String("orderId", order.OrderID),
			zap.Error(err))
	}
}

// Refund reverses a captured payment exactly once, full amount only. The
// gateway cancel happens before any durable refund write: it is the
// irreversible external action, and no local state changes if it fails.
func (s *service) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if req.OrderID == "" || req.PaymentKey == "" || len(req.Items) == 0 {
		return RefundResult{}, ErrInvalidRequest
	}

	roundedAmount := int(math.Round(req.Amount))
	idemKey := fmt.Sprintf("%s:%d", req.PaymentKey, roundedAmount)

	if entry, found, err := s.state.RefundByKey(idemKey); err != nil {
		return RefundResult{}, err
	} else if found {
		return RefundResult{RefundID: entry.RefundID, Idempotent: true}, nil
	}

	transaction, err := s.ledger.LatestByOrder(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, ledger.ErrNoRows) {
			return RefundResult{}, ErrOrderNotFound
		}
		return RefundResult{}, err
	}

	if transaction.PaymentKey != req.PaymentKey {
		return RefundResult{}, ErrPaymentMismatch
	}
	if roundedAmount != transaction.FinalAmount {
		return RefundResult{}, ErrOnlyFullRefund
	}

	// Stricter than the idempotency key: one refund per payment, any amount.
	if refundID, found, err := s.state.RefundByPayment(req.PaymentKey); err != nil {
		return RefundResult{}, err
	} else if found {
		return RefundResult{}, &DuplicateRefundError{RefundID: refundID}
	}

	answer, err := s.gateway.Cancel(ctx, req.PaymentKey, roundedAmount, req.Reason)
	if err != nil {
		return RefundResult{}, fmt.Errorf("%w: %v", ErrPgRefund, err)
	}

	now := time.Now().UnixMilli()
	refund := model.Refund{
		RefundID:       fmt.Sprintf("refund_%d_%s", now, uuid.NewString()[:8]),
		OrderID:        req.OrderID,
		PaymentKey:     req.PaymentKey,
		Items:          req.Items,
		Amount:         roundedAmount,
		Reason:         req.Reason,
		AdminUID:       req.AdminUID,
		EffectsApplied: req.ApplyEffects,
		UserUID:        req.UserUID,
		UsedPoints:     req.UsedPoints,
		EarnedPoints:   req.EarnedPoints,
		PgStatus:       answer.Status,
		CreatedAt:      now,
	}

	var effects *state.RefundEffects
	if req.ApplyEffects {
		effects = s.buildRefundEffects(req, transaction, roundedAmount)
	}

	if err := s.state.RefundCreate(refund, idemKey, effects); err != nil {
		return RefundResult{}, err
	}

	if err := s.ledger.MarkRefunded(ctx, req.OrderID); err != nil {
		s.zaplog.Error("ledger refund status update failed",
			zap.String("orderId", req.OrderID),
			zap.Error(err))
	}

	if err := s.events.Publish(events.TypeRefunded, req.OrderID, req.PaymentKey, req.UserUID, roundedAmount); err != nil {
		s.zaplog.Error("publish refunded event", zap.String("orderId", req.OrderID), zap.Error(err))
	}

	return RefundResult{RefundID: refund.RefundID}, nil
}

func (s *service) buildRefundEffects(req RefundRequest, transaction model.Transaction, roundedAmount int) *state.RefundEffects {
	effects := &state.RefundEffects{UserUID: req.UserUID}

	for _, item := range req.Items {
		if item.Barcode == "" || item.Quantity <= 0 {
			continue
		}
		effects.Stock = append(effects.Stock, state.StockDelta{
			Barcode:  item.Barcode,
			Quantity: item.Quantity,
		})
	}

	orderTotal := req.OrderTotal
	if orderTotal == 0 {
		orderTotal = transaction.FinalAmount
	}
	earnedReversal, usedReversal := s.points.Reversal(roundedAmount, orderTotal, req.EarnedPoints, req.UsedPoints)

	effects.PointsDelta = usedReversal - earnedReversal
	if effects.PointsDelta != 0 {
		effects.History = &model.PointEvent{
			Amount:    effects.PointsDelta,
			Type:      model.PointEventRefund,
			Reason:    "refund",
			OrderID:   req.OrderID,
			Processed: false,
			Timestamp: time.Now().UnixMilli(),
		}
	}
	return effects
}

func (s *service) SaveTransaction(ctx context.Context, transaction model.Transaction) (int64, error) {
	if transaction.OrderID == "" || transaction.UserUID == "" {
		return 0, ErrInvalidRequest
	}
	if transaction.Status == "" {
		transaction.Status = model.TransactionStatusCaptured
	}
	return s.ledger.SaveTransaction(ctx, transaction)
}

func (s *service) PaymentHistory(ctx context.Context, userUID string, limit int) ([]ledger.HistoryRow, error) {
	if userUID == "" {
		return nil, ErrInvalidRequest
	}
	if limit <= 0 {
		limit = 10
	}
	return s.ledger.HistoryByUser(ctx, userUID, limit)
}

func (s *service) OrderDetail(ctx context.Context, orderID string) (model.Transaction, error) {
	if orderID == "" {
		return model.Transaction{}, ErrInvalidRequest
	}
	transaction, err := s.ledger.LatestByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ledger.ErrNoRows) {
			return model.Transaction{}, ErrOrderNotFound
		}
		return model.Transaction{}, err
	}
	return transaction, nil
}

func (s *service) SearchOrders(ctx context.Context, userUID string, from, to time.Time, limit int) ([]model.Transaction, error) {
	if userUID == "" {
		return nil, ErrInvalidRequest
	}
	if limit <= 0 {
		limit = 20
	}
	return s.ledger.Search(ctx, userUID, from, to, limit)
}

func (s *service) BindCart(uid, cartNumber string) error {
	if uid == "" || cartNumber == "" {
		return ErrInvalidRequest
	}
	err := s.state.CartBind(uid, cartNumber)
	if errors.Is(err, state.ErrCartInUse) {
		return ErrCartInUse
	}
	return err
}

func (s *service) ReleaseCart(uid string) error {
	if uid == "" {
		return ErrInvalidRequest
	}
	return s.state.CartRelease(uid)
}
