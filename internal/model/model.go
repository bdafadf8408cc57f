package model

import "time"

// PointRate is the currency value of a single loyalty point:
// 1 point discounts 10 won from the order total.
const PointRate = 10

// MinPaymentAmount is the smallest charge the gateway accepts.
const MinPaymentAmount = 100

// Orders

type Order struct {
	OrderID     string      `json:"orderId"`
	UserUID     string      `json:"userUid"`
	Items       []OrderItem `json:"items"`
	Total       int         `json:"total"`
	UsedPoints  int         `json:"usedPoints"`
	Discount    int         `json:"discount"`
	FinalAmount int         `json:"finalAmount"`
	Status      string      `json:"status"`
	// PaymentKey, PaymentMethod and TossData are attached at confirmation time.
	PaymentKey    string         `json:"paymentKey,omitempty"`
	PaymentMethod string         `json:"paymentMethod,omitempty"`
	TossData      map[string]any `json:"tossData,omitempty"`
	CreatedAt     int64          `json:"createdAt"`
	CompletedAt   int64          `json:"completedAt,omitempty"`
}

type OrderItem struct {
	Barcode  string `json:"barcode"`
	Name     string `json:"name"`
	Price    int    `json:"price"`
	Quantity int    `json:"quantity"`
}

const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusFailed    = "failed"
)

// Ledger

type Transaction struct {
	ID            int64
	OrderID       string
	UserUID       string
	UserEmail     string
	PaymentKey    string
	Amount        int
	Discount      int
	FinalAmount   int
	UsedPoints    int
	PaymentMethod string
	Status        string
	TossData      []byte
	Items         []LineItem
	CreatedAt     time.Time
}

type LineItem struct {
	ProductName string
	Barcode     string
	Price       int
	Quantity    int
	TotalPrice  int
}

const (
	TransactionStatusCaptured = "captured"
	TransactionStatusRefunded = "refunded"
)

// Refunds

type Refund struct {
	RefundID       string      `json:"refundId"`
	OrderID        string      `json:"orderId"`
	PaymentKey     string      `json:"paymentKey"`
	Items          []OrderItem `json:"items"`
	Amount         int         `json:"amount"`
	Reason         string      `json:"reason"`
	AdminUID       string      `json:"adminUid"`
	EffectsApplied bool        `json:"effectsApplied"`
	UserUID        string      `json:"userUid"`
	UsedPoints     int         `json:"usedPoints"`
	EarnedPoints   int         `json:"earnedPoints"`
	PgStatus       string      `json:"pgStatus"`
	CreatedAt      int64       `json:"createdAt"`
}

// Products and points

type Product struct {
	Barcode   string `json:"barcode"`
	Name      string `json:"name"`
	Price     int    `json:"price"`
	Category  string `json:"category,omitempty"`
	Stock     int    `json:"stock"`
	InStock   bool   `json:"inStock"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

type PointEvent struct {
	Amount    int    `json:"amount"`
	Type      string `json:"type"`
	Reason    string `json:"reason"`
	OrderID   string `json:"orderId,omitempty"`
	Processed bool   `json:"processed"`
	Timestamp int64  `json:"timestamp"`
}

const (
	PointEventUsed   = "used"
	PointEventEarned = "earned"
	PointEventRefund = "refund"
)
