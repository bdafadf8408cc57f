// Package ledger is the durable record of captured payments: one row per
// transaction plus its line items in postgres. The realtime state store
// drives the UI; this is the audit trail and the source the refund
// reconciler validates against.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/rojaria/smartcart/internal/ledger/config"
	"github.com/rojaria/smartcart/internal/model"
)

type Ledger interface {
	SaveTransaction(ctx context.Context, tx model.Transaction) (int64, error)
	LatestByOrder(ctx context.Context, orderID string) (model.Transaction, error)
	HistoryByUser(ctx context.Context, userUID string, limit int) ([]HistoryRow, error)
	Search(ctx context.Context, userUID string, from, to time.Time, limit int) ([]model.Transaction, error)
	MarkRefunded(ctx context.Context, orderID string) error
	Close() error
}

var ErrNoRows = errors.New("no rows")

const queryTimeout = 10 * time.Second

type ledger struct {
	database *sql.DB
}

func NewLedger(cfg config.Config) (Ledger, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	// Transaction header table. order_id is the business key; the most
	// recent row per order is the authoritative one.
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS payment_transactions (" +
			" id BIGSERIAL PRIMARY KEY," +
			" order_id VARCHAR (64) NOT NULL," +
			" user_id VARCHAR (64) NOT NULL," +
			" user_email VARCHAR (120)," +
			" payment_key VARCHAR (200)," +
			" amount INTEGER NOT NULL," +
			" discount INTEGER NOT NULL DEFAULT 0," +
			" final_amount INTEGER NOT NULL," +
			" used_points INTEGER NOT NULL DEFAULT 0," +
			" payment_method VARCHAR (40)," +
			" payment_status VARCHAR (20) NOT NULL DEFAULT 'captured'," +
			" toss_payment_data TEXT," +
			" created_at TIMESTAMP NOT NULL DEFAULT now()" +
			" );")
	if err != nil {
		return nil, err
	}

	// Line items, created atomically with the header and never mutated after.
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS payment_items (" +
			" id BIGSERIAL PRIMARY KEY," +
			" transaction_id BIGINT NOT NULL REFERENCES payment_transactions (id)," +
			" product_name VARCHAR (200) NOT NULL," +
			" barcode VARCHAR (64)," +
			" price INTEGER NOT NULL," +
			" quantity INTEGER NOT NULL," +
			" total_price INTEGER NOT NULL" +
			" );")
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(
		"CREATE INDEX IF NOT EXISTS idx_payment_transactions_order" +
			" ON payment_transactions (order_id, created_at DESC);")
	if err != nil {
		return nil, err
	}

	return &ledger{database: db}, nil
}

func (l *ledger) Close() error {
	return l.database.Close()
}

func (l *ledger) SaveTransaction(ctx context.Context, transaction model.Transaction) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	dbtx, err := l.database.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer dbtx.Rollback()

	row := dbtx.QueryRowContext(ctx,
		"INSERT INTO payment_transactions"+
			" (order_id, user_id, user_email, payment_key, amount, discount,"+
			"  final_amount, used_points, payment_method, payment_status, toss_payment_data)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)"+
			" RETURNING id",
		transaction.OrderID,
		transaction.UserUID,
		transaction.UserEmail,
		transaction.PaymentKey,
		transaction.Amount,
		transaction.Discount,
		transaction.FinalAmount,
		transaction.UsedPoints,
		transaction.PaymentMethod,
		transaction.Status,
		string(transaction.TossData))

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}

	for _, item := range transaction.Items {
		_, err = dbtx.ExecContext(ctx,
			"INSERT INTO payment_items"+
				" (transaction_id, product_name, barcode, price, quantity, total_price)"+
				" VALUES ($1, $2, $3, $4, $5, $6)",
			id,
			item.ProductName,
			item.Barcode,
			item.Price,
			item.Quantity,
			item.Price*item.Quantity)
		if err != nil {
			return 0, err
		}
	}

	if err := dbtx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// LatestByOrder returns the most recent transaction for the order, with its
// line items.
func (l *ledger) LatestByOrder(ctx context.Context, orderID string) (model.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var transaction model.Transaction
	row := l.database.QueryRowContext(ctx,
		"SELECT id, order_id, user_id, COALESCE(user_email, ''), COALESCE(payment_key, ''),"+
			" amount, discount, final_amount, used_points,"+
			" COALESCE(payment_method, ''), payment_status, COALESCE(toss_payment_data, ''), created_at"+
			" FROM payment_transactions"+
			" WHERE order_id = $1"+
			" ORDER BY created_at DESC"+
			" LIMIT 1",
		orderID)
	var tossData string
	err := row.Scan(&transaction.ID,
		&transaction.OrderID,
		&transaction.UserUID,
		&transaction.UserEmail,
		&transaction.PaymentKey,
		&transaction.Amount,
		&transaction.Discount,
		&transaction.FinalAmount,
		&transaction.UsedPoints,
		&transaction.PaymentMethod,
		&transaction.Status,
		&tossData,
		&transaction.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Transaction{}, ErrNoRows
		}
		return model.Transaction{}, err
	}
	transaction.TossData = []byte(tossData)

	items, err := l.itemsByTransaction(ctx, transaction.ID)
	if err != nil {
		return model.Transaction{}, err
	}
	transaction.Items = items

	return transaction, nil
}

func (l *ledger) itemsByTransaction(ctx context.Context, transactionID int64) ([]model.LineItem, error) {
	rows, err := l.database.QueryContext(ctx,
		"SELECT product_name, COALESCE(barcode, ''), price, quantity, total_price"+
			" FROM payment_items"+
			" WHERE transaction_id = $1"+
			" ORDER BY id",
		transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.LineItem
	for rows.Next() {
		var item model.LineItem
		err := rows.Scan(&item.ProductName,
			&item.Barcode,
			&item.Price,
			&item.Quantity,
			&item.TotalPrice)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// HistoryRow is one transaction in a user's payment history with the number
// of line items aggregated in.
type HistoryRow struct {
	ID            int64     `json:"id"`
	OrderID       string    `json:"order_id"`
	UserUID       string    `json:"user_id"`
	Amount        int       `json:"amount"`
	FinalAmount   int       `json:"final_amount"`
	PaymentMethod string    `json:"payment_method"`
	Status        string    `json:"payment_status"`
	CreatedAt     time.Time `json:"created_at"`
	ItemCount     int       `json:"item_count"`
}

func (l *ledger) HistoryByUser(ctx context.Context, userUID string, limit int) ([]HistoryRow, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := l.database.QueryContext(ctx,
		"SELECT t.id, t.order_id, t.user_id, t.amount, t.final_amount,"+
			" COALESCE(t.payment_method, ''), t.payment_status, t.created_at,"+
			" COUNT(i.id) AS item_count"+
			" FROM payment_transactions t"+
			" LEFT JOIN payment_items i ON t.id = i.transaction_id"+
			" WHERE t.user_id = $1"+
			" GROUP BY t.id"+
			" ORDER BY t.created_at DESC"+
			" LIMIT $2",
		userUID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []HistoryRow
	for rows.Next() {
		var h HistoryRow
		err := rows.Scan(&h.ID,
			&h.OrderID,
			&h.UserUID,
			&h.Amount,
			&h.FinalAmount,
			&h.PaymentMethod,
			&h.Status,
			&h.CreatedAt,
			&h.ItemCount)
		if err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func (l *ledger) Search(ctx context.Context, userUID string, from, to time.Time, limit int) ([]model.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := "SELECT id, order_id, user_id, COALESCE(user_email, ''), COALESCE(payment_key, '')," +
		" amount, discount, final_amount, used_points," +
		" COALESCE(payment_method, ''), payment_status, created_at" +
		" FROM payment_transactions" +
		" WHERE user_id = $1"
	args := []any{userUID}

	if !from.IsZero() {
		args = append(args, from)
		query += " AND created_at >= $2"
	}
	if !to.IsZero() {
		args = append(args, to)
		if from.IsZero() {
			query += " AND created_at <= $2"
		} else {
			query += " AND created_at <= $3"
		}
	}
	args = append(args, limit)
	switch len(args) {
	case 2:
		query += " ORDER BY created_at DESC LIMIT $2"
	case 3:
		query += " ORDER BY created_at DESC LIMIT $3"
	case 4:
		query += " ORDER BY created_at DESC LIMIT $4"
	}

	rows, err := l.database.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []model.Transaction
	for rows.Next() {
		var transaction model.Transaction
		err := rows.Scan(&transaction.ID,
			&transaction.OrderID,
			&transaction.UserUID,
			&transaction.UserEmail,
			&transaction.PaymentKey,
			&transaction.Amount,
			&transaction.Discount,
			&transaction.FinalAmount,
			&transaction.UsedPoints,
			&transaction.PaymentMethod,
			&transaction.Status,
			&transaction.CreatedAt)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, transaction)
	}
	return transactions, rows.Err()
}

// MarkRefunded flips the authoritative row for the order to refunded.
func (l *ledger) MarkRefunded(ctx context.Context, orderID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := l.database.ExecContext(ctx,
		"UPDATE payment_transactions"+
			" SET payment_status = $1"+
			" WHERE id = ("+
			"  SELECT id FROM payment_transactions"+
			"  WHERE order_id = $2"+
			"  ORDER BY created_at DESC"+
			"  LIMIT 1"+
			" )",
		model.TransactionStatusRefunded,
		orderID)
	return err
}
