// Package events publishes payment lifecycle events to Kafka for downstream
// consumers (notifications, reconciliation). Publishing is best-effort: a
// nil producer disables it and send failures never fail the payment.
package events

import (
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/rojaria/smartcart/internal/events/config"
)

const (
	TypeCaptured = "payment.captured"
	TypeRefunded = "payment.refunded"
)

type Event struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	OrderID    string `json:"order_id"`
	PaymentKey string `json:"payment_key"`
	UserUID    string `json:"user_uid"`
	Amount     int    `json:"amount"`
	OccurredAt string `json:"occurred_at"`
}

type Publisher interface {
	Publish(eventType, orderID, paymentKey, userUID string, amount int) error
	Close() error
}

type publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewPublisher connects a sync producer to the configured brokers. With no
// brokers configured it returns a disabled publisher.
func NewPublisher(cfg config.Config) (Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return &publisher{topic: cfg.Topic}, nil
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 5
	saramaCfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, err
	}
	return &publisher{producer: producer, topic: cfg.Topic}, nil
}

func (p *publisher) Publish(eventType, orderID, paymentKey, userUID string, amount int) error {
	if p.producer == nil {
		return nil
	}

	event := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OrderID:    orderID,
		PaymentKey: paymentKey,
		UserUID:    userUID,
		Amount:     amount,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(orderID),
		Value: sarama.ByteEncoder(b),
	})
	return err
}

func (p *publisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
