// Package gateway wraps the Toss Payments REST API. The secret key stays
// server-side; the frontend never sees it.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/rojaria/smartcart/internal/gateway/config"
)

// JSON error answer from Toss
type tossError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CancelAnswer struct {
	Status string         `json:"status"`
	Raw    map[string]any `json:"-"`
}

var (
	// ErrAlreadyProcessed means the gateway already settled this payment.
	// Callers treat it as success, the gateway is the source of truth for
	// duplicate submission.
	ErrAlreadyProcessed = errors.New("payment already processed")
	ErrRefundRejected   = errors.New("gateway refund rejected")
)

type Client interface {
	Confirm(ctx context.Context, orderID, paymentKey string, amount int) (map[string]any, error)
	Cancel(ctx context.Context, paymentKey string, amount int, reason string) (CancelAnswer, error)
}

type client struct {
	rest    *resty.Client
	baseURL string
}

func NewClient(cfg config.Config) Client {
	rest := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", basicAuth(cfg.SecretKey))

	return &client{rest: rest, baseURL: cfg.BaseURL}
}

// basicAuth builds the Toss authorization header: base64 of the secret key
// with an empty password.
func basicAuth(secretKey string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(secretKey+":"))
}

func (c *client) Confirm(ctx context.Context, orderID, paymentKey string, amount int) (map[string]any, error) {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"orderId":    orderID,
			"paymentKey": paymentKey,
			"amount":     amount,
		}).
		Post(c.baseURL + "/v1/payments/confirm")
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		var payload map[string]any
		err = json.Unmarshal(resp.Body(), &payload)
		return payload, err
	default:
		var answer tossError
		_ = json.Unmarshal(resp.Body(), &answer)
		if isAlreadyProcessed(answer) {
			return nil, ErrAlreadyProcessed
		}
		return nil, fmt.Errorf("confirm status %d: %s", resp.StatusCode(), answer.Message)
	}
}

func (c *client) Cancel(ctx context.Context, paymentKey string, amount int, reason string) (CancelAnswer, error) {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"cancelReason": reason,
			"cancelAmount": amount,
		}).
		Post(c.baseURL + "/v1/payments/" + paymentKey + "/cancel")
	if err != nil {
		return CancelAnswer{}, err
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		var raw map[string]any
		if err := json.Unmarshal(resp.Body(), &raw); err != nil {
			return CancelAnswer{}, err
		}
		status, _ := raw["status"].(string)
		return CancelAnswer{Status: status, Raw: raw}, nil
	default:
		var answer tossError
		_ = json.Unmarshal(resp.Body(), &answer)
		return CancelAnswer{}, fmt.Errorf("%w: status %d: %s", ErrRefundRejected, resp.StatusCode(), answer.Message)
	}
}

// isAlreadyProcessed recognizes the duplicate-submission answers: the
// ALREADY_PROCESSED_PAYMENT code and the legacy [S008] message prefix.
func isAlreadyProcessed(answer tossError) bool {
	if answer.Code == "ALREADY_PROCESSED_PAYMENT" {
		return true
	}
	return strings.Contains(answer.Message, "[S008]")
}
