package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rojaria/smartcart/internal/gateway/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.Config{
		BaseURL:   srv.URL,
		SecretKey: "test_sk_dummy",
		Timeout:   5 * time.Second,
	})
}

func TestConfirm(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payments/confirm", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "ORDER_1_user1234", body["orderId"])
		require.Equal(t, float64(2000), body["amount"])

		json.NewEncoder(w).Encode(map[string]any{
			"paymentKey": body["paymentKey"],
			"method":     "CARD",
			"status":     "DONE",
		})
	})

	payload, err := client.Confirm(context.Background(), "ORDER_1_user1234", "P1", 2000)
	require.NoError(t, err)
	require.Equal(t, "CARD", payload["method"])
}

func TestConfirmAlreadyProcessedCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "ALREADY_PROCESSED_PAYMENT",
			"message": "already processed",
		})
	})

	_, err := client.Confirm(context.Background(), "ORDER_1_user1234", "P1", 2000)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestConfirmAlreadyProcessedLegacyMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "INVALID_REQUEST",
			"message": "[S008] duplicate request",
		})
	})

	_, err := client.Confirm(context.Background(), "ORDER_1_user1234", "P1", 2000)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestConfirmFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "REJECT_CARD_COMPANY",
			"message": "card rejected",
		})
	})

	_, err := client.Confirm(context.Background(), "ORDER_1_user1234", "P1", 2000)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAlreadyProcessed)
	require.Contains(t, err.Error(), "card rejected")
}

func TestCancel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payments/P1/cancel", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "customer request", body["cancelReason"])
		require.Equal(t, float64(2000), body["cancelAmount"])

		json.NewEncoder(w).Encode(map[string]any{"status": "CANCELED"})
	})

	answer, err := client.Cancel(context.Background(), "P1", 2000, "customer request")
	require.NoError(t, err)
	require.Equal(t, "CANCELED", answer.Status)
}

func TestCancelRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "ALREADY_CANCELED_PAYMENT",
			"message": "already canceled",
		})
	})

	_, err := client.Cancel(context.Background(), "P1", 2000, "")
	require.ErrorIs(t, err, ErrRefundRejected)
	require.Contains(t, err.Error(), "already canceled")
}
