package payments_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sdbondi/bn-api/order-service/errs"
	"github.com/sdbondi/bn-api/order-service/payments"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGlobee(t *testing.T, handler http.HandlerFunc) *payments.GlobeeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return payments.NewGlobeeClient("globee-key", srv.URL, srv.Client(), newBreaker("globee"))
}

func TestGlobee_CreatePaymentRequest(t *testing.T) {
	orderID := uuid.New()
	client := newGlobee(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payment-request", r.URL.Path)
		assert.Equal(t, "globee-key", r.Header.Get("X-AUTH-KEY"))

		var body map[string]any
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		assert.NoError(t, dec.Decode(&body))
		assert.Equal(t, json.Number("12.50"), body["total"])
		assert.Equal(t, "USD", body["currency"])
		assert.Equal(t, orderID.String(), body["custom_payment_id"])
		assert.Equal(t, map[string]any{"email": "ada@example.com"}, body["customer"])
		assert.Equal(t, "https://api.example/ipns/globee", body["ipn_url"])
		assert.Equal(t, "https://tickets.example/success", body["success_url"])
		assert.NotContains(t, body, "cancel_url")

		w.Write([]byte(`{"success":true,"data":{"id":"pr_1","status":"unpaid",` +
			`"redirect_url":"https://globee.example/pr_1","expires_at":"2026-03-01T13:00:00Z"}}`))
	})

	ipn := "https://api.example/ipns/globee"
	success := "https://tickets.example/success"
	res, err := client.CreatePaymentRequest(context.Background(), payments.PaymentRequest{
		Amount:     payments.CentsToDecimal(1250),
		Currency:   "usd",
		Email:      "ada@example.com",
		OrderID:    orderID,
		IPNURL:     &ipn,
		SuccessURL: &success,
	})
	require.NoError(t, err)
	assert.Equal(t, "pr_1", res.ID)
	assert.Equal(t, "https://globee.example/pr_1", res.RedirectURL)
	require.NotNil(t, res.ExpiresAt)
	assert.True(t, res.ExpiresAt.Equal(time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)))
}

func TestGlobee_CreatePaymentRequestRejected(t *testing.T) {
	t.Run("validation errors", func(t *testing.T) {
		client := newGlobee(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"message":"The given data was invalid.","errors":[{"field":"total","message":"The total must be at least 1."}]}`))
		})

		_, err := client.CreatePaymentRequest(context.Background(), payments.PaymentRequest{Currency: "usd"})
		assert.True(t, errs.Is(err, errs.KindProvider))
		assert.Equal(t, "The total must be at least 1.", errs.Message(err))
	})

	t.Run("unsuccessful", func(t *testing.T) {
		client := newGlobee(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success":false}`))
		})

		_, err := client.CreatePaymentRequest(context.Background(), payments.PaymentRequest{Currency: "usd"})
		assert.True(t, errs.Is(err, errs.KindProvider))
	})
}

func TestGlobee_ParseNotification(t *testing.T) {
	client := payments.NewGlobeeClient("key", "https://globee.example", nil, newBreaker("globee"))

	body := []byte(`{"id":"pr_1","status":"paid","custom_payment_id":"x"}`)
	note, err := client.ParseNotification(body)
	require.NoError(t, err)
	assert.Equal(t, "pr_1", note.ExternalID)
	assert.True(t, bytes.Equal(body, note.Raw))

	_, err = client.ParseNotification([]byte(`{"status":"paid"}`))
	assert.True(t, errs.Is(err, errs.KindValidation))

	_, err = client.ParseNotification([]byte(`paid`))
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestGlobee_VerifyNotification(t *testing.T) {
	tests := []struct {
		status string
		want   payments.NotificationStatus
	}{
		{"paid", payments.NotificationCompleted},
		{"confirmed", payments.NotificationCompleted},
		{"overpaid", payments.NotificationCompleted},
		{"expired", payments.NotificationCancelled},
		{"cancelled", payments.NotificationCancelled},
		{"unpaid", payments.NotificationPending},
		{"paid_unconfirmed", payments.NotificationPending},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			client := newGlobee(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/payment-request/pr_1", r.URL.Path)
				w.Write([]byte(`{"success":true,"data":{"id":"pr_1","status":"` + tt.status + `"}}`))
			})

			verified, err := client.VerifyNotification(context.Background(), "pr_1")
			require.NoError(t, err)
			assert.Equal(t, "pr_1", verified.ExternalID)
			assert.Equal(t, tt.want, verified.Status)
		})
	}
}

func TestGlobee_VerifyNotificationMismatch(t *testing.T) {
	client := newGlobee(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"id":"pr_2","status":"paid"}}`))
	})

	_, err := client.VerifyNotification(context.Background(), "pr_1")
	assert.True(t, errs.Is(err, errs.KindProvider))
}

func TestGlobee_Refund(t *testing.T) {
	client := payments.NewGlobeeClient("key", "https://globee.example", nil, newBreaker("globee"))

	_, err := client.Refund(context.Background(), "pr_1")
	assert.True(t, errs.Is(err, errs.KindConfiguration))
}
