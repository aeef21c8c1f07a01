package payments_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sdbondi/bn-api/order-service/circuitbreaker"
	"github.com/sdbondi/bn-api/order-service/errs"
	"github.com/sdbondi/bn-api/order-service/payments"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBreaker(name string) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.NewCircuitBreaker(name, 2, time.Minute,
		circuitbreaker.WithFailurePredicate(payments.IsUnavailable))
}

func newStripe(t *testing.T, handler http.HandlerFunc) (*payments.StripeClient, *circuitbreaker.CircuitBreaker) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	breaker := newBreaker("stripe")
	return payments.NewStripeClient("sk_test_123", srv.URL+"/", srv.Client(), breaker), breaker
}

func TestStripe_Auth(t *testing.T) {
	client, _ := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/charges", r.URL.Path)
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "sk_test_123", user)

		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "2500", r.PostForm.Get("amount"))
		assert.Equal(t, "usd", r.PostForm.Get("currency"))
		assert.Equal(t, "false", r.PostForm.Get("capture"))
		assert.Equal(t, "tok_visa", r.PostForm.Get("source"))
		assert.Empty(t, r.PostForm.Get("customer"))
		assert.Equal(t, "order-1", r.PostForm.Get("metadata[order_id]"))

		w.Write([]byte(`{"id":"ch_1","status":"succeeded"}`))
	})

	res, err := client.Auth(context.Background(), "tok_visa", 2500, "usd", "Tickets", map[string]string{"order_id": "order-1"})
	require.NoError(t, err)
	assert.Equal(t, "ch_1", res.ID)
	assert.JSONEq(t, `{"id":"ch_1","status":"succeeded"}`, string(res.Raw))
}

func TestStripe_AuthWithRepeatToken(t *testing.T) {
	client, _ := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "cus_9", r.PostForm.Get("customer"))
		assert.Empty(t, r.PostForm.Get("source"))
		w.Write([]byte(`{"id":"ch_2"}`))
	})

	res, err := client.Auth(context.Background(), "cus_9", 100, "usd", "Tickets", nil)
	require.NoError(t, err)
	assert.Equal(t, "ch_2", res.ID)
}

func TestStripe_CaptureAndRefund(t *testing.T) {
	var paths []string
	client, _ := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		assert.NoError(t, r.ParseForm())
		switch r.URL.Path {
		case "/v1/charges/ch_1/capture":
			w.Write([]byte(`{"id":"ch_1","status":"succeeded"}`))
		case "/v1/refunds":
			assert.Equal(t, "ch_1", r.PostForm.Get("charge"))
			w.Write([]byte(`{"id":"re_1","status":"succeeded"}`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	charge, err := client.CompleteAuthedCharge(ctx, "ch_1")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", charge.Status)

	refund, err := client.Refund(ctx, "ch_1")
	require.NoError(t, err)
	assert.Equal(t, "re_1", refund.ID)

	assert.Equal(t, []string{"/v1/charges/ch_1/capture", "/v1/refunds"}, paths)
}

func TestStripe_RepeatTokens(t *testing.T) {
	client, _ := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "tok_visa", r.PostForm.Get("source"))
		switch r.URL.Path {
		case "/v1/customers":
			w.Write([]byte(`{"id":"cus_new"}`))
		case "/v1/customers/cus_old":
			w.Write([]byte(`{"id":"cus_old"}`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	created, err := client.CreateTokenForRepeatCharges(ctx, "tok_visa", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "cus_new", created.Token)

	updated, err := client.UpdateRepeatToken(ctx, "cus_old", "tok_visa", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "cus_old", updated.Token)
}

func TestStripe_Declined(t *testing.T) {
	client, breaker := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`))
	})

	for i := 0; i < 3; i++ {
		_, err := client.Auth(context.Background(), "tok_declined", 2500, "usd", "Tickets", nil)
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.KindProvider))
		assert.Equal(t, "Your card was declined.", errs.Message(err))
	}
	// Rejections are the provider working as intended.
	assert.Equal(t, circuitbreaker.StateClosed, breaker.GetState())
}

func TestStripe_UnavailableOpensBreaker(t *testing.T) {
	var calls atomic.Int32
	client, breaker := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.Auth(ctx, "tok_visa", 2500, "usd", "Tickets", nil)
		assert.True(t, errs.Is(err, errs.KindProcessorUnavailable))
	}
	assert.Equal(t, circuitbreaker.StateOpen, breaker.GetState())

	_, err := client.Auth(ctx, "tok_visa", 2500, "usd", "Tickets", nil)
	assert.True(t, errs.Is(err, errs.KindProcessorUnavailable))
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStripe_InvalidResponse(t *testing.T) {
	client, _ := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	})

	_, err := client.CompleteAuthedCharge(context.Background(), "ch_1")
	assert.True(t, errs.Is(err, errs.KindProvider))
}

func TestRegistry(t *testing.T) {
	stripe := payments.NewStripeClient("sk", "https://stripe.example", nil, newBreaker("stripe"))
	globee := payments.NewGlobeeClient("key", "https://globee.example", nil, newBreaker("globee"))
	registry := payments.NewRegistry(stripe, globee)

	assert.Equal(t, []string{"globee", "stripe"}, registry.Names())

	p, err := registry.Get("stripe")
	require.NoError(t, err)
	_, ok := p.Behavior().(payments.AuthThenComplete)
	assert.True(t, ok)

	p, err = registry.Get("globee")
	require.NoError(t, err)
	_, ok = p.Behavior().(payments.RedirectToPaymentPage)
	assert.True(t, ok)

	_, err = registry.Get("paypal")
	assert.True(t, errs.Is(err, errs.KindConfiguration))
}

func TestCentsToDecimal(t *testing.T) {
	assert.Equal(t, "19.99", payments.CentsToDecimal(1999).StringFixed(2))
	assert.Equal(t, "0.05", payments.CentsToDecimal(5).StringFixed(2))
	assert.Equal(t, "100.00", payments.CentsToDecimal(10000).StringFixed(2))
}
