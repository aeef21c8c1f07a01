package checkout_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sdbondi/bn-api/order-service/errs"
	"github.com/sdbondi/bn-api/order-service/models"
	"github.com/sdbondi/bn-api/order-service/payments"
)

// fakeCard is an AuthThenComplete processor that records every call.
type fakeCard struct {
	mu sync.Mutex

	authErr    error
	captureErr error
	refundErr  error
	// beforeCapture, when set, runs once the authorization is committed and
	// before the charge is captured.
	beforeCapture func()

	auths         []string
	captures      []string
	refunds       []string
	createdRepeat []string
	updatedRepeat []string
}

func (f *fakeCard) Name() string                { return "stripe" }
func (f *fakeCard) Behavior() payments.Behavior { return payments.AuthThenComplete{Client: f} }

func (f *fakeCard) Refund(ctx context.Context, chargeID string) (*payments.RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, chargeID)
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return &payments.RefundResult{ID: "re_" + chargeID, Raw: json.RawMessage(`{"object":"refund"}`)}, nil
}

func (f *fakeCard) Auth(ctx context.Context, token string, amountInCents int64, currency, description string, metadata map[string]string) (*payments.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auths = append(f.auths, token)
	if f.authErr != nil {
		return nil, f.authErr
	}
	id := fmt.Sprintf("ch_%d", len(f.auths))
	return &payments.AuthResult{ID: id, Raw: json.RawMessage(fmt.Sprintf(`{"id":%q,"amount":%d}`, id, amountInCents))}, nil
}

func (f *fakeCard) CompleteAuthedCharge(ctx context.Context, authID string) (*payments.ChargeResult, error) {
	if f.beforeCapture != nil {
		f.beforeCapture()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures = append(f.captures, authID)
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return &payments.ChargeResult{ID: authID, Status: "succeeded", Raw: json.RawMessage(`{"captured":true}`)}, nil
}

func (f *fakeCard) CreateTokenForRepeatCharges(ctx context.Context, token, description string) (*payments.RepeatChargeToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdRepeat = append(f.createdRepeat, token)
	return &payments.RepeatChargeToken{Token: fmt.Sprintf("cus_%d", len(f.createdRepeat)), Raw: json.RawMessage(`{}`)}, nil
}

func (f *fakeCard) UpdateRepeatToken(ctx context.Context, repeatToken, token, description string) (*payments.RepeatChargeToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updatedRepeat = append(f.updatedRepeat, repeatToken)
	return &payments.RepeatChargeToken{Token: repeatToken, Raw: json.RawMessage(`{"updated":true}`)}, nil
}

func (f *fakeCard) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.auths) + len(f.captures) + len(f.refunds) + len(f.createdRepeat) + len(f.updatedRepeat)
}

// fakeRedirect is a RedirectToPaymentPage processor.
type fakeRedirect struct {
	mu sync.Mutex

	requests []payments.PaymentRequest
	verified []string
	// statuses maps a payment request id to the status reported when it is
	// verified. Unknown ids are completed.
	statuses map[string]payments.NotificationStatus
}

func (f *fakeRedirect) Name() string                { return "globee" }
func (f *fakeRedirect) Behavior() payments.Behavior { return payments.RedirectToPaymentPage{Client: f} }

func (f *fakeRedirect) Refund(ctx context.Context, chargeID string) (*payments.RefundResult, error) {
	return nil, errs.Configuration("refunds are not supported")
}

func (f *fakeRedirect) CreatePaymentRequest(ctx context.Context, req payments.PaymentRequest) (*payments.RedirectResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	id := fmt.Sprintf("pr_%d", len(f.requests))
	expires := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	return &payments.RedirectResult{
		ID:          id,
		RedirectURL: "https://pay.example/" + id,
		ExpiresAt:   &expires,
		Raw:         json.RawMessage(fmt.Sprintf(`{"id":%q}`, id)),
	}, nil
}

func (f *fakeRedirect) ParseNotification(body []byte) (*payments.Notification, error) {
	var note struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &note); err != nil || note.ID == "" {
		return nil, errs.Validation("invalid notification")
	}
	return &payments.Notification{ExternalID: note.ID, Raw: body}, nil
}

func (f *fakeRedirect) VerifyNotification(ctx context.Context, externalID string) (*payments.VerifiedNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verified = append(f.verified, externalID)
	status, ok := f.statuses[externalID]
	if !ok {
		status = payments.NotificationCompleted
	}
	return &payments.VerifiedNotification{
		ExternalID: externalID,
		Status:     status,
		Raw:        json.RawMessage(fmt.Sprintf(`{"id":%q,"status":%q}`, externalID, status)),
	}, nil
}

func (f *fakeRedirect) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests) + len(f.verified)
}

type transfer struct {
	senderSecret    string
	senderPublic    string
	assetID         string
	tokenIDs        []int64
	recipientPublic string
}

type fakeLedger struct {
	mu        sync.Mutex
	err       error
	transfers []transfer
}

func (f *fakeLedger) Transfer(ctx context.Context, senderSecret, senderPublic, assetID string, tokenIDs []int64, recipientPublic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.transfers = append(f.transfers, transfer{senderSecret, senderPublic, assetID, tokenIDs, recipientPublic})
	return nil
}

func (f *fakeLedger) all() []transfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transfer(nil), f.transfers...)
}

type fakeEvents struct {
	mu        sync.Mutex
	orders    []models.OrderEvent
	purchases []models.PurchaseCompletedEvent
}

func (f *fakeEvents) PublishOrderEvent(ctx context.Context, event models.OrderEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, event)
	return nil
}

func (f *fakeEvents) PublishPurchaseCompleted(ctx context.Context, event models.PurchaseCompletedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purchases = append(f.purchases, event)
	return nil
}

func (f *fakeEvents) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.orders {
		out = append(out, e.EventType)
	}
	return out
}

type fakeGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (f *fakeGuard) FirstSeen(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func (f *fakeGuard) Forget(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, key)
	return nil
}
