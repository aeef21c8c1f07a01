// Package payments holds the payment processor clients and the behaviors
// they expose to the checkout orchestrator.
package payments

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Behavior is the capability a processor supports. It is one of
// AuthThenComplete or RedirectToPaymentPage.
type Behavior interface {
	behavior()
}

// AuthThenComplete processors authorize a charge synchronously and capture
// it in a second call.
type AuthThenComplete struct {
	Client AuthThenCompleteClient
}

// RedirectToPaymentPage processors send the buyer to a hosted page and
// report the outcome through an IPN.
type RedirectToPaymentPage struct {
	Client RedirectClient
}

func (AuthThenComplete) behavior()      {}
func (RedirectToPaymentPage) behavior() {}

type AuthThenCompleteClient interface {
	Auth(ctx context.Context, token string, amountInCents int64, currency, description string, metadata map[string]string) (*AuthResult, error)
	CompleteAuthedCharge(ctx context.Context, authID string) (*ChargeResult, error)
	CreateTokenForRepeatCharges(ctx context.Context, token, description string) (*RepeatChargeToken, error)
	UpdateRepeatToken(ctx context.Context, repeatToken, token, description string) (*RepeatChargeToken, error)
}

type RedirectClient interface {
	CreatePaymentRequest(ctx context.Context, req PaymentRequest) (*RedirectResult, error)
	// ParseNotification extracts the provider reference from an IPN body.
	// The body is untrusted.
	ParseNotification(body []byte) (*Notification, error)
	// VerifyNotification fetches the payment request from the provider.
	VerifyNotification(ctx context.Context, externalID string) (*VerifiedNotification, error)
}

type Processor interface {
	Name() string
	Behavior() Behavior
	Refund(ctx context.Context, chargeID string) (*RefundResult, error)
}

type AuthResult struct {
	ID  string
	Raw json.RawMessage
}

type ChargeResult struct {
	ID     string
	Status string
	Raw    json.RawMessage
}

type RepeatChargeToken struct {
	Token string
	Raw   json.RawMessage
}

type RefundResult struct {
	ID  string
	Raw json.RawMessage
}

type PaymentRequest struct {
	Amount     decimal.Decimal
	Currency   string
	Email      string
	OrderID    uuid.UUID
	IPNURL     *string
	SuccessURL *string
	CancelURL  *string
}

type RedirectResult struct {
	ID          string
	RedirectURL string
	ExpiresAt   *time.Time
	Raw         json.RawMessage
}

type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationCompleted NotificationStatus = "completed"
	NotificationCancelled NotificationStatus = "cancelled"
)

type Notification struct {
	ExternalID string
	Raw        json.RawMessage
}

type VerifiedNotification struct {
	ExternalID string
	Status     NotificationStatus
	Raw        json.RawMessage
}

// CentsToDecimal converts an amount in cents to major currency units.
func CentsToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
