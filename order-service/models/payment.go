package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentStatusRequested  PaymentStatus = "requested"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

type PaymentMethodType string

const (
	PaymentMethodCreditCard PaymentMethodType = "credit_card"
	PaymentMethodExternal   PaymentMethodType = "external"
	PaymentMethodFree       PaymentMethodType = "free"
	PaymentMethodProvider   PaymentMethodType = "provider"
)

type Payment struct {
	ID                uuid.UUID         `json:"id"`
	OrderID           uuid.UUID         `json:"order_id"`
	CreatedBy         uuid.UUID         `json:"created_by"`
	Status            PaymentStatus     `json:"status"`
	PaymentMethod     PaymentMethodType `json:"payment_method"`
	Provider          string            `json:"provider"`
	ExternalReference *string           `json:"external_reference,omitempty"`
	AmountInCents     int64             `json:"amount_in_cents"`
	ProviderData      json.RawMessage   `json:"provider_data,omitempty"`
	URLNonce          *string           `json:"-"`
	RefundData        json.RawMessage   `json:"refund_data,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func (p *Payment) MarkComplete(providerData json.RawMessage) {
	p.Status = PaymentStatusCompleted
	if len(providerData) > 0 {
		p.ProviderData = providerData
	}
}

// MarkCancelled settles the payment as cancelled. refundData, when present,
// records the compensating refund.
func (p *Payment) MarkCancelled(providerData, refundData json.RawMessage) {
	p.Status = PaymentStatusCancelled
	if len(providerData) > 0 {
		p.ProviderData = providerData
	}
	if len(refundData) > 0 {
		p.RefundData = refundData
	}
}

type PaymentMethod struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	Name         string          `json:"name"`
	Provider     string          `json:"-"`
	IsDefault    bool            `json:"is_default"`
	ProviderData json.RawMessage `json:"provider_data,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
