package models

import (
	"time"

	"github.com/google/uuid"
)

type DisplayOrderItem struct {
	ID               uuid.UUID  `json:"id"`
	TicketTypeID     uuid.UUID  `json:"ticket_type_id"`
	EventID          uuid.UUID  `json:"event_id"`
	Quantity         int64      `json:"quantity"`
	UnitPriceInCents int64      `json:"unit_price_in_cents"`
	FeeInCents       int64      `json:"fee_in_cents"`
	HoldID           *uuid.UUID `json:"hold_id,omitempty"`
	ReservedTickets  int        `json:"reserved_tickets"`
}

type DisplayPayment struct {
	ID                uuid.UUID         `json:"id"`
	Status            PaymentStatus     `json:"status"`
	PaymentMethod     PaymentMethodType `json:"payment_method"`
	Provider          string            `json:"provider"`
	ExternalReference *string           `json:"external_reference,omitempty"`
	AmountInCents     int64             `json:"amount_in_cents"`
	CreatedAt         time.Time         `json:"created_at"`
}

// DisplayOrder is the order as returned to API clients.
type DisplayOrder struct {
	ID                 uuid.UUID          `json:"id"`
	UserID             uuid.UUID          `json:"user_id"`
	OnBehalfOfUserID   *uuid.UUID         `json:"on_behalf_of_user_id,omitempty"`
	Status             OrderStatus        `json:"status"`
	Note               *string            `json:"note,omitempty"`
	Items              []DisplayOrderItem `json:"items"`
	TotalInCents       int64              `json:"total_in_cents"`
	FeesInCents        int64              `json:"fees_in_cents"`
	CheckoutURL        *string            `json:"checkout_url,omitempty"`
	CheckoutURLExpires *time.Time         `json:"checkout_url_expires,omitempty"`
	Payments           []DisplayPayment   `json:"payments"`
	PaidAt             *time.Time         `json:"paid_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}

// PurchaseCompletedEvent is published for the notification service once an
// order has been paid and its tickets transferred.
type PurchaseCompletedEvent struct {
	EventType string       `json:"event_type"`
	OrderID   uuid.UUID    `json:"order_id"`
	UserID    uuid.UUID    `json:"user_id"`
	FirstName string       `json:"first_name"`
	Email     string       `json:"email"`
	Order     DisplayOrder `json:"order"`
}
