package models

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusDraft          OrderStatus = "draft"
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusPaid           OrderStatus = "paid"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusCancelled
}

type Order struct {
	ID                 uuid.UUID   `json:"id"`
	UserID             uuid.UUID   `json:"user_id"`
	OnBehalfOfUserID   *uuid.UUID  `json:"on_behalf_of_user_id,omitempty"`
	Status             OrderStatus `json:"status"`
	Version            int64       `json:"version"`
	Note               *string     `json:"note,omitempty"`
	CheckoutURL        *string     `json:"checkout_url,omitempty"`
	CheckoutURLExpires *time.Time  `json:"checkout_url_expires,omitempty"`
	PaidAt             *time.Time  `json:"paid_at,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// BeneficiaryID is the user the tickets are issued to.
func (o *Order) BeneficiaryID() uuid.UUID {
	if o.OnBehalfOfUserID != nil {
		return *o.OnBehalfOfUserID
	}
	return o.UserID
}

// ResetToDraft returns a pending order to the cart so the user can retry.
func (o *Order) ResetToDraft() {
	o.Status = OrderStatusDraft
	o.CheckoutURL = nil
	o.CheckoutURLExpires = nil
}

func (o *Order) MarkPaid(at time.Time) {
	o.Status = OrderStatusPaid
	o.PaidAt = &at
}

type OrderItem struct {
	ID               uuid.UUID  `json:"id"`
	OrderID          uuid.UUID  `json:"order_id"`
	TicketTypeID     uuid.UUID  `json:"ticket_type_id"`
	EventID          uuid.UUID  `json:"event_id"`
	Quantity         int64      `json:"quantity"`
	UnitPriceInCents int64      `json:"unit_price_in_cents"`
	FeeInCents       int64      `json:"fee_in_cents"`
	HoldID           *uuid.UUID `json:"hold_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (i OrderItem) TotalInCents() int64 {
	return i.Quantity * (i.UnitPriceInCents + i.FeeInCents)
}

func (i OrderItem) FeesInCents() int64 {
	return i.Quantity * i.FeeInCents
}

// CalculateTotal sums the line items. The total is never stored on the order.
func CalculateTotal(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.TotalInCents()
	}
	return total
}

// MainEventID is the event of the first line item in the order.
func MainEventID(items []OrderItem) (uuid.UUID, bool) {
	if len(items) == 0 {
		return uuid.Nil, false
	}
	first := items[0]
	for _, item := range items[1:] {
		if item.CreatedAt.Before(first.CreatedAt) {
			first = item
		}
	}
	return first.EventID, true
}

type OrderEvent struct {
	OrderID       uuid.UUID   `json:"order_id"`
	UserID        uuid.UUID   `json:"user_id"`
	Status        OrderStatus `json:"status"`
	AmountInCents int64       `json:"amount_in_cents"`
	Provider      string      `json:"provider,omitempty"`
	EventType     string      `json:"event_type"` // order_paid, payment_requested, payment_refunded, purchase_completed
}
