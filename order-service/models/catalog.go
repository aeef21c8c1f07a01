package models

import (
	"time"

	"github.com/google/uuid"
)

type EventStatus string

const (
	EventStatusDraft     EventStatus = "draft"
	EventStatusPublished EventStatus = "published"
)

type Organization struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	FeeScheduleID *uuid.UUID `json:"fee_schedule_id,omitempty"`
}

type Event struct {
	ID             uuid.UUID   `json:"id"`
	OrganizationID uuid.UUID   `json:"organization_id"`
	Name           string      `json:"name"`
	Status         EventStatus `json:"status"`
}

// TicketType carries the fields of its event needed to price and validate a
// line item.
type TicketType struct {
	ID                    uuid.UUID   `json:"id"`
	EventID               uuid.UUID   `json:"event_id"`
	Name                  string      `json:"name"`
	PriceInCents          int64       `json:"price_in_cents"`
	BoxOfficePriceInCents int64       `json:"box_office_price_in_cents"`
	SalesStart            *time.Time  `json:"sales_start,omitempty"`
	SalesEnd              *time.Time  `json:"sales_end,omitempty"`
	EventStatus           EventStatus `json:"-"`
	EventName             string      `json:"-"`
	OrganizationID        uuid.UUID   `json:"-"`
	FeeScheduleID         *uuid.UUID  `json:"-"`
}

func (t *TicketType) OnSale(now time.Time) bool {
	if t.SalesStart != nil && now.Before(*t.SalesStart) {
		return false
	}
	if t.SalesEnd != nil && !now.Before(*t.SalesEnd) {
		return false
	}
	return true
}

// Hold is a block of tickets released through a redemption code.
type Hold struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	RedemptionCode  string     `json:"redemption_code"`
	TicketTypeID    uuid.UUID  `json:"ticket_type_id"`
	DiscountInCents int64      `json:"discount_in_cents"`
	MaxPerOrder     *int64     `json:"max_per_order,omitempty"`
	EndAt           *time.Time `json:"end_at,omitempty"`
}

func (h *Hold) Expired(now time.Time) bool {
	return h.EndAt != nil && !now.Before(*h.EndAt)
}

type FeeScheduleRange struct {
	ID            uuid.UUID `json:"id"`
	FeeScheduleID uuid.UUID `json:"fee_schedule_id"`
	MinPrice      int64     `json:"min_price"`
	FeeInCents    int64     `json:"fee_in_cents"`
}

type Asset struct {
	ID                uuid.UUID `json:"id"`
	TicketTypeID      uuid.UUID `json:"ticket_type_id"`
	BlockchainAssetID *string   `json:"blockchain_asset_id,omitempty"`
}

type TicketStatus string

const (
	TicketStatusAvailable TicketStatus = "available"
	TicketStatusReserved  TicketStatus = "reserved"
	TicketStatusPurchased TicketStatus = "purchased"
)

type TicketInstance struct {
	ID            uuid.UUID    `json:"id"`
	AssetID       uuid.UUID    `json:"asset_id"`
	TokenID       int64        `json:"token_id"`
	WalletID      uuid.UUID    `json:"wallet_id"`
	OrderItemID   *uuid.UUID   `json:"order_item_id,omitempty"`
	ReservedUntil *time.Time   `json:"reserved_until,omitempty"`
	Status        TicketStatus `json:"status"`
}

func (t *TicketInstance) ReservedAt(now time.Time) bool {
	return t.Status == TicketStatusReserved && t.ReservedUntil != nil && now.Before(*t.ReservedUntil)
}

type Wallet struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
	UserID         *uuid.UUID `json:"user_id,omitempty"`
	Name           string     `json:"name"`
	SecretKey      string     `json:"-"`
	PublicKey      string     `json:"public_key"`
	IsDefault      bool       `json:"is_default"`
}
