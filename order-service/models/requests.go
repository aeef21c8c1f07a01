package models

import "github.com/google/uuid"

type CartItemRequest struct {
	TicketTypeID   uuid.UUID `json:"ticket_type_id" binding:"required"`
	Quantity       int64     `json:"quantity" binding:"gte=0"`
	RedemptionCode *string   `json:"redemption_code"`
}

type UpdateCartRequest struct {
	Items     []CartItemRequest `json:"items" binding:"dive"`
	BoxOffice bool              `json:"box_office_pricing"`
}
