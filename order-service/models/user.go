package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ScopeBoxOfficeTicketRead      = "box-office-ticket:read"
	ScopeOrderMakeExternalPayment = "order:make-external-payment"
)

type User struct {
	ID        uuid.UUID `json:"id"`
	FirstName *string   `json:"first_name,omitempty"`
	LastName  *string   `json:"last_name,omitempty"`
	Email     *string   `json:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	IsStub    bool      `json:"is_stub"`
	CreatedAt time.Time `json:"created_at"`
}
