// Package store persists orders, payments and the ticket inventory they
// reference. All access goes through a Tx; callers commit or roll back.
package store

import (
	"context"
	"time"

	"github.com/sdbondi/bn-api/order-service/errs"
	"github.com/sdbondi/bn-api/order-service/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errs.NotFound("record not found")
	// ErrConflict is returned when an order was modified, or is locked, by a
	// concurrent request.
	ErrConflict = errs.New(errs.KindConflict, "order was modified by another request, please retry")
)

type Beginner interface {
	Begin(ctx context.Context) (Tx, error)
}

type Tx interface {
	Commit() error
	Rollback() error

	OrderStore
	CatalogStore
	TicketStore
	UserStore
	PaymentStore
}

type OrderStore interface {
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindDraftOrderForUser(ctx context.Context, userID uuid.UUID) (*models.Order, error)
	// CreateDraftOrder returns the user's draft order, inserting one if none
	// exists.
	CreateDraftOrder(ctx context.Context, userID uuid.UUID) (*models.Order, error)
	// LockVersion takes the order's row lock without waiting and bumps its
	// version if it still matches order.Version. On success order.Version
	// holds the new value.
	LockVersion(ctx context.Context, order *models.Order) error
	// LockOrder waits for the order's row lock, bumps its version and
	// returns the order as read under the lock. It is reserved for settling
	// a payment that is already in flight; everything else uses LockVersion.
	LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error

	OrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	SaveOrderItem(ctx context.Context, item *models.OrderItem) error
	DeleteOrderItem(ctx context.Context, itemID uuid.UUID) error
}

type CatalogStore interface {
	FindTicketType(ctx context.Context, id uuid.UUID) (*models.TicketType, error)
	// OrganizationIDsForTicketTypes returns the distinct owning organizations
	// of the given ticket types.
	OrganizationIDsForTicketTypes(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	OrganizationIDsForEvents(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	FindHoldByCode(ctx context.Context, code string) (*models.Hold, error)
	// FeeForPrice looks up the per-ticket fee for a unit price in the fee
	// schedule. A nil schedule carries no fee.
	FeeForPrice(ctx context.Context, feeScheduleID *uuid.UUID, priceInCents int64) (int64, error)
	FindAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	FindWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	DefaultWalletForUser(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
}

type TicketStore interface {
	// TicketsForOrderItem returns the tickets held by an order item, whether
	// or not their reservation is still current.
	TicketsForOrderItem(ctx context.Context, itemID uuid.UUID) ([]models.TicketInstance, error)
	// ReserveTickets renews the reservations already held by item and
	// reserves up to count more. It returns how many new tickets were
	// reserved.
	ReserveTickets(ctx context.Context, item *models.OrderItem, count int64, until time.Time) (int64, error)
	// ReleaseTickets keeps the first keep tickets held by the item and
	// returns the rest to the pool.
	ReleaseTickets(ctx context.Context, itemID uuid.UUID, keep int64) error
	// MarkTicketsPurchased settles the order's reserved tickets into the
	// purchaser's wallet.
	MarkTicketsPurchased(ctx context.Context, orderID, walletID uuid.UUID) error
}

type UserStore interface {
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByPhone(ctx context.Context, phone string) (*models.User, error)
	CreateStubUser(ctx context.Context, user *models.User) error
	HasScope(ctx context.Context, userID, organizationID uuid.UUID, scope string) (bool, error)

	FindPaymentMethod(ctx context.Context, userID uuid.UUID, name string) (*models.PaymentMethod, error)
	DefaultPaymentMethod(ctx context.Context, userID uuid.UUID) (*models.PaymentMethod, error)
	// SavePaymentMethod inserts or updates the method. Saving a default
	// method clears the flag on the user's other methods.
	SavePaymentMethod(ctx context.Context, method *models.PaymentMethod) error
}

type PaymentStore interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	UpdatePayment(ctx context.Context, payment *models.Payment) error
	FindPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	PaymentsForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
	FindPaymentByReference(ctx context.Context, provider, reference string) (*models.Payment, error)
}

// HasScopeForAll reports whether the user holds scope on every organization.
func HasScopeForAll(ctx context.Context, tx UserStore, userID uuid.UUID, organizationIDs []uuid.UUID, scope string) (bool, error) {
	for _, orgID := range organizationIDs {
		ok, err := tx.HasScope(ctx, userID, orgID, scope)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
