// Package cart manages draft orders: one per user, mutated until checkout.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sdbondi/bn-api/order-service/errs"
	"github.com/sdbondi/bn-api/order-service/models"
	"github.com/sdbondi/bn-api/order-service/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type Manager struct {
	store          store.Beginner
	reservationTTL time.Duration
	now            func() time.Time
	logger         *zap.Logger
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(s store.Beginner, reservationTTL time.Duration, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:          s,
		reservationTTL: reservationTTL,
		now:            time.Now,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FindOrCreateCart returns the user's draft order, creating an empty one on
// first use.
func (m *Manager) FindOrCreateCart(ctx context.Context, userID uuid.UUID) (*models.Order, error) {
	tx, err := m.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := tx.CreateDraftOrder(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

// FindCart returns the display view of the user's cart. A user without a
// cart gets an empty view.
func (m *Manager) FindCart(ctx context.Context, userID uuid.UUID) (*models.DisplayOrder, error) {
	tx, err := m.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := tx.FindDraftOrderForUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &models.DisplayOrder{
			UserID:   userID,
			Status:   models.OrderStatusDraft,
			Items:    []models.DisplayOrderItem{},
			Payments: []models.DisplayPayment{},
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return store.DisplayOrder(ctx, tx, order)
}

// UpdateCart applies items to the user's cart, creating it if needed.
// Replace drops the items not listed.
func (m *Manager) UpdateCart(ctx context.Context, userID uuid.UUID, items []models.CartItemRequest, boxOffice, replace bool) (*models.DisplayOrder, error) {
	if boxOffice {
		// Checked before the cart is created so an unauthorized caller
		// leaves no trace.
		if err := m.authorizeBoxOffice(ctx, userID, items); err != nil {
			return nil, err
		}
	}

	order, err := m.FindOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := m.UpdateQuantities(ctx, order, userID, items, boxOffice, replace); err != nil {
		return nil, err
	}
	return m.Display(ctx, order.ID)
}

// Clear empties the user's cart.
func (m *Manager) Clear(ctx context.Context, userID uuid.UUID) (*models.DisplayOrder, error) {
	return m.UpdateCart(ctx, userID, nil, false, true)
}

// RedemptionCode returns the hold behind a code that can still be redeemed.
func (m *Manager) RedemptionCode(ctx context.Context, code string) (*models.Hold, error) {
	tx, err := m.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	hold, err := tx.FindHoldByCode(ctx, strings.TrimSpace(code))
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.NotFound("Redemption code not found")
	}
	if err != nil {
		return nil, err
	}
	if hold.Expired(m.now()) {
		return nil, errs.NotFound("Redemption code not found")
	}
	return hold, nil
}

func (m *Manager) Display(ctx context.Context, orderID uuid.UUID) (*models.DisplayOrder, error) {
	tx, err := m.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := tx.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return store.DisplayOrder(ctx, tx, order)
}

func (m *Manager) authorizeBoxOffice(ctx context.Context, userID uuid.UUID, items []models.CartItemRequest) error {
	tx, err := m.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return authorizeBoxOffice(ctx, tx, userID, items)
}

// authorizeBoxOffice requires box office access on every organization
// selling the requested ticket types. Ids are deduplicated and sorted so the
// outcome does not depend on request order.
func authorizeBoxOffice(ctx context.Context, tx store.Tx, userID uuid.UUID, items []models.CartItemRequest) error {
	seen := make(map[uuid.UUID]bool, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if !seen[item.TicketTypeID] {
			seen[item.TicketTypeID] = true
			ids = append(ids, item.TicketTypeID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	orgIDs, err := tx.OrganizationIDsForTicketTypes(ctx, ids)
	if err != nil {
		return err
	}
	ok, err := store.HasScopeForAll(ctx, tx, userID, orgIDs, models.ScopeBoxOfficeTicketRead)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Forbidden("User does not have box office access for this organization")
	}
	return nil
}

type itemKey struct {
	ticketTypeID uuid.UUID
	holdID       uuid.UUID
}

func keyOf(ticketTypeID uuid.UUID, holdID *uuid.UUID) itemKey {
	k := itemKey{ticketTypeID: ticketTypeID}
	if holdID != nil {
		k.holdID = *holdID
	}
	return k
}

// pricedItem is a validated request line, ready to be applied.
type pricedItem struct {
	ticketType *models.TicketType
	hold       *models.Hold
	quantity   int64
}

// UpdateQuantities sets the quantity of each listed ticket type (and
// redemption code) on the draft order. With clearOthers the order ends up
// holding exactly the listed items. Prices, fees and ticket reservations are
// recomputed for every touched item.
func (m *Manager) UpdateQuantities(ctx context.Context, order *models.Order, userID uuid.UUID, items []models.CartItemRequest, boxOffice, clearOthers bool) error {
	ctx, span := otel.Tracer("order-service").Start(ctx, "UpdateQuantities")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", order.ID.String()),
		attribute.Int("items", len(items)),
		attribute.Bool("box_office", boxOffice),
	)

	if order.UserID != userID {
		return errs.Forbidden("Order does not belong to user")
	}

	tx, err := m.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if boxOffice {
		if err := authorizeBoxOffice(ctx, tx, userID, items); err != nil {
			return err
		}
	}

	now := m.now()
	priced, err := m.validateItems(ctx, tx, items, now)
	if err != nil {
		return err
	}

	current, err := tx.FindOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	if current.Status != models.OrderStatusDraft {
		return errs.InvalidState("Cart can only be modified while it is a draft")
	}
	if err := ensureNoPaymentInFlight(ctx, tx, order.ID); err != nil {
		return err
	}
	if err := tx.LockVersion(ctx, order); err != nil {
		return err
	}

	existing, err := tx.OrderItems(ctx, order.ID)
	if err != nil {
		return err
	}
	byKey := make(map[itemKey]models.OrderItem, len(existing))
	for _, item := range existing {
		byKey[keyOf(item.TicketTypeID, item.HoldID)] = item
	}

	until := now.Add(m.reservationTTL)
	touched := make(map[itemKey]bool, len(priced))
	for _, p := range priced {
		var holdID *uuid.UUID
		if p.hold != nil {
			holdID = &p.hold.ID
		}
		key := keyOf(p.ticketType.ID, holdID)
		touched[key] = true

		item, exists := byKey[key]
		if p.quantity == 0 {
			if exists {
				if err := removeItem(ctx, tx, item.ID); err != nil {
					return err
				}
				delete(byKey, key)
			}
			continue
		}

		if !exists {
			item = models.OrderItem{
				OrderID:      order.ID,
				TicketTypeID: p.ticketType.ID,
				EventID:      p.ticketType.EventID,
				HoldID:       holdID,
			}
		}
		item.Quantity = p.quantity
		if err := m.price(ctx, tx, &item, p, boxOffice); err != nil {
			return err
		}
		if err := tx.SaveOrderItem(ctx, &item); err != nil {
			return err
		}
		byKey[key] = item

		if err := m.reserve(ctx, tx, &item, until); err != nil {
			return err
		}
	}

	if clearOthers {
		for key, item := range byKey {
			if touched[key] {
				continue
			}
			if err := removeItem(ctx, tx, item.ID); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	m.logger.Info("Cart updated",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", userID.String()),
		zap.Int("items", len(priced)),
		zap.Bool("replace", clearOthers),
	)
	return nil
}

// validateItems loads and checks every requested line before anything is
// written.
func (m *Manager) validateItems(ctx context.Context, tx store.Tx, items []models.CartItemRequest, now time.Time) ([]pricedItem, error) {
	priced := make([]pricedItem, 0, len(items))
	for _, req := range items {
		if req.Quantity < 0 {
			return nil, errs.Validation("Quantity cannot be negative")
		}

		tt, err := tx.FindTicketType(ctx, req.TicketTypeID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.Validation(fmt.Sprintf("Ticket type %s does not exist", req.TicketTypeID))
		}
		if err != nil {
			return nil, err
		}
		if tt.EventStatus != models.EventStatusPublished {
			return nil, errs.Validation("Event has not been published")
		}
		if req.Quantity > 0 && !tt.OnSale(now) {
			return nil, errs.Validation(fmt.Sprintf("%s tickets are not currently on sale", tt.Name))
		}

		p := pricedItem{ticketType: tt, quantity: req.Quantity}
		if req.RedemptionCode != nil && strings.TrimSpace(*req.RedemptionCode) != "" {
			hold, err := tx.FindHoldByCode(ctx, strings.TrimSpace(*req.RedemptionCode))
			if errors.Is(err, store.ErrNotFound) {
				return nil, errs.Validation("Redemption code is not valid")
			}
			if err != nil {
				return nil, err
			}
			if hold.TicketTypeID != tt.ID {
				return nil, errs.Validation("Redemption code is not valid for this ticket type")
			}
			if hold.Expired(now) {
				return nil, errs.Validation("Redemption code has expired")
			}
			if hold.MaxPerOrder != nil && req.Quantity > *hold.MaxPerOrder {
				return nil, errs.Validation(fmt.Sprintf("Redemption code is limited to %d tickets per order", *hold.MaxPerOrder))
			}
			p.hold = hold
		}
		priced = append(priced, p)
	}
	return priced, nil
}

func (m *Manager) price(ctx context.Context, tx store.Tx, item *models.OrderItem, p pricedItem, boxOffice bool) error {
	unit := p.ticketType.PriceInCents
	if boxOffice {
		unit = p.ticketType.BoxOfficePriceInCents
	}
	if p.hold != nil {
		unit -= p.hold.DiscountInCents
		if unit < 0 {
			unit = 0
		}
	}

	var fee int64
	if !boxOffice && unit > 0 {
		var err error
		fee, err = tx.FeeForPrice(ctx, p.ticketType.FeeScheduleID, unit)
		if err != nil {
			return err
		}
	}

	item.UnitPriceInCents = unit
	item.FeeInCents = fee
	return nil
}

// reserve makes the item hold exactly its quantity of tickets, renewing the
// reservations it keeps.
func (m *Manager) reserve(ctx context.Context, tx store.Tx, item *models.OrderItem, until time.Time) error {
	held, err := tx.TicketsForOrderItem(ctx, item.ID)
	if err != nil {
		return err
	}
	have := int64(len(held))

	if have > item.Quantity {
		if err := tx.ReleaseTickets(ctx, item.ID, item.Quantity); err != nil {
			return err
		}
		_, err := tx.ReserveTickets(ctx, item, 0, until)
		return err
	}

	want := item.Quantity - have
	got, err := tx.ReserveTickets(ctx, item, want, until)
	if err != nil {
		return err
	}
	if got < want {
		return errs.Validation("Could not reserve tickets, not enough tickets are available")
	}
	return nil
}

func removeItem(ctx context.Context, tx store.Tx, itemID uuid.UUID) error {
	if err := tx.ReleaseTickets(ctx, itemID, 0); err != nil {
		return err
	}
	return tx.DeleteOrderItem(ctx, itemID)
}

// ensureNoPaymentInFlight rejects changes while an authorized charge is
// being captured.
func ensureNoPaymentInFlight(ctx context.Context, tx store.Tx, orderID uuid.UUID) error {
	payments, err := tx.PaymentsForOrder(ctx, orderID)
	if err != nil {
		return err
	}
	for _, p := range payments {
		if p.Status == models.PaymentStatusAuthorized {
			return store.ErrConflict
		}
	}
	return nil
}

// ClearInvalidItems drops the items that can no longer be bought.
func (m *Manager) ClearInvalidItems(ctx context.Context, order *models.Order, userID uuid.UUID) error {
	if order.UserID != userID {
		return errs.Forbidden("Order does not belong to user")
	}

	tx, err := m.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := tx.FindOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	if current.Status != models.OrderStatusDraft {
		return errs.InvalidState("Only draft orders can be cleared of invalid items")
	}
	if err := ensureNoPaymentInFlight(ctx, tx, order.ID); err != nil {
		return err
	}
	if err := tx.LockVersion(ctx, order); err != nil {
		return err
	}

	items, err := tx.OrderItems(ctx, order.ID)
	if err != nil {
		return err
	}
	invalid, err := InvalidItems(ctx, tx, items, m.now())
	if err != nil {
		return err
	}
	for _, item := range invalid {
		if err := removeItem(ctx, tx, item.ID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if len(invalid) > 0 {
		m.logger.Info("Removed invalid cart items",
			zap.String("order_id", order.ID.String()),
			zap.Int("removed", len(invalid)),
		)
	}
	return nil
}

// InvalidItems returns the items that can no longer be purchased: the event
// was unpublished, sales are closed, or the item no longer holds a current
// reservation for each ticket.
func InvalidItems(ctx context.Context, tx store.Tx, items []models.OrderItem, now time.Time) ([]models.OrderItem, error) {
	var invalid []models.OrderItem
	for _, item := range items {
		tt, err := tx.FindTicketType(ctx, item.TicketTypeID)
		if err != nil {
			return nil, err
		}
		if tt.EventStatus != models.EventStatusPublished || !tt.OnSale(now) {
			invalid = append(invalid, item)
			continue
		}

		tickets, err := tx.TicketsForOrderItem(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		var reserved int64
		for i := range tickets {
			if tickets[i].ReservedAt(now) {
				reserved++
			}
		}
		if reserved != item.Quantity {
			invalid = append(invalid, item)
		}
	}
	return invalid, nil
}
