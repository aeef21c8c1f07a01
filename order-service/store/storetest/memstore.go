// Package storetest provides an in-memory store.Tx for exercising the cart
// and checkout services without Postgres.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sdbondi/bn-api/order-service/models"
	"github.com/sdbondi/bn-api/order-service/store"

	"github.com/google/uuid"
)

type scopeKey struct {
	userID uuid.UUID
	orgID  uuid.UUID
	scope  string
}

type Store struct {
	mu sync.Mutex

	now func() time.Time
	seq time.Duration

	orders         map[uuid.UUID]*models.Order
	items          map[uuid.UUID]*models.OrderItem
	organizations  map[uuid.UUID]*models.Organization
	events         map[uuid.UUID]*models.Event
	ticketTypes    map[uuid.UUID]*models.TicketType
	holds          map[uuid.UUID]*models.Hold
	feeRanges      []models.FeeScheduleRange
	assets         map[uuid.UUID]*models.Asset
	tickets        map[uuid.UUID]*models.TicketInstance
	wallets        map[uuid.UUID]*models.Wallet
	users          map[uuid.UUID]*models.User
	scopes         map[scopeKey]bool
	paymentMethods map[uuid.UUID]*models.PaymentMethod
	payments       map[uuid.UUID]*models.Payment

	// BeforeLockVersion, when set, runs before every LockVersion call.
	BeforeLockVersion func(order *models.Order)
	// BeforeLockOrder, when set, runs before every LockOrder call.
	BeforeLockOrder func(orderID uuid.UUID)
	// CreatePaymentErr, when set, fails every CreatePayment call.
	CreatePaymentErr error
	// Mutations counts writes that were committed or are still pending.
	Mutations int
}

func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:            now,
		orders:         map[uuid.UUID]*models.Order{},
		items:          map[uuid.UUID]*models.OrderItem{},
		organizations:  map[uuid.UUID]*models.Organization{},
		events:         map[uuid.UUID]*models.Event{},
		ticketTypes:    map[uuid.UUID]*models.TicketType{},
		holds:          map[uuid.UUID]*models.Hold{},
		assets:         map[uuid.UUID]*models.Asset{},
		tickets:        map[uuid.UUID]*models.TicketInstance{},
		wallets:        map[uuid.UUID]*models.Wallet{},
		users:          map[uuid.UUID]*models.User{},
		scopes:         map[scopeKey]bool{},
		paymentMethods: map[uuid.UUID]*models.PaymentMethod{},
		payments:       map[uuid.UUID]*models.Payment{},
	}
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	return &tx{s: s}, nil
}

// stamp returns strictly increasing timestamps so records keep their
// insertion order.
func (s *Store) stamp() time.Time {
	s.seq += time.Microsecond
	return s.now().Add(s.seq)
}

// Seeding helpers.

func (s *Store) AddUser(firstName, email string) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &models.User{ID: uuid.New(), CreatedAt: s.stamp()}
	if firstName != "" {
		u.FirstName = &firstName
	}
	if email != "" {
		u.Email = &email
	}
	s.users[u.ID] = u
	w := &models.Wallet{ID: uuid.New(), UserID: &u.ID, Name: "Default", SecretKey: "user-secret-" + u.ID.String(),
		PublicKey: "user-public-" + u.ID.String(), IsDefault: true}
	s.wallets[w.ID] = w
	copied := *u
	return &copied
}

func (s *Store) SetUserPhone(userID uuid.UUID, phone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID].Phone = &phone
}

func (s *Store) AddOrganization(feeScheduleID *uuid.UUID) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	org := &models.Organization{ID: uuid.New(), Name: "Org", FeeScheduleID: feeScheduleID}
	s.organizations[org.ID] = org
	return org.ID
}

func (s *Store) AddEvent(orgID uuid.UUID, status models.EventStatus) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &models.Event{ID: uuid.New(), OrganizationID: orgID, Name: "Event", Status: status}
	s.events[e.ID] = e
	return e.ID
}

func (s *Store) SetEventStatus(eventID uuid.UUID, status models.EventStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[eventID].Status = status
}

// AddTicketType creates a ticket type with one ledger asset holding count
// tokens in the organization's wallet.
func (s *Store) AddTicketType(eventID uuid.UUID, priceInCents, boxOfficePriceInCents int64, count int) *models.TicketType {
	s.mu.Lock()
	defer s.mu.Unlock()
	event := s.events[eventID]
	tt := &models.TicketType{
		ID:                    uuid.New(),
		EventID:               eventID,
		Name:                  "General Admission",
		PriceInCents:          priceInCents,
		BoxOfficePriceInCents: boxOfficePriceInCents,
	}
	s.ticketTypes[tt.ID] = tt

	ledgerID := "asset-" + tt.ID.String()
	asset := &models.Asset{ID: uuid.New(), TicketTypeID: tt.ID, BlockchainAssetID: &ledgerID}
	s.assets[asset.ID] = asset

	orgID := event.OrganizationID
	wallet := &models.Wallet{ID: uuid.New(), OrganizationID: &orgID, Name: "Org", SecretKey: "org-secret",
		PublicKey: "org-public-" + asset.ID.String(), IsDefault: true}
	s.wallets[wallet.ID] = wallet

	for i := 0; i < count; i++ {
		ti := &models.TicketInstance{ID: uuid.New(), AssetID: asset.ID, TokenID: int64(i), WalletID: wallet.ID,
			Status: models.TicketStatusAvailable}
		s.tickets[ti.ID] = ti
	}
	return s.fillTicketType(tt)
}

func (s *Store) SetSalesWindow(ticketTypeID uuid.UUID, start, end *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticketTypes[ticketTypeID].SalesStart = start
	s.ticketTypes[ticketTypeID].SalesEnd = end
}

func (s *Store) ClearLedgerAssetIDs(ticketTypeID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assets {
		if a.TicketTypeID == ticketTypeID {
			a.BlockchainAssetID = nil
		}
	}
}

func (s *Store) AddFeeRange(feeScheduleID uuid.UUID, minPrice, feeInCents int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeRanges = append(s.feeRanges, models.FeeScheduleRange{ID: uuid.New(), FeeScheduleID: feeScheduleID,
		MinPrice: minPrice, FeeInCents: feeInCents})
}

func (s *Store) AddHold(h models.Hold) *models.Hold {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	s.holds[h.ID] = &h
	copied := h
	return &copied
}

func (s *Store) GrantScope(userID, orgID uuid.UUID, scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[scopeKey{userID, orgID, scope}] = true
}

func (s *Store) AddPaymentMethod(pm models.PaymentMethod) *models.PaymentMethod {
	s.mu.Lock()
	defer s.mu.Unlock()
	pm.ID = uuid.New()
	pm.CreatedAt = s.stamp()
	s.paymentMethods[pm.ID] = &pm
	copied := pm
	return &copied
}

// SetOrderStatus forces an order into a status, bypassing the version lock.
func (s *Store) SetOrderStatus(orderID uuid.UUID, status models.OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[orderID].Status = status
}

// Inspection helpers.

func (s *Store) Order(id uuid.UUID) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orders[id]
}

func (s *Store) OrdersForUser(userID uuid.UUID) []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out
}

func (s *Store) Items(orderID uuid.UUID) []models.OrderItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderItems(orderID)
}

func (s *Store) Payments(orderID uuid.UUID) []models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderPayments(orderID)
}

func (s *Store) PaymentMethods(userID uuid.UUID) []models.PaymentMethod {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentMethod
	for _, pm := range s.paymentMethods {
		if pm.UserID == userID {
			out = append(out, *pm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) Tickets(itemID uuid.UUID) []models.TicketInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.itemTickets(itemID)
}

func (s *Store) User(id uuid.UUID) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[id]
}

func (s *Store) DefaultWallet(userID uuid.UUID) models.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, _ := s.userWallet(userID)
	return *w
}

func (s *Store) fillTicketType(tt *models.TicketType) *models.TicketType {
	copied := *tt
	if event, ok := s.events[tt.EventID]; ok {
		copied.EventStatus = event.Status
		copied.EventName = event.Name
		copied.OrganizationID = event.OrganizationID
		if org, ok := s.organizations[event.OrganizationID]; ok {
			copied.FeeScheduleID = org.FeeScheduleID
		}
	}
	return &copied
}

func (s *Store) orderItems(orderID uuid.UUID) []models.OrderItem {
	var out []models.OrderItem
	for _, item := range s.items {
		if item.OrderID == orderID {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) orderPayments(orderID uuid.UUID) []models.Payment {
	var out []models.Payment
	for _, p := range s.payments {
		if p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) itemTickets(itemID uuid.UUID) []models.TicketInstance {
	var out []models.TicketInstance
	for _, ti := range s.tickets {
		if ti.OrderItemID != nil && *ti.OrderItemID == itemID && ti.Status != models.TicketStatusAvailable {
			out = append(out, *ti)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

func (s *Store) userWallet(userID uuid.UUID) (*models.Wallet, bool) {
	var found *models.Wallet
	for _, w := range s.wallets {
		if w.UserID != nil && *w.UserID == userID {
			if found == nil || w.IsDefault {
				found = w
			}
		}
	}
	return found, found != nil
}

type tx struct {
	s    *Store
	undo []func()
	done bool
}

var _ store.Tx = (*tx)(nil)

func (t *tx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	t.undo = nil
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.s.Mutations -= len(t.undo)
	t.undo = nil
	return nil
}

// record must be called with the store lock held.
func (t *tx) record(undo func()) {
	t.s.Mutations++
	t.undo = append(t.undo, undo)
}

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, store.ErrNotFound)
}

func (t *tx) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	o, ok := t.s.orders[id]
	if !ok {
		return nil, notFound("order")
	}
	copied := *o
	return &copied, nil
}

func (t *tx) FindDraftOrderForUser(ctx context.Context, userID uuid.UUID) (*models.Order, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.draftOrder(userID)
}

func (t *tx) draftOrder(userID uuid.UUID) (*models.Order, error) {
	for _, o := range t.s.orders {
		if o.UserID == userID && o.Status == models.OrderStatusDraft {
			copied := *o
			return &copied, nil
		}
	}
	return nil, notFound("cart")
}

func (t *tx) CreateDraftOrder(ctx context.Context, userID uuid.UUID) (*models.Order, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if o, err := t.draftOrder(userID); err == nil {
		return o, nil
	}
	now := t.s.stamp()
	o := &models.Order{ID: uuid.New(), UserID: userID, Status: models.OrderStatusDraft, CreatedAt: now, UpdatedAt: now}
	t.s.orders[o.ID] = o
	t.record(func() { delete(t.s.orders, o.ID) })
	copied := *o
	return &copied, nil
}

func (t *tx) LockVersion(ctx context.Context, order *models.Order) error {
	if t.s.BeforeLockVersion != nil {
		t.s.BeforeLockVersion(order)
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	stored, ok := t.s.orders[order.ID]
	if !ok {
		return notFound("order")
	}
	if stored.Version != order.Version {
		return store.ErrConflict
	}
	prev := stored.Version
	stored.Version++
	t.record(func() { stored.Version = prev })
	order.Version = stored.Version
	return nil
}

func (t *tx) LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if t.s.BeforeLockOrder != nil {
		t.s.BeforeLockOrder(id)
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	stored, ok := t.s.orders[id]
	if !ok {
		return nil, notFound("order")
	}
	prev := stored.Version
	stored.Version++
	t.record(func() { stored.Version = prev })
	copied := *stored
	return &copied, nil
}

func (t *tx) UpdateOrder(ctx context.Context, order *models.Order) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	stored, ok := t.s.orders[order.ID]
	if !ok {
		return notFound("order")
	}
	prev := *stored
	version := stored.Version
	*stored = *order
	stored.Version = version
	stored.UpdatedAt = t.s.stamp()
	t.record(func() { *stored = prev })
	return nil
}

func (t *tx) OrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.orderItems(orderID), nil
}

func (t *tx) SaveOrderItem(ctx context.Context, item *models.OrderItem) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
		item.CreatedAt = t.s.stamp()
		item.UpdatedAt = item.CreatedAt
		stored := *item
		t.s.items[item.ID] = &stored
		id := item.ID
		t.record(func() { delete(t.s.items, id) })
		return nil
	}
	stored, ok := t.s.items[item.ID]
	if !ok {
		return notFound("order item")
	}
	prev := *stored
	*stored = *item
	t.record(func() { *stored = prev })
	return nil
}

func (t *tx) DeleteOrderItem(ctx context.Context, itemID uuid.UUID) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	stored, ok := t.s.items[itemID]
	if !ok {
		return nil
	}
	delete(t.s.items, itemID)
	t.record(func() { t.s.items[itemID] = stored })
	return nil
}

func (t *tx) FindTicketType(ctx context.Context, id uuid.UUID) (*models.TicketType, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	tt, ok := t.s.ticketTypes[id]
	if !ok {
		return nil, notFound("ticket type")
	}
	return t.s.fillTicketType(tt), nil
}

func sortedUUIDs(set map[uuid.UUID]bool) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (t *tx) OrganizationIDsForTicketTypes(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	set := map[uuid.UUID]bool{}
	for _, id := range ids {
		if tt, ok := t.s.ticketTypes[id]; ok {
			set[t.s.events[tt.EventID].OrganizationID] = true
		}
	}
	return sortedUUIDs(set), nil
}

func (t *tx) OrganizationIDsForEvents(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	set := map[uuid.UUID]bool{}
	for _, id := range ids {
		if e, ok := t.s.events[id]; ok {
			set[e.OrganizationID] = true
		}
	}
	return sortedUUIDs(set), nil
}

func (t *tx) FindHoldByCode(ctx context.Context, code string) (*models.Hold, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, h := range t.s.holds {
		if h.RedemptionCode == code {
			copied := *h
			return &copied, nil
		}
	}
	return nil, notFound("redemption code")
}

func (t *tx) FeeForPrice(ctx context.Context, feeScheduleID *uuid.UUID, priceInCents int64) (int64, error) {
	if feeScheduleID == nil {
		return 0, nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var best *models.FeeScheduleRange
	for i := range t.s.feeRanges {
		r := &t.s.feeRanges[i]
		if r.FeeScheduleID != *feeScheduleID || r.MinPrice > priceInCents {
			continue
		}
		if best == nil || r.MinPrice > best.MinPrice {
			best = r
		}
	}
	if best == nil {
		return 0, nil
	}
	return best.FeeInCents, nil
}

func (t *tx) FindAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	a, ok := t.s.assets[id]
	if !ok {
		return nil, notFound("asset")
	}
	copied := *a
	return &copied, nil
}

func (t *tx) FindWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	w, ok := t.s.wallets[id]
	if !ok {
		return nil, notFound("wallet")
	}
	copied := *w
	return &copied, nil
}

func (t *tx) DefaultWalletForUser(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	w, ok := t.s.userWallet(userID)
	if !ok {
		return nil, notFound("wallet")
	}
	copied := *w
	return &copied, nil
}

func (t *tx) TicketsForOrderItem(ctx context.Context, itemID uuid.UUID) ([]models.TicketInstance, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.itemTickets(itemID), nil
}

func (t *tx) saveTicket(ti *models.TicketInstance) {
	prev := *ti
	t.record(func() { *ti = prev })
}

func (t *tx) ReserveTickets(ctx context.Context, item *models.OrderItem, count int64, until time.Time) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	now := t.s.now()

	var candidates []*models.TicketInstance
	for _, ti := range t.s.tickets {
		held := ti.OrderItemID != nil && *ti.OrderItemID == item.ID
		if held && ti.Status == models.TicketStatusReserved {
			t.saveTicket(ti)
			u := until
			ti.ReservedUntil = &u
			continue
		}
		if t.s.assets[ti.AssetID].TicketTypeID != item.TicketTypeID {
			continue
		}
		expired := ti.Status == models.TicketStatusReserved && ti.ReservedUntil != nil && ti.ReservedUntil.Before(now)
		if ti.Status == models.TicketStatusAvailable || expired {
			candidates = append(candidates, ti)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].TokenID < candidates[j].TokenID })

	var reserved int64
	for _, ti := range candidates {
		if reserved >= count {
			break
		}
		t.saveTicket(ti)
		itemID := item.ID
		u := until
		ti.OrderItemID = &itemID
		ti.ReservedUntil = &u
		ti.Status = models.TicketStatusReserved
		reserved++
	}
	return reserved, nil
}

func (t *tx) ReleaseTickets(ctx context.Context, itemID uuid.UUID, keep int64) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	held := t.s.itemTickets(itemID)
	for i, ti := range held {
		if int64(i) < keep || ti.Status != models.TicketStatusReserved {
			continue
		}
		stored := t.s.tickets[ti.ID]
		t.saveTicket(stored)
		stored.OrderItemID = nil
		stored.ReservedUntil = nil
		stored.Status = models.TicketStatusAvailable
	}
	return nil
}

func (t *tx) MarkTicketsPurchased(ctx context.Context, orderID, walletID uuid.UUID) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, item := range t.s.orderItems(orderID) {
		for _, ti := range t.s.itemTickets(item.ID) {
			if ti.Status != models.TicketStatusReserved {
				continue
			}
			stored := t.s.tickets[ti.ID]
			t.saveTicket(stored)
			stored.Status = models.TicketStatusPurchased
			stored.ReservedUntil = nil
			stored.WalletID = walletID
		}
	}
	return nil
}

func (t *tx) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	u, ok := t.s.users[id]
	if !ok {
		return nil, notFound("user")
	}
	copied := *u
	return &copied, nil
}

func (t *tx) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, u := range t.s.users {
		if u.Email != nil && strings.EqualFold(*u.Email, email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, notFound("user")
}

func (t *tx) FindUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, u := range t.s.users {
		if u.Phone != nil && *u.Phone == phone {
			copied := *u
			return &copied, nil
		}
	}
	return nil, notFound("user")
}

func (t *tx) CreateStubUser(ctx context.Context, user *models.User) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	user.ID = uuid.New()
	user.IsStub = true
	user.CreatedAt = t.s.stamp()
	stored := *user
	t.s.users[user.ID] = &stored
	id := user.ID
	t.record(func() { delete(t.s.users, id) })
	return nil
}

func (t *tx) HasScope(ctx context.Context, userID, organizationID uuid.UUID, scope string) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.scopes[scopeKey{userID, organizationID, scope}], nil
}

func (t *tx) FindPaymentMethod(ctx context.Context, userID uuid.UUID, name string) (*models.PaymentMethod, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, pm := range t.s.paymentMethods {
		if pm.UserID == userID && pm.Name == name {
			copied := *pm
			return &copied, nil
		}
	}
	return nil, notFound("payment method")
}

func (t *tx) DefaultPaymentMethod(ctx context.Context, userID uuid.UUID) (*models.PaymentMethod, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, pm := range t.s.paymentMethods {
		if pm.UserID == userID && pm.IsDefault {
			copied := *pm
			return &copied, nil
		}
	}
	return nil, notFound("default payment method")
}

func (t *tx) SavePaymentMethod(ctx context.Context, method *models.PaymentMethod) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if method.ID == uuid.Nil {
		method.ID = uuid.New()
		method.CreatedAt = t.s.stamp()
		method.UpdatedAt = method.CreatedAt
		stored := *method
		t.s.paymentMethods[method.ID] = &stored
		id := method.ID
		t.record(func() { delete(t.s.paymentMethods, id) })
	} else {
		stored, ok := t.s.paymentMethods[method.ID]
		if !ok {
			return notFound("payment method")
		}
		prev := *stored
		*stored = *method
		t.record(func() { *stored = prev })
	}

	if method.IsDefault {
		for id, pm := range t.s.paymentMethods {
			if pm.UserID == method.UserID && id != method.ID && pm.IsDefault {
				pm.IsDefault = false
				other := pm
				t.record(func() { other.IsDefault = true })
			}
		}
	}
	return nil
}

func (t *tx) CreatePayment(ctx context.Context, payment *models.Payment) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.CreatePaymentErr != nil {
		return t.s.CreatePaymentErr
	}
	payment.ID = uuid.New()
	payment.CreatedAt = t.s.stamp()
	payment.UpdatedAt = payment.CreatedAt
	stored := *payment
	t.s.payments[payment.ID] = &stored
	id := payment.ID
	t.record(func() { delete(t.s.payments, id) })
	return nil
}

func (t *tx) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	stored, ok := t.s.payments[payment.ID]
	if !ok {
		return notFound("payment")
	}
	prev := *stored
	*stored = *payment
	stored.UpdatedAt = t.s.stamp()
	t.record(func() { *stored = prev })
	return nil
}

func (t *tx) FindPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.payments[id]
	if !ok {
		return nil, notFound("payment")
	}
	copied := *p
	return &copied, nil
}

func (t *tx) PaymentsForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.orderPayments(orderID), nil
}

func (t *tx) FindPaymentByReference(ctx context.Context, provider, reference string) (*models.Payment, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, p := range t.s.payments {
		if p.Provider == provider && p.ExternalReference != nil && *p.ExternalReference == reference {
			copied := *p
			return &copied, nil
		}
	}
	return nil, notFound("payment")
}
