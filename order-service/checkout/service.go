// Package checkout turns a draft order into a paid one. It drives the
// payment processor, compensates failed charges with a refund and moves the
// ticket tokens on the ledger once payment is confirmed.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sdbondi/bn-api/order-service/cart"
	"github.com/sdbondi/bn-api/order-service/errs"
	"github.com/sdbondi/bn-api/order-service/ledger"
	"github.com/sdbondi/bn-api/order-service/middleware"
	"github.com/sdbondi/bn-api/order-service/models"
	"github.com/sdbondi/bn-api/order-service/payments"
	"github.com/sdbondi/bn-api/order-service/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const defaultCallTimeout = 30 * time.Second

// EventPublisher receives order lifecycle events. Publishing is best-effort.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent) error
	PublishPurchaseCompleted(ctx context.Context, event models.PurchaseCompletedEvent) error
}

// NotificationGuard remembers provider notifications already handled.
type NotificationGuard interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

type Config struct {
	Currency    string
	FrontEndURL string
	// IPNBaseURL of "test" sends redirect payments without an IPN URL.
	IPNBaseURL          string
	ExternalCallTimeout time.Duration
}

type Service struct {
	store      store.Beginner
	processors *payments.Registry
	ledger     ledger.Transferer
	events     EventPublisher
	guard      NotificationGuard
	cfg        Config
	now        func() time.Time
	logger     *zap.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithNotificationGuard(guard NotificationGuard) Option {
	return func(s *Service) { s.guard = guard }
}

func NewService(
	cfg Config,
	s store.Beginner,
	processors *payments.Registry,
	l ledger.Transferer,
	events EventPublisher,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	if cfg.ExternalCallTimeout <= 0 {
		cfg.ExternalCallTimeout = defaultCallTimeout
	}
	svc := &Service{
		store:      s,
		processors: processors,
		ledger:     l,
		events:     events,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// attempt carries the state of one checkout through the payment paths.
type attempt struct {
	tx        store.Tx
	order     *models.Order
	userID    uuid.UUID
	items     []models.OrderItem
	total     int64
	transfers []transferBatch
	wallet    *models.Wallet
	// paid is set once the order reached paid in this attempt.
	paid     bool
	provider string
}

// Checkout pays for the order with req. Authorization, state and input
// errors are returned before any payment provider is called.
func (s *Service) Checkout(ctx context.Context, orderID, userID uuid.UUID, req PaymentRequest) (view *models.DisplayOrder, err error) {
	method := MethodName(req)
	ctx, span := otel.Tracer("order-service").Start(ctx, "Checkout")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.String("payment.method", method),
	)

	defer func() {
		outcome := "success"
		if err != nil {
			outcome = errs.KindOf(err).String()
			span.RecordError(err)
		}
		middleware.RecordCheckout(method, outcome)
	}()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	a, err := s.prepare(ctx, tx, orderID, userID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("order.total_in_cents", a.total))

	switch r := req.(type) {
	case Free:
		err = s.checkoutFree(ctx, a)
	case External:
		err = s.checkoutExternal(ctx, a, r)
	case Card:
		err = s.checkoutCard(ctx, a, r)
	case Provider:
		err = s.checkoutProvider(ctx, a, r)
	case PaymentMethod:
		err = s.checkoutPaymentMethod(ctx, a, r)
	default:
		err = errs.Validation(fmt.Sprintf("unsupported payment method %T", req))
	}
	if err != nil {
		s.logger.Warn("Checkout failed",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("order_id", orderID.String()),
			zap.String("method", method),
			zap.Error(err),
		)
		return nil, err
	}

	if a.paid {
		provider := a.provider
		if provider == "" {
			provider = method
		}
		s.publish(ctx, models.OrderEvent{
			OrderID:       orderID,
			UserID:        userID,
			Status:        models.OrderStatusPaid,
			AmountInCents: a.total,
			Provider:      provider,
			EventType:     "order_paid",
		})
		if err := s.fulfil(context.WithoutCancel(ctx), orderID, a.transfers); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Checkout completed",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("order_id", orderID.String()),
		zap.String("method", method),
		zap.Int64("total_in_cents", a.total),
		zap.Bool("paid", a.paid),
	)
	return s.display(ctx, orderID)
}

// prepare checks the order can be checked out and locks it. Nothing is
// written before the version lock.
func (s *Service) prepare(ctx context.Context, tx store.Tx, orderID, userID uuid.UUID) (*attempt, error) {
	order, err := tx.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, errs.Forbidden("Order does not belong to user")
	}
	if order.Status != models.OrderStatusDraft {
		return nil, errs.InvalidState(fmt.Sprintf("Order is %s and can no longer be checked out", order.Status))
	}

	items, err := tx.OrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errs.Unprocessable("Cart is empty")
	}
	invalid, err := cart.InvalidItems(ctx, tx, items, s.now())
	if err != nil {
		return nil, err
	}
	if len(invalid) > 0 {
		return nil, errs.Unprocessable("Some tickets in the cart are no longer available")
	}

	transfers, err := gatherTransfers(ctx, tx, items)
	if err != nil {
		return nil, err
	}
	wallet, err := tx.DefaultWalletForUser(ctx, order.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.Internal("Purchaser has no wallet", err)
		}
		return nil, err
	}

	if err := ensureNoPaymentInFlight(ctx, tx, order.ID); err != nil {
		return nil, err
	}
	if err := tx.LockVersion(ctx, order); err != nil {
		return nil, err
	}

	return &attempt{
		tx:        tx,
		order:     order,
		userID:    userID,
		items:     items,
		total:     models.CalculateTotal(items),
		transfers: transfers,
		wallet:    wallet,
	}, nil
}

func ensureNoPaymentInFlight(ctx context.Context, tx store.Tx, orderID uuid.UUID) error {
	existing, err := tx.PaymentsForOrder(ctx, orderID)
	if err != nil {
		return err
	}
	for _, p := range existing {
		if p.Status == models.PaymentStatusAuthorized {
			return store.ErrConflict
		}
	}
	return nil
}

// markPaid settles the order and its tickets inside tx.
func (s *Service) markPaid(ctx context.Context, tx store.Tx, order *models.Order, walletID uuid.UUID) error {
	order.MarkPaid(s.now())
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return err
	}
	return tx.MarkTicketsPurchased(ctx, order.ID, walletID)
}

func (s *Service) checkoutFree(ctx context.Context, a *attempt) error {
	if a.total != 0 {
		return errs.Unprocessable("Could not complete this cart because it is not free")
	}

	payment := &models.Payment{
		OrderID:       a.order.ID,
		CreatedBy:     a.userID,
		Status:        models.PaymentStatusCompleted,
		PaymentMethod: models.PaymentMethodFree,
		Provider:      "Free",
		AmountInCents: 0,
		ProviderData:  []byte(`{}`),
	}
	if err := a.tx.CreatePayment(ctx, payment); err != nil {
		return err
	}
	if err := s.markPaid(ctx, a.tx, a.order, a.wallet.ID); err != nil {
		return err
	}
	if err := a.tx.Commit(); err != nil {
		return err
	}
	a.paid = true
	return nil
}

func (s *Service) checkoutExternal(ctx context.Context, a *attempt, r External) error {
	eventIDs := make([]uuid.UUID, 0, len(a.items))
	for _, item := range a.items {
		eventIDs = append(eventIDs, item.EventID)
	}
	orgIDs, err := a.tx.OrganizationIDsForEvents(ctx, eventIDs)
	if err != nil {
		return err
	}
	ok, err := store.HasScopeForAll(ctx, a.tx, a.userID, orgIDs, models.ScopeOrderMakeExternalPayment)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Forbidden("User cannot record external payments for this organization")
	}
	if r.FirstName == "" || r.LastName == "" {
		return errs.Validation("First and last name are required for external payments")
	}

	guest, err := resolveGuest(ctx, a.tx, r)
	if err != nil {
		return err
	}

	a.order.OnBehalfOfUserID = &guest.ID
	a.order.Note = r.Note

	payment := &models.Payment{
		OrderID:           a.order.ID,
		CreatedBy:         a.userID,
		Status:            models.PaymentStatusCompleted,
		PaymentMethod:     models.PaymentMethodExternal,
		Provider:          "External",
		ExternalReference: r.Reference,
		AmountInCents:     a.total,
		ProviderData:      []byte(`{}`),
	}
	if err := a.tx.CreatePayment(ctx, payment); err != nil {
		return err
	}
	if err := s.markPaid(ctx, a.tx, a.order, a.wallet.ID); err != nil {
		return err
	}
	if err := a.tx.Commit(); err != nil {
		return err
	}
	a.paid = true

	s.logger.Info("External payment recorded",
		zap.String("order_id", a.order.ID.String()),
		zap.String("guest_id", guest.ID.String()),
	)
	return nil
}

// resolveGuest finds the guest by email, then by phone, and otherwise creates
// a stub user for them.
func resolveGuest(ctx context.Context, tx store.Tx, r External) (*models.User, error) {
	if r.Email != nil {
		u, err := tx.FindUserByEmail(ctx, *r.Email)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	if r.Phone != nil {
		u, err := tx.FindUserByPhone(ctx, *r.Phone)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	first, last := r.FirstName, r.LastName
	guest := &models.User{FirstName: &first, LastName: &last, Email: r.Email, Phone: r.Phone}
	if err := tx.CreateStubUser(ctx, guest); err != nil {
		return nil, err
	}
	return guest, nil
}

func (s *Service) checkoutCard(ctx context.Context, a *attempt, r Card) error {
	if r.Token == "" {
		return errs.Unprocessable("Missing payment token")
	}
	processor, err := s.processors.Get(r.Provider)
	if err != nil {
		return err
	}
	b, ok := processor.Behavior().(payments.AuthThenComplete)
	if !ok {
		if r.SavePaymentMethod {
			return errs.Unprocessable(fmt.Sprintf("%s does not support saved cards", processor.Name()))
		}
		return s.pay(ctx, a, processor, nil)
	}

	token := r.Token
	if r.SavePaymentMethod {
		token, err = s.saveCard(ctx, a, processor.Name(), b.Client, r)
		if err != nil {
			return err
		}
	}
	return s.authThenComplete(ctx, a, processor, b.Client, token)
}

// saveCard stores the card as a repeat-charge token and returns the token to
// charge.
func (s *Service) saveCard(ctx context.Context, a *attempt, provider string, client payments.AuthThenCompleteClient, r Card) (string, error) {
	user, err := a.tx.FindUser(ctx, a.userID)
	if err != nil {
		return "", err
	}
	description := fmt.Sprintf("Customer for user %s", user.ID)
	if user.Email != nil {
		description = fmt.Sprintf("Customer for %s", *user.Email)
	}

	method, err := a.tx.FindPaymentMethod(ctx, a.userID, provider)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ExternalCallTimeout)
	defer cancel()

	if method != nil {
		token, err := client.UpdateRepeatToken(callCtx, method.Provider, r.Token, description)
		if err != nil {
			return "", err
		}
		method.Provider = token.Token
		method.ProviderData = token.Raw
		method.IsDefault = method.IsDefault || r.SetDefault
		if err := a.tx.SavePaymentMethod(ctx, method); err != nil {
			return "", err
		}
		return token.Token, nil
	}

	token, err := client.CreateTokenForRepeatCharges(callCtx, r.Token, description)
	if err != nil {
		return "", err
	}
	method = &models.PaymentMethod{
		UserID:       a.userID,
		Name:         provider,
		Provider:     token.Token,
		IsDefault:    r.SetDefault,
		ProviderData: token.Raw,
	}
	if err := a.tx.SavePaymentMethod(ctx, method); err != nil {
		return "", err
	}
	return token.Token, nil
}

func (s *Service) checkoutProvider(ctx context.Context, a *attempt, r Provider) error {
	processor, err := s.processors.Get(r.Provider)
	if err != nil {
		return err
	}
	return s.pay(ctx, a, processor, nil)
}

func (s *Service) checkoutPaymentMethod(ctx context.Context, a *attempt, r PaymentMethod) error {
	var method *models.PaymentMethod
	var err error
	if r.Provider == nil {
		method, err = a.tx.DefaultPaymentMethod(ctx, a.userID)
		if errors.Is(err, store.ErrNotFound) {
			return errs.Unprocessable("User has no default payment method")
		}
	} else {
		method, err = a.tx.FindPaymentMethod(ctx, a.userID, *r.Provider)
		if errors.Is(err, store.ErrNotFound) {
			return errs.Unprocessable(fmt.Sprintf("No stored payment method for %s", *r.Provider))
		}
	}
	if err != nil {
		return err
	}

	processor, err := s.processors.Get(method.Name)
	if err != nil {
		return err
	}
	return s.pay(ctx, a, processor, method)
}

// pay dispatches on the processor's behavior. AuthThenComplete processors
// charge the stored method, looked up by provider name when not given.
func (s *Service) pay(ctx context.Context, a *attempt, processor payments.Processor, method *models.PaymentMethod) error {
	switch b := processor.Behavior().(type) {
	case payments.AuthThenComplete:
		if method == nil {
			var err error
			method, err = a.tx.FindPaymentMethod(ctx, a.userID, processor.Name())
			if errors.Is(err, store.ErrNotFound) {
				return errs.Unprocessable(fmt.Sprintf("No stored payment method for %s", processor.Name()))
			}
			if err != nil {
				return err
			}
		}
		return s.authThenComplete(ctx, a, processor, b.Client, method.Provider)
	case payments.RedirectToPaymentPage:
		return s.redirectToPaymentPage(ctx, a, processor, b.Client)
	default:
		return errs.Configuration(fmt.Sprintf("%s has an unsupported payment behavior", processor.Name()))
	}
}

// Order returns the display view of an order owned by userID.
func (s *Service) Order(ctx context.Context, orderID, userID uuid.UUID) (*models.DisplayOrder, error) {
	view, err := s.display(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if view.UserID != userID && (view.OnBehalfOfUserID == nil || *view.OnBehalfOfUserID != userID) {
		return nil, errs.Forbidden("Order does not belong to user")
	}
	return view, nil
}

func (s *Service) display(ctx context.Context, orderID uuid.UUID) (*models.DisplayOrder, error) {
	tx, err := s.store.Begin(ctx)
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

func (s *Service) publish(ctx context.Context, event models.OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger.Warn("Failed to publish order event",
			zap.String("event_type", event.EventType),
			zap.String("order_id", event.OrderID.String()),
			zap.Error(err),
		)
	}
}
