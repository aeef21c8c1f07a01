package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sdbondi/bn-api/order-service/errs"
	"github.com/sdbondi/bn-api/order-service/middleware"
	"github.com/sdbondi/bn-api/order-service/models"
	"github.com/sdbondi/bn-api/order-service/payments"
	"github.com/sdbondi/bn-api/order-service/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func (s *Service) successURL(eventID uuid.UUID) string {
	return fmt.Sprintf("%s/events/%s/tickets/success", strings.TrimRight(s.cfg.FrontEndURL, "/"), eventID)
}

func (s *Service) cancelURL(eventID uuid.UUID) string {
	return fmt.Sprintf("%s/events/%s/tickets/confirmation", strings.TrimRight(s.cfg.FrontEndURL, "/"), eventID)
}

// ipnURL is nil when IPNs are disabled for local testing.
func (s *Service) ipnURL(provider string) *string {
	if strings.EqualFold(s.cfg.IPNBaseURL, "test") || s.cfg.IPNBaseURL == "" {
		return nil
	}
	u := fmt.Sprintf("%s/ipns/%s", strings.TrimRight(s.cfg.IPNBaseURL, "/"), provider)
	return &u
}

func externalReference(provider, id string) string {
	return provider + "-" + id
}

// redirectToPaymentPage creates a payment request with the provider and
// leaves the order pending until the provider reports the outcome.
func (s *Service) redirectToPaymentPage(ctx context.Context, a *attempt, processor payments.Processor, client payments.RedirectClient) error {
	ctx, span := otel.Tracer("order-service").Start(ctx, "RedirectToPaymentPage")
	defer span.End()
	span.SetAttributes(attribute.String("payment.provider", processor.Name()))

	beneficiary, err := a.tx.FindUser(ctx, a.order.BeneficiaryID())
	if err != nil {
		return err
	}
	if beneficiary.Email == nil {
		return errs.Unprocessable("An email address is required to pay with " + processor.Name())
	}
	eventID, _ := models.MainEventID(a.items)
	success, cancelURL := s.successURL(eventID), s.cancelURL(eventID)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ExternalCallTimeout)
	result, err := client.CreatePaymentRequest(callCtx, payments.PaymentRequest{
		Amount:     payments.CentsToDecimal(a.total),
		Currency:   s.cfg.Currency,
		Email:      *beneficiary.Email,
		OrderID:    a.order.ID,
		IPNURL:     s.ipnURL(processor.Name()),
		SuccessURL: &success,
		CancelURL:  &cancelURL,
	})
	cancel()
	if err != nil {
		return err
	}

	a.order.Status = models.OrderStatusPendingPayment
	a.order.CheckoutURL = &result.RedirectURL
	a.order.CheckoutURLExpires = result.ExpiresAt
	if err := a.tx.UpdateOrder(ctx, a.order); err != nil {
		return err
	}

	reference := externalReference(processor.Name(), result.ID)
	nonce := uuid.NewString()
	payment := &models.Payment{
		OrderID:           a.order.ID,
		CreatedBy:         a.userID,
		Status:            models.PaymentStatusRequested,
		PaymentMethod:     models.PaymentMethodProvider,
		Provider:          processor.Name(),
		ExternalReference: &reference,
		AmountInCents:     a.total,
		ProviderData:      result.Raw,
		URLNonce:          &nonce,
	}
	if err := a.tx.CreatePayment(ctx, payment); err != nil {
		return err
	}
	if err := a.tx.Commit(); err != nil {
		return err
	}

	s.logger.Info("Payment requested",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("order_id", a.order.ID.String()),
		zap.String("provider", processor.Name()),
		zap.String("reference", reference),
	)
	s.publish(ctx, models.OrderEvent{
		OrderID:       a.order.ID,
		UserID:        a.order.UserID,
		Status:        models.OrderStatusPendingPayment,
		AmountInCents: a.total,
		Provider:      processor.Name(),
		EventType:     "payment_requested",
	})
	return nil
}

type callbackRecord struct {
	Path  string            `json:"path"`
	Query map[string]string `json:"query"`
}

// PaymentCallback handles the buyer returning from a hosted payment page and
// returns the front end URL to redirect to. A cancelled payment returns the
// order to the cart.
func (s *Service) PaymentCallback(ctx context.Context, orderID uuid.UUID, nonce string, success bool) (string, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	order, err := tx.FindOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	existing, err := tx.PaymentsForOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	var payment *models.Payment
	for i := range existing {
		if existing[i].URLNonce != nil && *existing[i].URLNonce == nonce {
			payment = &existing[i]
			break
		}
	}
	if payment == nil {
		return "", errs.NotFound("Payment not found")
	}

	items, err := tx.OrderItems(ctx, orderID)
	if err != nil {
		return "", err
	}
	eventID, _ := models.MainEventID(items)

	if success {
		return s.successURL(eventID), nil
	}

	if payment.Status == models.PaymentStatusRequested {
		record, err := json.Marshal(callbackRecord{
			Path:  fmt.Sprintf("/payments/callback/%s/%s", orderID, nonce),
			Query: map[string]string{"success": "false"},
		})
		if err != nil {
			return "", errs.Internal("Could not record callback", err)
		}
		payment.MarkCancelled(record, nil)
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return "", err
		}
	}
	if order.Status == models.OrderStatusPendingPayment {
		if err := tx.LockVersion(ctx, order); err != nil {
			return "", err
		}
		order.ResetToDraft()
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	s.logger.Info("Payment cancelled by buyer",
		zap.String("order_id", orderID.String()),
		zap.String("payment_id", payment.ID.String()),
	)
	return s.cancelURL(eventID), nil
}

// HandleNotification processes an IPN for providerName. The body is only used
// to find the payment request; its status is always fetched from the
// provider.
func (s *Service) HandleNotification(ctx context.Context, providerName string, body []byte) error {
	ctx, span := otel.Tracer("order-service").Start(ctx, "HandleNotification")
	defer span.End()
	span.SetAttributes(attribute.String("payment.provider", providerName))

	processor, err := s.processors.Get(providerName)
	if err != nil {
		return errs.NotFound(fmt.Sprintf("Unknown payment provider %q", providerName))
	}
	b, ok := processor.Behavior().(payments.RedirectToPaymentPage)
	if !ok {
		return errs.Configuration(fmt.Sprintf("%s does not send payment notifications", providerName))
	}

	note, err := b.Client.ParseNotification(body)
	if err != nil {
		middleware.RecordNotification(providerName, "invalid")
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ExternalCallTimeout)
	verified, err := b.Client.VerifyNotification(callCtx, note.ExternalID)
	cancel()
	if err != nil {
		return err
	}

	logger := s.logger.With(
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("provider", providerName),
		zap.String("external_id", verified.ExternalID),
		zap.String("status", string(verified.Status)),
	)

	if verified.Status == payments.NotificationPending {
		middleware.RecordNotification(providerName, string(verified.Status))
		logger.Debug("Payment still pending")
		return nil
	}

	key := fmt.Sprintf("ipn:%s:%s:%s", providerName, verified.ExternalID, verified.Status)
	guarded := false
	if s.guard != nil {
		first, err := s.guard.FirstSeen(ctx, key)
		switch {
		case err != nil:
			logger.Warn("Notification dedup unavailable, processing anyway", zap.Error(err))
		case !first:
			middleware.RecordNotification(providerName, "duplicate")
			logger.Info("Duplicate notification ignored")
			return nil
		default:
			guarded = true
		}
	}

	// The provider has settled the payment; finish recording it regardless
	// of the caller.
	ctx = context.WithoutCancel(ctx)

	switch verified.Status {
	case payments.NotificationCompleted:
		err = s.completeRedirectPayment(ctx, providerName, verified, logger)
	case payments.NotificationCancelled:
		err = s.cancelRedirectPayment(ctx, providerName, verified, logger)
	}
	if err != nil {
		span.RecordError(err)
		// Let the provider's retry through.
		if guarded {
			if ferr := s.guard.Forget(ctx, key); ferr != nil {
				logger.Warn("Could not clear notification dedup key", zap.Error(ferr))
			}
		}
		return err
	}
	middleware.RecordNotification(providerName, string(verified.Status))
	return nil
}

func (s *Service) findRedirectPayment(ctx context.Context, tx store.Tx, provider, externalID string) (*models.Payment, *models.Order, error) {
	payment, err := tx.FindPaymentByReference(ctx, provider, externalReference(provider, externalID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, errs.NotFound("No payment for this notification")
		}
		return nil, nil, err
	}
	order, err := tx.FindOrder(ctx, payment.OrderID)
	if err != nil {
		return nil, nil, err
	}
	return payment, order, nil
}

func (s *Service) completeRedirectPayment(ctx context.Context, provider string, verified *payments.VerifiedNotification, logger *zap.Logger) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	payment, order, err := s.findRedirectPayment(ctx, tx, provider, verified.ExternalID)
	if err != nil {
		return err
	}
	if payment.Status == models.PaymentStatusCompleted {
		logger.Info("Payment already completed")
		return nil
	}
	if payment.Status != models.PaymentStatusRequested || order.Status != models.OrderStatusPendingPayment {
		logger.Error("Payment completed for an order that is no longer awaiting it, manual reconciliation required",
			zap.String("order_id", order.ID.String()),
			zap.String("order_status", string(order.Status)),
			zap.String("payment_status", string(payment.Status)),
		)
		return errs.InvalidState(fmt.Sprintf("Order is %s and payment is %s", order.Status, payment.Status))
	}

	if err := tx.LockVersion(ctx, order); err != nil {
		return err
	}
	items, err := tx.OrderItems(ctx, order.ID)
	if err != nil {
		return err
	}
	if total := models.CalculateTotal(items); total != payment.AmountInCents {
		logger.Error("Payment amount does not match the order total, manual reconciliation required",
			zap.String("order_id", order.ID.String()),
			zap.Int64("amount_in_cents", payment.AmountInCents),
			zap.Int64("order_total_in_cents", total),
		)
		return errs.InvalidState(fmt.Sprintf("Order total is %d cents but %d cents were paid", total, payment.AmountInCents))
	}
	transfers, err := gatherTransfers(ctx, tx, items)
	if err != nil {
		return err
	}
	wallet, err := tx.DefaultWalletForUser(ctx, order.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errs.Internal("Purchaser has no wallet", err)
		}
		return err
	}

	payment.MarkComplete(verified.Raw)
	if err := tx.UpdatePayment(ctx, payment); err != nil {
		return err
	}
	order.CheckoutURL = nil
	order.CheckoutURLExpires = nil
	if err := s.markPaid(ctx, tx, order, wallet.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info("Redirect payment completed", zap.String("order_id", order.ID.String()))

	s.publish(ctx, models.OrderEvent{
		OrderID:       order.ID,
		UserID:        order.UserID,
		Status:        models.OrderStatusPaid,
		AmountInCents: payment.AmountInCents,
		Provider:      provider,
		EventType:     "order_paid",
	})
	return s.fulfil(ctx, order.ID, transfers)
}

func (s *Service) cancelRedirectPayment(ctx context.Context, provider string, verified *payments.VerifiedNotification, logger *zap.Logger) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	payment, order, err := s.findRedirectPayment(ctx, tx, provider, verified.ExternalID)
	if err != nil {
		return err
	}
	switch payment.Status {
	case models.PaymentStatusCompleted:
		logger.Warn("Cancellation received for a completed payment, ignoring",
			zap.String("payment_id", payment.ID.String()))
		return nil
	case models.PaymentStatusCancelled:
		return nil
	}

	payment.MarkCancelled(verified.Raw, nil)
	if err := tx.UpdatePayment(ctx, payment); err != nil {
		return err
	}
	if order.Status == models.OrderStatusPendingPayment {
		if err := tx.LockVersion(ctx, order); err != nil {
			return err
		}
		order.ResetToDraft()
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info("Redirect payment cancelled", zap.String("order_id", order.ID.String()))
	return nil
}
