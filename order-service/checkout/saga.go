package checkout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sdbondi/bn-api/order-service/errs"
	"github.com/sdbondi/bn-api/order-service/middleware"
	"github.com/sdbondi/bn-api/order-service/models"
	"github.com/sdbondi/bn-api/order-service/payments"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// authThenComplete authorizes the charge, records it, then captures it in a
// second transaction. Once the processor holds an authorization every exit
// either completes the payment or refunds the charge.
func (s *Service) authThenComplete(ctx context.Context, a *attempt, processor payments.Processor, client payments.AuthThenCompleteClient, token string) error {
	ctx, span := otel.Tracer("order-service").Start(ctx, "AuthThenComplete")
	defer span.End()
	span.SetAttributes(attribute.String("payment.provider", processor.Name()))

	logger := s.logger.With(
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("order_id", a.order.ID.String()),
		zap.String("provider", processor.Name()),
	)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ExternalCallTimeout)
	auth, err := client.Auth(callCtx, token, a.total, s.cfg.Currency,
		fmt.Sprintf("Tickets for order %s", a.order.ID),
		map[string]string{
			"order_id": a.order.ID.String(),
			"user_id":  a.userID.String(),
		})
	cancel()
	if err != nil {
		logger.Warn("Charge authorization failed", zap.Error(err))
		return err
	}
	span.SetAttributes(attribute.String("payment.charge_id", auth.ID))

	// The request may be abandoned now but the charge still has to be settled.
	ctx = context.WithoutCancel(ctx)

	chargeID := auth.ID
	payment := &models.Payment{
		OrderID:           a.order.ID,
		CreatedBy:         a.userID,
		Status:            models.PaymentStatusAuthorized,
		PaymentMethod:     models.PaymentMethodCreditCard,
		Provider:          processor.Name(),
		ExternalReference: &chargeID,
		AmountInCents:     a.total,
		ProviderData:      auth.Raw,
	}
	if err := a.tx.CreatePayment(ctx, payment); err != nil {
		return s.compensate(ctx, processor, chargeID, nil, err)
	}
	if err := a.tx.Commit(); err != nil {
		return s.compensate(ctx, processor, chargeID, nil, err)
	}
	logger.Info("Charge authorized", zap.String("charge_id", chargeID), zap.Int64("amount_in_cents", a.total))

	callCtx, cancel = context.WithTimeout(ctx, s.cfg.ExternalCallTimeout)
	charge, err := client.CompleteAuthedCharge(callCtx, chargeID)
	cancel()
	if err != nil {
		logger.Warn("Charge capture failed", zap.String("charge_id", chargeID), zap.Error(err))
		return s.compensate(ctx, processor, chargeID, payment, err)
	}

	payment.MarkComplete(charge.Raw)
	if err := s.settleCapturedPayment(ctx, a, payment); err != nil {
		logger.Error("Could not record captured charge", zap.String("charge_id", chargeID), zap.Error(err))
		return s.compensate(ctx, processor, chargeID, payment, err)
	}
	a.paid = true
	a.provider = processor.Name()
	return nil
}

// settleCapturedPayment completes the payment and pays the order in one
// transaction.
func (s *Service) settleCapturedPayment(ctx context.Context, a *attempt, payment *models.Payment) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// The authorized payment keeps other checkouts and cart edits off the
	// order, so settlement waits for the row lock instead of failing fast.
	order, err := tx.LockOrder(ctx, a.order.ID)
	if err != nil {
		return err
	}
	if order.Status != models.OrderStatusDraft {
		return errs.InvalidState(fmt.Sprintf("Order is %s and can no longer be paid", order.Status))
	}
	items, err := tx.OrderItems(ctx, order.ID)
	if err != nil {
		return err
	}
	if total := models.CalculateTotal(items); total != payment.AmountInCents {
		return errs.InvalidState(fmt.Sprintf("Order total changed to %d cents while %d cents were charged",
			total, payment.AmountInCents))
	}
	if err := tx.UpdatePayment(ctx, payment); err != nil {
		return err
	}
	if err := s.markPaid(ctx, tx, order, a.wallet.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	a.order = order
	return nil
}

type refundRecord struct {
	RefundID string          `json:"refund_id"`
	Reason   string          `json:"reason"`
	Response json.RawMessage `json:"response,omitempty"`
}

// compensate refunds chargeID after cause interrupted the checkout. payment
// is the durable record of the charge, if one was committed. It returns
// cause, or a RefundError when the refund itself fails.
func (s *Service) compensate(ctx context.Context, processor payments.Processor, chargeID string, payment *models.Payment, cause error) error {
	logger := s.logger.With(
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("provider", processor.Name()),
		zap.String("charge_id", chargeID),
	)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ExternalCallTimeout)
	refund, err := processor.Refund(callCtx, chargeID)
	cancel()
	if err != nil {
		middleware.RecordRefund("failed")
		logger.Error("REFUND FAILED: charge is held without a completed payment, manual reconciliation required",
			zap.NamedError("cause", cause),
			zap.NamedError("refund_error", err),
		)
		return errs.RefundFailed(chargeID, cause, err)
	}
	middleware.RecordRefund("succeeded")
	logger.Warn("Charge refunded", zap.String("refund_id", refund.ID), zap.NamedError("cause", cause))

	if payment == nil {
		return cause
	}

	record, err := json.Marshal(refundRecord{RefundID: refund.ID, Reason: cause.Error(), Response: refund.Raw})
	if err != nil {
		logger.Error("Could not encode refund record", zap.Error(err))
		return cause
	}
	if err := s.recordRefund(ctx, payment, record); err != nil {
		logger.Error("Refund succeeded but could not be recorded on the payment",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
		return cause
	}

	s.publish(ctx, models.OrderEvent{
		OrderID:       payment.OrderID,
		UserID:        payment.CreatedBy,
		Status:        models.OrderStatusDraft,
		AmountInCents: payment.AmountInCents,
		Provider:      processor.Name(),
		EventType:     "payment_refunded",
	})
	return cause
}

// recordRefund cancels the payment in its own transaction. The order stays
// in draft.
func (s *Service) recordRefund(ctx context.Context, payment *models.Payment, record json.RawMessage) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := tx.FindPayment(ctx, payment.ID)
	if err != nil {
		return err
	}
	current.MarkCancelled(nil, record)
	if err := tx.UpdatePayment(ctx, current); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	*payment = *current
	return nil
}
