package store

import (
	"context"
	"fmt"

	"github.com/sdbondi/bn-api/order-service/models"

	"github.com/google/uuid"
)

const paymentColumns = `id, order_id, created_by, status, payment_method, provider, external_reference, amount,
	provider_data, url_nonce, refund_data, created_at, updated_at`

func scanPayment(row scanner) (*models.Payment, error) {
	var p models.Payment
	var providerData, refundData []byte
	err := row.Scan(&p.ID, &p.OrderID, &p.CreatedBy, &p.Status, &p.PaymentMethod, &p.Provider,
		&p.ExternalReference, &p.AmountInCents, &providerData, &p.URLNonce, &refundData, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.ProviderData = providerData
	p.RefundData = refundData
	return &p, nil
}

func (t *pgTx) CreatePayment(ctx context.Context, payment *models.Payment) error {
	payment.ID = uuid.New()
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO payments (id, order_id, created_by, status, payment_method, provider, external_reference,
			amount, provider_data, url_nonce, refund_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING created_at, updated_at`,
		payment.ID, payment.OrderID, payment.CreatedBy, payment.Status, payment.PaymentMethod, payment.Provider,
		payment.ExternalReference, payment.AmountInCents, nullJSON(payment.ProviderData), payment.URLNonce,
		nullJSON(payment.RefundData)).Scan(&payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		payment.ID = uuid.Nil
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (t *pgTx) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE payments SET status = $2, external_reference = $3, provider_data = $4, url_nonce = $5,
		refund_data = $6, updated_at = now() WHERE id = $1`,
		payment.ID, payment.Status, payment.ExternalReference, nullJSON(payment.ProviderData), payment.URLNonce,
		nullJSON(payment.RefundData))
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return nil
}

func (t *pgTx) FindPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	p, err := scanPayment(t.tx.QueryRowContext(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err, "payment")
	}
	return p, nil
}

func (t *pgTx) PaymentsForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 ORDER BY created_at, id", orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (t *pgTx) FindPaymentByReference(ctx context.Context, provider, reference string) (*models.Payment, error) {
	p, err := scanPayment(t.tx.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE provider = $1 AND external_reference = $2",
		provider, reference))
	if err != nil {
		return nil, notFound(err, "payment")
	}
	return p, nil
}
