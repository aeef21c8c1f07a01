package store

import (
	"context"
	"fmt"

	"github.com/sdbondi/bn-api/order-service/models"

	"github.com/google/uuid"
)

const orderColumns = `id, user_id, on_behalf_of_user_id, status, version, note, checkout_url,
	checkout_url_expires, paid_at, created_at, updated_at`

func scanOrder(row scanner) (*models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.UserID, &o.OnBehalfOfUserID, &o.Status, &o.Version, &o.Note, &o.CheckoutURL,
		&o.CheckoutURLExpires, &o.PaidAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *pgTx) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := scanOrder(t.tx.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err, "order")
	}
	return order, nil
}

func (t *pgTx) FindDraftOrderForUser(ctx context.Context, userID uuid.UUID) (*models.Order, error) {
	order, err := scanOrder(t.tx.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 AND status = 'draft'", userID))
	if err != nil {
		return nil, notFound(err, "cart")
	}
	return order, nil
}

func (t *pgTx) CreateDraftOrder(ctx context.Context, userID uuid.UUID) (*models.Order, error) {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, status, version) VALUES ($1, $2, 'draft', 0)
		ON CONFLICT (user_id) WHERE status = 'draft' DO NOTHING`,
		uuid.New(), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return t.FindDraftOrderForUser(ctx, userID)
}

func (t *pgTx) LockVersion(ctx context.Context, order *models.Order) error {
	var version int64
	err := t.tx.QueryRowContext(ctx,
		"SELECT version FROM orders WHERE id = $1 FOR UPDATE NOWAIT", order.ID).Scan(&version)
	if err != nil {
		if isLockNotAvailable(err) {
			return ErrConflict
		}
		return notFound(err, "order")
	}
	if version != order.Version {
		return ErrConflict
	}

	res, err := t.tx.ExecContext(ctx,
		"UPDATE orders SET version = version + 1, updated_at = now() WHERE id = $1 AND version = $2",
		order.ID, order.Version)
	if err != nil {
		return fmt.Errorf("failed to lock order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to lock order: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	order.Version++
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := scanOrder(t.tx.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, notFound(err, "order")
	}
	if _, err := t.tx.ExecContext(ctx,
		"UPDATE orders SET version = version + 1, updated_at = now() WHERE id = $1", id); err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	order.Version++
	return order, nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE orders SET on_behalf_of_user_id = $2, status = $3, note = $4, checkout_url = $5,
		checkout_url_expires = $6, paid_at = $7, updated_at = now() WHERE id = $1`,
		order.ID, order.OnBehalfOfUserID, order.Status, order.Note, order.CheckoutURL,
		order.CheckoutURLExpires, order.PaidAt)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	return nil
}

const itemColumns = `id, order_id, ticket_type_id, event_id, quantity, unit_price_in_cents, fee_in_cents,
	hold_id, created_at, updated_at`

func (t *pgTx) OrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM order_items WHERE order_id = $1 ORDER BY created_at, id", orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var i models.OrderItem
		if err := rows.Scan(&i.ID, &i.OrderID, &i.TicketTypeID, &i.EventID, &i.Quantity, &i.UnitPriceInCents,
			&i.FeeInCents, &i.HoldID, &i.CreatedAt, &i.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

func (t *pgTx) SaveOrderItem(ctx context.Context, item *models.OrderItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
		err := t.tx.QueryRowContext(ctx,
			`INSERT INTO order_items (id, order_id, ticket_type_id, event_id, quantity, unit_price_in_cents,
			fee_in_cents, hold_id) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at, updated_at`,
			item.ID, item.OrderID, item.TicketTypeID, item.EventID, item.Quantity, item.UnitPriceInCents,
			item.FeeInCents, item.HoldID).Scan(&item.CreatedAt, &item.UpdatedAt)
		if err != nil {
			item.ID = uuid.Nil
			return fmt.Errorf("failed to create order item: %w", err)
		}
		return nil
	}

	_, err := t.tx.ExecContext(ctx,
		`UPDATE order_items SET quantity = $2, unit_price_in_cents = $3, fee_in_cents = $4, hold_id = $5,
		updated_at = now() WHERE id = $1`,
		item.ID, item.Quantity, item.UnitPriceInCents, item.FeeInCents, item.HoldID)
	if err != nil {
		return fmt.Errorf("failed to update order item: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteOrderItem(ctx context.Context, itemID uuid.UUID) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM order_items WHERE id = $1", itemID); err != nil {
		return fmt.Errorf("failed to delete order item: %w", err)
	}
	return nil
}
