package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sdbondi/bn-api/order-service/models"

	"github.com/google/uuid"
)

func (t *pgTx) TicketsForOrderItem(ctx context.Context, itemID uuid.UUID) ([]models.TicketInstance, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, asset_id, token_id, wallet_id, order_item_id, reserved_until, status
		FROM ticket_instances WHERE order_item_id = $1 AND status <> 'available'
		ORDER BY asset_id, token_id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tickets: %w", err)
	}
	defer rows.Close()

	var tickets []models.TicketInstance
	for rows.Next() {
		var ti models.TicketInstance
		if err := rows.Scan(&ti.ID, &ti.AssetID, &ti.TokenID, &ti.WalletID, &ti.OrderItemID, &ti.ReservedUntil,
			&ti.Status); err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, ti)
	}
	return tickets, rows.Err()
}

func (t *pgTx) ReserveTickets(ctx context.Context, item *models.OrderItem, count int64, until time.Time) (int64, error) {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE ticket_instances SET reserved_until = $2 WHERE order_item_id = $1 AND status = 'reserved'",
		item.ID, until)
	if err != nil {
		return 0, fmt.Errorf("failed to renew reservations: %w", err)
	}
	if count <= 0 {
		return 0, nil
	}

	res, err := t.tx.ExecContext(ctx,
		`UPDATE ticket_instances SET order_item_id = $1, reserved_until = $2, status = 'reserved'
		WHERE id IN (
			SELECT ti.id FROM ticket_instances ti
			JOIN assets a ON a.id = ti.asset_id
			WHERE a.ticket_type_id = $3
			AND (ti.status = 'available' OR (ti.status = 'reserved' AND ti.reserved_until < now()))
			ORDER BY ti.token_id
			LIMIT $4
			FOR UPDATE OF ti SKIP LOCKED
		)`, item.ID, until, item.TicketTypeID, count)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve tickets: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to reserve tickets: %w", err)
	}
	return n, nil
}

func (t *pgTx) ReleaseTickets(ctx context.Context, itemID uuid.UUID, keep int64) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE ticket_instances SET order_item_id = NULL, reserved_until = NULL, status = 'available'
		WHERE id IN (
			SELECT id FROM ticket_instances WHERE order_item_id = $1 AND status = 'reserved'
			ORDER BY asset_id, token_id OFFSET $2
		)`, itemID, keep)
	if err != nil {
		return fmt.Errorf("failed to release tickets: %w", err)
	}
	return nil
}

func (t *pgTx) MarkTicketsPurchased(ctx context.Context, orderID, walletID uuid.UUID) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE ticket_instances SET status = 'purchased', reserved_until = NULL, wallet_id = $2
		WHERE status = 'reserved' AND order_item_id IN (SELECT id FROM order_items WHERE order_id = $1)`,
		orderID, walletID)
	if err != nil {
		return fmt.Errorf("failed to mark tickets purchased: %w", err)
	}
	return nil
}
