package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sdbondi/bn-api/order-service/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

func (t *pgTx) FindTicketType(ctx context.Context, id uuid.UUID) (*models.TicketType, error) {
	var tt models.TicketType
	err := t.tx.QueryRowContext(ctx,
		`SELECT tt.id, tt.event_id, tt.name, tt.price_in_cents, tt.box_office_price_in_cents, tt.sales_start,
			tt.sales_end, e.status, e.name, e.organization_id, o.fee_schedule_id
		FROM ticket_types tt
		JOIN events e ON e.id = tt.event_id
		JOIN organizations o ON o.id = e.organization_id
		WHERE tt.id = $1`, id).Scan(
		&tt.ID, &tt.EventID, &tt.Name, &tt.PriceInCents, &tt.BoxOfficePriceInCents, &tt.SalesStart,
		&tt.SalesEnd, &tt.EventStatus, &tt.EventName, &tt.OrganizationID, &tt.FeeScheduleID)
	if err != nil {
		return nil, notFound(err, "ticket type")
	}
	return &tt, nil
}

func (t *pgTx) OrganizationIDsForTicketTypes(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT DISTINCT e.organization_id FROM ticket_types tt
		JOIN events e ON e.id = tt.event_id
		WHERE tt.id = ANY($1) ORDER BY e.organization_id`, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("failed to load organizations: %w", err)
	}
	return scanUUIDs(rows)
}

func (t *pgTx) OrganizationIDsForEvents(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT DISTINCT organization_id FROM events WHERE id = ANY($1) ORDER BY organization_id",
		pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("failed to load organizations: %w", err)
	}
	return scanUUIDs(rows)
}

func (t *pgTx) FindHoldByCode(ctx context.Context, code string) (*models.Hold, error) {
	var h models.Hold
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, name, redemption_code, ticket_type_id, discount_in_cents, max_per_order, end_at
		FROM holds WHERE redemption_code = $1`, code).Scan(
		&h.ID, &h.Name, &h.RedemptionCode, &h.TicketTypeID, &h.DiscountInCents, &h.MaxPerOrder, &h.EndAt)
	if err != nil {
		return nil, notFound(err, "redemption code")
	}
	return &h, nil
}

func (t *pgTx) FeeForPrice(ctx context.Context, feeScheduleID *uuid.UUID, priceInCents int64) (int64, error) {
	if feeScheduleID == nil {
		return 0, nil
	}
	var fee int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT fee_in_cents FROM fee_schedule_ranges
		WHERE fee_schedule_id = $1 AND min_price <= $2
		ORDER BY min_price DESC LIMIT 1`, *feeScheduleID, priceInCents).Scan(&fee)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load fee schedule: %w", err)
	}
	return fee, nil
}

func (t *pgTx) FindAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	var a models.Asset
	err := t.tx.QueryRowContext(ctx,
		"SELECT id, ticket_type_id, blockchain_asset_id FROM assets WHERE id = $1", id).Scan(
		&a.ID, &a.TicketTypeID, &a.BlockchainAssetID)
	if err != nil {
		return nil, notFound(err, "asset")
	}
	return &a, nil
}

const walletColumns = "id, organization_id, user_id, name, secret_key, public_key, is_default"

func scanWallet(row scanner) (*models.Wallet, error) {
	var w models.Wallet
	if err := row.Scan(&w.ID, &w.OrganizationID, &w.UserID, &w.Name, &w.SecretKey, &w.PublicKey, &w.IsDefault); err != nil {
		return nil, err
	}
	return &w, nil
}

func (t *pgTx) FindWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	w, err := scanWallet(t.tx.QueryRowContext(ctx, "SELECT "+walletColumns+" FROM wallets WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err, "wallet")
	}
	return w, nil
}

func (t *pgTx) DefaultWalletForUser(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	w, err := scanWallet(t.tx.QueryRowContext(ctx,
		"SELECT "+walletColumns+" FROM wallets WHERE user_id = $1 ORDER BY is_default DESC, name LIMIT 1", userID))
	if err != nil {
		return nil, notFound(err, "wallet")
	}
	return w, nil
}
