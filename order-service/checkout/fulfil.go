package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/sdbondi/bn-api/order-service/errs"
	"github.com/sdbondi/bn-api/order-service/middleware"
	"github.com/sdbondi/bn-api/order-service/models"
	"github.com/sdbondi/bn-api/order-service/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// transferBatch is one ledger transfer: the tokens of one asset held by one
// wallet.
type transferBatch struct {
	AssetID  uuid.UUID
	WalletID uuid.UUID
	TokenIDs []int64
}

type batchKey struct {
	asset  uuid.UUID
	wallet uuid.UUID
}

// gatherTransfers groups the order's tickets into transfer batches in the
// order they are first seen. Every asset must be registered on the ledger.
func gatherTransfers(ctx context.Context, tx store.Tx, items []models.OrderItem) ([]transferBatch, error) {
	var batches []transferBatch
	index := make(map[batchKey]int)
	checked := make(map[uuid.UUID]bool)

	for _, item := range items {
		tickets, err := tx.TicketsForOrderItem(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		for _, t := range tickets {
			if !checked[t.AssetID] {
				asset, err := tx.FindAsset(ctx, t.AssetID)
				if err != nil {
					return nil, err
				}
				if asset.BlockchainAssetID == nil {
					return nil, errs.Internal("Ticket asset is not registered on the ledger",
						fmt.Errorf("asset %s has no ledger id", asset.ID))
				}
				checked[t.AssetID] = true
			}

			key := batchKey{asset: t.AssetID, wallet: t.WalletID}
			i, ok := index[key]
			if !ok {
				i = len(batches)
				index[key] = i
				batches = append(batches, transferBatch{AssetID: t.AssetID, WalletID: t.WalletID})
			}
			batches[i].TokenIDs = append(batches[i].TokenIDs, t.TokenID)
		}
	}
	return batches, nil
}

type resolvedTransfer struct {
	ledgerAssetID string
	from          *models.Wallet
	tokenIDs      []int64
}

// fulfil transfers the paid order's tokens to the purchaser's default wallet
// and announces the purchase. A failed transfer leaves the order paid and
// needs manual reconciliation.
func (s *Service) fulfil(ctx context.Context, orderID uuid.UUID, batches []transferBatch) error {
	ctx, span := otel.Tracer("order-service").Start(ctx, "Fulfil")
	defer span.End()

	logger := s.logger.With(
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("order_id", orderID.String()),
	)

	order, to, transfers, err := s.resolveTransfers(ctx, orderID, batches)
	if err != nil {
		span.RecordError(err)
		return err
	}

	for i, t := range transfers {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.ExternalCallTimeout)
		err := s.ledger.Transfer(callCtx, t.from.SecretKey, t.from.PublicKey, t.ledgerAssetID, t.tokenIDs, to.PublicKey)
		cancel()
		if err != nil {
			middleware.RecordLedgerTransfer("failed")
			logger.Error("Ledger transfer failed for a paid order, manual reconciliation required",
				zap.String("asset_id", t.ledgerAssetID),
				zap.Int("transfers_completed", i),
				zap.Int("transfers_total", len(transfers)),
				zap.Error(err),
			)
			span.RecordError(err)
			return errs.Internal("Could not transfer tickets", err)
		}
		middleware.RecordLedgerTransfer("succeeded")
	}

	logger.Info("Tickets transferred", zap.Int("transfers", len(transfers)))
	s.notifyPurchase(ctx, order)
	return nil
}

func (s *Service) resolveTransfers(ctx context.Context, orderID uuid.UUID, batches []transferBatch) (*models.Order, *models.Wallet, []resolvedTransfer, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	defer tx.Rollback()

	order, err := tx.FindOrder(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}
	to, err := tx.DefaultWalletForUser(ctx, order.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, nil, errs.Internal("Purchaser has no wallet", err)
		}
		return nil, nil, nil, err
	}

	transfers := make([]resolvedTransfer, 0, len(batches))
	for _, b := range batches {
		asset, err := tx.FindAsset(ctx, b.AssetID)
		if err != nil {
			return nil, nil, nil, err
		}
		if asset.BlockchainAssetID == nil {
			return nil, nil, nil, errs.Internal("Ticket asset is not registered on the ledger",
				fmt.Errorf("asset %s has no ledger id", asset.ID))
		}
		from, err := tx.FindWallet(ctx, b.WalletID)
		if err != nil {
			return nil, nil, nil, err
		}
		transfers = append(transfers, resolvedTransfer{
			ledgerAssetID: *asset.BlockchainAssetID,
			from:          from,
			tokenIDs:      b.TokenIDs,
		})
	}
	return order, to, transfers, nil
}

// notifyPurchase publishes purchase_completed to the beneficiary. Guests
// without a first name or email are not notified.
func (s *Service) notifyPurchase(ctx context.Context, order *models.Order) {
	if s.events == nil {
		return
	}
	logger := s.logger.With(zap.String("order_id", order.ID.String()))

	event, err := s.purchaseCompletedEvent(ctx, order)
	if err != nil {
		logger.Warn("Could not build purchase notification", zap.Error(err))
		return
	}
	if event == nil {
		logger.Debug("Beneficiary has no name or email, skipping purchase notification")
		return
	}
	if err := s.events.PublishPurchaseCompleted(ctx, *event); err != nil {
		logger.Warn("Failed to publish purchase notification", zap.Error(err))
	}
}

func (s *Service) purchaseCompletedEvent(ctx context.Context, order *models.Order) (*models.PurchaseCompletedEvent, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	user, err := tx.FindUser(ctx, order.BeneficiaryID())
	if err != nil {
		return nil, err
	}
	if user.FirstName == nil || user.Email == nil {
		return nil, nil
	}
	view, err := store.DisplayOrder(ctx, tx, order)
	if err != nil {
		return nil, err
	}
	return &models.PurchaseCompletedEvent{
		EventType: "purchase_completed",
		OrderID:   order.ID,
		UserID:    user.ID,
		FirstName: *user.FirstName,
		Email:     *user.Email,
		Order:     *view,
	}, nil
}
