package store

import (
	"context"

	"github.com/sdbondi/bn-api/order-service/models"
)

// DisplayOrder loads the items and payments of order into its API view.
func DisplayOrder(ctx context.Context, tx Tx, order *models.Order) (*models.DisplayOrder, error) {
	items, err := tx.OrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	payments, err := tx.PaymentsForOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	view := &models.DisplayOrder{
		ID:                 order.ID,
		UserID:             order.UserID,
		OnBehalfOfUserID:   order.OnBehalfOfUserID,
		Status:             order.Status,
		Note:               order.Note,
		Items:              make([]models.DisplayOrderItem, 0, len(items)),
		TotalInCents:       models.CalculateTotal(items),
		CheckoutURL:        order.CheckoutURL,
		CheckoutURLExpires: order.CheckoutURLExpires,
		Payments:           make([]models.DisplayPayment, 0, len(payments)),
		PaidAt:             order.PaidAt,
		CreatedAt:          order.CreatedAt,
	}

	for _, item := range items {
		tickets, err := tx.TicketsForOrderItem(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		view.FeesInCents += item.FeesInCents()
		view.Items = append(view.Items, models.DisplayOrderItem{
			ID:               item.ID,
			TicketTypeID:     item.TicketTypeID,
			EventID:          item.EventID,
			Quantity:         item.Quantity,
			UnitPriceInCents: item.UnitPriceInCents,
			FeeInCents:       item.FeeInCents,
			HoldID:           item.HoldID,
			ReservedTickets:  len(tickets),
		})
	}
	for _, p := range payments {
		view.Payments = append(view.Payments, models.DisplayPayment{
			ID:                p.ID,
			Status:            p.Status,
			PaymentMethod:     p.PaymentMethod,
			Provider:          p.Provider,
			ExternalReference: p.ExternalReference,
			AmountInCents:     p.AmountInCents,
			CreatedAt:         p.CreatedAt,
		})
	}
	return view, nil
}
