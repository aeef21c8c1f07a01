package handlers

import (
	"io"
	"net/http"

	"github.com/sdbondi/bn-api/order-service/cart"
	"github.com/sdbondi/bn-api/order-service/checkout"
	"github.com/sdbondi/bn-api/order-service/errs"
	"github.com/sdbondi/bn-api/order-service/middleware"
	"github.com/sdbondi/bn-api/order-service/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type CartHandler struct {
	carts    *cart.Manager
	checkout *checkout.Service
	logger   *zap.Logger
}

func NewCartHandler(carts *cart.Manager, checkout *checkout.Service, logger *zap.Logger) *CartHandler {
	return &CartHandler{
		carts:    carts,
		checkout: checkout,
		logger:   logger,
	}
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
	}
	return userID, ok
}

func (h *CartHandler) Show(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	view, err := h.carts.FindCart(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Add merges the items into the cart.
func (h *CartHandler) Add(c *gin.Context) {
	h.update(c, false)
}

// Replace sets the cart to exactly the given items.
func (h *CartHandler) Replace(c *gin.Context) {
	h.update(c, true)
}

func (h *CartHandler) update(c *gin.Context, replace bool) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "UpdateCart")
	defer span.End()

	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.UpdateCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("user_id", userID.String()),
		attribute.Int("items", len(req.Items)),
		attribute.Bool("box_office_pricing", req.BoxOffice),
		attribute.Bool("replace", replace),
	)

	view, err := h.carts.UpdateCart(ctx, userID, req.Items, req.BoxOffice, replace)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *CartHandler) Clear(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	view, err := h.carts.Clear(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *CartHandler) ClearInvalidItems(c *gin.Context) {
	ctx := c.Request.Context()
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	order, err := h.carts.FindOrCreateCart(ctx, userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.carts.ClearInvalidItems(ctx, order, userID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	view, err := h.carts.Display(ctx, order.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *CartHandler) Checkout(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "CheckoutCart")
	defer span.End()

	userID, ok := currentUser(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read request body"})
		return
	}
	req, err := checkout.DecodePaymentRequest(body)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	cartView, err := h.carts.FindCart(ctx, userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if cartView.ID == uuid.Nil {
		respondError(c, h.logger, errs.Unprocessable("Cart is empty"))
		return
	}
	span.SetAttributes(
		attribute.String("order.id", cartView.ID.String()),
		attribute.String("payment.method", checkout.MethodName(req)),
	)

	view, err := h.checkout.Checkout(ctx, cartView.ID, userID, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
