package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/sdbondi/bn-api/order-service/checkout"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxNotificationBytes = 1 << 20

type PaymentHandler struct {
	checkout *checkout.Service
	logger   *zap.Logger
}

func NewPaymentHandler(checkout *checkout.Service, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{checkout: checkout, logger: logger}
}

// Callback is where the hosted payment page sends the buyer back. It never
// marks a payment as successful; that only happens through the IPN.
func (h *PaymentHandler) Callback(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
		return
	}
	success, err := strconv.ParseBool(c.DefaultQuery("success", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid success flag"})
		return
	}

	location, err := h.checkout.PaymentCallback(c.Request.Context(), orderID, c.Param("nonce"), success)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Redirect(http.StatusFound, location)
}

func (h *PaymentHandler) IPN(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "IPN")
	defer span.End()

	provider := c.Param("provider")
	span.SetAttributes(attribute.String("payment.provider", provider))

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxNotificationBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read request body"})
		return
	}

	if err := h.checkout.HandleNotification(ctx, provider, body); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusOK)
}
