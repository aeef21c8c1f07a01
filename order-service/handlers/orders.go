package handlers

import (
	"net/http"

	"github.com/sdbondi/bn-api/order-service/checkout"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type OrderHandler struct {
	checkout *checkout.Service
	logger   *zap.Logger
}

func NewOrderHandler(checkout *checkout.Service, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{checkout: checkout, logger: logger}
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	view, err := h.checkout.Order(c.Request.Context(), orderID, userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
