package handlers

import (
	"net/http"

	"github.com/sdbondi/bn-api/order-service/cart"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RedemptionCodeHandler struct {
	carts  *cart.Manager
	logger *zap.Logger
}

func NewRedemptionCodeHandler(carts *cart.Manager, logger *zap.Logger) *RedemptionCodeHandler {
	return &RedemptionCodeHandler{carts: carts, logger: logger}
}

func (h *RedemptionCodeHandler) Show(c *gin.Context) {
	hold, err := h.carts.RedemptionCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, hold)
}
