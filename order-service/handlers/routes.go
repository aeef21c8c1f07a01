package handlers

import (
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Carts           *CartHandler
	Orders          *OrderHandler
	Payments        *PaymentHandler
	RedemptionCodes *RedemptionCodeHandler
}

// RegisterRoutes mounts the API. auth guards every route a signed-in user
// calls; payment callbacks and IPNs come from the provider side.
func RegisterRoutes(router gin.IRouter, auth gin.HandlerFunc, h Handlers) {
	router.GET("/payments/callback/:id/:nonce", h.Payments.Callback)
	router.POST("/ipns/:provider", h.Payments.IPN)
	router.GET("/redemption_codes/:code", h.RedemptionCodes.Show)

	authed := router.Group("/", auth)
	authed.GET("/cart", h.Carts.Show)
	authed.POST("/cart", h.Carts.Add)
	authed.PUT("/cart", h.Carts.Replace)
	authed.DELETE("/cart", h.Carts.Clear)
	authed.POST("/cart/clear_invalid_items", h.Carts.ClearInvalidItems)
	authed.POST("/cart/checkout", h.Carts.Checkout)
	authed.GET("/orders/:id", h.Orders.GetOrder)
}
