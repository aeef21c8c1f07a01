package handlers

import (
	"errors"

	"github.com/sdbondi/bn-api/order-service/errs"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// respondError writes err as {"error": msg} with the status of its kind.
// Internal errors are reported without their cause; LoggerMiddleware logs
// the error itself.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	kind := errs.KindOf(err)
	status := kind.HTTPStatus()

	span := trace.SpanFromContext(c.Request.Context())
	span.RecordError(err)

	_ = c.Error(err)

	var refundErr *errs.RefundError
	if errors.As(err, &refundErr) {
		logger.Error("Checkout failed and the charge could not be refunded",
			zap.String("charge_id", refundErr.ChargeID),
			zap.Error(err),
		)
	}

	c.JSON(status, gin.H{"error": errs.Message(err)})
}
