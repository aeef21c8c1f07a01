package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("card declined")

	tests := []struct {
		name   string
		err    error
		kind   Kind
		status int
	}{
		{"validation", Validation("bad quantity"), KindValidation, http.StatusBadRequest},
		{"forbidden", Forbidden("not yours"), KindForbidden, http.StatusForbidden},
		{"wrapped not found", fmt.Errorf("order: %w", NotFound("record not found")), KindNotFound, http.StatusNotFound},
		{"invalid state", InvalidState("not a draft"), KindInvalidState, http.StatusConflict},
		{"conflict", New(KindConflict, "retry"), KindConflict, http.StatusConflict},
		{"unprocessable", Unprocessable("empty cart"), KindUnprocessable, http.StatusUnprocessableEntity},
		{"unavailable", ProcessorUnavailable("stripe is down", cause), KindProcessorUnavailable, http.StatusServiceUnavailable},
		{"provider", Provider("declined", cause), KindProvider, http.StatusBadGateway},
		{"configuration", Configuration("no such provider"), KindConfiguration, http.StatusInternalServerError},
		{"plain error", cause, KindInternal, http.StatusInternalServerError},
		{"refund failure", RefundFailed("ch_1", Provider("declined", cause), errors.New("timeout")), KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.status, KindOf(tt.err).HTTPStatus())
			assert.True(t, Is(tt.err, tt.kind))
		})
	}

	assert.False(t, Is(nil, KindInternal))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "Cart is empty", Message(Unprocessable("Cart is empty")))
	assert.Equal(t, "Could not charge card", Message(fmt.Errorf("checkout: %w", Provider("Could not charge card", errors.New("declined")))))
	assert.Equal(t, "Internal server error", Message(Internal("Could not transfer tickets", errors.New("dial tcp: refused"))))
	assert.Equal(t, "Internal server error", Message(errors.New("pq: connection reset")))
}

func TestRefundError(t *testing.T) {
	cause := Provider("capture failed", errors.New("card expired"))
	refundErr := errors.New("refund timed out")
	err := RefundFailed("ch_42", cause, refundErr)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, refundErr)
	assert.Contains(t, err.Error(), "ch_42")

	var re *RefundError
	assert.True(t, errors.As(fmt.Errorf("checkout: %w", err), &re))
	assert.Equal(t, "ch_42", re.ChargeID)
}
