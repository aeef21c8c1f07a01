package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sdbondi/bn-api/order-service/cart"
	"github.com/sdbondi/bn-api/order-service/checkout"
	"github.com/sdbondi/bn-api/order-service/errs"
	"github.com/sdbondi/bn-api/order-service/handlers"
	"github.com/sdbondi/bn-api/order-service/middleware"
	"github.com/sdbondi/bn-api/order-service/models"
	"github.com/sdbondi/bn-api/order-service/payments"
	"github.com/sdbondi/bn-api/order-service/store/storetest"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	testNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testSecret = []byte("test-secret")
)

// hostedPage is a redirect processor that confirms every payment request.
type hostedPage struct{}

func (hostedPage) Name() string                  { return "globee" }
func (p hostedPage) Behavior() payments.Behavior { return payments.RedirectToPaymentPage{Client: p} }

func (hostedPage) Refund(ctx context.Context, chargeID string) (*payments.RefundResult, error) {
	return nil, errs.Configuration("refunds are not supported")
}

func (hostedPage) CreatePaymentRequest(ctx context.Context, req payments.PaymentRequest) (*payments.RedirectResult, error) {
	return &payments.RedirectResult{ID: "pr_1", RedirectURL: "https://pay.example/pr_1", Raw: json.RawMessage(`{}`)}, nil
}

func (hostedPage) ParseNotification(body []byte) (*payments.Notification, error) {
	var note struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &note); err != nil || note.ID == "" {
		return nil, errs.Validation("invalid notification")
	}
	return &payments.Notification{ExternalID: note.ID, Raw: body}, nil
}

func (hostedPage) VerifyNotification(ctx context.Context, externalID string) (*payments.VerifiedNotification, error) {
	return &payments.VerifiedNotification{ExternalID: externalID, Status: payments.NotificationCompleted,
		Raw: json.RawMessage(`{}`)}, nil
}

type nopLedger struct{}

func (nopLedger) Transfer(ctx context.Context, senderSecret, senderPublic, assetID string, tokenIDs []int64, recipientPublic string) error {
	return nil
}

type testAPI struct {
	store      *storetest.Store
	router     *gin.Engine
	eventID    uuid.UUID
	ticketType *models.TicketType
	free       *models.TicketType
	user       *models.User
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := func() time.Time { return testNow }
	s := storetest.New(clock)
	orgID := s.AddOrganization(nil)
	eventID := s.AddEvent(orgID, models.EventStatusPublished)

	logger := zaptest.NewLogger(t)
	carts := cart.NewManager(s, 15*time.Minute, logger, cart.WithClock(clock))
	service := checkout.NewService(checkout.Config{
		Currency:    "usd",
		FrontEndURL: "https://tickets.example",
		IPNBaseURL:  "https://api.example",
	}, s, payments.NewRegistry(hostedPage{}), nopLedger{}, nil, logger, checkout.WithClock(clock))

	router := gin.New()
	handlers.RegisterRoutes(router, middleware.AuthMiddleware(testSecret), handlers.Handlers{
		Carts:           handlers.NewCartHandler(carts, service, logger),
		Orders:          handlers.NewOrderHandler(service, logger),
		Payments:        handlers.NewPaymentHandler(service, logger),
		RedemptionCodes: handlers.NewRedemptionCodeHandler(carts, logger),
	})

	return &testAPI{
		store:      s,
		router:     router,
		eventID:    eventID,
		ticketType: s.AddTicketType(eventID, 1000, 800, 10),
		free:       s.AddTicketType(eventID, 0, 0, 10),
		user:       s.AddUser("Ada", "ada@example.com"),
	}
}

func token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID.String(),
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func (a *testAPI) do(t *testing.T, method, path string, userID *uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != nil {
		req.Header.Set("Authorization", "Bearer "+token(t, *userID))
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeOrder(t *testing.T, w *httptest.ResponseRecorder) models.DisplayOrder {
	t.Helper()
	var view models.DisplayOrder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	return view
}

func cartBody(tt *models.TicketType, quantity int64) gin.H {
	return gin.H{"items": []gin.H{{"ticket_type_id": tt.ID, "quantity": quantity}}}
}

func TestRoutes_RequireToken(t *testing.T) {
	api := setupAPI(t)

	w := api.do(t, http.MethodGet, "/cart", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w = httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCartHandler_UpdateAndShow(t *testing.T) {
	api := setupAPI(t)
	userID := api.user.ID

	w := api.do(t, http.MethodPost, "/cart", &userID, cartBody(api.ticketType, 2))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	added := decodeOrder(t, w)
	require.Len(t, added.Items, 1)
	assert.Equal(t, int64(2000), added.TotalInCents)

	w = api.do(t, http.MethodGet, "/cart", &userID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, added.ID, decodeOrder(t, w).ID)

	w = api.do(t, http.MethodPut, "/cart", &userID, cartBody(api.free, 1))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	replaced := decodeOrder(t, w)
	require.Len(t, replaced.Items, 1)
	assert.Equal(t, api.free.ID, replaced.Items[0].TicketTypeID)

	w = api.do(t, http.MethodPost, "/cart/clear_invalid_items", &userID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decodeOrder(t, w).Items, 1)

	w = api.do(t, http.MethodDelete, "/cart", &userID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeOrder(t, w).Items)
}

func TestCartHandler_UpdateErrors(t *testing.T) {
	api := setupAPI(t)
	userID := api.user.ID

	w := api.do(t, http.MethodPost, "/cart", &userID, "{")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPost, "/cart", &userID, cartBody(api.ticketType, 11))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := cartBody(api.ticketType, 1)
	body["box_office_pricing"] = true
	w = api.do(t, http.MethodPost, "/cart", &userID, body)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCartHandler_Checkout(t *testing.T) {
	t.Run("empty cart", func(t *testing.T) {
		api := setupAPI(t)
		userID := api.user.ID

		w := api.do(t, http.MethodPost, "/cart/checkout", &userID, `{"method":{"type":"Free"}}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("unknown method", func(t *testing.T) {
		api := setupAPI(t)
		userID := api.user.ID

		w := api.do(t, http.MethodPost, "/cart/checkout", &userID, `{"method":{"type":"Barter"}}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("free order", func(t *testing.T) {
		api := setupAPI(t)
		userID := api.user.ID
		require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/cart", &userID, cartBody(api.free, 2)).Code)

		w := api.do(t, http.MethodPost, "/cart/checkout", &userID, `{"method":{"type":"Free"}}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		view := decodeOrder(t, w)
		assert.Equal(t, models.OrderStatusPaid, view.Status)
		require.Len(t, view.Payments, 1)
		assert.Equal(t, models.PaymentMethodFree, view.Payments[0].PaymentMethod)
	})

	t.Run("free checkout of a priced cart", func(t *testing.T) {
		api := setupAPI(t)
		userID := api.user.ID
		require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/cart", &userID, cartBody(api.ticketType, 1)).Code)

		w := api.do(t, http.MethodPost, "/cart/checkout", &userID, `{"method":{"type":"Free"}}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestOrderHandler_GetOrder(t *testing.T) {
	api := setupAPI(t)
	userID := api.user.ID
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/cart", &userID, cartBody(api.free, 1)).Code)
	w := api.do(t, http.MethodPost, "/cart/checkout", &userID, `{"method":{"type":"Free"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	orderID := decodeOrder(t, w).ID

	w = api.do(t, http.MethodGet, "/orders/"+orderID.String(), &userID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, orderID, decodeOrder(t, w).ID)

	stranger := api.store.AddUser("Eve", "eve@example.com").ID
	w = api.do(t, http.MethodGet, "/orders/"+orderID.String(), &stranger, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(t, http.MethodGet, "/orders/"+uuid.NewString(), &userID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(t, http.MethodGet, "/orders/42", &userID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// checkoutWithHostedPage leaves the user's order waiting on the payment page.
func (a *testAPI) checkoutWithHostedPage(t *testing.T) models.Payment {
	t.Helper()
	userID := a.user.ID
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/cart", &userID, cartBody(a.ticketType, 1)).Code)

	w := a.do(t, http.MethodPost, "/cart/checkout", &userID, `{"method":{"type":"Provider","provider":"globee"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decodeOrder(t, w)
	require.Equal(t, models.OrderStatusPendingPayment, view.Status)
	require.NotNil(t, view.CheckoutURL)
	assert.Equal(t, "https://pay.example/pr_1", *view.CheckoutURL)

	paid := a.store.Payments(view.ID)
	require.Len(t, paid, 1)
	require.NotNil(t, paid[0].URLNonce)
	return paid[0]
}

func TestPaymentHandler_Callback(t *testing.T) {
	api := setupAPI(t)
	payment := api.checkoutWithHostedPage(t)
	path := fmt.Sprintf("/payments/callback/%s/%s", payment.OrderID, *payment.URLNonce)

	w := api.do(t, http.MethodGet, path+"?success=true", nil, nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, fmt.Sprintf("https://tickets.example/events/%s/tickets/success", api.eventID), w.Header().Get("Location"))

	w = api.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, fmt.Sprintf("https://tickets.example/events/%s/tickets/confirmation", api.eventID), w.Header().Get("Location"))
	assert.Equal(t, models.OrderStatusDraft, api.store.Order(payment.OrderID).Status)

	w = api.do(t, http.MethodGet, path+"?success=maybe", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/payments/callback/not-an-id/"+*payment.URLNonce, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPaymentHandler_IPN(t *testing.T) {
	api := setupAPI(t)
	payment := api.checkoutWithHostedPage(t)

	w := api.do(t, http.MethodPost, "/ipns/globee", nil, `{"id":"pr_1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.OrderStatusPaid, api.store.Order(payment.OrderID).Status)

	w = api.do(t, http.MethodPost, "/ipns/globee", nil, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPost, "/ipns/paypal", nil, `{"id":"pr_1"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRedemptionCodeHandler_Show(t *testing.T) {
	api := setupAPI(t)
	api.store.AddHold(models.Hold{Name: "Friends", RedemptionCode: "FRIENDS", TicketTypeID: api.ticketType.ID,
		DiscountInCents: 200})

	w := api.do(t, http.MethodGet, "/redemption_codes/FRIENDS", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hold models.Hold
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hold))
	assert.Equal(t, "Friends", hold.Name)
	assert.Equal(t, api.ticketType.ID, hold.TicketTypeID)

	w = api.do(t, http.MethodGet, "/redemption_codes/UNKNOWN", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
