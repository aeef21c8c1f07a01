package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sdbondi/bn-api/order-service/circuitbreaker"
	"github.com/sdbondi/bn-api/order-service/errs"
)

const GlobeeProviderName = "globee"

// GlobeeClient creates hosted crypto payment pages. Settlement is reported
// by IPN only.
type GlobeeClient struct {
	apiKey  string
	baseURL string
	api     *apiClient
}

func NewGlobeeClient(apiKey, baseURL string, httpClient *http.Client, breaker *circuitbreaker.CircuitBreaker) *GlobeeClient {
	return &GlobeeClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		api:     newAPIClient(GlobeeProviderName, httpClient, breaker, decodeGlobeeError),
	}
}

func (c *GlobeeClient) Name() string {
	return GlobeeProviderName
}

func (c *GlobeeClient) Behavior() Behavior {
	return RedirectToPaymentPage{Client: c}
}

// Refund is not offered by the Globee API.
func (c *GlobeeClient) Refund(ctx context.Context, chargeID string) (*RefundResult, error) {
	return nil, errs.Configuration("globee does not support refunds")
}

type globeePaymentRequest struct {
	ID              string     `json:"id"`
	Status          string     `json:"status"`
	RedirectURL     string     `json:"redirect_url"`
	ExpiresAt       *time.Time `json:"expires_at"`
	CustomPaymentID string     `json:"custom_payment_id"`
}

type globeeResponse struct {
	Success bool                 `json:"success"`
	Data    globeePaymentRequest `json:"data"`
}

func decodeGlobeeError(body []byte) string {
	var resp struct {
		Message string `json:"message"`
		Errors  []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	if len(resp.Errors) > 0 {
		return resp.Errors[0].Message
	}
	return resp.Message
}

func (c *GlobeeClient) send(ctx context.Context, method, path string, payload any) (*globeePaymentRequest, json.RawMessage, error) {
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, errs.Internal("failed to encode globee request", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, nil, errs.Internal("failed to build globee request", err)
	}
	req.Header.Set("X-AUTH-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	raw, err := c.api.do(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	var resp globeeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, errs.Provider("globee returned an invalid response", err)
	}
	if !resp.Success {
		return nil, nil, errs.Provider("globee rejected the payment request", nil)
	}
	return &resp.Data, json.RawMessage(raw), nil
}

func (c *GlobeeClient) CreatePaymentRequest(ctx context.Context, pr PaymentRequest) (*RedirectResult, error) {
	payload := map[string]any{
		// Sent as a JSON number with two decimal places.
		"total":             json.Number(pr.Amount.StringFixed(2)),
		"currency":          strings.ToUpper(pr.Currency),
		"custom_payment_id": pr.OrderID.String(),
		"customer":          map[string]string{"email": pr.Email},
	}
	if pr.IPNURL != nil {
		payload["ipn_url"] = *pr.IPNURL
	}
	if pr.SuccessURL != nil {
		payload["success_url"] = *pr.SuccessURL
	}
	if pr.CancelURL != nil {
		payload["cancel_url"] = *pr.CancelURL
	}

	data, raw, err := c.send(ctx, http.MethodPost, "/payment-request", payload)
	if err != nil {
		return nil, err
	}
	return &RedirectResult{ID: data.ID, RedirectURL: data.RedirectURL, ExpiresAt: data.ExpiresAt, Raw: raw}, nil
}

func (c *GlobeeClient) ParseNotification(body []byte) (*Notification, error) {
	var ipn globeePaymentRequest
	if err := json.Unmarshal(body, &ipn); err != nil {
		return nil, errs.Validation("invalid notification body")
	}
	if ipn.ID == "" {
		return nil, errs.Validation("notification is missing the payment request id")
	}
	return &Notification{ExternalID: ipn.ID, Raw: json.RawMessage(body)}, nil
}

func (c *GlobeeClient) VerifyNotification(ctx context.Context, externalID string) (*VerifiedNotification, error) {
	data, raw, err := c.send(ctx, http.MethodGet, "/payment-request/"+url.PathEscape(externalID), nil)
	if err != nil {
		return nil, err
	}
	if data.ID != externalID {
		return nil, errs.Provider("globee returned a different payment request", nil)
	}
	return &VerifiedNotification{ExternalID: data.ID, Status: globeeStatus(data.Status), Raw: raw}, nil
}

func globeeStatus(status string) NotificationStatus {
	switch strings.ToLower(status) {
	case "confirmed", "complete", "paid", "overpaid":
		return NotificationCompleted
	case "cancelled", "expired", "invalid", "refunded":
		return NotificationCancelled
	default:
		return NotificationPending
	}
}
