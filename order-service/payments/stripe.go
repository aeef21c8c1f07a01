package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sdbondi/bn-api/order-service/circuitbreaker"
	"github.com/sdbondi/bn-api/order-service/errs"
)

const StripeProviderName = "stripe"

// StripeClient talks to the Stripe charges API. Charges are authorized with
// capture=false and captured separately.
type StripeClient struct {
	apiKey  string
	baseURL string
	api     *apiClient
}

func NewStripeClient(apiKey, baseURL string, httpClient *http.Client, breaker *circuitbreaker.CircuitBreaker) *StripeClient {
	return &StripeClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		api:     newAPIClient(StripeProviderName, httpClient, breaker, decodeStripeError),
	}
}

func (c *StripeClient) Name() string {
	return StripeProviderName
}

func (c *StripeClient) Behavior() Behavior {
	return AuthThenComplete{Client: c}
}

type stripeObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func decodeStripeError(body []byte) string {
	var resp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return resp.Error.Message
}

func (c *StripeClient) post(ctx context.Context, path string, form url.Values) (*stripeObject, json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, errs.Internal("failed to build stripe request", err)
	}
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.api.do(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	var obj stripeObject
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, nil, errs.Provider("stripe returned an invalid response", err)
	}
	return &obj, json.RawMessage(body), nil
}

// Auth places a hold on the card. Repeat-charge tokens (customers) are
// charged through their default source.
func (c *StripeClient) Auth(ctx context.Context, token string, amountInCents int64, currency, description string, metadata map[string]string) (*AuthResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountInCents, 10))
	form.Set("currency", currency)
	form.Set("description", description)
	form.Set("capture", "false")
	if strings.HasPrefix(token, "cus_") {
		form.Set("customer", token)
	} else {
		form.Set("source", token)
	}
	for k, v := range metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	obj, raw, err := c.post(ctx, "/v1/charges", form)
	if err != nil {
		return nil, err
	}
	return &AuthResult{ID: obj.ID, Raw: raw}, nil
}

func (c *StripeClient) CompleteAuthedCharge(ctx context.Context, authID string) (*ChargeResult, error) {
	obj, raw, err := c.post(ctx, "/v1/charges/"+url.PathEscape(authID)+"/capture", url.Values{})
	if err != nil {
		return nil, err
	}
	return &ChargeResult{ID: obj.ID, Status: obj.Status, Raw: raw}, nil
}

// CreateTokenForRepeatCharges stores the card on a new Stripe customer. The
// customer id is the repeat-charge token.
func (c *StripeClient) CreateTokenForRepeatCharges(ctx context.Context, token, description string) (*RepeatChargeToken, error) {
	form := url.Values{}
	form.Set("source", token)
	form.Set("description", description)

	obj, raw, err := c.post(ctx, "/v1/customers", form)
	if err != nil {
		return nil, err
	}
	return &RepeatChargeToken{Token: obj.ID, Raw: raw}, nil
}

func (c *StripeClient) UpdateRepeatToken(ctx context.Context, repeatToken, token, description string) (*RepeatChargeToken, error) {
	form := url.Values{}
	form.Set("source", token)
	form.Set("description", description)

	obj, raw, err := c.post(ctx, "/v1/customers/"+url.PathEscape(repeatToken), form)
	if err != nil {
		return nil, err
	}
	return &RepeatChargeToken{Token: obj.ID, Raw: raw}, nil
}

func (c *StripeClient) Refund(ctx context.Context, chargeID string) (*RefundResult, error) {
	form := url.Values{}
	form.Set("charge", chargeID)

	obj, raw, err := c.post(ctx, "/v1/refunds", form)
	if err != nil {
		return nil, err
	}
	return &RefundResult{ID: obj.ID, Raw: raw}, nil
}
