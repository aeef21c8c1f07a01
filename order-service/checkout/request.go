package checkout

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sdbondi/bn-api/order-service/errs"
)

// PaymentRequest is one of External, Card, Provider, PaymentMethod or Free.
type PaymentRequest interface {
	methodName() string
}

// External records a payment taken outside the platform, entered by staff
// on behalf of a guest.
type External struct {
	Reference *string
	FirstName string
	LastName  string
	Email     *string
	Phone     *string
	Note      *string
}

type Card struct {
	Token             string
	Provider          string
	SavePaymentMethod bool
	SetDefault        bool
}

type Provider struct {
	Provider string
}

// PaymentMethod charges a stored payment method. A nil provider uses the
// user's default method.
type PaymentMethod struct {
	Provider *string
}

type Free struct{}

func (External) methodName() string      { return "external" }
func (Card) methodName() string          { return "card" }
func (Provider) methodName() string      { return "provider" }
func (PaymentMethod) methodName() string { return "payment_method" }
func (Free) methodName() string          { return "free" }

// MethodName labels the request variant in logs and metrics.
func MethodName(req PaymentRequest) string {
	return req.methodName()
}

type rawMethod struct {
	Type              string  `json:"type"`
	Reference         *string `json:"reference"`
	FirstName         string  `json:"first_name"`
	LastName          string  `json:"last_name"`
	Email             *string `json:"email"`
	Phone             *string `json:"phone"`
	Note              *string `json:"note"`
	Token             string  `json:"token"`
	Provider          *string `json:"provider"`
	SavePaymentMethod bool    `json:"save_payment_method"`
	SetDefault        bool    `json:"set_default"`
}

// unlessBlank maps empty and whitespace-only strings to nil.
func unlessBlank(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// DecodePaymentRequest parses the checkout body
// {"method": {"type": "Card", ...}}.
func DecodePaymentRequest(body []byte) (PaymentRequest, error) {
	var envelope struct {
		Method *rawMethod `json:"method"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errs.Validation(fmt.Sprintf("invalid checkout request: %v", err))
	}
	if envelope.Method == nil {
		return nil, errs.Validation("checkout request is missing the payment method")
	}
	m := envelope.Method

	switch m.Type {
	case "External":
		return External{
			Reference: unlessBlank(m.Reference),
			FirstName: strings.TrimSpace(m.FirstName),
			LastName:  strings.TrimSpace(m.LastName),
			Email:     unlessBlank(m.Email),
			Phone:     unlessBlank(m.Phone),
			Note:      unlessBlank(m.Note),
		}, nil
	case "Card":
		provider := unlessBlank(m.Provider)
		if provider == nil {
			return nil, errs.Validation("card payments require a provider")
		}
		return Card{
			Token:             strings.TrimSpace(m.Token),
			Provider:          *provider,
			SavePaymentMethod: m.SavePaymentMethod,
			SetDefault:        m.SetDefault,
		}, nil
	case "Provider":
		provider := unlessBlank(m.Provider)
		if provider == nil {
			return nil, errs.Validation("provider payments require a provider")
		}
		return Provider{Provider: *provider}, nil
	case "PaymentMethod":
		return PaymentMethod{Provider: unlessBlank(m.Provider)}, nil
	case "Free":
		return Free{}, nil
	default:
		return nil, errs.Validation(fmt.Sprintf("unknown payment method type %q", m.Type))
	}
}
