// Package mailer renders order confirmation emails.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	obs "github.com/sdbondi/bn-api/order-service/middleware"
	"github.com/sdbondi/bn-api/order-service/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes outgoing mail to the service log instead of delivering it.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.Info("Email sent",
		zap.String("trace_id", obs.GetTraceID(ctx)),
		zap.String("from", msg.From),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

const purchaseTemplates = `
{{- define "subject"}}Your tickets are confirmed (order {{shortID .OrderID.String}}){{end}}
{{- define "body"}}Hi {{with .FirstName}}{{.}}{{else}}there{{end}},

Thanks for your purchase. Order {{.OrderID}} is paid and your tickets are in your wallet.
{{range .Order.Items}}
  {{.Quantity}} x {{money .UnitPriceInCents}}{{if .FeeInCents}} + {{money .FeeInCents}} fees{{end}}
{{- end}}

Fees:  {{money .Order.FeesInCents}}
Total: {{money .Order.TotalInCents}}
{{end}}`

var templates = template.Must(template.New("purchase").Funcs(template.FuncMap{
	"money": func(cents int64) string { return decimal.New(cents, -2).StringFixed(2) },
	"shortID": func(id string) string {
		if len(id) > 8 {
			return id[:8]
		}
		return id
	},
}).Parse(purchaseTemplates))

type Mailer struct {
	sender Sender
	from   string
}

func New(sender Sender, from string) *Mailer {
	return &Mailer{sender: sender, from: from}
}

// Render builds the confirmation email for a completed purchase.
func (m *Mailer) Render(event models.PurchaseCompletedEvent) (Message, error) {
	var subject, body bytes.Buffer
	if err := templates.ExecuteTemplate(&subject, "subject", event); err != nil {
		return Message{}, fmt.Errorf("failed to render subject: %w", err)
	}
	if err := templates.ExecuteTemplate(&body, "body", event); err != nil {
		return Message{}, fmt.Errorf("failed to render body: %w", err)
	}
	return Message{
		From:    m.from,
		To:      event.Email,
		Subject: subject.String(),
		Body:    body.String(),
	}, nil
}

func (m *Mailer) PurchaseCompleted(ctx context.Context, event models.PurchaseCompletedEvent) error {
	msg, err := m.Render(event)
	if err != nil {
		return err
	}
	if err := m.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send confirmation to %s: %w", event.Email, err)
	}
	return nil
}
