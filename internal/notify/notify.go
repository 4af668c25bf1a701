// Package notify sends order lifecycle emails. Every send is best-effort:
// failures are logged and swallowed, they never reach the caller's
// transaction.
package notify

import (
	"bytes"
	"fmt"
	"net/smtp"
	"text/template"

	"github.com/jordan-wright/email"
	"github.com/rs/zerolog"

	"github.com/BohdanKuzik/MamaSHO/internal/config"
	"github.com/BohdanKuzik/MamaSHO/internal/models"
)

type Notifier struct {
	cfg    config.MailConfig
	logger zerolog.Logger
}

func New(cfg config.MailConfig, logger zerolog.Logger) *Notifier {
	return &Notifier{cfg: cfg, logger: logger}
}

var orderCreatedTemplate = template.Must(template.New("order_created").Parse(
	`New order {{.Order.OrderNumber}} (#{{.Order.ID}})

Total: {{.Order.TotalPrice}} UAH
Payment method: {{.Order.PaymentMethod}}
Delivery: {{.Order.DeliveryName}}, {{.Order.DeliveryPhone}}
{{.Order.DeliveryAddress}}

Items:
{{- range .Order.Items}}
  - product {{.ProductID}} x {{.Quantity}} = {{.Subtotal}}
{{- end}}
`))

var orderPaidTemplate = template.Must(template.New("order_paid").Parse(
	`Your order {{.Order.OrderNumber}} has been paid.

Amount: {{.Order.TotalPrice}} UAH

We will ship it shortly. Thank you for your purchase!
`))

var orderStatusTemplate = template.Must(template.New("order_status").Parse(
	`Your order {{.Order.OrderNumber}} moved from "{{.From}}" to "{{.To}}".
`))

// OrderCreated mails the shop's operators about a new order. Call it from a
// goroutine after the checkout transaction committed.
func (n *Notifier) OrderCreated(order *models.Order) {
	if len(n.cfg.OrderRecipients) == 0 {
		n.logger.Warn().
			Int64("order_id", order.ID).
			Msg("order notification recipients not configured, skipping email")
		return
	}

	subject := fmt.Sprintf("New order %s", order.OrderNumber)
	n.send(subject, orderCreatedTemplate, map[string]any{"Order": order}, n.cfg.OrderRecipients, order.ID)
}

// OrderPaid mails the customer after the payment gateway confirms payment.
func (n *Notifier) OrderPaid(order *models.Order, customerEmail string) {
	if customerEmail == "" {
		return
	}

	subject := fmt.Sprintf("Order %s paid", order.OrderNumber)
	n.send(subject, orderPaidTemplate, map[string]any{"Order": order}, []string{customerEmail}, order.ID)
}

// OrderStatusChanged mails the customer about a fulfillment transition. The
// caller passes both ends of the transition explicitly.
func (n *Notifier) OrderStatusChanged(order *models.Order, customerEmail, from, to string) {
	if customerEmail == "" || from == to {
		return
	}

	subject := fmt.Sprintf("Order %s update", order.OrderNumber)
	n.send(subject, orderStatusTemplate, map[string]any{
		"Order": order,
		"From":  from,
		"To":    to,
	}, []string{customerEmail}, order.ID)
}

func (n *Notifier) send(subject string, tmpl *template.Template, data any, recipients []string, orderID int64) {
	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		n.logger.Error().Err(err).
			Int64("order_id", orderID).
			Str("subject", subject).
			Msg("failed to render notification email")
		return
	}

	msg := email.NewEmail()
	msg.From = n.cfg.From
	msg.To = recipients
	msg.Subject = subject
	msg.Text = body.Bytes()

	addr := n.cfg.SMTPHost + ":" + n.cfg.SMTPPort
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.SMTPHost)
	}

	if err := msg.Send(addr, auth); err != nil {
		n.logger.Error().Err(err).
			Int64("order_id", orderID).
			Str("subject", subject).
			Msg("failed to send notification email")
		return
	}

	n.logger.Info().
		Int64("order_id", orderID).
		Str("subject", subject).
		Strs("recipients", recipients).
		Msg("notification email sent")
}
