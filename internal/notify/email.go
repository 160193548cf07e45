package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"storefront-service/internal/model"

	"github.com/resend/resend-go/v2"
)

type emailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// EmailNotifier sends order emails through Resend
type EmailNotifier struct {
	sender emailSender
	from   string
}

// NewEmailNotifier creates a notifier using a Resend API key
func NewEmailNotifier(apiKey, from string) (*EmailNotifier, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("resend: api key is required")
	}
	return newEmailNotifier(resend.NewClient(apiKey).Emails, from), nil
}

func newEmailNotifier(sender emailSender, from string) *EmailNotifier {
	return &EmailNotifier{sender: sender, from: from}
}

func (e *EmailNotifier) Name() string {
	return "email"
}

var emailTemplate = template.Must(template.New("order").Parse(`<h1>{{.Heading}}</h1>
<p>Hi {{.Name}},</p>
<p>{{.Message}}</p>
<table>
{{range .Items}}<tr><td>{{.Label}}</td><td>{{.Quantity}}</td><td>{{.Price}}</td></tr>
{{end}}</table>
<p><strong>Total: {{.Total}}</strong></p>
<p>Order {{.OrderNumber}}</p>
`))

type emailLine struct {
	Label    string
	Quantity int
	Price    string
}

type emailView struct {
	Heading     string
	Name        string
	Message     string
	OrderNumber string
	Total       string
	Items       []emailLine
}

func (e *EmailNotifier) Notify(ctx context.Context, event Event) error {
	order := event.Order
	if order.Customer == nil || order.Customer.Email == "" {
		return fmt.Errorf("order %d has no customer email", order.ID)
	}

	subject, heading, message, ok := emailCopy(event)
	if !ok {
		return nil
	}

	view := emailView{
		Heading:     heading,
		Name:        firstNonEmpty(order.Customer.Name, order.ShippingAddress.Name, "there"),
		Message:     message,
		OrderNumber: order.OrderNumber,
		Total:       order.TotalAmount.StringFixed(2),
	}
	for _, item := range order.Items {
		label := fmt.Sprintf("Item %d", item.ProductID)
		if item.Product != nil {
			label = item.Product.Name
		}
		if item.Variant != nil {
			label += " (" + string(item.Variant.Flavor) + ")"
		}
		view.Items = append(view.Items, emailLine{Label: label, Quantity: item.Quantity, Price: item.Price.StringFixed(2)})
	}

	var body bytes.Buffer
	if err := emailTemplate.Execute(&body, view); err != nil {
		return fmt.Errorf("render order email: %w", err)
	}

	_, err := e.sender.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    e.from,
		To:      []string{order.Customer.Email},
		Subject: subject,
		Html:    body.String(),
	})
	if err != nil {
		return fmt.Errorf("send order email: %w", err)
	}
	return nil
}

func emailCopy(event Event) (subject, heading, message string, ok bool) {
	number := event.Order.OrderNumber
	if event.Kind == OrderCreated {
		return "We received your order " + number, "Thanks for your order!",
			"We have reserved your treats and will start packing once payment arrives.", true
	}
	switch event.Order.Status {
	case model.OrderStatusPaid:
		return "Payment received for " + number, "Payment received",
			"Your payment went through. We are packing your order now.", true
	case model.OrderStatusShipped:
		return "Your order " + number + " is on its way", "Shipped",
			"Your order left our kitchen and is on its way to you.", true
	case model.OrderStatusDelivered:
		return "Your order " + number + " was delivered", "Delivered",
			"Your order has been delivered. Enjoy!", true
	case model.OrderStatusCancelled:
		return "Your order " + number + " was cancelled", "Order cancelled",
			"Your order has been cancelled. Reply to this email if this was unexpected.", true
	}
	return "", "", "", false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
