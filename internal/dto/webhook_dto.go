package dto

import (
	"fmt"
	"strconv"
)

// SalesWebhookPayload is the inbound sales-platform notification. Only the
// fields the lifecycle machine consumes are modelled; the vendor sends more.
type SalesWebhookPayload struct {
	Event string           `json:"event"`
	Data  SalesWebhookData `json:"data"`
}

// SalesWebhookData carries the buyer, product and purchase sections.
type SalesWebhookData struct {
	Buyer    SalesWebhookBuyer    `json:"buyer"`
	Product  SalesWebhookProduct  `json:"product"`
	Purchase SalesWebhookPurchase `json:"purchase"`
}

// SalesWebhookBuyer identifies the purchaser.
type SalesWebhookBuyer struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	CheckoutPhone string `json:"checkout_phone"`
}

// SalesWebhookProduct carries the vendor-side product identifier.
type SalesWebhookProduct struct {
	ID any `json:"id"`
}

// IDString normalises the vendor product id, which arrives as either a
// JSON number or a string depending on the event kind.
func (p SalesWebhookProduct) IDString() string {
	switch v := p.ID.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// SalesWebhookPurchase carries the transaction identifier when present.
type SalesWebhookPurchase struct {
	Transaction string `json:"transaction"`
}

// WebhookResponse acknowledges an intake. Message distinguishes duplicates
// and ignored kinds; EventID points at the audit row.
type WebhookResponse struct {
	Received bool   `json:"received"`
	EventID  uint   `json:"event_id,omitempty"`
	Message  string `json:"message,omitempty"`
}
