package pos

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderState string

const (
	StateOpen      OrderState = "OPEN"
	StateCompleted OrderState = "COMPLETED"
	StateDraft     OrderState = "DRAFT"
	StateCanceled  OrderState = "CANCELED"
)

type LineItem struct {
	UID       string   `json:"uid"`
	Name      string   `json:"name"`
	Quantity  int64    `json:"quantity"`
	Modifiers []string `json:"modifiers,omitempty"`
}

// Order is the canonical shape the rest of the service works with. Provider
// records are mapped into it exactly once, at fetch or webhook ingest.
type Order struct {
	ID          string          `json:"id"`
	LocationID  string          `json:"locationId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	TicketName  string          `json:"ticketName,omitempty"`
	LineItems   []LineItem      `json:"lineItems"`
	IsRush      bool            `json:"isRush"`
	IsPaid      bool            `json:"isPaid"`
	Source      string          `json:"source,omitempty"`
	State       OrderState      `json:"state"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency,omitempty"`
	Version     int64           `json:"version,omitempty"`
}

// DisplayName is what the ticket header shows when the provider sent no
// ticket name.
func (o Order) DisplayName() string {
	if o.TicketName != "" {
		return o.TicketName
	}
	if len(o.ID) > 6 {
		return "#" + o.ID[len(o.ID)-6:]
	}
	return "#" + o.ID
}

type Location struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type TimeRange struct {
	StartAt time.Time
	EndAt   time.Time
}
