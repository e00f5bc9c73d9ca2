package pos

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// rawOrder mirrors the provider's order payload. Money amounts are decoded
// as json.Number because the provider serializes them from 64-bit integers
// that can exceed float precision.
type rawOrder struct {
	ID         string `json:"id"`
	LocationID string `json:"location_id"`
	CreatedAt  string `json:"created_at"`
	ClosedAt   string `json:"closed_at"`
	State      string `json:"state"`
	TicketName string `json:"ticket_name"`
	Version    int64  `json:"version"`
	Source     *struct {
		Name string `json:"name"`
	} `json:"source"`
	LineItems []struct {
		UID       string      `json:"uid"`
		Name      string      `json:"name"`
		Quantity  json.Number `json:"quantity"`
		Modifiers []struct {
			Name string `json:"name"`
		} `json:"modifiers"`
	} `json:"line_items"`
	TotalMoney *struct {
		Amount   json.Number `json:"amount"`
		Currency string      `json:"currency"`
	} `json:"total_money"`
	Tenders []json.RawMessage `json:"tenders"`
}

var (
	errMissingID        = errors.New("order record has no id")
	errMissingCreatedAt = errors.New("order record has no created_at")
	errUnknownState     = errors.New("order record has unknown state")
)

// normalizeOrder is a total mapping from a provider record to the canonical
// Order. It fails closed: a record it cannot map is rejected whole, never
// passed through partially populated.
func normalizeOrder(raw rawOrder, rushMarker string) (Order, error) {
	if strings.TrimSpace(raw.ID) == "" {
		return Order{}, errMissingID
	}
	createdAt, err := time.Parse(time.RFC3339, raw.CreatedAt)
	if err != nil {
		return Order{}, errMissingCreatedAt
	}

	state := OrderState(strings.ToUpper(strings.TrimSpace(raw.State)))
	switch state {
	case StateOpen, StateCompleted, StateDraft, StateCanceled:
	default:
		return Order{}, errUnknownState
	}

	order := Order{
		ID:         raw.ID,
		LocationID: raw.LocationID,
		CreatedAt:  createdAt,
		TicketName: raw.TicketName,
		State:      state,
		Version:    raw.Version,
		IsPaid:     len(raw.Tenders) > 0,
	}

	if raw.ClosedAt != "" {
		if closedAt, err := time.Parse(time.RFC3339, raw.ClosedAt); err == nil {
			order.CompletedAt = &closedAt
		}
	}
	if raw.Source != nil {
		order.Source = raw.Source.Name
	}
	if rushMarker != "" {
		order.IsRush = strings.Contains(strings.ToLower(raw.TicketName), strings.ToLower(rushMarker))
	}

	order.LineItems = make([]LineItem, 0, len(raw.LineItems))
	for _, item := range raw.LineItems {
		quantity := int64(1)
		if q, err := item.Quantity.Int64(); err == nil && q > 0 {
			quantity = q
		} else if f, err := item.Quantity.Float64(); err == nil && f > 0 {
			quantity = int64(f)
		}
		li := LineItem{UID: item.UID, Name: item.Name, Quantity: quantity}
		for _, mod := range item.Modifiers {
			if mod.Name != "" {
				li.Modifiers = append(li.Modifiers, mod.Name)
			}
		}
		order.LineItems = append(order.LineItems, li)
	}

	if raw.TotalMoney != nil {
		order.Currency = raw.TotalMoney.Currency
		order.Total = centsToDecimal(raw.TotalMoney.Amount)
	}

	return order, nil
}

// centsToDecimal converts an integer-cent amount to a decimal-safe major
// unit value without ever passing through a float.
func centsToDecimal(amount json.Number) decimal.Decimal {
	text := strings.TrimSpace(amount.String())
	if text == "" {
		return decimal.Zero
	}
	cents, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		parsed, perr := decimal.NewFromString(text)
		if perr != nil {
			return decimal.Zero
		}
		return parsed.Shift(-2)
	}
	return decimal.New(cents, -2)
}
