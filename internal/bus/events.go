package bus

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"prepline-kds-service/internal/board"
	"prepline-kds-service/internal/pos"
)

const (
	Exchange = "kds.events"

	routingOrderCreated   = "order.created"
	routingOrderUpdated   = "order.updated"
	routingOrderCompleted = "order.completed"
	routingOrderReopened  = "order.reopened"
)

// Envelope is the message every display puts on the exchange. Origin is the
// sender's display id: consumers skip their own messages, so a completion
// never loops back and re-triggers an outbound notification.
type Envelope struct {
	Type    string     `json:"type"`
	Origin  string     `json:"origin"`
	OrderID string     `json:"orderId,omitempty"`
	Order   *pos.Order `json:"order,omitempty"`
}

// EventBus connects the engine to the other displays: it is the engine's
// Publisher and the consumer feeding remote events back in.
type EventBus struct {
	client *Client
	origin string
	queue  string
	logger *zap.Logger
}

func NewEventBus(client *Client, origin string, logger *zap.Logger) *EventBus {
	return &EventBus{
		client: client,
		origin: origin,
		queue:  "kds.display." + origin,
		logger: logger,
	}
}

func (b *EventBus) Close() error {
	return b.client.Close()
}

// EnsureTopology declares the exchange and this display's queue, bound to
// every order event.
func (b *EventBus) EnsureTopology() error {
	if err := b.client.EnsureExchange(Exchange); err != nil {
		return err
	}
	if _, err := b.client.EnsureDisplayQueue(b.queue); err != nil {
		return err
	}
	return b.client.BindQueue(b.queue, Exchange, "order.#")
}

func (b *EventBus) PublishOrderCompleted(ctx context.Context, orderID string) error {
	return b.client.PublishJSON(ctx, Exchange, routingOrderCompleted, Envelope{
		Type:    routingOrderCompleted,
		Origin:  b.origin,
		OrderID: orderID,
	})
}

func (b *EventBus) PublishOrderReopened(ctx context.Context, orderID string) error {
	return b.client.PublishJSON(ctx, Exchange, routingOrderReopened, Envelope{
		Type:    routingOrderReopened,
		Origin:  b.origin,
		OrderID: orderID,
	})
}

// RelayOrderEvent forwards a provider webhook (created/updated) to the other
// displays, which have no webhook of their own.
func (b *EventBus) RelayOrderEvent(ctx context.Context, eventType string, order pos.Order) error {
	return b.client.PublishJSON(ctx, Exchange, eventType, Envelope{
		Type:   eventType,
		Origin: b.origin,
		Order:  &order,
	})
}

// Run consumes the display queue and folds remote events into the engine.
// Blocks until the consumer closes.
func (b *EventBus) Run(engine *board.Engine) error {
	return b.client.ConsumeWithRetry(b.queue, func(_ context.Context, body []byte) error {
		b.handle(engine, body)
		return nil
	}, 3, 2*time.Second)
}

// handle never returns an error: a malformed payload is dropped and logged,
// it must not poison the queue or affect other orders.
func (b *EventBus) handle(engine *board.Engine, body []byte) {
	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		b.logger.Warn("dropping malformed bus message", zap.Error(err))
		return
	}
	if envelope.Origin == b.origin {
		return
	}

	event, ok := toBoardEvent(envelope)
	if !ok {
		b.logger.Warn("dropping bus message", zap.String("type", envelope.Type))
		return
	}
	engine.ApplyPushEvent(event)
}

func toBoardEvent(envelope Envelope) (board.Event, bool) {
	switch envelope.Type {
	case routingOrderCreated:
		if envelope.Order == nil {
			return board.Event{}, false
		}
		return board.Event{Type: board.EventOrderCreated, Order: envelope.Order}, true
	case routingOrderUpdated:
		if envelope.Order == nil {
			return board.Event{}, false
		}
		return board.Event{Type: board.EventOrderUpdated, Order: envelope.Order}, true
	case routingOrderCompleted:
		if envelope.OrderID == "" {
			return board.Event{}, false
		}
		return board.Event{Type: board.EventOrderCompleted, OrderID: envelope.OrderID}, true
	case routingOrderReopened:
		if envelope.OrderID == "" {
			return board.Event{}, false
		}
		return board.Event{Type: board.EventOrderReopened, OrderID: envelope.OrderID}, true
	default:
		return board.Event{}, false
	}
}
