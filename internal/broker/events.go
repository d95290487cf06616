package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"rental-service/internal/models"
	"rental-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrMalformedMessage marks a message that can never be handled
var ErrMalformedMessage = errors.New("malformed message")

// EventWriter writes one keyed event
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	writer EventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(writer EventWriter) *EventPublisher {
	return &EventPublisher{writer: writer}
}

// OrderKey is the partition key for every event about an order
func OrderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PublishOrderEvent publishes an order lifecycle event
func (ep *EventPublisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	return ep.writer.PublishEvent(ctx, OrderKey(event.OrderID), event)
}

// PublishTransactionPosted publishes TransactionPosted event
func (ep *EventPublisher) PublishTransactionPosted(ctx context.Context, event *models.TransactionPostedEvent) error {
	return ep.writer.PublishEvent(ctx, OrderKey(event.OrderID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onPaymentConfirmed func(context.Context, *models.PaymentConfirmedEvent) error
	logger             *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentConfirmed registers a handler for PaymentConfirmed events
func (eh *EventHandler) OnPaymentConfirmed(handler func(context.Context, *models.PaymentConfirmedEvent) error) {
	eh.onPaymentConfirmed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: base event: %v", ErrMalformedMessage, err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentConfirmed:
		if eh.onPaymentConfirmed != nil {
			var event models.PaymentConfirmedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: PaymentConfirmed event: %v", ErrMalformedMessage, err)
			}
			return eh.onPaymentConfirmed(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
