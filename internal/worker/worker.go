package worker

import (
	"context"
	"errors"
	"time"

	"rental-service/internal/broker"
	"rental-service/internal/models"
	"rental-service/internal/service"
	"rental-service/internal/util"

	"go.uber.org/zap"
)

const paymentDedupeTTL = 24 * time.Hour

// PaymentConfirmer completes orders reported paid by the gateway
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, req *service.PaymentConfirmation) (*models.Order, error)
}

// Deduper remembers which events were already handled
type Deduper interface {
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ForgetProcessed(ctx context.Context, key string) error
}

// PaymentWorker consumes payment confirmations from the gateway collaborator
type PaymentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	payments     PaymentConfirmer
	dedupe       Deduper
	logger       *zap.Logger
}

// NewPaymentWorker creates a new payment worker. dedupe may be nil.
func NewPaymentWorker(consumer *broker.Consumer, payments PaymentConfirmer, dedupe Deduper) *PaymentWorker {
	w := &PaymentWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		payments:     payments,
		dedupe:       dedupe,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnPaymentConfirmed(w.handlePaymentConfirmed)
	return w
}

// Start consumes until ctx is cancelled
func (w *PaymentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the payment worker
func (w *PaymentWorker) Stop() error {
	w.logger.Info("Stopping payment worker")
	return w.consumer.Close()
}

func (w *PaymentWorker) handlePaymentConfirmed(ctx context.Context, event *models.PaymentConfirmedEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentWorker.HandlePaymentConfirmed")
	defer span.End()

	key := "payment:" + event.EventID
	if w.dedupe != nil && event.EventID != "" {
		first, err := w.dedupe.MarkProcessed(ctx, key, paymentDedupeTTL)
		if err != nil {
			w.logger.Warn("Dedupe check failed, processing anyway", zap.String("event_id", event.EventID), zap.Error(err))
		} else if !first {
			w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
			return nil
		}
	}

	_, err := w.payments.ConfirmPayment(ctx, &service.PaymentConfirmation{
		OrderID:         event.OrderID,
		TransactionUUID: event.TransactionUUID,
		PaymentMethod:   event.PaymentMethod,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrOrderNotFound), errors.Is(err, service.ErrInvalidOrderState):
		// not retryable, commit and move on
		w.logger.Warn("Dropping payment confirmation",
			zap.Int64("order_id", event.OrderID),
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return nil
	}

	if w.dedupe != nil && event.EventID != "" {
		if ferr := w.dedupe.ForgetProcessed(context.WithoutCancel(ctx), key); ferr != nil {
			w.logger.Warn("Failed to clear dedupe key", zap.String("event_id", event.EventID), zap.Error(ferr))
		}
	}
	return err
}
