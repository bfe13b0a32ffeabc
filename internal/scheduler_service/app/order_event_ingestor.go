package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/profiqo/golang_services/internal/core_domain"
	"github.com/profiqo/golang_services/internal/platform/messagebroker"
)

// OrderEventMessage is the wire form of an order event, shared by NATS and HTTP ingestion.
type OrderEventMessage struct {
	TenantID      uuid.UUID `json:"tenantId" validate:"required"`
	OrderID       string    `json:"orderId" validate:"required,max=200"`
	CustomerID    uuid.UUID `json:"customerId" validate:"required"`
	ToE164        string    `json:"toE164" validate:"required,e164"`
	OccurredAtUTC time.Time `json:"occurredAtUtc" validate:"required"`
}

// OrderEventIngestor validates incoming order events and appends them to the feed.
type OrderEventIngestor struct {
	repo     core_domain.OrderEventRepository
	validate *validator.Validate
	logger   *slog.Logger
}

func NewOrderEventIngestor(repo core_domain.OrderEventRepository, validate *validator.Validate, logger *slog.Logger) *OrderEventIngestor {
	return &OrderEventIngestor{repo: repo, validate: validate, logger: logger.With("component", "order_event_ingestor")}
}

// ValidationError is returned for messages that fail validation.
type ValidationError struct{ Err error }

func (e *ValidationError) Error() string { return "invalid order event: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// Ingest stores msg once per (tenant, order id). source labels metrics.
func (i *OrderEventIngestor) Ingest(ctx context.Context, source string, msg OrderEventMessage) (bool, error) {
	if err := i.validate.StructCtx(ctx, msg); err != nil {
		orderEventsIngestedCounter.WithLabelValues(source, "invalid").Inc()
		return false, &ValidationError{Err: err}
	}
	ev := &core_domain.OrderEvent{
		ID:            uuid.New(),
		TenantID:      msg.TenantID,
		OrderID:       msg.OrderID,
		CustomerID:    msg.CustomerID,
		ToE164:        msg.ToE164,
		OccurredAtUTC: msg.OccurredAtUTC.UTC(),
		CreatedAtUTC:  time.Now().UTC(),
	}
	inserted, err := i.repo.Append(ctx, ev)
	if err != nil {
		orderEventsIngestedCounter.WithLabelValues(source, "error").Inc()
		return false, fmt.Errorf("append order event: %w", err)
	}
	if inserted {
		orderEventsIngestedCounter.WithLabelValues(source, "stored").Inc()
		i.logger.InfoContext(ctx, "Order event stored", "tenant_id", ev.TenantID, "order_id", ev.OrderID, "source", source)
	} else {
		orderEventsIngestedCounter.WithLabelValues(source, "duplicate").Inc()
		i.logger.DebugContext(ctx, "Duplicate order event ignored", "tenant_id", ev.TenantID, "order_id", ev.OrderID)
	}
	return inserted, nil
}

// OrderEventConsumer feeds order events published on NATS into the ingestor.
type OrderEventConsumer struct {
	natsClient *messagebroker.NATSClient
	ingestor   *OrderEventIngestor
	logger     *slog.Logger
}

func NewOrderEventConsumer(nc *messagebroker.NATSClient, ingestor *OrderEventIngestor, logger *slog.Logger) *OrderEventConsumer {
	return &OrderEventConsumer{natsClient: nc, ingestor: ingestor, logger: logger.With("component", "order_event_consumer")}
}

// StartConsuming subscribes with queueGroup and blocks until ctx is cancelled.
func (c *OrderEventConsumer) StartConsuming(ctx context.Context, subject, queueGroup string) error {
	_, err := c.natsClient.SubscribeToSubjectWithQueue(ctx, subject, queueGroup, func(msg *nats.Msg) {
		c.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe to order events: %w", err)
	}
	<-ctx.Done()
	c.logger.Info("Order event consumer stopping", "subject", subject)
	return nil
}

func (c *OrderEventConsumer) handleMessage(ctx context.Context, msg *nats.Msg) {
	var payload OrderEventMessage
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		orderEventsIngestedCounter.WithLabelValues("nats", "invalid").Inc()
		c.logger.ErrorContext(ctx, "Failed to deserialize order event", "error", err, "subject", msg.Subject, "data", string(msg.Data))
		return
	}
	// The append must land even if shutdown starts mid-message.
	ingestCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := c.ingestor.Ingest(ingestCtx, "nats", payload); err != nil {
		c.logger.ErrorContext(ctx, "Failed to ingest order event", "error", err, "subject", msg.Subject, "order_id", payload.OrderID)
	}
}
