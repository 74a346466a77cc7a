package events

import (
	"context"
	"fmt"

	"github.com/medflow/intake-capture/internal/capture/domain"
	"github.com/medflow/intake-capture/pkg/logger"
	"github.com/medflow/intake-capture/pkg/messaging"
)

// CaptureEventPublisher announces finished capture sessions
type CaptureEventPublisher struct {
	publisher messaging.EventPublisher
	logger    *logger.Logger
}

// NewCaptureEventPublisher creates a publisher on the capture exchange
func NewCaptureEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*CaptureEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeCaptureEvents, "intake-service", log)
	if err != nil {
		return nil, err
	}
	return NewWithPublisher(publisher, log), nil
}

// NewWithPublisher wraps an existing publisher
func NewWithPublisher(publisher messaging.EventPublisher, log *logger.Logger) *CaptureEventPublisher {
	return &CaptureEventPublisher{
		publisher: publisher,
		logger:    log.WithComponent("capture-events"),
	}
}

// Record publishes the outcome of a terminal session
func (p *CaptureEventPublisher) Record(ctx context.Context, o domain.Outcome) error {
	if p == nil {
		return nil
	}

	eventType, err := eventTypeFor(o.State)
	if err != nil {
		return err
	}

	data := messaging.CaptureSessionEvent{
		SessionID:       o.SessionID,
		SurfaceID:       o.SurfaceID,
		Outcome:         string(o.State),
		ErrorClass:      string(o.ErrorClass),
		ErrorKind:       string(o.ErrorKind),
		FieldsExtracted: len(o.FieldsExtracted),
		DurationMs:      o.DurationMs,
		FinishedAt:      o.CreatedAt,
	}

	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("session_id", o.SessionID).Msg("failed to publish capture event")
		return err
	}
	return nil
}

func eventTypeFor(s domain.State) (string, error) {
	switch s {
	case domain.StateSucceeded:
		return messaging.EventCaptureSucceeded, nil
	case domain.StateFailed:
		return messaging.EventCaptureFailed, nil
	case domain.StateCancelled:
		return messaging.EventCaptureCancelled, nil
	default:
		return "", fmt.Errorf("session state %q is not terminal", s)
	}
}
