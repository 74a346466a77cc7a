package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventCaptureSucceeded = "capture.session.succeeded"
	EventCaptureFailed    = "capture.session.failed"
	EventCaptureCancelled = "capture.session.cancelled"
)

// ExchangeCaptureEvents carries session outcome events
const ExchangeCaptureEvents = "capture.events"

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// CaptureSessionEvent is published when a capture session reaches a
// terminal state. It never carries image bytes or extracted field values.
type CaptureSessionEvent struct {
	SessionID       string    `json:"session_id"`
	SurfaceID       string    `json:"surface_id"`
	Outcome         string    `json:"outcome"`
	ErrorClass      string    `json:"error_class,omitempty"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	FieldsExtracted int       `json:"fields_extracted"`
	DurationMs      int64     `json:"duration_ms"`
	FinishedAt      time.Time `json:"finished_at"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.NewString()
}
