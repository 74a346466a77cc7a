package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medflow/intake-capture/internal/capture/domain"
	"github.com/medflow/intake-capture/pkg/logger"
	"github.com/medflow/intake-capture/pkg/messaging"
	"github.com/medflow/intake-capture/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureEventPublisher_Record(t *testing.T) {
	finished := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		outcome  domain.Outcome
		wantType string
		want     messaging.CaptureSessionEvent
	}{
		{
			name: "succeeded",
			outcome: domain.Outcome{
				SessionID:       "s-1",
				SurfaceID:       "reception-1",
				State:           domain.StateSucceeded,
				FieldsExtracted: []string{"cin", "nom", "prenom"},
				DurationMs:      4200,
				CreatedAt:       finished,
			},
			wantType: messaging.EventCaptureSucceeded,
			want: messaging.CaptureSessionEvent{
				SessionID:       "s-1",
				SurfaceID:       "reception-1",
				Outcome:         "succeeded",
				FieldsExtracted: 3,
				DurationMs:      4200,
				FinishedAt:      finished,
			},
		},
		{
			name: "failed",
			outcome: domain.Outcome{
				SessionID:  "s-2",
				SurfaceID:  "reception-1",
				State:      domain.StateFailed,
				ErrorClass: domain.ClassExtraction,
				ErrorKind:  domain.KindServiceUnavailable,
				DurationMs: 30000,
				CreatedAt:  finished,
			},
			wantType: messaging.EventCaptureFailed,
			want: messaging.CaptureSessionEvent{
				SessionID:  "s-2",
				SurfaceID:  "reception-1",
				Outcome:    "failed",
				ErrorClass: "extraction",
				ErrorKind:  "service_unavailable",
				DurationMs: 30000,
				FinishedAt: finished,
			},
		},
		{
			name: "cancelled",
			outcome: domain.Outcome{
				SessionID: "s-3",
				SurfaceID: "reception-2",
				State:     domain.StateCancelled,
				CreatedAt: finished,
			},
			wantType: messaging.EventCaptureCancelled,
			want: messaging.CaptureSessionEvent{
				SessionID:  "s-3",
				SurfaceID:  "reception-2",
				Outcome:    "cancelled",
				FinishedAt: finished,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := testutil.NewMockPublisher()
			p := NewWithPublisher(pub, logger.Nop())

			require.NoError(t, p.Record(context.Background(), tt.outcome))

			events := pub.Events()
			require.Len(t, events, 1)
			assert.Equal(t, tt.wantType, events[0].Type)
			assert.Equal(t, tt.want, events[0].Payload)
		})
	}
}

func TestCaptureEventPublisher_RejectsNonTerminal(t *testing.T) {
	pub := testutil.NewMockPublisher()
	p := NewWithPublisher(pub, logger.Nop())

	err := p.Record(context.Background(), domain.Outcome{State: domain.StateUploading})
	assert.Error(t, err)
	pub.AssertNoEventsPublished(t)
}

func TestCaptureEventPublisher_PublishError(t *testing.T) {
	pub := testutil.NewMockPublisher()
	pub.Err = errors.New("channel closed")
	p := NewWithPublisher(pub, logger.Nop())

	err := p.Record(context.Background(), domain.Outcome{State: domain.StateCancelled})
	assert.ErrorIs(t, err, pub.Err)
}

func TestCaptureEventPublisher_NilIsNoop(t *testing.T) {
	var p *CaptureEventPublisher
	assert.NoError(t, p.Record(context.Background(), domain.Outcome{State: domain.StateSucceeded}))
}
