package session

import (
	"context"

	"github.com/medflow/intake-capture/internal/capture/autofill"
	"github.com/medflow/intake-capture/internal/capture/device"
	"github.com/medflow/intake-capture/internal/capture/domain"
	"github.com/medflow/intake-capture/pkg/logger"
)

// DeviceAcquirer hands out exclusive device handles
type DeviceAcquirer interface {
	Acquire(ctx context.Context, c domain.Constraints) (*device.Handle, error)
	Release(h *device.Handle)
}

// FrameGrabber produces an encoded still from an acquired device
type FrameGrabber interface {
	Grab(ctx context.Context, h *device.Handle) (domain.Image, error)
}

// ExtractionGateway turns the two card images into fields
type ExtractionGateway interface {
	Extract(ctx context.Context, front, back domain.Image) (domain.ExtractedFields, error)
}

// FormMapper writes extracted fields into the form of a surface
type FormMapper interface {
	Apply(ctx context.Context, surfaceID string, fields domain.ExtractedFields) (*autofill.Result, error)
}

// PreviewStore publishes thumbnails under revocable handles
type PreviewStore interface {
	Put(data []byte) string
	Revoke(handle string)
}

// OutcomeRecorder is told once about every session that reaches a
// terminal state
type OutcomeRecorder interface {
	Record(ctx context.Context, outcome domain.Outcome) error
}

// Deps are the collaborators shared by all sessions
type Deps struct {
	Devices   DeviceAcquirer
	Grabber   FrameGrabber
	Gateway   ExtractionGateway
	Mapper    FormMapper
	Previews  PreviewStore
	Recorders []OutcomeRecorder
	Log       *logger.Logger
}
