package device

import (
	"context"
	"image"

	"github.com/medflow/intake-capture/internal/capture/domain"
	"github.com/vova616/screenshot"
)

// ScreenSource captures a region of the display, typically the preview
// window of a USB document camera viewer
type ScreenSource struct {
	region image.Rectangle
}

// NewScreenSource captures region; an empty region means the whole screen
func NewScreenSource(region image.Rectangle) *ScreenSource {
	return &ScreenSource{region: region}
}

func (s *ScreenSource) Name() string { return "screen" }

// Facings reports environment only: the viewer shows a camera pointed at
// the desk
func (s *ScreenSource) Facings() []domain.Facing {
	return []domain.Facing{domain.FacingEnvironment}
}

func (s *ScreenSource) Open(ctx context.Context, c domain.Constraints) (Stream, error) {
	screen, err := screenshot.ScreenRect()
	if err != nil {
		return nil, domain.DeviceError(domain.KindDeviceNotFound, "no display available", err)
	}

	region := s.region
	if region.Empty() {
		region = screen
	}
	if !region.In(screen) {
		return nil, domain.DeviceError(domain.KindConstraintsUnsupported, "capture region "+region.String()+" outside screen "+screen.String(), nil)
	}
	return &screenStream{region: region}, nil
}

type screenStream struct {
	region image.Rectangle
}

func (s *screenStream) Frame() (image.Image, error) {
	img, err := screenshot.CaptureRect(s.region)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (s *screenStream) Close() error { return nil }
