package domain

import (
	"errors"
	"fmt"
)

// ErrorClass groups failures by the stage that produced them
type ErrorClass string

const (
	ClassDevice     ErrorClass = "device"
	ClassCapture    ErrorClass = "capture"
	ClassExtraction ErrorClass = "extraction"
)

// ErrorKind is the closed set of failure causes
type ErrorKind string

const (
	KindPermissionDenied       ErrorKind = "permission_denied"
	KindDeviceNotFound         ErrorKind = "device_not_found"
	KindDeviceBusy             ErrorKind = "device_busy"
	KindConstraintsUnsupported ErrorKind = "constraints_unsupported"
	KindNotReady               ErrorKind = "not_ready"
	KindUnknown                ErrorKind = "unknown"
	KindEncoding               ErrorKind = "encoding"
	KindServiceUnavailable     ErrorKind = "service_unavailable"
	KindNoDataExtracted        ErrorKind = "no_data_extracted"
	KindTransportError         ErrorKind = "transport_error"
)

// CaptureError is a classified pipeline failure. Detail is diagnostic
// only; Message is the text surfaced to the user, when the producer has one.
type CaptureError struct {
	Class   ErrorClass
	Kind    ErrorKind
	Message string
	Detail  string
	Err     error
}

func (e *CaptureError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Class, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Is matches another CaptureError with the same class and kind, so the
// sentinels below work with errors.Is.
func (e *CaptureError) Is(target error) bool {
	t, ok := target.(*CaptureError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Kind == t.Kind
}

// Info returns the surfaced form of the error
func (e *CaptureError) Info() *ErrorInfo {
	return &ErrorInfo{Class: e.Class, Kind: e.Kind, Message: e.Message}
}

// Sentinels for errors.Is matching
var (
	ErrPermissionDenied       = &CaptureError{Class: ClassDevice, Kind: KindPermissionDenied}
	ErrDeviceNotFound         = &CaptureError{Class: ClassDevice, Kind: KindDeviceNotFound}
	ErrDeviceBusy             = &CaptureError{Class: ClassDevice, Kind: KindDeviceBusy}
	ErrConstraintsUnsupported = &CaptureError{Class: ClassDevice, Kind: KindConstraintsUnsupported}
	ErrDeviceNotReady         = &CaptureError{Class: ClassDevice, Kind: KindNotReady}
	ErrDeviceUnknown          = &CaptureError{Class: ClassDevice, Kind: KindUnknown}
	ErrEncoding               = &CaptureError{Class: ClassCapture, Kind: KindEncoding}
	ErrServiceUnavailable     = &CaptureError{Class: ClassExtraction, Kind: KindServiceUnavailable}
	ErrNoDataExtracted        = &CaptureError{Class: ClassExtraction, Kind: KindNoDataExtracted}
	ErrTransport              = &CaptureError{Class: ClassExtraction, Kind: KindTransportError}
)

// Session-level rejections. These never move a session to Failed.
var (
	ErrOperationInFlight = errors.New("capture operation already in progress")
	ErrNotReady          = errors.New("capture device not ready")
	ErrSessionClosed     = errors.New("capture session has ended")
	ErrSessionNotFound   = errors.New("capture session not found")
	ErrPreviewNotFound   = errors.New("preview not found")
)

// DeviceError builds a device-class failure
func DeviceError(kind ErrorKind, detail string, err error) *CaptureError {
	return &CaptureError{Class: ClassDevice, Kind: kind, Detail: detail, Err: err}
}

// EncodingError builds the capture-class failure of the grabber
func EncodingError(detail string, err error) *CaptureError {
	return &CaptureError{Class: ClassCapture, Kind: KindEncoding, Detail: detail, Err: err}
}

// ExtractionError builds an extraction-class failure carrying the message
// reported by the extraction service
func ExtractionError(kind ErrorKind, message, detail string, err error) *CaptureError {
	return &CaptureError{Class: ClassExtraction, Kind: kind, Message: message, Detail: detail, Err: err}
}

// AsCaptureError extracts a CaptureError from err. Unclassified errors
// become an Unknown failure of the given class.
func AsCaptureError(err error, fallback ErrorClass) *CaptureError {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce
	}
	kind := KindUnknown
	switch fallback {
	case ClassCapture:
		kind = KindEncoding
	case ClassExtraction:
		kind = KindTransportError
	}
	return &CaptureError{Class: fallback, Kind: kind, Err: err}
}
