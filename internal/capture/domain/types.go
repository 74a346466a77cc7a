package domain

import (
	"bytes"
	"time"
)

// Facing selects which physical camera a source should use
type Facing string

const (
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

// Constraints describe the frame source a session asks for
type Constraints struct {
	Facing      Facing `json:"facing"`
	IdealWidth  int    `json:"ideal_width"`
	IdealHeight int    `json:"ideal_height"`
}

// Side identifies which face of the document a capture holds
type Side string

const (
	SideFront Side = "front"
	SideBack  Side = "back"
)

// ContentTypeJPEG is the only encoding produced by the grabber
const ContentTypeJPEG = "image/jpeg"

// Image is an encoded still owned by exactly one session until discarded
type Image struct {
	Data        []byte    `json:"-"`
	Thumbnail   []byte    `json:"-"`
	ContentType string    `json:"content_type"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Empty reports whether the image carries no bytes
func (i *Image) Empty() bool {
	return i == nil || len(i.Data) == 0
}

// Discard zeroes the encoded bytes and the thumbnail in place and drops them
func (i *Image) Discard() {
	if i == nil {
		return
	}
	ZeroBytes(i.Data)
	ZeroBytes(i.Thumbnail)
	i.Data = nil
	i.Thumbnail = nil
}

// Clone returns a copy that owns its encoded bytes. The thumbnail is not
// carried over.
func (i *Image) Clone() Image {
	c := *i
	c.Data = bytes.Clone(i.Data)
	c.Thumbnail = nil
	return c
}

// ZeroBytes overwrites b with zeros
func ZeroBytes(b []byte) {
	for j := range b {
		b[j] = 0
	}
}

// ExtractedFields maps source field names to values as returned by the
// extraction service. Consumed once by the autofill mapper.
type ExtractedFields map[string]string

// Severity of a status message shown next to the capture controls
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityLoading Severity = "loading"
)

// Status is the single user-visible message of a session
type Status struct {
	Severity Severity          `json:"severity"`
	Key      string            `json:"key"`
	Params   map[string]string `json:"-"`
	Message  string            `json:"message"`
}

// Controls reports which trigger actions are currently allowed
type Controls struct {
	StartEnabled   bool `json:"start_enabled"`
	ShutterEnabled bool `json:"shutter_enabled"`
	CancelEnabled  bool `json:"cancel_enabled"`
}

// Previews holds revocable handles for the captured thumbnails
type Previews struct {
	Front string `json:"front,omitempty"`
	Back  string `json:"back,omitempty"`
}

// ErrorInfo is the surfaced form of the last session failure
type ErrorInfo struct {
	Class   ErrorClass `json:"class"`
	Kind    ErrorKind  `json:"kind"`
	Message string     `json:"message"`
}

// Snapshot is a consistent read-only view of a session
type Snapshot struct {
	ID          string     `json:"id"`
	SurfaceID   string     `json:"surface_id"`
	State       State      `json:"state"`
	Phase       Side       `json:"phase,omitempty"`
	Busy        bool       `json:"busy"`
	Status      Status     `json:"status"`
	Instruction string     `json:"instruction,omitempty"`
	Controls    Controls   `json:"controls"`
	Previews    Previews   `json:"previews"`
	LastError   *ErrorInfo `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Outcome is the terminal result of a session, recorded for audit.
// It never holds image bytes or field values.
type Outcome struct {
	SessionID         string     `db:"session_id"`
	SurfaceID         string     `db:"surface_id"`
	State             State      `db:"outcome"`
	ErrorClass        ErrorClass `db:"error_class"`
	ErrorKind         ErrorKind  `db:"error_kind"`
	FieldsExtracted   []string   `db:"fields_extracted"`
	DurationMs        int64      `db:"duration_ms"`
	ImagesDiscardedAt time.Time  `db:"images_discarded_at"`
	CreatedAt         time.Time  `db:"created_at"`
}
