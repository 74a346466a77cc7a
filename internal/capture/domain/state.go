package domain

// State of a capture session
type State string

const (
	StateIdle             State = "idle"
	StateRequestingDevice State = "requesting_device"
	StateDeviceReady      State = "device_ready"
	StateCapturingFront   State = "capturing_front"
	StateFrontCaptured    State = "front_captured"
	StateCapturingBack    State = "capturing_back"
	StateBackCaptured     State = "back_captured"
	StateUploading        State = "uploading"
	StateSucceeded        State = "succeeded"
	StateFailed           State = "failed"
	StateCancelled        State = "cancelled"
)

// IsTerminal reports whether no further transition leaves s
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// HoldsDevice reports whether a session in s owns an acquired device handle
func (s State) HoldsDevice() bool {
	switch s {
	case StateDeviceReady, StateCapturingFront, StateFrontCaptured, StateCapturingBack:
		return true
	}
	return false
}

// AcceptsShutter reports whether a frame may be captured in s
func (s State) AcceptsShutter() bool {
	return s == StateDeviceReady || s == StateFrontCaptured
}
