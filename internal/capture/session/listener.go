package session

import (
	"github.com/medflow/intake-capture/internal/capture/domain"
)

// Transition is delivered to listeners after every state or status change.
// From equals To for status-only updates such as a rejected shutter press.
type Transition struct {
	From     domain.State    `json:"from"`
	To       domain.State    `json:"to"`
	Snapshot domain.Snapshot `json:"snapshot"`
}

// Listener observes session transitions. Calls happen outside the session
// lock and in transition order.
type Listener interface {
	OnTransition(t Transition)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(t Transition)

func (f ListenerFunc) OnTransition(t Transition) { f(t) }

// ChannelListener forwards transitions to a buffered channel, dropping
// them when the reader falls behind
type ChannelListener struct {
	C chan Transition
}

// NewChannelListener creates a listener with the given buffer size
func NewChannelListener(size int) *ChannelListener {
	return &ChannelListener{C: make(chan Transition, size)}
}

func (l *ChannelListener) OnTransition(t Transition) {
	select {
	case l.C <- t:
	default:
	}
}
