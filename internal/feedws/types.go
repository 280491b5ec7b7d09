package feedws

import (
	"context"

	"github.com/park285/quiz-duel/internal/domain"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// FrameOnline is the only frame type the duel server consumes.
const FrameOnline = "online"

// Frame is one JSON message from the presence gateway.
type Frame struct {
	Type    string          `json:"type"`
	Players []domain.Player `json:"players,omitempty"`
}

type FrameCallback func(frame *Frame)

type StateCallback func(state State)

// HeaderProvider injects headers at handshake (e.g. auth tokens).
type HeaderProvider func() map[string]string

type Client interface {
	Connect(ctx context.Context) error
	OnFrame(cb FrameCallback) int
	RemoveFrameCallback(id int)
	OnStateChange(cb StateCallback) int
	RemoveStateCallback(id int)
	Close(ctx context.Context) error
}
