package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/inventory.report/internal/units"
)

// Outbound message types.
const (
	TypeInventory = "inventory"
	TypeFrame     = "frame"
	TypeStats     = "stats"
	TypeSale      = "sale"
	TypeTimers    = "timers"
	TypePong      = "pong"
)

// Inbound message types.
const (
	TypePing         = "ping"
	TypeRequestFrame = "request_frame"
)

// Message is the envelope every observer receives:
// {"type": ..., "data": ..., "timestamp": <unix seconds>}.
type Message struct {
	Type      string  `json:"type"`
	Data      any     `json:"data,omitempty"`
	Timestamp float64 `json:"timestamp"`
}

// NewMessage stamps data with t.
func NewMessage(typ string, data any, t time.Time) Message {
	return Message{Type: typ, Data: data, Timestamp: units.UnixSeconds(t)}
}

// Stats is the payload of a stats message.
type Stats struct {
	FPS               float64 `json:"fps"`
	InferenceTime     float64 `json:"inference_time"`
	TotalItems        int     `json:"total_items"`
	FrameCount        uint64  `json:"frame_count"`
	ActiveConnections int     `json:"active_connections"`
}

// Inbound is a message received from an observer.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrMalformed is returned by ParseInbound for anything that is not a JSON
// object with a string type.
var ErrMalformed = errors.New("malformed message")

// ParseInbound decodes an observer message.
func ParseInbound(b []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(b, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if in.Type == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return in, nil
}
