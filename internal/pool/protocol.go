// Package pool implements the remote compute pool: a coordinator on the
// engine side hands operating points to sweep agents over WebSocket, and the
// agent client executes them with its locally installed solver. Messages are
// JSON envelopes with a type discriminator.
package pool

import "encoding/json"

// Envelope wraps all messages with a type discriminator.
// When marshaling, Payload can be any message struct.
// When unmarshaling, use EnvelopeRaw for type-based dispatch.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// EnvelopeRaw is used for receiving messages where the payload
// needs to be unmarshaled based on the message type.
type EnvelopeRaw struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MarshalEnvelope creates an envelope with the given type and payload
func MarshalEnvelope(msgType string, payload interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Type: msgType, Payload: payload})
}

// Agent -> Coordinator messages

// RegisterMessage sent when an agent first connects
type RegisterMessage struct {
	AgentID string `json:"agent_id"`
	Host    string `json:"host,omitempty"`
	Slots   int    `json:"slots"`
}

// ReadyMessage sent when an agent's free slot count changes
type ReadyMessage struct {
	Slots int `json:"slots"`
}

// OutputMessage carries one line of streamed solver output
type OutputMessage struct {
	PointID string `json:"point_id"`
	Data    string `json:"data"`
}

// ResultMessage sent when a point computation finishes. ResultYAML is the
// raw result file the solver wrote, empty when the solver produced none.
type ResultMessage struct {
	PointID    string `json:"point_id"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	ResultYAML string `json:"result_yaml,omitempty"`
}

// ErrorMessage sent when a point fails before the solver could finish
type ErrorMessage struct {
	PointID string `json:"point_id"`
	Message string `json:"message"`
}

// Coordinator -> Agent messages

// PointMessage assigns an operating point to an agent. Invocation is the
// full solver invocation file content; the agent writes it into a scratch
// directory and runs its own solver binary against it.
type PointMessage struct {
	PointID     string `json:"point_id"`
	Invocation  string `json:"invocation"`
	Procs       int    `json:"procs,omitempty"`
	TimeoutSecs int    `json:"timeout_secs,omitempty"`
}

// CancelMessage requests cancellation of a running point
type CancelMessage struct {
	PointID string `json:"point_id"`
}

// Message type constants
const (
	TypeRegister = "register"
	TypeReady    = "ready"
	TypeOutput   = "output"
	TypeResult   = "result"
	TypeError    = "error"
	TypePoint    = "point"
	TypeCancel   = "cancel"
)
