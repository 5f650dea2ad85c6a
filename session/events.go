package session

import (
	"encoding/json"
	"fmt"

	"github.com/projecteru2/hatchery/types"
)

// Inbound event names.
const (
	EventSendCommand = "send_command"
	EventPowerAction = "power_action"
)

// Outbound event names.
const (
	EventAuthSuccess   = "auth_success"
	EventConsoleOutput = "console_output"
	EventStats         = "stats"
	EventPowerStatus   = "power_status"
	EventError         = "error"
)

// Envelope is the JSON frame exchanged on the websocket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AuthSuccessData carries the log backlog and current state after a
// successful attach.
type AuthSuccessData struct {
	Logs  []string          `json:"logs"`
	State types.ServerState `json:"state"`
}

// ConsoleOutputData carries one formatted console line.
type ConsoleOutputData struct {
	Message string `json:"message"`
}

// PowerActionData is the payload of an inbound power_action event.
type PowerActionData struct {
	Action string `json:"action"`
}

// PowerStatusData reports the outcome of a power action to its initiator.
type PowerStatusData struct {
	Status string            `json:"status"` // "ok" or "error"
	Action string            `json:"action"`
	State  types.ServerState `json:"state"`
	Error  string            `json:"error,omitempty"`
}

// ErrorData carries a human-readable error message.
type ErrorData struct {
	Message string `json:"message"`
}

// encode marshals an outbound event frame.
func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return frame, nil
}
