package console

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/gorilla/websocket"

	"github.com/projecteru2/hatchery/session"
)

// Wire adapts a console websocket to the io.ReadWriter Relay expects.
// Reads yield remote console lines; writes buffer keystrokes (with local
// echo, the remote shell does not echo) and ship each completed line as a
// send_command event.
type Wire struct {
	conn *websocket.Conn
	line []byte
	rbuf []byte
}

var _ io.ReadWriter = (*Wire)(nil)

// NewWire wraps an authenticated console connection.
func NewWire(conn *websocket.Conn) *Wire {
	return &Wire{conn: conn}
}

// Read returns the next chunk of remote output, decoding event frames as
// they arrive. Non-console events (stats) are dropped.
func (w *Wire) Read(p []byte) (int, error) {
	for len(w.rbuf) == 0 {
		_, frame, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}

		var env session.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			continue
		}
		switch env.Event {
		case session.EventAuthSuccess:
			var data session.AuthSuccessData
			if err := json.Unmarshal(env.Data, &data); err != nil {
				continue
			}
			for _, line := range data.Logs {
				w.rbuf = append(w.rbuf, line...)
				w.rbuf = append(w.rbuf, '\r', '\n')
			}
		case session.EventConsoleOutput:
			var data session.ConsoleOutputData
			if err := json.Unmarshal(env.Data, &data); err != nil {
				continue
			}
			w.rbuf = append(w.rbuf, data.Message...)
			w.rbuf = append(w.rbuf, '\r', '\n')
		case session.EventPowerStatus:
			var data session.PowerStatusData
			if err := json.Unmarshal(env.Data, &data); err != nil {
				continue
			}
			if data.Status != "ok" {
				w.rbuf = append(w.rbuf, fmt.Sprintf("\r\n[%s failed: %s]\r\n", data.Action, data.Error)...)
			}
		case session.EventError:
			var data session.ErrorData
			if err := json.Unmarshal(env.Data, &data); err != nil {
				continue
			}
			w.rbuf = append(w.rbuf, fmt.Sprintf("\r\n[error: %s]\r\n", data.Message)...)
		}
	}

	n := copy(p, w.rbuf)
	w.rbuf = w.rbuf[n:]
	return n, nil
}

// Write accepts raw keystrokes from the local terminal, echoes them, and
// sends a send_command event on each completed line.
func (w *Wire) Write(p []byte) (int, error) {
	for _, b := range p {
		switch b {
		case '\r', '\n':
			_, _ = os.Stdout.Write([]byte("\r\n"))
			if err := w.sendCommand(string(w.line)); err != nil {
				return 0, err
			}
			w.line = w.line[:0]
		case 0x7f, '\b':
			if len(w.line) > 0 {
				w.line = w.line[:len(w.line)-1]
				_, _ = os.Stdout.Write([]byte("\b \b"))
			}
		default:
			w.line = append(w.line, b)
			_, _ = os.Stdout.Write([]byte{b})
		}
	}
	return len(p), nil
}

func (w *Wire) sendCommand(cmd string) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(session.Envelope{Event: session.EventSendCommand, Data: data})
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, frame)
}
