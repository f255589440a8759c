// Package protocol implements the JSON-lines command/event wire shim:
// one JSON object per line, over any byte stream. It is a thin
// translation layer over the in-process session.Broker API, for callers
// that want to drive the engine as a subprocess rather than a library.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/MatrixManAtYrService/htty/internal/session"
)

// CommandMessage is one line of the command protocol.
type CommandMessage struct {
	Type string `json:"type"`
	Keys []string `json:"keys,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// EventMessage is one line of the event protocol: {"type": ..., "data": ...}.
type EventMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type pidPayload struct {
	Pid int `json:"pid"`
}

type outputPayload struct {
	Seq string `json:"seq"`
}

type snapshotPayload struct {
	Text string `json:"text"`
	Seq  string `json:"seq"`
}

type resizePayload struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

type exitCodePayload struct {
	ExitCode int `json:"exitCode"`
}

type debugPayload struct {
	Tag string `json:"tag"`
}

// ParseCommand decodes one line of the command protocol into a
// session.Command. Malformed input is rejected with ErrProtocolError.
func ParseCommand(line []byte) (session.Command, error) {
	var msg CommandMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return session.Command{}, fmt.Errorf("%w: %v", session.ErrProtocolError, err)
	}

	switch msg.Type {
	case "sendKeys":
		return session.Command{Kind: session.CmdSendKeys, Keys: msg.Keys}, nil
	case "takeSnapshot":
		return session.Command{Kind: session.CmdTakeSnapshot}, nil
	case "resize":
		return session.Command{Kind: session.CmdResize, Cols: msg.Cols, Rows: msg.Rows}, nil
	case "exit":
		return session.Command{Kind: session.CmdExit}, nil
	default:
		return session.Command{}, fmt.Errorf("%w: unrecognized type %q", session.ErrProtocolError, msg.Type)
	}
}

// EncodeEvent renders a session.Event as one line of the event protocol
// (without the trailing newline).
func EncodeEvent(ev session.Event) ([]byte, error) {
	var data any
	typ := ev.Kind.String()

	switch ev.Kind {
	case session.EventPid:
		data = pidPayload{Pid: ev.Pid}
	case session.EventOutput:
		data = outputPayload{Seq: string(ev.Output)}
	case session.EventSnapshot:
		data = snapshotPayload{Text: ev.Snapshot.Text, Seq: ev.Snapshot.Seq}
	case session.EventResize:
		data = resizePayload{Cols: ev.Cols, Rows: ev.Rows}
	case session.EventExitCode:
		data = exitCodePayload{ExitCode: ev.ExitCode}
	case session.EventDebug:
		data = debugPayload{Tag: ev.DebugTag}
	default:
		return nil, fmt.Errorf("protocol: unknown event kind %v", ev.Kind)
	}

	rawData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode payload: %w", err)
	}

	return json.Marshal(EventMessage{Type: typ, Data: rawData})
}
