package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Wire constants fixed by the editor peer implementation.
const (
	Magic   = "ue_py"
	Version = 1
)

var (
	ErrInvalidMessage = errors.New("protocol: invalid message")
	ErrInvalidMode    = errors.New("protocol: invalid exec mode")
)

// MessageType discriminates envelope payloads.
type MessageType string

const (
	TypePing            MessageType = "ping"
	TypePong            MessageType = "pong"
	TypeOpenConnection  MessageType = "open_connection"
	TypeCommand         MessageType = "command"
	TypeCloseConnection MessageType = "close_connection"
)

// ExecMode selects how the peer interprets a command payload.
//
// Multi-line source must use ModeExecuteFile; the statement modes are only
// safe for single statements.
type ExecMode string

const (
	ModeExecuteFile       ExecMode = "ExecuteFile"
	ModeExecuteStatement  ExecMode = "ExecuteStatement"
	ModeEvaluateStatement ExecMode = "EvaluateStatement"
)

// Validate enforces that the mode is one of the peer's accepted values.
func (m ExecMode) Validate() error {
	switch m {
	case ModeExecuteFile, ModeExecuteStatement, ModeEvaluateStatement:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidMode, string(m))
}

// Message is the envelope for every datagram and stream frame.
// Dest is omitted on broadcast probes.
type Message struct {
	Version int             `json:"version"`
	Magic   string          `json:"magic"`
	Source  string          `json:"source"`
	Dest    string          `json:"dest,omitempty"`
	Type    MessageType     `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Validate enforces required envelope fields after decode.
func (m Message) Validate() error {
	if strings.TrimSpace(m.Source) == "" {
		return fmt.Errorf("%w: missing source", ErrInvalidMessage)
	}
	if strings.TrimSpace(string(m.Type)) == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	return nil
}

// IdentityData is the payload of an instance identity reply.
type IdentityData struct {
	ProjectName   string `json:"project_name"`
	EngineVersion string `json:"engine_version"`
}

// OpenConnectionData carries the loopback endpoint the peer should dial.
type OpenConnectionData struct {
	CommandIP   string `json:"command_ip"`
	CommandPort int    `json:"command_port"`
}

// CommandData is the payload of an execution request.
type CommandData struct {
	Command    string   `json:"command"`
	Unattended bool     `json:"unattended"`
	ExecMode   ExecMode `json:"exec_mode"`
}

// CommandResultData is the payload of an execution reply.
type CommandResultData struct {
	Success bool         `json:"success"`
	Result  string       `json:"result"`
	Output  []OutputLine `json:"output"`
}

// OutputLine is one captured output entry. The peer emits either plain
// strings or {type, output} objects; both decode into this shape.
type OutputLine struct {
	Type   string `json:"type"`
	Output string `json:"output"`
}

func (o *OutputLine) UnmarshalJSON(b []byte) error {
	var plain string
	if err := json.Unmarshal(b, &plain); err == nil {
		o.Type = "log"
		o.Output = plain
		return nil
	}
	type alias OutputLine
	var obj alias
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*o = OutputLine(obj)
	return nil
}

// Ping builds a broadcast discovery probe.
func Ping(source string) Message {
	return Message{
		Version: Version,
		Magic:   Magic,
		Source:  source,
		Type:    TypePing,
	}
}

// OpenConnection builds an addressed command-channel request.
func OpenConnection(source, dest, commandIP string, commandPort int) (Message, error) {
	data, err := json.Marshal(OpenConnectionData{CommandIP: commandIP, CommandPort: commandPort})
	if err != nil {
		return Message{}, err
	}
	return Message{
		Version: Version,
		Magic:   Magic,
		Source:  source,
		Dest:    dest,
		Type:    TypeOpenConnection,
		Data:    data,
	}, nil
}

// Command builds an addressed execution request.
func Command(source, dest string, payload CommandData) (Message, error) {
	if err := payload.ExecMode.Validate(); err != nil {
		return Message{}, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Version: Version,
		Magic:   Magic,
		Source:  source,
		Dest:    dest,
		Type:    TypeCommand,
		Data:    data,
	}, nil
}

// CloseConnection builds the best-effort teardown notification.
func CloseConnection(source, dest string) Message {
	return Message{
		Version: Version,
		Magic:   Magic,
		Source:  source,
		Dest:    dest,
		Type:    TypeCloseConnection,
	}
}

// DecodeIdentity extracts identity fields from a reply payload. Replies
// without a data object decode to the zero value.
func DecodeIdentity(m Message) IdentityData {
	var id IdentityData
	if len(m.Data) > 0 {
		_ = json.Unmarshal(m.Data, &id)
	}
	return id
}

// DecodeCommandResult extracts the execution result from a reply payload.
func DecodeCommandResult(m Message) (CommandResultData, error) {
	var res CommandResultData
	if len(m.Data) == 0 {
		return res, fmt.Errorf("%w: command reply without data", ErrInvalidMessage)
	}
	if err := json.Unmarshal(m.Data, &res); err != nil {
		return CommandResultData{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return res, nil
}

// Encode serializes one message for the wire.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}
