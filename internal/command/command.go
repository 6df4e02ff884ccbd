// control channel command protocol: {"cmd": <int>}
package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/logging"
)

type Code int

const (
	HangUp Code = 0
	Ping   Code = 1
	Pong   Code = 2
	Error  Code = 9
)

func (c Code) String() string {
	switch c {
	case HangUp:
		return "HangUp"
	case Ping:
		return "Ping"
	case Pong:
		return "Pong"
	case Error:
		return "Error"
	}
	return fmt.Sprintf("Unknown(%d)", int(c))
}

var ErrMalformed = errors.New("command: not an object with an integer cmd")

type Message struct {
	Cmd Code `json:"cmd"`
}

func Parse(data []byte) (Message, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil || members == nil {
		return Message{}, ErrMalformed
	}
	raw, ok := members["cmd"]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return Message{}, ErrMalformed
	}
	var code int
	if err := json.Unmarshal(raw, &code); err != nil {
		return Message{}, ErrMalformed
	}
	return Message{Cmd: Code(code)}, nil
}

func Encode(c Code) []byte {
	b, _ := json.Marshal(Message{Cmd: c})
	return b
}

// Handler interprets commands from the viewer. It never fails: anything
// it does not understand is logged and dropped.
type Handler struct {
	log      logging.LeveledLogger
	onHangUp func()
}

func NewHandler(log logging.LeveledLogger, onHangUp func()) *Handler {
	return &Handler{log: log, onHangUp: onHangUp}
}

// Handle returns the reply to send back on the control channel, or nil.
func (h *Handler) Handle(data []byte) []byte {
	msg, err := Parse(data)
	if err != nil {
		h.log.Warnf("dropping control message %q: %v", data, err)
		return nil
	}
	switch msg.Cmd {
	case Ping:
		return Encode(Pong)
	case Pong:
		h.log.Debug("pong from viewer")
	case HangUp:
		h.log.Info("viewer hung up")
		if h.onHangUp != nil {
			h.onHangUp()
		}
	case Error:
		h.log.Warnf("viewer reported an error: %s", data)
	default:
		h.log.Warnf("unknown command %s ignored", msg.Cmd)
	}
	return nil
}
