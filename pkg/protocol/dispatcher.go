package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"unicode/utf8"

	"github.com/arisuchan/chatroom/pkg/chaterr"
	"github.com/arisuchan/chatroom/pkg/metrics"
)

// MaxLineBytes bounds a single frame; a line exceeding it is rejected
// rather than grown without limit.
const MaxLineBytes = 4096

// RawFrame is a parsed but not-yet-typed inbound frame: the tag plus
// the raw JSON so the handler can re-unmarshal into its specific
// request shape.
type RawFrame struct {
	MessageType string `json:"message_type"`
	raw         []byte
}

// Unmarshal decodes the tag-specific fields of the frame into dst.
func (f RawFrame) Unmarshal(dst interface{}) error {
	return json.Unmarshal(f.raw, dst)
}

// HandlerFunc processes one parsed frame for a connection. conn is an
// opaque identity token (the net.Conn), passed through untyped so
// this package does not depend on pkg/server.
type HandlerFunc func(conn interface{}, frame RawFrame) error

// Dispatcher routes frames by message_type to a registered handler
// via a lookup table instead of a fixed switch statement, so adding a
// tag never touches existing handlers.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc), logger: logger}
}

func (d *Dispatcher) Handle(messageType string, fn HandlerFunc) {
	d.handlers[messageType] = fn
}

// ErrorSender is the minimal surface the dispatcher needs to report a
// frame-level error back to the sender.
type ErrorSender interface {
	SendFrame(v interface{}) error
}

// sendError records the error frame in ErrorsTotal and sends it.
func sendError(sender ErrorSender, code int, message string) {
	metrics.ErrorsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	sender.SendFrame(NewErrorFrame(code, message))
}

// Dispatch parses one line and invokes its handler. Handler panics are
// recovered and mapped to SERVER_ERROR. A line flagged by SplitLines
// as oversized (see OversizedLine) is reported as INVALID_COMMAND
// without attempting to parse it as JSON.
func (d *Dispatcher) Dispatch(conn interface{}, sender ErrorSender, line []byte) {
	if bytes.Equal(line, OversizedLine) {
		sendError(sender, chaterr.CodeInvalidCommand, fmt.Sprintf("frame exceeds maximum size of %d bytes", MaxLineBytes))
		return
	}

	if !utf8.Valid(line) {
		sendError(sender, chaterr.CodeInvalidCommand, "frame is not valid UTF-8")
		return
	}

	var raw RawFrame
	if err := json.Unmarshal(line, &raw); err != nil {
		sendError(sender, chaterr.CodeInvalidCommand, "malformed JSON frame")
		return
	}
	raw.raw = line

	handler, ok := d.handlers[raw.MessageType]
	if !ok {
		sendError(sender, chaterr.CodeInvalidCommand, fmt.Sprintf("unknown message_type %q", raw.MessageType))
		return
	}

	d.invoke(conn, sender, handler, raw)
}

func (d *Dispatcher) invoke(conn interface{}, sender ErrorSender, handler HandlerFunc, raw RawFrame) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic", "recover", r, "message_type", raw.MessageType, "stack", string(debug.Stack()))
			sendError(sender, chaterr.CodeServerError, "internal server error")
		}
	}()

	if err := handler(conn, raw); err != nil {
		ce := chaterr.AsError(err)
		if ce.Kind == chaterr.KindInternal {
			d.logger.Error("handler error", "error", err, "message_type", raw.MessageType, "stack", string(debug.Stack()))
		}
		sendError(sender, ce.Code, ce.Message)
	}
}

// OversizedLine is the token SplitLines emits in place of a line's
// (discarded) content when that line exceeds MaxLineBytes, so the
// caller can report INVALID_COMMAND without losing sync with the
// stream the way returning bufio.ErrTooLong from Scan would.
var OversizedLine = []byte("\x00oversized-line\x00")

// SplitLines is a bufio.SplitFunc behaving like bufio.ScanLines except
// a line exceeding MaxLineBytes is discarded up to (and including) its
// newline and reported as OversizedLine, instead of aborting the scan
// with bufio.ErrTooLong the way the stock ScanLines split would once
// the line outgrows the scanner's buffer. It keeps no state between
// calls: when data holds no newline and already exceeds MaxLineBytes it
// drops data, and the rest of that line later comes back as an
// ordinary token. Client.ReadPump wraps it to track that case.
func SplitLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line := bytes.TrimSuffix(data[:i], []byte("\r"))
		if len(line) > MaxLineBytes {
			return i + 1, OversizedLine, nil
		}
		return i + 1, line, nil
	}

	if len(data) > MaxLineBytes {
		// No newline yet and already over budget: drop what we have
		// instead of asking the Scanner to grow the buffer further,
		// which is what would trigger bufio.ErrTooLong.
		return len(data), nil, nil
	}

	if atEOF {
		if len(data) == 0 {
			return 0, nil, nil
		}
		return len(data), data, nil
	}

	return 0, nil, nil
}
