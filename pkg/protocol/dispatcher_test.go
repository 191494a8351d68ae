package protocol

import (
	"io"
	"log/slog"
	"testing"

	"github.com/arisuchan/chatroom/pkg/chaterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeErrorSender struct {
	frames []interface{}
}

func (f *fakeErrorSender) SendFrame(v interface{}) error {
	f.frames = append(f.frames, v)
	return nil
}

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDispatchRoutesByMessageType(t *testing.T) {
	d := newTestDispatcher()
	var gotType string
	var gotPayload struct {
		Username string `json:"username"`
	}
	d.Handle("login_request", func(conn interface{}, frame RawFrame) error {
		gotType = frame.MessageType
		return frame.Unmarshal(&gotPayload)
	})

	sender := &fakeErrorSender{}
	d.Dispatch("conn-1", sender, []byte(`{"message_type":"login_request","username":"alice"}`))

	assert.Equal(t, "login_request", gotType)
	assert.Equal(t, "alice", gotPayload.Username)
	assert.Empty(t, sender.frames)
}

func TestDispatchUnknownMessageType(t *testing.T) {
	d := newTestDispatcher()
	sender := &fakeErrorSender{}

	d.Dispatch("conn-1", sender, []byte(`{"message_type":"not_registered"}`))

	require.Len(t, sender.frames, 1)
	ef, ok := sender.frames[0].(ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, chaterr.CodeInvalidCommand, ef.ErrorCode)
}

func TestDispatchMalformedJSON(t *testing.T) {
	d := newTestDispatcher()
	sender := &fakeErrorSender{}

	d.Dispatch("conn-1", sender, []byte(`not json at all`))

	require.Len(t, sender.frames, 1)
	ef, ok := sender.frames[0].(ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, chaterr.CodeInvalidCommand, ef.ErrorCode)
}

func TestDispatchInvalidUTF8(t *testing.T) {
	d := newTestDispatcher()
	sender := &fakeErrorSender{}

	d.Dispatch("conn-1", sender, []byte{0xff, 0xfe, 0xfd})

	require.Len(t, sender.frames, 1)
	ef, ok := sender.frames[0].(ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, chaterr.CodeInvalidCommand, ef.ErrorCode)
}

func TestDispatchHandlerErrorMapsToErrorFrame(t *testing.T) {
	d := newTestDispatcher()
	d.Handle("ping_request", func(conn interface{}, frame RawFrame) error {
		return chaterr.PermissionDenied("no access")
	})

	sender := &fakeErrorSender{}
	d.Dispatch("conn-1", sender, []byte(`{"message_type":"ping_request"}`))

	require.Len(t, sender.frames, 1)
	ef, ok := sender.frames[0].(ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, chaterr.CodePermissionDenied, ef.ErrorCode)
	assert.Equal(t, "no access", ef.ErrorMessage)
}

func TestDispatchOversizedLine(t *testing.T) {
	d := newTestDispatcher()
	sender := &fakeErrorSender{}

	d.Dispatch("conn-1", sender, OversizedLine)

	require.Len(t, sender.frames, 1)
	ef, ok := sender.frames[0].(ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, chaterr.CodeInvalidCommand, ef.ErrorCode)
}

func TestSplitLinesResyncsAfterOversizedLine(t *testing.T) {
	oversized := make([]byte, MaxLineBytes+10)
	for i := range oversized {
		oversized[i] = 'x'
	}
	data := append(oversized, '\n')
	data = append(data, []byte("next\n")...)

	advance, token, err := SplitLines(data, false)
	require.NoError(t, err)
	assert.Equal(t, len(oversized)+1, advance)
	assert.Equal(t, OversizedLine, token)

	advance2, token2, err := SplitLines(data[advance:], false)
	require.NoError(t, err)
	assert.Equal(t, []byte("next"), token2)
	assert.Equal(t, len("next\n"), advance2)
}

func TestDispatchHandlerPanicRecovered(t *testing.T) {
	d := newTestDispatcher()
	d.Handle("boom_request", func(conn interface{}, frame RawFrame) error {
		panic("something broke")
	})

	sender := &fakeErrorSender{}
	assert.NotPanics(t, func() {
		d.Dispatch("conn-1", sender, []byte(`{"message_type":"boom_request"}`))
	})

	require.Len(t, sender.frames, 1)
	ef, ok := sender.frames[0].(ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, chaterr.CodeServerError, ef.ErrorCode)
}
