package protocol

import (
	"encoding/json"
	"testing"

	"github.com/arisuchan/chatroom/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorFrame(t *testing.T) {
	f := NewErrorFrame(1003, "bad username")
	assert.Equal(t, "error_message", f.MessageType)
	assert.Equal(t, 1003, f.ErrorCode)
	assert.Equal(t, "bad username", f.ErrorMessage)
	assert.Greater(t, f.Timestamp, float64(0))

	b, err := json.Marshal(f)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "error_message", decoded["message_type"])
	assert.Equal(t, float64(1003), decoded["error_code"])
}

func TestNewChatMessageFrame(t *testing.T) {
	msg := model.Message{
		ID:       7,
		GroupID:  2,
		SenderID: 9,
		Content:  "hello",
		Kind:     model.MessageKindText,
	}
	f := NewChatMessageFrame(msg)
	assert.Equal(t, "chat_message", f.MessageType)
	assert.Equal(t, int64(7), f.MessageID)
	assert.Equal(t, int64(2), f.ChatGroupID)
	assert.Equal(t, int64(9), f.SenderID)
	assert.Equal(t, "hello", f.Content)
	assert.Equal(t, model.MessageKindText, f.Kind)
}

func TestNewChatHistoryCompleteFrame(t *testing.T) {
	f := NewChatHistoryCompleteFrame(5, 12)
	assert.Equal(t, "chat_history_complete", f.MessageType)
	assert.Equal(t, int64(5), f.ChatGroupID)
	assert.Equal(t, 12, f.MessageCount)
}
