// Package protocol defines the wire frame shapes exchanged with
// clients and the line-delimited JSON framing/dispatch loop that
// reads them. Every frame is one JSON object carrying `message_type`
// and `timestamp` plus tag-specific fields — no separate envelope/
// payload split, since the wire format is bare newline-JSON, not a
// WebSocket frame wrapping an inner payload.
package protocol

import (
	"time"

	"github.com/arisuchan/chatroom/pkg/model"
)

// Envelope is embedded in every frame sent to a client.
type Envelope struct {
	MessageType string  `json:"message_type"`
	Timestamp   float64 `json:"timestamp"`
}

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func NewEnvelope(messageType string) Envelope {
	return Envelope{MessageType: messageType, Timestamp: now()}
}

// ErrorFrame is the uniform error envelope sent for any failed request.
type ErrorFrame struct {
	Envelope
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func NewErrorFrame(code int, message string) ErrorFrame {
	return ErrorFrame{
		Envelope:     NewEnvelope("error_message"),
		ErrorCode:    code,
		ErrorMessage: message,
	}
}

// ChatMessageFrame carries a persisted Message to a recipient,
// whether delivered via live broadcast or via enter_chat_request's
// history replay.
type ChatMessageFrame struct {
	Envelope
	MessageID   int64             `json:"message_id"`
	ChatGroupID int64             `json:"chat_group_id"`
	SenderID    int64             `json:"sender_id"`
	Content     string            `json:"content"`
	Kind        model.MessageKind `json:"kind"`
}

func NewChatMessageFrame(m model.Message) ChatMessageFrame {
	return ChatMessageFrame{
		Envelope:    NewEnvelope("chat_message"),
		MessageID:   m.ID,
		ChatGroupID: m.GroupID,
		SenderID:    m.SenderID,
		Content:     m.Content,
		Kind:        m.Kind,
	}
}

type ChatHistoryCompleteFrame struct {
	Envelope
	ChatGroupID  int64 `json:"chat_group_id"`
	MessageCount int   `json:"message_count"`
}

func NewChatHistoryCompleteFrame(groupID int64, count int) ChatHistoryCompleteFrame {
	return ChatHistoryCompleteFrame{
		Envelope:     NewEnvelope("chat_history_complete"),
		ChatGroupID:  groupID,
		MessageCount: count,
	}
}

type RegisterResponse struct {
	Envelope
	Success      bool   `json:"success"`
	Username     string `json:"username,omitempty"`
	UserID       int64  `json:"user_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type LoginResponse struct {
	Envelope
	Success        bool   `json:"success"`
	UserID         int64  `json:"user_id,omitempty"`
	Username       string `json:"username,omitempty"`
	CurrentGroupID int64  `json:"current_group_id,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

type UserInfoResponse struct {
	Envelope
	model.UserAggregate
}

type ListUsersResponse struct {
	Envelope
	Users []model.User `json:"users"`
}

type ListChatsResponse struct {
	Envelope
	Chats []model.ChatGroup `json:"chats"`
}

type CreateChatResponse struct {
	Envelope
	Success      bool          `json:"success"`
	Chat         model.ChatGroup `json:"chat,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

type JoinChatResponse struct {
	Envelope
	Success      bool   `json:"success"`
	ChatGroupID  int64  `json:"chat_group_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type EnterChatResponse struct {
	Envelope
	Success      bool   `json:"success"`
	ChatGroupID  int64  `json:"chat_group_id,omitempty"`
	ChatName     string `json:"chat_name,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type LogoutResponse struct {
	Envelope
	Message string `json:"message"`
}

type FileResponse struct {
	Envelope
	Success      bool          `json:"success"`
	File         *model.FileMeta `json:"file,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}
