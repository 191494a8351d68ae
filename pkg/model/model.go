// Package model holds the entity types persisted by the Store and
// exchanged (in wire-response form) between the server and clients.
package model

import "time"

// Reserved user ids. The admin and AI users are bootstrapped once and
// are immutable: they can never be deleted, banned, or renamed through
// a non-bootstrap path.
const (
	AdminUserID int64 = 0
	AIUserID    int64 = 1
)

const (
	PublicGroupName = "public"
	AdminUsername   = "admin"
	AIUsername      = "AI"
)

// IsReservedUser reports whether id names one of the two privileged,
// immutable users.
func IsReservedUser(id int64) bool {
	return id == AdminUserID || id == AIUserID
}

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsOnline     bool      `json:"is_online"`
	IsBanned     bool      `json:"is_banned"`
	CreatedAt    time.Time `json:"created_at"`
}

type ChatGroup struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	IsPrivateChat bool      `json:"is_private_chat"`
	IsBanned      bool      `json:"is_banned"`
	CreatedAt     time.Time `json:"created_at"`
}

type Membership struct {
	GroupID  int64     `json:"group_id"`
	UserID   int64     `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

type MessageKind string

const (
	MessageKindText   MessageKind = "text"
	MessageKindSystem MessageKind = "system"
	MessageKindAI     MessageKind = "ai"
)

type Message struct {
	ID        int64       `json:"id"`
	GroupID   int64       `json:"group_id"`
	SenderID  int64       `json:"sender_id"`
	Content   string      `json:"content"`
	Kind      MessageKind `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
}

type FileMeta struct {
	ID           int64     `json:"id"`
	OriginalName string    `json:"original_name"`
	ServerPath   string    `json:"server_path"`
	Size         int64     `json:"size"`
	UploaderID   int64     `json:"uploader_id"`
	GroupID      int64     `json:"group_id"`
	UploadTime   time.Time `json:"upload_time"`
	MessageID    *int64    `json:"message_id,omitempty"`
}

// AuditEntry records one attempted admin operation, successful or not.
type AuditEntry struct {
	ID         int64     `json:"id"`
	Time       time.Time `json:"time"`
	OperatorID int64     `json:"operator_id"`
	Verb       string    `json:"verb"`
	Object     string    `json:"object"`
	Target     string    `json:"target"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
}

// UserAggregate bundles a user's profile with the counts the
// user_info_request response carries.
type UserAggregate struct {
	User            User `json:"user"`
	JoinedGroups    int  `json:"joined_groups"`
	PrivateChats    int  `json:"private_chats"`
	GroupChats      int  `json:"group_chats"`
	TotalUsers      int  `json:"total_users"`
	TotalGroups     int  `json:"total_groups"`
	OnlineUserCount int  `json:"online_user_count"`
}
