// Package group implements the Group Engine: group creation, join/
// enter semantics, membership queries and message broadcast with
// per-recipient filtering. Broadcast only reaches a member whose
// session is online and whose current_group matches the message's
// group; membership itself is Store-backed relational state, not an
// in-memory room registry.
package group

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/arisuchan/chatroom/pkg/metrics"
	"github.com/arisuchan/chatroom/pkg/model"
	"github.com/arisuchan/chatroom/pkg/protocol"
	"github.com/arisuchan/chatroom/pkg/session"
	"github.com/arisuchan/chatroom/pkg/store"
)

// processID identifies this instance's broadcasts on the chat_sync
// channel, so a future subscriber can tell its own publishes apart
// from another instance's.
var processID = os.Getpid()

var (
	ErrGroupNotFound    = errors.New("chat group not found")
	ErrPermissionDenied = errors.New("permission denied")
)

// Sender is the per-connection outbound surface the Engine needs to
// deliver a frame to a recipient; pkg/server's Client implements it.
// Modeling it as an interface (rather than depending on pkg/server)
// avoids a cyclic import between broadcast and connection management.
type Sender interface {
	SendFrame(v interface{}) error
	Close() error
}

// SessionLookup is the subset of *session.Registry the Engine needs
// for broadcast filtering: who is online, and what are they looking
// at.
type SessionLookup interface {
	GetByUser(userID int64) (*session.Session, bool)
}

// GroupStore is the subset of *store.Store the Engine needs: group and
// membership CRUD, message persistence/history, ban checks, and the
// chat_sync publish. Unlike pkg/admin's direct *store.Store dependency
// (which spans nearly every Store method), this is a real narrowing,
// so the Engine can run against a fake in tests.
type GroupStore interface {
	CreateGroup(name string, isPrivate bool) (int64, error)
	GetGroupByID(id int64) (*model.ChatGroup, error)
	GetGroupByName(name string) (*model.ChatGroup, error)
	AddMember(groupID, userID int64) error
	IsMember(groupID, userID int64) (bool, error)
	GetGroupMembers(groupID int64) ([]model.User, error)
	GetUserByID(id int64) (*model.User, error)
	IsUserBanned(userID int64) (bool, error)
	SaveMessage(groupID, senderID int64, content string, kind model.MessageKind) (*model.Message, error)
	PushAIContext(groupID int64, msg model.Message, window int) error
	History(groupID int64, limit int) ([]model.Message, error)
	FindCommonPrivateGroup(u1, u2 int64) (*model.ChatGroup, error)
	PublishSync(ev store.SyncEvent) error
}

type Engine struct {
	Store    GroupStore
	Sessions SessionLookup
	logger   *slog.Logger
	senders  SenderLookup
}

// SenderLookup resolves a Session's opaque Conn back to something the
// Engine can write frames to. pkg/server registers this at startup.
type SenderLookup func(conn session.Conn) (Sender, bool)

func NewEngine(st GroupStore, sessions SessionLookup, lookup SenderLookup, logger *slog.Logger) *Engine {
	return &Engine{Store: st, Sessions: sessions, logger: logger, senders: lookup}
}

// Create adds the creator, adds the AI user for non-private groups,
// and for private groups only, adds every initial member. Duplicate
// and unknown ids are silently dropped.
func (e *Engine) Create(name string, creatorID int64, initialMembers []int64, isPrivate bool) (*model.ChatGroup, error) {
	groupID, err := e.Store.CreateGroup(name, isPrivate)
	if err != nil {
		return nil, err
	}

	if err := e.Store.AddMember(groupID, creatorID); err != nil {
		return nil, fmt.Errorf("add creator: %w", err)
	}

	if !isPrivate {
		if err := e.Store.AddMember(groupID, model.AIUserID); err != nil {
			return nil, fmt.Errorf("add AI member: %w", err)
		}
	} else {
		seen := map[int64]bool{creatorID: true}
		for _, uid := range initialMembers {
			if seen[uid] {
				continue
			}
			seen[uid] = true
			u, err := e.Store.GetUserByID(uid)
			if err != nil {
				return nil, err
			}
			if u == nil {
				continue
			}
			if err := e.Store.AddMember(groupID, uid); err != nil {
				return nil, err
			}
		}
	}

	return e.Store.GetGroupByID(groupID)
}

// Join adds user_id to an existing group; idempotent, does not touch
// current_group_id.
func (e *Engine) Join(groupName string, userID int64) (*model.ChatGroup, error) {
	g, err := e.Store.GetGroupByName(groupName)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, ErrGroupNotFound
	}
	if err := e.Store.AddMember(g.ID, userID); err != nil {
		return nil, err
	}
	return g, nil
}

// Enter requires existing membership and installs current_group_id on
// the caller's Session; this is what makes subsequent broadcasts and
// history delivery target that group.
func (e *Engine) Enter(groupName string, userID int64, sessions *session.Registry) (*model.ChatGroup, error) {
	g, err := e.Store.GetGroupByName(groupName)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, ErrGroupNotFound
	}
	member, err := e.Store.IsMember(g.ID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrPermissionDenied
	}
	sessions.SetCurrentGroup(userID, g.ID)
	return g, nil
}

// Send authorizes the sender against membership/ban state, then
// persists and broadcasts the message.
func (e *Engine) Send(senderID, groupID int64, content string) (*model.Message, error) {
	g, err := e.Store.GetGroupByID(groupID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, ErrGroupNotFound
	}

	if senderID == model.AIUserID {
		// self-heal: the AI is auto-enrolled into any group it is
		// asked to send into.
		if err := e.Store.AddMember(groupID, senderID); err != nil {
			return nil, err
		}
	} else if senderID != model.AdminUserID {
		member, err := e.Store.IsMember(groupID, senderID)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, ErrPermissionDenied
		}
		banned, err := e.Store.IsUserBanned(senderID)
		if err != nil {
			return nil, err
		}
		if banned {
			return nil, ErrPermissionDenied
		}
		if g.IsBanned {
			return nil, ErrPermissionDenied
		}
	}

	kind := model.MessageKindText
	if senderID == model.AIUserID {
		kind = model.MessageKindAI
	}

	msg, err := e.Store.SaveMessage(groupID, senderID, content, kind)
	if err != nil {
		return nil, err
	}
	metrics.MessagesSentTotal.WithLabelValues(string(kind)).Inc()

	if err := e.Store.PushAIContext(groupID, *msg, aiContextWindow); err != nil {
		e.logger.Warn("push AI context failed", "error", err, "group_id", groupID)
	}

	e.Broadcast(*msg)
	return msg, nil
}

// aiContextWindow bounds the rolling per-group context cache the AI
// Participant reads from; it is deliberately generous relative to the
// Participant's own HistoryWindow so re-tuning the prompt window
// doesn't require re-populating the cache.
const aiContextWindow = 30

// Broadcast delivers msg to every member of msg.GroupID whose Session
// is online and whose current_group matches msg.GroupID. Send
// failures close that recipient but never abort delivery to the rest.
// Once local delivery is done, msg is republished on chat_sync so a
// horizontally-scaled deployment's other instances can relay it to
// members they, not this instance, hold sessions for.
func (e *Engine) Broadcast(msg model.Message) {
	members, err := e.Store.GetGroupMembers(msg.GroupID)
	if err != nil {
		e.logger.Error("broadcast: list members failed", "error", err, "group_id", msg.GroupID)
		return
	}

	for _, member := range members {
		sess, ok := e.Sessions.GetByUser(member.ID)
		if !ok {
			continue
		}
		if sess.CurrentGroupID != msg.GroupID {
			continue
		}
		snd, ok := e.senders(sess.Conn)
		if !ok {
			continue
		}
		if err := snd.SendFrame(protocol.NewChatMessageFrame(msg)); err != nil {
			e.logger.Warn("broadcast send failed, closing recipient", "error", err, "user_id", member.ID)
			snd.Close()
		}
	}

	ev := store.SyncEvent{GroupID: msg.GroupID, Message: msg, OriginPID: processID}
	if err := e.Store.PublishSync(ev); err != nil {
		e.logger.Warn("publish sync event failed", "error", err, "group_id", msg.GroupID)
	}
}

// HistoryFor is an authorised read of a group's message history.
func (e *Engine) HistoryFor(groupID, userID int64, limit int) ([]model.Message, error) {
	if userID != model.AdminUserID {
		member, err := e.Store.IsMember(groupID, userID)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, ErrPermissionDenied
		}
	}
	return e.Store.History(groupID, limit)
}

// FindOrCreatePrivate returns the existing private chat between u1 and
// u2, creating one named after both usernames if none exists.
func (e *Engine) FindOrCreatePrivate(u1, u2 *model.User) (*model.ChatGroup, error) {
	g, err := e.Store.FindCommonPrivateGroup(u1.ID, u2.ID)
	if err != nil {
		return nil, err
	}
	if g != nil {
		return g, nil
	}
	name := fmt.Sprintf("%s_%s", u1.Username, u2.Username)
	return e.Create(name, u1.ID, []int64{u2.ID}, true)
}
