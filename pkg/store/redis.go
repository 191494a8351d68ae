package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/arisuchan/chatroom/pkg/model"
)

// Redis-backed caches and cross-instance fanout: presence (with a TTL,
// redis.Nil meaning a cache miss), the AI participant's rolling
// per-group context window, and the chat_sync pub/sub channel so a
// message sent on one server instance can reach clients connected to
// another.

func presenceKey(userID int64) string {
	return fmt.Sprintf("presence:%d", userID)
}

func aiContextKey(groupID int64) string {
	return fmt.Sprintf("ai_context:%d", groupID)
}

const chatSyncChannel = "chat_sync"

func (s *Store) CacheUserPresence(userID int64, online bool) error {
	if s.RDB == nil {
		return nil
	}
	return s.RDB.Set(s.Ctx, presenceKey(userID), online, 5*time.Minute).Err()
}

func (s *Store) GetCachedUserPresence(userID int64) (online bool, ok bool, err error) {
	if s.RDB == nil {
		return false, false, nil
	}
	v, err := s.RDB.Get(s.Ctx, presenceKey(userID)).Bool()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return v, true, nil
}

// PushAIContext appends a message to a group's rolling AI context
// window and trims it to `window` entries, used by the AI participant
// to build prompt history without re-querying Postgres on every turn.
func (s *Store) PushAIContext(groupID int64, msg model.Message, window int) error {
	if s.RDB == nil {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := aiContextKey(groupID)
	pipe := s.RDB.TxPipeline()
	pipe.RPush(s.Ctx, key, data)
	pipe.LTrim(s.Ctx, key, int64(-window), -1)
	pipe.Expire(s.Ctx, key, time.Hour)
	_, err = pipe.Exec(s.Ctx)
	return err
}

func (s *Store) GetAIContext(groupID int64) ([]model.Message, error) {
	if s.RDB == nil {
		return nil, nil
	}
	raw, err := s.RDB.LRange(s.Ctx, aiContextKey(groupID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	msgs := make([]model.Message, 0, len(raw))
	for _, r := range raw {
		var m model.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// SyncEvent is broadcast on the chat_sync channel so every server
// instance in a horizontally-scaled deployment can relay a message to
// its own locally-connected clients.
type SyncEvent struct {
	GroupID   int64         `json:"group_id"`
	Message   model.Message `json:"message"`
	OriginPID int           `json:"origin_pid"`
}

func (s *Store) PublishSync(ev SyncEvent) error {
	if s.RDB == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.RDB.Publish(s.Ctx, chatSyncChannel, data).Err()
}

// SubscribeSync returns a channel of decoded SyncEvents. Callers
// should run it in its own goroutine for the lifetime of the process.
func (s *Store) SubscribeSync() (<-chan SyncEvent, func() error) {
	out := make(chan SyncEvent, 256)
	if s.RDB == nil {
		close(out)
		return out, func() error { return nil }
	}
	sub := s.RDB.Subscribe(s.Ctx, chatSyncChannel)
	ch := sub.Channel()

	go func() {
		defer close(out)
		for msg := range ch {
			var ev SyncEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.logger.Warn("bad sync event", "error", err)
				continue
			}
			out <- ev
		}
	}()

	return out, sub.Close
}
