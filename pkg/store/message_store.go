package store

import (
	"github.com/arisuchan/chatroom/pkg/model"
)

// SaveMessage persists a chat/system/ai message and returns its
// assigned id.
func (s *Store) SaveMessage(groupID, senderID int64, content string, kind model.MessageKind) (*model.Message, error) {
	var m model.Message
	m.GroupID = groupID
	m.SenderID = senderID
	m.Content = content
	m.Kind = kind

	err := s.DB.QueryRow(
		`INSERT INTO messages (group_id, sender_id, content, kind) VALUES ($1, $2, $3, $4)
		 RETURNING id, timestamp`,
		groupID, senderID, content, string(kind),
	).Scan(&m.ID, &m.Timestamp)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// History returns the most recent `limit` messages for a group in
// chronological order (oldest first).
func (s *Store) History(groupID int64, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.Query(`
		SELECT id, group_id, sender_id, content, kind, timestamp FROM (
			SELECT id, group_id, sender_id, content, kind, timestamp
			FROM messages WHERE group_id = $1
			ORDER BY timestamp DESC, id DESC
			LIMIT $2
		) recent ORDER BY timestamp ASC, id ASC`, groupID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var kind string
		if err := rows.Scan(&m.ID, &m.GroupID, &m.SenderID, &m.Content, &kind, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Kind = model.MessageKind(kind)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) CountMessages(groupID int64) (int, error) {
	var n int
	err := s.DB.QueryRow(`SELECT COUNT(*) FROM messages WHERE group_id = $1`, groupID).Scan(&n)
	return n, err
}
