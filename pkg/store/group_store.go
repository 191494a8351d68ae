package store

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/arisuchan/chatroom/pkg/model"
)

func (s *Store) CreateGroup(name string, isPrivate bool) (int64, error) {
	var id int64
	err := s.DB.QueryRow(
		`INSERT INTO chat_groups (name, is_private_chat) VALUES ($1, $2) RETURNING id`,
		name, isPrivate,
	).Scan(&id)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return 0, ErrGroupExists
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

var ErrGroupExists = errors.New("group already exists")

func (s *Store) GetGroupByID(id int64) (*model.ChatGroup, error) {
	return s.scanGroup(s.DB.QueryRow(
		`SELECT id, name, is_private_chat, is_banned, created_at FROM chat_groups WHERE id = $1`, id))
}

func (s *Store) GetGroupByName(name string) (*model.ChatGroup, error) {
	return s.scanGroup(s.DB.QueryRow(
		`SELECT id, name, is_private_chat, is_banned, created_at FROM chat_groups WHERE name = $1`, name))
}

func (s *Store) scanGroup(row *sql.Row) (*model.ChatGroup, error) {
	var g model.ChatGroup
	err := row.Scan(&g.ID, &g.Name, &g.IsPrivateChat, &g.IsBanned, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// AddMember is idempotent: re-adding an existing member is a no-op.
func (s *Store) AddMember(groupID, userID int64) error {
	_, err := s.DB.Exec(
		`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		groupID, userID,
	)
	return err
}

func (s *Store) IsMember(groupID, userID int64) (bool, error) {
	var exists int
	err := s.DB.QueryRow(
		`SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) GetGroupMembers(groupID int64) ([]model.User, error) {
	rows, err := s.DB.Query(`
		SELECT u.id, u.username, u.password_hash, u.is_online, u.is_banned, u.created_at
		FROM group_members gm JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = $1
		ORDER BY gm.joined_at`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsOnline, &u.IsBanned, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) GetUserGroups(userID int64) ([]model.ChatGroup, error) {
	rows, err := s.DB.Query(`
		SELECT g.id, g.name, g.is_private_chat, g.is_banned, g.created_at
		FROM group_members gm JOIN chat_groups g ON g.id = gm.group_id
		WHERE gm.user_id = $1
		ORDER BY g.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []model.ChatGroup
	for rows.Next() {
		var g model.ChatGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.IsPrivateChat, &g.IsBanned, &g.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *Store) GetAllGroupChats() ([]model.ChatGroup, error) {
	rows, err := s.DB.Query(`SELECT id, name, is_private_chat, is_banned, created_at FROM chat_groups WHERE is_private_chat = FALSE ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []model.ChatGroup
	for rows.Next() {
		var g model.ChatGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.IsPrivateChat, &g.IsBanned, &g.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// FindCommonPrivateGroup scans both users' groups for a shared private
// group, used by the Group Engine's find_or_create_private operation.
func (s *Store) FindCommonPrivateGroup(u1, u2 int64) (*model.ChatGroup, error) {
	row := s.DB.QueryRow(`
		SELECT g.id, g.name, g.is_private_chat, g.is_banned, g.created_at
		FROM chat_groups g
		JOIN group_members m1 ON m1.group_id = g.id AND m1.user_id = $1
		JOIN group_members m2 ON m2.group_id = g.id AND m2.user_id = $2
		WHERE g.is_private_chat = TRUE
		LIMIT 1`, u1, u2)
	return s.scanGroup(row)
}

func (s *Store) CountGroups() (int, error) {
	var n int
	err := s.DB.QueryRow(`SELECT COUNT(*) FROM chat_groups`).Scan(&n)
	return n, err
}

func (s *Store) IsGroupBanned(id int64) (bool, error) {
	var banned bool
	err := s.DB.QueryRow(`SELECT is_banned FROM chat_groups WHERE id = $1`, id).Scan(&banned)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return banned, err
}

func (s *Store) SetGroupBanned(id int64, banned bool) error {
	res, err := s.DB.Exec(`UPDATE chat_groups SET is_banned = $1 WHERE id = $2`, banned, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) RenameGroup(id int64, newName string) error {
	_, err := s.DB.Exec(`UPDATE chat_groups SET name = $1 WHERE id = $2`, newName, id)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrGroupExists
	}
	return err
}

// DeleteGroup cascades to memberships, messages and file metadata.
// The `public` group is protected by the caller (admin package), not
// here.
func (s *Store) DeleteGroup(id int64) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM group_members WHERE group_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE group_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM files_metadata WHERE group_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM chat_groups WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetBannedGroups() ([]model.ChatGroup, error) {
	rows, err := s.DB.Query(`SELECT id, name, is_private_chat, is_banned, created_at FROM chat_groups WHERE is_banned = TRUE ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []model.ChatGroup
	for rows.Next() {
		var g model.ChatGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.IsPrivateChat, &g.IsBanned, &g.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
