package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/arisuchan/chatroom/pkg/model"
)

// CreateUser creates a user and adds them to the public group in a
// single transaction. Returns ErrUserExists on a unique-username
// violation.
func (s *Store) CreateUser(username, password string) (int64, error) {
	hash, err := s.HashPassword(password)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRow(
		`INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id`,
		username, hash,
	).Scan(&id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return 0, ErrUserExists
		}
		s.logger.Error("create user failed", "error", err, "username", username)
		return 0, err
	}

	var publicID int64
	if err := tx.QueryRow(`SELECT id FROM chat_groups WHERE name = $1`, model.PublicGroupName).Scan(&publicID); err != nil {
		return 0, fmt.Errorf("locate public group: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		publicID, id,
	); err != nil {
		return 0, fmt.Errorf("join public group: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	s.logger.Info("user created", "user_id", id, "username", username)
	return id, nil
}

var ErrUserExists = errors.New("user already exists")

// Authenticate returns the user on an exact password match, or nil
// (not an error) on mismatch or unknown username.
func (s *Store) Authenticate(username, password string) (*model.User, error) {
	u, err := s.GetUserByUsername(username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, nil
	}
	if !s.CheckPassword(u.PasswordHash, password) {
		return nil, nil
	}
	return u, nil
}

func (s *Store) GetUserByID(id int64) (*model.User, error) {
	return s.scanUser(s.DB.QueryRow(
		`SELECT id, username, password_hash, is_online, is_banned, created_at FROM users WHERE id = $1`, id))
}

func (s *Store) GetUserByUsername(username string) (*model.User, error) {
	return s.scanUser(s.DB.QueryRow(
		`SELECT id, username, password_hash, is_online, is_banned, created_at FROM users WHERE username = $1`, username))
}

func (s *Store) scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsOnline, &u.IsBanned, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) SetUserOnline(id int64, online bool) error {
	_, err := s.DB.Exec(`UPDATE users SET is_online = $1 WHERE id = $2`, online, id)
	return err
}

func (s *Store) GetAllUsers() ([]model.User, error) {
	rows, err := s.DB.Query(`SELECT id, username, password_hash, is_online, is_banned, created_at FROM users ORDER BY id`)
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

func (s *Store) CountUsers() (int, error) {
	var n int
	err := s.DB.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (s *Store) CountOnlineUsers() (int, error) {
	var n int
	err := s.DB.QueryRow(`SELECT COUNT(*) FROM users WHERE is_online = TRUE`).Scan(&n)
	return n, err
}

func (s *Store) IsUserBanned(id int64) (bool, error) {
	var banned bool
	err := s.DB.QueryRow(`SELECT is_banned FROM users WHERE id = $1`, id).Scan(&banned)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return banned, err
}

// SetUserBanned is an admin-only mutation; the reserved-id and
// self-targeting checks live in the admin package, not here, since
// the Store's job is mechanical persistence, not authorization.
func (s *Store) SetUserBanned(id int64, banned bool) error {
	res, err := s.DB.Exec(`UPDATE users SET is_banned = $1 WHERE id = $2`, banned, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

var ErrNotFound = errors.New("not found")

func (s *Store) RenameUser(id int64, newUsername string) error {
	_, err := s.DB.Exec(`UPDATE users SET username = $1 WHERE id = $2`, newUsername, id)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrUserExists
	}
	return err
}

func (s *Store) SetUserPassword(id int64, newPassword string) error {
	hash, err := s.HashPassword(newPassword)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`UPDATE users SET password_hash = $1 WHERE id = $2`, hash, id)
	return err
}

// DeleteUser cascades to memberships, messages, and file metadata
// referencing the user. Reserved ids are refused by the caller (admin
// package); this method enforces it too as a last line of defense.
func (s *Store) DeleteUser(id int64) error {
	if model.IsReservedUser(id) {
		return ErrReservedID
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM group_members WHERE user_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE sender_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM files_metadata WHERE uploader_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM users WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

var ErrReservedID = errors.New("reserved id cannot be mutated")

func (s *Store) GetBannedUsers() ([]model.User, error) {
	rows, err := s.DB.Query(`SELECT id, username, password_hash, is_online, is_banned, created_at FROM users WHERE is_banned = TRUE ORDER BY id`)
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
