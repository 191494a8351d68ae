// Package store implements the durable relational state: users, chat
// groups, memberships, messages, file metadata and ban flags, plus
// the admin audit log — backed by Postgres via integer primary keys,
// with a retry-on-connect loop, tuned connection pool, idempotent
// InitSchema, and structured logging per call.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/arisuchan/chatroom/pkg/model"
)

type Store struct {
	DB         *sql.DB
	RDB        *redis.Client
	Ctx        context.Context
	logger     *slog.Logger
	bcryptCost int

	bootstrapAdminPassword string
	bootstrapAIPassword    string
}

func New(ctx context.Context, pgConnStr, redisURL string, bcryptCost int, logger *slog.Logger) (*Store, error) {
	var db *sql.DB
	var err error

	for i := 0; i < 5; i++ {
		db, err = sql.Open("postgres", pgConnStr)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}
		logger.Warn("waiting for postgres", "attempt", i+1)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	var rdb *redis.Client
	if redisURL != "" {
		rdb, err = newRedis(ctx, redisURL)
		if err != nil {
			return nil, err
		}
	}

	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}

	logger.Info("store connected", "postgres", true, "redis", rdb != nil)

	return &Store{DB: db, RDB: rdb, Ctx: ctx, logger: logger, bcryptCost: bcryptCost}, nil
}

func newRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.PoolSize = 50
	opt.MinIdleConns = 5
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

func (s *Store) Close() error {
	var errs []error
	if err := s.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("postgres close error: %w", err))
	}
	if s.RDB != nil {
		if err := s.RDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing store: %v", errs)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id SERIAL PRIMARY KEY,
	username VARCHAR(20) UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	is_online BOOLEAN DEFAULT FALSE,
	is_banned BOOLEAN DEFAULT FALSE,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chat_groups (
	id SERIAL PRIMARY KEY,
	name VARCHAR(30) UNIQUE NOT NULL,
	is_private_chat BOOLEAN DEFAULT FALSE,
	is_banned BOOLEAN DEFAULT FALSE,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS group_members (
	group_id INTEGER NOT NULL REFERENCES chat_groups(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	joined_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (group_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id);

CREATE TABLE IF NOT EXISTS messages (
	id SERIAL PRIMARY KEY,
	group_id INTEGER NOT NULL REFERENCES chat_groups(id) ON DELETE CASCADE,
	sender_id INTEGER NOT NULL,
	content TEXT NOT NULL,
	kind VARCHAR(10) NOT NULL DEFAULT 'text',
	timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_group_ts ON messages(group_id, timestamp);

CREATE TABLE IF NOT EXISTS files_metadata (
	id SERIAL PRIMARY KEY,
	original_name VARCHAR(255) NOT NULL,
	server_path TEXT UNIQUE NOT NULL,
	size BIGINT NOT NULL,
	uploader_id INTEGER NOT NULL,
	group_id INTEGER NOT NULL REFERENCES chat_groups(id) ON DELETE CASCADE,
	upload_time TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	message_id INTEGER
);

CREATE TABLE IF NOT EXISTS audit_log (
	id SERIAL PRIMARY KEY,
	time TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	operator_id INTEGER NOT NULL,
	verb VARCHAR(20) NOT NULL,
	object VARCHAR(20) NOT NULL,
	target TEXT NOT NULL,
	outcome VARCHAR(20) NOT NULL,
	detail TEXT
);
`

func (s *Store) InitSchema() error {
	_, err := s.DB.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return s.bootstrap()
}

// bootstrap creates the public group and the reserved admin/AI users
// on first start; idempotent so it's safe to call on every startup.
func (s *Store) bootstrap() error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var publicID int64
	err = tx.QueryRow(`INSERT INTO chat_groups (name, is_private_chat) VALUES ($1, FALSE)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name RETURNING id`, model.PublicGroupName).Scan(&publicID)
	if err != nil {
		return fmt.Errorf("bootstrap public group: %w", err)
	}

	for _, u := range []struct {
		id       int64
		username string
		password string
	}{
		{model.AdminUserID, model.AdminUsername, s.bootstrapAdminPassword},
		{model.AIUserID, model.AIUsername, s.bootstrapAIPassword},
	} {
		pw := u.password
		if pw == "" {
			pw = "changeme12345"
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pw), s.bcryptCost)
		if err != nil {
			return fmt.Errorf("bootstrap hash: %w", err)
		}
		_, err = tx.Exec(`INSERT INTO users (id, username, password_hash) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING`, u.id, u.username, string(hash))
		if err != nil {
			return fmt.Errorf("bootstrap user %s: %w", u.username, err)
		}
		_, err = tx.Exec(`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, publicID, u.id)
		if err != nil {
			return fmt.Errorf("bootstrap membership %s: %w", u.username, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bootstrap commit: %w", err)
	}
	s.logger.Info("bootstrap complete", "public_group_id", publicID)
	return nil
}

// SetBootstrapPasswords lets callers override the reserved users'
// initial passwords before InitSchema runs (used by main with
// config.Auth.*BootstrapPass).
func (s *Store) SetBootstrapPasswords(adminPW, aiPW string) {
	s.bootstrapAdminPassword = adminPW
	s.bootstrapAIPassword = aiPW
}

func (s *Store) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (s *Store) CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
