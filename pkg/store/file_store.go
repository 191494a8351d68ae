package store

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/arisuchan/chatroom/pkg/model"
)

// BlobStore is the collaborator that physically stores uploaded file
// bytes. The Store only tracks metadata, so this interface can be
// swapped for an S3/GCS-backed implementation without touching
// files_metadata handling.
type BlobStore interface {
	Save(serverPath string, r io.Reader) (int64, error)
	Open(serverPath string) (io.ReadCloser, error)
	Delete(serverPath string) error
}

// LocalBlobStore stores files under a root directory on the local
// filesystem.
type LocalBlobStore struct {
	Root string
}

func NewLocalBlobStore(root string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalBlobStore{Root: root}, nil
}

func (b *LocalBlobStore) Save(serverPath string, r io.Reader) (int64, error) {
	full := filepath.Join(b.Root, serverPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(full)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(f, r)
}

func (b *LocalBlobStore) Open(serverPath string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(b.Root, serverPath))
}

func (b *LocalBlobStore) Delete(serverPath string) error {
	err := os.Remove(filepath.Join(b.Root, serverPath))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// NewServerPath generates a collision-free on-disk name while keeping
// the original extension, so the client-supplied original_name never
// touches the filesystem directly.
func NewServerPath(originalName string) string {
	ext := filepath.Ext(originalName)
	return uuid.NewString() + ext
}

func (s *Store) SaveFileMetadata(fm *model.FileMeta) (int64, error) {
	err := s.DB.QueryRow(`
		INSERT INTO files_metadata (original_name, server_path, size, uploader_id, group_id, message_id)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, upload_time`,
		fm.OriginalName, fm.ServerPath, fm.Size, fm.UploaderID, fm.GroupID, fm.MessageID,
	).Scan(&fm.ID, &fm.UploadTime)
	if err != nil {
		return 0, err
	}
	return fm.ID, nil
}

func (s *Store) GetFileMetadata(id int64) (*model.FileMeta, error) {
	return s.scanFile(s.DB.QueryRow(`
		SELECT id, original_name, server_path, size, uploader_id, group_id, upload_time, message_id
		FROM files_metadata WHERE id = $1`, id))
}

func (s *Store) scanFile(row *sql.Row) (*model.FileMeta, error) {
	var fm model.FileMeta
	err := row.Scan(&fm.ID, &fm.OriginalName, &fm.ServerPath, &fm.Size, &fm.UploaderID, &fm.GroupID, &fm.UploadTime, &fm.MessageID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fm, nil
}

func (s *Store) ListGroupFiles(groupID int64) ([]model.FileMeta, error) {
	rows, err := s.DB.Query(`
		SELECT id, original_name, server_path, size, uploader_id, group_id, upload_time, message_id
		FROM files_metadata WHERE group_id = $1 ORDER BY upload_time DESC`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []model.FileMeta
	for rows.Next() {
		var fm model.FileMeta
		if err := rows.Scan(&fm.ID, &fm.OriginalName, &fm.ServerPath, &fm.Size, &fm.UploaderID, &fm.GroupID, &fm.UploadTime, &fm.MessageID); err != nil {
			return nil, err
		}
		files = append(files, fm)
	}
	return files, rows.Err()
}

func (s *Store) DeleteFileMetadata(id int64) (*model.FileMeta, error) {
	fm, err := s.GetFileMetadata(id)
	if err != nil || fm == nil {
		return fm, err
	}
	if _, err := s.DB.Exec(`DELETE FROM files_metadata WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return fm, nil
}
