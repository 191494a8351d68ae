package handler

import (
	"encoding/base64"
	"strings"

	"github.com/arisuchan/chatroom/pkg/chaterr"
	"github.com/arisuchan/chatroom/pkg/model"
	"github.com/arisuchan/chatroom/pkg/protocol"
	"github.com/arisuchan/chatroom/pkg/store"
	"github.com/arisuchan/chatroom/pkg/validate"
)

// fileUploadRequest carries the file inline as base64. On-disk chunk
// storage is an external collaborator (store.BlobStore); the core
// only needs to persist metadata and hand bytes to that collaborator.
type fileUploadRequest struct {
	ChatGroupID  int64  `json:"chat_group_id"`
	OriginalName string `json:"original_name"`
	ContentB64   string `json:"content_b64"`
}

func (r *Registrar) handleFileUpload(conn interface{}, frame protocol.RawFrame) error {
	sess, err := r.currentUser(conn)
	if err != nil {
		return err
	}
	var req fileUploadRequest
	if err := frame.Unmarshal(&req); err != nil {
		return chaterr.InvalidCommand("malformed file_upload_request")
	}

	if err := validate.FileName(req.OriginalName, r.FileConf.AllowedExtensions); err != nil {
		return chaterr.InvalidCommand(err.Error())
	}

	data, err := base64.StdEncoding.DecodeString(req.ContentB64)
	if err != nil {
		return chaterr.InvalidCommand("content_b64 is not valid base64")
	}
	if err := validate.FileSize(int64(len(data)), r.FileConf.MaxSizeBytes); err != nil {
		return chaterr.FileTooLarge(err.Error())
	}

	member, err := r.Store.IsMember(req.ChatGroupID, sess.UserID)
	if err != nil {
		return chaterr.StoreFailure("membership check failed", err)
	}
	if !member {
		return chaterr.PermissionDenied("not a member of this chat")
	}

	serverPath := store.NewServerPath(req.OriginalName)
	if r.blobs != nil {
		if _, err := r.blobs.Save(serverPath, strings.NewReader(string(data))); err != nil {
			return chaterr.ServerError("save file failed", err)
		}
	}

	fm := &model.FileMeta{
		OriginalName: req.OriginalName,
		ServerPath:   serverPath,
		Size:         int64(len(data)),
		UploaderID:   sess.UserID,
		GroupID:      req.ChatGroupID,
	}
	if _, err := r.Store.SaveFileMetadata(fm); err != nil {
		return chaterr.StoreFailure("save file metadata failed", err)
	}

	return r.sender(conn).SendFrame(protocol.FileResponse{
		Envelope: protocol.NewEnvelope("file_upload_response"),
		Success:  true,
		File:     fm,
	})
}

type fileDownloadRequest struct {
	FileID int64 `json:"file_id"`
}

func (r *Registrar) handleFileDownload(conn interface{}, frame protocol.RawFrame) error {
	sess, err := r.currentUser(conn)
	if err != nil {
		return err
	}
	var req fileDownloadRequest
	if err := frame.Unmarshal(&req); err != nil {
		return chaterr.InvalidCommand("malformed file_download_request")
	}

	fm, err := r.Store.GetFileMetadata(req.FileID)
	if err != nil {
		return chaterr.StoreFailure("lookup file failed", err)
	}
	if fm == nil {
		return chaterr.FileNotFound("file not found")
	}

	member, err := r.Store.IsMember(fm.GroupID, sess.UserID)
	if err != nil {
		return chaterr.StoreFailure("membership check failed", err)
	}
	if !member {
		return chaterr.PermissionDenied("not a member of this chat")
	}

	resp := protocol.FileResponse{
		Envelope: protocol.NewEnvelope("file_download_response"),
		Success:  true,
		File:     fm,
	}

	if r.blobs != nil {
		rc, err := r.blobs.Open(fm.ServerPath)
		if err != nil {
			return chaterr.FileNotFound("file blob missing")
		}
		defer rc.Close()
	}

	return r.sender(conn).SendFrame(resp)
}
