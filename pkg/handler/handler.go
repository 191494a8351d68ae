// Package handler implements one handler per request tag, registered
// onto a protocol.Dispatcher. Handlers take (conn, protocol.RawFrame)
// rather than an HTTP request/response pair, since requests arrive as
// dispatched frames over a persistent connection, not HTTP routes.
package handler

import (
	"log/slog"
	"net"

	"github.com/arisuchan/chatroom/pkg/admin"
	"github.com/arisuchan/chatroom/pkg/ai"
	"github.com/arisuchan/chatroom/pkg/chaterr"
	"github.com/arisuchan/chatroom/pkg/group"
	"github.com/arisuchan/chatroom/pkg/model"
	"github.com/arisuchan/chatroom/pkg/protocol"
	"github.com/arisuchan/chatroom/pkg/session"
	"github.com/arisuchan/chatroom/pkg/store"
	"github.com/arisuchan/chatroom/pkg/validate"
)

type Registrar struct {
	Store    *store.Store
	Sessions *session.Registry
	Groups   *group.Engine
	Admin    *admin.Admin
	AI       *ai.Participant
	FileConf FileConfig
	blobs    store.BlobStore
	logger   *slog.Logger
}

type FileConfig struct {
	AllowedExtensions map[string]bool
	MaxSizeBytes      int64
}

func NewRegistrar(st *store.Store, sessions *session.Registry, groups *group.Engine, ad *admin.Admin, participant *ai.Participant, fc FileConfig, blobs store.BlobStore, logger *slog.Logger) *Registrar {
	return &Registrar{Store: st, Sessions: sessions, Groups: groups, Admin: ad, AI: participant, FileConf: fc, blobs: blobs, logger: logger}
}

// RegisterAll wires every request tag onto the dispatcher.
func (r *Registrar) RegisterAll(d *protocol.Dispatcher) {
	d.Handle("register_request", r.handleRegister)
	d.Handle("login_request", r.handleLogin)
	d.Handle("chat_message", r.handleChatMessage)
	d.Handle("user_info_request", r.handleUserInfo)
	d.Handle("list_users_request", r.handleListUsers)
	d.Handle("list_chats_request", r.handleListChats)
	d.Handle("create_chat_request", r.handleCreateChat)
	d.Handle("join_chat_request", r.handleJoinChat)
	d.Handle("enter_chat_request", r.handleEnterChat)
	d.Handle("file_upload_request", r.handleFileUpload)
	d.Handle("file_download_request", r.handleFileDownload)
	d.Handle("logout_request", r.handleLogout)
}

// currentUser resolves the caller for every tag except register/login.
func (r *Registrar) currentUser(conn interface{}) (*session.Session, error) {
	nc, ok := conn.(net.Conn)
	if !ok {
		return nil, chaterr.AuthenticationError("not logged in")
	}
	sess, ok := r.Sessions.GetByConn(nc)
	if !ok {
		return nil, chaterr.AuthenticationError("not logged in")
	}
	return sess, nil
}

func (r *Registrar) sender(conn interface{}) protocol.ErrorSender {
	return conn.(protocol.ErrorSender)
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *Registrar) handleRegister(conn interface{}, frame protocol.RawFrame) error {
	var req registerRequest
	if err := frame.Unmarshal(&req); err != nil {
		return chaterr.InvalidCommand("malformed register_request")
	}
	if err := validate.Username(req.Username); err != nil {
		return chaterr.InvalidCommand(err.Error())
	}
	if err := validate.Password(req.Password); err != nil {
		return chaterr.InvalidCommand(err.Error())
	}

	id, err := r.Store.CreateUser(req.Username, req.Password)
	if err != nil {
		if err == store.ErrUserExists {
			return chaterr.UserAlreadyExists(req.Username)
		}
		return chaterr.StoreFailure("create user failed", err)
	}

	return r.sender(conn).SendFrame(protocol.RegisterResponse{
		Envelope: protocol.NewEnvelope("register_response"),
		Success:  true,
		Username: req.Username,
		UserID:   id,
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *Registrar) handleLogin(conn interface{}, frame protocol.RawFrame) error {
	nc, ok := conn.(net.Conn)
	if !ok {
		return chaterr.ServerError("connection type mismatch", nil)
	}

	var req loginRequest
	if err := frame.Unmarshal(&req); err != nil {
		return chaterr.InvalidCommand("malformed login_request")
	}

	u, err := r.Store.Authenticate(req.Username, req.Password)
	if err != nil {
		return chaterr.StoreFailure("authenticate failed", err)
	}
	if u == nil {
		return chaterr.AuthenticationError("invalid username or password")
	}
	if u.IsBanned && u.ID != model.AdminUserID {
		return chaterr.AuthenticationError("account is banned")
	}

	r.Sessions.Login(u.ID, nc)

	// reconcile public membership for pre-existing users.
	publicGroup, err := r.Store.GetGroupByName(model.PublicGroupName)
	if err != nil {
		return chaterr.StoreFailure("lookup public group failed", err)
	}
	if publicGroup != nil {
		if err := r.Store.AddMember(publicGroup.ID, u.ID); err != nil {
			return chaterr.StoreFailure("reconcile public membership failed", err)
		}
		r.Sessions.SetCurrentGroup(u.ID, publicGroup.ID)
	}

	resp := protocol.LoginResponse{
		Envelope: protocol.NewEnvelope("login_response"),
		Success:  true,
		UserID:   u.ID,
		Username: u.Username,
	}
	if publicGroup != nil {
		resp.CurrentGroupID = publicGroup.ID
	}
	return r.sender(conn).SendFrame(resp)
}

type chatMessageRequest struct {
	ChatGroupID int64  `json:"chat_group_id"`
	Content     string `json:"content"`
}

func (r *Registrar) handleChatMessage(conn interface{}, frame protocol.RawFrame) error {
	sess, err := r.currentUser(conn)
	if err != nil {
		return err
	}

	var req chatMessageRequest
	if err := frame.Unmarshal(&req); err != nil {
		return chaterr.InvalidCommand("malformed chat_message")
	}

	content, err := validate.SanitizeMessageContent(req.Content)
	if err != nil {
		return chaterr.InvalidCommand(err.Error())
	}

	if sess.UserID == model.AdminUserID && admin.IsCommand(content) {
		result, err := r.Admin.Execute(sess.UserID, content)
		if err != nil {
			return err
		}
		_, err = r.Groups.Send(model.AdminUserID, req.ChatGroupID, result)
		return err
	}

	msg, err := r.Groups.Send(sess.UserID, req.ChatGroupID, content)
	if err != nil {
		if err == group.ErrGroupNotFound {
			return chaterr.ChatGroupNotFound("chat group not found")
		}
		if err == group.ErrPermissionDenied {
			return chaterr.PermissionDenied("not a member, or banned")
		}
		return chaterr.StoreFailure("send message failed", err)
	}

	if r.AI != nil {
		g, gerr := r.Store.GetGroupByID(req.ChatGroupID)
		if gerr == nil && g != nil {
			aiMember, _ := r.Store.IsMember(req.ChatGroupID, model.AIUserID)
			r.AI.OnMessage(*msg, g.IsPrivateChat, aiMember)
		}
	}

	return nil
}

func (r *Registrar) handleUserInfo(conn interface{}, _ protocol.RawFrame) error {
	sess, err := r.currentUser(conn)
	if err != nil {
		return err
	}
	u, err := r.Store.GetUserByID(sess.UserID)
	if err != nil || u == nil {
		return chaterr.StoreFailure("load user failed", err)
	}

	groups, err := r.Store.GetUserGroups(sess.UserID)
	if err != nil {
		return chaterr.StoreFailure("load groups failed", err)
	}
	var privateCount, groupCount int
	for _, g := range groups {
		if g.IsPrivateChat {
			privateCount++
		} else {
			groupCount++
		}
	}

	totalUsers, err := r.Store.CountUsers()
	if err != nil {
		return chaterr.StoreFailure("count users failed", err)
	}
	totalGroups, err := r.Store.CountGroups()
	if err != nil {
		return chaterr.StoreFailure("count groups failed", err)
	}

	return r.sender(conn).SendFrame(protocol.UserInfoResponse{
		Envelope: protocol.NewEnvelope("user_info_response"),
		UserAggregate: model.UserAggregate{
			User:            *u,
			JoinedGroups:    len(groups),
			PrivateChats:    privateCount,
			GroupChats:      groupCount,
			TotalUsers:      totalUsers,
			TotalGroups:     totalGroups,
			OnlineUserCount: r.Sessions.Count(),
		},
	})
}

type listUsersRequest struct {
	ListType string `json:"list_type"`
}

func (r *Registrar) handleListUsers(conn interface{}, frame protocol.RawFrame) error {
	sess, err := r.currentUser(conn)
	if err != nil {
		return err
	}
	var req listUsersRequest
	if err := frame.Unmarshal(&req); err != nil {
		return chaterr.InvalidCommand("malformed list_users_request")
	}

	var users []model.User
	switch req.ListType {
	case "current_chat":
		groupID, ok := r.Sessions.GetCurrentGroup(sess.UserID)
		if !ok {
			return chaterr.InvalidCommand("no current chat group")
		}
		users, err = r.Store.GetGroupMembers(groupID)
	default:
		users, err = r.Store.GetAllUsers()
	}
	if err != nil {
		return chaterr.StoreFailure("list users failed", err)
	}

	return r.sender(conn).SendFrame(protocol.ListUsersResponse{
		Envelope: protocol.NewEnvelope("list_users_response"),
		Users:    users,
	})
}

type listChatsRequest struct {
	ListType string `json:"list_type"`
}

func (r *Registrar) handleListChats(conn interface{}, frame protocol.RawFrame) error {
	sess, err := r.currentUser(conn)
	if err != nil {
		return err
	}
	var req listChatsRequest
	if err := frame.Unmarshal(&req); err != nil {
		return chaterr.InvalidCommand("malformed list_chats_request")
	}

	var chats []model.ChatGroup
	switch req.ListType {
	case "group_chats":
		chats, err = r.Store.GetAllGroupChats()
	default:
		chats, err = r.Store.GetUserGroups(sess.UserID)
	}
	if err != nil {
		return chaterr.StoreFailure("list chats failed", err)
	}

	return r.sender(conn).SendFrame(protocol.ListChatsResponse{
		Envelope: protocol.NewEnvelope("list_chats_response"),
		Chats:    chats,
	})
}

type createChatRequest struct {
	ChatName        string   `json:"chat_name"`
	MemberUsernames []string `json:"member_usernames"`
}

func (r *Registrar) handleCreateChat(conn interface{}, frame protocol.RawFrame) error {
	sess, err := r.currentUser(conn)
	if err != nil {
		return err
	}
	var req createChatRequest
	if err := frame.Unmarshal(&req); err != nil {
		return chaterr.InvalidCommand("malformed create_chat_request")
	}
	if err := validate.GroupName(req.ChatName); err != nil {
		return chaterr.InvalidCommand(err.Error())
	}

	memberIDs := make([]int64, 0, len(req.MemberUsernames))
	for _, uname := range req.MemberUsernames {
		u, err := r.Store.GetUserByUsername(uname)
		if err != nil {
			return chaterr.StoreFailure("lookup member failed", err)
		}
		if u == nil {
			return chaterr.UserNotFound("user not found: " + uname)
		}
		memberIDs = append(memberIDs, u.ID)
	}

	g, err := r.Groups.Create(req.ChatName, sess.UserID, memberIDs, false)
	if err != nil {
		if err == store.ErrGroupExists {
			return chaterr.InvalidCommand("chat name already in use")
		}
		return chaterr.StoreFailure("create chat failed", err)
	}

	return r.sender(conn).SendFrame(protocol.CreateChatResponse{
		Envelope: protocol.NewEnvelope("create_chat_response"),
		Success:  true,
		Chat:     *g,
	})
}

type joinChatRequest struct {
	ChatName string `json:"chat_name"`
}

func (r *Registrar) handleJoinChat(conn interface{}, frame protocol.RawFrame) error {
	sess, err := r.currentUser(conn)
	if err != nil {
		return err
	}
	var req joinChatRequest
	if err := frame.Unmarshal(&req); err != nil {
		return chaterr.InvalidCommand("malformed join_chat_request")
	}

	g, err := r.Groups.Join(req.ChatName, sess.UserID)
	if err != nil {
		if err == group.ErrGroupNotFound {
			return chaterr.ChatGroupNotFound("chat group not found")
		}
		return chaterr.StoreFailure("join chat failed", err)
	}

	return r.sender(conn).SendFrame(protocol.JoinChatResponse{
		Envelope:    protocol.NewEnvelope("join_chat_response"),
		Success:     true,
		ChatGroupID: g.ID,
	})
}

type enterChatRequest struct {
	ChatName string `json:"chat_name"`
}

func (r *Registrar) handleEnterChat(conn interface{}, frame protocol.RawFrame) error {
	sess, err := r.currentUser(conn)
	if err != nil {
		return err
	}
	var req enterChatRequest
	if err := frame.Unmarshal(&req); err != nil {
		return chaterr.InvalidCommand("malformed enter_chat_request")
	}

	g, err := r.Groups.Enter(req.ChatName, sess.UserID, r.Sessions)
	if err != nil {
		if err == group.ErrGroupNotFound {
			return chaterr.ChatGroupNotFound("chat group not found")
		}
		if err == group.ErrPermissionDenied {
			return chaterr.PermissionDenied("not a member of this chat")
		}
		return chaterr.StoreFailure("enter chat failed", err)
	}

	sender := r.sender(conn)
	if err := sender.SendFrame(protocol.EnterChatResponse{
		Envelope:    protocol.NewEnvelope("enter_chat_response"),
		Success:     true,
		ChatGroupID: g.ID,
		ChatName:    g.Name,
	}); err != nil {
		return err
	}

	history, err := r.Groups.HistoryFor(g.ID, sess.UserID, 50)
	if err != nil {
		return chaterr.StoreFailure("load history failed", err)
	}
	for _, m := range history {
		if err := sender.SendFrame(protocol.NewChatMessageFrame(m)); err != nil {
			return err
		}
	}
	return sender.SendFrame(protocol.NewChatHistoryCompleteFrame(g.ID, len(history)))
}

func (r *Registrar) handleLogout(conn interface{}, _ protocol.RawFrame) error {
	sess, err := r.currentUser(conn)
	if err != nil {
		return err
	}
	r.Sessions.Logout(sess.UserID)
	return r.sender(conn).SendFrame(protocol.LogoutResponse{
		Envelope: protocol.NewEnvelope("logout_response"),
		Message:  "logged out",
	})
}
