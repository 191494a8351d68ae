package group

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arisuchan/chatroom/pkg/model"
	"github.com/arisuchan/chatroom/pkg/session"
	"github.com/arisuchan/chatroom/pkg/store"
)

// fakeStore is a GroupStore backed by plain maps, enough to exercise
// Create/Join/Send/Broadcast without a real database.
type fakeStore struct {
	groups       map[int64]*model.ChatGroup
	groupsByName map[string]*model.ChatGroup
	members      map[int64]map[int64]bool
	users        map[int64]*model.User
	banned       map[int64]bool
	messages     []model.Message
	nextGroupID  int64
	nextMsgID    int64

	publishes []store.SyncEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		groups:       make(map[int64]*model.ChatGroup),
		groupsByName: make(map[string]*model.ChatGroup),
		members:      make(map[int64]map[int64]bool),
		users:        make(map[int64]*model.User),
		banned:       make(map[int64]bool),
	}
}

func (s *fakeStore) CreateGroup(name string, isPrivate bool) (int64, error) {
	s.nextGroupID++
	g := &model.ChatGroup{ID: s.nextGroupID, Name: name, IsPrivateChat: isPrivate}
	s.groups[g.ID] = g
	s.groupsByName[name] = g
	s.members[g.ID] = make(map[int64]bool)
	return g.ID, nil
}

func (s *fakeStore) GetGroupByID(id int64) (*model.ChatGroup, error) {
	return s.groups[id], nil
}

func (s *fakeStore) GetGroupByName(name string) (*model.ChatGroup, error) {
	return s.groupsByName[name], nil
}

func (s *fakeStore) AddMember(groupID, userID int64) error {
	if s.members[groupID] == nil {
		s.members[groupID] = make(map[int64]bool)
	}
	s.members[groupID][userID] = true
	return nil
}

func (s *fakeStore) IsMember(groupID, userID int64) (bool, error) {
	return s.members[groupID][userID], nil
}

func (s *fakeStore) GetGroupMembers(groupID int64) ([]model.User, error) {
	var out []model.User
	for uid := range s.members[groupID] {
		if u, ok := s.users[uid]; ok {
			out = append(out, *u)
		} else {
			out = append(out, model.User{ID: uid})
		}
	}
	return out, nil
}

func (s *fakeStore) GetUserByID(id int64) (*model.User, error) {
	return s.users[id], nil
}

func (s *fakeStore) IsUserBanned(userID int64) (bool, error) {
	return s.banned[userID], nil
}

func (s *fakeStore) SaveMessage(groupID, senderID int64, content string, kind model.MessageKind) (*model.Message, error) {
	s.nextMsgID++
	msg := model.Message{ID: s.nextMsgID, GroupID: groupID, SenderID: senderID, Content: content, Kind: kind}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *fakeStore) PushAIContext(groupID int64, msg model.Message, window int) error {
	return nil
}

func (s *fakeStore) History(groupID int64, limit int) ([]model.Message, error) {
	var out []model.Message
	for _, m := range s.messages {
		if m.GroupID == groupID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) FindCommonPrivateGroup(u1, u2 int64) (*model.ChatGroup, error) {
	return nil, nil
}

func (s *fakeStore) PublishSync(ev store.SyncEvent) error {
	s.publishes = append(s.publishes, ev)
	return nil
}

// fakeSender records frames sent to it; satisfies Sender.
type fakeSender struct {
	frames []interface{}
	closed bool
}

func (f *fakeSender) SendFrame(v interface{}) error {
	f.frames = append(f.frames, v)
	return nil
}

func (f *fakeSender) Close() error {
	f.closed = true
	return nil
}

// fakeConn satisfies session.Conn with identity-only semantics.
type fakeConn struct{ id int64 }

func (c *fakeConn) Close() error { return nil }

func newTestEngine() (*Engine, *fakeStore, *session.Registry) {
	st := newFakeStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewRegistry(noopPresenceStore{}, logger)
	senders := make(map[session.Conn]*fakeSender)

	lookup := func(conn session.Conn) (Sender, bool) {
		s, ok := senders[conn]
		return s, ok
	}

	e := NewEngine(st, sessions, lookup, logger)
	return e, st, sessions
}

type noopPresenceStore struct{}

func (noopPresenceStore) SetUserOnline(id int64, online bool) error { return nil }

func TestCreateNonPrivateGroupAddsAI(t *testing.T) {
	e, st, _ := newTestEngine()

	g, err := e.Create("general", 10, nil, false)
	require.NoError(t, err)

	member, err := st.IsMember(g.ID, model.AIUserID)
	require.NoError(t, err)
	assert.True(t, member)

	creatorIsMember, err := st.IsMember(g.ID, 10)
	require.NoError(t, err)
	assert.True(t, creatorIsMember)
}

func TestCreatePrivateGroupSkipsAI(t *testing.T) {
	e, st, _ := newTestEngine()
	st.users[20] = &model.User{ID: 20, Username: "bob"}

	g, err := e.Create("dm", 10, []int64{20}, true)
	require.NoError(t, err)

	member, err := st.IsMember(g.ID, model.AIUserID)
	require.NoError(t, err)
	assert.False(t, member)

	other, err := st.IsMember(g.ID, 20)
	require.NoError(t, err)
	assert.True(t, other)
}

func TestJoinIsIdempotent(t *testing.T) {
	e, st, _ := newTestEngine()
	g, err := e.Create("general", 10, nil, false)
	require.NoError(t, err)

	_, err = e.Join("general", 30)
	require.NoError(t, err)
	_, err = e.Join("general", 30)
	require.NoError(t, err)

	members, err := st.GetGroupMembers(g.ID)
	require.NoError(t, err)
	count := 0
	for _, m := range members {
		if m.ID == 30 {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestJoinUnknownGroup(t *testing.T) {
	e, _, _ := newTestEngine()
	_, err := e.Join("nope", 1)
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestSendRejectsNonMember(t *testing.T) {
	e, _, _ := newTestEngine()
	g, err := e.Create("general", 10, nil, false)
	require.NoError(t, err)

	_, err = e.Send(99, g.ID, "hi")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestSendRejectsBannedUser(t *testing.T) {
	e, st, _ := newTestEngine()
	g, err := e.Create("general", 10, nil, false)
	require.NoError(t, err)
	st.banned[10] = true

	_, err = e.Send(10, g.ID, "hi")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestSendRejectsBannedGroup(t *testing.T) {
	e, st, _ := newTestEngine()
	g, err := e.Create("general", 10, nil, false)
	require.NoError(t, err)
	st.groups[g.ID].IsBanned = true

	_, err = e.Send(10, g.ID, "hi")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestSendPublishesSync(t *testing.T) {
	e, st, _ := newTestEngine()
	g, err := e.Create("general", 10, nil, false)
	require.NoError(t, err)

	_, err = e.Send(10, g.ID, "hi")
	require.NoError(t, err)

	require.Len(t, st.publishes, 1)
	assert.Equal(t, g.ID, st.publishes[0].GroupID)
	assert.Equal(t, "hi", st.publishes[0].Message.Content)
}

func TestBroadcastFiltersByCurrentGroup(t *testing.T) {
	e, st, sessions := newTestEngine()
	g, err := e.Create("general", 10, nil, false)
	require.NoError(t, err)
	require.NoError(t, st.AddMember(g.ID, 20))
	require.NoError(t, st.AddMember(g.ID, 30))

	inGroup := &fakeConn{id: 20}
	elsewhere := &fakeConn{id: 30}
	sessions.Login(20, inGroup)
	sessions.Login(30, elsewhere)
	sessions.SetCurrentGroup(20, g.ID)
	sessions.SetCurrentGroup(30, 999)

	senderIn := &fakeSender{}
	senderOut := &fakeSender{}
	lookup := func(conn session.Conn) (Sender, bool) {
		switch conn {
		case inGroup:
			return senderIn, true
		case elsewhere:
			return senderOut, true
		default:
			return nil, false
		}
	}
	e.senders = lookup

	e.Broadcast(model.Message{GroupID: g.ID, SenderID: 10, Content: "hello"})

	assert.Len(t, senderIn.frames, 1)
	assert.Empty(t, senderOut.frames)
}

func TestBroadcastSkipsOfflineMembers(t *testing.T) {
	e, st, _ := newTestEngine()
	g, err := e.Create("general", 10, nil, false)
	require.NoError(t, err)
	require.NoError(t, st.AddMember(g.ID, 40))

	// 40 is a member but never logged in, so e.Sessions.GetByUser fails
	// and Broadcast must skip them without panicking.
	assert.NotPanics(t, func() {
		e.Broadcast(model.Message{GroupID: g.ID, SenderID: 10, Content: "hello"})
	})
}

func TestEnterRequiresMembership(t *testing.T) {
	e, _, sessions := newTestEngine()
	_, err := e.Create("general", 10, nil, false)
	require.NoError(t, err)

	_, err = e.Enter("general", 99, sessions)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestEnterSetsCurrentGroup(t *testing.T) {
	e, _, sessions := newTestEngine()
	g, err := e.Create("general", 10, nil, false)
	require.NoError(t, err)
	sessions.Login(10, &fakeConn{id: 10})

	_, err = e.Enter("general", 10, sessions)
	require.NoError(t, err)

	groupID, ok := sessions.GetCurrentGroup(10)
	require.True(t, ok)
	assert.Equal(t, g.ID, groupID)
}
