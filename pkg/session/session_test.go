package session

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	closed bool
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakePresenceStore struct {
	online map[int64]bool
}

func newFakePresenceStore() *fakePresenceStore {
	return &fakePresenceStore{online: make(map[int64]bool)}
}

func (s *fakePresenceStore) SetUserOnline(id int64, online bool) error {
	s.online[id] = online
	return nil
}

func newTestRegistry() (*Registry, *fakePresenceStore) {
	st := newFakePresenceStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(st, logger), st
}

func TestLoginAndLookup(t *testing.T) {
	r, st := newTestRegistry()
	conn := &fakeConn{}

	r.Login(1, conn)

	assert.True(t, r.IsOnline(1))
	assert.True(t, st.online[1])
	assert.Equal(t, 1, r.Count())

	sess, ok := r.GetByUser(1)
	require.True(t, ok)
	assert.Equal(t, int64(1), sess.UserID)

	byConn, ok := r.GetByConn(conn)
	require.True(t, ok)
	assert.Equal(t, int64(1), byConn.UserID)
}

func TestLoginClosesStaleConnection(t *testing.T) {
	r, _ := newTestRegistry()
	first := &fakeConn{}
	second := &fakeConn{}

	r.Login(7, first)
	r.Login(7, second)

	assert.True(t, first.closed)
	assert.False(t, second.closed)
	assert.Equal(t, 1, r.Count())

	sess, ok := r.GetByUser(7)
	require.True(t, ok)
	assert.Same(t, second, sess.Conn.(*fakeConn))

	_, ok = r.GetByConn(first)
	assert.False(t, ok)
}

func TestLogout(t *testing.T) {
	r, st := newTestRegistry()
	conn := &fakeConn{}
	r.Login(3, conn)

	r.Logout(3)

	assert.False(t, r.IsOnline(3))
	assert.False(t, st.online[3])
	assert.Equal(t, 0, r.Count())

	_, ok := r.GetByConn(conn)
	assert.False(t, ok)
}

func TestLogoutOfUnknownUserIsNoop(t *testing.T) {
	r, st := newTestRegistry()
	r.Logout(999)
	assert.Empty(t, st.online)
}

func TestDisconnect(t *testing.T) {
	r, _ := newTestRegistry()
	conn := &fakeConn{}
	r.Login(5, conn)

	r.Disconnect(conn)

	assert.False(t, r.IsOnline(5))
}

func TestDisconnectOfUnknownConnIsNoop(t *testing.T) {
	r, _ := newTestRegistry()
	r.Disconnect(&fakeConn{})
	assert.Equal(t, 0, r.Count())
}

func TestCurrentGroup(t *testing.T) {
	r, _ := newTestRegistry()
	conn := &fakeConn{}
	r.Login(2, conn)

	_, ok := r.GetCurrentGroup(2)
	assert.False(t, ok)

	r.SetCurrentGroup(2, 42)
	groupID, ok := r.GetCurrentGroup(2)
	require.True(t, ok)
	assert.Equal(t, int64(42), groupID)
}

func TestCurrentGroupForUnknownUser(t *testing.T) {
	r, _ := newTestRegistry()
	_, ok := r.GetCurrentGroup(123)
	assert.False(t, ok)
}

func TestShutdownClosesAllConnections(t *testing.T) {
	r, _ := newTestRegistry()
	a := &fakeConn{}
	b := &fakeConn{}
	r.Login(1, a)
	r.Login(2, b)

	r.Shutdown()

	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
