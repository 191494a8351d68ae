// Package server implements the TCP accept loop and per-connection
// worker: the ReadPump/WritePump pair that owns a client's socket.
// Each connection gets a buffered outbound channel and its own
// read/write goroutine pair, over net.Conn + bufio.Scanner since the
// wire format is bare newline-delimited JSON, not WebSocket frames.
package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/arisuchan/chatroom/pkg/metrics"
	"github.com/arisuchan/chatroom/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 256

	// defaultReadBufferSize is the scanner's initial buffer
	// allocation; it grows up to protocol.MaxLineBytes as needed, so
	// this only tunes the common case to avoid repeated regrowth.
	defaultReadBufferSize = 1024
)

// Client owns one accepted connection: one goroutine reads frames off
// the socket and hands them to the Dispatcher, another drains the
// outbound channel so that writes to a given peer are serialised
// without serialising writes across peers.
type Client struct {
	conn           net.Conn
	send           chan []byte
	dispatcher     *protocol.Dispatcher
	logger         *slog.Logger
	onClose        func(c *Client)
	readBufferSize int

	mu     sync.Mutex
	closed bool
}

func NewClient(conn net.Conn, dispatcher *protocol.Dispatcher, logger *slog.Logger, onClose func(*Client)) *Client {
	return NewClientWithReadBuffer(conn, dispatcher, logger, onClose, defaultReadBufferSize)
}

// NewClientWithReadBuffer is NewClient with an explicit initial scanner
// buffer size, used by the Server to honor config.ServerConfig's
// ReadBufferSize; the buffer still grows up to protocol.MaxLineBytes
// regardless of this starting size.
func NewClientWithReadBuffer(conn net.Conn, dispatcher *protocol.Dispatcher, logger *slog.Logger, onClose func(*Client), readBufferSize int) *Client {
	if readBufferSize <= 0 || readBufferSize > protocol.MaxLineBytes {
		readBufferSize = defaultReadBufferSize
	}
	return &Client{
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		dispatcher:     dispatcher,
		logger:         logger,
		onClose:        onClose,
		readBufferSize: readBufferSize,
	}
}

// SendFrame marshals v to JSON, appends a newline, and queues it for
// the write pump. It satisfies pkg/group.Sender.
func (c *Client) SendFrame(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		// outbound buffer full: the peer isn't draining fast enough.
		return net.ErrClosed
	}
}

// closeSend closes the outbound channel exactly once, guarded by the
// same lock SendFrame checks, so a broadcast racing a disconnect never
// sends on a closed channel.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// ReadPump reads newline-delimited frames until EOF or an unrecoverable
// error, dispatching each to the Dispatcher. A line exceeding
// protocol.MaxLineBytes is reported to the peer as an error frame
// rather than ending the connection: protocol.SplitLines resyncs to
// the next newline and hands back protocol.OversizedLine in place of
// the line's content, so bufio.Scanner never returns bufio.ErrTooLong
// (which would otherwise end Scan permanently and drop the socket).
func (c *Client) ReadPump() {
	defer func() {
		c.closeSend()
		if c.onClose != nil {
			c.onClose(c)
		}
		c.conn.Close()
	}()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, c.readBufferSize), protocol.MaxLineBytes+1)
	// discarding is set once a line has outgrown the buffer without a
	// newline; its remaining bytes are dropped up to that newline,
	// which then yields protocol.OversizedLine.
	discarding := false
	scanner.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		i := bytes.IndexByte(data, '\n')
		if discarding && i >= 0 {
			discarding = false
			return i + 1, protocol.OversizedLine, nil
		}
		if discarding || (i < 0 && len(data) > protocol.MaxLineBytes) {
			discarding = true
			return len(data), nil, nil
		}
		return protocol.SplitLines(data, atEOF)
	})

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		metrics.FramesReceivedTotal.Inc()
		if bytes.Equal(line, protocol.OversizedLine) {
			c.dispatcher.Dispatch(c, c, protocol.OversizedLine)
			continue
		}
		lineCopy := append([]byte(nil), line...)
		c.dispatcher.Dispatch(c, c, lineCopy)
	}
}

// WritePump drains the outbound channel onto the socket. It exits
// when the channel is closed (by ReadPump on disconnect) or on a
// write error.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if _, err := c.conn.Write(data); err != nil {
			c.logger.Debug("write failed, closing connection", "error", err)
			return
		}
	}
}
