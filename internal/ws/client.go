package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/serroba/smart-collab/internal/acl"
)

// Common errors.
var (
	ErrClientClosed     = errors.New("client is closed")
	ErrQueueFull        = errors.New("client send queue is full")
	ErrMalformedMessage = errors.New("malformed message")
)

// DefaultQueueSize is the number of outbound messages buffered per client.
const DefaultQueueSize = 256

// Conn abstracts a WebSocket connection for testability. It matches
// *websocket.Conn.
type Conn interface {
	WriteJSON(v any) error
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
}

// ReadMessage reads one frame from conn and decodes it. Transport errors
// are returned as is; a frame that does not decode yields an error
// wrapping ErrMalformedMessage and the connection stays usable.
func ReadMessage(conn Conn) (Message, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return Message{}, err
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	return msg, nil
}

// Identity is who a connection authenticated as and where it joined.
type Identity struct {
	UserID   string
	Username string
	RoomID   string
	Role     acl.Role
}

type outbound struct {
	msg  Message
	last bool
}

// Client is a server side connection. Outbound messages go through a
// single queue drained by one writer goroutine, so they reach the peer in
// the order they were sent.
type Client struct {
	ID   string
	conn Conn

	queue     chan outbound
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	identity Identity
}

// NewClient wraps conn and starts its writer.
func NewClient(id string, conn Conn, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	c := &Client{
		ID:    id,
		conn:  conn,
		queue: make(chan outbound, queueSize),
		done:  make(chan struct{}),
	}

	go c.writeLoop()

	return c
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case out := <-c.queue:
			if err := c.conn.WriteJSON(out.msg); err != nil || out.last {
				_ = c.Close()

				return
			}
		}
	}
}

// Send queues a message without blocking.
func (c *Client) Send(msg Message) error {
	return c.enqueue(outbound{msg: msg})
}

// CloseAfter queues msg as the final message: the writer closes the
// client once msg is written, and Done fires then. If msg cannot be
// queued the client is closed right away.
func (c *Client) CloseAfter(msg Message) error {
	err := c.enqueue(outbound{msg: msg, last: true})
	if err != nil {
		_ = c.Close()
	}

	return err
}

func (c *Client) enqueue(out outbound) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.queue <- out:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrQueueFull
	}
}

// SendError queues an error message.
func (c *Client) SendError(code, detail string) error {
	return c.Send(ErrorMessage(code, detail))
}

// Receive reads the next message from the peer. See ReadMessage for the
// error contract.
func (c *Client) Receive() (Message, error) {
	return ReadMessage(c.conn)
}

// Close stops the writer and closes the connection. Queued messages not
// yet written are dropped.
func (c *Client) Close() error {
	var err error

	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})

	return err
}

// Done is closed when the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Identity returns who the client authenticated as.
func (c *Client) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.identity
}

// SetIdentity records who the client authenticated as.
func (c *Client) SetIdentity(id Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.identity = id
}

// RoomID returns the room the client joined, if any.
func (c *Client) RoomID() string {
	return c.Identity().RoomID
}

func (c *Client) setRoomID(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.identity.RoomID = roomID
}
