package chat

import (
	"sync"
	"sync/atomic"

	"streamhub/internal/models"
)

const defaultSendBuffer = 32

// Client is one realtime connection as seen by the Hub. The transport drains
// Outbound; the Hub never blocks on a slow client and drops frames instead.
type Client struct {
	user models.User
	send chan []byte

	mu      sync.Mutex
	closed  bool
	dropped atomic.Int64
}

func NewClient(user models.User, buffer int) *Client {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &Client{user: user, send: make(chan []byte, buffer)}
}

func (c *Client) User() models.User {
	return c.user
}

func (c *Client) entry() models.PresenceEntry {
	return models.PresenceEntry{UserID: c.user.ID, Username: c.user.Username, AvatarURL: c.user.AvatarURL}
}

// Outbound yields encoded frames. It is closed once the Hub disconnects the
// client.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// Dropped reports how many frames were discarded because the buffer was full.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Client) deliver(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
