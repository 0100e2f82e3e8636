package hub

import (
	"time"

	"github.com/google/uuid"
)

// Conn is the transport-level send capability behind a client. The WebSocket
// adapter implements it; tests substitute an in-memory fake.
type Conn interface {
	// Send writes one JSON-encoded message to the peer without blocking on
	// delivery. It is safe to call concurrently.
	Send(data []byte) error
	// Open reports whether the connection can still accept writes.
	Open() bool
	Close() error
}

// UserRef is the identity snapshot carried on every connection and embedded
// in broadcast payloads. IDs and names are opaque strings owned by the
// upstream application; the hub never validates them.
type UserRef struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Client is one live connection subscribed to a project. The same user may
// hold several clients at once (multiple tabs or devices).
type Client struct {
	ID          string
	User        UserRef
	ProjectID   string
	ConnectedAt time.Time

	conn Conn
}

// NewClient wraps a transport connection for registration.
func NewClient(projectID string, user UserRef, conn Conn) *Client {
	return &Client{
		ID:          uuid.NewString(),
		User:        user,
		ProjectID:   projectID,
		ConnectedAt: time.Now(),
		conn:        conn,
	}
}

// Open reports whether the underlying transport is still writable.
func (c *Client) Open() bool { return c.conn.Open() }

// Send writes raw bytes to the underlying transport.
func (c *Client) Send(data []byte) error { return c.conn.Send(data) }

// Close closes the underlying transport.
func (c *Client) Close() error { return c.conn.Close() }
