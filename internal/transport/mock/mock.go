// Package mock provides an in-memory [transport.Client] for tests.
//
// Inbound traffic is simulated by calling Deliver or Fail, which invoke the
// handler registered via SetHandler exactly as a real session would.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callpilot/internal/transport"
	"github.com/MrWong99/callpilot/pkg/audio"
)

// Client is a mock implementation of [transport.Client].
type Client struct {
	mu sync.Mutex

	// ConnectErr, if non-nil, is returned by Connect.
	ConnectErr error

	// SendErr, if non-nil, is returned by Send.
	SendErr error

	// OnConnect messages are delivered to the handler by a successful
	// Connect before it returns, the way a backend may greet before the
	// dial completes.
	OnConnect []transport.Message

	// ConnectCallCount records how many times Connect was called.
	ConnectCallCount int

	// DisconnectCallCount records how many times Disconnect was called.
	DisconnectCallCount int

	// Sent records every chunk passed to Send.
	Sent []audio.Chunk

	// SessionIDs records the session ID of every Connect call.
	SessionIDs []string

	handler   transport.Handler
	info      transport.StreamInfo
	connected bool
}

var _ transport.Client = (*Client)(nil)

// SetHandler installs the handler that Deliver and Fail dispatch to.
func (c *Client) SetHandler(h transport.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Connect implements [transport.Client].
func (c *Client) Connect(_ context.Context, sessionID string) error {
	c.mu.Lock()
	c.ConnectCallCount++
	c.SessionIDs = append(c.SessionIDs, sessionID)
	c.info = transport.StreamInfo{SessionID: sessionID, ReconnectAttempt: 1}
	if c.ConnectErr != nil {
		c.info.ConnectionState = transport.StateClosed
		err := c.ConnectErr
		c.mu.Unlock()
		return err
	}
	c.info.ConnectionState = transport.StateOpen
	c.connected = true
	early := c.OnConnect
	c.mu.Unlock()

	for _, m := range early {
		c.Deliver(m)
	}
	return nil
}

// Send implements [transport.Client].
func (c *Client) Send(_ context.Context, ch audio.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	if !c.connected {
		return transport.ErrNotConnected
	}
	c.Sent = append(c.Sent, ch)
	return nil
}

// Disconnect implements [transport.Client].
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DisconnectCallCount++
	c.connected = false
	c.info.ConnectionState = transport.StateClosed
	return nil
}

// Info implements [transport.Client].
func (c *Client) Info() transport.StreamInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Deliver hands m to the registered handler.
func (c *Client) Deliver(m transport.Message) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h.HandleMessage(m)
	}
}

// Fail simulates reconnect exhaustion.
func (c *Client) Fail(err error) {
	c.mu.Lock()
	h := c.handler
	c.connected = false
	c.info.ConnectionState = transport.StateClosed
	c.mu.Unlock()
	if h != nil {
		h.HandleFailure(err)
	}
}

// SentChunks returns a copy of Sent. Thread-safe.
func (c *Client) SentChunks() []audio.Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.Chunk, len(c.Sent))
	copy(out, c.Sent)
	return out
}

// Disconnects returns DisconnectCallCount. Thread-safe.
func (c *Client) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.DisconnectCallCount
}
