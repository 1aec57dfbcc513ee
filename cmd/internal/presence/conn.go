package presence

import (
	"sync"

	v1 "parley/shared/contracts/presence/v1"
)

// Identity is an opaque user ID.
type Identity = string

// CloseCause is why the server ended a connection.
type CloseCause struct {
	Code   int
	Reason string
}

// Conn is one registered websocket connection.
//
// send is never closed by the server so concurrent enqueues cannot panic.
// done is closed exactly once by Close.
type Conn struct {
	ID        string
	Identity  Identity
	SessionID string

	send chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
	cause     CloseCause
}

// NewConn constructs a Conn with a bounded send queue.
func NewConn(id string, identity Identity, sessionID string, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = defaultSendQueue
	}
	return &Conn{
		ID:        id,
		Identity:  identity,
		SessionID: sessionID,
		send:      make(chan v1.Envelope, queueSize),
		done:      make(chan struct{}),
	}
}

// Send is the outbound queue, drained by the connection's single writer.
func (c *Conn) Send() <-chan v1.Envelope { return c.send }

// Done is closed when the connection is shutting down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close marks the connection for shutdown with the given cause. Only the first call wins.
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.cause = CloseCause{Code: code, Reason: reason}
		close(c.done)
	})
}

// Cause returns the close cause. Valid after Done is closed.
func (c *Conn) Cause() CloseCause {
	<-c.done
	return c.cause
}

// enqueue never blocks. It reports false when the queue is full or the conn is closing.
func (c *Conn) enqueue(env v1.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}
