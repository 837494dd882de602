package surface

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ConnState is the lifecycle state of a lazily established connection.
type ConnState int

const (
	Unconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unconnected"
	}
}

// DialFunc establishes the underlying handle of a Connector.
type DialFunc[T any] func(ctx context.Context) (T, error)

// Connector establishes a connection on first use and memoizes it. Callers
// that arrive while an attempt is in flight wait for and share its outcome,
// so at most one establishment sequence runs at a time. A failed attempt
// leaves the connector Unconnected and is reported as a *ConnectionError.
//
// The attempt does not belong to any one caller: it keeps the first caller's
// context values but not its cancellation, and is bounded by the dial
// timeout instead. A caller whose context ends stops waiting without
// aborting the attempt for the others.
type Connector[T any] struct {
	target  string
	dial    DialFunc[T]
	timeout time.Duration

	mu     sync.Mutex
	state  ConnState
	handle T

	group singleflight.Group
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*connectorOptions)

type connectorOptions struct {
	timeout time.Duration
}

// WithDialTimeout bounds each connection attempt. Zero leaves it unbounded.
func WithDialTimeout(d time.Duration) ConnectorOption {
	return func(o *connectorOptions) { o.timeout = d }
}

// NewConnector returns an Unconnected connector. target only labels errors.
func NewConnector[T any](target string, dial DialFunc[T], opts ...ConnectorOption) *Connector[T] {
	var o connectorOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Connector[T]{target: target, dial: dial, timeout: o.timeout}
}

// State returns the current connection state.
func (c *Connector[T]) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Get returns the established handle, dialing if no connection exists yet.
func (c *Connector[T]) Get(ctx context.Context) (T, error) {
	c.mu.Lock()
	if c.state == Connected {
		h := c.handle
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	ch := c.group.DoChan("connect", func() (interface{}, error) {
		c.mu.Lock()
		// An attempt may have completed between the check above and here.
		if c.state == Connected {
			h := c.handle
			c.mu.Unlock()
			return h, nil
		}
		c.state = Connecting
		c.mu.Unlock()

		dialCtx := context.WithoutCancel(ctx)
		if c.timeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(dialCtx, c.timeout)
			defer cancel()
		}
		h, err := c.dial(dialCtx)

		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.state = Unconnected
			return nil, err
		}
		c.handle = h
		c.state = Connected
		return h, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		var zero T
		return zero, &ConnectionError{Target: c.target, Err: ctx.Err()}
	}
	v, err := res.Val, res.Err
	if err != nil {
		var zero T
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			return zero, err
		}
		return zero, &ConnectionError{Target: c.target, Err: err}
	}
	h, _ := v.(T)
	return h, nil
}

// Reset drops the memoized handle and returns it so the caller can close it.
// The second return value is false when nothing was connected.
func (c *Connector[T]) Reset() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	if c.state != Connected {
		return zero, false
	}
	h := c.handle
	c.handle = zero
	c.state = Unconnected
	return h, true
}
