package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"tabletd/internal/tablet"
)

var (
	// ErrDaemonNotRunning is returned when nothing listens on the socket.
	ErrDaemonNotRunning = errors.New("daemon is not running")
	// ErrStreaming is returned for calls on a subscribed connection.
	ErrStreaming = errors.New("connection is streaming events")
)

// Client talks to the control socket. Calls are serialized; a client
// that subscribed cannot make further calls.
type Client struct {
	mu        sync.Mutex
	conn      net.Conn
	dec       *json.Decoder
	nextID    atomic.Uint64
	streaming atomic.Bool

	// Timeout bounds calls whose context has no deadline.
	Timeout time.Duration
}

// Dial connects to the daemon.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		if errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%s: %w", socketPath, ErrDaemonNotRunning)
		}
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	return &Client{
		conn:    conn,
		dec:     json.NewDecoder(conn),
		Timeout: 10 * time.Second,
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) deadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return time.Now().Add(c.Timeout)
}

// Call sends a request and decodes its result into result, which may be
// nil.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	if c.streaming.Load() {
		return ErrStreaming
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.roundTrip(ctx, method, params)
	if err != nil {
		return err
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method string, params any) (*Response, error) {
	req := Request{ID: c.nextID.Add(1), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		req.Params = raw
	}

	dl := c.deadline(ctx)
	c.conn.SetDeadline(dl)
	defer c.conn.SetDeadline(time.Time{})

	if err := WriteMessage(c.conn, req); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	for {
		var resp Response
		if err := c.dec.Decode(&resp); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("read %s response: %w", method, err)
		}
		// Server-initiated errors carry id 0.
		if resp.ID != req.ID && resp.ID != 0 {
			continue
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return &resp, nil
	}
}

// Ping checks that the daemon answers.
func (c *Client) Ping(ctx context.Context) (*PingResult, error) {
	var res PingResult
	if err := c.Call(ctx, MethodPing, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var res StatusResult
	if err := c.Call(ctx, MethodStatus, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Tools lists the tools the daemon knows about.
func (c *Client) Tools(ctx context.Context) ([]tablet.ToolInfo, error) {
	var res []tablet.ToolInfo
	if err := c.Call(ctx, MethodTools, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Subscribe streams events to fn until ctx is cancelled, fn returns an
// error or the daemon goes away. Cancellation returns nil.
func (c *Client) Subscribe(ctx context.Context, kinds []tablet.EventKind, fn func(tablet.Event) error) error {
	if !c.streaming.CompareAndSwap(false, true) {
		return ErrStreaming
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.roundTrip(ctx, MethodSubscribe, SubscribeParams{Kinds: kinds}); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		var resp Response
		if err := c.dec.Decode(&resp); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		if resp.Error != nil {
			return resp.Error
		}
		if resp.Event == nil {
			continue
		}
		ev, err := resp.Event.Decode()
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
