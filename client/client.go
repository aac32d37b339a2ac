// Package client talks to the op log server over a websocket. A Conn
// implements ops.Log, so a Session can run on top of it through an
// ops.Transformer.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ssau-fiit/cloudocs-sync/changes"
	"github.com/ssau-fiit/cloudocs-sync/ops"
)

const (
	MethodRead     = "read"
	MethodWrite    = "write"
	MethodSnapshot = "snapshot"
)

// Request is one call sent over the socket. Responses carry the same ID.
type Request struct {
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Version int             `json:"version,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Ops     []ops.Operation `json:"ops,omitempty"`
	// Wait makes a read block up to this many milliseconds for Version to
	// exist.
	Wait int64 `json:"wait,omitempty"`
}

type Response struct {
	ID       int64           `json:"id"`
	Ops      []ops.Operation `json:"ops,omitempty"`
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
	Version  int             `json:"version"`
	Error    string          `json:"error,omitempty"`
	// DesyncID is set when the error is a rejected operation.
	DesyncID string `json:"desync,omitempty"`
}

// ErrClosed is returned for calls on a closed connection.
var ErrClosed = errors.New("connection closed")

type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	waiting map[int64]chan Response
	err     error
	done    chan struct{}
}

// Dial connects to a document socket, e.g. ws://host/api/v1/documents/<id>/socket.
func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Conn{ws: ws, waiting: map[int64]chan Response{}, done: make(chan struct{})}
	go c.readLoop()
	return c, nil
}

func (c *Conn) Read(ctx context.Context, version, limit int) ([]ops.Operation, error) {
	resp, err := c.call(ctx, Request{Method: MethodRead, Version: version, Limit: limit})
	if err != nil {
		return nil, err
	}
	return resp.Ops, nil
}

// Poll is Read that waits up to wait for the server to reach version.
func (c *Conn) Poll(ctx context.Context, version, limit int, wait time.Duration) ([]ops.Operation, error) {
	resp, err := c.call(ctx, Request{Method: MethodRead, Version: version, Limit: limit, Wait: wait.Milliseconds()})
	if err != nil {
		return nil, err
	}
	return resp.Ops, nil
}

// Polling returns c as an ops.Log whose reads wait up to wait.
func (c *Conn) Polling(wait time.Duration) ops.Log {
	return polling{Conn: c, wait: wait}
}

type polling struct {
	*Conn
	wait time.Duration
}

func (p polling) Read(ctx context.Context, version, limit int) ([]ops.Operation, error) {
	return p.Poll(ctx, version, limit, p.wait)
}

func (c *Conn) Write(ctx context.Context, batch []ops.Operation) error {
	_, err := c.call(ctx, Request{Method: MethodWrite, Ops: batch})
	return err
}

// Snapshot fetches the document at the server's head and the head version.
func (c *Conn) Snapshot(ctx context.Context) (changes.Value, int, error) {
	resp, err := c.call(ctx, Request{Method: MethodSnapshot})
	if err != nil {
		return nil, 0, err
	}
	v, err := changes.UnmarshalValue(resp.Snapshot)
	if err != nil {
		return nil, 0, fmt.Errorf("decode snapshot: %w", err)
	}
	return v, resp.Version, nil
}

func (c *Conn) Close() error {
	err := c.ws.Close()
	<-c.done
	return err
}

func (c *Conn) call(ctx context.Context, req Request) (Response, error) {
	ch := make(chan Response, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return Response{}, err
	}
	c.nextID++
	req.ID = c.nextID
	c.waiting[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiting, req.ID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.ws.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return Response{}, fmt.Errorf("send %s: %w", req.Method, err)
	}

	select {
	case resp := <-ch:
		switch {
		case resp.DesyncID != "":
			return resp, &ops.ProtocolDesyncError{ID: resp.DesyncID, Reason: resp.Error}
		case resp.Error != "":
			return resp, fmt.Errorf("%s: server: %s", req.Method, resp.Error)
		}
		return resp, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return Response{}, c.err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		var resp Response
		if err := c.ws.ReadJSON(&resp); err != nil {
			c.mu.Lock()
			c.err = fmt.Errorf("%w: %v", ErrClosed, err)
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		ch, ok := c.waiting[resp.ID]
		c.mu.Unlock()
		if !ok {
			log.Warn().Int64("id", resp.ID).Msg("response to unknown request")
			continue
		}
		ch <- resp
	}
}
