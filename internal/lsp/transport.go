package lsp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
)

// ID is a JSON-RPC request id. Clients may send numbers or strings.
type ID struct {
	Number int64
	Name   string
	IsName bool
}

// NumberID returns a numeric id.
func NumberID(n int64) ID { return ID{Number: n} }

// StringID returns a string id.
func StringID(s string) ID { return ID{Name: s, IsName: true} }

// String returns a stable key for the id.
func (id ID) String() string {
	if id.IsName {
		return "s:" + id.Name
	}
	return "n:" + strconv.FormatInt(id.Number, 10)
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsName {
		return json.Marshal(id.Name)
	}
	return json.Marshal(id.Number)
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("request id: %w", err)
	}
	*id = NumberID(n)
	return nil
}

// ParseID converts the loosely typed id carried by $/cancelRequest.
func ParseID(v any) (ID, bool) {
	switch id := v.(type) {
	case string:
		return StringID(id), true
	case float64:
		return NumberID(int64(id)), true
	case int64:
		return NumberID(id), true
	case int:
		return NumberID(int64(id)), true
	case json.Number:
		n, err := id.Int64()
		return NumberID(n), err == nil
	default:
		return ID{}, false
	}
}

// Request represents an outgoing JSON-RPC request or notification.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *ID    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response represents a JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// envelope is used to classify incoming messages.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// MessageHandler receives messages arriving from the client.
// Serve calls it from the read goroutine; implementations must not block.
type MessageHandler interface {
	HandleRequest(id ID, method string, params json.RawMessage)
	HandleNotification(method string, params json.RawMessage)
}

// Conn is the server side of a JSON-RPC 2.0 connection. It delivers incoming
// requests and notifications to a MessageHandler, writes responses, and can
// issue its own requests to the client (workspace/applyEdit).
type Conn struct {
	stream Stream

	mu      sync.Mutex
	nextID  atomic.Int64
	pending map[int64]chan *Response

	closed atomic.Bool
	done   chan struct{}
}

// NewConn creates a connection over the given stream.
func NewConn(stream Stream) *Conn {
	return &Conn{
		stream:  stream,
		pending: make(map[int64]chan *Response),
		done:    make(chan struct{}),
	}
}

// Serve reads messages until the stream ends, ctx is cancelled or the
// connection is closed. A clean end of input returns nil.
func (c *Conn) Serve(ctx context.Context, h MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		data, err := c.stream.Read()
		if err != nil {
			if c.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			if errors.Is(err, ErrMissingContentLength) {
				continue
			}
			return fmt.Errorf("read message: %w", err)
		}

		c.dispatch(data, h)
	}
}

// Close closes the connection and releases resources.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	// Callers waiting on pending channels will receive from c.done instead.
	c.mu.Lock()
	c.pending = make(map[int64]chan *Response)
	c.mu.Unlock()

	return c.stream.Close()
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Reply sends the response for request id. A non-nil err is converted with
// ToRPCError and result is ignored.
func (c *Conn) Reply(id ID, result any, err error) error {
	resp := &Response{JSONRPC: "2.0", ID: &id}
	if err != nil {
		resp.Error = ToRPCError(err)
	} else {
		data, mErr := json.Marshal(result)
		if mErr != nil {
			resp.Error = &RPCError{Code: CodeInternalError, Message: mErr.Error()}
		} else {
			resp.Result = data
		}
	}
	return c.send(resp)
}

// Call sends a request to the client and waits for its response.
func (c *Conn) Call(ctx context.Context, method string, params any, result any) error {
	if c.closed.Load() {
		return ErrShutdown
	}

	n := c.nextID.Add(1)
	id := NumberID(n)
	ch := make(chan *Response, 1)

	c.mu.Lock()
	c.pending[n] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, n)
		c.mu.Unlock()
	}()

	req := &Request{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
	if err := c.send(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrShutdown
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}
}

// Notify sends a notification (no response expected).
func (c *Conn) Notify(_ context.Context, method string, params any) error {
	if c.closed.Load() {
		return ErrShutdown
	}
	return c.send(&Request{JSONRPC: "2.0", Method: method, Params: params})
}

// send marshals and writes a message.
func (c *Conn) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.stream.Write(data)
}

// dispatch routes a message to the handler or to a waiting Call.
func (c *Conn) dispatch(data json.RawMessage, h MessageHandler) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		_ = c.send(&Response{
			JSONRPC: "2.0",
			Error:   &RPCError{Code: CodeParseError, Message: err.Error()},
		})
		return
	}

	switch {
	case env.Method != "" && env.ID != nil:
		h.HandleRequest(*env.ID, env.Method, env.Params)
	case env.Method != "":
		h.HandleNotification(env.Method, env.Params)
	case env.ID != nil:
		c.handleResponse(&Response{JSONRPC: env.JSONRPC, ID: env.ID, Result: env.Result, Error: env.Error})
	default:
		_ = c.send(&Response{
			JSONRPC: "2.0",
			Error:   &RPCError{Code: CodeInvalidRequest, Message: ErrInvalidMessage.Error()},
		})
	}
}

// handleResponse routes a response to its waiting caller.
func (c *Conn) handleResponse(resp *Response) {
	if c.closed.Load() || resp.ID == nil || resp.ID.IsName {
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[resp.ID.Number]
	if ok {
		delete(c.pending, resp.ID.Number)
	}
	c.mu.Unlock()

	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}
