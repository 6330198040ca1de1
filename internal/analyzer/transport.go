package analyzer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Transport handles JSON-RPC 2.0 communication with the backend over a
// Content-Length framed byte stream (the LSP base protocol). It owns the
// read side exclusively; writes are serialized so each frame reaches the
// stream whole and in the order a single caller issued it.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer

	writeMu sync.Mutex // guards the write path; one frame at a time

	mu       sync.Mutex // guards pending and handlers
	nextID   atomic.Int64
	pending  map[int64]chan *Response
	handlers map[string]NotificationHandler

	closed  atomic.Bool
	done    chan struct{}
	failErr error // set once before done is closed
	failMu  sync.Mutex
}

// NotificationHandler handles incoming notifications from the backend.
type NotificationHandler func(method string, params json.RawMessage)

// Request represents a JSON-RPC request or notification.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response represents a JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// notification is used to parse incoming notifications.
type notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewTransport creates a transport over the given stream pair, typically
// the backend process's stdout (r) and stdin (w). The transport takes no
// ownership of the underlying pipes; closing them is the process
// supervisor's job.
func NewTransport(r io.Reader, w io.Writer) *Transport {
	return &Transport{
		reader:   bufio.NewReaderSize(r, 64*1024),
		writer:   w,
		pending:  make(map[int64]chan *Response),
		handlers: make(map[string]NotificationHandler),
		done:     make(chan struct{}),
	}
}

// Start begins draining incoming frames. Call once.
func (t *Transport) Start(ctx context.Context) {
	go t.readLoop(ctx)
}

// Close tears the transport down with ErrConnectionClosed. Safe to call
// more than once.
func (t *Transport) Close() error {
	t.fail(ErrConnectionClosed)
	return nil
}

// fail marks the transport dead with the given terminal error. All
// pending callers are released with that error and further sends are
// refused. Only the first failure wins.
func (t *Transport) fail(err error) {
	if t.closed.Swap(true) {
		return
	}

	t.failMu.Lock()
	t.failErr = err
	t.failMu.Unlock()

	close(t.done)

	// Clear the pending table; waiting callers observe t.done and pick
	// up the terminal error. Channels are not closed to avoid racing
	// with handleResponse.
	t.mu.Lock()
	t.pending = make(map[int64]chan *Response)
	t.mu.Unlock()
}

// Err returns the terminal error after the transport has failed, or nil
// while it is still live.
func (t *Transport) Err() error {
	if !t.closed.Load() {
		return nil
	}
	t.failMu.Lock()
	defer t.failMu.Unlock()
	if t.failErr == nil {
		return ErrConnectionClosed
	}
	return t.failErr
}

// Call sends a request and blocks until its response arrives, the
// context is cancelled, or the transport fails. Each call is issued the
// next identifier from a strictly monotonic counter starting at 1; the
// identifier is never reused within the session.
func (t *Transport) Call(ctx context.Context, method string, params any, result any) error {
	if t.closed.Load() {
		return t.Err()
	}

	id := t.nextID.Add(1)
	ch := make(chan *Response, 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	// The entry is cleared on every exit path, including timeout and
	// cancellation, so abandoned waits cannot grow the table.
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	req := &Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	if err := t.send(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return t.Err()
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

// Notify sends a notification (no identifier, no response expected).
func (t *Transport) Notify(ctx context.Context, method string, params any) error {
	if t.closed.Load() {
		return t.Err()
	}

	req := &Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}

	return t.send(req)
}

// OnNotification registers a handler for backend-initiated messages.
// The method "*" acts as a wildcard for otherwise unhandled methods.
func (t *Transport) OnNotification(method string, handler NotificationHandler) {
	t.mu.Lock()
	t.handlers[method] = handler
	t.mu.Unlock()
}

// send marshals a message and writes header plus body under the write
// mutex. A frame is never interleaved with another caller's frame, and a
// caller's sequential sends reach the stream in program order.
func (t *Transport) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := io.WriteString(t.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}

	return nil
}

// readLoop drains incoming frames until the stream ends or framing
// breaks. A malformed frame is unrecoverable: once a boundary is lost
// the stream cannot be resynchronized, so the whole session fails.
func (t *Transport) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			t.fail(ErrConnectionClosed)
			return
		case <-t.done:
			return
		default:
		}

		msg, err := t.readMessage()
		if err != nil {
			if t.closed.Load() {
				return
			}
			if err == io.EOF || err == io.ErrClosedPipe || err == io.ErrUnexpectedEOF {
				t.fail(ErrConnectionClosed)
				return
			}
			if fe, ok := err.(*FramingError); ok {
				t.fail(fe)
			} else {
				t.fail(ErrConnectionClosed)
			}
			return
		}

		t.dispatch(msg)
	}
}

// readMessage reads one frame: header lines terminated by CRLF, a blank
// line, then exactly Content-Length bytes of JSON payload. Unknown
// headers are consumed and ignored.
func (t *Transport) readMessage() (json.RawMessage, error) {
	contentLength := -1
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" && contentLength < 0 {
				return nil, io.EOF
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break // end of headers
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &FramingError{Reason: fmt.Sprintf("malformed header line %q", line)}
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, &FramingError{Reason: fmt.Sprintf("invalid Content-Length %q", strings.TrimSpace(value)), Err: err}
			}
			contentLength = n
		}
		// Content-Type and anything else: read and ignore.
	}

	if contentLength < 0 {
		return nil, &FramingError{Reason: "missing Content-Length header"}
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, &FramingError{Reason: fmt.Sprintf("short body: want %d bytes", contentLength), Err: err}
	}

	return body, nil
}

// dispatch routes a parsed message to the waiting caller or the
// registered notification handler.
func (t *Transport) dispatch(data json.RawMessage) {
	var probe struct {
		ID     *int64          `json:"id"`
		Method string          `json:"method"`
		Error  *RPCError       `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return
	}

	// An id with a result or error is a response to one of our requests.
	if probe.ID != nil && probe.Method == "" {
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return
		}
		t.handleResponse(&resp)
		return
	}

	// Anything carrying a method is a notification or a server-initiated
	// request (e.g. workspace/configuration); both go to handlers.
	if probe.Method != "" {
		var notif notification
		if err := json.Unmarshal(data, &notif); err != nil {
			return
		}
		t.handleNotification(&notif)
	}
}

// handleResponse delivers a response to its waiting caller. A response
// whose id matches no pending entry (late arrival after timeout, or a
// backend bug) is silently discarded.
func (t *Transport) handleResponse(resp *Response) {
	if t.closed.Load() {
		return
	}

	t.mu.Lock()
	ch, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
	}
	t.mu.Unlock()

	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

// handleNotification routes a notification to its handler, or the
// wildcard handler, or drops it. Handlers run on their own goroutine so
// a slow consumer never stalls the read loop.
func (t *Transport) handleNotification(notif *notification) {
	t.mu.Lock()
	handler, ok := t.handlers[notif.Method]
	if !ok {
		handler, ok = t.handlers["*"]
	}
	t.mu.Unlock()

	if ok && handler != nil {
		go handler(notif.Method, notif.Params)
	}
}

// Done returns a channel closed when the transport fails or is closed.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// IsClosed reports whether the transport has been torn down.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}
