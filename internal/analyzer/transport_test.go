package analyzer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockPipe creates a unidirectional pipe for testing.
type mockPipe struct {
	reader *io.PipeReader
	writer *io.PipeWriter
}

func newMockPipe() *mockPipe {
	r, w := io.Pipe()
	return &mockPipe{reader: r, writer: w}
}

func (p *mockPipe) Close() error {
	p.reader.Close()
	p.writer.Close()
	return nil
}

// readFrame reads one Content-Length framed message, for fake-server
// goroutines.
func readFrame(r *bufio.Reader) ([]byte, error) {
	contentLength := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		fmt.Sscanf(line, "Content-Length: %d", &contentLength)
	}
	if contentLength < 0 {
		return nil, fmt.Errorf("no Content-Length in frame")
	}
	body := make([]byte, contentLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// writeFrame writes one framed message, for fake-server goroutines.
func writeFrame(w io.Writer, body []byte) {
	fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(body))
	w.Write(body)
}

func TestTransport_NotifyFrameFormat(t *testing.T) {
	toServer := newMockPipe()
	fromServer := newMockPipe()
	defer toServer.Close()
	defer fromServer.Close()

	transport := NewTransport(fromServer.reader, toServer.writer)
	defer transport.Close()

	received := make(chan []byte, 1)
	go func() {
		body, err := readFrame(bufio.NewReader(toServer.reader))
		if err != nil {
			return
		}
		received <- body
	}()

	params := map[string]string{"message": "hello"}
	if err := transport.Notify(context.Background(), "test/notification", params); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	select {
	case body := <-received:
		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("bad frame body: %v", err)
		}
		if req.JSONRPC != "2.0" {
			t.Errorf("jsonrpc = %q, want 2.0", req.JSONRPC)
		}
		if req.Method != "test/notification" {
			t.Errorf("method = %q, want test/notification", req.Method)
		}
		if req.ID != 0 {
			t.Errorf("notification carried id %d, want none", req.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for frame")
	}
}

func TestTransport_Call(t *testing.T) {
	toServer := newMockPipe()
	fromServer := newMockPipe()
	defer toServer.Close()
	defer fromServer.Close()

	transport := NewTransport(fromServer.reader, toServer.writer)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	transport.Start(ctx)
	defer transport.Close()

	// Fake backend: echo back a result for each request.
	go func() {
		r := bufio.NewReader(toServer.reader)
		body, err := readFrame(r)
		if err != nil {
			return
		}
		var req Request
		json.Unmarshal(body, &req)

		result, _ := json.Marshal(map[string]string{"status": "ok"})
		resp, _ := json.Marshal(Response{JSONRPC: "2.0", ID: req.ID, Result: result})
		writeFrame(fromServer.writer, resp)
	}()

	var result map[string]string
	if err := transport.Call(ctx, "test/method", nil, &result); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("Expected status=ok, got %v", result)
	}
}

func TestTransport_CallWithError(t *testing.T) {
	toServer := newMockPipe()
	fromServer := newMockPipe()
	defer toServer.Close()
	defer fromServer.Close()

	transport := NewTransport(fromServer.reader, toServer.writer)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	transport.Start(ctx)
	defer transport.Close()

	go func() {
		r := bufio.NewReader(toServer.reader)
		body, err := readFrame(r)
		if err != nil {
			return
		}
		var req Request
		json.Unmarshal(body, &req)

		resp, _ := json.Marshal(Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: CodeMethodNotFound, Message: "method not found"},
		})
		writeFrame(fromServer.writer, resp)
	}()

	err := transport.Call(ctx, "unknown/method", nil, nil)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("Expected *RPCError, got %T: %v", err, err)
	}
	if rpcErr.Code != CodeMethodNotFound {
		t.Errorf("Expected code %d, got %d", CodeMethodNotFound, rpcErr.Code)
	}
}

func TestTransport_ConcurrentCallsOutOfOrder(t *testing.T) {
	toServer := newMockPipe()
	fromServer := newMockPipe()
	defer toServer.Close()
	defer fromServer.Close()

	transport := NewTransport(fromServer.reader, toServer.writer)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	transport.Start(ctx)
	defer transport.Close()

	const calls = 8

	// Fake backend: collect all requests first, then answer them in
	// reverse arrival order. Each result names the method it answers so
	// misrouted responses are detectable.
	go func() {
		r := bufio.NewReader(toServer.reader)
		var reqs []Request
		for i := 0; i < calls; i++ {
			body, err := readFrame(r)
			if err != nil {
				return
			}
			var req Request
			json.Unmarshal(body, &req)
			reqs = append(reqs, req)
		}
		for i := len(reqs) - 1; i >= 0; i-- {
			result, _ := json.Marshal(map[string]string{"echo": reqs[i].Method})
			resp, _ := json.Marshal(Response{JSONRPC: "2.0", ID: reqs[i].ID, Result: result})
			writeFrame(fromServer.writer, resp)
		}
	}()

	var wg sync.WaitGroup
	errs := make([]error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			method := fmt.Sprintf("test/method-%d", i)
			var result map[string]string
			if err := transport.Call(ctx, method, nil, &result); err != nil {
				errs[i] = err
				return
			}
			if result["echo"] != method {
				errs[i] = fmt.Errorf("response for %q delivered to caller of %q", result["echo"], method)
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("call %d: %v", i, err)
		}
	}
}

func TestTransport_CallTimeoutClearsPending(t *testing.T) {
	toServer := newMockPipe()
	fromServer := newMockPipe()
	defer fromServer.Close()

	transport := NewTransport(fromServer.reader, toServer.writer)
	transport.Start(context.Background())
	defer transport.Close()

	// Drain the request but never answer it.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := toServer.reader.Read(buf); err != nil {
				return
			}
		}
	}()
	defer toServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := transport.Call(ctx, "slow/method", nil, nil)
	if err != context.DeadlineExceeded {
		t.Fatalf("Expected DeadlineExceeded, got %v", err)
	}

	transport.mu.Lock()
	n := len(transport.pending)
	transport.mu.Unlock()
	if n != 0 {
		t.Errorf("pending table holds %d entries after timeout, want 0", n)
	}
}

func TestTransport_ShortBodyIsFramingError(t *testing.T) {
	toServer := newMockPipe()
	fromServer := newMockPipe()
	defer toServer.Close()

	transport := NewTransport(fromServer.reader, toServer.writer)
	transport.Start(context.Background())

	// Declare more bytes than the stream will ever carry, then close.
	go func() {
		io.WriteString(fromServer.writer, "Content-Length: 500\r\n\r\n{\"jsonrpc\":\"2.0\"")
		fromServer.writer.Close()
	}()

	select {
	case <-transport.Done():
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for transport failure")
	}

	var fe *FramingError
	if err := transport.Err(); !errors.As(err, &fe) {
		t.Fatalf("Err() = %v, want *FramingError", err)
	}
}

func TestTransport_MalformedHeaderIsFramingError(t *testing.T) {
	toServer := newMockPipe()
	fromServer := newMockPipe()
	defer toServer.Close()

	transport := NewTransport(fromServer.reader, toServer.writer)
	transport.Start(context.Background())

	go func() {
		io.WriteString(fromServer.writer, "this is not a header\r\n\r\n")
	}()

	select {
	case <-transport.Done():
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for transport failure")
	}

	var fe *FramingError
	if err := transport.Err(); !errors.As(err, &fe) {
		t.Fatalf("Err() = %v, want *FramingError", err)
	}
}

func TestTransport_FramingErrorReleasesPendingCalls(t *testing.T) {
	toServer := newMockPipe()
	fromServer := newMockPipe()
	defer toServer.Close()

	transport := NewTransport(fromServer.reader, toServer.writer)
	transport.Start(context.Background())

	// Keep the write side unblocked.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := toServer.reader.Read(buf); err != nil {
				return
			}
		}
	}()

	callErr := make(chan error, 1)
	go func() {
		callErr <- transport.Call(context.Background(), "test/hang", nil, nil)
	}()

	// Give the call time to register, then break the stream.
	time.Sleep(20 * time.Millisecond)
	io.WriteString(fromServer.writer, "garbage without a colon\r\n\r\n")

	select {
	case err := <-callErr:
		var fe *FramingError
		if !errors.As(err, &fe) {
			t.Fatalf("pending call got %v, want *FramingError", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pending call was not released after framing failure")
	}
}

func TestTransport_StreamCloseReleasesPendingCalls(t *testing.T) {
	toServer := newMockPipe()
	fromServer := newMockPipe()
	defer toServer.Close()

	transport := NewTransport(fromServer.reader, toServer.writer)
	transport.Start(context.Background())

	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := toServer.reader.Read(buf); err != nil {
				return
			}
		}
	}()

	callErr := make(chan error, 1)
	go func() {
		callErr <- transport.Call(context.Background(), "test/hang", nil, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	fromServer.writer.Close()

	select {
	case err := <-callErr:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Fatalf("pending call got %v, want ErrConnectionClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pending call was not released after stream close")
	}
}

func TestTransport_Notification(t *testing.T) {
	toServer := newMockPipe()
	fromServer := newMockPipe()
	defer toServer.Close()
	defer fromServer.Close()

	transport := NewTransport(fromServer.reader, toServer.writer)
	defer transport.Close()

	received := make(chan string, 1)
	transport.OnNotification("test/notify", func(method string, params json.RawMessage) {
		var p struct {
			Message string `json:"message"`
		}
		json.Unmarshal(params, &p)
		received <- p.Message
	})

	transport.Start(context.Background())

	go func() {
		notif, _ := json.Marshal(map[string]any{
			"jsonrpc": "2.0",
			"method":  "test/notify",
			"params":  map[string]string{"message": "hello from server"},
		})
		writeFrame(fromServer.writer, notif)
	}()

	select {
	case msg := <-received:
		if msg != "hello from server" {
			t.Errorf("Expected 'hello from server', got %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for notification")
	}
}

func TestTransport_WildcardHandler(t *testing.T) {
	toServer := newMockPipe()
	fromServer := newMockPipe()
	defer toServer.Close()
	defer fromServer.Close()

	transport := NewTransport(fromServer.reader, toServer.writer)
	defer transport.Close()

	received := make(chan string, 1)
	transport.OnNotification("*", func(method string, params json.RawMessage) {
		received <- method
	})

	transport.Start(context.Background())

	go func() {
		notif, _ := json.Marshal(map[string]any{
			"jsonrpc": "2.0",
			"method":  "unregistered/method",
		})
		writeFrame(fromServer.writer, notif)
	}()

	select {
	case method := <-received:
		if method != "unregistered/method" {
			t.Errorf("Wildcard got method %q, want unregistered/method", method)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for wildcard dispatch")
	}
}

func TestTransport_Close(t *testing.T) {
	toServer := newMockPipe()
	fromServer := newMockPipe()
	defer toServer.Close()
	defer fromServer.Close()

	transport := NewTransport(fromServer.reader, toServer.writer)
	transport.Start(context.Background())

	if transport.IsClosed() {
		t.Error("Transport should not be closed initially")
	}

	if err := transport.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !transport.IsClosed() {
		t.Error("Transport should be closed after Close()")
	}

	// Further traffic is refused with the terminal error.
	if err := transport.Notify(context.Background(), "test", nil); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Notify after close = %v, want ErrConnectionClosed", err)
	}
	if err := transport.Call(context.Background(), "test", nil, nil); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Call after close = %v, want ErrConnectionClosed", err)
	}

	// Double close is safe.
	if err := transport.Close(); err != nil {
		t.Errorf("Second Close() error = %v", err)
	}
}

func TestTransport_MonotonicIDs(t *testing.T) {
	toServer := newMockPipe()
	fromServer := newMockPipe()
	defer toServer.Close()
	defer fromServer.Close()

	transport := NewTransport(fromServer.reader, toServer.writer)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	transport.Start(ctx)
	defer transport.Close()

	ids := make(chan int64, 3)
	go func() {
		r := bufio.NewReader(toServer.reader)
		for i := 0; i < 3; i++ {
			body, err := readFrame(r)
			if err != nil {
				return
			}
			var req Request
			json.Unmarshal(body, &req)
			ids <- req.ID
			resp, _ := json.Marshal(Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`null`)})
			writeFrame(fromServer.writer, resp)
		}
	}()

	for i := 0; i < 3; i++ {
		if err := transport.Call(ctx, "test/seq", nil, nil); err != nil {
			t.Fatalf("Call %d error = %v", i, err)
		}
	}

	want := int64(1)
	for i := 0; i < 3; i++ {
		got := <-ids
		if got != want {
			t.Errorf("request %d id = %d, want %d", i, got, want)
		}
		want++
	}
}
