package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// SessionStatus indicates the lifecycle state of the backend session.
type SessionStatus int

const (
	SessionStatusUnstarted SessionStatus = iota
	SessionStatusInitializing
	SessionStatusReady
	SessionStatusTerminated
)

// String returns a human-readable status name.
func (s SessionStatus) String() string {
	switch s {
	case SessionStatusUnstarted:
		return "unstarted"
	case SessionStatusInitializing:
		return "initializing"
	case SessionStatusReady:
		return "ready"
	case SessionStatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Config defines how the backend session is launched and driven.
type Config struct {
	// ServerPath is the rust-analyzer executable.
	ServerPath string

	// Args are extra command-line arguments for the backend.
	Args []string

	// WorkspaceRoot is the Cargo project root the backend analyzes.
	WorkspaceRoot string

	// Env are additional environment variables for the backend process.
	Env map[string]string

	// InitializationOptions are sent during initialize.
	InitializationOptions any

	// RequestTimeout bounds individual backend requests.
	RequestTimeout time.Duration

	// InitTimeout bounds the initialize handshake.
	InitTimeout time.Duration

	// ShutdownGrace is how long the backend gets to exit on its own
	// before being killed.
	ShutdownGrace time.Duration

	// Logger receives session lifecycle messages. Defaults to the
	// standard logger, which main points at stderr.
	Logger *log.Logger
}

// DefaultConfig returns a configuration with conventional timeouts.
func DefaultConfig() Config {
	return Config{
		ServerPath:     "rust-analyzer",
		RequestTimeout: 30 * time.Second,
		InitTimeout:    60 * time.Second,
		ShutdownGrace:  5 * time.Second,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithServerPath sets the backend executable path.
func WithServerPath(path string) Option {
	return func(c *Client) { c.config.ServerPath = path }
}

// WithWorkspaceRoot sets the Cargo project root.
func WithWorkspaceRoot(root string) Option {
	return func(c *Client) { c.config.WorkspaceRoot = root }
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.config.RequestTimeout = d }
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *Client) { c.config = cfg }
}

// WithLogger sets the session logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.config.Logger = l }
}

// WithDiagnosticsCallback registers a callback invoked on every
// diagnostics publication from the backend.
func WithDiagnosticsCallback(cb func(path string, diags []Diagnostic)) Option {
	return func(c *Client) { c.onDiagnostics = cb }
}

// Client is a session against one rust-analyzer backend: it owns the
// process, the framed transport over its stdio, the open-document set,
// and the diagnostics store. All exported methods are safe for
// concurrent use.
//
// A session that loses its backend is terminal. There is no internal
// restart; the owner observes ErrConnectionClosed (or a framing error)
// and decides whether to build a fresh Client.
type Client struct {
	mu     sync.Mutex
	config Config

	process   *Process
	transport *Transport

	status       atomic.Int32
	capabilities ServerCapabilities
	serverInfo   *InitializeServerInfo

	// documents tracks files announced to the backend via didOpen.
	documents   map[DocumentURI]*Document
	documentsMu sync.Mutex

	diagnostics   *diagnosticsStore
	onDiagnostics func(path string, diags []Diagnostic)

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Document is a file the backend has been told about.
type Document struct {
	URI        DocumentURI
	LanguageID string
	Version    int

	// opened is closed once the didOpen notification is on the wire
	// (or has failed); openErr holds the outcome. Callers that lose the
	// open race wait on it so their requests cannot be framed ahead of
	// the document contents.
	opened  chan struct{}
	openErr error
}

// NewClient creates an unstarted session.
func NewClient(opts ...Option) *Client {
	c := &Client{
		config:      DefaultConfig(),
		documents:   make(map[DocumentURI]*Document),
		diagnostics: newDiagnosticsStore(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.config.Logger == nil {
		c.config.Logger = log.Default()
	}
	c.status.Store(int32(SessionStatusUnstarted))
	return c
}

// Status returns the current session status.
func (c *Client) Status() SessionStatus {
	return SessionStatus(c.status.Load())
}

// Capabilities returns the capabilities the backend reported during
// initialization. Zero value before Ready.
func (c *Client) Capabilities() ServerCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capabilities
}

// ServerInfo returns the backend's name and version from initialization.
func (c *Client) ServerInfo() *InitializeServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Start launches the backend and runs the initialize handshake. On
// return with nil error the session is Ready. A failed spawn surfaces as
// *SpawnError; a spawn that succeeds but a handshake that does not
// surfaces as *StartupError, with the process already reaped.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Status() != SessionStatusUnstarted {
		return ErrAlreadyStarted
	}
	c.status.Store(int32(SessionStatusInitializing))

	c.ctx, c.cancel = context.WithCancel(context.Background())

	proc, err := SpawnProcess(c.config.ServerPath, c.config.Args, c.config.WorkspaceRoot, c.config.Env)
	if err != nil {
		c.status.Store(int32(SessionStatusTerminated))
		c.cancel()
		return err
	}
	c.process = proc

	c.transport = NewTransport(proc.Stdout(), proc.Stdin())
	c.registerNotificationHandlers()
	c.transport.Start(c.ctx)

	go c.monitorProcess()

	if err := c.initialize(ctx); err != nil {
		c.config.Logger.Printf("analyzer: handshake failed: %v", err)
		c.teardown()
		return &StartupError{Err: err}
	}

	c.status.Store(int32(SessionStatusReady))
	c.config.Logger.Printf("analyzer: session ready (pid %d)", proc.PID())
	return nil
}

// initialize performs the LSP initialize handshake.
func (c *Client) initialize(ctx context.Context) error {
	rootURI := FilePathToURI(c.config.WorkspaceRoot)

	params := InitializeParams{
		ProcessID:             os.Getpid(),
		RootURI:               rootURI,
		RootPath:              c.config.WorkspaceRoot,
		Capabilities:          DefaultClientCapabilities(),
		InitializationOptions: c.config.InitializationOptions,
		WorkspaceFolders: []WorkspaceFolder{
			{URI: rootURI, Name: "workspace"},
		},
	}

	timeout := c.config.InitTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result InitializeResult
	if err := c.transport.Call(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	c.capabilities = result.Capabilities
	c.serverInfo = result.ServerInfo

	if err := c.transport.Notify(ctx, "initialized", InitializedParams{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	return nil
}

// registerNotificationHandlers wires backend-initiated traffic into the
// diagnostics store and the log.
func (c *Client) registerNotificationHandlers() {
	c.transport.OnNotification("textDocument/publishDiagnostics", func(method string, params json.RawMessage) {
		var p PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}

		c.diagnostics.set(p.URI, p.Diagnostics)

		if c.onDiagnostics != nil {
			c.onDiagnostics(URIToFilePath(p.URI), p.Diagnostics)
		}
	})

	c.transport.OnNotification("window/logMessage", func(method string, params json.RawMessage) {
		var p struct {
			Type    int    `json:"type"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		// Only surface errors (1) and warnings (2); info and log are
		// too chatty during indexing.
		if p.Type <= 2 {
			c.config.Logger.Printf("analyzer: backend: %s", p.Message)
		}
	})

	c.transport.OnNotification("window/showMessage", func(method string, params json.RawMessage) {
		var p struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(params, &p); err == nil && p.Message != "" {
			c.config.Logger.Printf("analyzer: backend: %s", p.Message)
		}
	})
}

// monitorProcess waits for process death and fails the transport so
// every pending and future caller observes ErrConnectionClosed.
func (c *Client) monitorProcess() {
	select {
	case <-c.process.Done():
	case <-c.ctx.Done():
		return
	}

	if c.Status() == SessionStatusTerminated {
		return
	}

	c.config.Logger.Printf("analyzer: backend exited (code %d)", c.process.ExitCode())
	for _, line := range c.process.StderrTail() {
		c.config.Logger.Printf("analyzer: backend stderr: %s", line)
	}

	c.status.Store(int32(SessionStatusTerminated))
	c.transport.fail(ErrConnectionClosed)
}

// Shutdown runs the protocol shutdown handshake and stops the process.
// Safe to call in any state and more than once.
func (c *Client) Shutdown(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		status := c.Status()
		c.status.Store(int32(SessionStatusTerminated))

		if status != SessionStatusReady && status != SessionStatusInitializing {
			return
		}

		if c.transport != nil && !c.transport.IsClosed() {
			handshakeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			_ = c.transport.Call(handshakeCtx, "shutdown", nil, nil)
			_ = c.transport.Notify(handshakeCtx, "exit", nil)
		}

		err = c.teardownLocked()
	})
	return err
}

// teardown is Shutdown's plumbing for the error path in Start, where the
// session never reached Ready.
func (c *Client) teardown() {
	c.status.Store(int32(SessionStatusTerminated))
	_ = c.teardownLocked()
}

func (c *Client) teardownLocked() error {
	if c.transport != nil {
		c.transport.Close()
	}
	if c.cancel != nil {
		c.cancel()
	}

	var err error
	if c.process != nil {
		grace := c.config.ShutdownGrace
		if grace <= 0 {
			grace = 5 * time.Second
		}
		err = c.process.Stop(grace)
	}
	return err
}

// Done returns a channel closed when the session's transport is dead.
// Nil before Start.
func (c *Client) Done() <-chan struct{} {
	if c.transport == nil {
		return nil
	}
	return c.transport.Done()
}

// --- Document synchronization ---

// ensureOpen announces a file to the backend exactly once. Concurrent
// callers for the same path race on the map insert under documentsMu;
// the winner reads the file and sends didOpen, losers block until that
// notification is on the wire. ensureOpen returning nil therefore
// guarantees the didOpen frame precedes any frame the caller writes
// afterwards, for every caller, not just the winner.
func (c *Client) ensureOpen(ctx context.Context, path string) error {
	if c.Status() != SessionStatusReady {
		return ErrNotReady
	}

	uri := FilePathToURI(path)

	c.documentsMu.Lock()
	if doc, open := c.documents[uri]; open {
		c.documentsMu.Unlock()
		select {
		case <-doc.opened:
			return doc.openErr
		case <-ctx.Done():
			return ctx.Err()
		case <-c.transport.Done():
			return c.transport.Err()
		}
	}
	doc := &Document{
		URI:        uri,
		LanguageID: DetectLanguageID(path),
		Version:    1,
		opened:     make(chan struct{}),
	}
	c.documents[uri] = doc
	c.documentsMu.Unlock()

	finish := func(err error) error {
		if err != nil {
			c.documentsMu.Lock()
			delete(c.documents, uri)
			c.documentsMu.Unlock()
		}
		doc.openErr = err
		close(doc.opened)
		return err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return finish(&FileAccessError{Path: path, Err: err})
	}

	params := DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: doc.LanguageID,
			Version:    1,
			Text:       string(content),
		},
	}

	if err := c.transport.Notify(ctx, "textDocument/didOpen", params); err != nil {
		return finish(err)
	}

	return finish(nil)
}

// Resync re-reads a file from disk and pushes its full contents to the
// backend, bumping the document version. Files the backend has not been
// told about are ignored; the next query opens them fresh anyway.
func (c *Client) Resync(ctx context.Context, path string) error {
	if c.Status() != SessionStatusReady {
		return ErrNotReady
	}

	uri := FilePathToURI(path)

	c.documentsMu.Lock()
	doc, open := c.documents[uri]
	if !open {
		c.documentsMu.Unlock()
		return nil
	}
	doc.Version++
	version := doc.Version
	c.documentsMu.Unlock()

	content, err := os.ReadFile(path)
	if err != nil {
		return &FileAccessError{Path: path, Err: err}
	}

	return c.notifyFullChange(ctx, uri, version, string(content))
}

// ResyncText pins the backend's view of a file to the given contents,
// announcing the file first if it is not open yet. Callers that read a
// snapshot and then apply backend-computed edits to it use this so the
// backend answers for that exact snapshot, not whatever the disk holds
// by the time the request lands.
func (c *Client) ResyncText(ctx context.Context, path, text string) error {
	if err := c.ensureOpen(ctx, path); err != nil {
		return err
	}

	uri := FilePathToURI(path)

	c.documentsMu.Lock()
	doc, open := c.documents[uri]
	if !open {
		// Closed between the open and now; the next query reopens from
		// disk.
		c.documentsMu.Unlock()
		return nil
	}
	doc.Version++
	version := doc.Version
	c.documentsMu.Unlock()

	return c.notifyFullChange(ctx, uri, version, text)
}

func (c *Client) notifyFullChange(ctx context.Context, uri DocumentURI, version int, text string) error {
	params := DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: TextDocumentIdentifier{URI: uri},
			Version:                version,
		},
		ContentChanges: []TextDocumentContentChangeEvent{
			{Text: text},
		},
	}

	return c.transport.Notify(ctx, "textDocument/didChange", params)
}

// CloseDocument tells the backend to drop a file from its open set.
func (c *Client) CloseDocument(ctx context.Context, path string) error {
	if c.Status() != SessionStatusReady {
		return ErrNotReady
	}

	uri := FilePathToURI(path)

	c.documentsMu.Lock()
	_, open := c.documents[uri]
	if !open {
		c.documentsMu.Unlock()
		return nil
	}
	delete(c.documents, uri)
	c.documentsMu.Unlock()

	c.diagnostics.clear(uri)

	params := DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	}
	return c.transport.Notify(ctx, "textDocument/didClose", params)
}

// IsDocumentOpen reports whether the backend has been told about a file.
func (c *Client) IsDocumentOpen(path string) bool {
	uri := FilePathToURI(path)
	c.documentsMu.Lock()
	defer c.documentsMu.Unlock()
	_, open := c.documents[uri]
	return open
}

// OpenDocuments returns the paths the backend has been told about.
func (c *Client) OpenDocuments() []string {
	c.documentsMu.Lock()
	defer c.documentsMu.Unlock()
	paths := make([]string, 0, len(c.documents))
	for uri := range c.documents {
		paths = append(paths, URIToFilePath(uri))
	}
	return paths
}

// call wraps a transport request with the ready-state guard and the
// configured per-request timeout.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	if c.Status() != SessionStatusReady {
		return ErrNotReady
	}

	timeout := c.config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return c.transport.Call(ctx, method, params, result)
}
