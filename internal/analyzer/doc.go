// Package analyzer drives a rust-analyzer backend over its stdio LSP
// interface.
//
// The package is organized around these core components:
//
//   - Transport: Content-Length framed JSON-RPC 2.0 over a byte stream
//   - Process: the backend child process and its lifecycle
//   - Client: one session combining both, with the initialize handshake,
//     document synchronization, and a diagnostics cache
//   - Watcher: re-syncs open documents when files change on disk
//
// # Quick Start
//
//	client := analyzer.NewClient(
//	    analyzer.WithServerPath("rust-analyzer"),
//	    analyzer.WithWorkspaceRoot("/path/to/project"),
//	)
//	if err := client.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Shutdown(ctx)
//
//	locs, err := client.Definition(ctx, "src/main.rs", analyzer.Position{Line: 10, Character: 5})
//
// # Failure model
//
// A session is terminal once its backend dies or the stream framing
// breaks: pending and future calls return ErrConnectionClosed or a
// *FramingError, and the owner decides whether to build a fresh Client.
// The package never restarts the backend on its own.
package analyzer
