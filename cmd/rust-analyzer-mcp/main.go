// Package main is the entry point for the rust-analyzer MCP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ferrous-tools/rust-analyzer-mcp/internal/analyzer"
	"github.com/ferrous-tools/rust-analyzer-mcp/internal/cargo"
	"github.com/ferrous-tools/rust-analyzer-mcp/internal/config"
	"github.com/ferrous-tools/rust-analyzer-mcp/internal/tools"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if opts.workspaceRoot != "" {
		cfg.WorkspaceRoot = opts.workspaceRoot
	}
	if opts.analyzerPath != "" {
		cfg.AnalyzerPath = opts.analyzerPath
	}
	if cfg.WorkspaceRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: resolving working directory: %v\n", err)
			return 1
		}
		cfg.WorkspaceRoot = cwd
	}
	root, err := filepath.Abs(cfg.WorkspaceRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: resolving workspace root: %v\n", err)
		return 1
	}
	cfg.WorkspaceRoot = root

	// Stdout carries the MCP protocol; all logging goes to stderr, and
	// only when asked for.
	logger := log.New(io.Discard, "", 0)
	if opts.debug {
		logger = log.New(os.Stderr, "rust-analyzer-mcp: ", log.LstdFlags)
	}

	client := analyzer.NewClient(
		analyzer.WithConfig(analyzer.Config{
			ServerPath:     cfg.AnalyzerPath,
			Args:           cfg.AnalyzerArgs,
			WorkspaceRoot:  cfg.WorkspaceRoot,
			RequestTimeout: cfg.RequestTimeout.Std(),
			InitTimeout:    cfg.InitTimeout.Std(),
			ShutdownGrace:  cfg.ShutdownGrace.Std(),
			Logger:         logger,
		}),
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), cfg.InitTimeout.Std())
	err = client.Start(startCtx)
	cancelStart()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: starting rust-analyzer: %v\n", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace.Std()+time.Second)
		defer cancel()
		if err := client.Shutdown(ctx); err != nil {
			logger.Printf("shutdown: %v", err)
		}
	}()

	var watcher *analyzer.Watcher
	if cfg.WatchFiles {
		watcher, err = analyzer.NewWatcher(client, cfg.WorkspaceRoot, logger)
		if err != nil {
			// A broken watcher degrades staleness handling but the
			// session still works.
			logger.Printf("file watcher disabled: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	runner := cargo.NewRunner(cfg.CargoPath)
	toolServer := tools.NewServer(client, runner, cfg.WorkspaceRoot)

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	toolServer.Register(mcpServer)

	// Exit when the analyzer session dies or a signal arrives; ServeStdio
	// itself returns when the host closes stdin.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-signals:
			logger.Printf("received %s, shutting down", sig)
		case <-client.Done():
			logger.Printf("analyzer session ended")
		}
		os.Stdin.Close()
	}()

	logger.Printf("serving MCP on stdio (workspace %s)", cfg.WorkspaceRoot)
	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Printf("serve: %v", err)
		return 1
	}

	return 0
}

type cliOptions struct {
	configPath    string
	workspaceRoot string
	analyzerPath  string
	debug         bool
}

func parseFlags() cliOptions {
	var opts cliOptions
	var showVersion bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.workspaceRoot, "workspace", "", "Rust workspace root (default: first argument, then cwd)")
	flag.StringVar(&opts.workspaceRoot, "w", "", "Rust workspace root (shorthand)")
	flag.StringVar(&opts.analyzerPath, "analyzer", "", "Path to the rust-analyzer binary")
	flag.BoolVar(&opts.debug, "debug", false, "Log to stderr")
	flag.BoolVar(&opts.debug, "d", false, "Log to stderr (shorthand)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "rust-analyzer-mcp - MCP server in front of rust-analyzer\n\n")
		fmt.Fprintf(os.Stderr, "Usage: rust-analyzer-mcp [options] [workspace]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  rust-analyzer-mcp ./my-crate         Serve tools for a workspace\n")
		fmt.Fprintf(os.Stderr, "  rust-analyzer-mcp -d -w ./my-crate   With stderr logging\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("rust-analyzer-mcp %s (%s)\n", version, commit)
		os.Exit(0)
	}

	// A bare positional argument is the workspace root.
	if opts.workspaceRoot == "" && flag.NArg() > 0 {
		opts.workspaceRoot = flag.Arg(0)
	}

	return opts
}
