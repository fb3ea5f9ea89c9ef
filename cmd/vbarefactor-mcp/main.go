package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mamaar/vbarefactor/internal/cli"
	"github.com/mamaar/vbarefactor/internal/mcp"
)

func main() {
	var (
		workspaceFlag = flag.String("workspace", "", "Folder of module files to load on startup (optional)")
		portFlag      = flag.Int("port", 0, "TCP port to listen on (0 for stdio)")
		debugFlag     = flag.Bool("debug", false, "Enable debug logging")
		versionFlag   = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *versionFlag {
		fmt.Printf("vbarefactor-mcp v%s\n", cli.Version)
		fmt.Println("Model Context Protocol server for VBA refactoring")
		os.Exit(0)
	}

	// stdout carries the protocol; logs go to stderr.
	level := slog.LevelInfo
	if *debugFlag {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	state := mcp.NewMCPServer(logger)
	defer state.Close()

	if *workspaceFlag != "" {
		workspace, err := filepath.Abs(*workspaceFlag)
		if err != nil {
			log.Fatalf("Failed to resolve workspace path: %v", err)
		}
		if _, err := state.LoadWorkspace(context.Background(), workspace); err != nil {
			log.Fatalf("Failed to load workspace: %v", err)
		}
		logger.Info("workspace loaded", "path", workspace)
	}

	mcpServer := server.NewMCPServer(
		"vbarefactor-mcp",
		cli.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
		server.WithRecovery(),
	)
	mcp.RegisterAllTools(mcpServer, state)

	if *portFlag == 0 {
		if err := server.ServeStdio(mcpServer); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
		return
	}
	httpServer := server.NewStreamableHTTPServer(mcpServer)
	logger.Info("starting HTTP server", "port", *portFlag)
	if err := httpServer.Start(fmt.Sprintf(":%d", *portFlag)); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}
