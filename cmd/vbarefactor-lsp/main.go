package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mamaar/vbarefactor/internal/cli"
	"github.com/mamaar/vbarefactor/internal/lsp"
)

var (
	flagPort    = flag.Int("port", 0, "Port to listen on (0 for stdio)")
	flagDebug   = flag.Bool("debug", false, "Enable debug logging")
	flagLogFile = flag.String("logfile", "", "Log file path (default: stderr)")
	flagVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *flagVersion {
		fmt.Printf("vbarefactor-lsp version %s\n", cli.Version)
		os.Exit(0)
	}

	out := os.Stderr
	if *flagLogFile != "" {
		if err := os.MkdirAll(filepath.Dir(*flagLogFile), 0755); err != nil {
			log.Fatalf("Failed to create log directory: %v", err)
		}
		file, err := os.OpenFile(*flagLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			log.Fatalf("Failed to open log file %s: %v", *flagLogFile, err)
		}
		defer file.Close()
		out = file
	}

	level := slog.LevelInfo
	if *flagDebug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	logger.Info("vbarefactor-lsp starting", "version", cli.Version, "pid", os.Getpid(), "port", *flagPort)

	ctx := cli.Context()
	defer cli.Stop()

	server := lsp.NewServer(cli.Version, logger)
	if err := server.Start(ctx, *flagPort); err != nil && ctx.Err() == nil {
		logger.Error("LSP server failed", "err", err)
		os.Exit(1)
	}
}
