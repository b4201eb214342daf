package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"dutch_auction/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. System Bootstrapping (config, storage, journal replay)
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(ctx, ""); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	slog.InfoContext(ctx, "✨ Auction ledger fully operational. Press Ctrl+C to exit.",
		slog.String("owner", bootstrap.Config.Ledger.Owner))

	// 4. Serve until signal
	if err := bootstrap.Run(ctx); err != nil {
		slog.Error("Server failed", slog.Any("error", err))
		os.Exit(1)
	}
}
