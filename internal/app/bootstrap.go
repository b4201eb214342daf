package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"dutch_auction/internal/domain"
	"dutch_auction/internal/engine"
	"dutch_auction/internal/httpapi"
	"dutch_auction/internal/infra"
	"dutch_auction/internal/infra/storage"
	"dutch_auction/internal/ledger"
)

const shutdownTimeout = 10 * time.Second

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Storage   *storage.Storage
	Metrics   *infra.Metrics
	Treasury  *domain.BalanceBook
	Ledger    *ledger.Ledger
	Sequencer *engine.Sequencer
	Hub       *httpapi.Hub
	Server    *http.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration, opens the journal and rebuilds the ledger from it.
// configPath may be empty; see infra.ResolveConfigPath.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	slog.Info("🚀 Bootstrapping auction ledger...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath(configPath))
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("path", cfg.Storage.Path))

	// 4. Journal, stream hub and ledger
	b.Metrics = infra.GlobalMetrics
	b.Hub = httpapi.NewHub(b.Metrics)
	b.Sequencer = engine.NewSequencer(cfg.Events.InboxSize, store, b.Metrics, b.Hub.Broadcast)
	b.Treasury = domain.NewBalanceBook()
	b.Ledger = ledger.New(cfg.Ledger.Owner,
		ledger.WithTreasury(b.Treasury),
		ledger.WithNotifier(b.Sequencer),
		ledger.WithMetrics(b.Metrics))

	// 5. Replay journal
	n, err := b.Sequencer.Replay(ctx, store, b.Ledger)
	if err != nil {
		store.Close()
		return fmt.Errorf("replay journal: %w", err)
	}
	b.Sequencer.SetDump(cfg.Events.DumpFile, b.dumpState)
	slog.Info("✅ Ledger restored",
		slog.Int("events", n),
		slog.Int("auctions", b.Ledger.Count()),
		slog.Uint64("last_seq", b.Sequencer.LastSeq()))

	// 6. HTTP server
	handler := &httpapi.Handler{
		Ledger:   b.Ledger,
		Treasury: b.Treasury,
		Journal:  store,
		Metrics:  b.Metrics,
		Symbol:   cfg.Currency.Symbol,
		Decimals: cfg.Currency.Decimals,
	}
	b.Server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.NewServer(handler, b.Hub).Router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// Run serves until ctx is canceled, then shuts down in dependency order:
// HTTP first so no new events are produced, then the stream hub, then the journal.
func (b *Bootstrap) Run(ctx context.Context) error {
	seqCtx, stopSeq := context.WithCancel(context.Background())
	defer stopSeq()
	go b.Sequencer.Run(seqCtx)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("✅ HTTP server listening", slog.String("addr", b.Server.Addr))
		if err := b.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = err
	}

	slog.Info("👋 Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := b.Server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", slog.Any("error", err))
	}
	b.Hub.Close()

	stopSeq()
	select {
	case <-b.Sequencer.Done():
	case <-shutdownCtx.Done():
		slog.Warn("Sequencer did not stop in time")
	}

	if err := b.Storage.Close(); err != nil {
		slog.Warn("Storage close failed", slog.Any("error", err))
	}
	return runErr
}

func (b *Bootstrap) dumpState() any {
	return struct {
		Auctions []domain.Auction `json:"auctions"`
		Balances []domain.Balance `json:"balances"`
	}{
		Auctions: b.Ledger.Auctions(),
		Balances: b.Treasury.Snapshot(),
	}
}
