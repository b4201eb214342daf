package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"dutch_auction/internal/event"
	"dutch_auction/internal/infra"
)

// EventStore persists sequenced events (write-ahead journal).
type EventStore interface {
	SaveEvent(ctx context.Context, ev event.Event) error
}

// EventSource reads journaled events in sequence order.
type EventSource interface {
	LoadEvents(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error)
}

// Replayer rebuilds in-memory state from journaled events.
type Replayer interface {
	Replay(ev event.Event) error
}

const replayBatchSize = 512

// Sequencer is the single-threaded event journal.
// The ledger publishes into the inbox; Run assigns sequence numbers,
// persists each event before anything else sees it, then notifies.
type Sequencer struct {
	inbox   chan event.Event
	done    chan struct{}
	nextSeq uint64
	lastSeq atomic.Uint64 // mirror of nextSeq-1 for external reads
	store   EventStore
	metrics *infra.Metrics

	// Boundary: used to notify the stream hub or other systems of new events
	onEvent func(event.Event)

	dumpFile string
	dumpFn   func() any
}

// NewSequencer creates a new sequencer instance.
func NewSequencer(inboxSize int, store EventStore, metrics *infra.Metrics, onEvent func(event.Event)) *Sequencer {
	if metrics == nil {
		metrics = &infra.Metrics{}
	}
	return &Sequencer{
		inbox:    make(chan event.Event, inboxSize),
		done:     make(chan struct{}),
		nextSeq:  1,
		store:    store,
		metrics:  metrics,
		onEvent:  onEvent,
		dumpFile: "panic_dump.json",
	}
}

// SetDump configures the post-mortem dump written when Run panics.
func (s *Sequencer) SetDump(filename string, state func() any) {
	s.dumpFile = filename
	s.dumpFn = state
}

// Publish hands an event to the sequencer. It blocks while the inbox is full.
// Events published after Run has returned are dropped and logged.
func (s *Sequencer) Publish(ev event.Event) {
	select {
	case s.inbox <- ev:
	case <-s.done:
		slog.Error("EVENT_DROPPED_AFTER_STOP",
			slog.String("type", ev.GetType().String()),
			slog.Uint64("auction_id", ev.GetAuctionID()))
	}
}

// Done is closed when Run returns.
func (s *Sequencer) Done() <-chan struct{} {
	return s.done
}

// LastSeq returns the sequence number of the last processed event.
func (s *Sequencer) LastSeq() uint64 {
	return s.lastSeq.Load()
}

// Run starts the main event loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	slog.Info("Sequencer started", slog.Uint64("next_seq", s.nextSeq))

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState(s.dumpFile)
			// Halt after dump: the journal can no longer be trusted.
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()
	// Runs before the dump so blocked publishers release their auction locks.
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.drain()
			slog.Info("Sequencer stopping...", slog.Uint64("last_seq", s.LastSeq()))
			return
		case ev := <-s.inbox:
			s.processEvent(ev)
		}
	}
}

// drain journals whatever is already buffered so accepted settlements are not lost.
func (s *Sequencer) drain() {
	for {
		select {
		case ev := <-s.inbox:
			s.processEvent(ev)
		default:
			return
		}
	}
}

func (s *Sequencer) processEvent(ev event.Event) {
	start := time.Now()

	// 1. Assign sequence
	ev.SetSeq(s.nextSeq)

	// 2. WAL-first: Persistence
	if s.store != nil {
		if err := s.store.SaveEvent(context.Background(), ev); err != nil {
			panic(fmt.Sprintf("PERSISTENCE_FAILURE: seq %d: %v", s.nextSeq, err))
		}
	}

	// 3. Notify
	if s.onEvent != nil {
		s.onEvent(ev)
	}

	// 4. Increment Sequence
	s.lastSeq.Store(s.nextSeq)
	s.nextSeq++
	s.metrics.RecordEvent(time.Since(start).Nanoseconds())
}

// ReplayEvent applies a journaled event without WAL logging.
// Replay must respect sequence order; a gap halts the process.
func (s *Sequencer) ReplayEvent(ev event.Event, target Replayer) error {
	if ev.GetSeq() != s.nextSeq {
		panic(fmt.Sprintf("REPLAY_GAP_DETECTED: expected %d, got %d", s.nextSeq, ev.GetSeq()))
	}
	if err := target.Replay(ev); err != nil {
		return err
	}
	s.lastSeq.Store(s.nextSeq)
	s.nextSeq++
	return nil
}

// Replay loads the whole journal from src into target and positions the
// sequencer after the last event. Call before Run.
func (s *Sequencer) Replay(ctx context.Context, src EventSource, target Replayer) (int, error) {
	count := 0
	for {
		batch, err := src.LoadEvents(ctx, s.nextSeq-1, replayBatchSize)
		if err != nil {
			return count, fmt.Errorf("load journal after seq %d: %w", s.nextSeq-1, err)
		}
		for _, ev := range batch {
			if err := s.ReplayEvent(ev, target); err != nil {
				return count, err
			}
			count++
		}
		if len(batch) < replayBatchSize {
			return count, nil
		}
	}
}

// DumpState writes the sequencer position and ledger state to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		NextSeq uint64 `json:"next_seq"`
		Pending int    `json:"pending"`
		State   any    `json:"state,omitempty"`
	}{
		NextSeq: s.nextSeq,
		Pending: len(s.inbox),
	}
	if s.dumpFn != nil {
		data.State = s.dumpFn()
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	err = os.WriteFile(filename, b, 0644)
	if err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
