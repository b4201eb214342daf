package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"dutch_auction/internal/domain"
	"dutch_auction/internal/event"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Storage persists the event journal and the auction projection in SQLite.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the SQLite database at path.
func NewStorage(path string) (*Storage, error) {
	// Ensure directory exists
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go). Readers wait on the journal writer instead of failing.
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.AuctionRecord{}, &domain.JournalEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Journal Operations
// ======================================================================================

// SaveEvent appends ev to the journal and updates the auction projection
// in one transaction. ev must already carry its sequence number.
func (s *Storage) SaveEvent(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.GetType(), err)
	}

	entry := &domain.JournalEntry{
		Seq:       ev.GetSeq(),
		EventID:   uuid.NewString(),
		Type:      ev.GetType().String(),
		AuctionID: ev.GetAuctionID(),
		Payload:   string(payload),
		Ts:        ev.GetTs(),
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("journal seq %d: %w", entry.Seq, err)
		}
		return applyProjection(tx, ev)
	})
}

// LoadEvents returns up to limit journaled events with seq > afterSeq, in order.
// limit <= 0 means no limit.
func (s *Storage) LoadEvents(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error) {
	q := s.db.WithContext(ctx).Where("seq > ?", afterSeq).Order("seq asc")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var entries []domain.JournalEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}

	events := make([]event.Event, 0, len(entries))
	for _, e := range entries {
		typ, err := event.ParseType(e.Type)
		if err != nil {
			return nil, fmt.Errorf("journal seq %d: %w", e.Seq, err)
		}
		ev, err := event.Decode(typ, []byte(e.Payload))
		if err != nil {
			return nil, fmt.Errorf("journal seq %d: %w", e.Seq, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// LastSeq returns the highest journaled sequence number, or 0 when empty.
func (s *Storage) LastSeq(ctx context.Context) (uint64, error) {
	var last uint64
	err := s.db.WithContext(ctx).Model(&domain.JournalEntry{}).
		Select("COALESCE(MAX(seq), 0)").Scan(&last).Error
	return last, err
}

// ======================================================================================
// Auction Projection
// ======================================================================================

// GetAuction retrieves the stored projection of an auction.
func (s *Storage) GetAuction(ctx context.Context, id uint64) (*domain.Auction, error) {
	var rec domain.AuctionRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	a, err := recordToAuction(rec)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAuctions retrieves every stored auction in id order.
func (s *Storage) ListAuctions(ctx context.Context) ([]domain.Auction, error) {
	var recs []domain.AuctionRecord
	if err := s.db.WithContext(ctx).Order("id asc").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Auction, 0, len(recs))
	for _, rec := range recs {
		a, err := recordToAuction(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func applyProjection(tx *gorm.DB, ev event.Event) error {
	switch e := ev.(type) {
	case *event.AuctionCreatedEvent:
		rec := &domain.AuctionRecord{
			ID:            e.ID,
			Seller:        e.Seller,
			StartingPrice: formatUint(e.StartingPrice),
			DiscountRate:  formatUint(e.DiscountRate),
			Item:          e.Item,
			StartAt:       e.StartAt,
			EndsAt:        e.EndsAt,
			FinalPrice:    "0",
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(rec).Error

	case *event.AuctionEndEvent:
		res := tx.Model(&domain.AuctionRecord{}).
			Where("id = ? AND stopped = ?", e.ID, false).
			Updates(map[string]any{
				"stopped":     true,
				"final_price": formatUint(e.FinalPrice),
				"buyer":       e.Buyer,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("projection: auction %d missing or already stopped", e.ID)
		}
		return nil

	default:
		return fmt.Errorf("projection: unsupported event %s", ev.GetType())
	}
}

func recordToAuction(rec domain.AuctionRecord) (domain.Auction, error) {
	a := domain.Auction{
		ID:      rec.ID,
		Seller:  rec.Seller,
		Item:    rec.Item,
		StartAt: rec.StartAt,
		EndsAt:  rec.EndsAt,
		Stopped: rec.Stopped,
		Buyer:   rec.Buyer,
	}
	var err error
	if a.StartingPrice, err = strconv.ParseUint(rec.StartingPrice, 10, 64); err != nil {
		return a, fmt.Errorf("auction %d starting_price: %w", rec.ID, err)
	}
	if a.DiscountRate, err = strconv.ParseUint(rec.DiscountRate, 10, 64); err != nil {
		return a, fmt.Errorf("auction %d discount_rate: %w", rec.ID, err)
	}
	if a.FinalPrice, err = strconv.ParseUint(rec.FinalPrice, 10, 64); err != nil {
		return a, fmt.Errorf("auction %d final_price: %w", rec.ID, err)
	}
	return a, nil
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
