package domain

import (
	"time"
)

// AuctionRecord is the persisted projection of an Auction.
// Amounts are decimal strings so the full uint64 range survives SQLite.
type AuctionRecord struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Seller        string    `gorm:"index" json:"seller"`
	StartingPrice string    `json:"starting_price"`
	DiscountRate  string    `json:"discount_rate"`
	Item          string    `json:"item"`
	StartAt       int64     `json:"start_at"`
	EndsAt        int64     `json:"ends_at"`
	Stopped       bool      `gorm:"index" json:"stopped"`
	FinalPrice    string    `json:"final_price"`
	Buyer         string    `json:"buyer"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// JournalEntry is one sequenced ledger event (write-ahead journal).
type JournalEntry struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement:false" json:"seq"`
	EventID   string    `gorm:"uniqueIndex" json:"event_id"`
	Type      string    `gorm:"index" json:"type"`
	AuctionID uint64    `gorm:"index" json:"auction_id"`
	Payload   string    `json:"payload"`
	Ts        int64     `json:"ts"`
	CreatedAt time.Time `json:"created_at"`
}
