package event

import (
	"encoding/json"
	"fmt"
)

// Type identifies a ledger notification.
type Type uint8

const (
	TypeAuctionCreated Type = iota + 1
	TypeAuctionEnd
)

// String returns the string representation of Type
func (t Type) String() string {
	switch t {
	case TypeAuctionCreated:
		return "AuctionCreated"
	case TypeAuctionEnd:
		return "AuctionEnd"
	default:
		return "Unknown"
	}
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, error) {
	switch s {
	case "AuctionCreated":
		return TypeAuctionCreated, nil
	case "AuctionEnd":
		return TypeAuctionEnd, nil
	default:
		return 0, fmt.Errorf("unknown event type %q", s)
	}
}

// Event is a notification emitted by the ledger.
// Seq is zero until the sequencer assigns it.
type Event interface {
	GetSeq() uint64
	SetSeq(seq uint64)
	GetTs() int64
	GetType() Type
	GetAuctionID() uint64
}

// BaseEvent carries the journal position and emission time (Unix seconds).
type BaseEvent struct {
	Seq uint64 `json:"seq"`
	Ts  int64  `json:"ts"`
}

func (b *BaseEvent) GetSeq() uint64    { return b.Seq }
func (b *BaseEvent) SetSeq(seq uint64) { b.Seq = seq }
func (b *BaseEvent) GetTs() int64      { return b.Ts }

// AuctionCreatedEvent is emitted when a listing is registered.
// Seller, DiscountRate and EndsAt make the journal sufficient to rebuild the registry.
type AuctionCreatedEvent struct {
	BaseEvent
	ID            uint64 `json:"id"`
	Item          string `json:"item"`
	StartingPrice uint64 `json:"starting_price"`
	StartAt       int64  `json:"start_at"`
	Seller        string `json:"seller"`
	DiscountRate  uint64 `json:"discount_rate"`
	EndsAt        int64  `json:"ends_at"`
}

func (e *AuctionCreatedEvent) GetType() Type        { return TypeAuctionCreated }
func (e *AuctionCreatedEvent) GetAuctionID() uint64 { return e.ID }

// AuctionEndEvent is emitted when a purchase settles an auction.
type AuctionEndEvent struct {
	BaseEvent
	ID         uint64 `json:"id"`
	FinalPrice uint64 `json:"final_price"`
	Buyer      string `json:"buyer"`
	Fee        uint64 `json:"fee"`
	Refund     uint64 `json:"refund"`
}

func (e *AuctionEndEvent) GetType() Type        { return TypeAuctionEnd }
func (e *AuctionEndEvent) GetAuctionID() uint64 { return e.ID }

// Decode restores an event from its journal payload.
func Decode(t Type, payload []byte) (Event, error) {
	var ev Event
	switch t {
	case TypeAuctionCreated:
		ev = &AuctionCreatedEvent{}
	case TypeAuctionEnd:
		ev = &AuctionEndEvent{}
	default:
		return nil, fmt.Errorf("decode: unknown event type %d", t)
	}
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return ev, nil
}
