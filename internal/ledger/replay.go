package ledger

import (
	"fmt"

	"dutch_auction/internal/domain"
	"dutch_auction/internal/event"
)

// Replay applies a journaled event without publishing or moving funds.
// Events must arrive in journal order.
func (l *Ledger) Replay(ev event.Event) error {
	switch e := ev.(type) {
	case *event.AuctionCreatedEvent:
		l.createMu.Lock()
		defer l.createMu.Unlock()
		l.mu.Lock()
		defer l.mu.Unlock()
		if e.ID != uint64(len(l.entries)) {
			return fmt.Errorf("replay seq %d: auction id %d, expected %d", e.Seq, e.ID, len(l.entries))
		}
		l.entries = append(l.entries, &entry{auction: domain.Auction{
			ID:            e.ID,
			Seller:        e.Seller,
			StartingPrice: e.StartingPrice,
			DiscountRate:  e.DiscountRate,
			Item:          e.Item,
			StartAt:       e.StartAt,
			EndsAt:        e.EndsAt,
		}})
		return nil

	case *event.AuctionEndEvent:
		en, err := l.lookup(e.ID)
		if err != nil {
			return fmt.Errorf("replay seq %d: %w", e.Seq, err)
		}
		en.mu.Lock()
		defer en.mu.Unlock()
		if en.auction.Stopped {
			return fmt.Errorf("replay seq %d: %w", e.Seq, domain.NewAuctionError(domain.KindAuctionStopped, e.ID))
		}
		en.auction.Stopped = true
		en.auction.FinalPrice = e.FinalPrice
		en.auction.Buyer = e.Buyer
		return nil

	default:
		return fmt.Errorf("replay: unsupported event %s", ev.GetType())
	}
}
