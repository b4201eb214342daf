// Package ledger implements the descending-price auction ledger: an append-only
// registry of listings, the linear price decay, and the one-shot settlement
// that finalizes a sale and splits the payment.
//
// Each auction carries its own mutex. Buy holds it across the
// stopped check, the price read, the treasury transfer and the finalize step,
// so at most one purchase per auction can ever succeed. Distinct auctions
// never contend.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dutch_auction/internal/domain"
	"dutch_auction/internal/event"
	"dutch_auction/internal/infra"
)

// Notifier receives ledger events.
type Notifier interface {
	Publish(ev event.Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(event.Event) {}

// Receipt is the outcome of a successful Buy.
type Receipt struct {
	AuctionID    uint64 `json:"auction_id"`
	Buyer        string `json:"buyer"`
	Seller       string `json:"seller"`
	FinalPrice   uint64 `json:"final_price"`
	Fee          uint64 `json:"fee"`
	SellerAmount uint64 `json:"seller_amount"`
	Refund       uint64 `json:"refund"`
}

type entry struct {
	mu      sync.Mutex
	auction domain.Auction
}

// Ledger is the auction registry, price oracle and settlement engine.
type Ledger struct {
	owner    string
	clock    domain.Clock
	treasury domain.Transferer
	notifier Notifier
	metrics  *infra.Metrics

	createMu sync.Mutex   // serializes id assignment and AuctionCreated publication
	mu       sync.RWMutex // guards the entries slice, not the records
	entries  []*entry
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(c domain.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithTreasury sets the value-transfer backend.
func WithTreasury(t domain.Transferer) Option {
	return func(l *Ledger) { l.treasury = t }
}

// WithNotifier sets the event sink.
func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *infra.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// New creates a ledger whose fees are paid to owner.
func New(owner string, opts ...Option) *Ledger {
	l := &Ledger{
		owner:    owner,
		clock:    domain.SystemClock{},
		treasury: domain.NewBalanceBook(),
		notifier: nopNotifier{},
		metrics:  &infra.Metrics{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Owner returns the platform account that receives fees.
func (l *Ledger) Owner() string {
	return l.owner
}

// Now returns the ledger clock in Unix seconds.
func (l *Ledger) Now() int64 {
	return l.clock.Now().Unix()
}

// CreateAuction registers a listing and returns its id.
// duration must be a positive whole number of seconds.
func (l *Ledger) CreateAuction(seller string, startingPrice, discountRate uint64, item string, duration time.Duration) (uint64, error) {
	if seller == "" || item == "" || duration < time.Second || duration%time.Second != 0 {
		return 0, &domain.AuctionError{Kind: domain.KindInvalidArgument}
	}
	durationSec := uint64(duration / time.Second)
	if !domain.ValidateTerms(startingPrice, discountRate, durationSec) {
		slog.Debug("Auction rejected",
			slog.String("seller", seller),
			slog.Uint64("starting_price", startingPrice),
			slog.Uint64("discount_rate", discountRate),
			slog.Uint64("duration_sec", durationSec))
		return 0, &domain.AuctionError{Kind: domain.KindInvalidStartingPrice, Price: startingPrice}
	}

	now := l.clock.Now().Unix()

	l.createMu.Lock()
	id := uint64(l.Count())
	e := &entry{auction: domain.Auction{
		ID:            id,
		Seller:        seller,
		StartingPrice: startingPrice,
		DiscountRate:  discountRate,
		Item:          item,
		StartAt:       now,
		EndsAt:        now + int64(durationSec),
	}}
	// Published before the record is visible: journal order matches id order and
	// no AuctionEnd can precede its AuctionCreated. Lookups never wait on the journal.
	l.notifier.Publish(&event.AuctionCreatedEvent{
		BaseEvent:     event.BaseEvent{Ts: now},
		ID:            id,
		Item:          item,
		StartingPrice: startingPrice,
		StartAt:       now,
		Seller:        seller,
		DiscountRate:  discountRate,
		EndsAt:        e.auction.EndsAt,
	})
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	l.createMu.Unlock()

	l.metrics.RecordAuctionCreated()
	slog.Info("Auction created",
		slog.Uint64("auction_id", id),
		slog.String("item", item),
		slog.Uint64("starting_price", startingPrice))
	return id, nil
}

// Auction returns a copy of the record.
func (l *Ledger) Auction(id uint64) (domain.Auction, error) {
	e, err := l.lookup(id)
	if err != nil {
		return domain.Auction{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.auction, nil
}

// Auctions returns copies of every record in id order.
func (l *Ledger) Auctions() []domain.Auction {
	l.mu.RLock()
	entries := l.entries
	l.mu.RUnlock()

	out := make([]domain.Auction, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.auction)
		e.mu.Unlock()
	}
	return out
}

// Count returns the number of registered auctions.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Quote is a consistent view of one auction: the record, the clock reading
// it was taken at and, while the auction is open, its price.
type Quote struct {
	Auction domain.Auction
	Now     int64
	Price   uint64
	Open    bool
}

// Quote reads the record and its price under a single lock acquisition.
func (l *Ledger) Quote(id uint64) (Quote, error) {
	e, err := l.lookup(id)
	if err != nil {
		return Quote{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	q := Quote{Auction: e.auction, Now: l.clock.Now().Unix()}
	if !q.Auction.Stopped && !q.Auction.IsExpired(q.Now) {
		q.Price = q.Auction.PriceAt(q.Now)
		q.Open = true
	}
	return q, nil
}

// GetPrice returns the current decayed price of an unsold auction.
func (l *Ledger) GetPrice(id uint64) (uint64, error) {
	e, err := l.lookup(id)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return l.currentPrice(&e.auction)
}

// Buy purchases the auction at its current price. payment above the price is
// refunded to buyer; the price is split between seller and owner.
// Either the whole settlement commits or nothing changes.
func (l *Ledger) Buy(ctx context.Context, id uint64, buyer string, payment uint64) (Receipt, error) {
	if buyer == "" {
		return Receipt{}, &domain.AuctionError{Kind: domain.KindInvalidArgument, AuctionID: id}
	}
	e, err := l.lookup(id)
	if err != nil {
		l.metrics.RecordRejectedBuy()
		return Receipt{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	a := &e.auction
	price, err := l.currentPrice(a)
	if err != nil {
		l.metrics.RecordRejectedBuy()
		return Receipt{}, err
	}
	if payment < price {
		l.metrics.RecordRejectedBuy()
		slog.Debug("Buy rejected",
			slog.Uint64("auction_id", id),
			slog.Uint64("price", price),
			slog.Uint64("payment", payment))
		return Receipt{}, &domain.AuctionError{
			Kind:      domain.KindInsufficientFunds,
			AuctionID: id,
			Price:     price,
			Payment:   payment,
		}
	}

	split := domain.ComputeSplit(price, payment)
	settlement := domain.Settlement{
		AuctionID: id,
		Payer:     buyer,
		Paid:      payment,
		Payouts: nonZero(
			domain.Payout{To: a.Seller, Amount: split.SellerAmount},
			domain.Payout{To: l.owner, Amount: split.Fee},
			domain.Payout{To: buyer, Amount: split.Refund},
		),
	}
	if err := l.treasury.Settle(ctx, settlement); err != nil {
		l.metrics.RecordError()
		return Receipt{}, fmt.Errorf("buy auction %d: %w", id, err)
	}

	a.Stopped = true
	a.FinalPrice = price
	a.Buyer = buyer

	l.notifier.Publish(&event.AuctionEndEvent{
		BaseEvent:  event.BaseEvent{Ts: l.clock.Now().Unix()},
		ID:         id,
		FinalPrice: price,
		Buyer:      buyer,
		Fee:        split.Fee,
		Refund:     split.Refund,
	})
	l.metrics.RecordSettlement(split.Fee)
	slog.Info("Auction settled",
		slog.Uint64("auction_id", id),
		slog.String("buyer", buyer),
		slog.Uint64("final_price", price),
		slog.Uint64("fee", split.Fee),
		slog.Uint64("refund", split.Refund))

	return Receipt{
		AuctionID:    id,
		Buyer:        buyer,
		Seller:       a.Seller,
		FinalPrice:   price,
		Fee:          split.Fee,
		SellerAmount: split.SellerAmount,
		Refund:       split.Refund,
	}, nil
}

// currentPrice must be called with the entry lock held.
func (l *Ledger) currentPrice(a *domain.Auction) (uint64, error) {
	if a.Stopped {
		return 0, domain.NewAuctionError(domain.KindAuctionStopped, a.ID)
	}
	now := l.clock.Now().Unix()
	if a.IsExpired(now) {
		return 0, domain.NewAuctionError(domain.KindExpired, a.ID)
	}
	return a.PriceAt(now), nil
}

func (l *Ledger) lookup(id uint64) (*entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id >= uint64(len(l.entries)) {
		return nil, domain.NewAuctionError(domain.KindNotFound, id)
	}
	return l.entries[id], nil
}

func nonZero(payouts ...domain.Payout) []domain.Payout {
	out := payouts[:0]
	for _, p := range payouts {
		if p.Amount > 0 {
			out = append(out, p)
		}
	}
	return out
}
