package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dutch_auction/internal/domain"
	"dutch_auction/internal/event"
)

const (
	owner  = "0xowner"
	seller = "0xseller"
	buyer  = "0xbuyer"

	startingPrice = 100_000_000_000_000 // 0.0001 ether in wei
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(ev event.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) ends() []*event.AuctionEndEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*event.AuctionEndEvent
	for _, ev := range r.events {
		if e, ok := ev.(*event.AuctionEndEvent); ok {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	ledger   *Ledger
	clock    *fakeClock
	book     *domain.BalanceBook
	recorder *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:    newFakeClock(),
		book:     domain.NewBalanceBook(),
		recorder: &recorder{},
	}
	f.ledger = New(owner,
		WithClock(f.clock),
		WithTreasury(f.book),
		WithNotifier(f.recorder))
	return f
}

func (f *fixture) fund(t *testing.T, account string, amount uint64) {
	t.Helper()
	if err := f.book.Deposit(account, amount); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
}

func (f *fixture) createDefault(t *testing.T) uint64 {
	t.Helper()
	id, err := f.ledger.CreateAuction(seller, startingPrice, 3, "Test", 60*time.Second)
	if err != nil {
		t.Fatalf("CreateAuction failed: %v", err)
	}
	return id
}

func TestOwner(t *testing.T) {
	f := newFixture(t)
	if f.ledger.Owner() != owner {
		t.Errorf("Owner() = %q, want %q", f.ledger.Owner(), owner)
	}
}

func TestCreateAuction_RecordsTerms(t *testing.T) {
	f := newFixture(t)
	id := f.createDefault(t)

	if id != 0 {
		t.Errorf("first id = %d, want 0", id)
	}

	a, err := f.ledger.Auction(id)
	if err != nil {
		t.Fatalf("Auction failed: %v", err)
	}
	if a.Item != "Test" {
		t.Errorf("Item = %q, want Test", a.Item)
	}
	if a.EndsAt != a.StartAt+60 {
		t.Errorf("EndsAt = %d, want StartAt+60 = %d", a.EndsAt, a.StartAt+60)
	}
	if a.StartAt != f.clock.Now().Unix() {
		t.Errorf("StartAt = %d, want %d", a.StartAt, f.clock.Now().Unix())
	}
	if a.Stopped || a.FinalPrice != 0 {
		t.Errorf("new auction should be open with zero final price: %+v", a)
	}
	if a.Seller != seller {
		t.Errorf("Seller = %q, want %q", a.Seller, seller)
	}

	if len(f.recorder.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.recorder.events))
	}
	created, ok := f.recorder.events[0].(*event.AuctionCreatedEvent)
	if !ok {
		t.Fatalf("expected AuctionCreatedEvent, got %T", f.recorder.events[0])
	}
	if created.ID != id || created.Item != "Test" || created.StartingPrice != startingPrice || created.StartAt != a.StartAt {
		t.Errorf("unexpected event payload: %+v", created)
	}
}

func TestCreateAuction_SequentialIDs(t *testing.T) {
	f := newFixture(t)
	for want := uint64(0); want < 5; want++ {
		id := f.createDefault(t)
		if id != want {
			t.Fatalf("id = %d, want %d", id, want)
		}
	}
	if f.ledger.Count() != 5 {
		t.Errorf("Count() = %d, want 5", f.ledger.Count())
	}
	all := f.ledger.Auctions()
	for i, a := range all {
		if a.ID != uint64(i) {
			t.Errorf("Auctions()[%d].ID = %d", i, a.ID)
		}
	}
}

func TestCreateAuction_Validation(t *testing.T) {
	tests := []struct {
		name     string
		price    uint64
		rate     uint64
		duration time.Duration
		wantKind domain.ErrorKind
	}{
		{"price below total discount", 1, 2, 2 * time.Second, domain.KindInvalidStartingPrice},
		{"price equal to total discount", 4, 2, 2 * time.Second, domain.KindUnknown},
		{"zero rate", 0, 0, time.Second, domain.KindUnknown},
		{"discount overflows", ^uint64(0), ^uint64(0), 2 * time.Second, domain.KindInvalidStartingPrice},
		{"zero duration", 10, 1, 0, domain.KindInvalidArgument},
		{"fractional duration", 10, 1, 1500 * time.Millisecond, domain.KindInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.ledger.CreateAuction(seller, tt.price, tt.rate, "item", tt.duration)
			if got := domain.KindOf(err); got != tt.wantKind {
				t.Errorf("kind = %v, want %v (err=%v)", got, tt.wantKind, err)
			}
			if tt.wantKind != domain.KindUnknown && f.ledger.Count() != 0 {
				t.Error("rejected auction must not be recorded")
			}
		})
	}
}

func TestCreateAuction_IncorrectStartingPriceMessage(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.CreateAuction(seller, 1, 2, "test", 2*time.Second)
	if !errors.Is(err, domain.ErrInvalidStartingPrice) {
		t.Fatalf("expected ErrInvalidStartingPrice, got %v", err)
	}
	if err.Error() != "incorrect starting price" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestCreateAuction_EmptyItem(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.CreateAuction(seller, 10, 1, "", time.Second)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestAuction_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Auction(42)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetPrice_Decay(t *testing.T) {
	f := newFixture(t)
	id := f.createDefault(t)

	prev := uint64(startingPrice)
	for sec := 0; sec <= 60; sec++ {
		price, err := f.ledger.GetPrice(id)
		if err != nil {
			t.Fatalf("GetPrice at %ds failed: %v", sec, err)
		}
		want := uint64(startingPrice - 3*sec)
		if price != want {
			t.Fatalf("price at %ds = %d, want %d", sec, price, want)
		}
		if price > prev {
			t.Fatalf("price increased at %ds: %d > %d", sec, price, prev)
		}
		prev = price
		f.clock.Advance(time.Second)
	}
}

func TestGetPrice_FloorAtEnd(t *testing.T) {
	f := newFixture(t)
	id, err := f.ledger.CreateAuction(seller, 120, 2, "exact", 60*time.Second)
	if err != nil {
		t.Fatalf("CreateAuction failed: %v", err)
	}

	f.clock.Advance(60 * time.Second)
	price, err := f.ledger.GetPrice(id)
	if err != nil {
		t.Fatalf("GetPrice at endsAt failed: %v", err)
	}
	if price != 0 {
		t.Errorf("price at endsAt = %d, want 0", price)
	}
}

func TestGetPrice_Expired(t *testing.T) {
	f := newFixture(t)
	id := f.createDefault(t)

	f.clock.Advance(61 * time.Second)
	if _, err := f.ledger.GetPrice(id); !errors.Is(err, domain.ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}

	f.fund(t, buyer, startingPrice)
	_, err := f.ledger.Buy(context.Background(), id, buyer, startingPrice)
	if !errors.Is(err, domain.ErrExpired) {
		t.Errorf("Buy after expiry: expected ErrExpired, got %v", err)
	}
	if domain.IsRetriable(err) {
		t.Error("expired error must not be retriable")
	}
}

func TestGetPrice_NotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ledger.GetPrice(0); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestQuote(t *testing.T) {
	f := newFixture(t)
	id := f.createDefault(t)

	f.clock.Advance(10 * time.Second)
	q, err := f.ledger.Quote(id)
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if !q.Open || q.Price != startingPrice-30 {
		t.Errorf("open quote = %+v, want price %d", q, startingPrice-30)
	}
	if q.Now != f.clock.Now().Unix() || q.Auction.ID != id {
		t.Errorf("quote snapshot mismatch: %+v", q)
	}

	f.fund(t, buyer, startingPrice)
	if _, err := f.ledger.Buy(context.Background(), id, buyer, startingPrice); err != nil {
		t.Fatalf("Buy failed: %v", err)
	}
	q, err = f.ledger.Quote(id)
	if err != nil {
		t.Fatalf("Quote after sale failed: %v", err)
	}
	if q.Open || q.Price != 0 || !q.Auction.Stopped || q.Auction.Buyer != buyer {
		t.Errorf("sold quote = %+v", q)
	}

	other := f.createDefault(t)
	f.clock.Advance(61 * time.Second)
	q, err = f.ledger.Quote(other)
	if err != nil {
		t.Fatalf("Quote on expired auction failed: %v", err)
	}
	if q.Open || q.Auction.Stopped || !q.Auction.IsExpired(q.Now) {
		t.Errorf("expired quote = %+v", q)
	}

	if _, err := f.ledger.Quote(99); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

// gatedNotifier blocks AuctionCreated publication until released.
type gatedNotifier struct {
	block   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedNotifier) Publish(ev event.Event) {
	if _, ok := ev.(*event.AuctionCreatedEvent); ok && g.block.Load() {
		g.entered <- struct{}{}
		<-g.release
	}
}

func TestCreateAuction_SlowJournalDoesNotBlockLookups(t *testing.T) {
	g := &gatedNotifier{entered: make(chan struct{}, 1), release: make(chan struct{})}
	l := New(owner, WithClock(newFakeClock()), WithNotifier(g))

	if _, err := l.CreateAuction(seller, startingPrice, 3, "first", 60*time.Second); err != nil {
		t.Fatalf("CreateAuction failed: %v", err)
	}

	g.block.Store(true)
	created := make(chan uint64, 1)
	go func() {
		id, err := l.CreateAuction(seller, startingPrice, 3, "second", 60*time.Second)
		if err != nil {
			t.Errorf("CreateAuction failed: %v", err)
		}
		created <- id
	}()
	<-g.entered

	lookups := make(chan error, 1)
	go func() {
		_, err := l.GetPrice(0)
		lookups <- err
	}()
	select {
	case err := <-lookups:
		if err != nil {
			t.Errorf("GetPrice during blocked publish: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("GetPrice blocked behind a pending AuctionCreated publish")
	}

	// The pending auction is not visible until its event is journaled.
	if l.Count() != 1 {
		t.Errorf("Count() = %d during publish, want 1", l.Count())
	}
	if _, err := l.Auction(1); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("pending auction visible: %v", err)
	}

	close(g.release)
	if id := <-created; id != 1 {
		t.Errorf("second id = %d, want 1", id)
	}
	if l.Count() != 2 {
		t.Errorf("Count() = %d, want 2", l.Count())
	}
}

func TestBuy_Settles(t *testing.T) {
	f := newFixture(t)
	id := f.createDefault(t)
	f.fund(t, buyer, startingPrice)

	f.clock.Advance(time.Second)

	receipt, err := f.ledger.Buy(context.Background(), id, buyer, startingPrice)
	if err != nil {
		t.Fatalf("Buy failed: %v", err)
	}

	finalPrice := uint64(startingPrice - 3)
	fee := finalPrice * 10 / 100
	if receipt.FinalPrice != finalPrice {
		t.Errorf("FinalPrice = %d, want %d", receipt.FinalPrice, finalPrice)
	}
	if receipt.Fee != fee {
		t.Errorf("Fee = %d, want %d", receipt.Fee, fee)
	}
	if receipt.Refund != 3 {
		t.Errorf("Refund = %d, want 3", receipt.Refund)
	}

	if got := f.book.Balance(seller).Amount; got != finalPrice-fee {
		t.Errorf("seller balance = %d, want %d", got, finalPrice-fee)
	}
	if got := f.book.Balance(owner).Amount; got != fee {
		t.Errorf("owner balance = %d, want %d", got, fee)
	}
	if got := f.book.Balance(buyer).Amount; got != 3 {
		t.Errorf("buyer balance = %d, want 3 (refund)", got)
	}
	if f.book.Total() != startingPrice {
		t.Errorf("book total = %d, want %d", f.book.Total(), startingPrice)
	}

	a, _ := f.ledger.Auction(id)
	if !a.Stopped || a.FinalPrice != finalPrice || a.Buyer != buyer {
		t.Errorf("auction not finalized: %+v", a)
	}

	ends := f.recorder.ends()
	if len(ends) != 1 {
		t.Fatalf("expected 1 AuctionEnd event, got %d", len(ends))
	}
	if ends[0].ID != id || ends[0].FinalPrice != finalPrice || ends[0].Buyer != buyer {
		t.Errorf("unexpected AuctionEnd: %+v", ends[0])
	}

	if _, err := f.ledger.GetPrice(id); !errors.Is(err, domain.ErrAuctionStopped) {
		t.Errorf("GetPrice after sale: expected ErrAuctionStopped, got %v", err)
	}

	f.fund(t, buyer, startingPrice)
	_, err = f.ledger.Buy(context.Background(), id, buyer, startingPrice)
	if !errors.Is(err, domain.ErrAuctionStopped) {
		t.Errorf("second Buy: expected ErrAuctionStopped, got %v", err)
	}
	if err.Error() != "auction 0: stopped!" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestBuy_FundConservation(t *testing.T) {
	prices := []uint64{1, 9, 10, 11, 99, 1000, 123_456_789, startingPrice}
	for _, p := range prices {
		for _, extra := range []uint64{0, 1, 7, 1_000_000} {
			f := newFixture(t)
			id, err := f.ledger.CreateAuction(seller, p, 0, "conserve", time.Minute)
			if err != nil {
				t.Fatalf("CreateAuction failed: %v", err)
			}
			payment := p + extra
			f.fund(t, buyer, payment)

			r, err := f.ledger.Buy(context.Background(), id, buyer, payment)
			if err != nil {
				t.Fatalf("Buy(price=%d, payment=%d) failed: %v", p, payment, err)
			}
			if r.Fee != p*domain.FeePercent/100 {
				t.Errorf("price %d: fee = %d", p, r.Fee)
			}
			if r.SellerAmount+r.Fee+r.Refund != payment {
				t.Errorf("price %d payment %d: %d + %d + %d != payment",
					p, payment, r.SellerAmount, r.Fee, r.Refund)
			}
		}
	}
}

func TestBuy_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	id := f.createDefault(t)
	f.fund(t, buyer, startingPrice)

	_, err := f.ledger.Buy(context.Background(), id, buyer, startingPrice/10)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if !domain.IsRetriable(err) {
		t.Error("insufficient funds should be retriable")
	}
	var ae *domain.AuctionError
	if !errors.As(err, &ae) || ae.Price != startingPrice || ae.Payment != startingPrice/10 {
		t.Errorf("error should carry price and payment: %+v", ae)
	}

	a, _ := f.ledger.Auction(id)
	if a.Stopped {
		t.Error("auction must remain open after rejected buy")
	}
	if got := f.book.Balance(buyer).Amount; got != startingPrice {
		t.Errorf("buyer balance changed: %d", got)
	}
	if len(f.recorder.ends()) != 0 {
		t.Error("no AuctionEnd expected")
	}

	if _, err := f.ledger.Buy(context.Background(), id, buyer, startingPrice); err != nil {
		t.Fatalf("retry with enough funds failed: %v", err)
	}
}

func TestBuy_TreasuryFailureLeavesAuctionOpen(t *testing.T) {
	f := newFixture(t)
	id := f.createDefault(t)
	// buyer never funded

	_, err := f.ledger.Buy(context.Background(), id, buyer, startingPrice)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	a, _ := f.ledger.Auction(id)
	if a.Stopped || a.FinalPrice != 0 {
		t.Errorf("auction mutated by failed settlement: %+v", a)
	}
	if f.book.Balance(seller).Amount != 0 || f.book.Balance(owner).Amount != 0 {
		t.Error("no funds should have moved")
	}
	if len(f.recorder.ends()) != 0 {
		t.Error("no AuctionEnd expected")
	}
}

func TestBuy_CanceledContext(t *testing.T) {
	f := newFixture(t)
	id := f.createDefault(t)
	f.fund(t, buyer, startingPrice)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.ledger.Buy(ctx, id, buyer, startingPrice); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if a, _ := f.ledger.Auction(id); a.Stopped {
		t.Error("auction must remain open")
	}
}

func TestBuy_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Buy(context.Background(), 7, buyer, 1)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBuy_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	id := f.createDefault(t)

	const buyers = 64
	accounts := make([]string, buyers)
	for i := range accounts {
		accounts[i] = "0xbuyer" + string(rune('A'+i%26)) + string(rune('a'+i/26))
		f.fund(t, accounts[i], startingPrice)
	}

	var (
		wg      sync.WaitGroup
		wins    atomic.Int32
		stopped atomic.Int32
		start   = make(chan struct{})
	)
	for _, acct := range accounts {
		wg.Add(1)
		go func(acct string) {
			defer wg.Done()
			<-start
			_, err := f.ledger.Buy(context.Background(), id, acct, startingPrice)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, domain.ErrAuctionStopped):
				stopped.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(acct)
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", wins.Load())
	}
	if stopped.Load() != buyers-1 {
		t.Errorf("expected %d stopped errors, got %d", buyers-1, stopped.Load())
	}
	if len(f.recorder.ends()) != 1 {
		t.Errorf("expected 1 AuctionEnd, got %d", len(f.recorder.ends()))
	}
	if f.book.Total() != buyers*startingPrice {
		t.Errorf("funds not conserved: total %d", f.book.Total())
	}
}

func TestBuy_DistinctAuctionsInParallel(t *testing.T) {
	f := newFixture(t)
	const n = 32
	for i := 0; i < n; i++ {
		f.createDefault(t)
	}
	f.fund(t, buyer, n*startingPrice)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			if _, err := f.ledger.Buy(context.Background(), id, buyer, startingPrice); err != nil {
				errs <- err
			}
		}(uint64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Buy failed: %v", err)
	}

	for _, a := range f.ledger.Auctions() {
		if !a.Stopped {
			t.Errorf("auction %d not sold", a.ID)
		}
	}
}
