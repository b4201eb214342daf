package domain

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dutch_auction/pkg/safe"
)

// Balance is one account's holdings in smallest currency units.
type Balance struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
	LastSeq uint64 `json:"last_seq"` // last treasury operation that modified this
}

// Credit adds funds to the balance. Panics on overflow.
func (b *Balance) Credit(amount uint64, seq uint64) {
	b.Amount = safe.MustAdd(b.Amount, amount)
	b.LastSeq = seq
}

// Debit removes funds from the balance. Panics if insufficient.
func (b *Balance) Debit(amount uint64, seq uint64) {
	if amount > b.Amount {
		panic(fmt.Sprintf("BALANCE_INSUFFICIENT: %s need %d, available %d",
			b.Account, amount, b.Amount))
	}
	b.Amount -= amount
	b.LastSeq = seq
}

// Payout is a single credit leg of a settlement.
type Payout struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// Settlement moves Paid out of Payer and distributes it across Payouts.
type Settlement struct {
	AuctionID uint64
	Payer     string
	Paid      uint64
	Payouts   []Payout
}

// Transferer performs value transfers for the ledger.
// Settle is all-or-nothing: on error no balance has changed.
type Transferer interface {
	Settle(ctx context.Context, s Settlement) error
}

// BalanceBook is the in-memory treasury holding every account balance.
type BalanceBook struct {
	mu       sync.Mutex
	balances map[string]*Balance
	seq      uint64
}

// NewBalanceBook creates a new balance book.
func NewBalanceBook() *BalanceBook {
	return &BalanceBook{
		balances: make(map[string]*Balance),
	}
}

// get returns the balance for an account, creating if not exists. Caller holds mu.
func (bb *BalanceBook) get(account string) *Balance {
	b, ok := bb.balances[account]
	if !ok {
		b = &Balance{Account: account}
		bb.balances[account] = b
	}
	return b
}

// Deposit funds an account.
func (bb *BalanceBook) Deposit(account string, amount uint64) error {
	if account == "" {
		return ErrInvalidArgument
	}
	bb.mu.Lock()
	defer bb.mu.Unlock()

	b := bb.get(account)
	if _, ok := safe.Add(b.Amount, amount); !ok {
		return fmt.Errorf("deposit %d to %s: %w", amount, account, ErrAmountOverflow)
	}
	bb.seq++
	b.Credit(amount, bb.seq)
	return nil
}

// Balance returns a copy of an account balance.
func (bb *BalanceBook) Balance(account string) Balance {
	bb.mu.Lock()
	defer bb.mu.Unlock()

	if b, ok := bb.balances[account]; ok {
		return *b
	}
	return Balance{Account: account}
}

// Settle applies a settlement atomically. Every check runs before any balance moves.
func (bb *BalanceBook) Settle(ctx context.Context, s Settlement) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var total uint64
	for _, p := range s.Payouts {
		var ok bool
		if total, ok = safe.Add(total, p.Amount); !ok {
			return fmt.Errorf("settle auction %d: %w", s.AuctionID, ErrAmountOverflow)
		}
	}
	if total != s.Paid {
		return fmt.Errorf("settle auction %d: paid %d, payouts %d: %w",
			s.AuctionID, s.Paid, total, ErrConservation)
	}

	bb.mu.Lock()
	defer bb.mu.Unlock()

	payer := bb.get(s.Payer)
	if payer.Amount < s.Paid {
		return fmt.Errorf("settle auction %d: %s has %d, needs %d: %w",
			s.AuctionID, s.Payer, payer.Amount, s.Paid, ErrInsufficientBalance)
	}

	// Dry run credits against post-debit balances so overflow is caught up front.
	pending := map[string]uint64{s.Payer: payer.Amount - s.Paid}
	for _, p := range s.Payouts {
		cur, seen := pending[p.To]
		if !seen {
			cur = bb.get(p.To).Amount
		}
		next, ok := safe.Add(cur, p.Amount)
		if !ok {
			return fmt.Errorf("settle auction %d: credit %s: %w", s.AuctionID, p.To, ErrAmountOverflow)
		}
		pending[p.To] = next
	}

	bb.seq++
	payer.Debit(s.Paid, bb.seq)
	for _, p := range s.Payouts {
		bb.get(p.To).Credit(p.Amount, bb.seq)
	}
	return nil
}

// Total returns the sum of all balances.
// Settlements only move value, so the total changes only on Deposit.
func (bb *BalanceBook) Total() uint64 {
	bb.mu.Lock()
	defer bb.mu.Unlock()

	var total uint64
	for _, b := range bb.balances {
		total = safe.MustAdd(total, b.Amount)
	}
	return total
}

// Snapshot returns a copy of all balances sorted by account (for state dump).
func (bb *BalanceBook) Snapshot() []Balance {
	bb.mu.Lock()
	defer bb.mu.Unlock()

	result := make([]Balance, 0, len(bb.balances))
	for _, v := range bb.balances {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Account < result[j].Account
	})
	return result
}
