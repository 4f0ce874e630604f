package order

import (
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"go-storefront/web/db"
)

// LedgerEntry tracks one stateless order between issue and settlement.
type LedgerEntry struct {
	Ref           string
	TransactionID string
	Gateway       string
	PriceID       string
	Amount        decimal.Decimal
	Status        db.OrderStatus
	CreatedAt     time.Time
	ExpiresAt     time.Time
	SettledAt     *time.Time
}

type LedgerStats struct {
	Open            int             `json:"open"`
	Routed          int64           `json:"routed"`
	Completed       int64           `json:"completed"`
	Failed          int64           `json:"failed"`
	CompletedAmount decimal.Decimal `json:"completedAmount"`
}

// expiry orders entries by deadline; ref breaks ties.
type expiry struct {
	at  time.Time
	ref string
}

func (a expiry) Less(b btree.Item) bool {
	o := b.(expiry)
	if !a.at.Equal(o.at) {
		return a.at.Before(o.at)
	}
	return a.ref < o.ref
}

// Ledger is the in-process record of stateless orders. An entry's deadline is
// its token's issue time plus ttl, the same age at which the service stops
// accepting the token, so settled entries stay as tombstones for as long as a
// replay could still arrive. Sweep drops them after that.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*LedgerEntry
	byTxn   map[string]string
	tree    *btree.BTree
	ttl     time.Duration
	swept   time.Time // latest Sweep horizon
	stats   LedgerStats
}

func NewLedger(ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Ledger{
		entries: make(map[string]*LedgerEntry),
		byTxn:   make(map[string]string),
		tree:    btree.New(2),
		ttl:     ttl,
	}
}

// deadline anchors an entry on CreatedAt, the token's issue time, when the
// caller knows it.
func (l *Ledger) deadline(e *LedgerEntry, now time.Time) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.ExpiresAt = e.CreatedAt.Add(l.ttl)
}

// Open records a new pending entry. Reopening a known ref is a no-op.
func (l *Ledger) Open(e LedgerEntry, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[e.Ref]; ok {
		return
	}
	e.Status = db.OrderPending
	l.deadline(&e, now)
	l.entries[e.Ref] = &e
	if e.TransactionID != "" {
		l.byTxn[e.TransactionID] = e.Ref
	}
	l.tree.ReplaceOrInsert(expiry{at: e.ExpiresAt, ref: e.Ref})
	l.stats.Routed++
}

// Settle moves a pending entry to status. It reports whether this call made the
// transition; an unknown ref is opened from entry first so that a webhook that
// outlives a restart still settles exactly once. An unknown ref whose deadline
// has already passed, or fell inside a completed Sweep, is never reopened: its
// settlement may have been swept.
func (l *Ledger) Settle(entry LedgerEntry, status db.OrderStatus, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[entry.Ref]
	if !ok {
		l.deadline(&entry, now)
		if !entry.ExpiresAt.After(now) || !entry.ExpiresAt.After(l.swept) {
			return false
		}
		e = &entry
		l.entries[e.Ref] = e
		l.tree.ReplaceOrInsert(expiry{at: e.ExpiresAt, ref: e.Ref})
	} else if e.Status != db.OrderPending {
		return false
	}

	if e.TransactionID == "" {
		e.TransactionID = entry.TransactionID
	}
	if e.TransactionID != "" {
		l.byTxn[e.TransactionID] = e.Ref
	}
	e.Status = status
	e.SettledAt = &now

	switch status {
	case db.OrderCompleted:
		l.stats.Completed++
		l.stats.CompletedAmount = l.stats.CompletedAmount.Add(e.Amount)
	case db.OrderFailed:
		l.stats.Failed++
	}
	return true
}

func (l *Ledger) Get(ref string) (LedgerEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[ref]
	if !ok {
		return LedgerEntry{}, false
	}
	return *e, true
}

func (l *Ledger) ByTransaction(txnID string) (LedgerEntry, bool) {
	l.mu.Lock()
	ref, ok := l.byTxn[txnID]
	l.mu.Unlock()
	if !ok {
		return LedgerEntry{}, false
	}
	return l.Get(ref)
}

// Sweep drops every entry, settled or not, whose deadline is at or before now.
func (l *Ledger) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.swept) {
		l.swept = now
	}

	var expired []expiry
	l.tree.Ascend(func(it btree.Item) bool {
		x := it.(expiry)
		if x.at.After(now) {
			return false
		}
		expired = append(expired, x)
		return true
	})

	for _, x := range expired {
		l.tree.Delete(x)
		if e, ok := l.entries[x.ref]; ok {
			delete(l.byTxn, e.TransactionID)
			delete(l.entries, x.ref)
		}
	}
	return len(expired)
}

func (l *Ledger) Stats() LedgerStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	for _, e := range l.entries {
		if e.Status == db.OrderPending {
			s.Open++
		}
	}
	return s
}
