package strategy

import (
	"sync"

	"go.uber.org/zap"
)

const defaultDedupCap = 50000

// Deduper is a bounded set of seen transaction hashes. When the cap is
// reached the set is cleared wholesale rather than evicted LRU-style;
// duplicate delivery windows are short relative to filling the cap, so
// the occasional post-clear reprocess is an accepted tradeoff.
type Deduper struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	cap    int
	logger *zap.Logger
}

// NewDeduper builds a Deduper holding at most cap hashes.
func NewDeduper(cap int, logger *zap.Logger) *Deduper {
	if cap <= 0 {
		cap = defaultDedupCap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{
		seen:   make(map[string]struct{}),
		cap:    cap,
		logger: logger,
	}
}

// FirstSeen records the hash and reports whether this is its first
// presentation.
func (d *Deduper) FirstSeen(txHash string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[txHash]; ok {
		return false
	}
	d.seen[txHash] = struct{}{}
	if len(d.seen) > d.cap {
		d.seen = make(map[string]struct{})
		d.logger.Debug("dedup set cleared", zap.Int("cap", d.cap))
	}
	return true
}
