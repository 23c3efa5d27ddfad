package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shaonianu-ab/binance-short-bot/internal/ratelimit"
)

// Entry is one raw token record from the upstream list. Callers must
// treat it as read-only; snapshots are replaced wholesale on refresh.
type Entry map[string]any

// priceFieldCandidates are tried in order when extracting a USD price.
var priceFieldCandidates = []string{"price", "lastPrice", "usdtPrice", "priceUsd", "priceUSDT"}

// Registry keeps a TTL-cached snapshot of the upstream token list,
// keyed by uppercase symbol. Refreshes are rate limited and a stale
// snapshot is preferred over blocking or failing the caller.
type Registry struct {
	url        string
	ttl        time.Duration
	limiter    *ratelimit.Limiter
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.RWMutex
	snapshot  map[string]Entry
	lastFetch time.Time

	refreshMu sync.Mutex
	now       func() time.Time
}

// New builds a Registry polling url at most maxRPM times per minute.
func New(url string, maxRPM int, ttl time.Duration, logger *zap.Logger) *Registry {
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		url:        url,
		ttl:        ttl,
		limiter:    ratelimit.New(maxRPM, time.Minute),
		httpClient: &http.Client{Timeout: 3 * time.Second},
		logger:     logger,
		now:        time.Now,
	}
}

// Get refreshes the snapshot if stale and returns the entry for the
// symbol (case-insensitive), or ok=false when the token is unlisted.
func (r *Registry) Get(ctx context.Context, symbol string) (Entry, bool) {
	r.refreshIfNeeded(ctx)

	r.mu.RLock()
	entry, ok := r.snapshot[strings.ToUpper(symbol)]
	r.mu.RUnlock()
	return entry, ok
}

// refreshIfNeeded replaces the snapshot when it is older than the TTL.
// Double-checked under refreshMu so simultaneous stale readers trigger
// one fetch; failures keep the stale snapshot and are only logged.
func (r *Registry) refreshIfNeeded(ctx context.Context) {
	if r.fresh() {
		return
	}

	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()
	if r.fresh() {
		return
	}

	snapshot, err := r.fetch(ctx)
	if err != nil {
		r.logger.Warn("token list refresh failed", zap.Error(err))
		return
	}

	r.mu.Lock()
	r.snapshot = snapshot
	r.lastFetch = r.now()
	r.mu.Unlock()

	r.logger.Debug("token list refreshed", zap.Int("tokens", len(snapshot)))
}

func (r *Registry) fresh() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.snapshot) > 0 && r.now().Sub(r.lastFetch) < r.ttl
}

func (r *Registry) fetch(ctx context.Context) (map[string]Entry, error) {
	if err := r.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get token list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token list status %d", resp.StatusCode)
	}

	var doc any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode token list: %w", err)
	}

	return indexBySymbol(doc), nil
}

// indexBySymbol normalizes the upstream document: a bare list, a
// wrapper object with data/Data, or a nested object with list/tokens.
func indexBySymbol(doc any) map[string]Entry {
	out := make(map[string]Entry)

	tokens := doc
	if m, ok := doc.(map[string]any); ok {
		if v, found := m["data"]; found {
			tokens = v
		} else if v, found := m["Data"]; found {
			tokens = v
		}
	}

	switch typed := tokens.(type) {
	case []any:
		addEntries(out, typed)
	case map[string]any:
		if lst, ok := typed["list"].([]any); ok {
			addEntries(out, lst)
		} else if lst, ok := typed["tokens"].([]any); ok {
			addEntries(out, lst)
		}
	}

	return out
}

func addEntries(out map[string]Entry, items []any) {
	for _, item := range items {
		record, ok := item.(map[string]any)
		if !ok {
			continue
		}
		sym := entrySymbol(record)
		if sym == "" {
			continue
		}
		out[sym] = Entry(record)
	}
}

func entrySymbol(record map[string]any) string {
	for _, key := range []string{"symbol", "tokenSymbol"} {
		if s, ok := record[key].(string); ok && s != "" {
			return strings.ToUpper(s)
		}
	}
	return ""
}

// ExtractPriceUSDT returns the first candidate price field parseable as
// a decimal. Absence of every candidate is not an error, just no price.
func ExtractPriceUSDT(entry Entry) (decimal.Decimal, bool) {
	if entry == nil {
		return decimal.Decimal{}, false
	}
	for _, key := range priceFieldCandidates {
		v, found := entry[key]
		if !found || v == nil {
			continue
		}
		switch typed := v.(type) {
		case string:
			d, err := decimal.NewFromString(typed)
			if err == nil {
				return d, true
			}
		case float64:
			return decimal.NewFromFloat(typed), true
		case json.Number:
			d, err := decimal.NewFromString(typed.String())
			if err == nil {
				return d, true
			}
		}
	}
	return decimal.Decimal{}, false
}
