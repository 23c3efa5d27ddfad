package erc20

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/shaonianu-ab/binance-short-bot/internal/model"
)

// 4-byte selectors for decimals() and symbol().
const (
	decimalsCalldata = "0x313ce567"
	symbolCalldata   = "0x95d89b41"
)

// Caller abstracts the JSON-RPC transport so tests can fake eth_call.
type Caller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// Resolver resolves token contracts to (symbol, decimals) with a TTL
// cache and single-flight coalescing per contract. Only successful
// lookups are cached; metadata is near-static so the TTL is long.
type Resolver struct {
	client  Caller
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.RWMutex
	cache map[string]model.TokenMeta

	group singleflight.Group
	now   func() time.Time
}

// NewResolver builds a Resolver over the given JSON-RPC caller.
func NewResolver(client Caller, ttl, timeout time.Duration, logger *zap.Logger) *Resolver {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		client:  client,
		ttl:     ttl,
		timeout: timeout,
		logger:  logger,
		cache:   make(map[string]model.TokenMeta),
		now:     time.Now,
	}
}

// Resolve returns the token's symbol and decimals, or ok=false when the
// metadata cannot be fetched whole. Concurrent calls for the same
// contract share one underlying fetch.
func (r *Resolver) Resolve(ctx context.Context, contract common.Address) (model.TokenMeta, bool) {
	key := strings.ToLower(contract.Hex())

	if meta, ok := r.cached(key); ok {
		return meta, true
	}

	ch := r.group.DoChan(key, func() (any, error) {
		if meta, ok := r.cached(key); ok {
			return meta, nil
		}
		meta, err := r.fetch(ctx, contract)
		if err != nil {
			return model.TokenMeta{}, err
		}
		r.mu.Lock()
		r.cache[key] = meta
		r.mu.Unlock()
		return meta, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			r.logger.Info("metadata fetch failed",
				zap.String("token", contract.Hex()),
				zap.Error(res.Err),
			)
			return model.TokenMeta{}, false
		}
		return res.Val.(model.TokenMeta), true
	case <-ctx.Done():
		return model.TokenMeta{}, false
	}
}

func (r *Resolver) cached(key string) (model.TokenMeta, bool) {
	r.mu.RLock()
	meta, ok := r.cache[key]
	r.mu.RUnlock()
	if !ok {
		return model.TokenMeta{}, false
	}
	if r.now().Sub(meta.FetchedAt) > r.ttl {
		r.mu.Lock()
		delete(r.cache, key)
		r.mu.Unlock()
		return model.TokenMeta{}, false
	}
	return meta, true
}

// fetch issues the decimals and symbol calls concurrently; either
// failing fails the pair, so partial metadata is never cached.
func (r *Resolver) fetch(ctx context.Context, contract common.Address) (model.TokenMeta, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		decimals uint8
		symbol   string
	)

	g, gctx := errgroup.WithContext(callCtx)
	g.Go(func() error {
		raw, err := r.ethCall(gctx, contract, decimalsCalldata)
		if err != nil {
			return fmt.Errorf("decimals: %w", err)
		}
		d, err := decodeDecimals(raw)
		if err != nil {
			return fmt.Errorf("decimals: %w", err)
		}
		decimals = d
		return nil
	})
	g.Go(func() error {
		raw, err := r.ethCall(gctx, contract, symbolCalldata)
		if err != nil {
			return fmt.Errorf("symbol: %w", err)
		}
		s, ok := decodeSymbol(raw)
		if !ok {
			return fmt.Errorf("symbol: undecodable return of %d bytes", len(raw))
		}
		symbol = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return model.TokenMeta{}, err
	}

	return model.TokenMeta{
		Symbol:    strings.ToUpper(symbol),
		Decimals:  decimals,
		FetchedAt: r.now(),
	}, nil
}

func (r *Resolver) ethCall(ctx context.Context, contract common.Address, calldata string) ([]byte, error) {
	var result hexutil.Bytes
	arg := map[string]any{
		"to":   contract.Hex(),
		"data": calldata,
	}
	if err := r.client.CallContext(ctx, &result, "eth_call", arg, "latest"); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("empty return")
	}
	return result, nil
}

func decodeDecimals(raw []byte) (uint8, error) {
	n := new(big.Int).SetBytes(raw)
	if !n.IsUint64() || n.Uint64() > 255 {
		return 0, fmt.Errorf("out of range: %s", n)
	}
	return uint8(n.Uint64()), nil
}

// decodeSymbol handles both return encodings seen in the wild: a fixed
// 32-byte ASCII word padded with NULs, and the dynamic ABI string
// (offset word, length word, then bytes). Anything else is absence.
func decodeSymbol(raw []byte) (string, bool) {
	if len(raw) == 32 {
		s := strings.TrimSpace(string(bytes.TrimRight(raw, "\x00")))
		return s, s != ""
	}

	if len(raw) >= 96 {
		strLen := new(big.Int).SetBytes(raw[32:64])
		if !strLen.IsUint64() {
			return "", false
		}
		n := strLen.Uint64()
		if n == 0 || 64+n > uint64(len(raw)) {
			return "", false
		}
		s := strings.TrimSpace(string(raw[64 : 64+n]))
		return s, s != ""
	}

	return "", false
}
