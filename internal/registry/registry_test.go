package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetFromBareList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"cake","price":"2.5"},{"tokenSymbol":"WBNB","lastPrice":600}]`))
	}))
	defer srv.Close()

	reg := New(srv.URL, 60, time.Minute, nil)

	entry, ok := reg.Get(context.Background(), "cake")
	if !ok {
		t.Fatalf("expected CAKE entry")
	}
	price, ok := ExtractPriceUSDT(entry)
	if !ok || price.String() != "2.5" {
		t.Fatalf("price = %v %v", price, ok)
	}

	if _, ok := reg.Get(context.Background(), "WBNB"); !ok {
		t.Fatalf("expected WBNB via tokenSymbol key")
	}
	if _, ok := reg.Get(context.Background(), "DOGE"); ok {
		t.Fatalf("expected miss for unlisted symbol")
	}
}

func TestGetFromNestedDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"list":[{"symbol":"BTC","usdtPrice":"65000.1"}]}}`))
	}))
	defer srv.Close()

	reg := New(srv.URL, 60, time.Minute, nil)
	entry, ok := reg.Get(context.Background(), "btc")
	if !ok {
		t.Fatalf("expected BTC entry")
	}
	if price, ok := ExtractPriceUSDT(entry); !ok || price.String() != "65000.1" {
		t.Fatalf("price = %v %v", price, ok)
	}
}

func TestSnapshotCachedWithinTTL(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`[{"symbol":"BTC","price":"1"}]`))
	}))
	defer srv.Close()

	reg := New(srv.URL, 60, time.Minute, nil)
	for i := 0; i < 5; i++ {
		reg.Get(context.Background(), "BTC")
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("hits = %d, want 1 within TTL", got)
	}
}

func TestStaleSnapshotRetainedOnFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[{"symbol":"BTC","price":"1"}]`))
	}))
	defer srv.Close()

	reg := New(srv.URL, 600, time.Minute, nil)
	if _, ok := reg.Get(context.Background(), "BTC"); !ok {
		t.Fatalf("seed fetch failed")
	}

	// Expire the snapshot and make the upstream fail.
	fail.Store(true)
	reg.mu.Lock()
	reg.lastFetch = time.Now().Add(-2 * time.Minute)
	reg.mu.Unlock()

	if _, ok := reg.Get(context.Background(), "BTC"); !ok {
		t.Fatalf("stale snapshot should survive refresh failure")
	}
}

func TestExtractPriceCandidates(t *testing.T) {
	cases := []struct {
		name  string
		entry Entry
		want  string
		ok    bool
	}{
		{"first candidate wins", Entry{"price": "3", "lastPrice": "4"}, "3", true},
		{"fallback candidate", Entry{"priceUSDT": 7.5}, "7.5", true},
		{"unparseable skipped", Entry{"price": "n/a", "lastPrice": "4"}, "4", true},
		{"no candidates", Entry{"symbol": "X"}, "", false},
		{"nil entry", nil, "", false},
	}

	for _, tc := range cases {
		price, ok := ExtractPriceUSDT(tc.entry)
		if ok != tc.ok {
			t.Fatalf("%s: ok = %v, want %v", tc.name, ok, tc.ok)
		}
		if ok && price.String() != tc.want {
			t.Fatalf("%s: price = %s, want %s", tc.name, price, tc.want)
		}
	}
}
