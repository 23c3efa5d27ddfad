package strategy

import (
	"fmt"
	"testing"
)

func TestFirstSeenTwice(t *testing.T) {
	d := NewDeduper(100, nil)

	if !d.FirstSeen("0xabc") {
		t.Fatalf("first presentation should be novel")
	}
	if d.FirstSeen("0xabc") {
		t.Fatalf("second presentation should not be novel")
	}
}

func TestCapTriggersFullClear(t *testing.T) {
	d := NewDeduper(3, nil)

	d.FirstSeen("0x1")
	d.FirstSeen("0x2")
	d.FirstSeen("0x3")
	// Exceeds the cap and clears the whole set.
	d.FirstSeen("0x4")

	if !d.FirstSeen("0x1") {
		t.Fatalf("previously-seen hash should be novel again after clear")
	}
}

func TestConcurrentFirstSeenExactlyOne(t *testing.T) {
	d := NewDeduper(0, nil)

	const n = 32
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func() { results <- d.FirstSeen("0xsame") }()
	}

	novel := 0
	for i := 0; i < n; i++ {
		if <-results {
			novel++
		}
	}
	if novel != 1 {
		t.Fatalf("novel = %d, want exactly 1", novel)
	}
}

func TestDistinctHashesAllNovel(t *testing.T) {
	d := NewDeduper(1000, nil)
	for i := 0; i < 100; i++ {
		if !d.FirstSeen(fmt.Sprintf("0x%04x", i)) {
			t.Fatalf("hash %d should be novel", i)
		}
	}
}
