package main

import (
	"testing"
	"time"
)

func TestPercentileNearestRank(t *testing.T) {
	values := []time.Duration{
		40 * time.Millisecond,
		10 * time.Millisecond,
		30 * time.Millisecond,
		20 * time.Millisecond,
	}
	cases := []struct {
		p    int
		want time.Duration
	}{
		{50, 20 * time.Millisecond},
		{90, 40 * time.Millisecond},
		{100, 40 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := percentile(values, tc.p); got != tc.want {
			t.Fatalf("percentile(p=%d) = %v, want %v", tc.p, got, tc.want)
		}
	}
}

func TestPercentileEmpty(t *testing.T) {
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("percentile(nil) = %v, want 0", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate(short) = %q", got)
	}
	if got := truncate("a long line\nwith a break", 6); got != "a long…" {
		t.Fatalf("truncate(long) = %q", got)
	}
}
