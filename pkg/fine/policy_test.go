package fine

import (
	"testing"
	"time"
)

func TestAmountBoundaries(t *testing.T) {
	p := NewPolicy(10)
	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		asOf time.Time
		want int64
	}{
		{"before due", due.Add(-48 * time.Hour), 0},
		{"exactly due", due, 0},
		{"one second over", due.Add(time.Second), 10},
		{"one day over", due.Add(24 * time.Hour), 10},
		{"one day one hour over", due.Add(25 * time.Hour), 20},
		{"six days over", due.Add(6 * 24 * time.Hour), 60},
		{"partial third day rounds up", due.Add(2*24*time.Hour + time.Hour), 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.Amount(due, tc.asOf); got != tc.want {
				t.Fatalf("Amount(%s) = %d, want %d", tc.name, got, tc.want)
			}
		})
	}
}

func TestNewPolicyDefaultsRate(t *testing.T) {
	p := NewPolicy(0)
	if p.RatePerDay != DefaultRatePerDay {
		t.Fatalf("expected default rate %d, got %d", DefaultRatePerDay, p.RatePerDay)
	}
	p = NewPolicy(-5)
	if p.RatePerDay != DefaultRatePerDay {
		t.Fatalf("expected default rate for negative input, got %d", p.RatePerDay)
	}
}

func TestAmountIsDeterministic(t *testing.T) {
	p := NewPolicy(25)
	due := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	asOf := due.Add(3*24*time.Hour + 30*time.Minute)
	first := p.Amount(due, asOf)
	for i := 0; i < 5; i++ {
		if got := p.Amount(due, asOf); got != first {
			t.Fatalf("amount changed between calls: %d vs %d", got, first)
		}
	}
	if first != 4*25 {
		t.Fatalf("expected 4 days at rate 25 = 100, got %d", first)
	}
}
