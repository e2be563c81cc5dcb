package math_test

import (
	stdmath "math"
	"testing"

	fpmath "TermLedger/internal/math"
)

// ============================================================================
// Test: PresentValue
// ============================================================================

func TestPresentValue_MaturedIsPar(t *testing.T) {
	notional := 50 * fpmath.InternalTokenPrecision
	for _, ttm := range []int64{0, -1, -fpmath.SecondsInQuarter} {
		got, err := fpmath.PresentValue(notional, 50_000_000, ttm)
		if err != nil {
			t.Fatalf("PresentValue(ttm=%d): %v", ttm, err)
		}
		if got != notional {
			t.Errorf("PresentValue(ttm=%d): got %d, want par %d", ttm, got, notional)
		}
	}
}

func TestPresentValue_ZeroNotional(t *testing.T) {
	got, err := fpmath.PresentValue(0, 50_000_000, fpmath.SecondsInQuarter)
	if err != nil {
		t.Fatalf("PresentValue: %v", err)
	}
	if got != 0 {
		t.Errorf("PresentValue(0): got %d, want 0", got)
	}
}

func TestPresentValue_MatchesFloat(t *testing.T) {
	notional := 100 * fpmath.InternalTokenPrecision
	cases := []struct {
		rate int64 // RatePrecision, annualized
		ttm  int64 // seconds
	}{
		{10_000_000, fpmath.SecondsInQuarter},      // 1% for a quarter
		{50_000_000, fpmath.SecondsInQuarter},      // 5% for a quarter
		{50_000_000, 4 * fpmath.SecondsInQuarter},  // 5% for a year
		{200_000_000, 8 * fpmath.SecondsInQuarter}, // 20% for two years
	}
	for _, tc := range cases {
		got, err := fpmath.PresentValue(notional, tc.rate, tc.ttm)
		if err != nil {
			t.Fatalf("PresentValue(rate=%d, ttm=%d): %v", tc.rate, tc.ttm, err)
		}

		rate := float64(tc.rate) / float64(fpmath.RatePrecision)
		ttm := float64(tc.ttm) / float64(fpmath.NormalizedRateTime)
		want := float64(notional) * stdmath.Exp(-rate*ttm)

		// The fixed-point exp is accurate to well under a basis point.
		if diff := stdmath.Abs(float64(got) - want); diff > float64(notional)/10_000 {
			t.Errorf("PresentValue(rate=%d, ttm=%d): got %d, want ~%.0f (diff %.0f)",
				tc.rate, tc.ttm, got, want, diff)
		}
		if got >= notional {
			t.Errorf("PresentValue(rate=%d, ttm=%d): got %d, want < par %d",
				tc.rate, tc.ttm, got, notional)
		}
	}
}

func TestPresentValue_PreservesSign(t *testing.T) {
	lend, err := fpmath.PresentValue(50*fpmath.InternalTokenPrecision, 50_000_000, fpmath.SecondsInQuarter)
	if err != nil {
		t.Fatalf("PresentValue(lend): %v", err)
	}
	borrow, err := fpmath.PresentValue(-50*fpmath.InternalTokenPrecision, 50_000_000, fpmath.SecondsInQuarter)
	if err != nil {
		t.Fatalf("PresentValue(borrow): %v", err)
	}
	if lend <= 0 || borrow >= 0 {
		t.Fatalf("signs: lend %d, borrow %d", lend, borrow)
	}
	if lend != -borrow {
		t.Errorf("magnitudes differ: lend %d, borrow %d", lend, borrow)
	}
}

func TestPresentValue_DecreasesWithMaturity(t *testing.T) {
	notional := 100 * fpmath.InternalTokenPrecision
	prev := notional + 1
	for q := int64(1); q <= 8; q *= 2 {
		got, err := fpmath.PresentValue(notional, 50_000_000, q*fpmath.SecondsInQuarter)
		if err != nil {
			t.Fatalf("PresentValue(q=%d): %v", q, err)
		}
		if got >= prev {
			t.Errorf("PresentValue(q=%d): got %d, want < %d", q, got, prev)
		}
		prev = got
	}
}
