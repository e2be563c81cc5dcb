package math_test

import (
	stdmath "math"
	"testing"

	fpmath "TermLedger/internal/math"
)

// ============================================================================
// Test: NaturalLog
// ============================================================================

func TestNaturalLog_One(t *testing.T) {
	got, ok := fpmath.NaturalLog(fpmath.RatePrecision)
	if !ok {
		t.Fatal("ln(1) should succeed")
	}
	if got != 0 {
		t.Errorf("ln(1): got %d, want 0", got)
	}
}

func TestNaturalLog_Two(t *testing.T) {
	got, ok := fpmath.NaturalLog(2 * fpmath.RatePrecision)
	if !ok {
		t.Fatal("ln(2) should succeed")
	}
	want := int64(693_147_181) // ln(2) rounded at 1e9
	if got != want {
		t.Errorf("ln(2): got %d, want %d", got, want)
	}
}

func TestNaturalLog_MatchesFloat(t *testing.T) {
	inputs := []int64{
		1,                            // 1e-9
		1_000,                        // 1e-6
		500_000_000,                  // 0.5
		999_999_999,                  // just under 1
		1_000_000_001,                // just over 1
		1_050_000_000,                // 1.05, a typical exchange rate
		3_141_592_653,                // pi
		10 * fpmath.RatePrecision,    // 10
		12_345 * fpmath.RatePrecision,
		1_000_000 * fpmath.RatePrecision,
	}

	for _, x := range inputs {
		got, ok := fpmath.NaturalLog(x)
		if !ok {
			t.Fatalf("ln(%d) should succeed", x)
		}
		want := stdmath.Log(float64(x)/float64(fpmath.RatePrecision)) * float64(fpmath.RatePrecision)
		if diff := stdmath.Abs(float64(got) - want); diff > 2 {
			t.Errorf("ln(%d): got %d, want %.0f (diff %.1f)", x, got, want, diff)
		}
	}
}

func TestNaturalLog_NonPositiveFails(t *testing.T) {
	for _, x := range []int64{0, -1, -fpmath.RatePrecision} {
		if _, ok := fpmath.NaturalLog(x); ok {
			t.Errorf("ln(%d) should fail", x)
		}
	}
}

// ============================================================================
// Test: NaturalExp
// ============================================================================

func TestNaturalExp_Zero(t *testing.T) {
	got, ok := fpmath.NaturalExp(0)
	if !ok {
		t.Fatal("exp(0) should succeed")
	}
	if got != fpmath.RatePrecision {
		t.Errorf("exp(0): got %d, want %d", got, fpmath.RatePrecision)
	}
}

func TestNaturalExp_MatchesFloat(t *testing.T) {
	inputs := []int64{
		-20 * fpmath.RatePrecision,
		-fpmath.RatePrecision,
		-123_456_789,
		1,
		100_000_000,               // 0.1, a typical annualized rate exponent
		693_147_181,               // ln 2
		fpmath.RatePrecision,      // 1
		2_500_000_000,             // 2.5
		10 * fpmath.RatePrecision, // 10
		20 * fpmath.RatePrecision,
	}

	for _, x := range inputs {
		got, ok := fpmath.NaturalExp(x)
		if !ok {
			t.Fatalf("exp(%d) should succeed", x)
		}
		want := stdmath.Exp(float64(x)/float64(fpmath.RatePrecision)) * float64(fpmath.RatePrecision)
		// Allow relative slack for large magnitudes, absolute for small.
		tol := stdmath.Max(2, stdmath.Abs(want)*1e-12)
		if diff := stdmath.Abs(float64(got) - want); diff > tol {
			t.Errorf("exp(%d): got %d, want %.0f (diff %.1f)", x, got, want, diff)
		}
	}
}

func TestNaturalExp_OverflowFails(t *testing.T) {
	// exp(23) * 1e9 exceeds int64.
	if _, ok := fpmath.NaturalExp(23 * fpmath.RatePrecision); ok {
		t.Error("exp(23) should overflow int64 at rate precision")
	}
	if _, ok := fpmath.NaturalExp(100 * fpmath.RatePrecision); ok {
		t.Error("exp(100) should overflow int64 at rate precision")
	}
}

func TestNaturalExp_RoundTripsLog(t *testing.T) {
	inputs := []int64{
		fpmath.RatePrecision,
		1_050_000_000,
		2 * fpmath.RatePrecision,
		7_250_000_000,
		1_000 * fpmath.RatePrecision,
	}

	for _, x := range inputs {
		lnX, ok := fpmath.NaturalLog(x)
		if !ok {
			t.Fatalf("ln(%d) should succeed", x)
		}
		back, ok := fpmath.NaturalExp(lnX)
		if !ok {
			t.Fatalf("exp(ln(%d)) should succeed", x)
		}
		// Relative error bounded by the rounding of the intermediate ln.
		tol := float64(x)/float64(fpmath.RatePrecision) + 2
		if diff := stdmath.Abs(float64(back - x)); diff > tol {
			t.Errorf("exp(ln(%d)): got %d (diff %.0f, tol %.0f)", x, back, diff, tol)
		}
	}
}

// ============================================================================
// Test: fixed-point division semantics
// ============================================================================

func TestDivideInt128_TruncatesTowardZero(t *testing.T) {
	cases := []struct {
		a, b, denom int64
		want        int64
	}{
		{7, 1, 2, 3},
		{-7, 1, 2, -3},
		{7, -1, 2, -3},
		{-9, 1, 4, -2},
		{1, 1, 3, 0},
		{-1, 1, 3, 0},
	}

	for _, c := range cases {
		num := fpmath.MultiplyInt128(c.a, c.b)
		got := fpmath.DivideInt128(num, c.denom, fpmath.RoundDown)
		fpmath.ReleaseInt128(num)
		if got != c.want {
			t.Errorf("%d*%d/%d: got %d, want %d", c.a, c.b, c.denom, got, c.want)
		}
	}
}

func TestDivideInt128_HalfEven(t *testing.T) {
	cases := []struct {
		a, denom int64
		want     int64
	}{
		{5, 2, 2},   // 2.5 rounds to even 2
		{7, 2, 4},   // 3.5 rounds to even 4
		{-5, 2, -2}, // symmetric
		{-7, 2, -4},
		{11, 4, 3}, // 2.75 rounds up
	}

	for _, c := range cases {
		num := fpmath.MultiplyInt128(c.a, 1)
		got := fpmath.DivideInt128(num, c.denom, fpmath.RoundHalfEven)
		fpmath.ReleaseInt128(num)
		if got != c.want {
			t.Errorf("%d/%d half-even: got %d, want %d", c.a, c.denom, got, c.want)
		}
	}
}

func TestMulDivTrunc_Signed(t *testing.T) {
	// Large intermediates must not overflow int64.
	got := fpmath.MulDivTrunc(1e18, 3, 2e9)
	if got != 1_500_000_000_000_000_000/1_000_000_000 {
		t.Errorf("got %d, want %d", got, int64(1_500_000_000_000_000_000/1_000_000_000))
	}

	if got := fpmath.MulDivTrunc(-5, 3, 2); got != -7 {
		t.Errorf("-15/2: got %d, want -7", got)
	}
}
