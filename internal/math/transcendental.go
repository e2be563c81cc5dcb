package math

import "math/big"

// Natural log and exp over RatePrecision fixed point. Both are implemented
// with integer big.Int arithmetic only so results are bit-identical across
// platforms; the engine's state hash depends on that.
//
// Internally values are widened to 1e18 scale. Range reduction by powers of
// two brings the argument into a window where a short series converges; the
// series tail and division truncation stay far below half an output ulp.

const internalLogScale int64 = 1_000_000_000_000_000_000 // 1e18

var (
	bigLogScale  = big.NewInt(internalLogScale)
	bigTwoScale  = new(big.Int).Lsh(big.NewInt(internalLogScale), 1)
	bigLnTwo     = big.NewInt(693_147_180_559_945_309) // ln(2) at 1e18
	bigUpscale   = big.NewInt(internalLogScale / RatePrecision)
	bigHalfScale = big.NewInt(internalLogScale / RatePrecision / 2)
)

// NaturalLog computes ln(x / RatePrecision) * RatePrecision, rounded to
// nearest. Returns ok=false when x <= 0; it never panics.
func NaturalLog(x int64) (int64, bool) {
	if x <= 0 {
		return 0, false
	}

	// Widen exactly: 1e18 / 1e9 = 1e9.
	v := new(big.Int).SetInt64(x)
	v.Mul(v, bigUpscale)

	// Reduce v into [1, 2) at internal scale, tracking halvings/doublings.
	var k int64
	for v.Cmp(bigTwoScale) >= 0 {
		v.Rsh(v, 1)
		k++
	}
	for v.Cmp(bigLogScale) < 0 {
		v.Lsh(v, 1)
		k--
	}

	// ln(m) = 2*atanh(z), z = (m-1)/(m+1) in [0, 1/3).
	num := new(big.Int).Sub(v, bigLogScale)
	den := new(big.Int).Add(v, bigLogScale)
	z := num.Mul(num, bigLogScale)
	z.Quo(z, den)

	zSq := new(big.Int).Mul(z, z)
	zSq.Quo(zSq, bigLogScale)

	sum := new(big.Int).Set(z)
	term := new(big.Int).Set(z)
	contrib := new(big.Int)
	for n := int64(3); ; n += 2 {
		term.Mul(term, zSq)
		term.Quo(term, bigLogScale)
		if term.Sign() == 0 {
			break
		}
		contrib.Quo(term, big.NewInt(n))
		if contrib.Sign() == 0 {
			break
		}
		sum.Add(sum, contrib)
	}
	sum.Lsh(sum, 1)

	if k != 0 {
		shift := new(big.Int).Mul(big.NewInt(k), bigLnTwo)
		sum.Add(sum, shift)
	}

	return roundToRatePrecision(sum), true
}

// NaturalExp computes exp(x / RatePrecision) * RatePrecision, rounded to
// nearest. Returns ok=false when the result does not fit in int64.
func NaturalExp(x int64) (int64, bool) {
	// exp(50) is far beyond int64 at RatePrecision scale.
	if x > 50*RatePrecision {
		return 0, false
	}

	y := new(big.Int).SetInt64(x)
	y.Mul(y, bigUpscale)

	// y = k*ln2 + r with r in [0, ln2); DivMod is Euclidean so this holds
	// for negative y as well.
	k := new(big.Int)
	r := new(big.Int)
	k.DivMod(y, bigLnTwo, r)

	// Taylor series for exp(r), r < 0.694.
	sum := new(big.Int).Set(bigLogScale)
	term := new(big.Int).Set(bigLogScale)
	for n := int64(1); ; n++ {
		term.Mul(term, r)
		term.Quo(term, bigLogScale)
		term.Quo(term, big.NewInt(n))
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, term)
	}

	shift := k.Int64()
	if shift >= 0 {
		sum.Lsh(sum, uint(shift))
	} else {
		sum.Rsh(sum, uint(-shift))
	}

	// Narrow to RatePrecision scale; sum is non-negative.
	q := new(big.Int)
	rem := new(big.Int)
	q.QuoRem(sum, bigUpscale, rem)
	if rem.Cmp(bigHalfScale) >= 0 {
		q.Add(q, big.NewInt(1))
	}
	if !q.IsInt64() {
		return 0, false
	}
	return q.Int64(), true
}

// roundToRatePrecision narrows a 1e18-scale value to RatePrecision scale,
// rounding half away from zero.
func roundToRatePrecision(v *big.Int) int64 {
	q := new(big.Int)
	rem := new(big.Int)
	q.QuoRem(v, bigUpscale, rem)

	absRem := new(big.Int).Abs(rem)
	if absRem.Cmp(bigHalfScale) >= 0 {
		if v.Sign() < 0 {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}
	return q.Int64()
}
