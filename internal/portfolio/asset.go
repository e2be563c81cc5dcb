package portfolio

import "errors"

// DefaultArrayCapacity bounds the asset array for accounts that have not
// enabled a bitmap currency.
const DefaultArrayCapacity = 7

// MaxBitmapBits is the number of maturities a bitmap can address.
const MaxBitmapBits = 256

var (
	// ErrPortfolioFull reports an asset array at capacity.
	ErrPortfolioFull = errors.New("portfolio: asset array at capacity")
	// ErrInvalidMaturity reports a maturity that does not land on the
	// bitmap's day/week/month/quarter grid, or is not after the base time.
	ErrInvalidMaturity = errors.New("portfolio: maturity not on bitmap grid")
	// ErrBitmapRange reports a maturity beyond the bitmap's ~21 year horizon.
	ErrBitmapRange = errors.New("portfolio: maturity beyond bitmap horizon")
	// ErrBitmapEnabled reports a second bitmap enablement on one account.
	ErrBitmapEnabled = errors.New("portfolio: bitmap currency already enabled")
	// ErrBitmapConflict reports enabling a bitmap for a currency the asset
	// array already holds positions in.
	ErrBitmapConflict = errors.New("portfolio: array already holds assets in bitmap currency")
)

// Asset is a single fCash position: positive notional is a claim on cash at
// maturity, negative an obligation.
type Asset struct {
	CurrencyID uint16
	Maturity   int64
	Notional   int64
}
