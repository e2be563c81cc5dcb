package settle

// Account flags packed into Context.Flags.
const (
	// HasCashDebt marks an account whose settlement left a negative cash
	// balance. It stays set until the ledger observes the debt repaid.
	HasCashDebt uint8 = 0x01
	// HasAssetDebt marks an account holding at least one negative fCash
	// position. Recomputed on every settlement.
	HasAssetDebt uint8 = 0x02
)

// Context carries the per-account settlement bookkeeping that every
// operation touching the account must consult first.
type Context struct {
	NextSettleTime   int64  // quarter boundary the account is settled through
	Flags            uint8  // HasCashDebt | HasAssetDebt
	BitmapCurrencyID uint16 // 0 when the account uses the array encoding
}
