package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeCash AccountSubType = iota

	// System sub-types
	SubTypeFeeReserve
	SubTypeMarketCash

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// AccountKey is the in-memory key for balance tracking (21 bytes, cache-friendly)
type AccountKey struct {
	Scope      AccountScope
	EntityID   [16]byte // UUID for users, liquidity account for market cash
	SubType    AccountSubType
	CurrencyID uint16
}

// LiquidityAccountID derives the deterministic account that owns a
// currency's market liquidity. Seeded cash is drawn from its cash balance
// and reclaimed liquidity flows back to it on every quarterly roll.
func LiquidityAccountID(currencyID uint16) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("termledger:liquidity:%d", currencyID)))
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(accountID uuid.UUID, subType AccountSubType, currencyID uint16) AccountKey {
	return AccountKey{
		Scope:      AccountScopeUser,
		EntityID:   accountID,
		SubType:    subType,
		CurrencyID: currencyID,
	}
}

// UserCashKey is shorthand for the one user sub-type in use
func UserCashKey(accountID uuid.UUID, currencyID uint16) AccountKey {
	return NewUserAccountKey(accountID, SubTypeCash, currencyID)
}

// FeeReserveKey returns the per-currency account accumulating trade fees
func FeeReserveKey(currencyID uint16) AccountKey {
	return AccountKey{
		Scope:      AccountScopeSystem,
		SubType:    SubTypeFeeReserve,
		CurrencyID: currencyID,
	}
}

// MarketCashKey returns the pooled cash account backing a currency's
// active markets, owned by the liquidity account.
func MarketCashKey(currencyID uint16) AccountKey {
	return AccountKey{
		Scope:      AccountScopeSystem,
		EntityID:   LiquidityAccountID(currencyID),
		SubType:    SubTypeMarketCash,
		CurrencyID: currencyID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, currencyID uint16) AccountKey {
	return AccountKey{
		Scope:      AccountScopeExternal,
		SubType:    subType,
		CurrencyID: currencyID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%d", uid.String(), k.subTypeName(), k.CurrencyID)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%d", k.subTypeName(), k.CurrencyID)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%d", k.subTypeName(), k.CurrencyID)
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath, used when loading balance
// snapshots. Malformed paths map to the zero key so corruption surfaces as a
// hash mismatch on replay instead of a panic.
func ParseAccountPath(path string) AccountKey {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) == 4 && parts[0] == "user":
		uid, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}
		}
		cur, err := strconv.ParseUint(parts[3], 10, 16)
		if err != nil {
			return AccountKey{}
		}
		return NewUserAccountKey(uid, subTypeFromName(parts[2]), uint16(cur))
	case len(parts) == 3 && parts[0] == "system":
		cur, err := strconv.ParseUint(parts[2], 10, 16)
		if err != nil {
			return AccountKey{}
		}
		if parts[1] == "market_cash" {
			return MarketCashKey(uint16(cur))
		}
		return AccountKey{
			Scope:      AccountScopeSystem,
			SubType:    subTypeFromName(parts[1]),
			CurrencyID: uint16(cur),
		}
	case len(parts) == 3 && parts[0] == "external":
		cur, err := strconv.ParseUint(parts[2], 10, 16)
		if err != nil {
			return AccountKey{}
		}
		return NewExternalAccountKey(subTypeFromName(parts[1]), uint16(cur))
	}
	return AccountKey{}
}

func subTypeFromName(name string) AccountSubType {
	switch name {
	case "cash":
		return SubTypeCash
	case "fee_reserve":
		return SubTypeFeeReserve
	case "market_cash":
		return SubTypeMarketCash
	case "deposits":
		return SubTypeExternalDeposits
	case "withdrawals":
		return SubTypeExternalWithdrawals
	default:
		return SubTypeCash
	}
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeCash:
		return "cash"
	case SubTypeFeeReserve:
		return "fee_reserve"
	case SubTypeMarketCash:
		return "market_cash"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}
