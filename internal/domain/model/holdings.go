package model

import (
	"math/big"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// TokenBalance is a point-in-time balance of one mint held by an address.
// Amount is a raw base-unit integer and must not be mutated once read.
type TokenBalance struct {
	Mint     string   `json:"mint"`
	Amount   *big.Int `json:"amount"`
	Decimals uint8    `json:"decimals"`
}

// UIAmount renders Amount scaled down by Decimals.
func (b TokenBalance) UIAmount() decimal.Decimal {
	return UIAmount(b.Amount, b.Decimals)
}

// IsZero reports whether the balance is absent or zero.
func (b TokenBalance) IsZero() bool {
	return b.Amount == nil || b.Amount.Sign() == 0
}

// WalletHoldings is the full snapshot of one address. It is replaced
// wholesale on every refresh, never patched.
type WalletHoldings struct {
	Address     string                  `json:"address"`
	Tokens      map[string]TokenBalance `json:"tokens"`
	LastUpdated time.Time               `json:"last_updated"`
}

// NewWalletHoldings builds a snapshot keyed by mint. Balances that share a
// mint (several token accounts of the same mint) are summed so that mints
// stay unique within the snapshot.
func NewWalletHoldings(address string, balances []TokenBalance, at time.Time) WalletHoldings {
	tokens := make(map[string]TokenBalance, len(balances))
	for _, b := range balances {
		amount := new(big.Int)
		if b.Amount != nil {
			amount.Set(b.Amount)
		}
		if prev, ok := tokens[b.Mint]; ok {
			amount.Add(amount, prev.Amount)
		}
		tokens[b.Mint] = TokenBalance{Mint: b.Mint, Amount: amount, Decimals: b.Decimals}
	}
	return WalletHoldings{Address: address, Tokens: tokens, LastUpdated: at}
}

// Mints returns the held mints in lexical order.
func (h WalletHoldings) Mints() []string {
	mints := make([]string, 0, len(h.Tokens))
	for mint := range h.Tokens {
		mints = append(mints, mint)
	}
	sort.Strings(mints)
	return mints
}

// HasNonZero reports whether any token in the snapshot has a positive amount.
func (h WalletHoldings) HasNonZero() bool {
	for _, t := range h.Tokens {
		if !t.IsZero() {
			return true
		}
	}
	return false
}

// TokenChange is a single per-mint balance delta between two snapshots.
type TokenChange struct {
	Mint       string    `json:"mint"`
	OldBalance *big.Int  `json:"old_balance"`
	NewBalance *big.Int  `json:"new_balance"`
	Decimals   uint8     `json:"decimals"`
	Timestamp  time.Time `json:"timestamp"`
}

// IsOpen reports whether the change opens a position (old balance zero).
func (c TokenChange) IsOpen() bool {
	return c.OldBalance.Sign() == 0
}

// IsClose reports whether the change fully closes a position.
func (c TokenChange) IsClose() bool {
	return c.NewBalance.Sign() == 0
}

// Delta returns NewBalance - OldBalance.
func (c TokenChange) Delta() *big.Int {
	return new(big.Int).Sub(c.NewBalance, c.OldBalance)
}

// UIAmount scales a raw amount by 10^-decimals. A nil amount renders as zero.
func UIAmount(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}
