package tracker

import (
	"math/big"
	"sort"

	"github.com/NovaDovaDao/doviumV2/internal/domain/model"
)

// Diff returns one change per mint whose amount differs between prev and
// next, including mints that appeared or disappeared. A nil prev is the
// first read of an address: every held mint is reported with a zero old
// balance. Amounts are compared exactly. The result is ordered by mint.
func Diff(prev *model.WalletHoldings, next model.WalletHoldings) []model.TokenChange {
	var changes []model.TokenChange
	at := next.LastUpdated

	for mint, cur := range next.Tokens {
		newAmount := amountOrZero(cur.Amount)
		oldAmount := new(big.Int)
		if prev != nil {
			if before, ok := prev.Tokens[mint]; ok {
				oldAmount = amountOrZero(before.Amount)
				if oldAmount.Cmp(newAmount) == 0 {
					continue
				}
			}
		}
		changes = append(changes, model.TokenChange{
			Mint:       mint,
			OldBalance: new(big.Int).Set(oldAmount),
			NewBalance: new(big.Int).Set(newAmount),
			Decimals:   cur.Decimals,
			Timestamp:  at,
		})
	}

	if prev != nil {
		for mint, before := range prev.Tokens {
			if _, still := next.Tokens[mint]; still {
				continue
			}
			changes = append(changes, model.TokenChange{
				Mint:       mint,
				OldBalance: new(big.Int).Set(amountOrZero(before.Amount)),
				NewBalance: new(big.Int),
				Decimals:   before.Decimals,
				Timestamp:  at,
			})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Mint < changes[j].Mint })
	return changes
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
