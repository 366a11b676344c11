package tracker

import (
	"math/big"
	"testing"
	"time"

	"github.com/NovaDovaDao/doviumV2/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var diffAt = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func snapshot(balances ...model.TokenBalance) model.WalletHoldings {
	return model.NewWalletHoldings(addrA, balances, diffAt)
}

func TestDiff_BaselineReportsEverythingAsOpened(t *testing.T) {
	changes := Diff(nil, snapshot(bal("X", 1000, 6), bal("A", 5, 0)))

	require.Len(t, changes, 2)
	assertChange(t, changes[0], "A", 0, 5)
	assertChange(t, changes[1], "X", 0, 1000)
	for _, c := range changes {
		assert.True(t, c.IsOpen())
		assert.Equal(t, diffAt, c.Timestamp)
	}
	assert.Equal(t, uint8(6), changes[1].Decimals)
}

func TestDiff_BaselineOfEmptyWalletIsEmpty(t *testing.T) {
	assert.Empty(t, Diff(nil, snapshot()))
}

func TestDiff_ChangedAppearedDisappeared(t *testing.T) {
	prev := snapshot(bal("keep", 10, 0), bal("grow", 1, 0), bal("gone", 7, 2))
	next := snapshot(bal("keep", 10, 0), bal("grow", 2, 0), bal("new", 3, 0))

	changes := Diff(&prev, next)

	require.Len(t, changes, 3)
	assertChange(t, changes[0], "gone", 7, 0)
	assertChange(t, changes[1], "grow", 1, 2)
	assertChange(t, changes[2], "new", 0, 3)

	assert.True(t, changes[0].IsClose())
	assert.Equal(t, uint8(2), changes[0].Decimals)
	assert.True(t, changes[2].IsOpen())
}

func TestDiff_UnchangedSnapshotsProduceNothing(t *testing.T) {
	prev := snapshot(bal("X", 1000, 6), bal("Y", 1, 0))
	next := snapshot(bal("Y", 1, 0), bal("X", 1000, 6))

	assert.Empty(t, Diff(&prev, next))
}

func TestDiff_ExactBigIntegerEquality(t *testing.T) {
	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	hugePlusOne := new(big.Int).Add(huge, big.NewInt(1))

	prev := snapshot(model.TokenBalance{Mint: "X", Amount: huge, Decimals: 9})
	next := snapshot(model.TokenBalance{Mint: "X", Amount: hugePlusOne, Decimals: 9})

	changes := Diff(&prev, next)
	require.Len(t, changes, 1)
	assert.Equal(t, 0, changes[0].OldBalance.Cmp(huge))
	assert.Equal(t, 0, changes[0].NewBalance.Cmp(hugePlusOne))
	assert.Equal(t, big.NewInt(1), changes[0].Delta())

	same := snapshot(model.TokenBalance{Mint: "X", Amount: new(big.Int).Set(huge), Decimals: 9})
	assert.Empty(t, Diff(&prev, same))
}

func TestDiff_EveryMintAtMostOnce(t *testing.T) {
	prev := snapshot(bal("a", 1, 0), bal("b", 2, 0), bal("c", 3, 0))
	next := snapshot(bal("b", 20, 0), bal("c", 3, 0), bal("d", 4, 0))

	seen := map[string]int{}
	for _, c := range Diff(&prev, next) {
		seen[c.Mint]++
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "d": 1}, seen)
}

func TestDiff_DoesNotAliasSnapshotAmounts(t *testing.T) {
	prev := snapshot(bal("X", 1, 0))
	next := snapshot(bal("X", 2, 0))

	changes := Diff(&prev, next)
	require.Len(t, changes, 1)
	changes[0].NewBalance.SetInt64(99)

	assert.Equal(t, big.NewInt(2), next.Tokens["X"].Amount)
}
