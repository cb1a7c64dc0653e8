package ledger

import (
	"fmt"

	"hyperdrived/internal/fixedmath"
)

// InvariantValidator checks position-book invariants
type InvariantValidator struct {
	book *PositionBook
}

func NewInvariantValidator(book *PositionBook) *InvariantValidator {
	return &InvariantValidator{book: book}
}

// ValidateSupplies verifies that each asset's tracked supply equals the sum
// of its holder balances.
func (v *InvariantValidator) ValidateSupplies() error {
	sums := make(map[AssetKey]fixedmath.FixedPoint)
	for key, balance := range v.book.balances {
		sums[key.Asset] = sums[key.Asset].Add(balance)
	}

	for asset, supply := range v.book.supplies {
		if !sums[asset].Eq(supply) {
			return fmt.Errorf("asset %s supply %s does not match holder total %s",
				asset.AssetPath(), supply, sums[asset])
		}
	}
	for asset, sum := range sums {
		if _, ok := v.book.supplies[asset]; !ok && !sum.IsZero() {
			return fmt.Errorf("asset %s has holder balances but no tracked supply", asset.AssetPath())
		}
	}
	return nil
}

// ValidateSupplyMatches verifies one asset's supply against an externally
// tracked figure, e.g. the pool state's outstanding totals.
func (v *InvariantValidator) ValidateSupplyMatches(asset AssetKey, expected fixedmath.FixedPoint) error {
	supply := v.book.TotalSupply(asset)
	if !supply.Eq(expected) {
		return fmt.Errorf("asset %s supply %s does not match expected %s",
			asset.AssetPath(), supply, expected)
	}
	return nil
}
