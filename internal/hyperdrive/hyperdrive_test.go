package hyperdrive_test

import (
	"math/big"
	"testing"

	"hyperdrived/internal/fixedmath"
	"hyperdrived/internal/hyperdrive"
	"hyperdrived/internal/state"
)

const (
	day  = 24 * 60 * 60
	year = 365 * day

	// now0 is an arbitrary aligned timestamp well past one position
	// duration so backdated arithmetic never underflows.
	now0 = uint64(1000 * day)
)

// testConfig returns a fee-free 365-day pool with daily checkpoints targeting
// a 5% rate. Fee-free pools make conservation assertions exact.
func testConfig() *state.PoolConfig {
	return &state.PoolConfig{
		BaseAsset:                "DAI",
		VaultAsset:               "sDAI",
		CheckpointDuration:       day,
		PositionDuration:         year,
		TimeStretch:              state.TimeStretchForRate(fixedmath.MustFromDec("0.05")),
		InitialVaultSharePrice:   fixedmath.One(),
		MinimumShareReserves:     fixedmath.Scaled(10),
		MinimumTransactionAmount: fixedmath.MustFromDec("0.001"),
		CircuitBreakerDelta:      fixedmath.MustFromDec("0.015"),
	}
}

func feeConfig() *state.PoolConfig {
	cfg := testConfig()
	cfg.Fees = state.Fees{
		Curve:            fixedmath.MustFromDec("0.01"),
		Flat:             fixedmath.MustFromDec("0.0005"),
		GovernanceLP:     fixedmath.MustFromDec("0.15"),
		GovernanceZombie: fixedmath.MustFromDec("0.03"),
	}
	return cfg
}

// setupPool initializes a pool with a 1,000,000 base contribution at a 5%
// target rate and returns the LP supply (provider shares plus the burned
// reserve floor shares).
func setupPool(t *testing.T, cfg *state.PoolConfig) (*state.MarketState, fixedmath.FixedPoint) {
	t.Helper()
	s := state.NewMarketState()
	res, err := hyperdrive.Initialize(
		cfg, s, fixedmath.One(), now0,
		fixedmath.Scaled(1_000_000), fixedmath.MustFromDec("0.05"),
	)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return s, res.LpShares.Add(res.ReserveShares)
}

func assertClose(t *testing.T, got, want fixedmath.FixedPoint, tol string) {
	t.Helper()
	diff := new(big.Int).Sub(got.Raw(), want.Raw())
	diff.Abs(diff)
	if diff.Cmp(fixedmath.MustFromDec(tol).Raw()) > 0 {
		t.Fatalf("got %s, want %s (tol %s)", got, want, tol)
	}
}
