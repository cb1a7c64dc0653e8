package hyperdrive_test

import (
	"errors"
	"testing"

	"hyperdrived/internal/fixedmath"
	"hyperdrived/internal/hyperdrive"
	"hyperdrived/internal/state"
)

// ============================================================================
// Test: Initialize
// ============================================================================

func TestInitialize(t *testing.T) {
	cfg := testConfig()
	s := state.NewMarketState()

	res, err := hyperdrive.Initialize(
		cfg, s, fixedmath.One(), now0,
		fixedmath.Scaled(1_000_000), fixedmath.MustFromDec("0.05"),
	)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// The provider receives the contribution less twice the reserve floor;
	// one floor's worth of shares is burned to the null destination.
	if !res.LpShares.Eq(fixedmath.Scaled(999_980)) {
		t.Errorf("lp shares = %s, want 999980", res.LpShares)
	}
	if !res.ReserveShares.Eq(cfg.MinimumShareReserves) {
		t.Errorf("reserve shares = %s", res.ReserveShares)
	}
	if !s.IsInitialized {
		t.Error("pool not marked initialized")
	}
	assertClose(t, s.SpotRate(cfg), fixedmath.MustFromDec("0.05"), "0.0001")

	if _, err := hyperdrive.Initialize(
		cfg, s, fixedmath.One(), now0,
		fixedmath.Scaled(1_000_000), fixedmath.MustFromDec("0.05"),
	); !errors.Is(err, hyperdrive.ErrAlreadyInitialized) {
		t.Errorf("second initialize: got %v", err)
	}
}

func TestInitializeRejectsSmallContribution(t *testing.T) {
	cfg := testConfig()
	s := state.NewMarketState()
	_, err := hyperdrive.Initialize(
		cfg, s, fixedmath.One(), now0,
		fixedmath.Scaled(19), fixedmath.MustFromDec("0.05"),
	)
	if !errors.Is(err, hyperdrive.ErrBelowMinimumContribution) {
		t.Errorf("got %v", err)
	}
}

// ============================================================================
// Test: PresentValue
// ============================================================================

func TestPresentValueAtRest(t *testing.T) {
	cfg := testConfig()
	s, lpSupply := setupPool(t, cfg)

	pv, err := hyperdrive.PresentValue(cfg, s, fixedmath.One(), now0)
	if err != nil {
		t.Fatalf("present value: %v", err)
	}
	// With no open positions, PV is the reserves above the floor, which
	// equals the LP supply by construction.
	if !pv.Eq(lpSupply) {
		t.Errorf("pv = %s, want %s", pv, lpSupply)
	}
}

func TestPresentValueSurvivesTrades(t *testing.T) {
	cfg := testConfig()
	one := fixedmath.One()
	s, _ := setupPool(t, cfg)

	pv0, err := hyperdrive.PresentValue(cfg, s, one, now0)
	if err != nil {
		t.Fatalf("pv0: %v", err)
	}
	if _, err := hyperdrive.OpenLong(cfg, s, one, now0, fixedmath.Scaled(50_000)); err != nil {
		t.Fatalf("open long: %v", err)
	}
	pv1, err := hyperdrive.PresentValue(cfg, s, one, now0)
	if err != nil {
		t.Fatalf("pv1: %v", err)
	}
	// A fee-free trade moves value between trader and curve but cannot
	// materially change what the LPs hold.
	assertClose(t, pv1, pv0, "1")
}

// ============================================================================
// Test: AddLiquidity
// ============================================================================

func TestAddLiquidityProportionalMint(t *testing.T) {
	cfg := testConfig()
	one := fixedmath.One()
	s, lpSupply := setupPool(t, cfg)

	// Tilt the book net long so the curve leg of the valuation is live.
	if _, err := hyperdrive.OpenLong(cfg, s, one, now0, fixedmath.Scaled(50_000)); err != nil {
		t.Fatalf("open long: %v", err)
	}

	pv0, err := hyperdrive.PresentValue(cfg, s, one, now0)
	if err != nil {
		t.Fatalf("pv0: %v", err)
	}

	res, err := hyperdrive.AddLiquidity(
		cfg, s, one, now0,
		fixedmath.Scaled(100_000), fixedmath.Zero(),
		fixedmath.Zero(), fixedmath.One(), lpSupply,
	)
	if err != nil {
		t.Fatalf("add liquidity: %v", err)
	}

	pv1, err := hyperdrive.PresentValue(cfg, s, one, now0)
	if err != nil {
		t.Fatalf("pv1: %v", err)
	}
	if !pv1.Gt(pv0) {
		t.Fatal("present value did not grow")
	}

	want := pv1.Sub(pv0).MulDivDown(lpSupply, pv0)
	assertClose(t, res.LpShares, want, "0.000001")
	// The new LP pays roughly one base per share.
	assertClose(t, res.LpSharePrice, one, "0.01")
}

func TestAddLiquidityRateBand(t *testing.T) {
	cfg := testConfig()
	s, lpSupply := setupPool(t, cfg)

	_, err := hyperdrive.AddLiquidity(
		cfg, s, fixedmath.One(), now0,
		fixedmath.Scaled(1_000), fixedmath.Zero(),
		fixedmath.MustFromDec("0.06"), fixedmath.One(), lpSupply,
	)
	if !errors.Is(err, hyperdrive.ErrRateBand) {
		t.Errorf("got %v", err)
	}
}

func TestAddLiquidityMinLpSharePrice(t *testing.T) {
	cfg := testConfig()
	s, lpSupply := setupPool(t, cfg)

	_, err := hyperdrive.AddLiquidity(
		cfg, s, fixedmath.One(), now0,
		fixedmath.Scaled(1_000), fixedmath.Scaled(2),
		fixedmath.Zero(), fixedmath.One(), lpSupply,
	)
	if !errors.Is(err, hyperdrive.ErrMinLpSharePrice) {
		t.Errorf("got %v", err)
	}
}

func TestAddLiquidityCircuitBreaker(t *testing.T) {
	cfg := testConfig()
	s, lpSupply := setupPool(t, cfg)

	// Plant a previous-interval weighted price far from today's spot.
	prev := s.GetCheckpoint(now0 - day)
	prev.VaultSharePrice = fixedmath.One()
	prev.WeightedSpotPrice = fixedmath.MustFromDec("0.80")
	prev.WeightedSpotPriceTime = now0 - day

	_, err := hyperdrive.AddLiquidity(
		cfg, s, fixedmath.One(), now0,
		fixedmath.Scaled(1_000), fixedmath.Zero(),
		fixedmath.Zero(), fixedmath.One(), lpSupply,
	)
	if !errors.Is(err, hyperdrive.ErrCircuitBreaker) {
		t.Errorf("got %v", err)
	}
}

// ============================================================================
// Test: RemoveLiquidity / RedeemWithdrawalShares
// ============================================================================

func TestRemoveLiquidityWithAmpleIdle(t *testing.T) {
	cfg := testConfig()
	one := fixedmath.One()
	s, lpSupply := setupPool(t, cfg)

	exit := fixedmath.Scaled(1_000)
	res, err := hyperdrive.RemoveLiquidity(
		cfg, s, one, now0,
		exit, fixedmath.MustFromDec("0.99"),
		lpSupply, fixedmath.Zero(), 0,
	)
	if err != nil {
		t.Fatalf("remove liquidity: %v", err)
	}

	// An idle-rich pool pays the exit immediately at one base per share.
	if res.BaseProceeds.Lt(fixedmath.Scaled(999)) {
		t.Errorf("base proceeds %s, want ~1000", res.BaseProceeds)
	}
	if res.WithdrawalSharesRemaining.Gt(fixedmath.MustFromDec("0.01")) {
		t.Errorf("withdrawal shares remaining %s, want ~0", res.WithdrawalSharesRemaining)
	}
	if res.BaseProceeds.Lt(fixedmath.MustFromDec("0.99").MulUp(res.WithdrawalSharesRedeemed)) {
		t.Error("min output per share violated")
	}
}

func TestRedeemWithdrawalSharesClamps(t *testing.T) {
	cfg := testConfig()
	s, _ := setupPool(t, cfg)
	s.WithdrawPool.ReadyToWithdraw = fixedmath.Scaled(100)
	s.WithdrawPool.Proceeds = fixedmath.Scaled(100)

	res, err := hyperdrive.RedeemWithdrawalShares(
		cfg, s, fixedmath.One(), fixedmath.Scaled(250), fixedmath.Zero(),
	)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !res.SharesRedeemed.Eq(fixedmath.Scaled(100)) {
		t.Errorf("redeemed %s, want 100", res.SharesRedeemed)
	}
	if !res.BaseProceeds.Eq(fixedmath.Scaled(100)) {
		t.Errorf("proceeds %s, want 100", res.BaseProceeds)
	}

	// A drained pool returns early with zero proceeds and no error.
	res, err = hyperdrive.RedeemWithdrawalShares(
		cfg, s, fixedmath.One(), fixedmath.Scaled(10), fixedmath.Zero(),
	)
	if err != nil {
		t.Fatalf("redeem empty: %v", err)
	}
	if !res.SharesRedeemed.IsZero() {
		t.Errorf("redeemed %s from empty pool", res.SharesRedeemed)
	}
}

// ============================================================================
// Test: DistributeExcessIdle
// ============================================================================

func TestDistributeExcessIdleHoldsLpPrice(t *testing.T) {
	cfg := testConfig()
	one := fixedmath.One()
	s, lpSupply := setupPool(t, cfg)

	price0, err := hyperdrive.LPSharePrice(cfg, s, one, now0, lpSupply)
	if err != nil {
		t.Fatalf("lp price: %v", err)
	}

	outstanding := fixedmath.Scaled(5_000)
	res, err := hyperdrive.DistributeExcessIdle(cfg, s, one, now0, outstanding, lpSupply, 0)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if res.WithdrawalSharesRedeemed.IsZero() {
		t.Fatal("no idle distributed")
	}
	if res.WithdrawalSharesRedeemed.Gt(outstanding) {
		t.Errorf("redeemed %s exceeds outstanding %s", res.WithdrawalSharesRedeemed, outstanding)
	}

	// Remaining LPs keep the same price per share.
	remaining := lpSupply.Sub(res.WithdrawalSharesRedeemed)
	price1, err := hyperdrive.LPSharePrice(cfg, s, one, now0, remaining)
	if err != nil {
		t.Fatalf("lp price after: %v", err)
	}
	assertClose(t, price1, price0, "0.0001")

	// The withdrawal pool was funded at that same price.
	perShare := res.ShareProceeds.DivDown(res.WithdrawalSharesRedeemed)
	assertClose(t, perShare, price0, "0.0001")
}

func TestDistributeExcessIdleNoopWithoutDemand(t *testing.T) {
	cfg := testConfig()
	one := fixedmath.One()
	s, lpSupply := setupPool(t, cfg)
	z0 := s.ShareReserves

	res, err := hyperdrive.DistributeExcessIdle(cfg, s, one, now0, fixedmath.Zero(), lpSupply, 0)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if !res.ShareProceeds.IsZero() || !s.ShareReserves.Eq(z0) {
		t.Error("distribution without withdrawal shares should be a no-op")
	}
}
