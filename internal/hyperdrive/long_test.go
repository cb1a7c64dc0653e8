package hyperdrive_test

import (
	"errors"
	"testing"

	"hyperdrived/internal/fixedmath"
	"hyperdrived/internal/hyperdrive"
	"hyperdrived/internal/state"
)

// ============================================================================
// Test: OpenLong
// ============================================================================

func TestOpenLongGuards(t *testing.T) {
	cfg := testConfig()
	one := fixedmath.One()

	s := state.NewMarketState()
	if _, err := hyperdrive.OpenLong(cfg, s, one, now0, fixedmath.Scaled(100)); !errors.Is(err, hyperdrive.ErrNotInitialized) {
		t.Errorf("uninitialized: got %v", err)
	}

	s, _ = setupPool(t, cfg)
	if _, err := hyperdrive.OpenLong(cfg, s, one, now0, fixedmath.MustFromDec("0.0001")); !errors.Is(err, hyperdrive.ErrBelowMinimumTransaction) {
		t.Errorf("dust trade: got %v", err)
	}

	s.IsPaused = true
	if _, err := hyperdrive.OpenLong(cfg, s, one, now0, fixedmath.Scaled(100)); !errors.Is(err, hyperdrive.ErrPoolPaused) {
		t.Errorf("paused: got %v", err)
	}
}

func TestOpenLongEarnsFixedRate(t *testing.T) {
	cfg := testConfig()
	one := fixedmath.One()
	s, _ := setupPool(t, cfg)

	deposit := fixedmath.Scaled(10_000)
	res, err := hyperdrive.OpenLong(cfg, s, one, now0, deposit)
	if err != nil {
		t.Fatalf("open long: %v", err)
	}

	if res.MaturityTime != now0+year {
		t.Errorf("maturity = %d, want %d", res.MaturityTime, now0+year)
	}
	if !res.BondProceeds.Gt(deposit) {
		t.Errorf("bond proceeds %s should exceed deposit %s", res.BondProceeds, deposit)
	}
	// The realized fixed rate sits at the spot rate less slippage.
	rate := res.BondProceeds.Sub(deposit).DivDown(deposit)
	if rate.Lt(fixedmath.MustFromDec("0.045")) || rate.Gt(fixedmath.MustFromDec("0.051")) {
		t.Errorf("implied rate %s outside [0.045, 0.051]", rate)
	}

	if !s.LongsOutstanding.Eq(res.BondProceeds) {
		t.Errorf("longs outstanding %s, want %s", s.LongsOutstanding, res.BondProceeds)
	}
	if !s.LongExposure.Eq(res.BondProceeds) {
		t.Errorf("long exposure %s, want %s", s.LongExposure, res.BondProceeds)
	}
}

func TestOpenLongRejectsNegativeInterest(t *testing.T) {
	cfg := testConfig()
	one := fixedmath.One()
	s, _ := setupPool(t, cfg)

	absBase, _, err := hyperdrive.AbsoluteMaxLong(cfg, s, one)
	if err != nil {
		t.Fatalf("absolute max long: %v", err)
	}
	huge := absBase.MulDown(fixedmath.Scaled(2))
	if _, err := hyperdrive.OpenLong(cfg, s, one, now0, huge); !errors.Is(err, hyperdrive.ErrNegativeInterest) {
		t.Errorf("oversized long: got %v", err)
	}
}

func TestOpenLongChargesFees(t *testing.T) {
	one := fixedmath.One()
	deposit := fixedmath.Scaled(10_000)

	free, _ := setupPool(t, testConfig())
	freeRes, err := hyperdrive.OpenLong(testConfig(), free, one, now0, deposit)
	if err != nil {
		t.Fatalf("fee-free open: %v", err)
	}

	feeCfg := feeConfig()
	paid, _ := setupPool(t, feeCfg)
	paidRes, err := hyperdrive.OpenLong(feeCfg, paid, one, now0, deposit)
	if err != nil {
		t.Fatalf("fee open: %v", err)
	}

	if !paidRes.BondProceeds.Lt(freeRes.BondProceeds) {
		t.Errorf("fees should reduce bond proceeds: %s vs %s", paidRes.BondProceeds, freeRes.BondProceeds)
	}
	if paidRes.GovernanceFee.IsZero() {
		t.Error("governance fee should be nonzero")
	}
}

// ============================================================================
// Test: CloseLong
// ============================================================================

func TestLongRoundTripLosesAtMostRounding(t *testing.T) {
	cfg := testConfig()
	one := fixedmath.One()
	s, _ := setupPool(t, cfg)

	deposit := fixedmath.Scaled(10_000)
	open, err := hyperdrive.OpenLong(cfg, s, one, now0, deposit)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	closed, err := hyperdrive.CloseLong(cfg, s, one, now0, open.MaturityTime, open.BondProceeds)
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	proceeds := closed.ShareProceeds.MulDown(one)
	if proceeds.Gt(deposit.Add(fixedmath.MustFromDec("0.001"))) {
		t.Errorf("round trip profits: %s > %s", proceeds, deposit)
	}
	assertClose(t, proceeds, deposit, "10")

	if !s.LongsOutstanding.IsZero() {
		t.Errorf("longs outstanding %s after full close", s.LongsOutstanding)
	}
	if !s.LongExposure.IsZero() {
		t.Errorf("long exposure %s after full close", s.LongExposure)
	}
}

func TestCloseLongRejectsUnalignedMaturity(t *testing.T) {
	cfg := testConfig()
	s, _ := setupPool(t, cfg)
	_, err := hyperdrive.CloseLong(cfg, s, fixedmath.One(), now0, now0+year+1, fixedmath.Scaled(100))
	if !errors.Is(err, hyperdrive.ErrInvalidMaturityTime) {
		t.Errorf("got %v", err)
	}
}

func TestLongHeldToMaturity(t *testing.T) {
	cfg := testConfig()
	one := fixedmath.One()
	s, lpSupply := setupPool(t, cfg)

	deposit := fixedmath.Scaled(10_000)
	open, err := hyperdrive.OpenLong(cfg, s, one, now0, deposit)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	tm := open.MaturityTime
	chk, err := hyperdrive.ApplyCheckpoint(cfg, s, one, tm, tm, hyperdrive.CheckpointContext{
		MaturedLongs:  open.BondProceeds,
		LpTotalSupply: lpSupply,
	})
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if !chk.Minted {
		t.Fatal("maturity checkpoint not minted")
	}
	if !s.LongExposure.IsZero() {
		t.Errorf("exposure %s after maturation", s.LongExposure)
	}

	closed, err := hyperdrive.CloseLong(cfg, s, one, tm, tm, open.BondProceeds)
	if err != nil {
		t.Fatalf("close matured: %v", err)
	}
	if !closed.Matured {
		t.Error("close should report matured")
	}

	// At a constant vault share price the long redeems at face value, so
	// the realized rate is the fixed rate locked at open.
	baseProceeds := closed.ShareProceeds.MulDown(one)
	assertClose(t, baseProceeds, open.BondProceeds, "1")
	rate := baseProceeds.Sub(deposit).DivDown(deposit)
	if rate.Lt(fixedmath.MustFromDec("0.045")) || rate.Gt(fixedmath.MustFromDec("0.051")) {
		t.Errorf("realized rate %s outside [0.045, 0.051]", rate)
	}
}
