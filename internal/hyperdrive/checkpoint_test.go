package hyperdrive_test

import (
	"errors"
	"testing"

	"hyperdrived/internal/fixedmath"
	"hyperdrived/internal/hyperdrive"
	"hyperdrived/internal/state"
)

// ============================================================================
// Test: ApplyCheckpoint
// ============================================================================

func TestApplyCheckpointIdempotent(t *testing.T) {
	cfg := testConfig()
	s, lpSupply := setupPool(t, cfg)

	ct := now0 + day
	ctx := hyperdrive.CheckpointContext{LpTotalSupply: lpSupply}

	first, err := hyperdrive.ApplyCheckpoint(cfg, s, fixedmath.MustFromDec("1.01"), ct, ct, ctx)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if !first.Minted {
		t.Fatal("checkpoint not minted")
	}

	z := s.ShareReserves
	second, err := hyperdrive.ApplyCheckpoint(cfg, s, fixedmath.MustFromDec("1.99"), ct, ct, ctx)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if second.Minted {
		t.Error("second apply minted again")
	}
	if !second.VaultSharePrice.Eq(first.VaultSharePrice) {
		t.Errorf("price changed: %s vs %s", second.VaultSharePrice, first.VaultSharePrice)
	}
	if !s.ShareReserves.Eq(z) {
		t.Error("second apply mutated reserves")
	}
}

func TestApplyCheckpointFutureIsNoop(t *testing.T) {
	cfg := testConfig()
	s, lpSupply := setupPool(t, cfg)

	future := now0 + 10*day
	res, err := hyperdrive.ApplyCheckpoint(
		cfg, s, fixedmath.One(), now0, future,
		hyperdrive.CheckpointContext{LpTotalSupply: lpSupply},
	)
	if err != nil {
		t.Fatalf("future apply: %v", err)
	}
	if res.Minted {
		t.Error("future checkpoint minted")
	}
	if chk, ok := s.Checkpoints[future]; ok && !chk.VaultSharePrice.IsZero() {
		t.Error("future checkpoint persisted a price")
	}
}

func TestApplyCheckpointRejectsUnaligned(t *testing.T) {
	cfg := testConfig()
	s, _ := setupPool(t, cfg)
	_, err := hyperdrive.ApplyCheckpoint(
		cfg, s, fixedmath.One(), now0, now0+1, hyperdrive.CheckpointContext{},
	)
	if !errors.Is(err, hyperdrive.ErrInvalidCheckpointTime) {
		t.Errorf("got %v", err)
	}
}

func TestApplyCheckpointBackfillInheritsLaterPrice(t *testing.T) {
	cfg := testConfig()
	s, lpSupply := setupPool(t, cfg)
	ctx := hyperdrive.CheckpointContext{LpTotalSupply: lpSupply}

	t1 := now0 + day
	t2 := now0 + 2*day
	now := now0 + 2*day

	if _, err := hyperdrive.ApplyCheckpoint(cfg, s, fixedmath.MustFromDec("1.02"), now, t2, ctx); err != nil {
		t.Fatalf("mint t2: %v", err)
	}
	res, err := hyperdrive.ApplyCheckpoint(cfg, s, fixedmath.MustFromDec("1.05"), now, t1, ctx)
	if err != nil {
		t.Fatalf("backfill t1: %v", err)
	}

	// The missed interval records its successor's price, not the current
	// vault price from after the gap.
	if !res.VaultSharePrice.Eq(fixedmath.MustFromDec("1.02")) {
		t.Errorf("backfilled price %s, want 1.02", res.VaultSharePrice)
	}
	if !s.Checkpoints[t1].VaultSharePrice.Eq(fixedmath.MustFromDec("1.02")) {
		t.Error("backfilled price not persisted")
	}
}

func TestApplyCheckpointCollectsZombieInterest(t *testing.T) {
	cfg := feeConfig()
	s, lpSupply := setupPool(t, cfg)

	// Matured proceeds sitting in the zombie reserves appreciated: 100
	// shares now back only 90 base of obligations.
	s.ZombieShareReserves = fixedmath.Scaled(100)
	s.ZombieBaseProceeds = fixedmath.Scaled(90)
	z0 := s.ShareReserves

	ct := now0 + day
	res, err := hyperdrive.ApplyCheckpoint(
		cfg, s, fixedmath.One(), ct, ct,
		hyperdrive.CheckpointContext{LpTotalSupply: lpSupply},
	)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	// 10 shares of interest, 3% of which is governance's.
	assertClose(t, res.ZombieInterest, fixedmath.MustFromDec("9.7"), "0.0001")
	assertClose(t, res.GovernanceFee, fixedmath.MustFromDec("0.3"), "0.0001")
	if !s.ZombieShareReserves.Eq(fixedmath.Scaled(90)) {
		t.Errorf("zombie shares %s, want 90", s.ZombieShareReserves)
	}
	assertClose(t, s.ShareReserves, z0.Add(fixedmath.MustFromDec("9.7")), "0.0001")
}

func TestApplyCheckpointMaturesPositions(t *testing.T) {
	cfg := testConfig()
	one := fixedmath.One()
	s, lpSupply := setupPool(t, cfg)

	long, err := hyperdrive.OpenLong(cfg, s, one, now0, fixedmath.Scaled(10_000))
	if err != nil {
		t.Fatalf("open long: %v", err)
	}
	short, err := hyperdrive.OpenShort(cfg, s, one, now0, fixedmath.Scaled(4_000))
	if err != nil {
		t.Fatalf("open short: %v", err)
	}
	if short.MaturityTime != long.MaturityTime {
		t.Fatalf("maturities diverge: %d vs %d", short.MaturityTime, long.MaturityTime)
	}

	tm := long.MaturityTime
	res, err := hyperdrive.ApplyCheckpoint(cfg, s, one, tm, tm, hyperdrive.CheckpointContext{
		MaturedLongs:  long.BondProceeds,
		MaturedShorts: fixedmath.Scaled(4_000),
		LpTotalSupply: lpSupply,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if !res.MaturedLongs.Eq(long.BondProceeds) || !res.MaturedShorts.Eq(fixedmath.Scaled(4_000)) {
		t.Error("matured volumes not reported")
	}
	if !s.LongsOutstanding.IsZero() || !s.ShortsOutstanding.IsZero() {
		t.Errorf("books not cleared: longs %s shorts %s", s.LongsOutstanding, s.ShortsOutstanding)
	}
	if !s.LongExposure.IsZero() {
		t.Errorf("exposure %s after maturation", s.LongExposure)
	}
	// The matured longs' face value is escrowed for redemption.
	if s.ZombieShareReserves.Lt(long.BondProceeds.MulDown(fixedmath.MustFromDec("0.99"))) {
		t.Errorf("zombie reserves %s too small for matured longs %s", s.ZombieShareReserves, long.BondProceeds)
	}
}

func TestRecordSpotPriceWeightsByTime(t *testing.T) {
	cfg := testConfig()
	s, _ := setupPool(t, cfg)

	start := s.SpotPrice(cfg)

	// The first record in an interval carries full weight.
	hyperdrive.RecordSpotPrice(cfg, s, now0+day/4)
	if got := s.GetCheckpoint(now0).WeightedSpotPrice; !got.Eq(start) {
		t.Fatalf("first record: got %s, want %s", got, start)
	}

	// Move the curve, then fold the new spot into the average later in the
	// interval. The average must land strictly between old and new.
	if _, err := hyperdrive.OpenLong(cfg, s, fixedmath.One(), now0+day/4, fixedmath.Scaled(200_000)); err != nil {
		t.Fatalf("open long: %v", err)
	}
	spot := s.SpotPrice(cfg)
	if !spot.Gt(start) {
		t.Fatal("long did not raise spot price")
	}

	hyperdrive.RecordSpotPrice(cfg, s, now0+day/2)
	avg := s.GetCheckpoint(now0).WeightedSpotPrice
	if !avg.Gt(start) || !avg.Lt(spot) {
		t.Errorf("weighted price %s not between %s and %s", avg, start, spot)
	}
}

func TestApplyCheckpointRequiresInitialization(t *testing.T) {
	cfg := testConfig()
	s := state.NewMarketState()
	_, err := hyperdrive.ApplyCheckpoint(cfg, s, fixedmath.One(), now0, now0, hyperdrive.CheckpointContext{})
	if !errors.Is(err, hyperdrive.ErrNotInitialized) {
		t.Errorf("got %v", err)
	}
}
