package hyperdrive_test

import (
	"testing"

	"hyperdrived/internal/fixedmath"
	"hyperdrived/internal/hyperdrive"
)

// ============================================================================
// Test: MaxLong / AbsoluteMaxShort
// ============================================================================

func TestAbsoluteMaxLongReachesPar(t *testing.T) {
	cfg := testConfig()
	one := fixedmath.One()
	s, _ := setupPool(t, cfg)

	absBase, absBonds, err := hyperdrive.AbsoluteMaxLong(cfg, s, one)
	if err != nil {
		t.Fatalf("absolute max long: %v", err)
	}
	if absBase.IsZero() || absBonds.IsZero() {
		t.Fatal("fresh pool should have trading headroom")
	}

	// Spending almost the whole headroom drives the spot price near one.
	scratch := s.Clone()
	res, err := hyperdrive.OpenLong(cfg, scratch, one, now0, absBase.MulDown(fixedmath.MustFromDec("0.999")))
	if err != nil {
		t.Fatalf("open near-max long: %v", err)
	}
	if res.SpotPriceAfter.Lt(fixedmath.MustFromDec("0.995")) {
		t.Errorf("spot price after near-max long: %s", res.SpotPriceAfter)
	}
}

func TestMaxLongOpensCleanly(t *testing.T) {
	cfg := testConfig()
	one := fixedmath.One()
	s, _ := setupPool(t, cfg)

	maxLong, err := hyperdrive.MaxLong(cfg, s, one, 0)
	if err != nil {
		t.Fatalf("max long: %v", err)
	}
	if maxLong.IsZero() {
		t.Fatal("max long is zero on a fresh pool")
	}

	scratch := s.Clone()
	if _, err := hyperdrive.OpenLong(cfg, scratch, one, now0, maxLong.MulDown(fixedmath.MustFromDec("0.99"))); err != nil {
		t.Errorf("open at 99%% of max long: %v", err)
	}

	scratch = s.Clone()
	if _, err := hyperdrive.OpenLong(cfg, scratch, one, now0, maxLong.MulDown(fixedmath.Scaled(2))); err == nil {
		t.Error("open at twice max long accepted")
	}
}

func TestMaxLongShrinksWithExposure(t *testing.T) {
	cfg := testConfig()
	one := fixedmath.One()
	s, _ := setupPool(t, cfg)

	before, err := hyperdrive.MaxLong(cfg, s, one, 0)
	if err != nil {
		t.Fatalf("max long: %v", err)
	}
	if _, err := hyperdrive.OpenLong(cfg, s, one, now0, fixedmath.Scaled(100_000)); err != nil {
		t.Fatalf("open long: %v", err)
	}
	after, err := hyperdrive.MaxLong(cfg, s, one, 0)
	if err != nil {
		t.Fatalf("max long after: %v", err)
	}
	if !after.Lt(before) {
		t.Errorf("max long did not shrink: %s vs %s", after, before)
	}
}

func TestAbsoluteMaxShortBounded(t *testing.T) {
	cfg := testConfig()
	one := fixedmath.One()
	s, _ := setupPool(t, cfg)

	maxShort, err := hyperdrive.AbsoluteMaxShort(cfg, s, one)
	if err != nil {
		t.Fatalf("absolute max short: %v", err)
	}
	if maxShort.IsZero() {
		t.Fatal("fresh pool should allow shorts")
	}
	// The curve can never buy back more bonds than would drain the share
	// reserves to the floor.
	if maxShort.Gt(s.BondReserves) {
		t.Errorf("max short %s exceeds bond reserves %s", maxShort, s.BondReserves)
	}
}
