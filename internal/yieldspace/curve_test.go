package yieldspace

import (
	"math/big"
	"testing"

	"hyperdrived/internal/fixedmath"
)

// A pool shaped like a freshly seeded 5%-ish market with a one-year
// duration: c = mu = 1, time stretch ~0.0445.
func testReserves() (ze, y, c, mu, t fixedmath.FixedPoint) {
	ze = fixedmath.Scaled(500_000)
	y = fixedmath.Scaled(1_000_000)
	c = fixedmath.One()
	mu = fixedmath.One()
	t = fixedmath.MustFromDec("0.044465786058823529")
	return
}

func TestSpotPriceBelowOne(t *testing.T) {
	ze, y, _, mu, ts := testReserves()
	p := SpotPrice(ze, y, mu, ts)
	if p.Gte(fixedmath.One()) {
		t.Fatalf("spot price %s should be below one when mu*ze < y", p)
	}
	if p.Lt(fixedmath.MustFromDec("0.9")) {
		t.Fatalf("spot price %s implausibly low for these reserves", p)
	}
}

func TestKUpDominatesKDown(t *testing.T) {
	ze, y, c, mu, ts := testReserves()
	up := KUp(ze, y, c, mu, ts)
	down := KDown(ze, y, c, mu, ts)
	if up.Lt(down) {
		t.Fatalf("k_up %s < k_down %s", up, down)
	}
	// The two estimates should be within a few wei of each other.
	if up.Sub(down).Gt(fixedmath.FromUint64(1_000_000)) {
		t.Fatalf("k estimates too far apart: %s vs %s", up, down)
	}
}

func TestBondsOutPreservesInvariant(t *testing.T) {
	ze, y, c, mu, ts := testReserves()
	dz := fixedmath.Scaled(1_000)

	k0 := KDown(ze, y, c, mu, ts)
	dy := BondsOutGivenSharesIn(ze, y, c, mu, ts, dz)
	k1 := KDown(ze.Add(dz), y.Sub(dy), c, mu, ts)

	// The trade rounds against the trader, so k may only grow, and only
	// by rounding dust.
	if k1.Lt(k0) {
		t.Fatalf("invariant decreased: k0=%s k1=%s", k0, k1)
	}
	if k1.Sub(k0).Gt(fixedmath.MustFromDec("0.001")) {
		t.Fatalf("invariant drifted: k0=%s k1=%s", k0, k1)
	}
}

func TestBondsOutExceedsSharesInValue(t *testing.T) {
	// With spot price < 1, a share buys more than one bond.
	ze, y, c, mu, ts := testReserves()
	dz := fixedmath.Scaled(1_000)
	dy := BondsOutGivenSharesIn(ze, y, c, mu, ts, dz)
	if dy.Lte(dz) {
		t.Fatalf("bonds out %s should exceed shares in %s at sub-par price", dy, dz)
	}
}

func TestSharesInRoundTrip(t *testing.T) {
	ze, y, c, mu, ts := testReserves()
	dz := fixedmath.Scaled(1_000)

	dy := BondsOutGivenSharesIn(ze, y, c, mu, ts, dz)
	dzUp, err := SharesInGivenBondsOutUp(ze, y, c, mu, ts, dy)
	if err != nil {
		t.Fatalf("SharesInGivenBondsOutUp: %v", err)
	}
	dzDown := SharesInGivenBondsOutDown(ze, y, c, mu, ts, dy)

	if dzUp.Lt(dzDown) {
		t.Fatalf("up estimate %s below down estimate %s", dzUp, dzDown)
	}
	// Buying back the underestimated bond amount can cost at most the
	// original share payment plus rounding dust.
	tol := fixedmath.MustFromDec("0.000001")
	if dzUp.Gt(dz.Add(tol)) {
		t.Fatalf("round trip lost value: paid %s to recover %s bonds from %s shares", dzUp, dy, dz)
	}
}

func TestSharesInGivenBondsOutUpFailsOnDrainedBonds(t *testing.T) {
	ze, y, c, mu, ts := testReserves()
	if _, err := SharesInGivenBondsOutUp(ze, y, c, mu, ts, y.Add(fixedmath.One())); err == nil {
		t.Fatal("expected failure when requesting more bonds than the reserves hold")
	}
}

func TestSharesOutGivenBondsIn(t *testing.T) {
	ze, y, c, mu, ts := testReserves()
	dy := fixedmath.Scaled(1_000)

	dz, err := SharesOutGivenBondsIn(ze, y, c, mu, ts, dy)
	if err != nil {
		t.Fatalf("SharesOutGivenBondsIn: %v", err)
	}
	// Selling bonds below par must return fewer shares than bonds.
	if dz.Gte(dy) {
		t.Fatalf("shares out %s should be below bonds in %s at sub-par price", dz, dy)
	}
	if dz.IsZero() {
		t.Fatal("shares out should be nonzero for a reasonable trade")
	}
}

func TestMaxBuyDrivesPriceToPar(t *testing.T) {
	ze, y, c, mu, ts := testReserves()

	dz, err := MaxBuySharesIn(ze, y, c, mu, ts)
	if err != nil {
		t.Fatalf("MaxBuySharesIn: %v", err)
	}
	dy := BondsOutGivenSharesIn(ze, y, c, mu, ts, dz)

	p := SpotPrice(ze.Add(dz), y.Sub(dy), mu, ts)
	if p.Lt(fixedmath.MustFromDec("0.999999")) || p.Gt(fixedmath.MustFromDec("1.000001")) {
		t.Fatalf("spot price after max buy = %s, want ~1", p)
	}
}

func TestMaxBuyBondsOutConsistent(t *testing.T) {
	ze, y, c, mu, ts := testReserves()

	dzMax, err := MaxBuySharesIn(ze, y, c, mu, ts)
	if err != nil {
		t.Fatalf("MaxBuySharesIn: %v", err)
	}
	dyMax, err := MaxBuyBondsOut(ze, y, c, mu, ts)
	if err != nil {
		t.Fatalf("MaxBuyBondsOut: %v", err)
	}
	dy := BondsOutGivenSharesIn(ze, y, c, mu, ts, dzMax)

	// The standalone bond bound and the bonds bought by the max share
	// payment agree up to rounding.
	var diff fixedmath.FixedPoint
	if dy.Gte(dyMax) {
		diff = dy.Sub(dyMax)
	} else {
		diff = dyMax.Sub(dy)
	}
	if diff.Gt(fixedmath.MustFromDec("0.01")) {
		t.Fatalf("max bonds out %s and realized %s disagree", dyMax, dy)
	}
}

func TestMaxSellRespectsFloor(t *testing.T) {
	ze, y, c, mu, ts := testReserves()
	zMin := fixedmath.Scaled(10)

	dy, err := MaxSellBondsIn(ze, y, c, mu, ts, big.NewInt(0), zMin)
	if err != nil {
		t.Fatalf("MaxSellBondsIn: %v", err)
	}
	dz, err := SharesOutGivenBondsIn(ze, y, c, mu, ts, dy)
	if err != nil {
		t.Fatalf("SharesOutGivenBondsIn: %v", err)
	}
	remaining := ze.Sub(dz)
	if remaining.Lt(zMin) {
		t.Fatalf("max sell drained reserves below floor: %s < %s", remaining, zMin)
	}
}

func TestMaxSellNegativeAdjustmentRaisesFloor(t *testing.T) {
	ze, y, c, mu, ts := testReserves()
	zMin := fixedmath.Scaled(10)

	dyZero, err := MaxSellBondsIn(ze, y, c, mu, ts, big.NewInt(0), zMin)
	if err != nil {
		t.Fatalf("MaxSellBondsIn: %v", err)
	}

	negAdj := new(big.Int).Neg(fixedmath.Scaled(100).Raw())
	dyNeg, err := MaxSellBondsIn(ze, y, c, mu, ts, negAdj, zMin)
	if err != nil {
		t.Fatalf("MaxSellBondsIn with negative adjustment: %v", err)
	}

	if dyNeg.Gte(dyZero) {
		t.Fatalf("negative share adjustment should shrink the max sell: %s >= %s", dyNeg, dyZero)
	}
}
