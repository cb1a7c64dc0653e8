package hyperdrive

import (
	"math/big"

	"hyperdrived/internal/fixedmath"
	"hyperdrived/internal/state"
	"hyperdrived/internal/yieldspace"
)

// DefaultMaxIterations bounds the max-long refinement loop. Each iteration
// tightens the estimate; the loop is conservative so a low cap is safe.
const DefaultMaxIterations = 7

// AbsoluteMaxLong returns the largest long the curve itself can absorb: the
// trade that pushes the ending spot price to its fee-adjusted ceiling. The
// result ignores the solvency constraint, so the actual max long may be
// smaller.
func AbsoluteMaxLong(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
) (baseAmount, bondAmount fixedmath.FixedPoint, err error) {
	one := fixedmath.One()
	ze := s.EffectiveShareReserves()
	mu := cfg.InitialVaultSharePrice
	ts := cfg.TimeStretch
	c := vaultSharePrice

	spotPrice := s.SpotPrice(cfg)
	if spotPrice.IsZero() {
		return fixedmath.Zero(), fixedmath.Zero(), ErrInsufficientLiquidity
	}

	// factor = (1 + phi_c * (1/p - 1) * (1 - phi_f)) / (1 - phi_f), the
	// inverse of the highest spot price a long may leave behind.
	flatComplement := one.Sub(cfg.Fees.Flat)
	factor := one.Add(
		cfg.Fees.Curve.
			MulUp(one.DivUp(spotPrice).Sub(one)).
			MulUp(flatComplement),
	).DivUp(flatComplement)

	k := s.KDown(cfg, vaultSharePrice)
	denom := c.DivUp(mu).Add(factor.Pow(one.Sub(ts).DivDown(ts)))
	if denom.IsZero() {
		return fixedmath.Zero(), fixedmath.Zero(), ErrInsufficientLiquidity
	}
	inner := k.DivDown(denom).Pow(one.DivDown(one.Sub(ts)))

	targetZe := inner.DivDown(mu)
	targetY := inner.MulDown(factor.Pow(one.DivDown(ts)))

	if targetZe.Lte(ze) || targetY.Gte(s.BondReserves) {
		// The pool is already at or beyond the price ceiling.
		return fixedmath.Zero(), fixedmath.Zero(), nil
	}

	dz := targetZe.Sub(ze)
	baseAmount = dz.MulDown(c)
	bondsGross := s.BondReserves.Sub(targetY)
	curveFee := openLongCurveFee(cfg, spotPrice, baseAmount)
	bondAmount = bondsGross.SubSat(curveFee)
	return baseAmount, bondAmount, nil
}

// MaxLong returns the largest base amount a long can deposit without breaking
// solvency. When the curve's absolute maximum is already solvent it is
// returned directly; otherwise the boundary is located by a bounded Newton
// iteration with a bisection safeguard. maxIter <= 0 selects
// DefaultMaxIterations.
func MaxLong(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	maxIter int,
) (fixedmath.FixedPoint, error) {
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	absBase, _, err := AbsoluteMaxLong(cfg, s, vaultSharePrice)
	if err != nil {
		return fixedmath.Zero(), err
	}
	if absBase.IsZero() {
		return fixedmath.Zero(), nil
	}
	if sol, ok := solvencyAfterLong(cfg, s, vaultSharePrice, absBase); ok && sol.Sign() >= 0 {
		return absBase, nil
	}

	// Invariant: lo is solvent, hi is not. The zero trade is trivially
	// solvent whenever the pool itself is.
	if _, ok := s.Solvency(cfg, vaultSharePrice); !ok {
		return fixedmath.Zero(), ErrInsufficientLiquidity
	}
	two := fixedmath.Scaled(2)
	lo := fixedmath.Zero()
	hi := absBase
	x := absBase.DivDown(two)

	for i := 0; i < maxIter; i++ {
		sol, ok := solvencyAfterLong(cfg, s, vaultSharePrice, x)
		if ok && sol.Sign() >= 0 {
			lo = x
			step, stepOK := newtonStep(cfg, s, vaultSharePrice, x, sol)
			if stepOK && step.Gt(lo) && step.Lt(hi) {
				x = step
				continue
			}
		} else {
			hi = x
		}
		x = lo.Add(hi).DivDown(two)
	}

	if lo.IsZero() {
		return fixedmath.Zero(), ErrSolverDiverged
	}
	return lo, nil
}

// newtonStep proposes x + solvency / (-dS/dx) using a one-sided numeric
// derivative. The false return means the derivative was unusable and the
// caller should bisect instead.
func newtonStep(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	x fixedmath.FixedPoint,
	sol *big.Int,
) (fixedmath.FixedPoint, bool) {
	h := x.DivDown(fixedmath.Scaled(1_000_000))
	if h.IsZero() {
		return fixedmath.Zero(), false
	}
	bumped, ok := solvencyAfterLong(cfg, s, vaultSharePrice, x.Add(h))
	if !ok || bumped.Cmp(sol) >= 0 {
		return fixedmath.Zero(), false
	}
	// slope = (S(x) - S(x+h)) / h, kept in fixed-point scale.
	slope := new(big.Int).Sub(sol, bumped)
	slope.Mul(slope, fixedmath.One().Raw())
	slope.Quo(slope, h.Raw())
	if slope.Sign() <= 0 {
		return fixedmath.Zero(), false
	}
	step := new(big.Int).Mul(sol, fixedmath.One().Raw())
	step.Quo(step, slope)
	step.Add(step, x.Raw())
	if step.Sign() < 0 {
		return fixedmath.Zero(), false
	}
	return fixedmath.New(step), true
}

// solvencyAfterLong previews a long of baseAmount and returns the signed
// solvency buffer left behind, in shares at fixed-point scale. The second
// return is false when the curve rejects the trade outright.
func solvencyAfterLong(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	baseAmount fixedmath.FixedPoint,
) (*big.Int, bool) {
	dz := baseAmount.DivDown(vaultSharePrice)
	ze := s.EffectiveShareReserves()
	bondsGross := yieldspace.BondsOutGivenSharesIn(
		ze, s.BondReserves, vaultSharePrice,
		cfg.InitialVaultSharePrice, cfg.TimeStretch, dz,
	)
	if bondsGross.IsZero() {
		return nil, false
	}

	spotPrice := s.SpotPrice(cfg)
	curveFee := openLongCurveFee(cfg, spotPrice, baseAmount)
	if bondsGross.Lt(curveFee) {
		return nil, false
	}
	bondProceeds := bondsGross.Sub(curveFee)
	govFee := openLongGovernanceFee(cfg, spotPrice, curveFee)
	govFeeShares := govFee.DivDown(vaultSharePrice)

	newZ := s.ShareReserves.Add(dz).SubSat(govFeeShares)
	exposure := s.LongExposure.Add(bondProceeds)
	need := exposure.DivUp(vaultSharePrice).Add(cfg.MinimumShareReserves)
	return new(big.Int).Sub(newZ.Raw(), need.Raw()), true
}

// priceDiscoverySolvent reports whether the pool can absorb its absolute
// maximum long and remain solvent, i.e. whether the curve can still be
// driven to a spot price of one.
func priceDiscoverySolvent(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
) bool {
	absBase, _, err := AbsoluteMaxLong(cfg, s, vaultSharePrice)
	if err != nil {
		return false
	}
	if absBase.IsZero() {
		return true
	}
	sol, ok := solvencyAfterLong(cfg, s, vaultSharePrice, absBase)
	return ok && sol.Sign() >= 0
}

// AbsoluteMaxShort returns the largest bond amount a short can sell before
// the share reserves hit their floor.
func AbsoluteMaxShort(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
) (fixedmath.FixedPoint, error) {
	zeta := new(big.Int).Set(s.ShareAdjustment)
	return yieldspace.MaxSellBondsIn(
		s.EffectiveShareReserves(), s.BondReserves, vaultSharePrice,
		cfg.InitialVaultSharePrice, cfg.TimeStretch,
		zeta, cfg.MinimumShareReserves,
	)
}
