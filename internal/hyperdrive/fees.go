package hyperdrive

import (
	"hyperdrived/internal/fixedmath"
	"hyperdrived/internal/state"
)

// openLongCurveFee returns the curve fee paid by longs, in bonds:
// phi_c * (1/p - 1) * x.
func openLongCurveFee(cfg *state.PoolConfig, spotPrice, baseAmount fixedmath.FixedPoint) fixedmath.FixedPoint {
	one := fixedmath.One()
	return cfg.Fees.Curve.MulDown(one.DivDown(spotPrice).Sub(one)).MulDown(baseAmount)
}

// openLongGovernanceFee returns governance's cut of the long curve fee, in
// base: phi_g * p * c(x).
func openLongGovernanceFee(cfg *state.PoolConfig, spotPrice, curveFee fixedmath.FixedPoint) fixedmath.FixedPoint {
	return cfg.Fees.GovernanceLP.MulDown(spotPrice).MulDown(curveFee)
}

// closeLongCurveFee returns the curve fee paid when closing a long, in
// shares: phi_c * (1 - p) * dy * t / c.
func closeLongCurveFee(cfg *state.PoolConfig, spotPrice, bondAmount, timeRemaining, vaultSharePrice fixedmath.FixedPoint) fixedmath.FixedPoint {
	one := fixedmath.One()
	return cfg.Fees.Curve.
		MulDown(one.Sub(spotPrice)).
		MulDown(bondAmount.MulDivDown(timeRemaining, vaultSharePrice))
}

// closeLongFlatFee returns the flat fee paid when closing a long, in shares:
// phi_f * dy * (1 - t) / c.
func closeLongFlatFee(cfg *state.PoolConfig, bondAmount, timeRemaining, vaultSharePrice fixedmath.FixedPoint) fixedmath.FixedPoint {
	one := fixedmath.One()
	return bondAmount.MulDivDown(one.Sub(timeRemaining), vaultSharePrice).MulDown(cfg.Fees.Flat)
}

// openShortCurveFee returns the curve fee paid by shorts, in base:
// phi_c * (1 - p) * dy.
func openShortCurveFee(cfg *state.PoolConfig, spotPrice, bondAmount fixedmath.FixedPoint) fixedmath.FixedPoint {
	one := fixedmath.One()
	return cfg.Fees.Curve.MulDown(one.Sub(spotPrice)).MulDown(bondAmount)
}

// openShortGovernanceFee returns governance's cut of the short curve fee, in
// base.
func openShortGovernanceFee(cfg *state.PoolConfig, curveFee fixedmath.FixedPoint) fixedmath.FixedPoint {
	return cfg.Fees.GovernanceLP.MulDown(curveFee)
}

// closeShortCurveFee returns the curve fee paid when closing a short, in
// shares: phi_c * (1 - p) * dy * t / c.
func closeShortCurveFee(cfg *state.PoolConfig, spotPrice, bondAmount, timeRemaining, vaultSharePrice fixedmath.FixedPoint) fixedmath.FixedPoint {
	one := fixedmath.One()
	return cfg.Fees.Curve.
		MulDown(one.Sub(spotPrice)).
		MulDown(bondAmount.MulDivDown(timeRemaining, vaultSharePrice))
}

// closeShortFlatFee returns the flat fee paid when closing a short, in
// shares: phi_f * dy * (1 - t) / c.
func closeShortFlatFee(cfg *state.PoolConfig, bondAmount, timeRemaining, vaultSharePrice fixedmath.FixedPoint) fixedmath.FixedPoint {
	one := fixedmath.One()
	return bondAmount.MulDivDown(one.Sub(timeRemaining), vaultSharePrice).MulDown(cfg.Fees.Flat)
}

// governanceCut splits a fee into the part retained by the pool and the part
// accrued to governance.
func governanceCut(cfg *state.PoolConfig, fee fixedmath.FixedPoint) (retained, governance fixedmath.FixedPoint) {
	governance = cfg.Fees.GovernanceLP.MulDown(fee)
	retained = fee.Sub(governance)
	return retained, governance
}
