package hyperdrive

import (
	"math/big"

	"hyperdrived/internal/fixedmath"
	"hyperdrived/internal/state"
	"hyperdrived/internal/yieldspace"
)

// OpenLongResult reports the settlement of an opened long.
type OpenLongResult struct {
	MaturityTime   uint64
	BondProceeds   fixedmath.FixedPoint
	SharePayment   fixedmath.FixedPoint
	GovernanceFee  fixedmath.FixedPoint // in shares
	SpotPriceAfter fixedmath.FixedPoint
}

// maxSpotPrice is the highest spot price longs may push the pool to without
// implying negative interest after fees:
//
//	p_max = (1 - phi_f) / (1 + phi_c * (1/p_0 - 1) * (1 - phi_f))
func maxSpotPrice(cfg *state.PoolConfig, spotPrice fixedmath.FixedPoint) fixedmath.FixedPoint {
	one := fixedmath.One()
	denom := one.Add(
		cfg.Fees.Curve.
			MulUp(one.DivUp(spotPrice).Sub(one)).
			MulUp(one.Sub(cfg.Fees.Flat)),
	)
	return one.Sub(cfg.Fees.Flat).DivDown(denom)
}

// OpenLong deposits baseAmount into the pool and mints a long position
// maturing one position duration after the current checkpoint. The state is
// mutated in place; the caller is responsible for passing a scratch copy and
// committing on success.
func OpenLong(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	now uint64,
	baseAmount fixedmath.FixedPoint,
) (OpenLongResult, error) {
	var res OpenLongResult
	if !s.IsInitialized {
		return res, ErrNotInitialized
	}
	if s.IsPaused {
		return res, ErrPoolPaused
	}
	if baseAmount.Lt(cfg.MinimumTransactionAmount) {
		return res, ErrBelowMinimumTransaction
	}

	sharePayment := baseAmount.DivDown(vaultSharePrice)
	ze := s.EffectiveShareReserves()

	bondsGross := yieldspace.BondsOutGivenSharesIn(
		ze, s.BondReserves, vaultSharePrice,
		cfg.InitialVaultSharePrice, cfg.TimeStretch, sharePayment,
	)

	spotPrice := s.SpotPrice(cfg)
	curveFeeBonds := openLongCurveFee(cfg, spotPrice, baseAmount)
	if bondsGross.Lte(curveFeeBonds) {
		return res, ErrInsufficientLiquidity
	}
	bondProceeds := bondsGross.Sub(curveFeeBonds)
	governanceFeeShares := openLongGovernanceFee(cfg, spotPrice, curveFeeBonds).DivDown(vaultSharePrice)

	// Reject the trade if it would push the spot price past the
	// negative-interest bound. The gross bond amount is used so the fee
	// deduction cannot mask the violation.
	endingSpot := yieldspace.SpotPrice(
		ze.Add(sharePayment), s.BondReserves.Sub(bondsGross),
		cfg.InitialVaultSharePrice, cfg.TimeStretch,
	)
	if endingSpot.Gt(maxSpotPrice(cfg, spotPrice)) {
		return res, ErrNegativeInterest
	}

	maturity := cfg.ToCheckpoint(now) + cfg.PositionDuration

	// Commit reserve deltas. The LP share of the curve fee stays in the
	// bond reserves; governance's cut leaves the share reserves.
	s.ShareReserves = s.ShareReserves.Add(sharePayment).Sub(governanceFeeShares)
	s.BondReserves = s.BondReserves.Sub(bondProceeds)
	s.LongsOutstanding = s.LongsOutstanding.Add(bondProceeds)
	s.LongAverageMaturityTime = updateWeightedAverage(
		s.LongAverageMaturityTime, s.LongsOutstanding.Sub(bondProceeds),
		fixedmath.Scaled(maturity), bondProceeds, true,
	)

	// Longs strictly increase exposure.
	chk := s.GetCheckpoint(cfg.ToCheckpoint(now))
	chk.LongExposure = chk.LongExposure.Add(bondProceeds)
	s.LongExposure = s.LongExposure.Add(bondProceeds)

	if _, ok := s.Solvency(cfg, vaultSharePrice); !ok {
		return res, ErrInsufficientLiquidity
	}
	if s.EffectiveShareReserves().Lt(cfg.MinimumShareReserves) {
		return res, ErrInvalidShareReserves
	}

	res = OpenLongResult{
		MaturityTime:   maturity,
		BondProceeds:   bondProceeds,
		SharePayment:   sharePayment,
		GovernanceFee:  governanceFeeShares,
		SpotPriceAfter: s.SpotPrice(cfg),
	}
	return res, nil
}

// CloseLongResult reports the settlement of a closed long.
type CloseLongResult struct {
	ShareProceeds fixedmath.FixedPoint
	GovernanceFee fixedmath.FixedPoint
	Matured       bool
}

// CloseLong burns a long position and pays out its share proceeds. For
// unmatured positions the trade runs flat + curve through the pricing curve;
// matured positions settle against the zombie reserves.
func CloseLong(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	now uint64,
	maturityTime uint64,
	bondAmount fixedmath.FixedPoint,
) (CloseLongResult, error) {
	var res CloseLongResult
	if !s.IsInitialized {
		return res, ErrNotInitialized
	}
	if bondAmount.Lt(cfg.MinimumTransactionAmount) {
		return res, ErrBelowMinimumTransaction
	}
	if maturityTime%cfg.CheckpointDuration != 0 {
		return res, ErrInvalidMaturityTime
	}

	if maturityTime <= now {
		return closeMaturedLong(cfg, s, vaultSharePrice, maturityTime, bondAmount)
	}

	timeRemaining := cfg.NormalizedTimeRemaining(maturityTime, now)
	one := fixedmath.One()

	flat := bondAmount.MulDivDown(one.Sub(timeRemaining), vaultSharePrice)

	var curveShares fixedmath.FixedPoint
	curveBondsIn := bondAmount.MulDown(timeRemaining)
	if !curveBondsIn.IsZero() {
		var err error
		curveShares, err = yieldspace.SharesOutGivenBondsIn(
			s.EffectiveShareReserves(), s.BondReserves, vaultSharePrice,
			cfg.InitialVaultSharePrice, cfg.TimeStretch, curveBondsIn,
		)
		if err != nil {
			return res, ErrInsufficientLiquidity
		}
	}

	spotPrice := s.SpotPrice(cfg)
	curveFee := closeLongCurveFee(cfg, spotPrice, bondAmount, timeRemaining, vaultSharePrice)
	flatFee := closeLongFlatFee(cfg, bondAmount, timeRemaining, vaultSharePrice)
	retainedFlat, govFlat := governanceCut(cfg, flatFee)
	_, govCurve := governanceCut(cfg, curveFee)
	governanceFee := govCurve.Add(govFlat)

	gross := flat.Add(curveShares)
	fees := curveFee.Add(flatFee)
	if gross.Lt(fees) {
		return res, ErrInsufficientLiquidity
	}
	proceeds := gross.Sub(fees)

	outflow := proceeds.Add(governanceFee)
	if s.ShareReserves.Lt(outflow) {
		return res, ErrInsufficientLiquidity
	}

	// The flat leg moves the share reserves and the share adjustment in
	// lockstep so the curve only sees the curve leg.
	flatOutflow := flat.Sub(retainedFlat)
	s.ShareReserves = s.ShareReserves.Sub(outflow)
	s.ShareAdjustment = new(big.Int).Sub(s.ShareAdjustment, flatOutflow.Raw())
	s.BondReserves = s.BondReserves.Add(curveBondsIn)

	s.LongsOutstanding = s.LongsOutstanding.Sub(bondAmount)
	s.LongAverageMaturityTime = updateWeightedAverage(
		s.LongAverageMaturityTime, s.LongsOutstanding.Add(bondAmount),
		fixedmath.Scaled(maturityTime), bondAmount, false,
	)
	releaseExposure(s, maturityTime-cfg.PositionDuration, bondAmount)

	if _, ok := s.Solvency(cfg, vaultSharePrice); !ok {
		return res, ErrInsufficientLiquidity
	}
	if s.EffectiveShareReserves().Lt(cfg.MinimumShareReserves) {
		return res, ErrInvalidShareReserves
	}

	res = CloseLongResult{ShareProceeds: proceeds, GovernanceFee: governanceFee}
	return res, nil
}

// closeMaturedLong settles a matured long against the zombie reserves. The
// principal was moved there when the maturity checkpoint was minted; here we
// only account for interest accrued (or lost) while the position sat
// unredeemed.
func closeMaturedLong(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	maturityTime uint64,
	bondAmount fixedmath.FixedPoint,
) (CloseLongResult, error) {
	var res CloseLongResult

	chk, ok := s.Checkpoints[maturityTime]
	if !ok || chk.VaultSharePrice.IsZero() {
		return res, ErrInvalidCheckpointTime
	}

	proceeds := maturedLongProceeds(cfg, s, vaultSharePrice, maturityTime, bondAmount)
	flatFee := bondAmount.MulDivDown(cfg.Fees.Flat, vaultSharePrice)
	_, govFee := governanceCut(cfg, flatFee)
	if proceeds.Lt(flatFee) {
		return res, ErrInsufficientLiquidity
	}
	proceeds = proceeds.Sub(flatFee)

	// Redeem out of the zombie reserves; the non-governance part of the
	// flat fee flows back to the share reserves.
	payout := proceeds.Add(flatFee)
	if s.ZombieShareReserves.Lt(payout) {
		payout = s.ZombieShareReserves
		if proceeds.Gt(payout) {
			proceeds = payout
		}
	}
	s.ZombieShareReserves = s.ZombieShareReserves.Sub(payout)
	s.ZombieBaseProceeds = s.ZombieBaseProceeds.SubSat(bondAmount)
	s.ShareReserves = s.ShareReserves.Add(flatFee.Sub(govFee))

	res = CloseLongResult{ShareProceeds: proceeds, GovernanceFee: govFee, Matured: true}
	return res, nil
}

// maturedLongProceeds values a matured long in shares at the current vault
// share price, applying the negative-interest haircut when the vault lost
// value either over the term or while the proceeds sat in the zombie
// reserves. Rounds toward underpayment.
func maturedLongProceeds(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	maturityTime uint64,
	bondAmount fixedmath.FixedPoint,
) fixedmath.FixedPoint {
	openPrice := s.Checkpoints[maturityTime-cfg.PositionDuration]
	closePrice := s.Checkpoints[maturityTime]

	proceeds := bondAmount.DivDown(vaultSharePrice)

	// Term haircut: the long carries vault losses between open and close.
	if openPrice != nil && !openPrice.VaultSharePrice.IsZero() &&
		closePrice.VaultSharePrice.Lt(openPrice.VaultSharePrice) {
		proceeds = proceeds.MulDivDown(closePrice.VaultSharePrice, openPrice.VaultSharePrice)
	}

	// Zombie haircut: losses accrued after maturity are shared pro rata by
	// unredeemed positions.
	if !s.ZombieBaseProceeds.IsZero() {
		zombieValue := s.ZombieShareReserves.MulDown(vaultSharePrice)
		if zombieValue.Lt(s.ZombieBaseProceeds) {
			proceeds = proceeds.MulDivDown(zombieValue, s.ZombieBaseProceeds)
		}
	}
	return proceeds
}

// releaseExposure zeroes up to bondAmount of a checkpoint's exposure and
// mirrors the change in the global exposure.
func releaseExposure(s *state.MarketState, checkpointTime uint64, bondAmount fixedmath.FixedPoint) {
	chk, ok := s.Checkpoints[checkpointTime]
	if !ok {
		return
	}
	delta := fixedmath.Min(chk.LongExposure, bondAmount)
	chk.LongExposure = chk.LongExposure.Sub(delta)
	s.LongExposure = s.LongExposure.SubSat(delta)
}

// updateWeightedAverage maintains a weight-running average such as the
// average maturity time of outstanding positions.
func updateWeightedAverage(
	average, totalWeight, delta, deltaWeight fixedmath.FixedPoint,
	adding bool,
) fixedmath.FixedPoint {
	if deltaWeight.IsZero() {
		return average
	}
	if adding {
		newWeight := totalWeight.Add(deltaWeight)
		num := average.MulDown(totalWeight).Add(delta.MulDown(deltaWeight))
		return num.DivDown(newWeight)
	}
	if totalWeight.Lte(deltaWeight) {
		return fixedmath.Zero()
	}
	newWeight := totalWeight.Sub(deltaWeight)
	num := average.MulUp(totalWeight).SubSat(delta.MulDown(deltaWeight))
	return num.DivDown(newWeight)
}
