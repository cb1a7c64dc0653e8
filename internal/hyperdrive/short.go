package hyperdrive

import (
	"math/big"

	"hyperdrived/internal/fixedmath"
	"hyperdrived/internal/state"
	"hyperdrived/internal/yieldspace"
)

// OpenShortResult reports the settlement of an opened short.
type OpenShortResult struct {
	MaturityTime  uint64
	BaseDeposit   fixedmath.FixedPoint
	GovernanceFee fixedmath.FixedPoint // in shares
}

// OpenShort sells bondAmount of bonds into the curve. The trader's deposit
// covers the fixed-rate payment plus interest back-paid to the start of the
// checkpoint; negative interest over the term is charged entirely to the
// short.
//
//	D(x) = dy * (c / c0) + phi_f * dy + phi_c * (1 - p) * dy - c * P(x)
func OpenShort(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	now uint64,
	bondAmount fixedmath.FixedPoint,
) (OpenShortResult, error) {
	var res OpenShortResult
	if !s.IsInitialized {
		return res, ErrNotInitialized
	}
	if s.IsPaused {
		return res, ErrPoolPaused
	}
	if bondAmount.Lt(cfg.MinimumTransactionAmount) {
		return res, ErrBelowMinimumTransaction
	}

	checkpointTime := cfg.ToCheckpoint(now)
	openVaultSharePrice := vaultSharePrice
	if chk, ok := s.Checkpoints[checkpointTime]; ok && !chk.VaultSharePrice.IsZero() {
		openVaultSharePrice = chk.VaultSharePrice
	}

	// P(x): the share principal the LPs lend against the short.
	principal, err := yieldspace.SharesOutGivenBondsIn(
		s.EffectiveShareReserves(), s.BondReserves, vaultSharePrice,
		cfg.InitialVaultSharePrice, cfg.TimeStretch, bondAmount,
	)
	if err != nil {
		return res, ErrInsufficientLiquidity
	}

	spotPrice := s.SpotPrice(cfg)
	curveFee := openShortCurveFee(cfg, spotPrice, bondAmount)
	govFee := openShortGovernanceFee(cfg, curveFee)

	// The ordering of additions and subtractions avoids underflows.
	deposit := bondAmount.MulDivDown(vaultSharePrice, openVaultSharePrice).
		Add(cfg.Fees.Flat.MulDown(bondAmount)).
		Add(curveFee)
	principalBase := vaultSharePrice.MulDown(principal)
	if deposit.Lt(principalBase) {
		return res, ErrNegativeInterest
	}
	deposit = deposit.Sub(principalBase)

	// The LP share of the curve fee stays in the share reserves;
	// governance's cut leaves the pool.
	retainedFeeShares := curveFee.Sub(govFee).DivDown(vaultSharePrice)
	govFeeShares := govFee.DivDown(vaultSharePrice)
	outflow := principal.Sub(retainedFeeShares)
	if s.ShareReserves.Lt(outflow) {
		return res, ErrInsufficientLiquidity
	}
	s.ShareReserves = s.ShareReserves.Sub(outflow)
	s.BondReserves = s.BondReserves.Add(bondAmount)

	maturity := checkpointTime + cfg.PositionDuration
	s.ShortsOutstanding = s.ShortsOutstanding.Add(bondAmount)
	s.ShortAverageMaturityTime = updateWeightedAverage(
		s.ShortAverageMaturityTime, s.ShortsOutstanding.Sub(bondAmount),
		fixedmath.Scaled(maturity), bondAmount, true,
	)

	// Shorts net against long exposure in their checkpoint.
	releaseExposure(s, checkpointTime, bondAmount)

	if _, ok := s.Solvency(cfg, vaultSharePrice); !ok {
		return res, ErrInsufficientLiquidity
	}
	if s.EffectiveShareReserves().Lt(cfg.MinimumShareReserves) {
		return res, ErrInvalidShareReserves
	}

	res = OpenShortResult{
		MaturityTime:  maturity,
		BaseDeposit:   deposit,
		GovernanceFee: govFeeShares,
	}
	return res, nil
}

// CloseShortResult reports the settlement of a closed short.
type CloseShortResult struct {
	ShareProceeds fixedmath.FixedPoint
	GovernanceFee fixedmath.FixedPoint
	Matured       bool
}

// CloseShort buys back bondAmount of shorted bonds and pays the trader the
// margin plus accrued variable interest, floored at zero.
func CloseShort(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	now uint64,
	maturityTime uint64,
	bondAmount fixedmath.FixedPoint,
) (CloseShortResult, error) {
	var res CloseShortResult
	if !s.IsInitialized {
		return res, ErrNotInitialized
	}
	if bondAmount.Lt(cfg.MinimumTransactionAmount) {
		return res, ErrBelowMinimumTransaction
	}
	if maturityTime%cfg.CheckpointDuration != 0 {
		return res, ErrInvalidMaturityTime
	}

	openTime := maturityTime - cfg.PositionDuration
	openChk, ok := s.Checkpoints[openTime]
	if !ok || openChk.VaultSharePrice.IsZero() {
		return res, ErrInvalidMaturityTime
	}
	openVaultSharePrice := openChk.VaultSharePrice

	if maturityTime <= now {
		return closeMaturedShort(cfg, s, vaultSharePrice, maturityTime, bondAmount)
	}

	timeRemaining := cfg.NormalizedTimeRemaining(maturityTime, now)
	one := fixedmath.One()

	flat := bondAmount.MulDivDown(one.Sub(timeRemaining), vaultSharePrice)

	var curveShares fixedmath.FixedPoint
	curveBondsOut := bondAmount.MulDown(timeRemaining)
	if !curveBondsOut.IsZero() {
		var err error
		curveShares, err = yieldspace.SharesInGivenBondsOutUp(
			s.EffectiveShareReserves(), s.BondReserves, vaultSharePrice,
			cfg.InitialVaultSharePrice, cfg.TimeStretch, curveBondsOut,
		)
		if err != nil {
			return res, ErrInsufficientLiquidity
		}
	}

	spotPrice := s.SpotPrice(cfg)
	curveFee := closeShortCurveFee(cfg, spotPrice, bondAmount, timeRemaining, vaultSharePrice)
	flatFee := closeShortFlatFee(cfg, bondAmount, timeRemaining, vaultSharePrice)
	retainedFlat, govFlat := governanceCut(cfg, flatFee)
	_, govCurve := governanceCut(cfg, curveFee)
	governanceFee := govCurve.Add(govFlat)

	// The short's total payment into the pool.
	sharePayment := flat.Add(curveShares).Add(curveFee).Add(flatFee)

	proceeds := shortProceeds(
		bondAmount, sharePayment,
		openVaultSharePrice, vaultSharePrice, vaultSharePrice, cfg.Fees.Flat,
	)

	// Reserves keep the payment net of governance's cut; the flat leg
	// moves the share adjustment in lockstep.
	inflow := sharePayment.Sub(governanceFee)
	flatInflow := flat.Add(retainedFlat)
	s.ShareReserves = s.ShareReserves.Add(inflow)
	s.ShareAdjustment = new(big.Int).Add(s.ShareAdjustment, flatInflow.Raw())
	s.BondReserves = s.BondReserves.Sub(curveBondsOut)

	s.ShortsOutstanding = s.ShortsOutstanding.Sub(bondAmount)
	s.ShortAverageMaturityTime = updateWeightedAverage(
		s.ShortAverageMaturityTime, s.ShortsOutstanding.Add(bondAmount),
		fixedmath.Scaled(maturityTime), bondAmount, false,
	)

	// Paying out a closing short re-expands exposure in its checkpoint.
	chk := s.GetCheckpoint(openTime)
	chk.LongExposure = chk.LongExposure.Add(bondAmount)
	s.LongExposure = s.LongExposure.Add(bondAmount)

	if _, ok := s.Solvency(cfg, vaultSharePrice); !ok {
		return res, ErrInsufficientLiquidity
	}
	if s.EffectiveShareReserves().Lt(cfg.MinimumShareReserves) {
		return res, ErrInvalidShareReserves
	}

	res = CloseShortResult{ShareProceeds: proceeds, GovernanceFee: governanceFee}
	return res, nil
}

// closeMaturedShort settles a matured short against the zombie reserves.
func closeMaturedShort(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	maturityTime uint64,
	bondAmount fixedmath.FixedPoint,
) (CloseShortResult, error) {
	var res CloseShortResult

	chk, ok := s.Checkpoints[maturityTime]
	if !ok || chk.VaultSharePrice.IsZero() {
		return res, ErrInvalidCheckpointTime
	}
	openChk := s.Checkpoints[maturityTime-cfg.PositionDuration]
	if openChk == nil || openChk.VaultSharePrice.IsZero() {
		return res, ErrInvalidMaturityTime
	}

	flatFee := bondAmount.MulDivDown(cfg.Fees.Flat, vaultSharePrice)
	_, govFee := governanceCut(cfg, flatFee)

	// At maturity the short's payment is the face value plus the flat fee.
	sharePayment := bondAmount.DivUp(vaultSharePrice).Add(flatFee)
	proceeds := shortProceeds(
		bondAmount, sharePayment,
		openChk.VaultSharePrice, chk.VaultSharePrice, vaultSharePrice, cfg.Fees.Flat,
	)

	// Zombie haircut mirrors the matured-long path.
	if !s.ZombieBaseProceeds.IsZero() {
		zombieValue := s.ZombieShareReserves.MulDown(vaultSharePrice)
		if zombieValue.Lt(s.ZombieBaseProceeds) {
			proceeds = proceeds.MulDivDown(zombieValue, s.ZombieBaseProceeds)
		}
	}

	if s.ZombieShareReserves.Lt(proceeds) {
		proceeds = s.ZombieShareReserves
	}
	s.ZombieShareReserves = s.ZombieShareReserves.Sub(proceeds)
	s.ZombieBaseProceeds = s.ZombieBaseProceeds.SubSat(proceeds.MulDown(vaultSharePrice))

	res = CloseShortResult{ShareProceeds: proceeds, GovernanceFee: govFee, Matured: true}
	return res, nil
}

// shortProceeds computes the payout owed to a closing short:
//
//	proceeds = dy * c1 / (c0 * c) + dy * phi_f / c - dz
//
// floored at zero. c0 is the open checkpoint price, c1 the close price, c
// the current vault share price, and dz the short's share payment.
func shortProceeds(
	bondAmount, sharePayment,
	openSharePrice, closeSharePrice, vaultSharePrice, flatFee fixedmath.FixedPoint,
) fixedmath.FixedPoint {
	// Round the denominator up to avoid overestimating the proceeds.
	bondFactor := bondAmount.MulDivDown(
		closeSharePrice,
		openSharePrice.MulUp(vaultSharePrice),
	)
	bondFactor = bondFactor.Add(bondAmount.MulDivDown(flatFee, vaultSharePrice))

	if bondFactor.Gt(sharePayment) {
		return bondFactor.Sub(sharePayment)
	}
	return fixedmath.Zero()
}
