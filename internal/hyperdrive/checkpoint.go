package hyperdrive

import (
	"math/big"

	"hyperdrived/internal/fixedmath"
	"hyperdrived/internal/state"
)

// CheckpointContext carries the ledger-derived supplies a checkpoint needs:
// the positions maturing at the checkpoint and the LP supply figures used by
// the idle distribution.
type CheckpointContext struct {
	MaturedLongs                fixedmath.FixedPoint
	MaturedShorts               fixedmath.FixedPoint
	WithdrawalSharesOutstanding fixedmath.FixedPoint
	LpTotalSupply               fixedmath.FixedPoint
	MaxIterations               int
}

// CheckpointResult reports what a checkpoint application did.
type CheckpointResult struct {
	VaultSharePrice fixedmath.FixedPoint
	MaturedLongs    fixedmath.FixedPoint
	MaturedShorts   fixedmath.FixedPoint
	ZombieInterest  fixedmath.FixedPoint // governance's cut excluded
	GovernanceFee   fixedmath.FixedPoint
	LpSharePrice    fixedmath.FixedPoint // zero when the computation failed
	Minted          bool
}

// ApplyCheckpoint mints the checkpoint at checkpointTime. Calling it again
// for a minted checkpoint, or for a future time, returns the known or
// implied price without touching the state. Minting records the vault share
// price (forward-searching past checkpoints' successors when backfilling),
// collects zombie interest, force-closes matured shorts then matured longs
// into the zombie reserves, zeroes the interval's exposure, and finishes
// with a best-effort idle distribution.
func ApplyCheckpoint(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	now uint64,
	checkpointTime uint64,
	ctx CheckpointContext,
) (CheckpointResult, error) {
	var res CheckpointResult
	if !s.IsInitialized {
		return res, ErrNotInitialized
	}
	if checkpointTime%cfg.CheckpointDuration != 0 {
		return res, ErrInvalidCheckpointTime
	}

	if chk, ok := s.Checkpoints[checkpointTime]; ok && !chk.VaultSharePrice.IsZero() {
		res.VaultSharePrice = chk.VaultSharePrice
		return res, nil
	}
	if checkpointTime > now {
		res.VaultSharePrice = vaultSharePrice
		return res, nil
	}

	// Backfilled checkpoints inherit the nearest later price so a missed
	// interval never records a price from after its successors.
	price := vaultSharePrice
	latest := cfg.ToCheckpoint(now)
	for t := checkpointTime + cfg.CheckpointDuration; t <= latest; t += cfg.CheckpointDuration {
		if chk, ok := s.Checkpoints[t]; ok && !chk.VaultSharePrice.IsZero() {
			price = chk.VaultSharePrice
			break
		}
	}

	chk := s.GetCheckpoint(checkpointTime)
	chk.VaultSharePrice = price
	if chk.WeightedSpotPrice.IsZero() {
		chk.WeightedSpotPrice = s.SpotPrice(cfg)
		chk.WeightedSpotPriceTime = checkpointTime
	}

	res.ZombieInterest, res.GovernanceFee = collectZombieInterest(cfg, s, price)

	// Shorts first: their matured face value returns netted liquidity to
	// the reserves before the longs draw theirs out.
	if !ctx.MaturedShorts.IsZero() {
		closeMaturedShortsAt(cfg, s, price, checkpointTime, ctx.MaturedShorts)
		res.MaturedShorts = ctx.MaturedShorts
	}
	if !ctx.MaturedLongs.IsZero() {
		closeMaturedLongsAt(cfg, s, price, checkpointTime, ctx.MaturedLongs)
		res.MaturedLongs = ctx.MaturedLongs
	}

	// The interval's positions are settled, so its exposure contribution
	// is retired wholesale.
	openTime := checkpointTime - cfg.PositionDuration
	if open, ok := s.Checkpoints[openTime]; ok {
		s.LongExposure = s.LongExposure.SubSat(open.LongExposure)
		open.LongExposure = fixedmath.Zero()
	}

	// Idle distribution and the LP price snapshot are best-effort here:
	// checkpoint minting must never be blocked by a present-value failure.
	if _, ok := DistributeExcessIdleSafe(
		cfg, s, price, now,
		ctx.WithdrawalSharesOutstanding, ctx.LpTotalSupply, ctx.MaxIterations,
	); ok {
		if lpPrice, err := LPSharePrice(cfg, s, price, now, ctx.LpTotalSupply); err == nil {
			res.LpSharePrice = lpPrice
		}
	}

	res.VaultSharePrice = price
	res.Minted = true
	return res, nil
}

// collectZombieInterest skims the vault interest earned by matured,
// unredeemed proceeds since the last checkpoint. The zombie reserves are
// reduced to exactly the share cost of the outstanding base proceeds; the
// skim is split between the LPs and governance.
func collectZombieInterest(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
) (lpInterest, governanceFee fixedmath.FixedPoint) {
	if vaultSharePrice.IsZero() || s.ZombieShareReserves.IsZero() {
		return fixedmath.Zero(), fixedmath.Zero()
	}
	backing := s.ZombieBaseProceeds.DivUp(vaultSharePrice)
	if s.ZombieShareReserves.Lte(backing) {
		return fixedmath.Zero(), fixedmath.Zero()
	}
	interest := s.ZombieShareReserves.Sub(backing)
	s.ZombieShareReserves = backing

	governanceFee = cfg.Fees.GovernanceZombie.MulDown(interest)
	lpInterest = interest.Sub(governanceFee)
	s.ShareReserves = s.ShareReserves.Add(lpInterest)
	return lpInterest, governanceFee
}

// closeMaturedShortsAt settles all shorts maturing at checkpointTime: the
// face value flows back into the reserves and the shorts' entitlement moves
// to the zombie reserves for later redemption. Both legs are flat, so the
// share adjustment moves in lockstep.
func closeMaturedShortsAt(
	cfg *state.PoolConfig,
	s *state.MarketState,
	checkpointPrice fixedmath.FixedPoint,
	checkpointTime uint64,
	bondAmount fixedmath.FixedPoint,
) {
	facePayment := bondAmount.DivDown(checkpointPrice)

	proceeds := fixedmath.Zero()
	if open := s.Checkpoints[checkpointTime-cfg.PositionDuration]; open != nil && !open.VaultSharePrice.IsZero() {
		proceeds = shortProceeds(
			bondAmount, facePayment,
			open.VaultSharePrice, checkpointPrice, checkpointPrice, fixedmath.Zero(),
		)
	}

	net := new(big.Int).Sub(facePayment.Raw(), proceeds.Raw())
	s.ShareReserves = fixedmath.New(new(big.Int).Add(s.ShareReserves.Raw(), net))
	s.ShareAdjustment = new(big.Int).Add(s.ShareAdjustment, net)

	s.ZombieShareReserves = s.ZombieShareReserves.Add(proceeds)
	s.ZombieBaseProceeds = s.ZombieBaseProceeds.Add(proceeds.MulDown(checkpointPrice))

	s.ShortsOutstanding = s.ShortsOutstanding.SubSat(bondAmount)
	s.ShortAverageMaturityTime = updateWeightedAverage(
		s.ShortAverageMaturityTime, s.ShortsOutstanding.Add(bondAmount),
		fixedmath.Scaled(checkpointTime), bondAmount, false,
	)
}

// closeMaturedLongsAt settles all longs maturing at checkpointTime: the face
// value, less the negative-interest haircut, moves from the reserves to the
// zombie reserves where the holders redeem it later.
func closeMaturedLongsAt(
	cfg *state.PoolConfig,
	s *state.MarketState,
	checkpointPrice fixedmath.FixedPoint,
	checkpointTime uint64,
	bondAmount fixedmath.FixedPoint,
) {
	proceeds := bondAmount.DivDown(checkpointPrice)
	if open := s.Checkpoints[checkpointTime-cfg.PositionDuration]; open != nil &&
		!open.VaultSharePrice.IsZero() &&
		checkpointPrice.Lt(open.VaultSharePrice) {
		proceeds = proceeds.MulDivDown(checkpointPrice, open.VaultSharePrice)
	}
	if proceeds.Gt(s.ShareReserves) {
		proceeds = s.ShareReserves
	}

	s.ShareReserves = s.ShareReserves.Sub(proceeds)
	s.ShareAdjustment = new(big.Int).Sub(s.ShareAdjustment, proceeds.Raw())

	s.ZombieShareReserves = s.ZombieShareReserves.Add(proceeds)
	s.ZombieBaseProceeds = s.ZombieBaseProceeds.Add(proceeds.MulDown(checkpointPrice))

	s.LongsOutstanding = s.LongsOutstanding.SubSat(bondAmount)
	s.LongAverageMaturityTime = updateWeightedAverage(
		s.LongAverageMaturityTime, s.LongsOutstanding.Add(bondAmount),
		fixedmath.Scaled(checkpointTime), bondAmount, false,
	)
}

// RecordSpotPrice folds the current spot price into the latest checkpoint's
// time-weighted average. Call after every reserve-moving operation.
func RecordSpotPrice(cfg *state.PoolConfig, s *state.MarketState, now uint64) {
	start := cfg.ToCheckpoint(now)
	chk := s.GetCheckpoint(start)
	spot := s.SpotPrice(cfg)

	if chk.WeightedSpotPrice.IsZero() || chk.WeightedSpotPriceTime < start || chk.WeightedSpotPriceTime > now {
		chk.WeightedSpotPrice = spot
		chk.WeightedSpotPriceTime = now
		return
	}
	oldWeight := fixedmath.Scaled(chk.WeightedSpotPriceTime - start)
	newWeight := fixedmath.Scaled(now - chk.WeightedSpotPriceTime)
	if oldWeight.Add(newWeight).IsZero() {
		chk.WeightedSpotPrice = spot
		return
	}
	num := chk.WeightedSpotPrice.MulDown(oldWeight).Add(spot.MulDown(newWeight))
	chk.WeightedSpotPrice = num.DivDown(oldWeight.Add(newWeight))
	chk.WeightedSpotPriceTime = now
}
