package hyperdrive

import (
	"fmt"
	"math/big"

	"hyperdrived/internal/fixedmath"
	"hyperdrived/internal/state"
	"hyperdrived/internal/yieldspace"
)

// DefaultDistributeIdleIterations bounds the excess-idle bisection.
const DefaultDistributeIdleIterations = 32

// PresentValue returns the pool's value to LPs in shares: the share reserves
// plus the cost of unwinding the net curve and flat positions, less the
// reserve floor. Fails with ErrNegativePresentValue when the book is
// underwater.
func PresentValue(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	now uint64,
) (fixedmath.FixedPoint, error) {
	nct, err := netCurveTrade(cfg, s, vaultSharePrice, now)
	if err != nil {
		return fixedmath.Zero(), err
	}
	pv := new(big.Int).Add(s.ShareReserves.Raw(), nct)
	pv.Add(pv, netFlatTrade(cfg, s, vaultSharePrice, now))
	pv.Sub(pv, cfg.MinimumShareReserves.Raw())
	if pv.Sign() < 0 {
		return fixedmath.Zero(), ErrNegativePresentValue
	}
	return fixedmath.New(pv), nil
}

// netCurveTrade values the bonds the pool will trade through the curve as the
// outstanding books mature, signed in shares: negative when the book is net
// long (the pool owes a sale), positive when net short.
func netCurveTrade(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	now uint64,
) (*big.Int, error) {
	longTime := cfg.NormalizedTimeRemaining(maturityFromAverage(s.LongAverageMaturityTime), now)
	shortTime := cfg.NormalizedTimeRemaining(maturityFromAverage(s.ShortAverageMaturityTime), now)
	longs := s.LongsOutstanding.MulDown(longTime)
	shorts := s.ShortsOutstanding.MulDown(shortTime)
	pos := new(big.Int).Sub(longs.Raw(), shorts.Raw())
	if pos.Sign() == 0 {
		return pos, nil
	}

	ze := s.EffectiveShareReserves()
	mu := cfg.InitialVaultSharePrice
	t := cfg.TimeStretch

	if pos.Sign() > 0 {
		posFP := fixedmath.New(pos)
		maxSell, err := yieldspace.MaxSellBondsIn(
			ze, s.BondReserves, vaultSharePrice, mu, t,
			new(big.Int).Set(s.ShareAdjustment), cfg.MinimumShareReserves,
		)
		if err != nil {
			return nil, err
		}
		if maxSell.Gte(posFP) {
			out, err := yieldspace.SharesOutGivenBondsIn(
				ze, s.BondReserves, vaultSharePrice, mu, t, posFP,
			)
			if err != nil {
				return nil, err
			}
			return new(big.Int).Neg(out.Raw()), nil
		}
		// The curve cannot absorb the whole position; everything above
		// the reserve floor is owed.
		floor := cfg.MinimumShareReserves
		if s.ShareAdjustment.Sign() < 0 {
			floor = floor.Add(fixedmath.New(new(big.Int).Neg(s.ShareAdjustment)))
		}
		return new(big.Int).Neg(ze.SubSat(floor).Raw()), nil
	}

	posFP := fixedmath.New(new(big.Int).Neg(pos))
	maxBonds, err := yieldspace.MaxBuyBondsOut(ze, s.BondReserves, vaultSharePrice, mu, t)
	if err != nil {
		return nil, err
	}
	if maxBonds.Gte(posFP) {
		in, err := yieldspace.SharesInGivenBondsOutUp(
			ze, s.BondReserves, vaultSharePrice, mu, t, posFP,
		)
		if err != nil {
			return nil, err
		}
		return in.Raw(), nil
	}
	// Buy the curve out to par and settle the remainder at face value.
	maxShares, err := yieldspace.MaxBuySharesIn(ze, s.BondReserves, vaultSharePrice, mu, t)
	if err != nil {
		return nil, err
	}
	return maxShares.Add(posFP.Sub(maxBonds).DivDown(vaultSharePrice)).Raw(), nil
}

// netFlatTrade values the flat legs of the outstanding books, signed in
// shares: shorts pay face value in, longs draw it out.
func netFlatTrade(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	now uint64,
) *big.Int {
	one := fixedmath.One()
	longTime := cfg.NormalizedTimeRemaining(maturityFromAverage(s.LongAverageMaturityTime), now)
	shortTime := cfg.NormalizedTimeRemaining(maturityFromAverage(s.ShortAverageMaturityTime), now)
	shortFlat := s.ShortsOutstanding.MulDivDown(one.Sub(shortTime), vaultSharePrice)
	longFlat := s.LongsOutstanding.MulDivDown(one.Sub(longTime), vaultSharePrice)
	return new(big.Int).Sub(shortFlat.Raw(), longFlat.Raw())
}

// maturityFromAverage converts a fixed-point weighted-average maturity back
// to seconds, rounding up so time remaining is never overstated.
func maturityFromAverage(avg fixedmath.FixedPoint) uint64 {
	q, r := new(big.Int).QuoRem(avg.Raw(), fixedmath.One().Raw(), new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Uint64()
}

// LPSharePrice returns the base value backing one LP share, where the supply
// counts active LP shares plus unredeemed withdrawal shares.
func LPSharePrice(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	now uint64,
	lpTotalSupply fixedmath.FixedPoint,
) (fixedmath.FixedPoint, error) {
	if lpTotalSupply.IsZero() {
		return fixedmath.Zero(), nil
	}
	pv, err := PresentValue(cfg, s, vaultSharePrice, now)
	if err != nil {
		return fixedmath.Zero(), err
	}
	return pv.MulDivDown(vaultSharePrice, lpTotalSupply), nil
}

// updateLiquidity rescales the pool around a new share reserve level: the
// share adjustment and bond reserves shrink or grow proportionally so the
// spot price is preserved.
func updateLiquidity(s *state.MarketState, newShareReserves fixedmath.FixedPoint) {
	old := s.ShareReserves
	if old.Eq(newShareReserves) {
		return
	}
	if old.IsZero() {
		s.ShareReserves = newShareReserves
		return
	}
	oldZe := s.EffectiveShareReserves()
	zeta := new(big.Int).Mul(s.ShareAdjustment, newShareReserves.Raw())
	zeta.Quo(zeta, old.Raw())
	s.ShareReserves = newShareReserves
	s.ShareAdjustment = zeta
	if !oldZe.IsZero() {
		s.BondReserves = s.BondReserves.MulDivDown(s.EffectiveShareReserves(), oldZe)
	}
}

// InitializeResult reports the LP shares minted by pool initialization.
type InitializeResult struct {
	LpShares          fixedmath.FixedPoint
	ReserveShares     fixedmath.FixedPoint // burned to the null destination
	ShareContribution fixedmath.FixedPoint
}

// Initialize seeds the reserves from the first contribution and a target
// fixed rate. The bond reserves are chosen so the opening spot price implies
// the target rate:
//
//	y = mu * z * (1 + r * t)^(1 / t_s)
func Initialize(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	now uint64,
	contribution, targetRate fixedmath.FixedPoint,
) (InitializeResult, error) {
	var res InitializeResult
	if s.IsInitialized {
		return res, ErrAlreadyInitialized
	}
	one := fixedmath.One()
	two := fixedmath.Scaled(2)

	shares := contribution.DivDown(vaultSharePrice)
	if shares.Lt(cfg.MinimumShareReserves.MulDown(two)) {
		return res, ErrBelowMinimumContribution
	}

	s.ShareReserves = shares
	s.ShareAdjustment = new(big.Int)
	growth := one.Add(targetRate.MulDown(cfg.AnnualizedPositionDuration()))
	s.BondReserves = cfg.InitialVaultSharePrice.
		MulDown(shares).
		MulDown(growth.Pow(one.DivUp(cfg.TimeStretch)))
	s.IsInitialized = true

	chk := s.GetCheckpoint(cfg.ToCheckpoint(now))
	chk.VaultSharePrice = vaultSharePrice
	chk.WeightedSpotPrice = s.SpotPrice(cfg)
	chk.WeightedSpotPriceTime = now

	// A pool that cannot be traded up to par is misconfigured.
	if !priceDiscoverySolvent(cfg, s, vaultSharePrice) {
		return res, ErrCircuitBreaker
	}

	res = InitializeResult{
		LpShares:          shares.Sub(cfg.MinimumShareReserves.MulDown(two)),
		ReserveShares:     cfg.MinimumShareReserves,
		ShareContribution: shares,
	}
	return res, nil
}

// AddLiquidityResult reports the LP shares minted by a contribution.
type AddLiquidityResult struct {
	LpShares     fixedmath.FixedPoint
	LpSharePrice fixedmath.FixedPoint // base per LP share after the mint
}

// AddLiquidity mints LP shares in proportion to the present value added:
// dl = (PV1 - PV0) * l0 / PV0. The contribution is rejected when the spot
// rate sits outside the caller's band, when it has drifted too far from the
// prior checkpoint's weighted rate, or when the mint would degrade the LP
// share price or the pool's price discovery.
func AddLiquidity(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	now uint64,
	contribution, minLpSharePrice, minRate, maxRate fixedmath.FixedPoint,
	lpTotalSupply fixedmath.FixedPoint,
) (AddLiquidityResult, error) {
	var res AddLiquidityResult
	if !s.IsInitialized {
		return res, ErrNotInitialized
	}
	if s.IsPaused {
		return res, ErrPoolPaused
	}
	if contribution.Lt(cfg.MinimumTransactionAmount) {
		return res, ErrBelowMinimumContribution
	}

	spotRate := s.SpotRate(cfg)
	if spotRate.Lt(minRate) || spotRate.Gt(maxRate) {
		return res, ErrRateBand
	}

	// Anti-sandwich breaker: the rate may not have moved more than the
	// configured delta away from the previous interval's weighted rate.
	if chkTime := cfg.ToCheckpoint(now); chkTime >= cfg.CheckpointDuration {
		if prev, ok := s.Checkpoints[chkTime-cfg.CheckpointDuration]; ok && !prev.WeightedSpotPrice.IsZero() {
			weightedRate := rateFromPrice(cfg, prev.WeightedSpotPrice)
			delta := weightedRate.SubSat(spotRate).Add(spotRate.SubSat(weightedRate))
			if delta.Gt(cfg.CircuitBreakerDelta) {
				return res, ErrCircuitBreaker
			}
		}
	}

	pv0, err := PresentValue(cfg, s, vaultSharePrice, now)
	if err != nil {
		return res, err
	}
	if pv0.IsZero() || lpTotalSupply.IsZero() {
		return res, ErrInsufficientLiquidity
	}
	discovery0 := priceDiscoverySolvent(cfg, s, vaultSharePrice)

	dz := contribution.DivDown(vaultSharePrice)
	updateLiquidity(s, s.ShareReserves.Add(dz))

	pv1, err := PresentValue(cfg, s, vaultSharePrice, now)
	if err != nil {
		return res, err
	}
	if pv1.Lte(pv0) {
		return res, ErrInsufficientLiquidity
	}
	lpShares := pv1.Sub(pv0).MulDivDown(lpTotalSupply, pv0)
	if lpShares.IsZero() {
		return res, ErrInsufficientLiquidity
	}

	lpSharePrice := pv1.MulDivDown(vaultSharePrice, lpTotalSupply.Add(lpShares))
	if lpSharePrice.Lt(minLpSharePrice) {
		return res, ErrMinLpSharePrice
	}
	if discovery0 && !priceDiscoverySolvent(cfg, s, vaultSharePrice) {
		return res, ErrCircuitBreaker
	}

	res = AddLiquidityResult{LpShares: lpShares, LpSharePrice: lpSharePrice}
	return res, nil
}

// rateFromPrice converts a spot price into an annualized fixed rate.
func rateFromPrice(cfg *state.PoolConfig, p fixedmath.FixedPoint) fixedmath.FixedPoint {
	if p.IsZero() {
		return fixedmath.Zero()
	}
	return fixedmath.One().SubSat(p).DivDown(p.MulUp(cfg.AnnualizedPositionDuration()))
}

// RemoveLiquidityResult reports the immediate proceeds of an LP exit and the
// withdrawal shares left queued for later idle.
type RemoveLiquidityResult struct {
	ShareProceeds             fixedmath.FixedPoint
	BaseProceeds              fixedmath.FixedPoint
	WithdrawalSharesRemaining fixedmath.FixedPoint
	WithdrawalSharesRedeemed  fixedmath.FixedPoint
}

// RemoveLiquidity converts lpShares into withdrawal shares one-for-one,
// distributes whatever idle the pool can spare, and immediately redeems as
// much of the exit as that idle covers. The remainder stays queued as
// withdrawal shares. lpTotalSupply counts active LP shares plus unredeemed
// withdrawal shares before the call; withdrawalSharesOutstanding excludes
// the shares already funded in the withdrawal pool.
func RemoveLiquidity(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	now uint64,
	lpShares, minOutputPerShare fixedmath.FixedPoint,
	lpTotalSupply, withdrawalSharesOutstanding fixedmath.FixedPoint,
	maxIter int,
) (RemoveLiquidityResult, error) {
	var res RemoveLiquidityResult
	if !s.IsInitialized {
		return res, ErrNotInitialized
	}
	if lpShares.Lt(cfg.MinimumTransactionAmount) {
		return res, ErrBelowMinimumTransaction
	}

	// The burn and the withdrawal-share mint cancel, so the LP supply is
	// unchanged while the unfunded withdrawal balance grows.
	outstanding := withdrawalSharesOutstanding.Add(lpShares)
	if _, err := DistributeExcessIdle(cfg, s, vaultSharePrice, now, outstanding, lpTotalSupply, maxIter); err != nil {
		return res, err
	}

	redeemed, err := RedeemWithdrawalShares(cfg, s, vaultSharePrice, lpShares, minOutputPerShare)
	if err != nil {
		return res, err
	}
	res = RemoveLiquidityResult{
		ShareProceeds:             redeemed.ShareProceeds,
		BaseProceeds:              redeemed.BaseProceeds,
		WithdrawalSharesRemaining: lpShares.Sub(redeemed.SharesRedeemed),
		WithdrawalSharesRedeemed:  redeemed.SharesRedeemed,
	}
	return res, nil
}

// RedeemResult reports a withdrawal-share redemption.
type RedeemResult struct {
	SharesRedeemed fixedmath.FixedPoint
	ShareProceeds  fixedmath.FixedPoint
	BaseProceeds   fixedmath.FixedPoint
}

// RedeemWithdrawalShares pays out up to shares of the caller's withdrawal
// shares pro-rata against the funded withdrawal pool. The amount clamps
// silently to what is ready; only a zero-available pool returns early.
func RedeemWithdrawalShares(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	shares, minOutputPerShare fixedmath.FixedPoint,
) (RedeemResult, error) {
	var res RedeemResult
	if !s.IsInitialized {
		return res, ErrNotInitialized
	}
	redeemed := fixedmath.Min(shares, s.WithdrawPool.ReadyToWithdraw)
	if redeemed.IsZero() {
		return res, nil
	}
	proceeds := s.WithdrawPool.Proceeds.MulDivDown(redeemed, s.WithdrawPool.ReadyToWithdraw)
	s.WithdrawPool.ReadyToWithdraw = s.WithdrawPool.ReadyToWithdraw.Sub(redeemed)
	s.WithdrawPool.Proceeds = s.WithdrawPool.Proceeds.Sub(proceeds)

	base := proceeds.MulDown(vaultSharePrice)
	if base.Lt(minOutputPerShare.MulUp(redeemed)) {
		return res, ErrOutputLimit
	}
	res = RedeemResult{SharesRedeemed: redeemed, ShareProceeds: proceeds, BaseProceeds: base}
	return res, nil
}

// DistributeIdleResult reports how much idle was moved into the withdrawal
// pool and how many withdrawal shares it funds.
type DistributeIdleResult struct {
	WithdrawalSharesRedeemed fixedmath.FixedPoint
	ShareProceeds            fixedmath.FixedPoint

	// Iterations counts objective evaluations: 1 for the direct path, more
	// when the bisection ran.
	Iterations int
}

// DistributeExcessIdle is the fail-closed variant: any present-value failure
// surfaces as ErrDistributeIdle so trades and liquidity changes abort.
func DistributeExcessIdle(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	now uint64,
	withdrawalSharesOutstanding, lpTotalSupply fixedmath.FixedPoint,
	maxIter int,
) (DistributeIdleResult, error) {
	res, err := distributeExcessIdle(cfg, s, vaultSharePrice, now, withdrawalSharesOutstanding, lpTotalSupply, maxIter)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrDistributeIdle, err)
	}
	return res, nil
}

// DistributeExcessIdleSafe is the fail-open variant used by checkpointing:
// a failure leaves the state untouched and reports ok=false instead of an
// error so checkpoint creation is never blocked.
func DistributeExcessIdleSafe(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	now uint64,
	withdrawalSharesOutstanding, lpTotalSupply fixedmath.FixedPoint,
	maxIter int,
) (DistributeIdleResult, bool) {
	scratch := s.Clone()
	res, err := distributeExcessIdle(cfg, scratch, vaultSharePrice, now, withdrawalSharesOutstanding, lpTotalSupply, maxIter)
	if err != nil {
		return DistributeIdleResult{}, false
	}
	*s = *scratch
	return res, true
}

// distributeExcessIdle pays as much idle as possible into the withdrawal
// pool while holding the LP share price constant. The matching number of
// withdrawal shares for a payout x is w(x) = l0 * (PV0 - PV(x)) / PV0; when
// the full idle would retire more shares than are outstanding, the payout is
// located by a bounded bisection.
func distributeExcessIdle(
	cfg *state.PoolConfig,
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	now uint64,
	withdrawalSharesOutstanding, lpTotalSupply fixedmath.FixedPoint,
	maxIter int,
) (DistributeIdleResult, error) {
	var res DistributeIdleResult
	if maxIter <= 0 {
		maxIter = DefaultDistributeIdleIterations
	}
	idle := s.Idle(cfg, vaultSharePrice)
	if idle.IsZero() || withdrawalSharesOutstanding.IsZero() || lpTotalSupply.IsZero() {
		return res, nil
	}

	pv0, err := PresentValue(cfg, s, vaultSharePrice, now)
	if err != nil {
		return res, err
	}
	if pv0.IsZero() {
		return res, nil
	}

	sharesFor := func(x fixedmath.FixedPoint) (fixedmath.FixedPoint, error) {
		scratch := s.Clone()
		updateLiquidity(scratch, s.ShareReserves.Sub(x))
		pv1, err := PresentValue(cfg, scratch, vaultSharePrice, now)
		if err != nil {
			return fixedmath.Zero(), err
		}
		if pv1.Gte(pv0) {
			return fixedmath.Zero(), nil
		}
		return lpTotalSupply.MulDivDown(pv0.Sub(pv1), pv0), nil
	}

	x := idle
	w, err := sharesFor(x)
	if err != nil {
		return res, err
	}
	iterations := 1
	if w.Gt(withdrawalSharesOutstanding) {
		two := fixedmath.Scaled(2)
		lo := fixedmath.Zero()
		hi := idle
		wLo := fixedmath.Zero()
		for i := 0; i < maxIter; i++ {
			mid := lo.Add(hi).DivDown(two)
			wMid, err := sharesFor(mid)
			if err != nil {
				return res, err
			}
			iterations++
			if wMid.Gt(withdrawalSharesOutstanding) {
				hi = mid
			} else {
				lo, wLo = mid, wMid
			}
		}
		x, w = lo, wLo
	}
	res.Iterations = iterations
	if x.IsZero() || w.IsZero() {
		return res, nil
	}

	updateLiquidity(s, s.ShareReserves.Sub(x))
	s.WithdrawPool.ReadyToWithdraw = s.WithdrawPool.ReadyToWithdraw.Add(w)
	s.WithdrawPool.Proceeds = s.WithdrawPool.Proceeds.Add(x)
	res.WithdrawalSharesRedeemed = w
	res.ShareProceeds = x
	return res, nil
}
