package state

import (
	"math/big"

	"hyperdrived/internal/fixedmath"
	"hyperdrived/internal/yieldspace"
)

// Checkpoint is an interval-aligned snapshot of the vault share price plus
// the interval's aggregate exposure. Created lazily with a zero price; the
// first operation that crosses the boundary fills the price and it is never
// rewritten. LongExposure is the only field mutated afterward: it is zeroed
// when the checkpoint's positions mature.
type Checkpoint struct {
	// VaultSharePrice is the vault exchange rate at interval start; zero
	// means the checkpoint has not been minted yet.
	VaultSharePrice fixedmath.FixedPoint

	// WeightedSpotPrice is the time-weighted average spot price across the
	// interval, used as the sandwich-resistance reference.
	WeightedSpotPrice fixedmath.FixedPoint

	// WeightedSpotPriceTime is the timestamp of the last weighted-price
	// update.
	WeightedSpotPriceTime uint64

	// LongExposure is the checkpoint-local contribution to the global
	// long exposure.
	LongExposure fixedmath.FixedPoint
}

// WithdrawPool accumulates proceeds owed to withdrawal-share holders. It
// grows only through idle distribution and shrinks only through redemption.
type WithdrawPool struct {
	ReadyToWithdraw fixedmath.FixedPoint
	Proceeds        fixedmath.FixedPoint
}

// MarketState is the single mutable record every engine reads and mutates.
// It is owned exclusively by the pool engine; all mutation goes through the
// checkpoint/long/short/LP operations.
type MarketState struct {
	// ShareReserves and ShareAdjustment together define the effective
	// share reserves used by the pricing curve. The adjustment is signed:
	// realized trading profit and loss is folded into it so the curve is
	// not distorted.
	ShareReserves   fixedmath.FixedPoint
	ShareAdjustment *big.Int

	BondReserves fixedmath.FixedPoint

	LongsOutstanding         fixedmath.FixedPoint
	ShortsOutstanding        fixedmath.FixedPoint
	LongAverageMaturityTime  fixedmath.FixedPoint
	ShortAverageMaturityTime fixedmath.FixedPoint

	// LongExposure is the sum over checkpoints of non-netted long
	// notional; it drives the solvency check.
	LongExposure fixedmath.FixedPoint

	// Zombie reserves back matured-but-unredeemed positions.
	ZombieBaseProceeds  fixedmath.FixedPoint
	ZombieShareReserves fixedmath.FixedPoint

	WithdrawPool WithdrawPool

	Checkpoints map[uint64]*Checkpoint

	IsInitialized bool
	IsPaused      bool
}

// NewMarketState returns an empty, uninitialized market state.
func NewMarketState() *MarketState {
	return &MarketState{
		ShareAdjustment: new(big.Int),
		Checkpoints:     make(map[uint64]*Checkpoint),
	}
}

// Clone deep-copies the state. Operations mutate a clone and commit it only
// on success so failures leave no partial effects.
func (s *MarketState) Clone() *MarketState {
	cp := *s
	cp.ShareAdjustment = new(big.Int).Set(s.ShareAdjustment)
	cp.Checkpoints = make(map[uint64]*Checkpoint, len(s.Checkpoints))
	for k, v := range s.Checkpoints {
		c := *v
		cp.Checkpoints[k] = &c
	}
	return &cp
}

// GetCheckpoint returns the checkpoint at an aligned time, materializing an
// empty one if absent.
func (s *MarketState) GetCheckpoint(time uint64) *Checkpoint {
	if c, ok := s.Checkpoints[time]; ok {
		return c
	}
	c := &Checkpoint{}
	s.Checkpoints[time] = c
	return c
}

// EffectiveShareReserves returns shareReserves - shareAdjustment. Panics if
// the result would be negative, which indicates corrupted reserves.
func (s *MarketState) EffectiveShareReserves() fixedmath.FixedPoint {
	ze := new(big.Int).Sub(s.ShareReserves.Raw(), s.ShareAdjustment)
	return fixedmath.New(ze)
}

// Solvency returns shareReserves - longExposure / vaultSharePrice -
// minimumShareReserves, the share-denominated buffer backing open longs.
// The second return is false when the pool is insolvent.
func (s *MarketState) Solvency(cfg *PoolConfig, vaultSharePrice fixedmath.FixedPoint) (fixedmath.FixedPoint, bool) {
	exposureShares := s.LongExposure.DivUp(vaultSharePrice)
	need := exposureShares.Add(cfg.MinimumShareReserves)
	if s.ShareReserves.Lt(need) {
		return fixedmath.Zero(), false
	}
	return s.ShareReserves.Sub(need), true
}

// Idle returns the capital not needed to back long exposure or the reserve
// floor; zero when the pool is insolvent.
func (s *MarketState) Idle(cfg *PoolConfig, vaultSharePrice fixedmath.FixedPoint) fixedmath.FixedPoint {
	idle, ok := s.Solvency(cfg, vaultSharePrice)
	if !ok {
		return fixedmath.Zero()
	}
	return idle
}

// SpotPrice returns the pool's current spot price.
func (s *MarketState) SpotPrice(cfg *PoolConfig) fixedmath.FixedPoint {
	return yieldspace.SpotPrice(
		s.EffectiveShareReserves(), s.BondReserves,
		cfg.InitialVaultSharePrice, cfg.TimeStretch,
	)
}

// SpotRate returns the annualized fixed rate implied by the spot price:
// r = (1 - p) / (p * t) with t the annualized position duration.
func (s *MarketState) SpotRate(cfg *PoolConfig) fixedmath.FixedPoint {
	p := s.SpotPrice(cfg)
	return fixedmath.One().Sub(p).DivDown(p.MulUp(cfg.AnnualizedPositionDuration()))
}

// KUp returns the overestimated YieldSpace invariant for the current state.
func (s *MarketState) KUp(cfg *PoolConfig, vaultSharePrice fixedmath.FixedPoint) fixedmath.FixedPoint {
	return yieldspace.KUp(
		s.EffectiveShareReserves(), s.BondReserves,
		vaultSharePrice, cfg.InitialVaultSharePrice, cfg.TimeStretch,
	)
}

// KDown returns the underestimated YieldSpace invariant for the current state.
func (s *MarketState) KDown(cfg *PoolConfig, vaultSharePrice fixedmath.FixedPoint) fixedmath.FixedPoint {
	return yieldspace.KDown(
		s.EffectiveShareReserves(), s.BondReserves,
		vaultSharePrice, cfg.InitialVaultSharePrice, cfg.TimeStretch,
	)
}
