package state

import (
	"errors"
	"fmt"

	"hyperdrived/internal/fixedmath"
)

const secondsPerYear = 365 * 24 * 60 * 60

// Fees is the pool's immutable fee schedule. All entries are 18-decimal
// fractions in [0, 1].
type Fees struct {
	// Curve is charged on the curve leg of a trade, scaled by time remaining.
	Curve fixedmath.FixedPoint
	// Flat is charged on the flat (matured) leg of a trade.
	Flat fixedmath.FixedPoint
	// GovernanceLP is governance's share of LP fees.
	GovernanceLP fixedmath.FixedPoint
	// GovernanceZombie is governance's share of zombie interest.
	GovernanceZombie fixedmath.FixedPoint
}

// PoolConfig holds the immutable parameters of a pool instance.
type PoolConfig struct {
	// BaseAsset and VaultAsset identify the underlying and the
	// yield-bearing asset in the external ledger.
	BaseAsset  string
	VaultAsset string

	// CheckpointDuration and PositionDuration are in seconds.
	// PositionDuration must be a positive integer multiple of
	// CheckpointDuration.
	CheckpointDuration uint64
	PositionDuration   uint64

	// TimeStretch is the YieldSpace time-stretch exponent.
	TimeStretch fixedmath.FixedPoint

	// InitialVaultSharePrice is the vault share price at deployment (mu).
	InitialVaultSharePrice fixedmath.FixedPoint

	// MinimumShareReserves is the reserve floor; the pool never lets the
	// effective share reserves drop below it.
	MinimumShareReserves fixedmath.FixedPoint

	// MinimumTransactionAmount rejects dust trades.
	MinimumTransactionAmount fixedmath.FixedPoint

	// CircuitBreakerDelta bounds how far the spot rate may sit from the
	// previous checkpoint's time-weighted rate when adding liquidity.
	CircuitBreakerDelta fixedmath.FixedPoint

	Fees Fees
}

var (
	errZeroCheckpointDuration = errors.New("state: checkpoint duration must be nonzero")
	errDurationMismatch       = errors.New("state: position duration must be a multiple of checkpoint duration")
	errZeroTimeStretch        = errors.New("state: time stretch must be nonzero")
	errZeroInitialSharePrice  = errors.New("state: initial vault share price must be nonzero")
)

// Validate checks the configuration invariants.
func (c *PoolConfig) Validate() error {
	if c.CheckpointDuration == 0 {
		return errZeroCheckpointDuration
	}
	if c.PositionDuration == 0 || c.PositionDuration%c.CheckpointDuration != 0 {
		return errDurationMismatch
	}
	if c.TimeStretch.IsZero() {
		return errZeroTimeStretch
	}
	if c.InitialVaultSharePrice.IsZero() {
		return errZeroInitialSharePrice
	}
	one := fixedmath.One()
	for name, f := range map[string]fixedmath.FixedPoint{
		"curve":             c.Fees.Curve,
		"flat":              c.Fees.Flat,
		"governance_lp":     c.Fees.GovernanceLP,
		"governance_zombie": c.Fees.GovernanceZombie,
	} {
		if f.Gt(one) {
			return fmt.Errorf("state: %s fee exceeds one", name)
		}
	}
	return nil
}

// ToCheckpoint aligns a timestamp down to its checkpoint boundary.
func (c *PoolConfig) ToCheckpoint(time uint64) uint64 {
	return time - time%c.CheckpointDuration
}

// PositionDurationFixed returns the position duration as a fixed-point
// number of seconds.
func (c *PoolConfig) PositionDurationFixed() fixedmath.FixedPoint {
	return fixedmath.Scaled(c.PositionDuration)
}

// AnnualizedPositionDuration returns the position duration as a fraction of
// a year.
func (c *PoolConfig) AnnualizedPositionDuration() fixedmath.FixedPoint {
	return c.PositionDurationFixed().DivDown(fixedmath.Scaled(secondsPerYear))
}

// NormalizedTimeRemaining returns the fraction of the position duration left
// before maturityTime, measured from the latest checkpoint at or before
// currentTime. Rounds down to underestimate the time remaining.
func (c *PoolConfig) NormalizedTimeRemaining(maturityTime, currentTime uint64) fixedmath.FixedPoint {
	latest := c.ToCheckpoint(currentTime)
	if maturityTime <= latest {
		return fixedmath.Zero()
	}
	return fixedmath.Scaled(maturityTime - latest).DivDown(c.PositionDurationFixed())
}

// TimeStretchForRate derives the time-stretch exponent for a target annual
// rate.
func TimeStretchForRate(rate fixedmath.FixedPoint) fixedmath.FixedPoint {
	scaled := rate.MulDown(fixedmath.Scaled(100))
	timeStretch := fixedmath.MustFromDec("5.24592").DivDown(fixedmath.MustFromDec("0.04665").MulDown(scaled))
	return fixedmath.One().DivDown(timeStretch)
}
