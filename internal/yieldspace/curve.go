// Package yieldspace implements the stateless bonding-curve math the pool
// trades against. All functions are pure over the tuple (ze, y, c, mu, t):
// effective share reserves, bond reserves, vault share price, initial vault
// share price, and the time-stretch exponent. Rounding directions are part of
// the contract of every function; each call rounds toward the pool.
package yieldspace

import (
	"errors"
	"math/big"

	"hyperdrived/internal/fixedmath"
)

var (
	// ErrInsufficientReserves is returned when a trade would push the
	// reserves past the point the curve can represent.
	ErrInsufficientReserves = errors.New("yieldspace: insufficient reserves for trade")
)

// SpotPrice returns ((mu * ze) / y)^t.
func SpotPrice(ze, y, mu, t fixedmath.FixedPoint) fixedmath.FixedPoint {
	return mu.MulDown(ze).DivDown(y).Pow(t)
}

// KUp computes the invariant k = (c / mu) * (mu * ze)^(1 - t) + y^(1 - t),
// overestimating the result.
func KUp(ze, y, c, mu, t fixedmath.FixedPoint) fixedmath.FixedPoint {
	one := fixedmath.One()
	return c.MulDivUp(mu.MulUp(ze).Pow(one.Sub(t)), mu).Add(y.Pow(one.Sub(t)))
}

// KDown computes the invariant k, underestimating the result.
func KDown(ze, y, c, mu, t fixedmath.FixedPoint) fixedmath.FixedPoint {
	one := fixedmath.One()
	return c.MulDivDown(mu.MulDown(ze).Pow(one.Sub(t)), mu).Add(y.Pow(one.Sub(t)))
}

// powUpBiased raises base to 1/(1-t), picking the exponent rounding that
// makes the result larger.
func powUpBiased(base, t fixedmath.FixedPoint) fixedmath.FixedPoint {
	one := fixedmath.One()
	if base.Gte(one) {
		return base.Pow(one.DivUp(one.Sub(t)))
	}
	return base.Pow(one.DivDown(one.Sub(t)))
}

// powDownBiased raises base to 1/(1-t), picking the exponent rounding that
// makes the result smaller.
func powDownBiased(base, t fixedmath.FixedPoint) fixedmath.FixedPoint {
	one := fixedmath.One()
	if base.Gte(one) {
		return base.Pow(one.DivDown(one.Sub(t)))
	}
	return base.Pow(one.DivUp(one.Sub(t)))
}

// BondsOutGivenSharesIn returns the bonds a trader receives for dz shares.
// The amount out is underestimated.
func BondsOutGivenSharesIn(ze, y, c, mu, t, dz fixedmath.FixedPoint) fixedmath.FixedPoint {
	one := fixedmath.One()

	// Round k up to make the rhs of the equation larger.
	k := KUp(ze, y, c, mu, t)

	// (c / mu) * (mu * (ze + dz))^(1 - t), rounded down.
	newZe := mu.MulDown(ze.Add(dz)).Pow(one.Sub(t))
	newZe = c.MulDivDown(newZe, mu)

	// y' = (k - (c / mu) * (mu * (ze + dz))^(1 - t))^(1 / (1 - t)), rounded up.
	newY := powUpBiased(k.Sub(newZe), t)

	return y.Sub(newY)
}

// SharesInGivenBondsOutUp returns the shares a trader must pay for dy bonds.
// The amount in is overestimated. Fails when the reserves cannot satisfy the
// trade.
func SharesInGivenBondsOutUp(ze, y, c, mu, t, dy fixedmath.FixedPoint) (fixedmath.FixedPoint, error) {
	one := fixedmath.One()

	// Round k up to make the lhs of the equation larger.
	k := KUp(ze, y, c, mu, t)

	if y.Lt(dy) {
		return fixedmath.Zero(), ErrInsufficientReserves
	}
	newY := y.Sub(dy).Pow(one.Sub(t))

	if k.Lt(newY) {
		return fixedmath.Zero(), ErrInsufficientReserves
	}

	// z' = (((k - (y - dy)^(1 - t)) / (c / mu))^(1 / (1 - t))) / mu, rounded up.
	newZ := k.Sub(newY).MulDivUp(mu, c)
	newZ = powUpBiased(newZ, t)
	newZ = newZ.DivUp(mu)

	if newZ.Lt(ze) {
		return fixedmath.Zero(), ErrInsufficientReserves
	}
	return newZ.Sub(ze), nil
}

// SharesInGivenBondsOutDown returns the shares a trader must pay for dy
// bonds, underestimated.
func SharesInGivenBondsOutDown(ze, y, c, mu, t, dy fixedmath.FixedPoint) fixedmath.FixedPoint {
	one := fixedmath.One()

	// Round k down to make the lhs of the equation smaller.
	k := KDown(ze, y, c, mu, t)

	newY := y.Sub(dy).Pow(one.Sub(t))

	// z' rounded down.
	newZe := k.Sub(newY).MulDivDown(mu, c)
	newZe = powDownBiased(newZe, t)
	newZe = newZe.DivDown(mu)

	return newZe.Sub(ze)
}

// SharesOutGivenBondsIn returns the shares a trader receives for selling dy
// bonds into the pool, underestimated. Fails when the implied ending bond
// reserves exceed what the invariant supports; the result clamps at zero
// when rounding would drive it negative.
func SharesOutGivenBondsIn(ze, y, c, mu, t, dy fixedmath.FixedPoint) (fixedmath.FixedPoint, error) {
	one := fixedmath.One()

	// Round k up to make the rhs of the equation larger.
	k := KUp(ze, y, c, mu, t)

	newY := y.Add(dy).Pow(one.Sub(t))
	if k.Lt(newY) {
		return fixedmath.Zero(), ErrInsufficientReserves
	}

	// z' rounded up to make the amount out smaller.
	newZe := k.Sub(newY).MulDivUp(mu, c)
	newZe = powUpBiased(newZe, t)
	newZe = newZe.DivUp(mu)

	if ze.Gt(newZe) {
		return ze.Sub(newZe), nil
	}
	return fixedmath.Zero(), nil
}

// MaxBuySharesIn returns the share payment that buys the maximum amount of
// bonds. A spot price of one implies mu * ze = y, which collapses the
// invariant to k = ((c / mu) + 1) * (mu * ze')^(1 - t).
func MaxBuySharesIn(ze, y, c, mu, t fixedmath.FixedPoint) (fixedmath.FixedPoint, error) {
	one := fixedmath.One()

	k := KDown(ze, y, c, mu, t)
	optimalZe := k.DivDown(c.DivUp(mu).Add(one))
	optimalZe = optimalZe.Pow(one.DivDown(one.Sub(t)))
	optimalZe = optimalZe.DivDown(mu)

	if optimalZe.Gte(ze) {
		return optimalZe.Sub(ze), nil
	}
	return fixedmath.Zero(), ErrInsufficientReserves
}

// MaxBuyBondsOut returns the maximum amount of bonds that can be purchased,
// underestimated.
func MaxBuyBondsOut(ze, y, c, mu, t fixedmath.FixedPoint) (fixedmath.FixedPoint, error) {
	one := fixedmath.One()

	k := KUp(ze, y, c, mu, t)
	optimalY := k.DivUp(c.DivDown(mu).Add(one))
	optimalY = powUpBiased(optimalY, t)

	if y.Gte(optimalY) {
		return y.Sub(optimalY), nil
	}
	return fixedmath.Zero(), ErrInsufficientReserves
}

// MaxSellBondsIn returns the maximum amount of bonds that can be sold before
// the share reserves hit the floor zMin, underestimated. zeta is the signed
// share adjustment: when negative it raises the effective floor.
func MaxSellBondsIn(ze, y, c, mu, t fixedmath.FixedPoint, zeta *big.Int, zMin fixedmath.FixedPoint) (fixedmath.FixedPoint, error) {
	one := fixedmath.One()

	if zeta.Sign() < 0 {
		zMin = zMin.Add(fixedmath.New(new(big.Int).Neg(zeta)))
	}

	// Substituting z = zMin collapses the invariant to
	// k = (c / mu) * (mu * zMin)^(1 - t) + y'^(1 - t).
	k := KDown(ze, y, c, mu, t)
	floorTerm := c.MulDivUp(mu.MulUp(zMin).Pow(one.Sub(t)), mu)
	if k.Lt(floorTerm) {
		return fixedmath.Zero(), ErrInsufficientReserves
	}
	optimalY := powDownBiased(k.Sub(floorTerm), t)

	if optimalY.Gte(y) {
		return optimalY.Sub(y), nil
	}
	return fixedmath.Zero(), ErrInsufficientReserves
}
