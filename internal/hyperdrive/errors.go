package hyperdrive

import "errors"

// Error taxonomy. Every guard failure aborts the whole operation with no
// partial state change; none are retried internally.
var (
	// Input validation.
	ErrBelowMinimumTransaction  = errors.New("hyperdrive: amount below minimum transaction size")
	ErrBelowMinimumContribution = errors.New("hyperdrive: contribution below minimum")
	ErrInvalidCheckpointTime    = errors.New("hyperdrive: checkpoint time not aligned or in the future")
	ErrInvalidMaturityTime      = errors.New("hyperdrive: invalid maturity time")
	ErrAlreadyInitialized       = errors.New("hyperdrive: pool already initialized")
	ErrNotInitialized           = errors.New("hyperdrive: pool not initialized")
	ErrPoolPaused               = errors.New("hyperdrive: pool is paused")

	// Economic guards.
	ErrOutputLimit      = errors.New("hyperdrive: output below caller limit")
	ErrMinRate          = errors.New("hyperdrive: realized rate below caller minimum")
	ErrRateBand         = errors.New("hyperdrive: spot rate outside caller bounds")
	ErrNegativeInterest = errors.New("hyperdrive: trade would imply negative interest")
	ErrCircuitBreaker   = errors.New("hyperdrive: circuit breaker tripped")
	ErrMinLpSharePrice  = errors.New("hyperdrive: lp share price below caller minimum")

	// Invariant violations.
	ErrInsufficientLiquidity = errors.New("hyperdrive: insufficient liquidity")
	ErrInvalidShareReserves  = errors.New("hyperdrive: share reserves below reserve floor")
	ErrNegativePresentValue  = errors.New("hyperdrive: negative present value")

	// Solver failures.
	ErrSolverDiverged = errors.New("hyperdrive: solver failed to converge")
	ErrDistributeIdle = errors.New("hyperdrive: excess idle distribution failed")
)
