package event

import (
	"time"

	"github.com/google/uuid"

	"hyperdrived/internal/fixedmath"
)

// Initialize seeds a pool with its first liquidity and target fixed rate.
// Idempotency key: request_id.
type Initialize struct {
	RequestID       uuid.UUID // Idempotency key
	Provider        uuid.UUID
	Pool            string
	Contribution    fixedmath.FixedPoint
	TargetRate      fixedmath.FixedPoint // initial fixed APR
	VaultSharePrice fixedmath.FixedPoint
	PoolTime        uint64
	Options         SettlementOptions
	RequestSequence int64
	Timestamp       time.Time
}

func (e *Initialize) IdempotencyKey() string { return e.RequestID.String() }
func (e *Initialize) EventType() EventType   { return EventTypeInitialize }
func (e *Initialize) PoolID() *string        { p := e.Pool; return &p }
func (e *Initialize) SourceSequence() int64  { return e.RequestSequence }

// AddLiquidity mints LP shares against a contribution.
type AddLiquidity struct {
	RequestID       uuid.UUID
	Provider        uuid.UUID
	Pool            string
	Contribution    fixedmath.FixedPoint
	MinLpSharePrice fixedmath.FixedPoint
	MinRate         fixedmath.FixedPoint // acceptable fixed-rate band
	MaxRate         fixedmath.FixedPoint
	VaultSharePrice fixedmath.FixedPoint
	PoolTime        uint64
	Options         SettlementOptions
	RequestSequence int64
	Timestamp       time.Time
}

func (e *AddLiquidity) IdempotencyKey() string { return e.RequestID.String() }
func (e *AddLiquidity) EventType() EventType   { return EventTypeAddLiquidity }
func (e *AddLiquidity) PoolID() *string        { p := e.Pool; return &p }
func (e *AddLiquidity) SourceSequence() int64  { return e.RequestSequence }

// RemoveLiquidity burns LP shares for proceeds plus withdrawal shares for
// the portion still backing open positions.
type RemoveLiquidity struct {
	RequestID         uuid.UUID
	Provider          uuid.UUID
	Pool              string
	LpShares          fixedmath.FixedPoint
	MinOutputPerShare fixedmath.FixedPoint
	VaultSharePrice   fixedmath.FixedPoint
	PoolTime          uint64
	Options           SettlementOptions
	RequestSequence   int64
	Timestamp         time.Time
}

func (e *RemoveLiquidity) IdempotencyKey() string { return e.RequestID.String() }
func (e *RemoveLiquidity) EventType() EventType   { return EventTypeRemoveLiquidity }
func (e *RemoveLiquidity) PoolID() *string        { p := e.Pool; return &p }
func (e *RemoveLiquidity) SourceSequence() int64  { return e.RequestSequence }

// RedeemWithdrawalShares converts ready-to-withdraw shares into proceeds.
type RedeemWithdrawalShares struct {
	RequestID         uuid.UUID
	Provider          uuid.UUID
	Pool              string
	WithdrawalShares  fixedmath.FixedPoint
	MinOutputPerShare fixedmath.FixedPoint
	VaultSharePrice   fixedmath.FixedPoint
	PoolTime          uint64
	Options           SettlementOptions
	RequestSequence   int64
	Timestamp         time.Time
}

func (e *RedeemWithdrawalShares) IdempotencyKey() string { return e.RequestID.String() }
func (e *RedeemWithdrawalShares) EventType() EventType   { return EventTypeRedeemWithdrawalShares }
func (e *RedeemWithdrawalShares) PoolID() *string        { p := e.Pool; return &p }
func (e *RedeemWithdrawalShares) SourceSequence() int64  { return e.RequestSequence }
