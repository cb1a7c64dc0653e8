package event

import (
	"time"

	"github.com/google/uuid"

	"hyperdrived/internal/fixedmath"
)

// SettlementOptions selects where proceeds go and how amounts are
// denominated.
type SettlementOptions struct {
	Destination uuid.UUID
	AsBase      bool
	ExtraData   []byte
}

// OpenLong is a request to buy bonds with base at the current fixed rate.
// Idempotency key: trade_id (UUID from the upstream gateway).
type OpenLong struct {
	TradeID         uuid.UUID // Idempotency key
	Trader          uuid.UUID
	Pool            string
	BaseAmount      fixedmath.FixedPoint
	MinOutput       fixedmath.FixedPoint // minimum bonds acceptable
	MinVaultPrice   fixedmath.FixedPoint // reject if the vault price slipped below
	VaultSharePrice fixedmath.FixedPoint // observed vault price at submission
	PoolTime        uint64               // versioned pool clock, seconds
	Options         SettlementOptions
	TradeSequence   int64
	Timestamp       time.Time // versioned input timestamp (NOT wall-clock)
}

func (e *OpenLong) IdempotencyKey() string { return e.TradeID.String() }
func (e *OpenLong) EventType() EventType   { return EventTypeOpenLong }
func (e *OpenLong) PoolID() *string        { p := e.Pool; return &p }
func (e *OpenLong) SourceSequence() int64  { return e.TradeSequence }

// CloseLong sells a long position back, identified by its maturity time.
type CloseLong struct {
	TradeID         uuid.UUID
	Trader          uuid.UUID
	Pool            string
	MaturityTime    uint64
	BondAmount      fixedmath.FixedPoint
	MinOutput       fixedmath.FixedPoint // minimum base acceptable
	VaultSharePrice fixedmath.FixedPoint
	PoolTime        uint64
	Options         SettlementOptions
	TradeSequence   int64
	Timestamp       time.Time
}

func (e *CloseLong) IdempotencyKey() string { return e.TradeID.String() }
func (e *CloseLong) EventType() EventType   { return EventTypeCloseLong }
func (e *CloseLong) PoolID() *string        { p := e.Pool; return &p }
func (e *CloseLong) SourceSequence() int64  { return e.TradeSequence }

// OpenShort sells bonds against a margin deposit.
type OpenShort struct {
	TradeID         uuid.UUID
	Trader          uuid.UUID
	Pool            string
	BondAmount      fixedmath.FixedPoint
	MaxDeposit      fixedmath.FixedPoint // reject if the deposit exceeds
	VaultSharePrice fixedmath.FixedPoint
	PoolTime        uint64
	Options         SettlementOptions
	TradeSequence   int64
	Timestamp       time.Time
}

func (e *OpenShort) IdempotencyKey() string { return e.TradeID.String() }
func (e *OpenShort) EventType() EventType   { return EventTypeOpenShort }
func (e *OpenShort) PoolID() *string        { p := e.Pool; return &p }
func (e *OpenShort) SourceSequence() int64  { return e.TradeSequence }

// CloseShort buys back a shorted position, identified by its maturity time.
type CloseShort struct {
	TradeID         uuid.UUID
	Trader          uuid.UUID
	Pool            string
	MaturityTime    uint64
	BondAmount      fixedmath.FixedPoint
	MinOutput       fixedmath.FixedPoint
	VaultSharePrice fixedmath.FixedPoint
	PoolTime        uint64
	Options         SettlementOptions
	TradeSequence   int64
	Timestamp       time.Time
}

func (e *CloseShort) IdempotencyKey() string { return e.TradeID.String() }
func (e *CloseShort) EventType() EventType   { return EventTypeCloseShort }
func (e *CloseShort) PoolID() *string        { p := e.Pool; return &p }
func (e *CloseShort) SourceSequence() int64  { return e.TradeSequence }
