package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeInitialize
	EventTypeAddLiquidity
	EventTypeRemoveLiquidity
	EventTypeRedeemWithdrawalShares
	EventTypeOpenLong
	EventTypeCloseLong
	EventTypeOpenShort
	EventTypeCloseShort
	EventTypeCheckpoint
	EventTypePauseSet
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Pool context (nullable for global events)
	PoolID *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// Upstream sequence for ordering validation
	SourceSequence int64

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// PoolID returns the pool context (nil for global events)
	PoolID() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeInitialize:
		return "Initialize"
	case EventTypeAddLiquidity:
		return "AddLiquidity"
	case EventTypeRemoveLiquidity:
		return "RemoveLiquidity"
	case EventTypeRedeemWithdrawalShares:
		return "RedeemWithdrawalShares"
	case EventTypeOpenLong:
		return "OpenLong"
	case EventTypeCloseLong:
		return "CloseLong"
	case EventTypeOpenShort:
		return "OpenShort"
	case EventTypeCloseShort:
		return "CloseShort"
	case EventTypeCheckpoint:
		return "Checkpoint"
	case EventTypePauseSet:
		return "PauseSet"
	default:
		return "Unknown"
	}
}
