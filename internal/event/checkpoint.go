package event

import (
	"time"

	"github.com/google/uuid"

	"hyperdrived/internal/fixedmath"
)

// Checkpoint advances the pool clock and settles matured positions. The
// keeper supplies the observed vault share price for the interval.
type Checkpoint struct {
	RequestID       uuid.UUID // Idempotency key
	Pool            string
	CheckpointTime  uint64 // interval-aligned pool time
	VaultSharePrice fixedmath.FixedPoint
	PoolTime        uint64
	RequestSequence int64
	Timestamp       time.Time
}

func (e *Checkpoint) IdempotencyKey() string { return e.RequestID.String() }
func (e *Checkpoint) EventType() EventType   { return EventTypeCheckpoint }
func (e *Checkpoint) PoolID() *string        { p := e.Pool; return &p }
func (e *Checkpoint) SourceSequence() int64  { return e.RequestSequence }

// PauseSet toggles the pool's pause flag. While paused only closes,
// redemptions and checkpoints are accepted.
type PauseSet struct {
	RequestID       uuid.UUID
	Pool            string
	Paused          bool
	PoolTime        uint64
	RequestSequence int64
	Timestamp       time.Time
}

func (e *PauseSet) IdempotencyKey() string { return e.RequestID.String() }
func (e *PauseSet) EventType() EventType   { return EventTypePauseSet }
func (e *PauseSet) PoolID() *string        { p := e.Pool; return &p }
func (e *PauseSet) SourceSequence() int64  { return e.RequestSequence }
