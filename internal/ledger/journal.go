package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"hyperdrived/internal/fixedmath"
)

// EntryKind represents the purpose of a journal entry
type EntryKind int32

const (
	EntryKindMint EntryKind = iota
	EntryKindBurn
	EntryKindTransfer
)

func (k EntryKind) String() string {
	switch k {
	case EntryKindMint:
		return "mint"
	case EntryKindBurn:
		return "burn"
	case EntryKindTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Entry is a single balanced movement of position supply. Mints credit the
// supply side (From == uuid.Nil) and burns debit it (To == uuid.Nil), so the
// holder total and the tracked supply move in lockstep by construction.
type Entry struct {
	EntryID  uuid.UUID
	EventRef string // Idempotency key of the source event
	Sequence int64  // Global event sequence
	Kind     EntryKind
	Asset    AssetKey
	From     uuid.UUID // uuid.Nil for mints
	To       uuid.UUID // uuid.Nil for burns
	Amount   fixedmath.FixedPoint
	PoolTime uint64
}

// Validate ensures the entry is well-formed before it touches balances.
func (e *Entry) Validate() error {
	if e.Amount.IsZero() {
		return fmt.Errorf("entry %s has zero amount", e.EntryID)
	}
	switch e.Kind {
	case EntryKindMint:
		if e.To == uuid.Nil {
			return fmt.Errorf("mint entry %s has no recipient", e.EntryID)
		}
		if e.From != uuid.Nil {
			return fmt.Errorf("mint entry %s has a source holder", e.EntryID)
		}
	case EntryKindBurn:
		if e.From == uuid.Nil {
			return fmt.Errorf("burn entry %s has no source holder", e.EntryID)
		}
		if e.To != uuid.Nil {
			return fmt.Errorf("burn entry %s has a recipient", e.EntryID)
		}
	case EntryKindTransfer:
		if e.From == uuid.Nil || e.To == uuid.Nil {
			return fmt.Errorf("transfer entry %s is missing a holder", e.EntryID)
		}
		if e.From == e.To {
			return fmt.Errorf("transfer entry %s is a self-transfer", e.EntryID)
		}
	default:
		return fmt.Errorf("entry %s has unknown kind %d", e.EntryID, e.Kind)
	}
	return nil
}
