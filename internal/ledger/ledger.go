package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"hyperdrived/internal/fixedmath"
)

// Ledger tracks who holds which positions. The engine owns one instance and
// mutates it only after the pool math for an event has succeeded, so every
// method that can fail does so before touching state.
type Ledger interface {
	// Mint credits newly created supply to a holder
	Mint(eventRef string, sequence int64, holder uuid.UUID, asset AssetKey, amount fixedmath.FixedPoint, poolTime uint64) error

	// Burn destroys supply held by a holder
	Burn(eventRef string, sequence int64, holder uuid.UUID, asset AssetKey, amount fixedmath.FixedPoint, poolTime uint64) error

	// Transfer moves supply between holders without changing it
	Transfer(eventRef string, sequence int64, from, to uuid.UUID, asset AssetKey, amount fixedmath.FixedPoint, poolTime uint64) error

	BalanceOf(holder uuid.UUID, asset AssetKey) fixedmath.FixedPoint
	TotalSupply(asset AssetKey) fixedmath.FixedPoint
	Holdings(holder uuid.UUID) []Holding

	// DrainJournal returns the entries recorded since the last drain and
	// clears the buffer. The persistence worker is the only consumer.
	DrainJournal() []Entry

	// Snapshot / Restore support crash recovery
	Snapshot() []BalanceRow
	Restore(rows []BalanceRow)

	Clone() Ledger
}

// PositionLedger is the in-memory Ledger used by the core engine
type PositionLedger struct {
	book    *PositionBook
	journal []Entry
}

func NewPositionLedger() *PositionLedger {
	return &PositionLedger{book: NewPositionBook()}
}

var _ Ledger = (*PositionLedger)(nil)

func (pl *PositionLedger) record(e Entry) error {
	if err := pl.book.Apply(e); err != nil {
		return err
	}
	pl.journal = append(pl.journal, e)
	return nil
}

func (pl *PositionLedger) Mint(eventRef string, sequence int64, holder uuid.UUID, asset AssetKey, amount fixedmath.FixedPoint, poolTime uint64) error {
	if amount.IsZero() {
		return nil
	}
	return pl.record(Entry{
		EntryID:  uuid.New(),
		EventRef: eventRef,
		Sequence: sequence,
		Kind:     EntryKindMint,
		Asset:    asset,
		To:       holder,
		Amount:   amount,
		PoolTime: poolTime,
	})
}

func (pl *PositionLedger) Burn(eventRef string, sequence int64, holder uuid.UUID, asset AssetKey, amount fixedmath.FixedPoint, poolTime uint64) error {
	if amount.IsZero() {
		return nil
	}
	err := pl.record(Entry{
		EntryID:  uuid.New(),
		EventRef: eventRef,
		Sequence: sequence,
		Kind:     EntryKindBurn,
		Asset:    asset,
		From:     holder,
		Amount:   amount,
		PoolTime: poolTime,
	})
	if err != nil {
		return fmt.Errorf("burn: %w", err)
	}
	return nil
}

func (pl *PositionLedger) Transfer(eventRef string, sequence int64, from, to uuid.UUID, asset AssetKey, amount fixedmath.FixedPoint, poolTime uint64) error {
	if amount.IsZero() {
		return nil
	}
	err := pl.record(Entry{
		EntryID:  uuid.New(),
		EventRef: eventRef,
		Sequence: sequence,
		Kind:     EntryKindTransfer,
		Asset:    asset,
		From:     from,
		To:       to,
		Amount:   amount,
		PoolTime: poolTime,
	})
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	return nil
}

func (pl *PositionLedger) BalanceOf(holder uuid.UUID, asset AssetKey) fixedmath.FixedPoint {
	return pl.book.BalanceOf(holder, asset)
}

func (pl *PositionLedger) TotalSupply(asset AssetKey) fixedmath.FixedPoint {
	return pl.book.TotalSupply(asset)
}

func (pl *PositionLedger) Holdings(holder uuid.UUID) []Holding {
	return pl.book.Holdings(holder)
}

func (pl *PositionLedger) DrainJournal() []Entry {
	out := pl.journal
	pl.journal = nil
	return out
}

func (pl *PositionLedger) Snapshot() []BalanceRow {
	return pl.book.Snapshot()
}

func (pl *PositionLedger) Restore(rows []BalanceRow) {
	pl.book.Restore(rows)
	pl.journal = nil
}

func (pl *PositionLedger) Clone() Ledger {
	out := NewPositionLedger()
	out.book = pl.book.Clone()
	return out
}
