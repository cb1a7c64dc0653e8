package ledger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"hyperdrived/internal/fixedmath"
)

// PositionBook maintains in-memory position balances and per-asset supplies
type PositionBook struct {
	balances map[HolderKey]fixedmath.FixedPoint
	supplies map[AssetKey]fixedmath.FixedPoint
}

func NewPositionBook() *PositionBook {
	return &PositionBook{
		balances: make(map[HolderKey]fixedmath.FixedPoint),
		supplies: make(map[AssetKey]fixedmath.FixedPoint),
	}
}

// Apply applies a single validated entry to balances and supplies.
func (pb *PositionBook) Apply(e Entry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}

	switch e.Kind {
	case EntryKindMint:
		to := HolderKey{Holder: e.To, Asset: e.Asset}
		pb.balances[to] = pb.balances[to].Add(e.Amount)
		pb.supplies[e.Asset] = pb.supplies[e.Asset].Add(e.Amount)
	case EntryKindBurn:
		from := HolderKey{Holder: e.From, Asset: e.Asset}
		have := pb.balances[from]
		if have.Lt(e.Amount) {
			return fmt.Errorf("burn %s from %s: have %s, need %s",
				e.Asset.AssetPath(), e.From, have, e.Amount)
		}
		pb.setBalance(from, have.Sub(e.Amount))
		if remaining := pb.supplies[e.Asset].Sub(e.Amount); remaining.IsZero() {
			delete(pb.supplies, e.Asset)
		} else {
			pb.supplies[e.Asset] = remaining
		}
	case EntryKindTransfer:
		from := HolderKey{Holder: e.From, Asset: e.Asset}
		have := pb.balances[from]
		if have.Lt(e.Amount) {
			return fmt.Errorf("transfer %s from %s: have %s, need %s",
				e.Asset.AssetPath(), e.From, have, e.Amount)
		}
		to := HolderKey{Holder: e.To, Asset: e.Asset}
		pb.setBalance(from, have.Sub(e.Amount))
		pb.balances[to] = pb.balances[to].Add(e.Amount)
	}
	return nil
}

func (pb *PositionBook) setBalance(key HolderKey, v fixedmath.FixedPoint) {
	if v.IsZero() {
		delete(pb.balances, key)
		return
	}
	pb.balances[key] = v
}

// BalanceOf returns the holder's balance for an asset
func (pb *PositionBook) BalanceOf(holder uuid.UUID, asset AssetKey) fixedmath.FixedPoint {
	return pb.balances[HolderKey{Holder: holder, Asset: asset}]
}

// TotalSupply returns the outstanding supply of an asset
func (pb *PositionBook) TotalSupply(asset AssetKey) fixedmath.FixedPoint {
	return pb.supplies[asset]
}

// Holdings returns every non-zero balance a holder has, sorted by asset
func (pb *PositionBook) Holdings(holder uuid.UUID) []Holding {
	var out []Holding
	for key, balance := range pb.balances {
		if key.Holder == holder {
			out = append(out, Holding{Asset: key.Asset, Balance: balance})
		}
	}
	sort.Slice(out, func(i, j int) bool { return assetLess(out[i].Asset, out[j].Asset) })
	return out
}

type Holding struct {
	Asset   AssetKey
	Balance fixedmath.FixedPoint
}

// BalanceRow is one persisted/hashable balance
type BalanceRow struct {
	Holder  uuid.UUID
	Asset   AssetKey
	Balance fixedmath.FixedPoint
}

// Snapshot returns every balance in deterministic order, for state hashing
// and snapshot persistence.
func (pb *PositionBook) Snapshot() []BalanceRow {
	rows := make([]BalanceRow, 0, len(pb.balances))
	for key, balance := range pb.balances {
		rows = append(rows, BalanceRow{Holder: key.Holder, Asset: key.Asset, Balance: balance})
	}
	sort.Slice(rows, func(i, j int) bool {
		if c := bytes.Compare(rows[i].Holder[:], rows[j].Holder[:]); c != 0 {
			return c < 0
		}
		return assetLess(rows[i].Asset, rows[j].Asset)
	})
	return rows
}

// Restore replaces the book's contents with previously snapshotted rows.
func (pb *PositionBook) Restore(rows []BalanceRow) {
	pb.balances = make(map[HolderKey]fixedmath.FixedPoint, len(rows))
	pb.supplies = make(map[AssetKey]fixedmath.FixedPoint)
	for _, row := range rows {
		if row.Balance.IsZero() {
			continue
		}
		key := HolderKey{Holder: row.Holder, Asset: row.Asset}
		pb.balances[key] = pb.balances[key].Add(row.Balance)
		pb.supplies[row.Asset] = pb.supplies[row.Asset].Add(row.Balance)
	}
}

// Clone returns an independent copy of the book
func (pb *PositionBook) Clone() *PositionBook {
	out := NewPositionBook()
	for k, v := range pb.balances {
		out.balances[k] = v
	}
	for k, v := range pb.supplies {
		out.supplies[k] = v
	}
	return out
}

func assetLess(a, b AssetKey) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.MaturityTime < b.MaturityTime
}
