package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hyperdrived/internal/core"
	"hyperdrived/internal/fixedmath"
	"hyperdrived/internal/ledger"
	"hyperdrived/internal/state"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// A snapshot contains the market state, position balances, accrued governance
// fees, sequence counters, recent idempotency keys, and the hash-chain tip.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serializable form of the engine's in-memory state.
type SnapshotData struct {
	PoolID          string             `json:"pool_id"`
	Sequence        int64              `json:"sequence"`
	StateHash       []byte             `json:"state_hash"`
	Market          *state.MarketState `json:"market"`
	Balances        []BalanceSnapshot  `json:"balances"`
	GovernanceFees  string             `json:"governance_fees"`
	SequenceState   map[string]int64   `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys []string           `json:"idempotency_keys"` // Recent keys for LRU warming
	CreatedAt       time.Time          `json:"created_at"`
}

// BalanceSnapshot is one position balance, with the asset flattened to its
// path form and the amount as a decimal string.
type BalanceSnapshot struct {
	Holder    string `json:"holder"`
	AssetPath string `json:"asset_path"`
	Balance   string `json:"balance"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// FromEngineState converts the engine's snapshot into the serializable form.
func FromEngineState(poolID string, snap *core.SnapshotState) *SnapshotData {
	balances := make([]BalanceSnapshot, 0, len(snap.Balances))
	for _, row := range snap.Balances {
		balances = append(balances, BalanceSnapshot{
			Holder:    row.Holder.String(),
			AssetPath: row.Asset.AssetPath(),
			Balance:   row.Balance.String(),
		})
	}
	return &SnapshotData{
		PoolID:          poolID,
		Sequence:        snap.Sequence,
		StateHash:       append([]byte(nil), snap.StateHash[:]...),
		Market:          snap.Market,
		Balances:        balances,
		GovernanceFees:  snap.GovernanceFees.String(),
		SequenceState:   snap.SequenceState,
		IdempotencyKeys: snap.IdempotencyKeys,
		CreatedAt:       time.Now().UTC(),
	}
}

// ToEngineState converts a loaded snapshot back into the engine's form.
func (sd *SnapshotData) ToEngineState() (*core.SnapshotState, error) {
	if len(sd.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot state hash is %d bytes, want 32", len(sd.StateHash))
	}

	balances := make([]ledger.BalanceRow, 0, len(sd.Balances))
	for _, b := range sd.Balances {
		holder, err := uuid.Parse(b.Holder)
		if err != nil {
			return nil, fmt.Errorf("snapshot holder %q: %w", b.Holder, err)
		}
		asset, err := ledger.ParseAssetPath(b.AssetPath)
		if err != nil {
			return nil, fmt.Errorf("snapshot asset %q: %w", b.AssetPath, err)
		}
		balance, err := fixedmath.FromDec(b.Balance)
		if err != nil {
			return nil, fmt.Errorf("snapshot balance %q: %w", b.Balance, err)
		}
		balances = append(balances, ledger.BalanceRow{Holder: holder, Asset: asset, Balance: balance})
	}

	govFees := fixedmath.Zero()
	if sd.GovernanceFees != "" {
		var err error
		govFees, err = fixedmath.FromDec(sd.GovernanceFees)
		if err != nil {
			return nil, fmt.Errorf("snapshot governance fees %q: %w", sd.GovernanceFees, err)
		}
	}

	snap := &core.SnapshotState{
		Sequence:        sd.Sequence,
		Market:          sd.Market,
		Balances:        balances,
		GovernanceFees:  govFees,
		SequenceState:   sd.SequenceState,
		IdempotencyKeys: sd.IdempotencyKeys,
	}
	copy(snap.StateHash[:], sd.StateHash)
	return snap, nil
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically and verified by replaying events from the snapshot sequence
// forward before being trusted for restore.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, pool_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
		ON CONFLICT (pool_id, sequence) DO UPDATE SET data = $4, state_hash = $5, size_bytes = $7
	`, snapshotID, snap.PoolID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return sizeBytes, err
}

// LoadLatestSnapshot loads the most recent verified snapshot for a pool. On
// warm restart the caller restores it then replays events from sequence+1.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context, poolID string) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE pool_id = $1 AND verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`, poolID)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot — cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, poolID string, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE pool_id = $1 AND sequence = $2
	`, poolID, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay, in order.
// Used for warm restart (replay from snapshot) and cold restart (replay all).
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, pool_id, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.PoolID,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty event log
	}
	return seq.Int64, nil
}
