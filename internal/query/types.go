package query

import (
	"time"

	"github.com/google/uuid"
)

// PoolStateResponse is the live pool state served by the query API. Values
// come from the in-memory engine; AsOfSequence is the last applied core
// sequence and ProjectionSequence is how far the durable projections have
// caught up.
type PoolStateResponse struct {
	PoolID string `json:"pool_id"`

	ShareReserves       string `json:"share_reserves"`
	ShareAdjustment     string `json:"share_adjustment"`
	BondReserves        string `json:"bond_reserves"`
	LongsOutstanding    string `json:"longs_outstanding"`
	ShortsOutstanding   string `json:"shorts_outstanding"`
	LongExposure        string `json:"long_exposure"`
	ZombieShareReserves string `json:"zombie_share_reserves"`
	WithdrawalReady     string `json:"withdrawal_ready"`
	WithdrawalProceeds  string `json:"withdrawal_proceeds"`

	SpotPrice      string `json:"spot_price"`
	SpotRate       string `json:"spot_rate"`
	LPSharePrice   string `json:"lp_share_price,omitempty"`
	LPTotalSupply  string `json:"lp_total_supply,omitempty"`
	GovernanceFees string `json:"governance_fees_accrued"`

	IsInitialized bool `json:"is_initialized"`
	IsPaused      bool `json:"is_paused"`

	AsOfSequence       int64 `json:"as_of_sequence"`
	ProjectionSequence int64 `json:"projection_sequence"`
}

// PoolConfigResponse mirrors the static pool configuration.
type PoolConfigResponse struct {
	PoolID                   string `json:"pool_id"`
	BaseAsset                string `json:"base_asset"`
	VaultAsset               string `json:"vault_asset"`
	CheckpointDuration       uint64 `json:"checkpoint_duration"`
	PositionDuration         uint64 `json:"position_duration"`
	TimeStretch              string `json:"time_stretch"`
	InitialVaultSharePrice   string `json:"initial_vault_share_price"`
	MinimumShareReserves     string `json:"minimum_share_reserves"`
	MinimumTransactionAmount string `json:"minimum_transaction_amount"`
	CircuitBreakerDelta      string `json:"circuit_breaker_delta"`
	CurveFee                 string `json:"curve_fee"`
	FlatFee                  string `json:"flat_fee"`
	GovernanceLPFee          string `json:"governance_lp_fee"`
	GovernanceZombieFee      string `json:"governance_zombie_fee"`
}

// PositionResponse is one position balance for a holder. Kind is one of
// lp, withdrawal_share, long, short; MaturityTime is zero for the first two.
type PositionResponse struct {
	Holder       uuid.UUID `json:"holder"`
	AssetPath    string    `json:"asset_path"`
	Kind         string    `json:"kind"`
	MaturityTime uint64    `json:"maturity_time,omitempty"`
	Balance      string    `json:"balance"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// CheckpointResponse is one minted checkpoint, oldest first.
type CheckpointResponse struct {
	CheckpointTime    uint64 `json:"checkpoint_time"`
	VaultSharePrice   string `json:"vault_share_price"`
	WeightedSpotPrice string `json:"weighted_spot_price"`
	LongExposure      string `json:"long_exposure"`
}

// LPPriceSampleResponse is one LP share price observation.
type LPPriceSampleResponse struct {
	PoolID       string `json:"pool_id"`
	Sequence     int64  `json:"sequence"`
	PoolTime     uint64 `json:"pool_time"`
	LPSharePrice string `json:"lp_share_price"`
	LPSupply     string `json:"lp_supply"`
}

// EventLogEntry is one row of the append-only event log.
type EventLogEntry struct {
	Sequence       int64     `json:"sequence"`
	EventType      string    `json:"event_type"`
	IdempotencyKey string    `json:"idempotency_key"`
	PoolID         *string   `json:"pool_id,omitempty"`
	StateHash      string    `json:"state_hash"`
	PrevHash       string    `json:"prev_hash"`
	Timestamp      time.Time `json:"timestamp"`
	SourceSequence int64     `json:"source_sequence"`
}

// LedgerEntryResponse is one position ledger entry for history queries.
type LedgerEntryResponse struct {
	EntryID    uuid.UUID `json:"entry_id"`
	EventRef   string    `json:"event_ref"`
	Sequence   int64     `json:"sequence"`
	Kind       string    `json:"kind"`
	AssetPath  string    `json:"asset_path"`
	FromHolder uuid.UUID `json:"from_holder"`
	ToHolder   uuid.UUID `json:"to_holder"`
	Amount     string    `json:"amount"`
	PoolTime   int64     `json:"pool_time"`
}

// IntegrityReport is the result of an integrity verification pass.
type IntegrityReport struct {
	IsHealthy        bool             `json:"is_healthy"`
	HashChainBreaks  []int64          `json:"hash_chain_breaks,omitempty"`
	NegativeBalances []string         `json:"negative_balances,omitempty"`
	SupplyMismatches []SupplyMismatch `json:"supply_mismatches,omitempty"`
	CheckedAt        time.Time        `json:"checked_at"`
	AsOfSequence     int64            `json:"as_of_sequence"`
}

// SupplyMismatch reports an asset whose projected balances disagree with the
// mint/burn totals in the event log.
type SupplyMismatch struct {
	AssetPath string `json:"asset_path"`
	Projected string `json:"projected"`
	Expected  string `json:"expected"`
}
