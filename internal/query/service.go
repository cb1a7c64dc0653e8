package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"hyperdrived/internal/core"
	"hyperdrived/internal/ledger"
	"hyperdrived/internal/observability"
	"hyperdrived/internal/projection"
)

// QueryService serves read-only access to pool state. Live values (reserves,
// spot price, holdings) come straight from the engine under its mutex;
// histories come from the Postgres event log and projection tables. Every
// response carries as_of_sequence for freshness semantics.
type QueryService struct {
	db      *sql.DB
	engine  *core.PoolEngine
	history *projection.LPPriceHistory
	metrics *observability.Metrics
}

func NewQueryService(
	db *sql.DB,
	engine *core.PoolEngine,
	history *projection.LPPriceHistory,
	metrics *observability.Metrics,
) *QueryService {
	return &QueryService{
		db:      db,
		engine:  engine,
		history: history,
		metrics: metrics,
	}
}

// GetPoolState returns the live pool state with projection freshness.
func (qs *QueryService) GetPoolState(ctx context.Context) (*PoolStateResponse, error) {
	done := qs.instrument("pool_state")

	market := qs.engine.MarketSnapshot()
	cfg := qs.engine.Config()
	asOfSeq := qs.engine.GetSequence()

	projSeq, projAge, err := qs.getWatermark(ctx)
	if err != nil {
		done(err)
		return nil, fmt.Errorf("watermark: %w", err)
	}
	if qs.metrics != nil && projAge > 0 {
		qs.metrics.QueryFreshnessLag.WithLabelValues("pool_state").Observe(projAge.Seconds())
	}

	resp := &PoolStateResponse{
		PoolID:              qs.engine.PoolID(),
		ShareReserves:       market.ShareReserves.String(),
		ShareAdjustment:     market.ShareAdjustment.String(),
		BondReserves:        market.BondReserves.String(),
		LongsOutstanding:    market.LongsOutstanding.String(),
		ShortsOutstanding:   market.ShortsOutstanding.String(),
		LongExposure:        market.LongExposure.String(),
		ZombieShareReserves: market.ZombieShareReserves.String(),
		WithdrawalReady:     market.WithdrawPool.ReadyToWithdraw.String(),
		WithdrawalProceeds:  market.WithdrawPool.Proceeds.String(),
		GovernanceFees:      qs.engine.GovernanceFeesAccrued().String(),
		IsInitialized:       market.IsInitialized,
		IsPaused:            market.IsPaused,
		AsOfSequence:        asOfSeq,
		ProjectionSequence:  projSeq,
	}

	if market.IsInitialized {
		resp.SpotPrice = market.SpotPrice(cfg).String()
		resp.SpotRate = market.SpotRate(cfg).String()
		if price, supply, _, err := qs.engine.LPSharePriceSample(); err == nil {
			resp.LPSharePrice = price.String()
			resp.LPTotalSupply = supply.String()
		}
	}

	done(nil)
	return resp, nil
}

// GetPoolConfig returns the static pool configuration.
func (qs *QueryService) GetPoolConfig() *PoolConfigResponse {
	cfg := qs.engine.Config()
	return &PoolConfigResponse{
		PoolID:                   qs.engine.PoolID(),
		BaseAsset:                cfg.BaseAsset,
		VaultAsset:               cfg.VaultAsset,
		CheckpointDuration:       cfg.CheckpointDuration,
		PositionDuration:         cfg.PositionDuration,
		TimeStretch:              cfg.TimeStretch.String(),
		InitialVaultSharePrice:   cfg.InitialVaultSharePrice.String(),
		MinimumShareReserves:     cfg.MinimumShareReserves.String(),
		MinimumTransactionAmount: cfg.MinimumTransactionAmount.String(),
		CircuitBreakerDelta:      cfg.CircuitBreakerDelta.String(),
		CurveFee:                 cfg.Fees.Curve.String(),
		FlatFee:                  cfg.Fees.Flat.String(),
		GovernanceLPFee:          cfg.Fees.GovernanceLP.String(),
		GovernanceZombieFee:      cfg.Fees.GovernanceZombie.String(),
	}
}

// GetPositions returns every non-zero position a holder has, read from the
// live position book so the answer is consistent with the last applied event.
func (qs *QueryService) GetPositions(ctx context.Context, holder uuid.UUID) ([]PositionResponse, error) {
	done := qs.instrument("positions")

	asOfSeq := qs.engine.GetSequence()
	holdings := qs.engine.Holdings(holder)

	positions := make([]PositionResponse, 0, len(holdings))
	for _, h := range holdings {
		positions = append(positions, PositionResponse{
			Holder:       holder,
			AssetPath:    h.Asset.AssetPath(),
			Kind:         h.Asset.Kind.String(),
			MaturityTime: h.Asset.MaturityTime,
			Balance:      h.Balance.String(),
			AsOfSequence: asOfSeq,
		})
	}

	done(nil)
	return positions, nil
}

// GetCheckpoints returns every minted checkpoint, oldest first. Unminted
// (lazily created, zero-price) checkpoints are skipped.
func (qs *QueryService) GetCheckpoints(ctx context.Context) ([]CheckpointResponse, error) {
	done := qs.instrument("checkpoints")

	market := qs.engine.MarketSnapshot()

	times := make([]uint64, 0, len(market.Checkpoints))
	for t, cp := range market.Checkpoints {
		if cp.VaultSharePrice.IsZero() {
			continue
		}
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	out := make([]CheckpointResponse, 0, len(times))
	for _, t := range times {
		cp := market.Checkpoints[t]
		out = append(out, CheckpointResponse{
			CheckpointTime:    t,
			VaultSharePrice:   cp.VaultSharePrice.String(),
			WeightedSpotPrice: cp.WeightedSpotPrice.String(),
			LongExposure:      cp.LongExposure.String(),
		})
	}

	done(nil)
	return out, nil
}

// GetPositionHolders returns projected balances for one asset path, largest
// first. This is a projection read; freshness is bounded by the watermark.
func (qs *QueryService) GetPositionHolders(ctx context.Context, assetPath string, limit int) ([]PositionResponse, error) {
	done := qs.instrument("position_holders")

	if _, err := ledger.ParseAssetPath(assetPath); err != nil {
		done(err)
		return nil, err
	}

	projSeq, _, err := qs.getWatermark(ctx)
	if err != nil {
		done(err)
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT holder, balance
		FROM projections.position_balances
		WHERE asset_path = $1 AND balance > 0
		ORDER BY balance DESC
		LIMIT $2
	`, assetPath, limit)
	if err != nil {
		done(err)
		return nil, err
	}
	defer rows.Close()

	key, _ := ledger.ParseAssetPath(assetPath)
	var positions []PositionResponse
	for rows.Next() {
		var p PositionResponse
		if err := rows.Scan(&p.Holder, &p.Balance); err != nil {
			done(err)
			return nil, err
		}
		p.AssetPath = assetPath
		p.Kind = key.Kind.String()
		p.MaturityTime = key.MaturityTime
		p.AsOfSequence = projSeq
		positions = append(positions, p)
	}

	done(rows.Err())
	return positions, rows.Err()
}

// GetLPPriceHistory returns LP share price samples, newest first. Recent
// samples come from the in-memory window; cursor pagination falls back to
// the projection table.
func (qs *QueryService) GetLPPriceHistory(
	ctx context.Context,
	limit int,
	beforeSequence *int64,
) ([]LPPriceSampleResponse, error) {
	done := qs.instrument("lp_price_history")

	if beforeSequence == nil && qs.history != nil {
		samples := qs.history.Recent(qs.engine.PoolID(), limit)
		if len(samples) > 0 {
			out := make([]LPPriceSampleResponse, 0, len(samples))
			for _, s := range samples {
				out = append(out, LPPriceSampleResponse{
					PoolID:       s.PoolID,
					Sequence:     s.Sequence,
					PoolTime:     s.PoolTime,
					LPSharePrice: s.LpSharePrice.String(),
					LPSupply:     s.LpSupply.String(),
				})
			}
			done(nil)
			return out, nil
		}
	}

	query := `
		SELECT pool_id, sequence, pool_time, lp_share_price, lp_supply
		FROM projections.lp_price_history
		WHERE pool_id = $1
	`
	args := []interface{}{qs.engine.PoolID()}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		done(err)
		return nil, err
	}
	defer rows.Close()

	var out []LPPriceSampleResponse
	for rows.Next() {
		var s LPPriceSampleResponse
		var poolTime int64
		if err := rows.Scan(&s.PoolID, &s.Sequence, &poolTime, &s.LPSharePrice, &s.LPSupply); err != nil {
			done(err)
			return nil, err
		}
		s.PoolTime = uint64(poolTime)
		out = append(out, s)
	}

	done(rows.Err())
	return out, rows.Err()
}

// GetEvents returns a page of the event log, newest first.
func (qs *QueryService) GetEvents(
	ctx context.Context,
	limit int,
	beforeSequence *int64,
) ([]EventLogEntry, error) {
	done := qs.instrument("events")

	query := `
		SELECT sequence, event_type, idempotency_key, pool_id,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
	`
	args := []interface{}{}
	argIdx := 1

	if beforeSequence != nil {
		query += fmt.Sprintf(" WHERE sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		done(err)
		return nil, err
	}
	defer rows.Close()

	var events []EventLogEntry
	for rows.Next() {
		var e EventLogEntry
		var stateHash, prevHash []byte
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.PoolID,
			&stateHash, &prevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			done(err)
			return nil, err
		}
		e.StateHash = hex.EncodeToString(stateHash)
		e.PrevHash = hex.EncodeToString(prevHash)
		events = append(events, e)
	}

	done(rows.Err())
	return events, rows.Err()
}

// GetLedgerHistory returns ledger entries touching a holder, newest first
// with cursor pagination on sequence.
func (qs *QueryService) GetLedgerHistory(
	ctx context.Context,
	holder uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]LedgerEntryResponse, error) {
	done := qs.instrument("ledger_history")

	query := `
		SELECT entry_id, event_ref, sequence, kind, asset_path,
		       from_holder, to_holder, amount, pool_time
		FROM event_log.ledger_entries
		WHERE (from_holder = $1 OR to_holder = $1)
	`
	args := []interface{}{holder}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		done(err)
		return nil, err
	}
	defer rows.Close()

	var entries []LedgerEntryResponse
	for rows.Next() {
		var e LedgerEntryResponse
		if err := rows.Scan(
			&e.EntryID, &e.EventRef, &e.Sequence, &e.Kind, &e.AssetPath,
			&e.FromHolder, &e.ToHolder, &e.Amount, &e.PoolTime,
		); err != nil {
			done(err)
			return nil, err
		}
		entries = append(entries, e)
	}

	done(rows.Err())
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and that the
// projected balances conserve the mint/burn totals per asset.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	done := qs.instrument("verify_integrity")

	report := &IntegrityReport{
		CheckedAt:    time.Now().UTC(),
		AsOfSequence: qs.engine.GetSequence(),
	}

	// Each event's prev_hash must equal the previous event's state_hash.
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		done(err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			done(err)
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		done(err)
		return nil, err
	}

	// Positions can never go negative.
	negRows, err := qs.db.QueryContext(ctx, `
		SELECT holder, asset_path
		FROM projections.position_balances
		WHERE balance < 0
		LIMIT 10
	`)
	if err != nil {
		done(err)
		return nil, err
	}
	defer negRows.Close()

	for negRows.Next() {
		var holder, assetPath string
		if err := negRows.Scan(&holder, &assetPath); err != nil {
			done(err)
			return nil, err
		}
		report.NegativeBalances = append(report.NegativeBalances,
			fmt.Sprintf("%s/%s", holder, assetPath))
	}
	if err := negRows.Err(); err != nil {
		done(err)
		return nil, err
	}

	// Per asset, the projected supply must equal mints minus burns from the
	// event log. Transfers cancel out.
	mismatchRows, err := qs.db.QueryContext(ctx, `
		WITH expected AS (
			SELECT asset_path,
			       SUM(CASE kind WHEN 'mint' THEN amount WHEN 'burn' THEN -amount ELSE 0 END) AS supply
			FROM event_log.ledger_entries
			GROUP BY asset_path
		),
		projected AS (
			SELECT asset_path, SUM(balance) AS supply
			FROM projections.position_balances
			GROUP BY asset_path
		)
		SELECT e.asset_path,
		       COALESCE(p.supply, 0)::text,
		       e.supply::text
		FROM expected e
		LEFT JOIN projected p USING (asset_path)
		WHERE COALESCE(p.supply, 0) != e.supply
		LIMIT 10
	`)
	if err != nil {
		done(err)
		return nil, err
	}
	defer mismatchRows.Close()

	for mismatchRows.Next() {
		var m SupplyMismatch
		if err := mismatchRows.Scan(&m.AssetPath, &m.Projected, &m.Expected); err != nil {
			done(err)
			return nil, err
		}
		report.SupplyMismatches = append(report.SupplyMismatches, m)
	}
	if err := mismatchRows.Err(); err != nil {
		done(err)
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.NegativeBalances) == 0 &&
		len(report.SupplyMismatches) == 0

	done(nil)
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, time.Duration, error) {
	var seq int64
	var updatedAt time.Time
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence, updated_at FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq, &updatedAt)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return seq, time.Since(updatedAt), nil
}

// instrument returns a completion func recording request count, latency and
// errors for an endpoint. The supply-side projection lag is recorded where a
// watermark read already happens.
func (qs *QueryService) instrument(endpoint string) func(error) {
	start := time.Now()
	return func(err error) {
		if qs.metrics == nil {
			return
		}
		qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err != nil {
			qs.metrics.QueryRequests.WithLabelValues(endpoint, "error").Inc()
			qs.metrics.QueryErrors.WithLabelValues(endpoint, "internal").Inc()
		} else {
			qs.metrics.QueryRequests.WithLabelValues(endpoint, "ok").Inc()
		}
	}
}
