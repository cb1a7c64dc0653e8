package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"hyperdrived/internal/core"
	"hyperdrived/internal/event"
	"hyperdrived/internal/ledger"
	"hyperdrived/internal/observability"
)

// ProjectionWorker updates projection tables from processed events. The
// projection channel is non-blocking with drop: if projections fall behind,
// they are rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	engine    *core.PoolEngine
	inputChan <-chan core.CoreOutput
	history   *LPPriceHistory
	metrics   *observability.Metrics
	lastSeq   int64
}

func NewProjectionWorker(
	db *sql.DB,
	engine *core.PoolEngine,
	inputChan <-chan core.CoreOutput,
	metrics *observability.Metrics,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		engine:    engine,
		inputChan: inputChan,
		history:   NewLPPriceHistory(),
		metrics:   metrics,
	}
}

// History exposes the in-memory LP price series for the query service.
func (pw *ProjectionWorker) History() *LPPriceHistory {
	return pw.history
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Envelope.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the event log
			}

			pw.lastSeq = output.Envelope.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	start := time.Now()
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, en := range output.Entries {
		if err := pw.updateBalanceProjection(ctx, tx, en, output.Envelope.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if err := pw.updatePoolState(ctx, tx, output); err != nil {
		return fmt.Errorf("pool state projection: %w", err)
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Envelope.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
	}
	return nil
}

func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, en ledger.Entry, sequence int64) error {
	amount := en.Amount.String()

	switch en.Kind {
	case ledger.EntryKindMint:
		return pw.adjustBalance(ctx, tx, en.To.String(), en.Asset.AssetPath(), "+", amount, sequence)
	case ledger.EntryKindBurn:
		return pw.adjustBalance(ctx, tx, en.From.String(), en.Asset.AssetPath(), "-", amount, sequence)
	case ledger.EntryKindTransfer:
		if err := pw.adjustBalance(ctx, tx, en.From.String(), en.Asset.AssetPath(), "-", amount, sequence); err != nil {
			return err
		}
		return pw.adjustBalance(ctx, tx, en.To.String(), en.Asset.AssetPath(), "+", amount, sequence)
	default:
		return fmt.Errorf("unknown entry kind %d", en.Kind)
	}
}

func (pw *ProjectionWorker) adjustBalance(ctx context.Context, tx *sql.Tx, holder, assetPath, sign, amount string, sequence int64) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO projections.position_balances (holder, asset_path, balance, sequence)
		VALUES ($1, $2, %s$3::numeric, $4)
		ON CONFLICT (holder, asset_path)
		DO UPDATE SET balance = projections.position_balances.balance %s $3::numeric, sequence = $4
	`, sign, sign), holder, assetPath, amount, sequence)
	return err
}

// updatePoolState refreshes the pool-state row and appends an LP price
// sample for events that move the reserves.
func (pw *ProjectionWorker) updatePoolState(ctx context.Context, tx *sql.Tx, output core.CoreOutput) error {
	env := output.Envelope
	if env.PoolID == nil {
		return nil
	}

	market := pw.engine.MarketSnapshot()
	cfg := pw.engine.Config()

	spotPrice := market.SpotPrice(cfg)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.pool_state
			(pool_id, sequence, share_reserves, share_adjustment, bond_reserves,
			 longs_outstanding, shorts_outstanding, long_exposure,
			 zombie_share_reserves, withdrawal_ready, withdrawal_proceeds,
			 spot_price, is_paused, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (pool_id) DO UPDATE SET
			sequence = $2, share_reserves = $3, share_adjustment = $4,
			bond_reserves = $5, longs_outstanding = $6, shorts_outstanding = $7,
			long_exposure = $8, zombie_share_reserves = $9,
			withdrawal_ready = $10, withdrawal_proceeds = $11,
			spot_price = $12, is_paused = $13, updated_at = NOW()
	`,
		*env.PoolID, env.Sequence,
		market.ShareReserves.String(), market.ShareAdjustment.String(), market.BondReserves.String(),
		market.LongsOutstanding.String(), market.ShortsOutstanding.String(), market.LongExposure.String(),
		market.ZombieShareReserves.String(),
		market.WithdrawPool.ReadyToWithdraw.String(), market.WithdrawPool.Proceeds.String(),
		spotPrice.String(), market.IsPaused,
	); err != nil {
		return err
	}

	if pw.metrics != nil {
		pool := *env.PoolID
		pw.metrics.PoolSpotPrice.WithLabelValues(pool).Set(toFloat(spotPrice.String()))
		pw.metrics.PoolSpotRate.WithLabelValues(pool).Set(toFloat(market.SpotRate(cfg).String()))
		pw.metrics.PoolShareReserves.WithLabelValues(pool).Set(toFloat(market.ShareReserves.String()))
		pw.metrics.PoolBondReserves.WithLabelValues(pool).Set(toFloat(market.BondReserves.String()))
		pw.metrics.PoolLongsOutstanding.WithLabelValues(pool).Set(toFloat(market.LongsOutstanding.String()))
		pw.metrics.PoolShortsOutstanding.WithLabelValues(pool).Set(toFloat(market.ShortsOutstanding.String()))
		pw.metrics.GovernanceFeesAccrued.WithLabelValues(pool).Set(toFloat(pw.engine.GovernanceFeesAccrued().String()))
		pw.metrics.PoolIdleShares.WithLabelValues(pool).Set(toFloat(pw.engine.IdleShares().String()))

		ready := market.WithdrawPool.ReadyToWithdraw
		outstanding := pw.engine.PositionSupply(ledger.WithdrawalShareAsset()).SubSat(ready)
		pw.metrics.WithdrawalPoolReady.WithLabelValues(pool).Set(toFloat(ready.String()))
		pw.metrics.WithdrawalOutstanding.WithLabelValues(pool).Set(toFloat(outstanding.String()))
	}

	return pw.appendLPPrice(ctx, tx, output)
}

// appendLPPrice samples the LP share price after LP and trade events.
func (pw *ProjectionWorker) appendLPPrice(ctx context.Context, tx *sql.Tx, output core.CoreOutput) error {
	env := output.Envelope
	switch env.EventType {
	case event.EventTypeInitialize, event.EventTypeAddLiquidity, event.EventTypeRemoveLiquidity,
		event.EventTypeRedeemWithdrawalShares, event.EventTypeOpenLong, event.EventTypeCloseLong,
		event.EventTypeOpenShort, event.EventTypeCloseShort:
	default:
		return nil
	}

	price, supply, poolTime, err := pw.engine.LPSharePriceSample()
	if err != nil {
		// Present value can be transiently unavailable; skip the sample.
		log.Printf("WARN: lp share price sample failed at seq=%d: %v", env.Sequence, err)
		return nil
	}

	pw.history.AddSample(LPPriceSample{
		PoolID:       *env.PoolID,
		Sequence:     env.Sequence,
		PoolTime:     poolTime,
		LpSharePrice: price,
		LpSupply:     supply,
	})

	if pw.metrics != nil {
		pw.metrics.LPSharePrice.WithLabelValues(*env.PoolID).Set(toFloat(price.String()))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projections.lp_price_history (pool_id, sequence, pool_time, lp_share_price, lp_supply)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pool_id, sequence) DO NOTHING
	`, *env.PoolID, env.Sequence, int64(poolTime), price.String(), supply.String())
	return err
}

// RebuildProjections rebuilds the balance projection from the event log.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.position_balances`,
		`TRUNCATE projections.lp_price_history`,
		`DELETE FROM projections.pool_state`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Credits: mints and transfer receipts.
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.position_balances (holder, asset_path, balance, sequence)
		SELECT
			to_holder AS holder,
			asset_path,
			SUM(amount) AS balance,
			MAX(sequence) AS sequence
		FROM event_log.ledger_entries
		WHERE kind IN ('mint', 'transfer')
		GROUP BY to_holder, asset_path
		ON CONFLICT (holder, asset_path) DO UPDATE
			SET balance = EXCLUDED.balance, sequence = EXCLUDED.sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild credits: %w", err)
	}

	// Debits: burns and transfer sources.
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.position_balances (holder, asset_path, balance, sequence)
		SELECT
			from_holder AS holder,
			asset_path,
			-SUM(amount) AS balance,
			MAX(sequence) AS sequence
		FROM event_log.ledger_entries
		WHERE kind IN ('burn', 'transfer')
		GROUP BY from_holder, asset_path
		ON CONFLICT (holder, asset_path) DO UPDATE
			SET balance = projections.position_balances.balance + EXCLUDED.balance,
			    sequence = GREATEST(projections.position_balances.sequence, EXCLUDED.sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild debits: %w", err)
	}

	// Drop emptied rows so the projection matches the in-memory book.
	if _, err := db.ExecContext(ctx, `
		DELETE FROM projections.position_balances WHERE balance = 0
	`); err != nil {
		return fmt.Errorf("prune zero balances: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
