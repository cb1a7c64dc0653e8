package core

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hyperdrived/internal/event"
	"hyperdrived/internal/fixedmath"
	"hyperdrived/internal/hyperdrive"
	"hyperdrived/internal/ledger"
	"hyperdrived/internal/observability"
	"hyperdrived/internal/state"
)

// NullDestination holds position supply nobody can redeem: the reserve
// floor's LP shares are parked here at initialization.
var NullDestination = uuid.Max

// PoolEngine is the sequential event processor for a single pool. A mutex
// serializes ProcessEvent with the query accessors; all pool math runs on a
// clone of the market state and commits only on success, so a rejected
// event leaves no partial effects.
//
// The engine never reads the wall clock for pool state: every event carries
// its own pool time and vault share price as versioned inputs.
type PoolEngine struct {
	mu sync.Mutex

	poolID   string
	cfg      *state.PoolConfig
	market   *state.MarketState
	book     ledger.Ledger
	sequence int64

	// governanceFees is the accrued governance take in shares, already
	// outside the share reserves.
	governanceFees fixedmath.FixedPoint

	// lastPoolTime and lastVaultPrice track the newest versioned inputs
	// seen, for read-side valuations. Never used in event math.
	lastPoolTime   uint64
	lastVaultPrice fixedmath.FixedPoint

	maxIterations int

	hasher            *StateHasher
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is what the engine emits per applied event: the envelope for
// the event log, the ledger entries it produced, and the canonical state
// digest that went into the hash chain.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Entries    []ledger.Entry
	StateDelta []byte
}

func NewPoolEngine(
	poolID string,
	cfg *state.PoolConfig,
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *PoolEngine {
	return &PoolEngine{
		poolID:            poolID,
		cfg:               cfg,
		market:            state.NewMarketState(),
		book:              ledger.NewPositionLedger(),
		sequence:          startSequence,
		lastVaultPrice:    cfg.InitialVaultSharePrice,
		maxIterations:     hyperdrive.DefaultDistributeIdleIterations,
		hasher:            NewStateHasher(),
		idempotency:       NewIdempotencyChecker(1_000_000, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent is the main processing pipeline: dedup, sequence validation,
// dispatch, hash, emit.
func (e *PoolEngine) ProcessEvent(evt event.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Two-tier idempotency check
	isDuplicate := e.idempotency.IsDuplicate(eventType, idempotencyKey)

	partition := e.getPartition(evt)
	sourceSequence := evt.SourceSequence()

	// Keeper-driven checkpoints tolerate sequence gaps; everything else is
	// strictly ordered per partition.
	if chk, ok := evt.(*event.Checkpoint); ok {
		if err := e.sequenceValidator.ValidateCheckpointSequence(chk.Pool, chk.RequestSequence); err != nil {
			return err
		}
	} else {
		if err := e.sequenceValidator.ValidateSequence(partition, sourceSequence, idempotencyKey, isDuplicate); err != nil {
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	if isDuplicate {
		if e.metrics != nil {
			e.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	if pool := evt.PoolID(); pool != nil && *pool != e.poolID {
		return fmt.Errorf("event for pool %q routed to engine for %q", *pool, e.poolID)
	}

	if err := e.dispatchEvent(evt); err != nil {
		if e.metrics != nil {
			e.metrics.CoreEventsRejected.WithLabelValues(eventType, "rejected").Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}
	e.recordVersionedInputs(evt)

	entries := e.book.DrainJournal()
	stateDigest := e.computeStateDigest(entries)
	prevHash := e.hasher.GetPrevHash()
	hashStart := time.Now()
	stateHash := e.hasher.ComputeHash(e.sequence, stateDigest)
	if e.metrics != nil {
		e.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
		for _, en := range entries {
			e.metrics.CoreEntries.WithLabelValues(en.Kind.String()).Inc()
		}
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot encode applied event %s: %v", idempotencyKey, err))
	}

	output := CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       e.sequence,
			IdempotencyKey: idempotencyKey,
			EventType:      evt.EventType(),
			PoolID:         evt.PoolID(),
			Timestamp:      e.getEventTimestamp(evt),
			Payload:        payload,
			SourceSequence: sourceSequence,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		},
		Entries:    entries,
		StateDelta: stateDigest,
	}
	e.sequence++

	// Persistence: blocking send — the engine stalls until the persistence
	// worker drains. This guarantees no applied event is lost.
	select {
	case e.persistChan <- output:
	default:
		if e.metrics != nil {
			e.metrics.PersistBackpressure.Inc()
		}
		e.persistChan <- output
	}

	// Projections: non-blocking send — drop on full. Projection workers
	// rebuild from the event log if they fall behind.
	select {
	case e.projectionChan <- output:
	default:
		if e.metrics != nil {
			e.metrics.ProjectionDrops.WithLabelValues("main").Inc()
		}
	}

	e.idempotency.MarkProcessed(eventType, idempotencyKey)

	if e.metrics != nil {
		e.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		e.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
	}

	return nil
}

func (e *PoolEngine) dispatchEvent(evt event.Event) error {
	switch ev := evt.(type) {
	case *event.Initialize:
		return e.handleInitialize(ev)
	case *event.AddLiquidity:
		return e.handleAddLiquidity(ev)
	case *event.RemoveLiquidity:
		return e.handleRemoveLiquidity(ev)
	case *event.RedeemWithdrawalShares:
		return e.handleRedeemWithdrawalShares(ev)
	case *event.OpenLong:
		return e.handleOpenLong(ev)
	case *event.CloseLong:
		return e.handleCloseLong(ev)
	case *event.OpenShort:
		return e.handleOpenShort(ev)
	case *event.CloseShort:
		return e.handleCloseShort(ev)
	case *event.Checkpoint:
		return e.handleCheckpoint(ev)
	case *event.PauseSet:
		return e.handlePauseSet(ev)
	default:
		return fmt.Errorf("unknown event type: %T", evt)
	}
}

// destination resolves where minted positions or proceeds go.
func (e *PoolEngine) destination(opts event.SettlementOptions, fallback uuid.UUID) uuid.UUID {
	if opts.Destination != uuid.Nil {
		return opts.Destination
	}
	return fallback
}

// withdrawalSharesOutstanding is the withdrawal-share supply not yet funded
// by the withdrawal pool.
func (e *PoolEngine) withdrawalSharesOutstanding(s *state.MarketState) fixedmath.FixedPoint {
	return e.book.TotalSupply(ledger.WithdrawalShareAsset()).SubSat(s.WithdrawPool.ReadyToWithdraw)
}

// lpTotalSupply counts active LP shares plus unfunded withdrawal shares.
func (e *PoolEngine) lpTotalSupply(s *state.MarketState) fixedmath.FixedPoint {
	return e.book.TotalSupply(ledger.LPAsset()).Add(e.withdrawalSharesOutstanding(s))
}

// applyCheckpointAt mints a checkpoint on the scratch state, sourcing the
// matured supplies from the ledger. Governance fees from the result must be
// accrued by the caller after the scratch commits.
func (e *PoolEngine) applyCheckpointAt(
	s *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	now, checkpointTime uint64,
) (hyperdrive.CheckpointResult, error) {
	ctx := hyperdrive.CheckpointContext{
		MaturedLongs:                e.book.TotalSupply(ledger.LongAsset(checkpointTime)),
		MaturedShorts:               e.book.TotalSupply(ledger.ShortAsset(checkpointTime)),
		WithdrawalSharesOutstanding: e.withdrawalSharesOutstanding(s),
		LpTotalSupply:               e.lpTotalSupply(s),
		MaxIterations:               e.maxIterations,
	}
	return hyperdrive.ApplyCheckpoint(e.cfg, s, vaultSharePrice, now, checkpointTime, ctx)
}

// recordCheckpointMinted updates checkpoint counters once the scratch state
// committed, so rejected events never inflate them. backfill marks
// checkpoints minted by a trade instead of the keeper.
func (e *PoolEngine) recordCheckpointMinted(res hyperdrive.CheckpointResult, backfill bool) {
	if e.metrics == nil || !res.Minted {
		return
	}
	e.metrics.CheckpointsMinted.WithLabelValues(e.poolID).Inc()
	if backfill {
		e.metrics.CheckpointBackfills.WithLabelValues(e.poolID).Inc()
	}
	if !res.MaturedLongs.IsZero() {
		e.metrics.MaturedLongsSettled.WithLabelValues(e.poolID).Add(toApproxFloat(res.MaturedLongs))
	}
	if !res.MaturedShorts.IsZero() {
		e.metrics.MaturedShortsSettled.WithLabelValues(e.poolID).Add(toApproxFloat(res.MaturedShorts))
	}
}

func (e *PoolEngine) handleInitialize(evt *event.Initialize) error {
	scratch := e.market.Clone()
	res, err := hyperdrive.Initialize(e.cfg, scratch, evt.VaultSharePrice, evt.PoolTime, evt.Contribution, evt.TargetRate)
	if err != nil {
		return err
	}
	e.market = scratch

	ref := evt.IdempotencyKey()
	dest := e.destination(evt.Options, evt.Provider)
	if err := e.book.Mint(ref, e.sequence, dest, ledger.LPAsset(), res.LpShares, evt.PoolTime); err != nil {
		return err
	}
	// The reserve floor's share of the supply can never be redeemed.
	return e.book.Mint(ref, e.sequence, NullDestination, ledger.LPAsset(), res.ReserveShares, evt.PoolTime)
}

func (e *PoolEngine) handleAddLiquidity(evt *event.AddLiquidity) error {
	scratch := e.market.Clone()
	chk, err := e.applyCheckpointAt(scratch, evt.VaultSharePrice, evt.PoolTime, e.cfg.ToCheckpoint(evt.PoolTime))
	if err != nil {
		return err
	}

	res, err := hyperdrive.AddLiquidity(
		e.cfg, scratch, evt.VaultSharePrice, evt.PoolTime,
		evt.Contribution, evt.MinLpSharePrice, evt.MinRate, evt.MaxRate,
		e.lpTotalSupply(scratch),
	)
	if err != nil {
		return err
	}
	// The new LP shares are minted after commit, so the supply passed to
	// the distribution has to count them here.
	if _, err := hyperdrive.DistributeExcessIdle(
		e.cfg, scratch, evt.VaultSharePrice, evt.PoolTime,
		e.withdrawalSharesOutstanding(scratch), e.lpTotalSupply(scratch).Add(res.LpShares),
		e.maxIterations,
	); err != nil {
		if e.metrics != nil {
			e.metrics.IdleSolverFailures.WithLabelValues(e.poolID).Inc()
		}
		return err
	}
	hyperdrive.RecordSpotPrice(e.cfg, scratch, evt.PoolTime)

	e.market = scratch
	e.governanceFees = e.governanceFees.Add(chk.GovernanceFee)
	e.recordCheckpointMinted(chk, true)

	dest := e.destination(evt.Options, evt.Provider)
	return e.book.Mint(evt.IdempotencyKey(), e.sequence, dest, ledger.LPAsset(), res.LpShares, evt.PoolTime)
}

func (e *PoolEngine) handleRemoveLiquidity(evt *event.RemoveLiquidity) error {
	if e.book.BalanceOf(evt.Provider, ledger.LPAsset()).Lt(evt.LpShares) {
		return fmt.Errorf("remove liquidity: provider %s holds fewer than %s LP shares", evt.Provider, evt.LpShares)
	}

	scratch := e.market.Clone()
	chk, err := e.applyCheckpointAt(scratch, evt.VaultSharePrice, evt.PoolTime, e.cfg.ToCheckpoint(evt.PoolTime))
	if err != nil {
		return err
	}

	res, err := hyperdrive.RemoveLiquidity(
		e.cfg, scratch, evt.VaultSharePrice, evt.PoolTime,
		evt.LpShares, evt.MinOutputPerShare,
		e.lpTotalSupply(scratch), e.withdrawalSharesOutstanding(scratch),
		e.maxIterations,
	)
	if err != nil {
		return err
	}
	hyperdrive.RecordSpotPrice(e.cfg, scratch, evt.PoolTime)

	e.market = scratch
	e.governanceFees = e.governanceFees.Add(chk.GovernanceFee)
	e.recordCheckpointMinted(chk, true)

	ref := evt.IdempotencyKey()
	if err := e.book.Burn(ref, e.sequence, evt.Provider, ledger.LPAsset(), evt.LpShares, evt.PoolTime); err != nil {
		return err
	}
	dest := e.destination(evt.Options, evt.Provider)
	return e.book.Mint(ref, e.sequence, dest, ledger.WithdrawalShareAsset(), res.WithdrawalSharesRemaining, evt.PoolTime)
}

func (e *PoolEngine) handleRedeemWithdrawalShares(evt *event.RedeemWithdrawalShares) error {
	if e.book.BalanceOf(evt.Provider, ledger.WithdrawalShareAsset()).Lt(evt.WithdrawalShares) {
		return fmt.Errorf("redeem: provider %s holds fewer than %s withdrawal shares", evt.Provider, evt.WithdrawalShares)
	}

	scratch := e.market.Clone()
	chk, err := e.applyCheckpointAt(scratch, evt.VaultSharePrice, evt.PoolTime, e.cfg.ToCheckpoint(evt.PoolTime))
	if err != nil {
		return err
	}

	res, err := hyperdrive.RedeemWithdrawalShares(
		e.cfg, scratch, evt.VaultSharePrice,
		evt.WithdrawalShares, evt.MinOutputPerShare,
	)
	if err != nil {
		return err
	}

	e.market = scratch
	e.governanceFees = e.governanceFees.Add(chk.GovernanceFee)
	e.recordCheckpointMinted(chk, true)

	return e.book.Burn(evt.IdempotencyKey(), e.sequence, evt.Provider, ledger.WithdrawalShareAsset(), res.SharesRedeemed, evt.PoolTime)
}

func (e *PoolEngine) handleOpenLong(evt *event.OpenLong) error {
	if !evt.MinVaultPrice.IsZero() && evt.VaultSharePrice.Lt(evt.MinVaultPrice) {
		return fmt.Errorf("%w: vault share price %s below caller minimum %s",
			hyperdrive.ErrOutputLimit, evt.VaultSharePrice, evt.MinVaultPrice)
	}

	scratch := e.market.Clone()
	chk, err := e.applyCheckpointAt(scratch, evt.VaultSharePrice, evt.PoolTime, e.cfg.ToCheckpoint(evt.PoolTime))
	if err != nil {
		return err
	}

	res, err := hyperdrive.OpenLong(e.cfg, scratch, evt.VaultSharePrice, evt.PoolTime, evt.BaseAmount)
	if err != nil {
		return err
	}
	if res.BondProceeds.Lt(evt.MinOutput) {
		return fmt.Errorf("%w: bond proceeds %s below caller minimum %s",
			hyperdrive.ErrOutputLimit, res.BondProceeds, evt.MinOutput)
	}

	if _, err := e.distributeIdle(scratch, evt.VaultSharePrice, evt.PoolTime, false); err != nil {
		return err
	}
	hyperdrive.RecordSpotPrice(e.cfg, scratch, evt.PoolTime)

	e.market = scratch
	e.governanceFees = e.governanceFees.Add(chk.GovernanceFee).Add(res.GovernanceFee)
	e.recordCheckpointMinted(chk, true)

	dest := e.destination(evt.Options, evt.Trader)
	return e.book.Mint(evt.IdempotencyKey(), e.sequence, dest, ledger.LongAsset(res.MaturityTime), res.BondProceeds, evt.PoolTime)
}

func (e *PoolEngine) handleCloseLong(evt *event.CloseLong) error {
	if e.book.BalanceOf(evt.Trader, ledger.LongAsset(evt.MaturityTime)).Lt(evt.BondAmount) {
		return fmt.Errorf("close long: trader %s holds fewer than %s bonds at %d", evt.Trader, evt.BondAmount, evt.MaturityTime)
	}

	scratch := e.market.Clone()
	govFees := e.governanceFees
	latest, err := e.applyCheckpointAt(scratch, evt.VaultSharePrice, evt.PoolTime, e.cfg.ToCheckpoint(evt.PoolTime))
	if err != nil {
		return err
	}
	govFees = govFees.Add(latest.GovernanceFee)
	var matured hyperdrive.CheckpointResult
	if evt.MaturityTime <= evt.PoolTime {
		matured, err = e.applyCheckpointAt(scratch, evt.VaultSharePrice, evt.PoolTime, evt.MaturityTime)
		if err != nil {
			return err
		}
		govFees = govFees.Add(matured.GovernanceFee)
	}

	res, err := hyperdrive.CloseLong(e.cfg, scratch, evt.VaultSharePrice, evt.PoolTime, evt.MaturityTime, evt.BondAmount)
	if err != nil {
		return err
	}
	if err := e.checkProceeds(res.ShareProceeds, evt.VaultSharePrice, evt.MinOutput, evt.Options.AsBase); err != nil {
		return err
	}

	// Closes free idle for queued withdrawals. An unmatured close is
	// fail-closed like any state-changing trade; a matured close is
	// best-effort, matching checkpoint settlement.
	idleIterations, err := e.distributeIdle(scratch, evt.VaultSharePrice, evt.PoolTime, evt.MaturityTime <= evt.PoolTime)
	if err != nil {
		return err
	}
	hyperdrive.RecordSpotPrice(e.cfg, scratch, evt.PoolTime)

	e.market = scratch
	e.governanceFees = govFees.Add(res.GovernanceFee)
	e.recordCheckpointMinted(latest, true)
	e.recordCheckpointMinted(matured, true)
	if e.metrics != nil && idleIterations > 0 {
		e.metrics.IdleSolverIterations.Observe(float64(idleIterations))
	}

	return e.book.Burn(evt.IdempotencyKey(), e.sequence, evt.Trader, ledger.LongAsset(evt.MaturityTime), evt.BondAmount, evt.PoolTime)
}

func (e *PoolEngine) handleOpenShort(evt *event.OpenShort) error {
	scratch := e.market.Clone()
	chk, err := e.applyCheckpointAt(scratch, evt.VaultSharePrice, evt.PoolTime, e.cfg.ToCheckpoint(evt.PoolTime))
	if err != nil {
		return err
	}

	res, err := hyperdrive.OpenShort(e.cfg, scratch, evt.VaultSharePrice, evt.PoolTime, evt.BondAmount)
	if err != nil {
		return err
	}
	if !evt.MaxDeposit.IsZero() && res.BaseDeposit.Gt(evt.MaxDeposit) {
		return fmt.Errorf("%w: deposit %s above caller maximum %s",
			hyperdrive.ErrOutputLimit, res.BaseDeposit, evt.MaxDeposit)
	}

	if _, err := e.distributeIdle(scratch, evt.VaultSharePrice, evt.PoolTime, false); err != nil {
		return err
	}
	hyperdrive.RecordSpotPrice(e.cfg, scratch, evt.PoolTime)

	e.market = scratch
	e.governanceFees = e.governanceFees.Add(chk.GovernanceFee).Add(res.GovernanceFee)
	e.recordCheckpointMinted(chk, true)

	dest := e.destination(evt.Options, evt.Trader)
	return e.book.Mint(evt.IdempotencyKey(), e.sequence, dest, ledger.ShortAsset(res.MaturityTime), evt.BondAmount, evt.PoolTime)
}

func (e *PoolEngine) handleCloseShort(evt *event.CloseShort) error {
	if e.book.BalanceOf(evt.Trader, ledger.ShortAsset(evt.MaturityTime)).Lt(evt.BondAmount) {
		return fmt.Errorf("close short: trader %s holds fewer than %s bonds at %d", evt.Trader, evt.BondAmount, evt.MaturityTime)
	}

	scratch := e.market.Clone()
	govFees := e.governanceFees
	latest, err := e.applyCheckpointAt(scratch, evt.VaultSharePrice, evt.PoolTime, e.cfg.ToCheckpoint(evt.PoolTime))
	if err != nil {
		return err
	}
	govFees = govFees.Add(latest.GovernanceFee)
	var matured hyperdrive.CheckpointResult
	if evt.MaturityTime <= evt.PoolTime {
		matured, err = e.applyCheckpointAt(scratch, evt.VaultSharePrice, evt.PoolTime, evt.MaturityTime)
		if err != nil {
			return err
		}
		govFees = govFees.Add(matured.GovernanceFee)
	}

	res, err := hyperdrive.CloseShort(e.cfg, scratch, evt.VaultSharePrice, evt.PoolTime, evt.MaturityTime, evt.BondAmount)
	if err != nil {
		return err
	}
	if err := e.checkProceeds(res.ShareProceeds, evt.VaultSharePrice, evt.MinOutput, evt.Options.AsBase); err != nil {
		return err
	}

	idleIterations, err := e.distributeIdle(scratch, evt.VaultSharePrice, evt.PoolTime, evt.MaturityTime <= evt.PoolTime)
	if err != nil {
		return err
	}
	hyperdrive.RecordSpotPrice(e.cfg, scratch, evt.PoolTime)

	e.market = scratch
	e.governanceFees = govFees.Add(res.GovernanceFee)
	e.recordCheckpointMinted(latest, true)
	e.recordCheckpointMinted(matured, true)
	if e.metrics != nil && idleIterations > 0 {
		e.metrics.IdleSolverIterations.Observe(float64(idleIterations))
	}

	return e.book.Burn(evt.IdempotencyKey(), e.sequence, evt.Trader, ledger.ShortAsset(evt.MaturityTime), evt.BondAmount, evt.PoolTime)
}

func (e *PoolEngine) handleCheckpoint(evt *event.Checkpoint) error {
	scratch := e.market.Clone()
	res, err := e.applyCheckpointAt(scratch, evt.VaultSharePrice, evt.PoolTime, evt.CheckpointTime)
	if err != nil {
		return err
	}
	e.market = scratch
	e.governanceFees = e.governanceFees.Add(res.GovernanceFee)
	e.recordCheckpointMinted(res, false)
	return nil
}

func (e *PoolEngine) handlePauseSet(evt *event.PauseSet) error {
	e.market.IsPaused = evt.Paused
	return nil
}

// distributeIdle runs the idle distribution after a state change. Opens,
// unmatured closes and liquidity additions are fail-closed: the pool must
// stay priceable, so a distribution failure aborts the operation. Matured
// closes are best-effort, matching checkpoint settlement — idle stays
// queued and a later call retries.
func (e *PoolEngine) distributeIdle(
	scratch *state.MarketState,
	vaultSharePrice fixedmath.FixedPoint,
	poolTime uint64,
	bestEffort bool,
) (int, error) {
	outstanding := e.withdrawalSharesOutstanding(scratch)
	lpSupply := e.lpTotalSupply(scratch)

	if bestEffort {
		res, ok := hyperdrive.DistributeExcessIdleSafe(
			e.cfg, scratch, vaultSharePrice, poolTime, outstanding, lpSupply, e.maxIterations,
		)
		if !ok {
			if e.metrics != nil {
				e.metrics.IdleSolverFailures.WithLabelValues(e.poolID).Inc()
			}
			return 0, nil
		}
		return res.Iterations, nil
	}

	res, err := hyperdrive.DistributeExcessIdle(
		e.cfg, scratch, vaultSharePrice, poolTime, outstanding, lpSupply, e.maxIterations,
	)
	if err != nil {
		if e.metrics != nil {
			e.metrics.IdleSolverFailures.WithLabelValues(e.poolID).Inc()
		}
		return 0, err
	}
	return res.Iterations, nil
}

// checkProceeds enforces the caller's minimum output in the denomination
// they settle in.
func (e *PoolEngine) checkProceeds(shareProceeds, vaultSharePrice, minOutput fixedmath.FixedPoint, asBase bool) error {
	output := shareProceeds
	if asBase {
		output = shareProceeds.MulDown(vaultSharePrice)
	}
	if output.Lt(minOutput) {
		return fmt.Errorf("%w: proceeds %s below caller minimum %s", hyperdrive.ErrOutputLimit, output, minOutput)
	}
	return nil
}

// recordVersionedInputs tracks the newest pool time and vault price from an
// applied event, for read-side valuations like the LP share price sample.
func (e *PoolEngine) recordVersionedInputs(evt event.Event) {
	switch ev := evt.(type) {
	case *event.Initialize:
		e.lastPoolTime, e.lastVaultPrice = ev.PoolTime, ev.VaultSharePrice
	case *event.AddLiquidity:
		e.lastPoolTime, e.lastVaultPrice = ev.PoolTime, ev.VaultSharePrice
	case *event.RemoveLiquidity:
		e.lastPoolTime, e.lastVaultPrice = ev.PoolTime, ev.VaultSharePrice
	case *event.RedeemWithdrawalShares:
		e.lastPoolTime, e.lastVaultPrice = ev.PoolTime, ev.VaultSharePrice
	case *event.OpenLong:
		e.lastPoolTime, e.lastVaultPrice = ev.PoolTime, ev.VaultSharePrice
	case *event.CloseLong:
		e.lastPoolTime, e.lastVaultPrice = ev.PoolTime, ev.VaultSharePrice
	case *event.OpenShort:
		e.lastPoolTime, e.lastVaultPrice = ev.PoolTime, ev.VaultSharePrice
	case *event.CloseShort:
		e.lastPoolTime, e.lastVaultPrice = ev.PoolTime, ev.VaultSharePrice
	case *event.Checkpoint:
		e.lastPoolTime, e.lastVaultPrice = ev.PoolTime, ev.VaultSharePrice
	case *event.PauseSet:
		e.lastPoolTime = ev.PoolTime
	}
}

// getPartition determines the partition key for sequence validation
func (e *PoolEngine) getPartition(evt event.Event) string {
	if pool := evt.PoolID(); pool != nil {
		return fmt.Sprintf("pool:%s", *pool)
	}
	return "global"
}

// getEventTimestamp extracts the versioned timestamp from an event. The
// engine never calls time.Now() for anything that reaches the event log.
func (e *PoolEngine) getEventTimestamp(evt event.Event) time.Time {
	switch ev := evt.(type) {
	case *event.Initialize:
		return ev.Timestamp
	case *event.AddLiquidity:
		return ev.Timestamp
	case *event.RemoveLiquidity:
		return ev.Timestamp
	case *event.RedeemWithdrawalShares:
		return ev.Timestamp
	case *event.OpenLong:
		return ev.Timestamp
	case *event.CloseLong:
		return ev.Timestamp
	case *event.OpenShort:
		return ev.Timestamp
	case *event.CloseShort:
		return ev.Timestamp
	case *event.Checkpoint:
		return ev.Timestamp
	case *event.PauseSet:
		return ev.Timestamp
	default:
		panic(fmt.Sprintf("FATAL: getEventTimestamp called with unhandled event type %T", evt))
	}
}

// computeStateDigest serializes the pool's canonical state for hashing: the
// market scalars, the accrued governance fees, every checkpoint in time
// order, and the ledger entries this event produced.
func (e *PoolEngine) computeStateDigest(entries []ledger.Entry) []byte {
	s := e.market
	digest := make([]byte, 0, 1024)

	digest = appendBig(digest, s.ShareReserves.Raw())
	digest = appendSignedBig(digest, s.ShareAdjustment)
	digest = appendBig(digest, s.BondReserves.Raw())
	digest = appendBig(digest, s.LongsOutstanding.Raw())
	digest = appendBig(digest, s.ShortsOutstanding.Raw())
	digest = appendBig(digest, s.LongAverageMaturityTime.Raw())
	digest = appendBig(digest, s.ShortAverageMaturityTime.Raw())
	digest = appendBig(digest, s.LongExposure.Raw())
	digest = appendBig(digest, s.ZombieBaseProceeds.Raw())
	digest = appendBig(digest, s.ZombieShareReserves.Raw())
	digest = appendBig(digest, s.WithdrawPool.ReadyToWithdraw.Raw())
	digest = appendBig(digest, s.WithdrawPool.Proceeds.Raw())
	digest = appendBig(digest, e.governanceFees.Raw())
	digest = append(digest, boolByte(s.IsInitialized), boolByte(s.IsPaused))

	times := make([]uint64, 0, len(s.Checkpoints))
	for t := range s.Checkpoints {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	for _, t := range times {
		chk := s.Checkpoints[t]
		digest = appendUint64LE(digest, t)
		digest = appendBig(digest, chk.VaultSharePrice.Raw())
		digest = appendBig(digest, chk.WeightedSpotPrice.Raw())
		digest = appendUint64LE(digest, chk.WeightedSpotPriceTime)
		digest = appendBig(digest, chk.LongExposure.Raw())
	}

	for _, en := range entries {
		digest = append(digest, byte(en.Kind))
		path := en.Asset.AssetPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = append(digest, en.From[:]...)
		digest = append(digest, en.To[:]...)
		digest = appendBig(digest, en.Amount.Raw())
	}

	return digest
}

// toApproxFloat converts an 18-decimal fixed point to a float64 for gauges
// and counters. Lossy; never used in pool math.
func toApproxFloat(v fixedmath.FixedPoint) float64 {
	f, _ := new(big.Float).SetInt(v.Raw()).Float64()
	return f / 1e18
}

func appendBig(buf []byte, v *big.Int) []byte {
	b := v.Bytes()
	buf = append(buf, byte(len(b)))
	return append(buf, b...)
}

func appendSignedBig(buf []byte, v *big.Int) []byte {
	if v.Sign() < 0 {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return appendBig(buf, new(big.Int).Abs(v))
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56),
	)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Market          *state.MarketState
	Balances        []ledger.BalanceRow
	GovernanceFees  fixedmath.FixedPoint
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the engine's in-memory state. On warm
// restart the caller loads the latest snapshot, then replays the event log
// from the snapshot's sequence.
func (e *PoolEngine) RestoreFromSnapshot(snap *SnapshotState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sequence = snap.Sequence + 1
	e.hasher.SetPrevHash(snap.StateHash)
	if snap.Market != nil {
		e.market = snap.Market.Clone()
	}
	e.book.Restore(snap.Balances)
	e.governanceFees = snap.GovernanceFees
	for partition, nextSeq := range snap.SequenceState {
		e.sequenceValidator.SetExpectedSequence(partition, nextSeq)
	}
}

// WarmLRU loads recent idempotency keys into the LRU cache so a restart
// does not pay cold-path DB lookups for recently processed events.
func (e *PoolEngine) WarmLRU(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotency.lru.WarmFromKeys(keys)
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (e *PoolEngine) CreateSnapshotState() *SnapshotState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &SnapshotState{
		Sequence:        e.sequence - 1,
		StateHash:       e.hasher.GetPrevHash(),
		Market:          e.market.Clone(),
		Balances:        e.book.Snapshot(),
		GovernanceFees:  e.governanceFees,
		SequenceState:   e.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: e.idempotency.lru.GetAllKeys(),
	}
}

// --- Query accessors ---

func (e *PoolEngine) PoolID() string { return e.poolID }

func (e *PoolEngine) Config() *state.PoolConfig { return e.cfg }

// GetSequence returns the next sequence number to assign.
func (e *PoolEngine) GetSequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// GetStateHash returns the current hash-chain tip.
func (e *PoolEngine) GetStateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.GetPrevHash()
}

// MarketSnapshot returns an independent copy of the pool state for readers.
func (e *PoolEngine) MarketSnapshot() *state.MarketState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.market.Clone()
}

// GovernanceFeesAccrued returns the governance take in shares.
func (e *PoolEngine) GovernanceFeesAccrued() fixedmath.FixedPoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.governanceFees
}

// Holdings returns a holder's non-zero position balances.
func (e *PoolEngine) Holdings(holder uuid.UUID) []ledger.Holding {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Holdings(holder)
}

// IdleShares returns the idle capital at the newest versioned vault price.
func (e *PoolEngine) IdleShares() fixedmath.FixedPoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.market.Idle(e.cfg, e.lastVaultPrice)
}

// PositionSupply returns the outstanding supply of one position class.
func (e *PoolEngine) PositionSupply(asset ledger.AssetKey) fixedmath.FixedPoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.TotalSupply(asset)
}

// LPSharePriceSample values one LP share at the newest versioned inputs.
// Used by projections; never feeds back into event processing.
func (e *PoolEngine) LPSharePriceSample() (price, supply fixedmath.FixedPoint, poolTime uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	supply = e.lpTotalSupply(e.market)
	price, err = hyperdrive.LPSharePrice(e.cfg, e.market, e.lastVaultPrice, e.lastPoolTime, supply)
	return price, supply, e.lastPoolTime, err
}
