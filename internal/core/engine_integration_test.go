package core_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"hyperdrived/internal/core"
	"hyperdrived/internal/event"
	"hyperdrived/internal/fixedmath"
	"hyperdrived/internal/hyperdrive"
	"hyperdrived/internal/ledger"
	"hyperdrived/internal/state"
)

const (
	day  = 24 * 60 * 60
	year = 365 * day

	// now0 is an arbitrary checkpoint-aligned pool time well past one
	// position duration so backdated arithmetic never underflows.
	now0 = uint64(1000 * day)

	testPool = "pool-1"
)

var (
	provider = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	trader   = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

func testConfig() *state.PoolConfig {
	return &state.PoolConfig{
		BaseAsset:                "DAI",
		VaultAsset:               "sDAI",
		CheckpointDuration:       day,
		PositionDuration:         year,
		TimeStretch:              state.TimeStretchForRate(fixedmath.MustFromDec("0.05")),
		InitialVaultSharePrice:   fixedmath.One(),
		MinimumShareReserves:     fixedmath.Scaled(10),
		MinimumTransactionAmount: fixedmath.MustFromDec("0.001"),
		CircuitBreakerDelta:      fixedmath.MustFromDec("0.015"),
	}
}

// newTestEngine builds an engine with buffered output channels large enough
// that the blocking persistence send never stalls a test.
func newTestEngine() (*core.PoolEngine, chan core.CoreOutput, chan core.CoreOutput) {
	persistCh := make(chan core.CoreOutput, 256)
	projCh := make(chan core.CoreOutput, 256)
	engine := core.NewPoolEngine(testPool, testConfig(), 0, persistCh, projCh, nil, nil)
	return engine, persistCh, projCh
}

// drainOutputs collects everything buffered on a channel without blocking.
func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case out := <-ch:
			outputs = append(outputs, out)
		default:
			return outputs
		}
	}
}

// testID returns a deterministic UUID so identical event streams hash
// identically across runs.
func testID(n byte) uuid.UUID {
	var b [16]byte
	b[0] = n
	b[15] = n
	id, _ := uuid.FromBytes(b[:])
	return id
}

func ts(poolTime uint64) time.Time {
	return time.Unix(int64(poolTime), 0).UTC()
}

// --- Event constructors ---
// Source sequences within a pool partition must be strictly consecutive, so
// every constructor takes the caller's running counter.

func mustInitialize(seq int64, contribution string) *event.Initialize {
	return &event.Initialize{
		RequestID:       testID(byte(seq + 1)),
		Provider:        provider,
		Pool:            testPool,
		Contribution:    fixedmath.MustFromDec(contribution),
		TargetRate:      fixedmath.MustFromDec("0.05"),
		VaultSharePrice: fixedmath.One(),
		PoolTime:        now0,
		RequestSequence: seq,
		Timestamp:       ts(now0),
	}
}

func mustAddLiquidity(seq int64, contribution string, poolTime uint64) *event.AddLiquidity {
	return &event.AddLiquidity{
		RequestID:       testID(byte(seq + 1)),
		Provider:        provider,
		Pool:            testPool,
		Contribution:    fixedmath.MustFromDec(contribution),
		MinLpSharePrice: fixedmath.Zero(),
		MinRate:         fixedmath.Zero(),
		MaxRate:         fixedmath.Scaled(1),
		VaultSharePrice: fixedmath.One(),
		PoolTime:        poolTime,
		RequestSequence: seq,
		Timestamp:       ts(poolTime),
	}
}

func mustRemoveLiquidity(seq int64, lpShares fixedmath.FixedPoint, poolTime uint64) *event.RemoveLiquidity {
	return &event.RemoveLiquidity{
		RequestID:         testID(byte(seq + 1)),
		Provider:          provider,
		Pool:              testPool,
		LpShares:          lpShares,
		MinOutputPerShare: fixedmath.Zero(),
		VaultSharePrice:   fixedmath.One(),
		PoolTime:          poolTime,
		RequestSequence:   seq,
		Timestamp:         ts(poolTime),
	}
}

func mustOpenLong(seq int64, baseAmount string, poolTime uint64) *event.OpenLong {
	return &event.OpenLong{
		TradeID:         testID(byte(seq + 1)),
		Trader:          trader,
		Pool:            testPool,
		BaseAmount:      fixedmath.MustFromDec(baseAmount),
		MinOutput:       fixedmath.Zero(),
		MinVaultPrice:   fixedmath.Zero(),
		VaultSharePrice: fixedmath.One(),
		PoolTime:        poolTime,
		TradeSequence:   seq,
		Timestamp:       ts(poolTime),
	}
}

func mustCloseLong(seq int64, maturityTime uint64, bondAmount fixedmath.FixedPoint, poolTime uint64) *event.CloseLong {
	return &event.CloseLong{
		TradeID:         testID(byte(seq + 1)),
		Trader:          trader,
		Pool:            testPool,
		MaturityTime:    maturityTime,
		BondAmount:      bondAmount,
		MinOutput:       fixedmath.Zero(),
		VaultSharePrice: fixedmath.One(),
		PoolTime:        poolTime,
		TradeSequence:   seq,
		Timestamp:       ts(poolTime),
	}
}

func mustOpenShort(seq int64, bondAmount string, poolTime uint64) *event.OpenShort {
	return &event.OpenShort{
		TradeID:         testID(byte(seq + 1)),
		Trader:          trader,
		Pool:            testPool,
		BondAmount:      fixedmath.MustFromDec(bondAmount),
		MaxDeposit:      fixedmath.Zero(),
		VaultSharePrice: fixedmath.One(),
		PoolTime:        poolTime,
		TradeSequence:   seq,
		Timestamp:       ts(poolTime),
	}
}

func mustCloseShort(seq int64, maturityTime uint64, bondAmount fixedmath.FixedPoint, poolTime uint64) *event.CloseShort {
	return &event.CloseShort{
		TradeID:         testID(byte(seq + 1)),
		Trader:          trader,
		Pool:            testPool,
		MaturityTime:    maturityTime,
		BondAmount:      bondAmount,
		MinOutput:       fixedmath.Zero(),
		VaultSharePrice: fixedmath.One(),
		PoolTime:        poolTime,
		TradeSequence:   seq,
		Timestamp:       ts(poolTime),
	}
}

func mustCheckpoint(seq int64, checkpointTime, poolTime uint64, vaultPrice string) *event.Checkpoint {
	return &event.Checkpoint{
		RequestID:       testID(byte(100 + seq)),
		Pool:            testPool,
		CheckpointTime:  checkpointTime,
		VaultSharePrice: fixedmath.MustFromDec(vaultPrice),
		PoolTime:        poolTime,
		RequestSequence: seq,
		Timestamp:       ts(poolTime),
	}
}

func mustPauseSet(seq int64, paused bool, poolTime uint64) *event.PauseSet {
	return &event.PauseSet{
		RequestID:       testID(byte(seq + 1)),
		Pool:            testPool,
		Paused:          paused,
		PoolTime:        poolTime,
		RequestSequence: seq,
		Timestamp:       ts(poolTime),
	}
}

func process(t *testing.T, e *core.PoolEngine, evt event.Event) {
	t.Helper()
	if err := e.ProcessEvent(evt); err != nil {
		t.Fatalf("process %s: %v", evt.IdempotencyKey(), err)
	}
}

// ============================================================================
// Test: Initialize
// ============================================================================

func TestInitializeMintsLpAndReserveShares(t *testing.T) {
	engine, persistCh, _ := newTestEngine()

	process(t, engine, mustInitialize(0, "1000000"))

	// 1,000,000 shares at price 1: the reserve floor (10) is parked at the
	// null destination and another floor's worth stays unminted.
	wantProvider := fixedmath.Scaled(1_000_000).Sub(fixedmath.Scaled(20))
	holdings := engine.Holdings(provider)
	if len(holdings) != 1 || holdings[0].Asset != ledger.LPAsset() {
		t.Fatalf("expected a single LP holding, got %+v", holdings)
	}
	if !holdings[0].Balance.Eq(wantProvider) {
		t.Errorf("provider LP balance = %s, want %s", holdings[0].Balance, wantProvider)
	}

	reserve := engine.Holdings(core.NullDestination)
	if len(reserve) != 1 || !reserve[0].Balance.Eq(fixedmath.Scaled(10)) {
		t.Errorf("reserve floor holding = %+v, want 10 LP shares", reserve)
	}

	supply := engine.PositionSupply(ledger.LPAsset())
	if !supply.Eq(fixedmath.Scaled(1_000_000).Sub(fixedmath.Scaled(10))) {
		t.Errorf("LP supply = %s, want contribution minus one reserve floor", supply)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 persisted output, got %d", len(outputs))
	}
	if len(outputs[0].Entries) != 2 {
		t.Fatalf("expected 2 mint entries, got %d", len(outputs[0].Entries))
	}
	for _, en := range outputs[0].Entries {
		if en.Kind != ledger.EntryKindMint {
			t.Errorf("entry kind = %s, want mint", en.Kind)
		}
	}
}

func TestInitializeTwiceRejected(t *testing.T) {
	engine, _, _ := newTestEngine()

	process(t, engine, mustInitialize(0, "1000000"))
	err := engine.ProcessEvent(mustInitialize(1, "500"))
	if !errors.Is(err, hyperdrive.ErrAlreadyInitialized) {
		t.Fatalf("second initialize error = %v, want ErrAlreadyInitialized", err)
	}
}

// ============================================================================
// Test: Long lifecycle
// ============================================================================

func TestOpenLongMintsBonds(t *testing.T) {
	engine, persistCh, _ := newTestEngine()

	process(t, engine, mustInitialize(0, "1000000"))
	process(t, engine, mustOpenLong(1, "10000", now0))

	maturity := now0 + year
	bonds := engine.PositionSupply(ledger.LongAsset(maturity))
	if bonds.IsZero() {
		t.Fatal("no long bonds minted")
	}
	// Longs buy bonds at a discount: proceeds exceed the base paid.
	if !bonds.Gt(fixedmath.Scaled(10_000)) {
		t.Errorf("bond proceeds %s should exceed the base paid", bonds)
	}

	market := engine.MarketSnapshot()
	if !market.LongsOutstanding.Eq(bonds) {
		t.Errorf("longs outstanding %s != minted bonds %s", market.LongsOutstanding, bonds)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs))
	}
	open := outputs[1]
	if len(open.Entries) != 1 || open.Entries[0].Kind != ledger.EntryKindMint {
		t.Fatalf("open long entries = %+v, want one mint", open.Entries)
	}
	if open.Entries[0].To != trader {
		t.Errorf("bonds minted to %s, want trader", open.Entries[0].To)
	}
}

func TestCloseLongBurnsBonds(t *testing.T) {
	engine, persistCh, _ := newTestEngine()

	process(t, engine, mustInitialize(0, "1000000"))
	process(t, engine, mustOpenLong(1, "10000", now0))

	maturity := now0 + year
	bonds := engine.PositionSupply(ledger.LongAsset(maturity))

	process(t, engine, mustCloseLong(2, maturity, bonds, now0+day))

	if !engine.PositionSupply(ledger.LongAsset(maturity)).IsZero() {
		t.Error("bond supply not zero after full close")
	}
	if len(engine.Holdings(trader)) != 0 {
		t.Errorf("trader still holds positions: %+v", engine.Holdings(trader))
	}
	if !engine.MarketSnapshot().LongsOutstanding.IsZero() {
		t.Error("longs outstanding not cleared")
	}

	outputs := drainOutputs(persistCh)
	closeOut := outputs[len(outputs)-1]
	if len(closeOut.Entries) != 1 || closeOut.Entries[0].Kind != ledger.EntryKindBurn {
		t.Fatalf("close long entries = %+v, want one burn", closeOut.Entries)
	}
}

func TestCloseLongRejectsOverdraft(t *testing.T) {
	engine, _, _ := newTestEngine()

	process(t, engine, mustInitialize(0, "1000000"))
	process(t, engine, mustOpenLong(1, "10000", now0))

	maturity := now0 + year
	bonds := engine.PositionSupply(ledger.LongAsset(maturity))
	tooMany := bonds.Add(fixedmath.One())

	err := engine.ProcessEvent(mustCloseLong(2, maturity, tooMany, now0+day))
	if err == nil {
		t.Fatal("close exceeding the trader's balance accepted")
	}
}

// ============================================================================
// Test: Short lifecycle
// ============================================================================

func TestOpenAndCloseShort(t *testing.T) {
	engine, _, _ := newTestEngine()

	process(t, engine, mustInitialize(0, "1000000"))
	process(t, engine, mustOpenShort(1, "10000", now0))

	maturity := now0 + year
	shorts := engine.PositionSupply(ledger.ShortAsset(maturity))
	if !shorts.Eq(fixedmath.Scaled(10_000)) {
		t.Fatalf("short supply = %s, want the full bond amount", shorts)
	}
	if !engine.MarketSnapshot().ShortsOutstanding.Eq(shorts) {
		t.Error("shorts outstanding does not match minted supply")
	}

	process(t, engine, mustCloseShort(2, maturity, shorts, now0+day))

	if !engine.PositionSupply(ledger.ShortAsset(maturity)).IsZero() {
		t.Error("short supply not zero after full close")
	}
	if !engine.MarketSnapshot().ShortsOutstanding.IsZero() {
		t.Error("shorts outstanding not cleared")
	}
}

// ============================================================================
// Test: Liquidity
// ============================================================================

func TestAddAndRemoveLiquidity(t *testing.T) {
	engine, _, _ := newTestEngine()

	process(t, engine, mustInitialize(0, "1000000"))
	before := engine.PositionSupply(ledger.LPAsset())

	process(t, engine, mustAddLiquidity(1, "50000", now0))

	after := engine.PositionSupply(ledger.LPAsset())
	minted := after.Sub(before)
	if minted.IsZero() {
		t.Fatal("add liquidity minted nothing")
	}
	// At a vault price of 1 and an idle pool, LP shares go out near par.
	if minted.Gt(fixedmath.Scaled(50_001)) || minted.Lt(fixedmath.Scaled(49_000)) {
		t.Errorf("minted %s LP shares for 50000, expected near par", minted)
	}

	process(t, engine, mustRemoveLiquidity(2, minted, now0))

	if !engine.PositionSupply(ledger.LPAsset()).Eq(before) {
		t.Errorf("LP supply after round trip = %s, want %s", engine.PositionSupply(ledger.LPAsset()), before)
	}
	// An idle pool pays everything out: no withdrawal shares left behind.
	if !engine.PositionSupply(ledger.WithdrawalShareAsset()).IsZero() {
		t.Error("withdrawal shares minted for an idle pool")
	}
}

func TestRemoveLiquidityRejectsOverdraft(t *testing.T) {
	engine, _, _ := newTestEngine()

	process(t, engine, mustInitialize(0, "1000000"))
	supply := engine.PositionSupply(ledger.LPAsset())

	err := engine.ProcessEvent(mustRemoveLiquidity(1, supply.Add(fixedmath.One()), now0))
	if err == nil {
		t.Fatal("remove exceeding the provider's balance accepted")
	}
}

// ============================================================================
// Test: Idempotency
// ============================================================================

func TestDuplicateEventIgnored(t *testing.T) {
	engine, persistCh, _ := newTestEngine()

	process(t, engine, mustInitialize(0, "1000000"))
	evt := mustOpenLong(1, "10000", now0)
	process(t, engine, evt)
	drainOutputs(persistCh)

	hashBefore := engine.GetStateHash()
	seqBefore := engine.GetSequence()

	// Redelivery of the same trade ID: silently dropped.
	if err := engine.ProcessEvent(evt); err != nil {
		t.Fatalf("duplicate returned error: %v", err)
	}

	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Errorf("duplicate emitted %d outputs", len(outputs))
	}
	if engine.GetStateHash() != hashBefore {
		t.Error("duplicate advanced the hash chain")
	}
	if engine.GetSequence() != seqBefore {
		t.Error("duplicate advanced the sequence")
	}
}

// ============================================================================
// Test: Sequence validation
// ============================================================================

func TestSequenceGapRejected(t *testing.T) {
	engine, _, _ := newTestEngine()

	process(t, engine, mustInitialize(0, "1000000"))

	err := engine.ProcessEvent(mustOpenLong(5, "10000", now0))
	if err == nil {
		t.Fatal("gapped source sequence accepted")
	}
}

func TestCheckpointSequenceToleratesGaps(t *testing.T) {
	engine, _, _ := newTestEngine()

	process(t, engine, mustInitialize(0, "1000000"))

	// Keepers skip intervals after restarts; checkpoint requests have their
	// own gap-tolerant partition.
	if err := engine.ProcessEvent(mustCheckpoint(7, now0, now0, "1.0")); err != nil {
		t.Fatalf("gapped checkpoint sequence rejected: %v", err)
	}
}

// ============================================================================
// Test: Hash chain
// ============================================================================

func TestHashChainIsDeterministic(t *testing.T) {
	run := func() [32]byte {
		engine, persistCh, _ := newTestEngine()
		process(t, engine, mustInitialize(0, "1000000"))
		process(t, engine, mustOpenLong(1, "10000", now0))
		process(t, engine, mustOpenShort(2, "5000", now0))
		process(t, engine, mustAddLiquidity(3, "25000", now0))
		drainOutputs(persistCh)
		return engine.GetStateHash()
	}

	if run() != run() {
		t.Fatal("identical event streams produced different state hashes")
	}
}

func TestEnvelopeChainsPrevHash(t *testing.T) {
	engine, persistCh, _ := newTestEngine()

	process(t, engine, mustInitialize(0, "1000000"))
	process(t, engine, mustOpenLong(1, "10000", now0))

	outputs := drainOutputs(persistCh)
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs))
	}
	first, second := outputs[0].Envelope, outputs[1].Envelope

	if first.Sequence != 0 || second.Sequence != 1 {
		t.Errorf("sequences = %d, %d, want 0, 1", first.Sequence, second.Sequence)
	}
	if second.PrevHash != first.StateHash {
		t.Error("second envelope's prev hash does not chain to the first's state hash")
	}
	if first.StateHash == first.PrevHash {
		t.Error("state hash equals prev hash; chain did not advance")
	}
	if second.StateHash != engine.GetStateHash() {
		t.Error("engine hash tip does not match the last envelope")
	}
}

func TestEnvelopeFields(t *testing.T) {
	engine, persistCh, _ := newTestEngine()

	process(t, engine, mustInitialize(0, "1000000"))
	evt := mustOpenLong(1, "10000", now0)
	process(t, engine, evt)

	outputs := drainOutputs(persistCh)
	env := outputs[1].Envelope

	if env.EventType != event.EventTypeOpenLong {
		t.Errorf("event type = %v, want open long", env.EventType)
	}
	if env.PoolID == nil || *env.PoolID != testPool {
		t.Errorf("pool ID = %v, want %q", env.PoolID, testPool)
	}
	if env.IdempotencyKey != evt.TradeID.String() {
		t.Errorf("idempotency key = %q, want the trade ID", env.IdempotencyKey)
	}
	if env.SourceSequence != 1 {
		t.Errorf("source sequence = %d, want 1", env.SourceSequence)
	}
	if !env.Timestamp.Equal(evt.Timestamp) {
		t.Errorf("timestamp = %v, want the event's versioned timestamp", env.Timestamp)
	}

	var decoded event.OpenLong
	if err := json.Unmarshal(env.Payload, &decoded); err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}
	if decoded.TradeID != evt.TradeID || !decoded.BaseAmount.Eq(evt.BaseAmount) {
		t.Errorf("decoded payload %+v does not round-trip the event", decoded)
	}
}

// ============================================================================
// Test: Output channels
// ============================================================================

func TestProjectionChannelDropsOnFull(t *testing.T) {
	persistCh := make(chan core.CoreOutput, 256)
	projCh := make(chan core.CoreOutput, 1)
	engine := core.NewPoolEngine(testPool, testConfig(), 0, persistCh, projCh, nil, nil)

	process(t, engine, mustInitialize(0, "1000000"))
	process(t, engine, mustOpenLong(1, "10000", now0))
	process(t, engine, mustOpenShort(2, "5000", now0))

	// Persistence gets every output; the projection channel dropped the
	// overflow without blocking the engine.
	if got := len(drainOutputs(persistCh)); got != 3 {
		t.Errorf("persistence outputs = %d, want 3", got)
	}
	if got := len(drainOutputs(projCh)); got != 1 {
		t.Errorf("projection outputs = %d, want 1 (rest dropped)", got)
	}
}

// ============================================================================
// Test: Checkpoints and maturity
// ============================================================================

func TestCheckpointSettlesMaturedLongs(t *testing.T) {
	engine, _, _ := newTestEngine()

	process(t, engine, mustInitialize(0, "1000000"))
	process(t, engine, mustOpenLong(1, "10000", now0))

	maturity := now0 + year
	bonds := engine.PositionSupply(ledger.LongAsset(maturity))

	process(t, engine, mustCheckpoint(0, maturity, maturity, "1.05"))

	market := engine.MarketSnapshot()
	if !market.LongsOutstanding.IsZero() {
		t.Errorf("longs outstanding = %s after maturity checkpoint, want 0", market.LongsOutstanding)
	}
	// Matured-but-unclosed bonds move to the zombie bucket until redeemed.
	if market.ZombieBaseProceeds.IsZero() {
		t.Error("no zombie proceeds recorded for matured longs")
	}
	if _, ok := market.Checkpoints[maturity]; !ok {
		t.Error("maturity checkpoint not minted")
	}

	// The position itself survives until the trader closes it.
	if !engine.PositionSupply(ledger.LongAsset(maturity)).Eq(bonds) {
		t.Error("maturity checkpoint burned trader positions")
	}
}

func TestCloseAfterMaturityBackfillsCheckpoint(t *testing.T) {
	engine, _, _ := newTestEngine()

	process(t, engine, mustInitialize(0, "1000000"))
	process(t, engine, mustOpenLong(1, "10000", now0))

	maturity := now0 + year
	bonds := engine.PositionSupply(ledger.LongAsset(maturity))

	// No keeper checkpoint ran at maturity; the close itself must settle
	// the matured interval before pricing the position.
	process(t, engine, mustCloseLong(2, maturity, bonds, maturity+day))

	market := engine.MarketSnapshot()
	if _, ok := market.Checkpoints[maturity]; !ok {
		t.Error("close did not backfill the maturity checkpoint")
	}
	if !engine.PositionSupply(ledger.LongAsset(maturity)).IsZero() {
		t.Error("matured position not burned by close")
	}
}

func TestCheckpointIsIdempotent(t *testing.T) {
	engine, _, _ := newTestEngine()

	process(t, engine, mustInitialize(0, "1000000"))
	process(t, engine, mustCheckpoint(0, now0, now0, "1.0"))

	hashAfterFirst := engine.GetStateHash()

	// A second request for the same interval re-applies harmlessly: the
	// checkpoint is already minted so the state digest only moves by the
	// (empty) entry list.
	evt := mustCheckpoint(1, now0, now0, "1.0")
	process(t, engine, evt)

	market := engine.MarketSnapshot()
	if len(market.Checkpoints) != 1 {
		t.Errorf("checkpoint count = %d, want 1", len(market.Checkpoints))
	}
	if engine.GetStateHash() == hashAfterFirst {
		t.Error("applied event did not advance the hash chain")
	}
}

// ============================================================================
// Test: Pause
// ============================================================================

func TestPauseBlocksOpensAllowsCloses(t *testing.T) {
	engine, _, _ := newTestEngine()

	process(t, engine, mustInitialize(0, "1000000"))
	process(t, engine, mustOpenLong(1, "10000", now0))

	maturity := now0 + year
	bonds := engine.PositionSupply(ledger.LongAsset(maturity))

	process(t, engine, mustPauseSet(2, true, now0))

	err := engine.ProcessEvent(mustOpenLong(3, "10000", now0))
	if !errors.Is(err, hyperdrive.ErrPoolPaused) {
		t.Fatalf("open while paused error = %v, want ErrPoolPaused", err)
	}

	// Rejected events still consume their source sequence.
	process(t, engine, mustCloseLong(4, maturity, bonds, now0+day))

	if !engine.PositionSupply(ledger.LongAsset(maturity)).IsZero() {
		t.Error("close while paused did not burn the position")
	}

	process(t, engine, mustPauseSet(5, false, now0+day))
	process(t, engine, mustOpenLong(6, "10000", now0+day))
}

// ============================================================================
// Test: Snapshot / restore
// ============================================================================

func TestSnapshotRestoreResumesChain(t *testing.T) {
	engineA, persistA, _ := newTestEngine()

	process(t, engineA, mustInitialize(0, "1000000"))
	process(t, engineA, mustOpenLong(1, "10000", now0))
	drainOutputs(persistA)

	snap := engineA.CreateSnapshotState()

	engineB, persistB, _ := newTestEngine()
	engineB.RestoreFromSnapshot(snap)
	engineB.WarmLRU(snap.IdempotencyKeys)

	if engineB.GetSequence() != engineA.GetSequence() {
		t.Fatalf("restored sequence = %d, want %d", engineB.GetSequence(), engineA.GetSequence())
	}
	if engineB.GetStateHash() != engineA.GetStateHash() {
		t.Fatal("restored hash tip differs")
	}
	if !engineB.GovernanceFeesAccrued().Eq(engineA.GovernanceFeesAccrued()) {
		t.Error("restored governance fees differ")
	}

	maturity := now0 + year
	if !engineB.PositionSupply(ledger.LongAsset(maturity)).Eq(engineA.PositionSupply(ledger.LongAsset(maturity))) {
		t.Fatal("restored position supply differs")
	}

	// A redelivered pre-snapshot event is still recognized as a duplicate.
	if err := engineB.ProcessEvent(mustOpenLong(1, "10000", now0)); err != nil {
		t.Fatalf("redelivered event after restore: %v", err)
	}
	if outputs := drainOutputs(persistB); len(outputs) != 0 {
		t.Errorf("redelivered event emitted %d outputs after restore", len(outputs))
	}

	// Both engines process the same next event and stay in lockstep.
	bonds := engineA.PositionSupply(ledger.LongAsset(maturity))
	closeEvt := mustCloseLong(2, maturity, bonds, now0+day)
	process(t, engineA, closeEvt)
	process(t, engineB, closeEvt)

	if engineA.GetStateHash() != engineB.GetStateHash() {
		t.Fatal("engines diverged after restore")
	}
	outA, outB := drainOutputs(persistA), drainOutputs(persistB)
	if len(outA) != 1 || len(outB) != 1 {
		t.Fatalf("outputs after restore = %d, %d, want 1 each", len(outA), len(outB))
	}
	if !bytes.Equal(outA[0].StateDelta, outB[0].StateDelta) {
		t.Error("state digests diverged after restore")
	}
}

// ============================================================================
// Test: Routing
// ============================================================================

func TestWrongPoolRejected(t *testing.T) {
	engine, _, _ := newTestEngine()

	evt := mustInitialize(0, "1000000")
	evt.Pool = "pool-2"

	if err := engine.ProcessEvent(evt); err == nil {
		t.Fatal("event for another pool accepted")
	}
}
