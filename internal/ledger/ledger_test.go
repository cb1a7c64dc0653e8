package ledger_test

import (
	"testing"

	"github.com/google/uuid"

	"hyperdrived/internal/fixedmath"
	"hyperdrived/internal/ledger"
)

// ============================================================================
// Test: PositionLedger
// ============================================================================

func TestMintBurnRoundTrip(t *testing.T) {
	l := ledger.NewPositionLedger()
	trader := uuid.New()
	asset := ledger.LongAsset(1_000_000)

	if err := l.Mint("evt-1", 1, trader, asset, fixedmath.Scaled(500), 100); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if got := l.BalanceOf(trader, asset); !got.Eq(fixedmath.Scaled(500)) {
		t.Errorf("balance %s, want 500", got)
	}
	if got := l.TotalSupply(asset); !got.Eq(fixedmath.Scaled(500)) {
		t.Errorf("supply %s, want 500", got)
	}

	if err := l.Burn("evt-2", 2, trader, asset, fixedmath.Scaled(500), 200); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if !l.BalanceOf(trader, asset).IsZero() || !l.TotalSupply(asset).IsZero() {
		t.Error("balances not cleared after full burn")
	}
}

func TestBurnRejectsOverdraft(t *testing.T) {
	l := ledger.NewPositionLedger()
	trader := uuid.New()
	asset := ledger.LPAsset()

	if err := l.Mint("evt-1", 1, trader, asset, fixedmath.Scaled(100), 100); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Burn("evt-2", 2, trader, asset, fixedmath.Scaled(101), 200); err == nil {
		t.Fatal("overdraft burn accepted")
	}
	// The failed burn must leave the balance untouched.
	if got := l.BalanceOf(trader, asset); !got.Eq(fixedmath.Scaled(100)) {
		t.Errorf("balance %s after failed burn, want 100", got)
	}
}

func TestTransferMovesWithoutChangingSupply(t *testing.T) {
	l := ledger.NewPositionLedger()
	a, b := uuid.New(), uuid.New()
	asset := ledger.ShortAsset(2_000_000)

	if err := l.Mint("evt-1", 1, a, asset, fixedmath.Scaled(300), 100); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Transfer("evt-2", 2, a, b, asset, fixedmath.Scaled(120), 200); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if got := l.BalanceOf(a, asset); !got.Eq(fixedmath.Scaled(180)) {
		t.Errorf("sender balance %s, want 180", got)
	}
	if got := l.BalanceOf(b, asset); !got.Eq(fixedmath.Scaled(120)) {
		t.Errorf("recipient balance %s, want 120", got)
	}
	if got := l.TotalSupply(asset); !got.Eq(fixedmath.Scaled(300)) {
		t.Errorf("supply %s, want 300", got)
	}
}

func TestMaturityBucketsAreDistinct(t *testing.T) {
	l := ledger.NewPositionLedger()
	trader := uuid.New()

	if err := l.Mint("evt-1", 1, trader, ledger.LongAsset(1000), fixedmath.Scaled(10), 100); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Mint("evt-2", 2, trader, ledger.LongAsset(2000), fixedmath.Scaled(20), 100); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if got := l.TotalSupply(ledger.LongAsset(1000)); !got.Eq(fixedmath.Scaled(10)) {
		t.Errorf("bucket 1000 supply %s, want 10", got)
	}
	if got := l.TotalSupply(ledger.LongAsset(2000)); !got.Eq(fixedmath.Scaled(20)) {
		t.Errorf("bucket 2000 supply %s, want 20", got)
	}
	if err := l.Burn("evt-3", 3, trader, ledger.LongAsset(1000), fixedmath.Scaled(20), 200); err == nil {
		t.Error("burn crossed maturity buckets")
	}
}

func TestDrainJournalRecordsEntries(t *testing.T) {
	l := ledger.NewPositionLedger()
	trader := uuid.New()
	asset := ledger.LPAsset()

	if err := l.Mint("evt-1", 1, trader, asset, fixedmath.Scaled(50), 100); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Burn("evt-2", 2, trader, asset, fixedmath.Scaled(10), 200); err != nil {
		t.Fatalf("burn: %v", err)
	}

	entries := l.DrainJournal()
	if len(entries) != 2 {
		t.Fatalf("journal has %d entries, want 2", len(entries))
	}
	if entries[0].Kind != ledger.EntryKindMint || entries[1].Kind != ledger.EntryKindBurn {
		t.Error("journal kinds out of order")
	}
	if entries[0].EventRef != "evt-1" || entries[1].Sequence != 2 {
		t.Error("journal provenance not recorded")
	}
	if len(l.DrainJournal()) != 0 {
		t.Error("drain did not clear the journal")
	}
}

func TestZeroAmountIsNoop(t *testing.T) {
	l := ledger.NewPositionLedger()
	trader := uuid.New()

	if err := l.Mint("evt-1", 1, trader, ledger.LPAsset(), fixedmath.Zero(), 100); err != nil {
		t.Fatalf("zero mint: %v", err)
	}
	if len(l.DrainJournal()) != 0 {
		t.Error("zero mint recorded a journal entry")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	l := ledger.NewPositionLedger()
	a, b := uuid.New(), uuid.New()

	if err := l.Mint("evt-1", 1, a, ledger.LPAsset(), fixedmath.Scaled(1000), 100); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Mint("evt-2", 2, b, ledger.ShortAsset(5000), fixedmath.Scaled(25), 100); err != nil {
		t.Fatalf("mint: %v", err)
	}

	restored := ledger.NewPositionLedger()
	restored.Restore(l.Snapshot())

	if got := restored.BalanceOf(a, ledger.LPAsset()); !got.Eq(fixedmath.Scaled(1000)) {
		t.Errorf("restored LP balance %s, want 1000", got)
	}
	if got := restored.TotalSupply(ledger.ShortAsset(5000)); !got.Eq(fixedmath.Scaled(25)) {
		t.Errorf("restored short supply %s, want 25", got)
	}
}

func TestCloneIsIndependentOfOriginal(t *testing.T) {
	l := ledger.NewPositionLedger()
	trader := uuid.New()
	if err := l.Mint("evt-1", 1, trader, ledger.LPAsset(), fixedmath.Scaled(10), 100); err != nil {
		t.Fatalf("mint: %v", err)
	}

	c := l.Clone()
	if err := c.Burn("evt-2", 2, trader, ledger.LPAsset(), fixedmath.Scaled(10), 200); err != nil {
		t.Fatalf("burn on clone: %v", err)
	}
	if got := l.BalanceOf(trader, ledger.LPAsset()); !got.Eq(fixedmath.Scaled(10)) {
		t.Errorf("clone burn leaked into original: %s", got)
	}
}

func TestAssetPathRoundTrip(t *testing.T) {
	cases := []ledger.AssetKey{
		ledger.LPAsset(),
		ledger.WithdrawalShareAsset(),
		ledger.LongAsset(1736208000),
		ledger.ShortAsset(42),
	}
	for _, want := range cases {
		got, err := ledger.ParseAssetPath(want.AssetPath())
		if err != nil {
			t.Errorf("parse %q: %v", want.AssetPath(), err)
			continue
		}
		if got != want {
			t.Errorf("parse %q: got %+v", want.AssetPath(), got)
		}
	}
	if _, err := ledger.ParseAssetPath("lp:123"); err == nil {
		t.Error("lp with maturity accepted")
	}
	if _, err := ledger.ParseAssetPath("long"); err == nil {
		t.Error("long without maturity accepted")
	}
}

func TestInvariantValidatorCatchesDrift(t *testing.T) {
	book := ledger.NewPositionBook()
	trader := uuid.New()
	entry := ledger.Entry{
		EntryID:  uuid.New(),
		EventRef: "evt-1",
		Sequence: 1,
		Kind:     ledger.EntryKindMint,
		Asset:    ledger.LPAsset(),
		To:       trader,
		Amount:   fixedmath.Scaled(5),
		PoolTime: 100,
	}
	if err := book.Apply(entry); err != nil {
		t.Fatalf("apply: %v", err)
	}

	v := ledger.NewInvariantValidator(book)
	if err := v.ValidateSupplies(); err != nil {
		t.Errorf("consistent book flagged: %v", err)
	}
	if err := v.ValidateSupplyMatches(ledger.LPAsset(), fixedmath.Scaled(5)); err != nil {
		t.Errorf("matching supply flagged: %v", err)
	}
	if err := v.ValidateSupplyMatches(ledger.LPAsset(), fixedmath.Scaled(6)); err == nil {
		t.Error("mismatched supply not flagged")
	}
}
