package core

import (
	"fmt"
)

// SequenceValidator validates source sequences per partition.
// Not thread-safe — guarded by the engine's mutex.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         NewSequenceMetrics(),
	}
}

// ValidateSequence checks source sequence ordering
func (sv *SequenceValidator) ValidateSequence(
	partition string,
	sourceSequence int64,
	idempotencyKey string,
	isDuplicate bool,
) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		// Stale or duplicate
		if isDuplicate {
			return nil
		}
		// Out-of-order delivery of a NEW event
		sv.metrics.RecordOutOfOrder(partition)
		return fmt.Errorf("out-of-order event: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	}

	// sourceSequence > expected - gap detected
	sv.metrics.RecordGap(partition, expected, sourceSequence)
	return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
		partition, expected, sourceSequence)
}

// ValidateCheckpointSequence validates keeper checkpoint requests. Keepers
// restart and skip intervals, so gaps are tolerated; only stale requests
// are dropped.
func (sv *SequenceValidator) ValidateCheckpointSequence(
	poolID string,
	checkpointSequence int64,
) error {
	partition := fmt.Sprintf("checkpoint:%s", poolID)

	expected := sv.expectedNextSeq[partition]

	if checkpointSequence < expected {
		// Stale - silently ignore (checkpoints are idempotent)
		return nil
	}

	if checkpointSequence > expected+1 {
		sv.metrics.RecordCheckpointGap(poolID, expected, checkpointSequence)
	}

	sv.expectedNextSeq[partition] = checkpointSequence + 1

	return nil
}

// GetExpectedSequence returns the next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// SetExpectedSequence initializes an expected sequence (used during recovery)
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// GetAllPartitions returns a copy of every partition's expected sequence,
// for snapshotting.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
// Not thread-safe — guarded by the engine's mutex.
type SequenceMetrics struct {
	gaps           map[string]int64 // partition -> gap count
	outOfOrder     map[string]int64 // partition -> out-of-order count
	checkpointGaps map[string]int64 // pool_id -> checkpoint gap count
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:           make(map[string]int64),
		outOfOrder:     make(map[string]int64),
		checkpointGaps: make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string, expected, got int64) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) RecordCheckpointGap(poolID string, expected, got int64) {
	m.checkpointGaps[poolID]++
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}

func (m *SequenceMetrics) GetCheckpointGaps(poolID string) int64 {
	return m.checkpointGaps[poolID]
}
