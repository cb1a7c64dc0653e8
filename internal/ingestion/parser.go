package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hyperdrived/internal/event"
	"hyperdrived/internal/fixedmath"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts raw
// events before sending anything to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "OpenLong":
		return parseOpenLong(raw.Data)
	case "CloseLong":
		return parseCloseLong(raw.Data)
	case "OpenShort":
		return parseOpenShort(raw.Data)
	case "CloseShort":
		return parseCloseShort(raw.Data)
	case "Initialize":
		return parseInitialize(raw.Data)
	case "AddLiquidity":
		return parseAddLiquidity(raw.Data)
	case "RemoveLiquidity":
		return parseRemoveLiquidity(raw.Data)
	case "RedeemWithdrawalShares":
		return parseRedeemWithdrawalShares(raw.Data)
	case "Checkpoint":
		return parseCheckpoint(raw.Data)
	case "PauseSet":
		return parsePauseSet(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS. Field names
// use snake_case to match upstream producers; fixed-point amounts travel as
// decimal strings.

// optionsJSON carries the optional settlement overrides.
type optionsJSON struct {
	Destination string `json:"destination,omitempty"`
	AsBase      bool   `json:"as_base,omitempty"`
	ExtraData   []byte `json:"extra_data,omitempty"`
}

func parseOptions(j optionsJSON) (event.SettlementOptions, error) {
	opts := event.SettlementOptions{AsBase: j.AsBase, ExtraData: j.ExtraData}
	if j.Destination != "" {
		dest, err := uuid.Parse(j.Destination)
		if err != nil {
			return opts, fmt.Errorf("parse destination: %w", err)
		}
		opts.Destination = dest
	}
	return opts, nil
}

// parseAmount decodes a required decimal-string amount.
func parseAmount(field, s string) (fixedmath.FixedPoint, error) {
	if s == "" {
		return fixedmath.Zero(), fmt.Errorf("missing %s", field)
	}
	v, err := fixedmath.FromDec(s)
	if err != nil {
		return fixedmath.Zero(), fmt.Errorf("parse %s: %w", field, err)
	}
	return v, nil
}

// parseOptionalAmount decodes a decimal-string amount that defaults to zero.
func parseOptionalAmount(field, s string) (fixedmath.FixedPoint, error) {
	if s == "" {
		return fixedmath.Zero(), nil
	}
	return parseAmount(field, s)
}

type openLongJSON struct {
	TradeID         string      `json:"trade_id"`
	Trader          string      `json:"trader"`
	Pool            string      `json:"pool"`
	BaseAmount      string      `json:"base_amount"`
	MinOutput       string      `json:"min_output,omitempty"`
	MinVaultPrice   string      `json:"min_vault_price,omitempty"`
	VaultSharePrice string      `json:"vault_share_price"`
	PoolTime        uint64      `json:"pool_time"`
	Options         optionsJSON `json:"options,omitempty"`
	TradeSequence   int64       `json:"trade_sequence"`
	TimestampUs     int64       `json:"timestamp_us"`
}

func parseOpenLong(data []byte) (*event.OpenLong, error) {
	var j openLongJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OpenLong: %w", err)
	}

	tradeID, err := uuid.Parse(j.TradeID)
	if err != nil {
		return nil, fmt.Errorf("parse trade_id: %w", err)
	}
	trader, err := uuid.Parse(j.Trader)
	if err != nil {
		return nil, fmt.Errorf("parse trader: %w", err)
	}
	baseAmount, err := parseAmount("base_amount", j.BaseAmount)
	if err != nil {
		return nil, err
	}
	minOutput, err := parseOptionalAmount("min_output", j.MinOutput)
	if err != nil {
		return nil, err
	}
	minVaultPrice, err := parseOptionalAmount("min_vault_price", j.MinVaultPrice)
	if err != nil {
		return nil, err
	}
	vaultSharePrice, err := parseAmount("vault_share_price", j.VaultSharePrice)
	if err != nil {
		return nil, err
	}
	opts, err := parseOptions(j.Options)
	if err != nil {
		return nil, err
	}

	return &event.OpenLong{
		TradeID:         tradeID,
		Trader:          trader,
		Pool:            j.Pool,
		BaseAmount:      baseAmount,
		MinOutput:       minOutput,
		MinVaultPrice:   minVaultPrice,
		VaultSharePrice: vaultSharePrice,
		PoolTime:        j.PoolTime,
		Options:         opts,
		TradeSequence:   j.TradeSequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type closeTradeJSON struct {
	TradeID         string      `json:"trade_id"`
	Trader          string      `json:"trader"`
	Pool            string      `json:"pool"`
	MaturityTime    uint64      `json:"maturity_time"`
	BondAmount      string      `json:"bond_amount"`
	MinOutput       string      `json:"min_output,omitempty"`
	VaultSharePrice string      `json:"vault_share_price"`
	PoolTime        uint64      `json:"pool_time"`
	Options         optionsJSON `json:"options,omitempty"`
	TradeSequence   int64       `json:"trade_sequence"`
	TimestampUs     int64       `json:"timestamp_us"`
}

// parseCloseTrade decodes the shared close-position wire shape.
func parseCloseTrade(data []byte, kind string) (closeTradeJSON, uuid.UUID, uuid.UUID, fixedmath.FixedPoint, fixedmath.FixedPoint, fixedmath.FixedPoint, event.SettlementOptions, error) {
	var j closeTradeJSON
	var zero fixedmath.FixedPoint
	var opts event.SettlementOptions
	if err := json.Unmarshal(data, &j); err != nil {
		return j, uuid.Nil, uuid.Nil, zero, zero, zero, opts, fmt.Errorf("parse %s: %w", kind, err)
	}

	tradeID, err := uuid.Parse(j.TradeID)
	if err != nil {
		return j, uuid.Nil, uuid.Nil, zero, zero, zero, opts, fmt.Errorf("parse trade_id: %w", err)
	}
	trader, err := uuid.Parse(j.Trader)
	if err != nil {
		return j, uuid.Nil, uuid.Nil, zero, zero, zero, opts, fmt.Errorf("parse trader: %w", err)
	}
	bondAmount, err := parseAmount("bond_amount", j.BondAmount)
	if err != nil {
		return j, uuid.Nil, uuid.Nil, zero, zero, zero, opts, err
	}
	minOutput, err := parseOptionalAmount("min_output", j.MinOutput)
	if err != nil {
		return j, uuid.Nil, uuid.Nil, zero, zero, zero, opts, err
	}
	vaultSharePrice, err := parseAmount("vault_share_price", j.VaultSharePrice)
	if err != nil {
		return j, uuid.Nil, uuid.Nil, zero, zero, zero, opts, err
	}
	opts, err = parseOptions(j.Options)
	if err != nil {
		return j, uuid.Nil, uuid.Nil, zero, zero, zero, opts, err
	}

	return j, tradeID, trader, bondAmount, minOutput, vaultSharePrice, opts, nil
}

func parseCloseLong(data []byte) (*event.CloseLong, error) {
	j, tradeID, trader, bondAmount, minOutput, vaultSharePrice, opts, err := parseCloseTrade(data, "CloseLong")
	if err != nil {
		return nil, err
	}
	return &event.CloseLong{
		TradeID:         tradeID,
		Trader:          trader,
		Pool:            j.Pool,
		MaturityTime:    j.MaturityTime,
		BondAmount:      bondAmount,
		MinOutput:       minOutput,
		VaultSharePrice: vaultSharePrice,
		PoolTime:        j.PoolTime,
		Options:         opts,
		TradeSequence:   j.TradeSequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseCloseShort(data []byte) (*event.CloseShort, error) {
	j, tradeID, trader, bondAmount, minOutput, vaultSharePrice, opts, err := parseCloseTrade(data, "CloseShort")
	if err != nil {
		return nil, err
	}
	return &event.CloseShort{
		TradeID:         tradeID,
		Trader:          trader,
		Pool:            j.Pool,
		MaturityTime:    j.MaturityTime,
		BondAmount:      bondAmount,
		MinOutput:       minOutput,
		VaultSharePrice: vaultSharePrice,
		PoolTime:        j.PoolTime,
		Options:         opts,
		TradeSequence:   j.TradeSequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type openShortJSON struct {
	TradeID         string      `json:"trade_id"`
	Trader          string      `json:"trader"`
	Pool            string      `json:"pool"`
	BondAmount      string      `json:"bond_amount"`
	MaxDeposit      string      `json:"max_deposit,omitempty"`
	VaultSharePrice string      `json:"vault_share_price"`
	PoolTime        uint64      `json:"pool_time"`
	Options         optionsJSON `json:"options,omitempty"`
	TradeSequence   int64       `json:"trade_sequence"`
	TimestampUs     int64       `json:"timestamp_us"`
}

func parseOpenShort(data []byte) (*event.OpenShort, error) {
	var j openShortJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OpenShort: %w", err)
	}

	tradeID, err := uuid.Parse(j.TradeID)
	if err != nil {
		return nil, fmt.Errorf("parse trade_id: %w", err)
	}
	trader, err := uuid.Parse(j.Trader)
	if err != nil {
		return nil, fmt.Errorf("parse trader: %w", err)
	}
	bondAmount, err := parseAmount("bond_amount", j.BondAmount)
	if err != nil {
		return nil, err
	}
	maxDeposit, err := parseOptionalAmount("max_deposit", j.MaxDeposit)
	if err != nil {
		return nil, err
	}
	vaultSharePrice, err := parseAmount("vault_share_price", j.VaultSharePrice)
	if err != nil {
		return nil, err
	}
	opts, err := parseOptions(j.Options)
	if err != nil {
		return nil, err
	}

	return &event.OpenShort{
		TradeID:         tradeID,
		Trader:          trader,
		Pool:            j.Pool,
		BondAmount:      bondAmount,
		MaxDeposit:      maxDeposit,
		VaultSharePrice: vaultSharePrice,
		PoolTime:        j.PoolTime,
		Options:         opts,
		TradeSequence:   j.TradeSequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type initializeJSON struct {
	RequestID       string      `json:"request_id"`
	Provider        string      `json:"provider"`
	Pool            string      `json:"pool"`
	Contribution    string      `json:"contribution"`
	TargetRate      string      `json:"target_rate"`
	VaultSharePrice string      `json:"vault_share_price"`
	PoolTime        uint64      `json:"pool_time"`
	Options         optionsJSON `json:"options,omitempty"`
	RequestSequence int64       `json:"request_sequence"`
	TimestampUs     int64       `json:"timestamp_us"`
}

func parseInitialize(data []byte) (*event.Initialize, error) {
	var j initializeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Initialize: %w", err)
	}

	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	provider, err := uuid.Parse(j.Provider)
	if err != nil {
		return nil, fmt.Errorf("parse provider: %w", err)
	}
	contribution, err := parseAmount("contribution", j.Contribution)
	if err != nil {
		return nil, err
	}
	targetRate, err := parseAmount("target_rate", j.TargetRate)
	if err != nil {
		return nil, err
	}
	vaultSharePrice, err := parseAmount("vault_share_price", j.VaultSharePrice)
	if err != nil {
		return nil, err
	}
	opts, err := parseOptions(j.Options)
	if err != nil {
		return nil, err
	}

	return &event.Initialize{
		RequestID:       requestID,
		Provider:        provider,
		Pool:            j.Pool,
		Contribution:    contribution,
		TargetRate:      targetRate,
		VaultSharePrice: vaultSharePrice,
		PoolTime:        j.PoolTime,
		Options:         opts,
		RequestSequence: j.RequestSequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type addLiquidityJSON struct {
	RequestID       string      `json:"request_id"`
	Provider        string      `json:"provider"`
	Pool            string      `json:"pool"`
	Contribution    string      `json:"contribution"`
	MinLpSharePrice string      `json:"min_lp_share_price,omitempty"`
	MinRate         string      `json:"min_rate,omitempty"`
	MaxRate         string      `json:"max_rate,omitempty"`
	VaultSharePrice string      `json:"vault_share_price"`
	PoolTime        uint64      `json:"pool_time"`
	Options         optionsJSON `json:"options,omitempty"`
	RequestSequence int64       `json:"request_sequence"`
	TimestampUs     int64       `json:"timestamp_us"`
}

func parseAddLiquidity(data []byte) (*event.AddLiquidity, error) {
	var j addLiquidityJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse AddLiquidity: %w", err)
	}

	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	provider, err := uuid.Parse(j.Provider)
	if err != nil {
		return nil, fmt.Errorf("parse provider: %w", err)
	}
	contribution, err := parseAmount("contribution", j.Contribution)
	if err != nil {
		return nil, err
	}
	minLpSharePrice, err := parseOptionalAmount("min_lp_share_price", j.MinLpSharePrice)
	if err != nil {
		return nil, err
	}
	minRate, err := parseOptionalAmount("min_rate", j.MinRate)
	if err != nil {
		return nil, err
	}
	maxRate, err := parseOptionalAmount("max_rate", j.MaxRate)
	if err != nil {
		return nil, err
	}
	vaultSharePrice, err := parseAmount("vault_share_price", j.VaultSharePrice)
	if err != nil {
		return nil, err
	}
	opts, err := parseOptions(j.Options)
	if err != nil {
		return nil, err
	}

	return &event.AddLiquidity{
		RequestID:       requestID,
		Provider:        provider,
		Pool:            j.Pool,
		Contribution:    contribution,
		MinLpSharePrice: minLpSharePrice,
		MinRate:         minRate,
		MaxRate:         maxRate,
		VaultSharePrice: vaultSharePrice,
		PoolTime:        j.PoolTime,
		Options:         opts,
		RequestSequence: j.RequestSequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type removeLiquidityJSON struct {
	RequestID         string      `json:"request_id"`
	Provider          string      `json:"provider"`
	Pool              string      `json:"pool"`
	LpShares          string      `json:"lp_shares"`
	MinOutputPerShare string      `json:"min_output_per_share,omitempty"`
	VaultSharePrice   string      `json:"vault_share_price"`
	PoolTime          uint64      `json:"pool_time"`
	Options           optionsJSON `json:"options,omitempty"`
	RequestSequence   int64       `json:"request_sequence"`
	TimestampUs       int64       `json:"timestamp_us"`
}

func parseRemoveLiquidity(data []byte) (*event.RemoveLiquidity, error) {
	var j removeLiquidityJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RemoveLiquidity: %w", err)
	}

	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	provider, err := uuid.Parse(j.Provider)
	if err != nil {
		return nil, fmt.Errorf("parse provider: %w", err)
	}
	lpShares, err := parseAmount("lp_shares", j.LpShares)
	if err != nil {
		return nil, err
	}
	minOutputPerShare, err := parseOptionalAmount("min_output_per_share", j.MinOutputPerShare)
	if err != nil {
		return nil, err
	}
	vaultSharePrice, err := parseAmount("vault_share_price", j.VaultSharePrice)
	if err != nil {
		return nil, err
	}
	opts, err := parseOptions(j.Options)
	if err != nil {
		return nil, err
	}

	return &event.RemoveLiquidity{
		RequestID:         requestID,
		Provider:          provider,
		Pool:              j.Pool,
		LpShares:          lpShares,
		MinOutputPerShare: minOutputPerShare,
		VaultSharePrice:   vaultSharePrice,
		PoolTime:          j.PoolTime,
		Options:           opts,
		RequestSequence:   j.RequestSequence,
		Timestamp:         time.UnixMicro(j.TimestampUs),
	}, nil
}

type redeemJSON struct {
	RequestID         string      `json:"request_id"`
	Provider          string      `json:"provider"`
	Pool              string      `json:"pool"`
	WithdrawalShares  string      `json:"withdrawal_shares"`
	MinOutputPerShare string      `json:"min_output_per_share,omitempty"`
	VaultSharePrice   string      `json:"vault_share_price"`
	PoolTime          uint64      `json:"pool_time"`
	Options           optionsJSON `json:"options,omitempty"`
	RequestSequence   int64       `json:"request_sequence"`
	TimestampUs       int64       `json:"timestamp_us"`
}

func parseRedeemWithdrawalShares(data []byte) (*event.RedeemWithdrawalShares, error) {
	var j redeemJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RedeemWithdrawalShares: %w", err)
	}

	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	provider, err := uuid.Parse(j.Provider)
	if err != nil {
		return nil, fmt.Errorf("parse provider: %w", err)
	}
	withdrawalShares, err := parseAmount("withdrawal_shares", j.WithdrawalShares)
	if err != nil {
		return nil, err
	}
	minOutputPerShare, err := parseOptionalAmount("min_output_per_share", j.MinOutputPerShare)
	if err != nil {
		return nil, err
	}
	vaultSharePrice, err := parseAmount("vault_share_price", j.VaultSharePrice)
	if err != nil {
		return nil, err
	}
	opts, err := parseOptions(j.Options)
	if err != nil {
		return nil, err
	}

	return &event.RedeemWithdrawalShares{
		RequestID:         requestID,
		Provider:          provider,
		Pool:              j.Pool,
		WithdrawalShares:  withdrawalShares,
		MinOutputPerShare: minOutputPerShare,
		VaultSharePrice:   vaultSharePrice,
		PoolTime:          j.PoolTime,
		Options:           opts,
		RequestSequence:   j.RequestSequence,
		Timestamp:         time.UnixMicro(j.TimestampUs),
	}, nil
}

type checkpointJSON struct {
	RequestID       string `json:"request_id"`
	Pool            string `json:"pool"`
	CheckpointTime  uint64 `json:"checkpoint_time"`
	VaultSharePrice string `json:"vault_share_price"`
	PoolTime        uint64 `json:"pool_time"`
	RequestSequence int64  `json:"request_sequence"`
	TimestampUs     int64  `json:"timestamp_us"`
}

func parseCheckpoint(data []byte) (*event.Checkpoint, error) {
	var j checkpointJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Checkpoint: %w", err)
	}

	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	vaultSharePrice, err := parseAmount("vault_share_price", j.VaultSharePrice)
	if err != nil {
		return nil, err
	}

	return &event.Checkpoint{
		RequestID:       requestID,
		Pool:            j.Pool,
		CheckpointTime:  j.CheckpointTime,
		VaultSharePrice: vaultSharePrice,
		PoolTime:        j.PoolTime,
		RequestSequence: j.RequestSequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type pauseSetJSON struct {
	RequestID       string `json:"request_id"`
	Pool            string `json:"pool"`
	Paused          bool   `json:"paused"`
	PoolTime        uint64 `json:"pool_time"`
	RequestSequence int64  `json:"request_sequence"`
	TimestampUs     int64  `json:"timestamp_us"`
}

func parsePauseSet(data []byte) (*event.PauseSet, error) {
	var j pauseSetJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PauseSet: %w", err)
	}

	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}

	return &event.PauseSet{
		RequestID:       requestID,
		Pool:            j.Pool,
		Paused:          j.Paused,
		PoolTime:        j.PoolTime,
		RequestSequence: j.RequestSequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}
