package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// AssetKind classifies the positions a pool can mint
type AssetKind uint8

const (
	AssetKindLP AssetKind = iota
	AssetKindWithdrawalShare
	AssetKindLong
	AssetKindShort
)

// AssetKey identifies a fungible position class. Longs and shorts are only
// fungible within a maturity bucket, so the maturity time is part of the key.
// LP and withdrawal shares carry a zero maturity.
type AssetKey struct {
	Kind         AssetKind
	MaturityTime uint64
}

func LPAsset() AssetKey {
	return AssetKey{Kind: AssetKindLP}
}

func WithdrawalShareAsset() AssetKey {
	return AssetKey{Kind: AssetKindWithdrawalShare}
}

func LongAsset(maturityTime uint64) AssetKey {
	return AssetKey{Kind: AssetKindLong, MaturityTime: maturityTime}
}

func ShortAsset(maturityTime uint64) AssetKey {
	return AssetKey{Kind: AssetKindShort, MaturityTime: maturityTime}
}

func (k AssetKind) String() string {
	switch k {
	case AssetKindLP:
		return "lp"
	case AssetKindWithdrawalShare:
		return "withdrawal_share"
	case AssetKindLong:
		return "long"
	case AssetKindShort:
		return "short"
	default:
		return "unknown"
	}
}

// AssetPath returns the string representation for storage/logging,
// e.g. "long:1736208000" or "lp".
func (k AssetKey) AssetPath() string {
	switch k.Kind {
	case AssetKindLong, AssetKindShort:
		return fmt.Sprintf("%s:%d", k.Kind, k.MaturityTime)
	default:
		return k.Kind.String()
	}
}

// ParseAssetPath is the inverse of AssetPath, used when loading persisted
// balances.
func ParseAssetPath(path string) (AssetKey, error) {
	name, suffix, hasSuffix := strings.Cut(path, ":")
	var kind AssetKind
	switch name {
	case "lp":
		kind = AssetKindLP
	case "withdrawal_share":
		kind = AssetKindWithdrawalShare
	case "long":
		kind = AssetKindLong
	case "short":
		kind = AssetKindShort
	default:
		return AssetKey{}, fmt.Errorf("unknown asset path %q", path)
	}

	if kind == AssetKindLong || kind == AssetKindShort {
		if !hasSuffix {
			return AssetKey{}, fmt.Errorf("asset path %q is missing a maturity", path)
		}
		maturity, err := strconv.ParseUint(suffix, 10, 64)
		if err != nil {
			return AssetKey{}, fmt.Errorf("asset path %q has a bad maturity: %w", path, err)
		}
		return AssetKey{Kind: kind, MaturityTime: maturity}, nil
	}
	if hasSuffix {
		return AssetKey{}, fmt.Errorf("asset path %q carries an unexpected maturity", path)
	}
	return AssetKey{Kind: kind}, nil
}

// HolderKey is the in-memory key for balance tracking
type HolderKey struct {
	Holder uuid.UUID
	Asset  AssetKey
}
