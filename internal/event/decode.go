package event

import (
	"encoding/json"
	"fmt"
)

// DecodePayload reconstructs a typed event from an event-log payload. The
// log stores the engine's internal JSON encoding, so this is the inverse of
// json.Marshal on the event structs and is only used for replay.
func DecodePayload(eventType string, payload []byte) (Event, error) {
	var evt Event
	switch eventType {
	case "Initialize":
		evt = &Initialize{}
	case "AddLiquidity":
		evt = &AddLiquidity{}
	case "RemoveLiquidity":
		evt = &RemoveLiquidity{}
	case "RedeemWithdrawalShares":
		evt = &RedeemWithdrawalShares{}
	case "OpenLong":
		evt = &OpenLong{}
	case "CloseLong":
		evt = &CloseLong{}
	case "OpenShort":
		evt = &OpenShort{}
	case "CloseShort":
		evt = &CloseShort{}
	case "Checkpoint":
		evt = &Checkpoint{}
	case "PauseSet":
		evt = &PauseSet{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return evt, nil
}
