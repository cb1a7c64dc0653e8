package fixedmath

import (
	"encoding/json"
	"fmt"
)

// FixedPoint marshals as a decimal string so JSON payloads never lose
// precision to float64.
func (f FixedPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *FixedPoint) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("fixedmath: %w", err)
	}
	v, err := FromDec(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}
