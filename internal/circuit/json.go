package circuit

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// MarshalJSON encodes the list, writing an empty array for nil.
func (items Items) MarshalJSON() ([]byte, error) {
	if items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Item(items))
}

// UnmarshalJSON decodes the item union. An element with a "circuit" member
// is a PlacedCircuit; anything else is a PlacedGate.
func (items *Items) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(Items, 0, len(raws))
	for i, raw := range raws {
		it, err := decodeItem(raw)
		if err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, it)
	}
	*items = out
	return nil
}

func decodeItem(raw json.RawMessage) (Item, error) {
	if IsCircuitJSON(raw) {
		var c PlacedCircuit
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	}
	var g PlacedGate
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return g, nil
}

// IsCircuitJSON reports whether an encoded item is a nested circuit.
func IsCircuitJSON(raw []byte) bool {
	return gjson.GetBytes(raw, "circuit").Exists()
}
