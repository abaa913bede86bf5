package collab

import (
	"encoding/json"

	"qcompose/internal/circuit"
)

type gatePrint struct {
	ID            string `json:"id"`
	Depth         int    `json:"depth"`
	TargetQubits  []int  `json:"targetQubits"`
	ControlQubits []int  `json:"controlQubits"`
}

type circuitPrint struct {
	ID         string `json:"id"`
	Depth      int    `json:"depth"`
	StartQubit int    `json:"startQubit"`
}

// Fingerprint summarises the placement of items: ids, depths and qubits in
// list order. Cosmetic fields such as colors and parameters do not count.
func Fingerprint(items circuit.Items) string {
	prints := make([]any, 0, len(items))
	for _, item := range items {
		switch it := item.(type) {
		case circuit.PlacedGate:
			prints = append(prints, gatePrint{
				ID:            it.ID,
				Depth:         it.Depth,
				TargetQubits:  it.TargetQubits,
				ControlQubits: it.ControlQubits,
			})
		case circuit.PlacedCircuit:
			prints = append(prints, circuitPrint{ID: it.ID, Depth: it.Depth, StartQubit: it.StartQubit})
		}
	}
	out, err := json.Marshal(prints)
	if err != nil {
		return ""
	}
	return string(out)
}
