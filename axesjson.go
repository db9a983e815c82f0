package stupidmeter

import "encoding/json"

// EncodeAxes renders the axis vector as the JSON blob persisted on
// metric and score rows, always under the current axis names.
func EncodeAxes(a Axes) string {
	b, _ := json.Marshal(a)
	return string(b)
}

// DecodeAxes parses a stored axes blob. Historical rows used older names
// for three axes; both generations decode to the current struct, with
// the current name winning when a row carries both.
func DecodeAxes(data []byte) (Axes, error) {
	var raw struct {
		Axes
		Spec     *float64 `json:"spec"`
		Refusal  *float64 `json:"refusal"`
		Recovery *float64 `json:"recovery"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Axes{}, err
	}
	a := raw.Axes
	if a.Complexity == 0 && raw.Spec != nil {
		a.Complexity = *raw.Spec
	}
	if a.EdgeCases == 0 && raw.Refusal != nil {
		a.EdgeCases = *raw.Refusal
	}
	if a.Debugging == 0 && raw.Recovery != nil {
		a.Debugging = *raw.Recovery
	}
	return a, nil
}
