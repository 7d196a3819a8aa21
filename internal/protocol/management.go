package protocol

import "encoding/json"

// ManagementRequest is the payload of ACCOUNT_MANAGEMENT and NETWORK_MANAGEMENT
// envelopes. Params are positional.
type ManagementRequest struct {
	Action string            `json:"action"`
	Params []json.RawMessage `json:"params,omitempty"`
}

// UIRequest is the payload of UI_REQUEST envelopes.
type UIRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params,omitempty"`
}

// Result is the normalized reply of every management and UI command.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RawResult is Result as seen by a caller that decodes Data later.
type RawResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Positional marshals each argument into a params list.
func Positional(args ...any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}
