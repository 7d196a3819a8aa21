package authority

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

func param[T any](params []json.RawMessage, i int, name string) (T, error) {
	var out T
	if i >= len(params) {
		return out, invalidParams("missing %s", name)
	}
	if err := json.Unmarshal(params[i], &out); err != nil {
		return out, invalidParams("%s: %v", name, err)
	}
	return out, nil
}

// optionalParam returns def when the position is absent or null.
func optionalParam[T any](params []json.RawMessage, i int, name string, def T) (T, error) {
	if i >= len(params) || string(params[i]) == "null" {
		return def, nil
	}
	return param[T](params, i, name)
}

// chainIDParam accepts a JSON number, a 0x-hex string or a decimal string.
func chainIDParam(params []json.RawMessage, i int) (uint64, error) {
	if i >= len(params) {
		return 0, invalidParams("missing chain id")
	}
	return parseChainID(params[i])
}

func parseChainID(raw json.RawMessage) (uint64, error) {
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, invalidParams("chain id %s", string(raw))
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := hexutil.DecodeUint64(strings.ToLower(s))
		if err != nil {
			return 0, invalidParams("chain id %q: %v", s, err)
		}
		return v, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, invalidParams("chain id %q", s)
	}
	return v, nil
}
