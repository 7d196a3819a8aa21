// Package protocol holds the wire records exchanged between the page, the
// content relay and the background authority.
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/constants"
)

// Kind discriminates the request families carried by an Envelope.
type Kind string

const (
	KindRPCRequest        Kind = "RPC_REQUEST"
	KindRPCResponse       Kind = "RPC_RESPONSE"
	KindAccountManagement Kind = "ACCOUNT_MANAGEMENT"
	KindNetworkManagement Kind = "NETWORK_MANAGEMENT"
	KindUIRequest         Kind = "UI_REQUEST"
)

var knownKinds = []Kind{
	KindRPCRequest,
	KindRPCResponse,
	KindAccountManagement,
	KindNetworkManagement,
	KindUIRequest,
}

// Tag returns the namespaced transport tag for k.
func Tag(k Kind) string {
	return constants.MessagePrefix + string(k)
}

// Envelope is the transport wrapper seen on every hop.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload and wraps it under the tag of k.
func NewEnvelope(k Kind, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "marshal %s payload", k)
	}
	return Envelope{Type: Tag(k), Payload: raw}, nil
}

// Is reports whether the envelope carries exactly the tag of k.
func (e Envelope) Is(k Kind) bool {
	return e.Type == Tag(k)
}

// Kind resolves the envelope tag. Foreign or malformed tags return false.
func (e Envelope) Kind() (Kind, bool) {
	rest, ok := strings.CutPrefix(e.Type, constants.MessagePrefix)
	if !ok {
		return "", false
	}
	for _, k := range knownKinds {
		if string(k) == rest {
			return k, true
		}
	}
	return "", false
}

// DecodeEnvelope parses raw bus data. Anything that is not an object with a
// string type is reported as an error so listeners can drop it.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "decode envelope")
	}
	if env.Type == "" {
		return Envelope{}, errors.New("envelope has no type")
	}
	return env, nil
}

// NotificationEnvelope wraps a provider notification for delivery to the page.
func NotificationEnvelope(method string, params any) (Envelope, error) {
	n, err := NewNotification(method, params)
	if err != nil {
		return Envelope{}, err
	}
	return NewEnvelope(KindRPCResponse, n)
}
