package domain

import (
	"encoding/json"
	"net/url"
)

// Gateway status reported for an authorized transaction.
const StatusGatewayAuthorized = "AUTHORIZED"

// TokenParamNames are the query/body parameter names under which the gateway
// token is accepted, in lookup order. Both the callback handler and the edge
// relay must agree on this list.
var TokenParamNames = []string{"token_ws", "token"}

// TokenFromValues extracts the one-time gateway token from query or form
// values. Returns "" when no accepted parameter carries a non-empty value.
func TokenFromValues(values url.Values) string {
	for _, name := range TokenParamNames {
		if v := values.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// CommitResult is the normalized outcome of asking the gateway to finalize a
// transaction for a given token.
//
// Ok is the business decision: true only when the transport call succeeded
// AND the gateway payload reports an authorized, zero-response-code status.
// HTTPOk tracks transport success independently, so a decline and an outage
// are distinguishable by callers.
type CommitResult struct {
	Ok      bool            `json:"ok"`
	Token   string          `json:"token_ws"`
	HTTPOk  bool            `json:"http_ok"`
	Payload json.RawMessage `json:"commit"`
}

// commitPayload is the subset of the gateway's commit response the
// authorization decision depends on.
type commitPayload struct {
	Status       string      `json:"status"`
	ResponseCode json.Number `json:"response_code"`
}

// Authorized reports whether a raw gateway payload indicates an authorized
// transaction: status AUTHORIZED and response_code 0. Malformed JSON or a
// missing field never authorizes.
//
// response_code is decoded as json.Number: some gateway integrations return
// it as a numeric string, and both "0" and 0 must authorize.
func Authorized(payload []byte) bool {
	var p commitPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return false
	}
	if p.Status != StatusGatewayAuthorized {
		return false
	}
	code, err := p.ResponseCode.Int64()
	if err != nil {
		return false
	}
	return code == 0
}

// Classify produces the final authorization decision from the transport
// outcome and the raw gateway payload. Transport success and business
// authorization are independent conditions and both must hold.
func Classify(httpOk bool, payload []byte) bool {
	return httpOk && Authorized(payload)
}
