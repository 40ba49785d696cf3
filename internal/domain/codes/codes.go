// Package codes maps provider-specific result codes onto the engine's
// canonical outcomes. It is a pure lookup layer: unknown codes resolve to
// Unknown, never an error, so a provider adding codes cannot break callers.
package codes

import (
	"fmt"
	"strings"
)

type Canonical string

const (
	Success            Canonical = "success"
	AlreadySettled     Canonical = "already_settled"
	AlreadyVerified    Canonical = "already_verified"
	UserCancelled      Canonical = "user_cancelled"
	InsufficientFunds  Canonical = "insufficient_funds"
	InvalidCredentials Canonical = "invalid_credentials"
	NotFound           Canonical = "not_found"
	TransientNetwork   Canonical = "transient_network_error"
	ProtocolError      Canonical = "protocol_error"
	Unknown            Canonical = "unknown_error"
)

// Retryable reports whether an operation that produced this outcome may be
// attempted again. Business decisions are final; only transport trouble is
// worth a retry.
func Retryable(c Canonical) bool { return c == TransientNetwork }

type entry struct {
	canonical Canonical
	desc      string
}

// Behpardakht Mellat bpPay/bpVerify/bpSettle/bpReversal result codes.
var mellat = map[int]entry{
	0:   {Success, "operation succeeded"},
	11:  {Unknown, "invalid card number"},
	12:  {InsufficientFunds, "insufficient balance"},
	13:  {Unknown, "incorrect password"},
	14:  {Unknown, "too many password attempts"},
	15:  {Unknown, "invalid card"},
	16:  {Unknown, "withdrawal frequency exceeded"},
	17:  {UserCancelled, "user cancelled transaction"},
	18:  {Unknown, "card expired"},
	19:  {Unknown, "withdrawal amount exceeds limit"},
	21:  {InvalidCredentials, "invalid merchant"},
	23:  {Unknown, "security error"},
	24:  {InvalidCredentials, "invalid merchant user info"},
	25:  {Unknown, "invalid amount"},
	31:  {ProtocolError, "invalid response"},
	32:  {ProtocolError, "invalid data format"},
	33:  {Unknown, "invalid account"},
	34:  {Unknown, "system error"},
	35:  {Unknown, "invalid date"},
	41:  {Unknown, "duplicate request number"},
	42:  {NotFound, "sale transaction not found"},
	43:  {AlreadyVerified, "verify request already submitted"},
	44:  {NotFound, "verify request not found"},
	45:  {AlreadySettled, "transaction already settled"},
	46:  {Unknown, "transaction not settled"},
	47:  {NotFound, "settle transaction not found"},
	48:  {Unknown, "transaction already reversed"},
	49:  {NotFound, "refund transaction not found"},
	51:  {Unknown, "duplicate transaction"},
	54:  {NotFound, "reference transaction not found"},
	55:  {Unknown, "invalid transaction"},
	61:  {Unknown, "deposit error"},
	62:  {InvalidCredentials, "return URL not in registered merchant domain"},
	98:  {Unknown, "static password usage limit reached"},
	111: {Unknown, "invalid card issuer"},
	112: {Unknown, "card issuer switch error"},
	113: {TransientNetwork, "no response from card issuer"},
	114: {Unknown, "cardholder not authorized"},
	415: {UserCancelled, "session timeout"},
	421: {InvalidCredentials, "invalid IP address"},
}

// Mellat resolves a Behpardakht numeric result code.
func Mellat(resCode int) (Canonical, string) {
	if e, ok := mellat[resCode]; ok {
		return e.canonical, e.desc
	}
	return Unknown, fmt.Sprintf("unknown mellat result code %d", resCode)
}

// Saman Kish callback State values (whitespace/case already normalized by caller
// or here).
var samanStates = map[string]entry{
	"OK":                {Success, "payment completed"},
	"SUCCESS":           {Success, "payment completed"},
	"CANCELEDBYUSER":    {UserCancelled, "user abandoned the transaction"},
	"FAILED":            {Unknown, "payment failed"},
	"SESSIONISNULL":     {UserCancelled, "user did not respond within the session window"},
	"INVALIDPARAMETERS": {ProtocolError, "invalid request parameters"},
	"TOKENNOTFOUND":     {NotFound, "token not found"},
	"TERMINALNOTFOUND":  {NotFound, "terminal not found"},
}

// SamanState resolves a SEP callback State string.
func SamanState(state string) (Canonical, string) {
	key := strings.ToUpper(strings.Join(strings.Fields(state), ""))
	if e, ok := samanStates[key]; ok {
		return e.canonical, e.desc
	}
	return Unknown, fmt.Sprintf("unknown saman state %q", state)
}

// Saman Kish verify/reverse ResultCode values.
var samanResults = map[int]entry{
	0:    {Success, "operation succeeded"},
	2:    {AlreadyVerified, "duplicate verify request"},
	5:    {AlreadySettled, "transaction already reversed"},
	-2:   {NotFound, "transaction not found"},
	-6:   {Unknown, "verify window expired"},
	-104: {InvalidCredentials, "terminal is disabled"},
	-105: {NotFound, "terminal not found"},
	-106: {InvalidCredentials, "IP address not allowed"},
}

// SamanResult resolves a SEP verify/reverse numeric ResultCode.
func SamanResult(code int) (Canonical, string) {
	if e, ok := samanResults[code]; ok {
		return e.canonical, e.desc
	}
	return Unknown, fmt.Sprintf("unknown saman result code %d", code)
}

// SnappPay reports failures as errorData{errorCode, message}. Codes follow
// HTTP-ish conventions; "already settled" arrives either as 409 or only in the
// message text.
func SnappPay(errorCode int, message string) (Canonical, string) {
	if errorCode == 409 || strings.Contains(strings.ToLower(message), "already settled") {
		return AlreadySettled, "transaction already settled"
	}
	switch errorCode {
	case 0:
		return Success, "operation succeeded"
	case 401, 403:
		return InvalidCredentials, "authentication with provider failed"
	case 404:
		return NotFound, "transaction not found"
	case 1005:
		return ProtocolError, "malformed request field"
	case 408, 502, 503, 504:
		return TransientNetwork, "provider temporarily unavailable"
	}
	if message != "" {
		return Unknown, message
	}
	return Unknown, fmt.Sprintf("unknown snappay error code %d", errorCode)
}
