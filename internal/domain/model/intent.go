package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"storefront-payments/internal/domain"
)

type GatewayName string

const (
	GatewayMellat  GatewayName = "mellat"  // Behpardakht Mellat, SOAP
	GatewaySaman   GatewayName = "saman"   // Saman Kish (SEP), JSON token + form callback
	GatewaySnappay GatewayName = "snappay" // SnappPay installments, JSON + OAuth
)

// ParseGateway maps the wire token to a known gateway name.
func ParseGateway(s string) (GatewayName, bool) {
	switch GatewayName(s) {
	case GatewayMellat, GatewaySaman, GatewaySnappay:
		return GatewayName(s), true
	}
	return "", false
}

type IntentState string

const (
	IntentStateCreated          IntentState = "created"           // record exists, nothing sent to the gateway yet
	IntentStateRequested        IntentState = "requested"         // gateway accepted the request and assigned a reference
	IntentStateAwaitingCallback IntentState = "awaiting_callback" // user is on the gateway's hosted page
	IntentStateVerifying        IntentState = "verifying"         // callback received, verify in flight
	IntentStateVerified         IntentState = "verified"          // gateway confirmed the authorization
	IntentStateSettling         IntentState = "settling"          // settle (capture) in flight
	IntentStateSettled          IntentState = "settled"           // funds captured; ledger credit due exactly once
	IntentStateFailed           IntentState = "failed"            // terminal failure, reason recorded
	IntentStateReversed         IntentState = "reversed"          // administrative reversal of a verified/settled intent
	IntentStateCancelled        IntentState = "cancelled"         // caller aborted before a gateway reference existed
)

// transitions is the forward state graph. Reverse is the only edge that leaves
// a terminal state and it is listed explicitly.
var transitions = map[IntentState][]IntentState{
	IntentStateCreated:          {IntentStateRequested, IntentStateFailed, IntentStateCancelled},
	IntentStateRequested:        {IntentStateAwaitingCallback, IntentStateFailed},
	IntentStateAwaitingCallback: {IntentStateVerifying, IntentStateFailed},
	IntentStateVerifying:        {IntentStateVerified, IntentStateFailed},
	IntentStateVerified:         {IntentStateSettling, IntentStateSettled, IntentStateReversed},
	IntentStateSettling:         {IntentStateSettled, IntentStateFailed},
	IntentStateSettled:          {IntentStateReversed},
}

func (s IntentState) IsTerminal() bool {
	switch s {
	case IntentStateSettled, IntentStateFailed, IntentStateReversed, IntentStateCancelled:
		return true
	}
	return false
}

func (s IntentState) CanTransition(to IntentState) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentIntent records one attempted payment against an external gateway.
// Amounts are in Toman, the unit the storefront records orders in; adapters
// convert to each provider's wire unit at their boundary.
type PaymentIntent struct {
	ID           string // ULID
	OrderRef     string // opaque reference to the originating order/topup
	PayerRef     string // opaque reference to the paying customer
	Gateway      GatewayName
	AmountToman  int64
	State        IntentState
	GatewayRef   string // token/refId assigned by the gateway at request time
	GatewayTxRef string // secondary reference supplied on callback (RefNum/SaleReferenceId/paymentToken)
	CallbackURL  string
	FailureCode  string // canonical code when State == failed
	FailureMsg   string
	CreatedAt    time.Time
	TransitionAt time.Time
}

// IdempotencyKey derives the deduplication key for callback processing from
// the merchant and gateway references. Deterministic: the same callback
// delivered twice produces the same key.
func (p *PaymentIntent) IdempotencyKey() string {
	h := sha256.Sum256([]byte(p.OrderRef + ":" + p.GatewayTxRef))
	return hex.EncodeToString(h[:16])
}

// Transition moves the intent to the target state, refusing edges that are
// not in the state graph. Terminal states are immutable except for the
// explicit verified/settled -> reversed edge.
func (p *PaymentIntent) Transition(to IntentState, at time.Time) error {
	if !p.State.CanTransition(to) {
		if p.State.IsTerminal() {
			return domain.ErrTerminalState
		}
		return domain.ErrInvalidTransition
	}
	p.State = to
	p.TransitionAt = at
	return nil
}
