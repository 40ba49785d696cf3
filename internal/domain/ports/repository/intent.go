package repository

import (
	"context"

	"storefront-payments/internal/domain/model"
)

// -----------------------------
// Payment intents
// -----------------------------

type PaymentIntentRepository interface {
	Save(ctx context.Context, qx any, p *model.PaymentIntent) error
	FindByID(ctx context.Context, qx any, id string) (*model.PaymentIntent, error)
	FindByOrderRef(ctx context.Context, qx any, orderRef string) (*model.PaymentIntent, error)
	FindByGatewayRef(ctx context.Context, qx any, gateway model.GatewayName, gatewayRef string) (*model.PaymentIntent, error)
	// UpdateStateIf is a compare-and-set on the intent state. It returns
	// domain.ErrInvalidTransition when the stored state no longer matches
	// `from`, which is how concurrent callback deliveries lose the race.
	UpdateStateIf(ctx context.Context, qx any, id string, from, to model.IntentState, p *model.PaymentIntent) error
	ListByState(ctx context.Context, qx any, state model.IntentState, limit int) ([]*model.PaymentIntent, error)
}
