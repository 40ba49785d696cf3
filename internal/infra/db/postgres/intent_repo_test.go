//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"storefront-payments/internal/domain"
	"storefront-payments/internal/domain/model"

	"github.com/google/uuid"
)

func newTestIntent(orderRef string, state model.IntentState, createdAt time.Time) *model.PaymentIntent {
	return &model.PaymentIntent{
		ID:           uuid.NewString(),
		OrderRef:     orderRef,
		PayerRef:     "payer-1",
		Gateway:      model.GatewayMellat,
		AmountToman:  5000,
		State:        state,
		GatewayRef:   "gwref-" + orderRef,
		CreatedAt:    createdAt,
		TransitionAt: createdAt,
	}
}

func TestIntentRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewIntentRepo(testPool)

	t.Run("should save and find an intent", func(t *testing.T) {
		cleanup(t)
		intent := newTestIntent("ord-1", model.IntentStateAwaitingCallback, time.Now())

		if err := repo.Save(ctx, nil, intent); err != nil {
			t.Fatalf("Failed to save intent: %v", err)
		}

		byID, err := repo.FindByID(ctx, nil, intent.ID)
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if byID.OrderRef != "ord-1" || byID.State != model.IntentStateAwaitingCallback {
			t.Fatalf("unexpected intent: %+v", byID)
		}

		byOrder, err := repo.FindByOrderRef(ctx, nil, "ord-1")
		if err != nil {
			t.Fatalf("FindByOrderRef failed: %v", err)
		}
		if byOrder.ID != intent.ID {
			t.Fatal("did not find the intent by order ref")
		}

		byGwRef, err := repo.FindByGatewayRef(ctx, nil, model.GatewayMellat, intent.GatewayRef)
		if err != nil {
			t.Fatalf("FindByGatewayRef failed: %v", err)
		}
		if byGwRef.ID != intent.ID {
			t.Fatal("did not find the intent by gateway ref")
		}
	})

	t.Run("missing intent maps to ErrNotFound", func(t *testing.T) {
		cleanup(t)
		if _, err := repo.FindByID(ctx, nil, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	})

	t.Run("newest intent wins for a retried order", func(t *testing.T) {
		cleanup(t)
		old := newTestIntent("ord-2", model.IntentStateFailed, time.Now().Add(-time.Hour))
		fresh := newTestIntent("ord-2", model.IntentStateAwaitingCallback, time.Now())
		fresh.GatewayRef = "gwref-fresh"

		if err := repo.Save(ctx, nil, old); err != nil {
			t.Fatalf("save old: %v", err)
		}
		if err := repo.Save(ctx, nil, fresh); err != nil {
			t.Fatalf("save fresh: %v", err)
		}

		got, err := repo.FindByOrderRef(ctx, nil, "ord-2")
		if err != nil {
			t.Fatalf("FindByOrderRef failed: %v", err)
		}
		if got.ID != fresh.ID {
			t.Fatalf("want freshest intent %s, got %s", fresh.ID, got.ID)
		}
	})

	t.Run("save upserts state on conflict", func(t *testing.T) {
		cleanup(t)
		intent := newTestIntent("ord-3", model.IntentStateCreated, time.Now())
		if err := repo.Save(ctx, nil, intent); err != nil {
			t.Fatalf("save: %v", err)
		}

		intent.State = model.IntentStateAwaitingCallback
		intent.GatewayTxRef = "tx-9"
		if err := repo.Save(ctx, nil, intent); err != nil {
			t.Fatalf("second save: %v", err)
		}

		got, _ := repo.FindByID(ctx, nil, intent.ID)
		if got.State != model.IntentStateAwaitingCallback || got.GatewayTxRef != "tx-9" {
			t.Fatalf("upsert did not apply: %+v", got)
		}
	})

	t.Run("UpdateStateIf is a compare-and-set", func(t *testing.T) {
		cleanup(t)
		intent := newTestIntent("ord-4", model.IntentStateAwaitingCallback, time.Now())
		if err := repo.Save(ctx, nil, intent); err != nil {
			t.Fatalf("save: %v", err)
		}

		intent.TransitionAt = time.Now()
		err := repo.UpdateStateIf(ctx, nil, intent.ID, model.IntentStateAwaitingCallback, model.IntentStateVerifying, intent)
		if err != nil {
			t.Fatalf("first CAS should land: %v", err)
		}

		// Stale expectation loses.
		err = repo.UpdateStateIf(ctx, nil, intent.ID, model.IntentStateAwaitingCallback, model.IntentStateVerifying, intent)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("want ErrInvalidTransition, got %v", err)
		}

		got, _ := repo.FindByID(ctx, nil, intent.ID)
		if got.State != model.IntentStateVerifying {
			t.Fatalf("state should be verifying, got %s", got.State)
		}
	})

	t.Run("gateway ref is unique once assigned", func(t *testing.T) {
		cleanup(t)
		first := newTestIntent("ord-8", model.IntentStateAwaitingCallback, time.Now())
		clash := newTestIntent("ord-9", model.IntentStateAwaitingCallback, time.Now())
		clash.GatewayRef = first.GatewayRef

		if err := repo.Save(ctx, nil, first); err != nil {
			t.Fatalf("save first: %v", err)
		}
		if err := repo.Save(ctx, nil, clash); err == nil {
			t.Fatal("second intent with the same gateway ref must be refused")
		}

		// Unassigned references do not collide.
		blankA := newTestIntent("ord-10", model.IntentStateCreated, time.Now())
		blankA.GatewayRef = ""
		blankB := newTestIntent("ord-11", model.IntentStateCreated, time.Now())
		blankB.GatewayRef = ""
		if err := repo.Save(ctx, nil, blankA); err != nil {
			t.Fatalf("save blank ref: %v", err)
		}
		if err := repo.Save(ctx, nil, blankB); err != nil {
			t.Fatalf("save second blank ref: %v", err)
		}
	})

	t.Run("ListByState returns oldest first", func(t *testing.T) {
		cleanup(t)
		first := newTestIntent("ord-5", model.IntentStateAwaitingCallback, time.Now().Add(-2*time.Hour))
		second := newTestIntent("ord-6", model.IntentStateAwaitingCallback, time.Now().Add(-time.Hour))
		other := newTestIntent("ord-7", model.IntentStateSettled, time.Now())
		for _, p := range []*model.PaymentIntent{first, second, other} {
			if err := repo.Save(ctx, nil, p); err != nil {
				t.Fatalf("save: %v", err)
			}
		}

		got, err := repo.ListByState(ctx, nil, model.IntentStateAwaitingCallback, 10)
		if err != nil {
			t.Fatalf("ListByState failed: %v", err)
		}
		if len(got) != 2 || got[0].ID != first.ID || got[1].ID != second.ID {
			t.Fatalf("unexpected listing: %+v", got)
		}
	})
}
