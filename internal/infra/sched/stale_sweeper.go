package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"storefront-payments/internal/domain"
	"storefront-payments/internal/domain/model"
	"storefront-payments/internal/domain/ports/repository"
	"storefront-payments/internal/infra/metrics"
)

// StaleSweeper periodically fails intents whose payer never came back from the
// hosted gateway page. Gateway sessions expire server-side well before maxAge,
// so an abandoned intent can never settle anymore.
type StaleSweeper struct {
	interval time.Duration
	maxAge   time.Duration
	intents  repository.PaymentIntentRepository
	log      *zerolog.Logger
}

func NewStaleSweeper(interval, maxAge time.Duration, intents repository.PaymentIntentRepository, logger *zerolog.Logger) *StaleSweeper {
	swpLog := logger.With().Str("component", "StaleSweeper").Logger()
	return &StaleSweeper{
		interval: interval,
		maxAge:   maxAge,
		intents:  intents,
		log:      &swpLog,
	}
}

func (w *StaleSweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting stale intent sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping stale intent sweeper")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.sweep(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("sweeper error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("stale intents expired")
			}
		}
	}
}

func (w *StaleSweeper) sweep(ctx context.Context) (int, error) {
	stale, err := w.intents.ListByState(ctx, repository.NoTX, model.IntentStateAwaitingCallback, 100)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-w.maxAge)
	expired := 0
	for _, intent := range stale {
		if intent.TransitionAt.After(cutoff) {
			continue
		}
		intent.FailureCode = "expired"
		intent.FailureMsg = "no callback received before session expiry"
		if err := intent.Transition(model.IntentStateFailed, time.Now()); err != nil {
			continue
		}
		err := w.intents.UpdateStateIf(ctx, repository.NoTX, intent.ID, model.IntentStateAwaitingCallback, model.IntentStateFailed, intent)
		if err != nil {
			// A late callback won the race; that is the better outcome.
			if errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			return expired, err
		}
		metrics.IncIntent(string(intent.Gateway), "expired")
		expired++
	}
	return expired, nil
}
