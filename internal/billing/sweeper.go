package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yummspb13/kiddeo22-sub010/internal/metrics"
	"github.com/yummspb13/kiddeo22-sub010/pkg/contracts"
)

// Sweeper expires pending orders whose payment window has lapsed. The
// transition is conditional on the order still being pending, so a webhook
// landing at the same moment cannot be overwritten.
type Sweeper struct {
	store    Store
	notifier Notifier
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewSweeper(store Store, notifier Notifier, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		notifier: notifier,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx, s.now()); err != nil {
			s.logger.Error("order expiry sweep failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep expires every pending order with expiresAt before now and returns how
// many orders were transitioned.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	var expired []uuid.UUID

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		ids, err := tx.ExpireOrders(ctx, now)
		if err != nil {
			return fmt.Errorf("expire orders: %w", err)
		}

		occurred := s.now().UTC()
		for _, id := range ids {
			if err := appendOutbox(ctx, tx, contracts.EventOrderExpired, contracts.OrderExpiredEvent{
				EventID:    uuid.New().String(),
				OrderID:    id.String(),
				OccurredAt: occurred,
			}); err != nil {
				return err
			}
		}

		expired = ids
		return nil
	})
	if err != nil {
		return 0, err
	}

	if len(expired) > 0 {
		metrics.OrdersExpired.Add(float64(len(expired)))
		s.logger.Info("expired stale orders", "count", len(expired))
	}
	if s.notifier != nil {
		for _, id := range expired {
			s.notifier.OrderUpdated(id, OrderExpired)
		}
	}
	return len(expired), nil
}
