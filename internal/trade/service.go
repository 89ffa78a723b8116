// Package trade is the operation facade shared by the HTTP API and the CLI.
//
// Each method takes the authenticated caller's id as the acting identity,
// runs the transition under its participant pair's lock, counts the outcome
// and publishes an event once the transaction has committed.
package trade

import (
	"context"
	"time"

	"github.com/zulandar/tradepost/internal/config"
	"github.com/zulandar/tradepost/internal/logging"
	"github.com/zulandar/tradepost/internal/metrics"
	"github.com/zulandar/tradepost/internal/notify"
	"github.com/zulandar/tradepost/internal/pairlock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service bundles the store, the pair lock and the event publisher.
type Service struct {
	DB          *gorm.DB
	Locker      pairlock.Locker
	Publisher   notify.Publisher
	Trade       config.TradeConfig
	LockTimeout time.Duration

	// Clock overrides the wall clock in tests.
	Clock func() time.Time
}

// New builds a Service from loaded configuration. A nil locker gets an
// in-process one; a nil publisher drops events.
func New(db *gorm.DB, locker pairlock.Locker, pub notify.Publisher, cfg *config.Config) *Service {
	if locker == nil {
		locker = pairlock.NewMemoryLocker()
	}
	if pub == nil {
		pub = notify.Nop{}
	}
	s := &Service{DB: db, Locker: locker, Publisher: pub}
	if cfg != nil {
		s.Trade = cfg.Trade
		s.LockTimeout = cfg.Locking.Timeout
	}
	return s
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

// withPair runs fn holding the lock for the two participants.
func (s *Service) withPair(ctx context.Context, a, b uint, fn func() error) error {
	return pairlock.With(ctx, s.Locker, pairlock.Key(a, b), s.LockTimeout, fn)
}

// publish sends e after commit. Failures are logged and counted only.
func (s *Service) publish(ctx context.Context, e notify.Event) {
	if s.Publisher == nil {
		return
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	if err := s.Publisher.Publish(ctx, e); err != nil {
		metrics.EventsDropped.Inc()
		logging.L().Warn("trade: publish event failed",
			zap.String("kind", string(e.Kind)),
			zap.Uint("conversation_id", e.ConversationID),
			zap.Error(err))
	}
}

func observe(machine, action string, err error) {
	metrics.ObserveTransition(machine, action, err)
}
