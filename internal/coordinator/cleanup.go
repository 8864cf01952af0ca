package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
	"github.com/huddlekit/huddle/internal/metrics"
)

// CleanupStale closes open sessions whose JoinedAt predates now−maxIdle.
// JoinedAt age is a proxy for liveness since no richer heartbeat signal is
// persisted. Racing in-flight leaves are safe: the close is idempotent and
// only actual mutations are counted.
func (c *Coordinator) CleanupStale(ctx context.Context, maxIdle time.Duration) (int, error) {
	cutoff := c.now().Add(-maxIdle)
	stale, err := c.store.OpenSessionsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, core.E(core.CodeInternal, "stale session lookup failed").WithCause(err)
	}

	closed := 0
	for _, s := range stale {
		mutated, err := c.leave(ctx, s.ID, domain.EndReasonStaleCleanup)
		if err != nil {
			log.Warn().Err(err).Str("module", "coordinator").Str("session", string(s.ID)).Msg("stale cleanup skip")
			continue
		}
		if mutated {
			closed++
			metrics.SessionsSwept.Inc()
		}
	}
	if closed > 0 {
		log.Info().Str("module", "coordinator").Int("closed", closed).Dur("max_idle", maxIdle).Msg("stale sessions cleaned up")
	}
	return closed, nil
}

// Sweeper runs CleanupStale on a fixed schedule.
type Sweeper struct {
	coord   *Coordinator
	cron    *cron.Cron
	maxIdle time.Duration
}

func NewSweeper(c *Coordinator, interval, maxIdle time.Duration) (*Sweeper, error) {
	s := &Sweeper{coord: c, cron: cron.New(), maxIdle: maxIdle}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) sweep() {
	if _, err := s.coord.CleanupStale(context.Background(), s.maxIdle); err != nil {
		log.Error().Err(err).Str("module", "coordinator").Msg("stale sweep failed")
	}
}

func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() { <-s.cron.Stop().Done() }
