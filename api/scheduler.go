/*
scheduler.go - Expired presale-hold reconciler

PURPOSE:
  Presale holds expire 24h after creation. Expiry is enforced lazily on the
  read and confirm paths, so nothing breaks if this never runs; the sweeper
  exists to keep the redemptions table tidy and to release holds promptly
  for waitlisted members.

DESIGN:
  - Runs a background goroutine with a configurable sweep interval
  - Each sweep deletes expired HELD rows in bounded batches
  - Safe to run alongside confirmations: both paths guard on state and
    expiry inside the database, so a racing confirm either wins cleanly
    or loses cleanly

USAGE:
  sweeper := NewHoldSweeper(rewardsSvc, logger)
  go sweeper.Run(ctx)   // Stops when ctx is cancelled
*/
package api

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stagepass/points-engine/rewards"
)

// DefaultSweepInterval is how often stale holds get swept.
const DefaultSweepInterval = 5 * time.Minute

// HoldSweeper periodically releases expired presale holds.
type HoldSweeper struct {
	rewards  *rewards.Service
	interval time.Duration
	log      zerolog.Logger
}

// NewHoldSweeper creates a sweeper with the default interval.
func NewHoldSweeper(svc *rewards.Service, log zerolog.Logger) *HoldSweeper {
	return &HoldSweeper{rewards: svc, interval: DefaultSweepInterval, log: log}
}

// WithInterval overrides the sweep interval.
func (s *HoldSweeper) WithInterval(d time.Duration) *HoldSweeper {
	s.interval = d
	return s
}

// Run sweeps until the context is cancelled. Always returns ctx.Err(), so it
// slots into an errgroup alongside the HTTP server.
func (s *HoldSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// One sweep at startup picks up holds that expired while down
	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *HoldSweeper) sweep(ctx context.Context) {
	n, err := s.rewards.SweepExpiredHolds(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("hold sweep failed")
		return
	}
	if n > 0 {
		s.log.Info().Int("released", n).Msg("expired holds released")
	}
}
