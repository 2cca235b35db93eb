package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Sweeper periodically reclaims idle per-user window state on a cron cadence.
// Lazy pruning on access remains the baseline; the sweeper only bounds memory
// for users that stopped sending entirely.
type Sweeper struct {
	limiter *Limiter
	expr    string
	gron    *gronx.Gronx
}

// NewSweeper validates the cron expression and returns a sweeper.
// An empty expression disables sweeping (nil sweeper, nil error).
func NewSweeper(limiter *Limiter, cronExpr string) (*Sweeper, error) {
	if cronExpr == "" {
		return nil, nil
	}
	g := gronx.New()
	if !g.IsValid(cronExpr) {
		return nil, errInvalidCron(cronExpr)
	}
	return &Sweeper{limiter: limiter, expr: cronExpr, gron: g}, nil
}

type errInvalidCron string

func (e errInvalidCron) Error() string { return "invalid sweep cron expression: " + string(e) }

// Run checks the cadence once a minute and sweeps when it is due.
// Blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := s.gron.IsDue(s.expr, now)
			if err != nil || !due {
				continue
			}
			if removed := s.limiter.Sweep(); removed > 0 {
				slog.Debug("rate limiter sweep", "removed_users", removed)
			}
		}
	}
}
