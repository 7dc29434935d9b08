package participation

import (
	"context"
	"errors"
	"sync"
	"time"

	"roster/internal/catalog"
	"roster/pkg/domain"
	dErrors "roster/pkg/domain-errors"
	"roster/pkg/platform/sentinel"
	"roster/pkg/requestcontext"
)

// Sweeper closes events whose last shift ended more than delay ago, so
// no-shows and forgotten check-outs are settled without an organizer.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	delay    time.Duration

	mu     sync.Mutex
	closed map[domain.EventID]bool
}

func NewSweeper(engine *Engine, interval, delay time.Duration) *Sweeper {
	return &Sweeper{engine: engine, interval: interval, delay: delay, closed: make(map[domain.EventID]bool)}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx, time.Now().UTC()); err != nil && ctx.Err() == nil {
			s.engine.logger.WarnContext(ctx, "auto-close sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep closes every due event once and returns the ones it closed.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) ([]domain.EventID, error) {
	list, err := s.engine.catalog.ListEvents(ctx)
	if err != nil {
		return nil, translateCatalogError(err)
	}
	ctx = requestcontext.WithTime(ctx, now)
	var (
		closed []domain.EventID
		errs   []error
	)
	for _, ev := range list {
		if !s.due(ev, now) {
			continue
		}
		summary, err := s.engine.CloseEvent(ctx, domain.SystemActor, ev.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if summary.OpenShifts == 0 {
			s.mu.Lock()
			s.closed[ev.ID] = true
			s.mu.Unlock()
		}
		closed = append(closed, ev.ID)
		s.engine.logger.InfoContext(ctx, "event auto-closed",
			"event_id", ev.ID,
			"no_shows", len(summary.NoShows),
			"auto_finalized", len(summary.AutoFinalized))
	}
	return closed, errors.Join(errs...)
}

func (s *Sweeper) due(ev *catalog.Event, now time.Time) bool {
	if ev.Status == catalog.StatusDraft || ev.Status == catalog.StatusCancelled || len(ev.Shifts) == 0 {
		return false
	}
	s.mu.Lock()
	done := s.closed[ev.ID]
	s.mu.Unlock()
	return !done && !now.Before(ev.Ends().Add(s.delay))
}

func translateCatalogError(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "event not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load event")
}
