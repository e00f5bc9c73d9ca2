package poller

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"prepline-kds-service/internal/board"
	"prepline-kds-service/internal/hours"
	"prepline-kds-service/internal/pos"
	"prepline-kds-service/internal/settings"
)

const (
	locationsRefreshInterval = 5 * time.Minute
	maxBackoff               = 30 * time.Second
)

// Fetcher is the slice of the point-of-sale client the poller needs.
type Fetcher interface {
	SearchOrders(ctx context.Context, states []pos.OrderState, timeRange *pos.TimeRange, locationIDs []string) ([]pos.Order, error)
	ListLocations(ctx context.Context) ([]pos.Location, error)
	SetRushMarker(marker string)
}

// SettingsSource yields the display settings applied at the top of every
// poll cycle.
type SettingsSource interface {
	Get(ctx context.Context) (settings.Display, error)
}

// Poller re-derives the authoritative order list on a fixed interval and
// feeds it to the engine. It is the convergence backstop: even if every
// push event is lost, the board is correct again within one interval.
type Poller struct {
	client   Fetcher
	engine   *board.Engine
	store    SettingsSource
	logger   *zap.Logger
	interval time.Duration
	// openFetchWindow bounds the OPEN query when no business hours are
	// configured.
	openFetchWindow time.Duration

	locationIDs        []string
	locationsFetchedAt time.Time

	// lastDisplay is the last settings read that succeeded; it keeps fetch
	// windows and retention stable while the settings store is unreachable.
	lastDisplay     settings.Display
	haveLastDisplay bool
}

func New(client Fetcher, engine *board.Engine, store SettingsSource, interval, openFetchWindow time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		client:          client,
		engine:          engine,
		store:           store,
		logger:          logger,
		interval:        interval,
		openFetchWindow: openFetchWindow,
	}
}

// Run polls until ctx is canceled. Transient failures keep the last known
// state, flag the board degraded, and back off up to maxBackoff before
// resuming the normal cadence.
func (p *Poller) Run(ctx context.Context) {
	backoff := p.interval
	for {
		if err := p.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("order poll failed, keeping last known state", zap.Error(err))
			p.engine.SetDegraded(true)
			backoff = minDuration(backoff*2, maxBackoff)
		} else {
			p.engine.SetDegraded(false)
			backoff = p.interval
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) error {
	display, err := p.store.Get(ctx)
	if err != nil {
		if !p.haveLastDisplay {
			return fmt.Errorf("read settings: %w", err)
		}
		p.logger.Warn("settings read failed, using last applied", zap.Error(err))
		display = p.lastDisplay
	} else {
		p.lastDisplay = display
		p.haveLastDisplay = true
		p.engine.SetSettings(display.Board())
		p.client.SetRushMarker(display.RushMarker)
	}

	locationIDs, err := p.locations(ctx, display.LocationFilter)
	if err != nil {
		return err
	}
	if len(locationIDs) == 0 {
		p.engine.ApplyFetchResult(nil, nil)
		return nil
	}

	now := time.Now()
	openRange := p.openWindow(display, now)

	open, err := p.client.SearchOrders(ctx, []pos.OrderState{pos.StateOpen}, &openRange, locationIDs)
	if err != nil {
		return err
	}

	retention := time.Duration(display.RetentionHours) * time.Hour
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	completedRange := pos.TimeRange{StartAt: now.Add(-retention), EndAt: now}
	completed, err := p.client.SearchOrders(ctx, []pos.OrderState{pos.StateCompleted}, &completedRange, locationIDs)
	if err != nil {
		return err
	}

	merged := make([]pos.Order, 0, len(open)+len(completed))
	merged = append(merged, open...)
	merged = append(merged, completed...)
	p.engine.ApplyFetchResult(merged, &openRange)
	return nil
}

// openWindow prefers the configured business hours; without them the fetch
// covers a rolling window ending now.
func (p *Poller) openWindow(display settings.Display, now time.Time) pos.TimeRange {
	if start, end, ok := hours.Window(display.OpenTime, display.CloseTime, now); ok {
		if end.After(now) {
			end = now
		}
		return pos.TimeRange{StartAt: start, EndAt: end}
	}
	return pos.TimeRange{StartAt: now.Add(-p.openFetchWindow), EndAt: now}
}

func (p *Poller) locations(ctx context.Context, filter []string) ([]string, error) {
	if time.Since(p.locationsFetchedAt) < locationsRefreshInterval && len(p.locationIDs) > 0 {
		return applyLocationFilter(p.locationIDs, filter), nil
	}

	locations, err := p.client.ListLocations(ctx)
	if err != nil {
		if len(p.locationIDs) > 0 {
			// Stale location list beats no poll at all.
			return applyLocationFilter(p.locationIDs, filter), nil
		}
		return nil, err
	}

	ids := make([]string, 0, len(locations))
	for _, location := range locations {
		ids = append(ids, location.ID)
	}
	p.locationIDs = ids
	p.locationsFetchedAt = time.Now()
	return applyLocationFilter(ids, filter), nil
}

func applyLocationFilter(ids, filter []string) []string {
	if len(filter) == 0 {
		return ids
	}
	allowed := make(map[string]struct{}, len(filter))
	for _, id := range filter {
		allowed[id] = struct{}{}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := allowed[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
