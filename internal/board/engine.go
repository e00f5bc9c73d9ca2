package board

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"prepline-kds-service/internal/pos"
)

type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemCompleted ItemStatus = "completed"
)

// Settings are read-only inputs to the engine. Changes take effect on the
// next poll or tick; in-flight grace timers keep their original delay.
type Settings struct {
	GraceWindow          time.Duration
	WarningSeconds       int64
	DangerSeconds        int64
	LookbackWindow       time.Duration
	CompletedRetention   time.Duration
	AllowReopenCompleted bool
}

// Remote is the provider-side completion surface. Calls must be idempotent.
type Remote interface {
	CompleteOrder(ctx context.Context, orderID string) error
	ReopenOrder(ctx context.Context, orderID string) error
}

// Publisher fans lifecycle changes out to the other displays.
type Publisher interface {
	PublishOrderCompleted(ctx context.Context, orderID string) error
	PublishOrderReopened(ctx context.Context, orderID string) error
}

type EventType string

const (
	EventOrderCreated   EventType = "order.created"
	EventOrderUpdated   EventType = "order.updated"
	EventOrderCompleted EventType = "order.completed"
	EventOrderReopened  EventType = "order.reopened"
)

// Event is a push notification from the provider webhook or from another
// display via the bus. Delivery is at-least-once and unordered.
type Event struct {
	Type    EventType
	Order   *pos.Order
	OrderID string
}

var (
	ErrClosed           = errors.New("board engine is closed")
	ErrUnknownOrder     = errors.New("unknown order")
	ErrAlreadyPending   = errors.New("order completion already pending")
	ErrAlreadyCompleted = errors.New("order already completed")
	ErrReopenDisabled   = errors.New("reopening completed tickets is disabled")
)

// missedPollLimit is how many consecutive covering fetches must miss an open
// order before it is evicted. One miss can be a page-boundary artifact; two
// in a row means the provider really no longer returns it.
const missedPollLimit = 2

const remoteCallTimeout = 10 * time.Second

// Engine owns the canonical in-memory order set plus the local lifecycle
// overlay (pending completions, locally completed tickets, per-item
// checklists). Poll results, push events, and grace timers all funnel into
// it; one mutex keeps every transition atomic so no handler ever observes a
// partial update.
type Engine struct {
	remote    Remote
	publisher Publisher
	clock     Clock
	sched     *scheduler
	logger    *zap.Logger

	mu       sync.Mutex
	closed   bool
	degraded bool
	settings Settings

	known     map[string]*pos.Order
	completed map[string]time.Time
	pending   map[string]*pendingCompletion
	missed    map[string]int
	items     map[string]map[string]ItemStatus

	onChange func()
	onError  func(orderID, message string)
}

type pendingCompletion struct {
	token cancelToken
}

func NewEngine(settings Settings, remote Remote, publisher Publisher, clock Clock, logger *zap.Logger) *Engine {
	if clock == nil {
		clock = NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		remote:    remote,
		publisher: publisher,
		clock:     clock,
		sched:     newScheduler(clock),
		logger:    logger,
		settings:  settings,
		known:     make(map[string]*pos.Order),
		completed: make(map[string]time.Time),
		pending:   make(map[string]*pendingCompletion),
		missed:    make(map[string]int),
		items:     make(map[string]map[string]ItemStatus),
	}
}

// OnChange registers the callback invoked after any state transition, used
// by the ws layer to push fresh snapshots. Must be set before the engine
// starts receiving input.
func (e *Engine) OnChange(fn func()) { e.onChange = fn }

// OnError registers the callback for user-visible, retryable failures such
// as a failed remote completion.
func (e *Engine) OnError(fn func(orderID, message string)) { e.onError = fn }

func (e *Engine) notifyChange() {
	if e.onChange != nil {
		e.onChange()
	}
}

// ApplyFetchResult merges a fresh poll into the known set. Incoming fields
// win over stale copies; the local lifecycle overlay is untouched. coverage
// is the created_at window the fetch queried: known open orders inside it
// that the fetch missed twice in a row are evicted. A nil coverage (single
// record merges from push events) skips absence tracking.
func (e *Engine) ApplyFetchResult(orders []pos.Order, coverage *pos.TimeRange) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	seen := make(map[string]struct{}, len(orders))
	for _, order := range orders {
		seen[order.ID] = struct{}{}
		e.upsertLocked(order)
	}

	if coverage != nil {
		for id, order := range e.known {
			if _, ok := seen[id]; ok {
				continue
			}
			if order.State != pos.StateOpen {
				continue
			}
			if _, done := e.completed[id]; done {
				continue
			}
			if e.pending[id] != nil {
				continue
			}
			if order.CreatedAt.Before(coverage.StartAt) || order.CreatedAt.After(coverage.EndAt) {
				continue
			}
			e.missed[id]++
			if e.missed[id] >= missedPollLimit {
				e.dropLocked(id)
			}
		}
	}

	e.evictExpiredLocked(e.clock.Now())
	e.mu.Unlock()
	e.notifyChange()
}

// upsertLocked is the single merge point for poll and push records. It is
// idempotent and commutative: whichever of two snapshots for the same id
// arrives last wins, unless both carry provider versions and the incoming
// one is older.
func (e *Engine) upsertLocked(order pos.Order) {
	existing := e.known[order.ID]
	if existing != nil && order.Version > 0 && existing.Version > 0 && order.Version < existing.Version {
		return
	}

	stored := order
	e.known[order.ID] = &stored
	delete(e.missed, order.ID)
	e.reconcileItemsLocked(&stored)

	if stored.State == pos.StateCompleted {
		stamp := e.clock.Now()
		if stored.CompletedAt != nil {
			stamp = *stored.CompletedAt
		}
		e.applyRemoteCompletedLocked(stored.ID, stamp)
	}
}

// reconcileItemsLocked keeps the per-item checklist aligned with the
// order's line items: a freshly loaded open order starts all-pending, a
// completed one all-completed, and new uids appearing on a refetch join as
// pending.
func (e *Engine) reconcileItemsLocked(order *pos.Order) {
	_, done := e.completed[order.ID]
	defaultStatus := ItemPending
	if done || order.State == pos.StateCompleted {
		defaultStatus = ItemCompleted
	}

	overlay := e.items[order.ID]
	if overlay == nil {
		overlay = make(map[string]ItemStatus, len(order.LineItems))
		e.items[order.ID] = overlay
	}
	for _, item := range order.LineItems {
		if item.UID == "" {
			continue
		}
		if _, ok := overlay[item.UID]; !ok {
			overlay[item.UID] = defaultStatus
		}
	}
}

func (e *Engine) setAllItemsLocked(orderID string, status ItemStatus) {
	overlay := e.items[orderID]
	if overlay == nil {
		return
	}
	for uid := range overlay {
		overlay[uid] = status
	}
}

func (e *Engine) dropLocked(id string) {
	delete(e.known, id)
	delete(e.items, id)
	delete(e.missed, id)
}

func (e *Engine) evictExpiredLocked(now time.Time) {
	if e.settings.CompletedRetention <= 0 {
		return
	}
	cutoff := now.Add(-e.settings.CompletedRetention)
	for id, stamp := range e.completed {
		if stamp.Before(cutoff) {
			delete(e.completed, id)
			e.dropLocked(id)
		}
	}
}

// MarkDone starts the grace window for a ticket. The order stays in the
// open view, dimmed, until the window elapses; Reopen cancels it.
func (e *Engine) MarkDone(orderID string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.known[orderID] == nil {
		e.mu.Unlock()
		return ErrUnknownOrder
	}
	if e.pending[orderID] != nil {
		e.mu.Unlock()
		return ErrAlreadyPending
	}
	if _, done := e.completed[orderID]; done {
		e.mu.Unlock()
		return ErrAlreadyCompleted
	}

	entry := &pendingCompletion{}
	entry.token = e.sched.schedule(e.settings.GraceWindow, func() {
		e.commitCompletion(orderID, entry)
	})
	e.pending[orderID] = entry
	e.mu.Unlock()

	e.notifyChange()
	return nil
}

// commitCompletion runs when a grace window elapses. The remote call is
// made outside the lock; a Reopen that lands while the call is on the wire
// wins, and the commit is abandoned.
func (e *Engine) commitCompletion(orderID string, entry *pendingCompletion) {
	e.mu.Lock()
	if e.closed || e.pending[orderID] != entry {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	var remoteErr error
	if e.remote != nil {
		ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
		remoteErr = e.remote.CompleteOrder(ctx, orderID)
		cancel()
	}

	e.mu.Lock()
	if e.closed || e.pending[orderID] != entry {
		e.mu.Unlock()
		return
	}
	delete(e.pending, orderID)

	if remoteErr != nil {
		e.mu.Unlock()
		e.logger.Warn("remote completion failed, ticket returned to open",
			zap.String("orderId", orderID),
			zap.Error(remoteErr))
		if e.onError != nil {
			e.onError(orderID, "Completing the ticket failed. Tap Done to retry.")
		}
		e.notifyChange()
		return
	}

	stamp := e.clock.Now()
	e.completed[orderID] = stamp
	if order := e.known[orderID]; order != nil {
		completedAt := stamp
		order.CompletedAt = &completedAt
		order.State = pos.StateCompleted
	}
	e.setAllItemsLocked(orderID, ItemCompleted)
	e.mu.Unlock()

	if e.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
		if err := e.publisher.PublishOrderCompleted(ctx, orderID); err != nil {
			e.logger.Warn("publish order.completed failed", zap.String("orderId", orderID), zap.Error(err))
		}
		cancel()
	}
	e.notifyChange()
}

// Reopen cancels a pending completion, or un-completes a committed ticket
// when the configuration allows it. Reopening an already-open ticket is a
// no-op.
func (e *Engine) Reopen(orderID string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}

	if entry := e.pending[orderID]; entry != nil {
		e.sched.cancel(entry.token)
		delete(e.pending, orderID)
		e.mu.Unlock()
		e.notifyChange()
		return nil
	}

	if _, done := e.completed[orderID]; done {
		if !e.settings.AllowReopenCompleted {
			e.mu.Unlock()
			return ErrReopenDisabled
		}
		delete(e.completed, orderID)
		if order := e.known[orderID]; order != nil {
			order.CompletedAt = nil
			order.State = pos.StateOpen
		}
		e.setAllItemsLocked(orderID, ItemPending)
		e.mu.Unlock()

		if e.publisher != nil {
			ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
			if err := e.publisher.PublishOrderReopened(ctx, orderID); err != nil {
				e.logger.Warn("publish order.reopened failed", zap.String("orderId", orderID), zap.Error(err))
			}
			cancel()
		}
		if e.remote != nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
				defer cancel()
				if err := e.remote.ReopenOrder(ctx, orderID); err != nil {
					e.logger.Warn("remote reopen failed", zap.String("orderId", orderID), zap.Error(err))
				}
			}()
		}
		e.notifyChange()
		return nil
	}

	e.mu.Unlock()
	return nil
}

// ApplyPushEvent folds a provider webhook or bus notification into the
// engine. created/updated are plain merges; completed/reopened mirror
// MarkDone/Reopen effects without republishing, since the event already came
// from another actor.
func (e *Engine) ApplyPushEvent(event Event) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	switch event.Type {
	case EventOrderCreated, EventOrderUpdated:
		if event.Order == nil {
			e.mu.Unlock()
			return
		}
		e.upsertLocked(*event.Order)
	case EventOrderCompleted:
		if event.OrderID == "" {
			e.mu.Unlock()
			return
		}
		e.applyRemoteCompletedLocked(event.OrderID, e.clock.Now())
	case EventOrderReopened:
		if event.OrderID == "" {
			e.mu.Unlock()
			return
		}
		e.applyRemoteReopenedLocked(event.OrderID)
	default:
		e.mu.Unlock()
		return
	}

	e.mu.Unlock()
	e.notifyChange()
}

// applyRemoteCompletedLocked records a completion decided elsewhere: a push
// event, another display, or the provider itself. A local pending timer for
// the same ticket is canceled, never double-committed.
func (e *Engine) applyRemoteCompletedLocked(orderID string, stamp time.Time) {
	if entry := e.pending[orderID]; entry != nil {
		e.sched.cancel(entry.token)
		delete(e.pending, orderID)
	}
	if _, done := e.completed[orderID]; !done {
		e.completed[orderID] = stamp
	}
	if order := e.known[orderID]; order != nil {
		if order.CompletedAt == nil {
			completedAt := stamp
			order.CompletedAt = &completedAt
		}
		order.State = pos.StateCompleted
	}
	e.setAllItemsLocked(orderID, ItemCompleted)
}

func (e *Engine) applyRemoteReopenedLocked(orderID string) {
	if entry := e.pending[orderID]; entry != nil {
		e.sched.cancel(entry.token)
		delete(e.pending, orderID)
	}
	if _, done := e.completed[orderID]; done {
		delete(e.completed, orderID)
		if order := e.known[orderID]; order != nil {
			order.CompletedAt = nil
			order.State = pos.StateOpen
		}
		e.setAllItemsLocked(orderID, ItemPending)
	}
}

// SetItemStatus flips one line item's checklist entry. Display-only state.
func (e *Engine) SetItemStatus(orderID, uid string, status ItemStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	overlay := e.items[orderID]
	if overlay == nil {
		return ErrUnknownOrder
	}
	if _, ok := overlay[uid]; !ok {
		return ErrUnknownOrder
	}
	overlay[uid] = status
	return nil
}

func (e *Engine) IsPending(orderID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending[orderID] != nil
}

func (e *Engine) IsCompleted(orderID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, done := e.completed[orderID]
	return done
}

// Urgency classifies one ticket at now, per the configured thresholds.
func (e *Engine) Urgency(orderID string, now time.Time) Urgency {
	e.mu.Lock()
	defer e.mu.Unlock()
	order := e.known[orderID]
	if order == nil {
		return UrgencyNeutral
	}
	_, done := e.completed[orderID]
	return Classify(e.pending[orderID] != nil, done, order.CreatedAt, now,
		e.settings.WarningSeconds, e.settings.DangerSeconds)
}

// SetSettings swaps the engine's read-only inputs. Applies from the next
// poll/tick; running grace timers are not migrated.
func (e *Engine) SetSettings(settings Settings) {
	e.mu.Lock()
	e.settings = settings
	e.mu.Unlock()
}

func (e *Engine) SettingsSnapshot() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// SetDegraded flags that the last poll failed. The views stay stale but
// consistent; the flag surfaces as a banner on snapshots.
func (e *Engine) SetDegraded(degraded bool) {
	e.mu.Lock()
	changed := e.degraded != degraded
	e.degraded = degraded
	e.mu.Unlock()
	if changed {
		e.notifyChange()
	}
}

func (e *Engine) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

// Close cancels every outstanding grace timer and refuses further
// mutations. Safe to call more than once.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.sched.cancelAll()
}
