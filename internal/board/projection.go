package board

import (
	"sort"
	"strings"
	"time"

	"prepline-kds-service/internal/pos"
)

// Filters narrow the open view before sorting ever happens.
type Filters struct {
	RushOnly bool
	Source   string
}

// OrderView is one ticket as the display renders it.
type OrderView struct {
	Order          pos.Order             `json:"order"`
	DisplayName    string                `json:"displayName"`
	Pending        bool                  `json:"pending"`
	Completed      bool                  `json:"completed"`
	ElapsedSeconds int64                 `json:"elapsedSeconds"`
	Urgency        Urgency               `json:"urgency"`
	Items          map[string]ItemStatus `json:"items,omitempty"`
}

// OpenView returns the working board: not completed, inside the lookback
// window, matching the active filters. Rush tickets come first; within each
// group the oldest ticket leads, because that is the one staff should work
// next. Pending-completion tickets keep their slot, dimmed.
func (e *Engine) OpenView(now time.Time, filters Filters) []OrderView {
	e.mu.Lock()
	defer e.mu.Unlock()

	oldest := now.Add(-e.settings.LookbackWindow)
	views := make([]OrderView, 0, len(e.known))
	for id, order := range e.known {
		if _, done := e.completed[id]; done {
			continue
		}
		if order.State == pos.StateDraft || order.State == pos.StateCanceled {
			continue
		}
		if order.CreatedAt.Before(oldest) || order.CreatedAt.After(now) {
			continue
		}
		if filters.RushOnly && !order.IsRush {
			continue
		}
		if filters.Source != "" && !strings.EqualFold(order.Source, filters.Source) {
			continue
		}
		views = append(views, e.viewLocked(order, now))
	}

	sort.Slice(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if a.Order.IsRush != b.Order.IsRush {
			return a.Order.IsRush
		}
		if !a.Order.CreatedAt.Equal(b.Order.CreatedAt) {
			return a.Order.CreatedAt.Before(b.Order.CreatedAt)
		}
		return a.Order.ID < b.Order.ID
	})
	return views
}

// CompletedView lists locally completed tickets whose completion falls in
// the range, most recently finished first.
func (e *Engine) CompletedView(start, end time.Time) []OrderView {
	e.mu.Lock()
	defer e.mu.Unlock()

	views := make([]OrderView, 0, len(e.completed))
	for id, stamp := range e.completed {
		if stamp.Before(start) || stamp.After(end) {
			continue
		}
		order := e.known[id]
		if order == nil {
			continue
		}
		view := e.viewLocked(order, end)
		view.ElapsedSeconds = 0
		views = append(views, view)
	}

	sort.Slice(views, func(i, j int) bool {
		a, b := views[i].Order, views[j].Order
		at, bt := completedStamp(a), completedStamp(b)
		if !at.Equal(bt) {
			return at.After(bt)
		}
		return a.ID < b.ID
	})
	return views
}

func completedStamp(order pos.Order) time.Time {
	if order.CompletedAt != nil {
		return *order.CompletedAt
	}
	return time.Time{}
}

func (e *Engine) viewLocked(order *pos.Order, now time.Time) OrderView {
	id := order.ID
	_, done := e.completed[id]
	pending := e.pending[id] != nil

	items := make(map[string]ItemStatus, len(e.items[id]))
	for uid, status := range e.items[id] {
		items[uid] = status
	}

	return OrderView{
		Order:          *order,
		DisplayName:    order.DisplayName(),
		Pending:        pending,
		Completed:      done,
		ElapsedSeconds: ElapsedSeconds(order.CreatedAt, now),
		Urgency: Classify(pending, done, order.CreatedAt, now,
			e.settings.WarningSeconds, e.settings.DangerSeconds),
		Items: items,
	}
}

// ItemCount is one row of the All Day aggregation.
type ItemCount struct {
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
}

// AllDay aggregates line-item quantities across the current open view, the
// expediter's "how many fries total" answer.
func (e *Engine) AllDay(now time.Time) []ItemCount {
	open := e.OpenView(now, Filters{})

	totals := make(map[string]int64)
	for _, view := range open {
		for _, item := range view.Order.LineItems {
			name := item.Name
			if name == "" {
				name = "Unknown Item"
			}
			totals[name] += item.Quantity
		}
	}

	counts := make([]ItemCount, 0, len(totals))
	for name, quantity := range totals {
		counts = append(counts, ItemCount{Name: name, Quantity: quantity})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Quantity != counts[j].Quantity {
			return counts[i].Quantity > counts[j].Quantity
		}
		return counts[i].Name < counts[j].Name
	})
	return counts
}

// Status is the board-level health line pushed with every snapshot.
type Status struct {
	Degraded       bool `json:"degraded"`
	OpenCount      int  `json:"openCount"`
	CompletedCount int  `json:"completedCount"`
	PendingCount   int  `json:"pendingCount"`
}

func (e *Engine) Status(now time.Time) Status {
	open := len(e.OpenView(now, Filters{}))
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Degraded:       e.degraded,
		OpenCount:      open,
		CompletedCount: len(e.completed),
		PendingCount:   len(e.pending),
	}
}
