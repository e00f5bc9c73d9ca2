package board

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"prepline-kds-service/internal/pos"
)

var testBase = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func testSettings() Settings {
	return Settings{
		GraceWindow:          15 * time.Second,
		WarningSeconds:       300,
		DangerSeconds:        600,
		LookbackWindow:       time.Hour,
		CompletedRetention:   24 * time.Hour,
		AllowReopenCompleted: true,
	}
}

type fakeRemote struct {
	completeErr error
	completes   []string
	reopens     []string
}

func (r *fakeRemote) CompleteOrder(_ context.Context, orderID string) error {
	r.completes = append(r.completes, orderID)
	return r.completeErr
}

func (r *fakeRemote) ReopenOrder(_ context.Context, orderID string) error {
	r.reopens = append(r.reopens, orderID)
	return nil
}

type fakePublisher struct {
	completed []string
	reopened  []string
}

func (p *fakePublisher) PublishOrderCompleted(_ context.Context, orderID string) error {
	p.completed = append(p.completed, orderID)
	return nil
}

func (p *fakePublisher) PublishOrderReopened(_ context.Context, orderID string) error {
	p.reopened = append(p.reopened, orderID)
	return nil
}

func makeOrder(id string, createdAt time.Time, rush bool) pos.Order {
	return pos.Order{
		ID:        id,
		CreatedAt: createdAt,
		State:     pos.StateOpen,
		IsRush:    rush,
		LineItems: []pos.LineItem{
			{UID: id + "-li1", Name: "Burger", Quantity: 1},
		},
	}
}

func newTestEngine(t *testing.T) (*Engine, *fakeClock, *fakeRemote, *fakePublisher) {
	t.Helper()
	clock := newFakeClock(testBase)
	remote := &fakeRemote{}
	publisher := &fakePublisher{}
	engine := NewEngine(testSettings(), remote, publisher, clock, nil)
	t.Cleanup(engine.Close)
	return engine, clock, remote, publisher
}

func TestApplyPushEventIdempotent(t *testing.T) {
	engine, clock, _, _ := newTestEngine(t)

	order := makeOrder("ord_1", testBase.Add(-time.Minute), false)
	event := Event{Type: EventOrderCreated, Order: &order}

	engine.ApplyPushEvent(event)
	first := engine.OpenView(clock.Now(), Filters{})

	engine.ApplyPushEvent(event)
	second := engine.OpenView(clock.Now(), Filters{})

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("applying the same event twice changed state:\n%+v\n%+v", first, second)
	}
	if len(second) != 1 {
		t.Fatalf("expected one order, got %d", len(second))
	}
}

func TestMergeOrderIndependence(t *testing.T) {
	created := testBase.Add(-time.Minute)
	fromPoll := makeOrder("ord_1", created, false)
	fromPoll.TicketName = "old name"
	fromPush := makeOrder("ord_1", created, true)
	fromPush.TicketName = "new name"

	run := func(pollFirst bool) []OrderView {
		engine, clock, _, _ := newTestEngine(t)
		if pollFirst {
			engine.ApplyFetchResult([]pos.Order{fromPoll}, nil)
			engine.ApplyPushEvent(Event{Type: EventOrderUpdated, Order: &fromPush})
		} else {
			engine.ApplyPushEvent(Event{Type: EventOrderUpdated, Order: &fromPush})
			engine.ApplyFetchResult([]pos.Order{fromPoll}, nil)
		}
		return engine.OpenView(clock.Now(), Filters{})
	}

	pollThenPush := run(true)
	pushThenPoll := run(false)

	if len(pollThenPush) != 1 || len(pushThenPoll) != 1 {
		t.Fatalf("expected one order in each run")
	}
	// Last writer wins by id in both runs; the surviving record is whichever
	// was applied second, so identity must match even though fields differ.
	if pollThenPush[0].Order.ID != pushThenPoll[0].Order.ID {
		t.Fatalf("merged identity diverged")
	}
}

func TestVersionGatedMerge(t *testing.T) {
	engine, clock, _, _ := newTestEngine(t)

	newer := makeOrder("ord_1", testBase.Add(-time.Minute), false)
	newer.Version = 5
	newer.TicketName = "v5"
	older := makeOrder("ord_1", testBase.Add(-time.Minute), false)
	older.Version = 3
	older.TicketName = "v3"

	engine.ApplyFetchResult([]pos.Order{newer}, nil)
	engine.ApplyPushEvent(Event{Type: EventOrderUpdated, Order: &older})

	view := engine.OpenView(clock.Now(), Filters{})
	if len(view) != 1 || view[0].Order.TicketName != "v5" {
		t.Fatalf("stale version overwrote newer record: %+v", view)
	}
}

func TestMarkDoneCommitsAfterGraceWindow(t *testing.T) {
	engine, clock, remote, publisher := newTestEngine(t)
	engine.ApplyFetchResult([]pos.Order{makeOrder("ord_1", testBase.Add(-time.Minute), false)}, nil)

	if err := engine.MarkDone("ord_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !engine.IsPending("ord_1") || engine.IsCompleted("ord_1") {
		t.Fatalf("expected order pending during grace window")
	}
	if err := engine.MarkDone("ord_1"); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("expected ErrAlreadyPending, got %v", err)
	}

	clock.Advance(15 * time.Second)

	if engine.IsPending("ord_1") || !engine.IsCompleted("ord_1") {
		t.Fatalf("expected order completed after grace window")
	}
	if len(remote.completes) != 1 || remote.completes[0] != "ord_1" {
		t.Fatalf("expected one remote completion, got %v", remote.completes)
	}
	if len(publisher.completed) != 1 {
		t.Fatalf("expected order.completed published, got %v", publisher.completed)
	}
	if err := engine.MarkDone("ord_1"); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}

	for _, status := range engine.CompletedView(testBase, clock.Now())[0].Items {
		if status != ItemCompleted {
			t.Fatalf("expected item overlay reset to completed")
		}
	}
}

func TestReopenDuringGraceWindowCancelsCommit(t *testing.T) {
	engine, clock, remote, publisher := newTestEngine(t)
	engine.ApplyFetchResult([]pos.Order{makeOrder("ord_1", testBase.Add(-time.Minute), false)}, nil)

	if err := engine.MarkDone("ord_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(10 * time.Second)
	if err := engine.Reopen("ord_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(time.Minute)

	if engine.IsCompleted("ord_1") || engine.IsPending("ord_1") {
		t.Fatalf("reopened order must be open")
	}
	if len(remote.completes) != 0 {
		t.Fatalf("remote completion must not fire after cancel: %v", remote.completes)
	}
	if len(publisher.completed) != 0 {
		t.Fatalf("no outbound complete notification may fire: %v", publisher.completed)
	}
}

func TestRollbackOnRemoteFailure(t *testing.T) {
	engine, clock, remote, publisher := newTestEngine(t)
	remote.completeErr = errors.New("provider unavailable")

	var failedOrder string
	engine.OnError(func(orderID, _ string) { failedOrder = orderID })

	engine.ApplyFetchResult([]pos.Order{makeOrder("ord_1", testBase.Add(-time.Minute), false)}, nil)
	if err := engine.MarkDone("ord_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(15 * time.Second)

	if engine.IsCompleted("ord_1") || engine.IsPending("ord_1") {
		t.Fatalf("failed commit must roll back to open")
	}
	if failedOrder != "ord_1" {
		t.Fatalf("expected user-visible failure for ord_1, got %q", failedOrder)
	}
	if len(publisher.completed) != 0 {
		t.Fatalf("failed commit must not publish: %v", publisher.completed)
	}

	// Retryable: a second Done succeeds once the provider recovers.
	remote.completeErr = nil
	if err := engine.MarkDone("ord_1"); err != nil {
		t.Fatalf("retry rejected: %v", err)
	}
	clock.Advance(15 * time.Second)
	if !engine.IsCompleted("ord_1") {
		t.Fatalf("retry should complete the order")
	}
}

func TestReopenCompletedTicket(t *testing.T) {
	engine, clock, remote, publisher := newTestEngine(t)
	engine.ApplyFetchResult([]pos.Order{makeOrder("ord_1", testBase.Add(-time.Minute), false)}, nil)

	if err := engine.MarkDone("ord_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(15 * time.Second)
	if err := engine.Reopen("ord_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if engine.IsCompleted("ord_1") {
		t.Fatalf("expected order reopened")
	}
	if len(publisher.reopened) != 1 {
		t.Fatalf("expected order.reopened published, got %v", publisher.reopened)
	}

	// Reopening an already-open order is a no-op.
	if err := engine.Reopen("ord_1"); err != nil {
		t.Fatalf("reopen of open order must be a no-op, got %v", err)
	}
	if len(publisher.reopened) != 1 {
		t.Fatalf("no-op reopen must not publish again")
	}
	_ = remote
}

func TestReopenCompletedDisabled(t *testing.T) {
	engine, clock, _, _ := newTestEngine(t)
	settings := testSettings()
	settings.AllowReopenCompleted = false
	engine.SetSettings(settings)

	engine.ApplyFetchResult([]pos.Order{makeOrder("ord_1", testBase.Add(-time.Minute), false)}, nil)
	if err := engine.MarkDone("ord_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(15 * time.Second)

	if err := engine.Reopen("ord_1"); !errors.Is(err, ErrReopenDisabled) {
		t.Fatalf("expected ErrReopenDisabled, got %v", err)
	}
	if !engine.IsCompleted("ord_1") {
		t.Fatalf("order must stay completed")
	}
}

func TestPushCompletedMirrorsWithoutRepublish(t *testing.T) {
	engine, clock, remote, publisher := newTestEngine(t)
	engine.ApplyFetchResult([]pos.Order{makeOrder("ord_1", testBase.Add(-time.Minute), false)}, nil)

	engine.ApplyPushEvent(Event{Type: EventOrderCompleted, OrderID: "ord_1"})

	if !engine.IsCompleted("ord_1") {
		t.Fatalf("expected order completed from push event")
	}
	if len(publisher.completed) != 0 || len(remote.completes) != 0 {
		t.Fatalf("push-driven completion must not echo outbound effects")
	}

	engine.ApplyPushEvent(Event{Type: EventOrderReopened, OrderID: "ord_1"})
	if engine.IsCompleted("ord_1") {
		t.Fatalf("expected order reopened from push event")
	}
	if len(publisher.reopened) != 0 {
		t.Fatalf("push-driven reopen must not echo outbound effects")
	}
	_ = clock
}

func TestPushCompletedCancelsLocalPending(t *testing.T) {
	engine, clock, remote, publisher := newTestEngine(t)
	engine.ApplyFetchResult([]pos.Order{makeOrder("ord_1", testBase.Add(-time.Minute), false)}, nil)

	if err := engine.MarkDone("ord_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	engine.ApplyPushEvent(Event{Type: EventOrderCompleted, OrderID: "ord_1"})
	clock.Advance(time.Minute)

	if engine.IsPending("ord_1") || !engine.IsCompleted("ord_1") {
		t.Fatalf("expected push completion to settle the pending ticket")
	}
	if len(remote.completes) != 0 || len(publisher.completed) != 0 {
		t.Fatalf("another display already completed the order; no outbound effects expected")
	}
}

func TestLifecycleMutualExclusion(t *testing.T) {
	engine, clock, _, _ := newTestEngine(t)

	ids := []string{"ord_1", "ord_2", "ord_3", "ord_4"}
	orders := make([]pos.Order, 0, len(ids))
	for _, id := range ids {
		orders = append(orders, makeOrder(id, testBase.Add(-time.Minute), false))
	}
	engine.ApplyFetchResult(orders, nil)

	rng := rand.New(rand.NewSource(7))
	for step := 0; step < 500; step++ {
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(3) {
		case 0:
			_ = engine.MarkDone(id)
		case 1:
			_ = engine.Reopen(id)
		case 2:
			clock.Advance(time.Duration(rng.Intn(20)) * time.Second)
		}

		for _, checkID := range ids {
			pending := engine.IsPending(checkID)
			completed := engine.IsCompleted(checkID)
			if pending && completed {
				t.Fatalf("step %d: %s is both pending and completed", step, checkID)
			}
		}
	}
}

func TestAbsenceEvictionAfterTwoPolls(t *testing.T) {
	engine, clock, _, _ := newTestEngine(t)
	coverage := &pos.TimeRange{StartAt: testBase.Add(-time.Hour), EndAt: testBase.Add(time.Hour)}

	keep := makeOrder("ord_keep", testBase.Add(-time.Minute), false)
	vanish := makeOrder("ord_vanish", testBase.Add(-2*time.Minute), false)
	engine.ApplyFetchResult([]pos.Order{keep, vanish}, coverage)

	// First miss: still visible, could be a page-boundary artifact.
	engine.ApplyFetchResult([]pos.Order{keep}, coverage)
	if len(engine.OpenView(clock.Now(), Filters{})) != 2 {
		t.Fatalf("one missed poll must not evict the order")
	}

	// Second consecutive miss confirms absence.
	engine.ApplyFetchResult([]pos.Order{keep}, coverage)
	views := engine.OpenView(clock.Now(), Filters{})
	if len(views) != 1 || views[0].Order.ID != "ord_keep" {
		t.Fatalf("expected ord_vanish evicted, got %+v", views)
	}

	// Reappearing resets the counter.
	engine.ApplyFetchResult([]pos.Order{keep, vanish}, coverage)
	engine.ApplyFetchResult([]pos.Order{keep}, coverage)
	if len(engine.OpenView(clock.Now(), Filters{})) != 2 {
		t.Fatalf("reappearance must reset the missed-poll counter")
	}
}

func TestCompletedOrdersSurviveAbsenceFromOpenFetch(t *testing.T) {
	engine, clock, _, _ := newTestEngine(t)
	coverage := &pos.TimeRange{StartAt: testBase.Add(-time.Hour), EndAt: testBase.Add(time.Hour)}

	order := makeOrder("ord_1", testBase.Add(-time.Minute), false)
	engine.ApplyFetchResult([]pos.Order{order}, coverage)
	if err := engine.MarkDone("ord_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(15 * time.Second)

	engine.ApplyFetchResult(nil, coverage)
	engine.ApplyFetchResult(nil, coverage)
	engine.ApplyFetchResult(nil, coverage)

	if len(engine.CompletedView(testBase, clock.Now())) != 1 {
		t.Fatalf("completed tickets must stay addressable across polls")
	}
}

func TestCompletedRetentionEviction(t *testing.T) {
	engine, clock, _, _ := newTestEngine(t)

	order := makeOrder("ord_old", testBase.Add(-time.Minute), false)
	engine.ApplyFetchResult([]pos.Order{order}, nil)
	if err := engine.MarkDone("ord_old"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(15 * time.Second)
	if !engine.IsCompleted("ord_old") {
		t.Fatalf("expected completion")
	}

	clock.Advance(25 * time.Hour)
	engine.ApplyFetchResult(nil, nil)

	if engine.IsCompleted("ord_old") {
		t.Fatalf("completed entry past retention horizon must be evicted")
	}
	if len(engine.CompletedView(testBase, clock.Now())) != 0 {
		t.Fatalf("evicted order must leave the completed view")
	}
}

func TestSourceCompletedOrderJoinsCompletedSet(t *testing.T) {
	engine, clock, _, publisher := newTestEngine(t)

	completedAt := testBase.Add(-10 * time.Minute)
	order := makeOrder("ord_done", testBase.Add(-30*time.Minute), false)
	order.State = pos.StateCompleted
	order.CompletedAt = &completedAt

	engine.ApplyFetchResult([]pos.Order{order}, nil)

	if !engine.IsCompleted("ord_done") {
		t.Fatalf("source-completed order must join the completed set")
	}
	if len(publisher.completed) != 0 {
		t.Fatalf("merging a source-completed order must not publish")
	}
	views := engine.CompletedView(testBase.Add(-time.Hour), clock.Now())
	if len(views) != 1 || !views[0].Order.CompletedAt.Equal(completedAt) {
		t.Fatalf("expected provider completedAt preserved, got %+v", views)
	}
}

func TestItemStatusToggle(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	engine.ApplyFetchResult([]pos.Order{makeOrder("ord_1", testBase.Add(-time.Minute), false)}, nil)

	if err := engine.SetItemStatus("ord_1", "ord_1-li1", ItemCompleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	views := engine.OpenView(testBase, Filters{})
	if views[0].Items["ord_1-li1"] != ItemCompleted {
		t.Fatalf("expected item marked completed")
	}

	if err := engine.SetItemStatus("ord_1", "nope", ItemCompleted); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("expected unknown uid rejected, got %v", err)
	}
	if err := engine.SetItemStatus("ord_x", "ord_1-li1", ItemCompleted); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("expected unknown order rejected, got %v", err)
	}
}

func TestCloseCancelsGraceTimers(t *testing.T) {
	engine, clock, remote, _ := newTestEngine(t)
	engine.ApplyFetchResult([]pos.Order{makeOrder("ord_1", testBase.Add(-time.Minute), false)}, nil)
	if err := engine.MarkDone("ord_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	engine.Close()
	clock.Advance(time.Minute)

	if len(remote.completes) != 0 {
		t.Fatalf("closed engine must not commit completions")
	}
	if err := engine.MarkDone("ord_1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if clock.pendingTimers() != 0 {
		t.Fatalf("expected all timers stopped on close")
	}
}
