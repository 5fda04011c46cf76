package kiosk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/medmitra-kiosk/internal/resource"
	"github.com/wolfman30/medmitra-kiosk/internal/slots"
	"github.com/wolfman30/medmitra-kiosk/pkg/logging"
)

// DefaultPollInterval is how often an active view refetches availability.
const DefaultPollInterval = 20 * time.Second

// FetchFailurePolicy decides what a failed availability fetch means for
// submission.
type FetchFailurePolicy int

const (
	// FetchFailureBlock keeps the last known booked list but marks it
	// unconfirmed, so nothing can be submitted until a fetch succeeds.
	FetchFailureBlock FetchFailurePolicy = iota
	// FetchFailureAssumeFree treats a failed fetch as "nothing booked" and
	// lets the backend's conflict check catch races. Meant for kiosks on
	// flaky networks.
	FetchFailureAssumeFree
)

func (p FetchFailurePolicy) String() string {
	if p == FetchFailureAssumeFree {
		return "assume-free"
	}
	return "block"
}

// ParseFetchFailurePolicy accepts "block" and "assume-free".
func ParseFetchFailurePolicy(s string) (FetchFailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return FetchFailureBlock, nil
	case "assume-free", "assume_free", "optimistic":
		return FetchFailureAssumeFree, nil
	}
	return FetchFailureBlock, fmt.Errorf("kiosk: unknown fetch failure policy %q", s)
}

// Snapshot is the watcher's view of one resource-day.
type Snapshot struct {
	Resource  resource.Resource
	Schedule  slots.DaySchedule
	Confirmed bool
	Err       error
	// Generation increases with every applied update.
	Generation uint64
}

// Selected reports whether a resource and date have been chosen.
func (s Snapshot) Selected() bool { return s.Schedule.ResourceKey != "" }

// Watcher keeps a DaySchedule fresh. Fetches are started on selection, on
// every poll tick and on Refresh; only the most recently started fetch may
// update the snapshot.
type Watcher struct {
	src      AvailabilitySource
	interval time.Duration
	policy   FetchFailurePolicy
	now      func() time.Time
	logger   *logging.Logger
	onUpdate func(Snapshot)

	mu          sync.Mutex
	snap        Snapshot
	updates     mailbox[Snapshot]
	gen         uint64
	cancelFetch context.CancelFunc
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatcherOption customizes a Watcher.
type WatcherOption func(*Watcher)

func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithFetchFailurePolicy(p FetchFailurePolicy) WatcherOption {
	return func(w *Watcher) { w.policy = p }
}

func WithWatcherClock(now func() time.Time) WatcherOption {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
	}
}

func WithWatcherLogger(l *logging.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// OnUpdate registers the listener for applied snapshots. Calls are
// serialized and arrive in generation order. The listener runs without the
// watcher's lock and may call Select or Refresh, but not Close.
func OnUpdate(fn func(Snapshot)) WatcherOption {
	return func(w *Watcher) { w.onUpdate = fn }
}

// NewWatcher starts the poll loop. Call Close to stop it.
func NewWatcher(src AvailabilitySource, opts ...WatcherOption) *Watcher {
	if src == nil {
		panic("kiosk: availability source cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		src:      src,
		interval: DefaultPollInterval,
		policy:   FetchFailureBlock,
		now:      time.Now,
		logger:   logging.Default(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.Refresh()
		}
	}
}

// Select switches the watched resource-day. The previous booked list is
// discarded at once and a fetch for the new selection starts.
func (w *Watcher) Select(res resource.Resource, date slots.Date) (<-chan struct{}, error) {
	grid, err := res.Grid()
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return closedChan(), errWatcherClosed
	}
	w.snap = Snapshot{
		Resource:   res,
		Schedule:   slots.NewDaySchedule(res.Key(), date, grid, nil, time.Time{}),
		Generation: w.snap.Generation,
	}
	w.publishLocked()
	done := w.startFetchLocked()
	w.wg.Add(1)
	w.mu.Unlock()

	defer w.wg.Done()
	w.deliver()
	return done, nil
}

// Refresh refetches the current selection, superseding any fetch in
// flight. The returned channel closes when this fetch has been applied or
// dropped. Kiosk shells call it when the screen regains focus.
func (w *Watcher) Refresh() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || !w.snap.Selected() {
		return closedChan()
	}
	return w.startFetchLocked()
}

// Snapshot returns the current view.
func (w *Watcher) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap
}

// Close stops polling, cancels any fetch in flight and waits for the
// watcher's goroutines to exit. No update is delivered after Close returns.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.cancelFetch != nil {
		w.cancelFetch()
	}
	w.mu.Unlock()
	w.cancel()
	w.wg.Wait()
}

var errWatcherClosed = errors.New("kiosk: watcher closed")

func (w *Watcher) startFetchLocked() <-chan struct{} {
	if w.cancelFetch != nil {
		w.cancelFetch()
	}
	w.gen++
	gen := w.gen
	ctx, cancel := context.WithCancel(w.ctx)
	w.cancelFetch = cancel

	ref := w.snap.Resource.Ref()
	date := w.snap.Schedule.Date
	done := make(chan struct{})
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(done)
		defer cancel()
		booked, err := w.src.BookedSlots(ctx, ref, date)
		w.apply(gen, booked, err)
		w.deliver()
	}()
	return done
}

func (w *Watcher) apply(gen uint64, booked []slots.TimeSlot, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || gen != w.gen {
		return
	}
	w.cancelFetch = nil

	sched := w.snap.Schedule
	switch {
	case err == nil:
		w.snap.Schedule = slots.NewDaySchedule(sched.ResourceKey, sched.Date, sched.Grid, booked, w.now())
		w.snap.Confirmed = true
		w.snap.Err = nil
	case w.policy == FetchFailureAssumeFree:
		w.logger.Warn("availability fetch failed, assuming free", "resource_key", sched.ResourceKey, "date", sched.Date.String(), "error", err)
		w.snap.Schedule = slots.NewDaySchedule(sched.ResourceKey, sched.Date, sched.Grid, nil, w.now())
		w.snap.Confirmed = true
		w.snap.Err = err
	default:
		w.logger.Warn("availability fetch failed", "resource_key", sched.ResourceKey, "date", sched.Date.String(), "error", err)
		w.snap.Confirmed = false
		w.snap.Err = err
	}
	w.publishLocked()
}

func (w *Watcher) publishLocked() {
	w.snap.Generation++
	if w.onUpdate != nil {
		w.updates.post(w.snap)
	}
}

// deliver hands queued snapshots to the listener. It must be called
// without w.mu held.
func (w *Watcher) deliver() {
	w.updates.drain(func(s Snapshot) {
		w.mu.Lock()
		closed := w.closed
		w.mu.Unlock()
		if !closed {
			w.onUpdate(s)
		}
	})
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
