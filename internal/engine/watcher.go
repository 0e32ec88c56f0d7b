package engine

import (
	"context"
	"time"

	"github.com/easelhq/easel/internal/model"
	"github.com/easelhq/easel/internal/store"
)

// Event is one observation of a run record pushed to stream subscribers.
// Exactly one of Run and Err is set; an Err event is always the last one.
type Event struct {
	Run *model.Run
	Err error
}

// observation is the tuple whose change triggers an event. Comparing it
// instead of the whole record prevents duplicate frames when nothing a
// subscriber cares about has moved.
type observation struct {
	status          string
	progress        string
	imagesCompleted int
	assetCount      int
}

// Watcher publishes run state changes by re-reading the persisted record on
// a fixed interval. The store has no change notification, so polling is the
// contract here. Watchers never write run state, which makes any number of
// concurrent subscribers safe.
type Watcher struct {
	store    store.Store
	interval time.Duration
}

// NewWatcher creates a watcher that samples run records every interval.
func NewWatcher(s store.Store, interval time.Duration) *Watcher {
	return &Watcher{store: s, interval: interval}
}

// Watch streams the run's record until it reaches a terminal state, the
// context is cancelled, or a read fails. The first observation is always
// emitted; after that only changes are. The returned channel is closed when
// the stream ends.
func (w *Watcher) Watch(ctx context.Context, runID string) <-chan Event {
	ch := make(chan Event, 1)

	go func() {
		defer close(ch)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		var last observation
		seeded := false

		for {
			r, err := w.store.GetRun(ctx, runID)
			if err != nil {
				select {
				case ch <- Event{Err: err}:
				case <-ctx.Done():
				}
				return
			}

			obs := observation{
				status:          r.Status,
				progress:        r.Progress,
				imagesCompleted: r.ImagesCompleted,
				assetCount:      len(r.AssetIDs),
			}
			if !seeded || obs != last {
				select {
				case ch <- Event{Run: r}:
				case <-ctx.Done():
					return
				}
				last, seeded = obs, true
			}

			if model.TerminalStatus(r.Status) {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return ch
}
