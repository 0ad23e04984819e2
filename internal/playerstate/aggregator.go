package playerstate

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/ytmc/internal/clock"
)

// DefaultSettle is how long a transient code must persist before Unknown is
// published.
const DefaultSettle = 1500 * time.Millisecond

// Subscriber receives every published snapshot. It runs synchronously on the
// updating goroutine and must not call back into an Update method.
type Subscriber func(*PlayerState)

type subscription struct {
	id string
	fn Subscriber
}

// Aggregator owns the current PlayerState.
type Aggregator struct {
	clock  clock.Clock
	settle time.Duration
	resume *Resume

	// deliverMu serializes compute+publish so subscribers observe snapshots
	// in update order.
	deliverMu sync.Mutex

	mu          sync.Mutex
	state       *PlayerState
	subs        []subscription
	settleTimer *clock.Timer
	settleGen   uint64
	closed      bool
}

// NewAggregator creates an aggregator. settle <= 0 publishes transient
// codes as Unknown immediately.
func NewAggregator(clk clock.Clock, settle time.Duration) *Aggregator {
	return &Aggregator{
		clock:  clk,
		settle: settle,
		resume: &Resume{},
		state:  &PlayerState{TrackState: Unknown, RawTrackState: -1},
	}
}

// State returns the current snapshot.
func (a *Aggregator) State() *PlayerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Resume returns the tracker for resume-on-restart values.
func (a *Aggregator) Resume() *Resume { return a.resume }

// Subscribe registers fn under id. Re-subscribing an id replaces its
// function and keeps its position.
func (a *Aggregator) Subscribe(id string, fn Subscriber) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.subs {
		if a.subs[i].id == id {
			a.subs[i].fn = fn
			return
		}
	}
	a.subs = append(a.subs, subscription{id: id, fn: fn})
}

func (a *Aggregator) Unsubscribe(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.subs {
		if a.subs[i].id == id {
			a.subs = append(a.subs[:i:i], a.subs[i+1:]...)
			return
		}
	}
}

// UpdateProgress records playback position in seconds.
func (a *Aggregator) UpdateProgress(seconds float64) {
	a.apply(func(s *PlayerState) bool {
		s.VideoProgress = seconds
		return true
	})
}

// UpdateTrackState accepts a raw player code. Stable codes publish at once
// and cancel any pending settle. Transient codes only update RawTrackState
// and arm the settle timer; Unknown is published if no stable code arrives
// before it fires.
func (a *Aggregator) UpdateTrackState(raw int) {
	mapped, transient := MapRawCode(raw)

	a.deliverMu.Lock()
	defer a.deliverMu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	next := a.state.clone()
	next.RawTrackState = raw

	if !transient {
		a.cancelSettleLocked()
		next.TrackState = mapped
		a.state = next
		subs := a.snapshotSubsLocked()
		a.mu.Unlock()
		a.publish(subs, next)
		return
	}

	a.state = next
	if next.TrackState == Unknown || a.settleTimer != nil {
		a.mu.Unlock()
		return
	}
	if a.settle <= 0 {
		next = next.clone()
		next.TrackState = Unknown
		a.state = next
		subs := a.snapshotSubsLocked()
		a.mu.Unlock()
		a.publish(subs, next)
		return
	}
	gen := a.settleGen
	a.settleTimer = a.clock.AfterFunc(a.settle, func() { a.commitUnknown(gen) })
	a.mu.Unlock()
}

func (a *Aggregator) commitUnknown(gen uint64) {
	a.deliverMu.Lock()
	defer a.deliverMu.Unlock()

	a.mu.Lock()
	if a.closed || gen != a.settleGen {
		a.mu.Unlock()
		return
	}
	a.settleTimer = nil
	a.settleGen++
	next := a.state.clone()
	next.TrackState = Unknown
	a.state = next
	subs := a.snapshotSubsLocked()
	a.mu.Unlock()

	slog.Debug("playerstate.settled_unknown", "raw", next.RawTrackState)
	a.publish(subs, next)
}

// UpdateVideoDetails decodes the player's videoDetails payload. Progress is
// reset when the video changes.
func (a *Aggregator) UpdateVideoDetails(raw json.RawMessage, playlistID string) error {
	video, err := DecodeVideoDetails(raw)
	if err != nil {
		return err
	}
	a.resume.recordVideo(video.ID, playlistID)
	a.apply(func(s *PlayerState) bool {
		if s.Video == nil || s.Video.ID != video.ID {
			s.VideoProgress = 0
		}
		s.Video = video
		s.PlaylistID = playlistID
		return true
	})
	return nil
}

// UpdateQueue decodes the player's queue snapshot. A null snapshot clears
// the queue.
func (a *Aggregator) UpdateQueue(raw json.RawMessage) error {
	q, err := DecodeQueue(raw)
	if err != nil {
		return err
	}
	a.apply(func(s *PlayerState) bool {
		s.Queue = q
		return true
	})
	return nil
}

// Close cancels the settle timer and drops all subscribers. Later updates
// are ignored.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.cancelSettleLocked()
	a.subs = nil
}

func (a *Aggregator) apply(mutate func(*PlayerState) bool) {
	a.deliverMu.Lock()
	defer a.deliverMu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	next := a.state.clone()
	if !mutate(next) {
		a.mu.Unlock()
		return
	}
	a.state = next
	subs := a.snapshotSubsLocked()
	a.mu.Unlock()

	a.publish(subs, next)
}

func (a *Aggregator) cancelSettleLocked() {
	if a.settleTimer != nil {
		a.settleTimer.Stop()
		a.settleTimer = nil
	}
	a.settleGen++
}

func (a *Aggregator) snapshotSubsLocked() []subscription {
	subs := make([]subscription, len(a.subs))
	copy(subs, a.subs)
	return subs
}

func (a *Aggregator) publish(subs []subscription, s *PlayerState) {
	for _, sub := range subs {
		deliver(sub, s)
	}
}

func deliver(sub subscription, s *PlayerState) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("playerstate.subscriber_panic", "subscriber", sub.id, "panic", r)
		}
	}()
	sub.fn(s)
}
