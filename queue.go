package voicebox

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// Params is the set of synthesis parameters captured when an utterance is
// accepted. Rate, pitch and volume are in the owning engine's native units.
// Voice is nil when the engine has no voice selection.
type Params struct {
	Rate   float64
	Pitch  float64
	Volume float64
	Voice  *Voice
}

// Utterance is one accepted speak request together with its parameter
// snapshot. The snapshot is fixed at submission: changing the engine's
// current parameters later never retroactively affects a queued utterance.
type Utterance struct {
	ID   UtteranceID
	Text string
	Params
}

// Player is the minimal contract a queue needs from a native binding.
//
// BeginPlayback starts playback of u, applying u's snapshot parameters, and
// returns once the native layer has accepted the request, not when playback
// completes. The returned handle tags exactly one completion event, which
// the binding must deliver asynchronously via PlaybackDone, never from
// inside BeginPlayback itself.
//
// HaltPlayback halts the playback identified by h. Best effort and
// idempotent; if the native layer emits a completion or cancel event for a
// halted playback anyway, the dispatch index filters it as stale.
type Player interface {
	BeginPlayback(u Utterance) (PlaybackHandle, error)
	HaltPlayback(h PlaybackHandle) error
}

// Queue serializes utterances for an engine whose native layer holds one
// utterance at a time. It owns the pending records for one engine session
// and is the only component that starts or advances native playback for it.
//
// A session is Idle when the queue is empty and nothing is in flight, and
// Speaking otherwise. The record at the head, and only that record, may be
// in native flight. All begin/end/stop callbacks for the session are
// delivered in program order from a single dispatch goroutine.
type Queue struct {
	engine EngineID
	player Player

	mu      sync.Mutex
	cond    *sync.Cond // signals the dispatch goroutine, bound to mu
	items   []Utterance
	current PlaybackHandle // zero when nothing is in native flight
	closed  bool

	pending []delivery
	done    chan struct{} // closed when the dispatch goroutine drains and exits
}

// delivery is one callback event waiting on the session's dispatch
// goroutine. The concrete callback is resolved from the registry at
// delivery time, so late SetOnUtterance* changes and teardown races behave
// like the registry contract says: empty slot, silent no-op.
type delivery struct {
	kind callbackKind
	utt  UtteranceID
}

// NewQueue creates the utterance queue for one engine session and starts
// its callback dispatch goroutine. Close releases it.
func NewQueue(engine EngineID, player Player) *Queue {
	q := &Queue{
		engine: engine,
		player: player,
		done:   make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.dispatchLoop()
	return q
}

// Speak accepts text with the given parameter snapshot. If interrupt is
// true and the session is not Idle, the stop transition runs first. The
// utterance is assigned an id and appended; if the queue was empty its
// playback begins immediately and on-begin is delivered, otherwise it waits
// with no native call and no callback yet. The id is returned in both cases
// so callers can correlate future events even for utterances that have not
// started.
func (q *Queue) Speak(text string, p Params, interrupt bool) (UtteranceID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrEngineClosed
	}
	if interrupt && len(q.items) > 0 {
		if err := q.stopLocked(); err != nil {
			return 0, err
		}
	}
	u := Utterance{ID: NextUtteranceID(), Text: text, Params: p}
	wasIdle := len(q.items) == 0
	q.items = append(q.items, u)
	if wasIdle {
		if err := q.beginLocked(u); err != nil {
			q.items = q.items[:len(q.items)-1]
			return 0, err
		}
	}
	log.Debug("utterance accepted",
		"engine", q.engine, "utterance", u.ID, "queued", len(q.items), "started", wasIdle)
	return u.ID, nil
}

// Stop runs the stop transition: on-stop is delivered for every pending
// record including the in-flight head, in queue order, the queue is cleared
// and native playback halts. Stopping an Idle session is a legal no-op.
func (q *Queue) Stop() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrEngineClosed
	}
	return q.stopLocked()
}

// Speaking reports whether the session is in the Speaking state, i.e. any
// utterance is pending or in flight.
func (q *Queue) Speaking() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) > 0
}

// Pending returns the number of utterances pending or in flight.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close tears the session down. A non-empty queue runs the stop transition
// first, so registered on-stop callbacks are still honored; Close returns
// only after the dispatch goroutine has delivered everything and exited.
// After Close every completion event for this session resolves stale.
// Closing twice is a no-op. Close must not be called from a callback: it
// waits for the goroutine the callback runs on.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	err := q.stopLocked()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	<-q.done
	log.Debug("utterance queue closed", "engine", q.engine)
	return err
}

// beginLocked starts native playback of u and schedules its on-begin.
// Caller holds q.mu and has ensured u is the head record.
func (q *Queue) beginLocked(u Utterance) error {
	h, err := q.player.BeginPlayback(u)
	if err != nil {
		return fmt.Errorf("begin playback of utterance %s: %w: %v", u.ID, ErrOperationFailed, err)
	}
	q.current = h
	registerPlayback(h, q)
	q.deliverLocked(callbackBegin, u.ID)
	return nil
}

// stopLocked is the stop transition. Caller holds q.mu.
func (q *Queue) stopLocked() error {
	if len(q.items) == 0 {
		return nil
	}
	for _, u := range q.items {
		q.deliverLocked(callbackStop, u.ID)
	}
	q.items = nil
	var err error
	if q.current != 0 {
		deregisterPlayback(q.current)
		if haltErr := q.player.HaltPlayback(q.current); haltErr != nil {
			err = fmt.Errorf("halt playback: %w: %v", ErrOperationFailed, haltErr)
		}
		q.current = 0
	}
	return err
}

// playbackFinished consumes one native completion event routed here by the
// dispatch index. It pops the head, schedules its on-end, and starts the
// next record with that record's own snapshot parameters, or returns the
// session to Idle.
func (q *Queue) playbackFinished(h PlaybackHandle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || h != q.current {
		// The playback was halted or superseded between the index lookup
		// and this call.
		log.Debug("dropping stale playback completion", "engine", q.engine, "handle", uint64(h))
		return
	}
	deregisterPlayback(h)
	q.current = 0
	if len(q.items) == 0 {
		log.Debug("playback completion for empty queue", "engine", q.engine, "handle", uint64(h))
		return
	}
	head := q.items[0]
	q.items = q.items[1:]
	q.deliverLocked(callbackEnd, head.ID)
	if len(q.items) == 0 {
		return
	}
	next := q.items[0]
	if err := q.beginLocked(next); err != nil {
		// Leave the record at the head rather than silently skipping it;
		// the next stop or interrupting speak clears the session.
		log.Error("cannot start queued utterance",
			"engine", q.engine, "utterance", next.ID, "err", err)
	}
}

// deliverLocked appends one callback event for the dispatch goroutine.
// Caller holds q.mu.
func (q *Queue) deliverLocked(kind callbackKind, utt UtteranceID) {
	q.pending = append(q.pending, delivery{kind: kind, utt: utt})
	q.cond.Signal()
}

// dispatchLoop delivers callback events one at a time, in order, with no
// locks held while caller code runs. It drains whatever is pending before
// exiting on Close.
func (q *Queue) dispatchLoop() {
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			close(q.done)
			return
		}
		d := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if cb := callbackFor(q.engine, d.kind); cb != nil {
			cb(d.utt)
		}
	}
}
