package voicebox

import (
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// PlaybackHandle identifies one native playback operation. Native layers do
// not know logical utterance or session ids; their completion events carry
// only the handle minted when playback began, and the reverse index below
// maps it back to the owning session. The zero value is never a valid
// handle.
type PlaybackHandle uint64

var playbackHandleCounter atomic.Uint64

// NewPlaybackHandle mints a handle for one playback operation. Engine
// bindings call this inside BeginPlayback and tag their native completion
// path with the result.
func NewPlaybackHandle() PlaybackHandle {
	return PlaybackHandle(playbackHandleCounter.Add(1))
}

// The reverse index from in-flight playback handles to the queues that own
// them, maintained alongside each queue. Entries exist only while their
// playback is the head of a queue; stop transitions and completions remove
// them, so lookups for halted or torn-down playbacks miss.
var playbackIndex = struct {
	sync.Mutex
	m map[PlaybackHandle]*Queue
}{m: make(map[PlaybackHandle]*Queue)}

func registerPlayback(h PlaybackHandle, q *Queue) {
	playbackIndex.Lock()
	defer playbackIndex.Unlock()
	playbackIndex.m[h] = q
}

func deregisterPlayback(h PlaybackHandle) {
	playbackIndex.Lock()
	defer playbackIndex.Unlock()
	delete(playbackIndex.m, h)
}

// PlaybackDone reports that the native playback identified by h finished.
// Engine bindings call it exactly once per successful BeginPlayback, from
// whatever goroutine their native layer completes on; a cancel signal after
// HaltPlayback is also accepted here and filtered out.
//
// A handle that resolves to no session is a stale reference: the playback
// was halted, or its session was torn down while the event was in flight.
// Stale events are logged and dropped; there is no caller left to surface
// them to, and they must never take down the dispatching goroutine.
func PlaybackDone(h PlaybackHandle) {
	playbackIndex.Lock()
	q, ok := playbackIndex.m[h]
	playbackIndex.Unlock()
	if !ok {
		log.Debug("dropping stale playback completion", "handle", uint64(h))
		return
	}
	q.playbackFinished(h)
}
