package voicebox

import "sync"

// Callback receives the id of the utterance the event belongs to. Callbacks
// run on a per-session dispatch goroutine, never on the caller's goroutine
// and never with any package lock held, so they may call back into the
// Speech instance that delivered them.
type Callback func(UtteranceID)

type callbackKind int

const (
	callbackBegin callbackKind = iota
	callbackEnd
	callbackStop
)

func (k callbackKind) String() string {
	switch k {
	case callbackBegin:
		return "begin"
	case callbackEnd:
		return "end"
	case callbackStop:
		return "stop"
	default:
		return "unknown"
	}
}

// callbackSet is the mutable triple of optional callbacks for one session.
type callbackSet struct {
	begin Callback
	end   Callback
	stop  Callback
}

// The registry maps engine sessions to their callback triples. Native
// completion handlers dispatch from goroutines the caller does not control,
// so one coarse mutex guards the whole table; invocation bodies are expected
// to be short and the callback value is copied out before the lock is
// released.
var callbackRegistry = struct {
	sync.Mutex
	m map[EngineID]*callbackSet
}{m: make(map[EngineID]*callbackSet)}

// registerCallbacks inserts an empty triple for the session. Called once
// when a Speech facade is constructed around an engine with a session id.
func registerCallbacks(id EngineID) {
	callbackRegistry.Lock()
	defer callbackRegistry.Unlock()
	if _, ok := callbackRegistry.m[id]; !ok {
		callbackRegistry.m[id] = &callbackSet{}
	}
}

// unregisterCallbacks removes the session's triple. Called when the last
// Speech clone closes. Removing an id that was never registered is a no-op.
func unregisterCallbacks(id EngineID) {
	callbackRegistry.Lock()
	defer callbackRegistry.Unlock()
	delete(callbackRegistry.m, id)
}

// setCallback replaces one slot of the session's triple. A nil cb clears
// the slot. Setting a slot for an unregistered session is a no-op; the
// facade guards against that before calling.
func setCallback(id EngineID, kind callbackKind, cb Callback) {
	callbackRegistry.Lock()
	defer callbackRegistry.Unlock()
	set, ok := callbackRegistry.m[id]
	if !ok {
		return
	}
	switch kind {
	case callbackBegin:
		set.begin = cb
	case callbackEnd:
		set.end = cb
	case callbackStop:
		set.stop = cb
	}
}

// callbackFor copies the current callback for the slot out from under the
// lock. Returns nil when the slot is empty or the session is not registered;
// both are legal states, not errors. Invoking the result must happen without
// the registry lock held.
func callbackFor(id EngineID, kind callbackKind) Callback {
	callbackRegistry.Lock()
	defer callbackRegistry.Unlock()
	set, ok := callbackRegistry.m[id]
	if !ok {
		return nil
	}
	switch kind {
	case callbackBegin:
		return set.begin
	case callbackEnd:
		return set.end
	case callbackStop:
		return set.stop
	default:
		return nil
	}
}
