package voicebox

import (
	"strconv"
	"sync/atomic"
)

// EngineID identifies one live engine session. IDs are allocated by
// NextEngineID, are unique for the lifetime of the process and are never
// reused. The zero-based numbering is an implementation detail; treat the
// value as opaque.
type EngineID uint64

// String returns the decimal form of the id.
func (id EngineID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// UtteranceID identifies one accepted speak request. It is a correlation
// token, not a handle to content: it carries no payload beyond identity.
// Allocated the moment a speak request is accepted, before any native
// synthesis begins, and never reused within a process run.
type UtteranceID uint64

// String returns the decimal form of the id.
func (id UtteranceID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

var (
	engineIDCounter    atomic.Uint64
	utteranceIDCounter atomic.Uint64
)

// NextEngineID allocates the id for a new engine session. Safe for
// concurrent use from any number of engine constructors.
func NextEngineID() EngineID {
	return EngineID(engineIDCounter.Add(1) - 1)
}

// NextUtteranceID allocates the id for a newly accepted utterance. Safe for
// concurrent use. Overflow is not a practical concern with 64-bit counters.
func NextUtteranceID() UtteranceID {
	return UtteranceID(utteranceIDCounter.Add(1) - 1)
}
