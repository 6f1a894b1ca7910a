package voicebox

// Range bounds a numeric synthesis parameter as reported by an engine.
// Bounds are inclusive; Normal is the engine's default value. Units are
// engine-native (words per minute, multipliers, decibels), which is why the
// facade validates against the engine's own Range instead of a portable
// scale.
type Range struct {
	Min    float64
	Max    float64
	Normal float64
}

// Contains reports whether v lies within [Min, Max].
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Engine is one concrete binding to a native speech-synthesis engine. The
// Speech facade performs all capability and range validation; an Engine
// method for an optional operation is only ever invoked when the matching
// Features flag is true and, for setters, the value is inside the engine's
// Range.
//
// Implementations whose native layer plays one utterance at a time should
// build on Queue for their speak/stop/queue semantics, as the engines
// subpackages do.
type Engine interface {
	// Name identifies the binding in errors and logs, e.g. "say".
	Name() string

	// ID returns the engine session id, or nil when the native API cannot
	// correlate utterances to a session at all.
	ID() *EngineID

	// Features reports the capability set, fixed at construction.
	Features() Features

	// Speak accepts an utterance. A nil UtteranceID with a nil error means
	// the engine is structurally unable to produce a correlation id.
	Speak(text string, interrupt bool) (*UtteranceID, error)

	// Stop halts playback and clears pending utterances.
	Stop() error

	// RateRange reports the bounds of the speaking rate, in engine units.
	RateRange() Range
	Rate() (float64, error)
	SetRate(rate float64) error

	// PitchRange reports the bounds of the voice pitch.
	PitchRange() Range
	Pitch() (float64, error)
	SetPitch(pitch float64) error

	// VolumeRange reports the bounds of the playback volume.
	VolumeRange() Range
	Volume() (float64, error)
	SetVolume(volume float64) error

	// IsSpeaking reports whether any utterance is pending or in flight.
	IsSpeaking() (bool, error)

	// Voices enumerates the voices the engine can speak with. May return
	// an empty slice on engines without voice selection.
	Voices() ([]Voice, error)

	// Voice returns the currently selected voice.
	Voice() (*Voice, error)

	// SetVoice selects a voice for subsequent utterances.
	SetVoice(v Voice) error

	// Close tears the session down, running the stop transition for any
	// pending utterances and releasing native resources. Closing twice is
	// a no-op.
	Close() error
}
