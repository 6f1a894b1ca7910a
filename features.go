package voicebox

import "strings"

// Features describes which optional operations an engine session supports.
// It is computed once when the engine is constructed and never changes
// afterward, though it may differ between platforms or OS versions for the
// same engine. Every optional Speech method checks the relevant flag and
// fails fast with ErrUnsupported rather than attempting the native call:
// native failure modes for unsupported operations are unreliable (some
// throw, some silently no-op, some block), so the gate is the only portable
// mechanism.
type Features struct {
	// Stop indicates playback can be halted and the pending queue cleared.
	Stop bool

	// Rate indicates the speaking rate can be read and set.
	Rate bool

	// Pitch indicates the voice pitch can be read and set.
	Pitch bool

	// Volume indicates the playback volume can be read and set.
	Volume bool

	// IsSpeaking indicates the engine can report whether it is speaking.
	IsSpeaking bool

	// Voice indicates a voice can be selected.
	Voice bool

	// GetVoice indicates the currently selected voice can be read back.
	GetVoice bool

	// UtteranceCallbacks indicates begin/end/stop callbacks are delivered
	// for individual utterances.
	UtteranceCallbacks bool
}

// String lists the supported feature names, comma separated, for logs and
// the CLI. An engine with no optional features renders as "none".
func (f Features) String() string {
	var on []string
	for _, e := range []struct {
		name string
		ok   bool
	}{
		{"stop", f.Stop},
		{"rate", f.Rate},
		{"pitch", f.Pitch},
		{"volume", f.Volume},
		{"is-speaking", f.IsSpeaking},
		{"voice", f.Voice},
		{"get-voice", f.GetVoice},
		{"utterance-callbacks", f.UtteranceCallbacks},
	} {
		if e.ok {
			on = append(on, e.name)
		}
	}
	if len(on) == 0 {
		return "none"
	}
	return strings.Join(on, ",")
}
