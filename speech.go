package voicebox

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// Speech is the caller-facing facade, bound to exactly one engine session.
// It validates capability flags and numeric ranges before delegating, so
// unsupported or out-of-range requests never reach the native layer.
//
// A Speech value may be shared by cloning: clones address the same session
// and the session stays registered until the last clone is closed. Facade
// methods execute synchronously on the calling goroutine; completion
// callbacks arrive later on the session's dispatch goroutine.
type Speech struct {
	eng    Engine
	shared *speechShared
	closed bool // this handle only, guarded by shared.mu
}

type speechShared struct {
	mu   sync.Mutex
	refs int
}

// New wraps an engine in a Speech facade and registers the session with the
// callback registry. The caller owns the engine from here on: closing the
// last Speech clone closes the engine.
func New(eng Engine) (*Speech, error) {
	if eng == nil {
		return nil, errors.New("voicebox: nil engine")
	}
	if id := eng.ID(); id != nil {
		registerCallbacks(*id)
	}
	log.Debug("speech session opened",
		"engine", eng.Name(), "features", eng.Features())
	return &Speech{eng: eng, shared: &speechShared{refs: 1}}, nil
}

// Clone returns a new handle to the same session. Callback registrations
// and engine state are shared; the session closes when the last handle
// does.
func (s *Speech) Clone() (*Speech, error) {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	if s.closed {
		return nil, s.fail("clone", ErrEngineClosed)
	}
	s.shared.refs++
	return &Speech{eng: s.eng, shared: s.shared}, nil
}

// Close releases this handle. When it is the last one, the engine is closed
// (running the stop transition for any pending utterances) and then the
// session's callback registration is removed, in that order, so on-stop
// callbacks from teardown are still delivered. Closing a handle twice is a
// no-op.
func (s *Speech) Close() error {
	s.shared.mu.Lock()
	if s.closed {
		s.shared.mu.Unlock()
		return nil
	}
	s.closed = true
	s.shared.refs--
	last := s.shared.refs == 0
	s.shared.mu.Unlock()
	if !last {
		return nil
	}
	err := s.eng.Close()
	if id := s.eng.ID(); id != nil {
		unregisterCallbacks(*id)
	}
	log.Debug("speech session closed", "engine", s.eng.Name())
	if err != nil {
		return s.fail("close", err)
	}
	return nil
}

// Name returns the engine's name.
func (s *Speech) Name() string {
	return s.eng.Name()
}

// ID returns the engine session id, nil for engines that cannot correlate.
func (s *Speech) ID() *EngineID {
	return s.eng.ID()
}

// Features reports the engine's capability set.
func (s *Speech) Features() Features {
	return s.eng.Features()
}

// Speak accepts an utterance. With interrupt true, anything pending is
// stopped first (on-stop fires for it) before the new utterance is queued.
// The returned id correlates this utterance's callbacks; it is nil, with a
// nil error, on engines that cannot produce correlation ids.
func (s *Speech) Speak(text string, interrupt bool) (*UtteranceID, error) {
	if s.isClosed() {
		return nil, s.fail("speak", ErrEngineClosed)
	}
	id, err := s.eng.Speak(text, interrupt)
	if err != nil {
		return nil, s.fail("speak", err)
	}
	return id, nil
}

// Stop halts playback and clears the pending queue, delivering on-stop for
// every cleared utterance in order. Stopping an idle session is a no-op.
func (s *Speech) Stop() error {
	if err := s.guard("stop", s.eng.Features().Stop); err != nil {
		return err
	}
	if err := s.eng.Stop(); err != nil {
		return s.fail("stop", err)
	}
	return nil
}

// IsSpeaking reports whether any utterance is pending or in flight.
func (s *Speech) IsSpeaking() (bool, error) {
	if err := s.guard("is speaking", s.eng.Features().IsSpeaking); err != nil {
		return false, err
	}
	speaking, err := s.eng.IsSpeaking()
	if err != nil {
		return false, s.fail("is speaking", err)
	}
	return speaking, nil
}

// RateRange reports the engine's speaking-rate bounds in engine units.
func (s *Speech) RateRange() Range { return s.eng.RateRange() }

// Rate returns the current speaking rate.
func (s *Speech) Rate() (float64, error) {
	if err := s.guard("get rate", s.eng.Features().Rate); err != nil {
		return 0, err
	}
	rate, err := s.eng.Rate()
	if err != nil {
		return 0, s.fail("get rate", err)
	}
	return rate, nil
}

// SetRate sets the speaking rate for subsequent utterances. Values outside
// RateRange are rejected with ErrOutOfRange before reaching the engine.
func (s *Speech) SetRate(rate float64) error {
	if err := s.guard("set rate", s.eng.Features().Rate); err != nil {
		return err
	}
	if err := checkRange("rate", rate, s.eng.RateRange()); err != nil {
		return s.fail("set rate", err)
	}
	if err := s.eng.SetRate(rate); err != nil {
		return s.fail("set rate", err)
	}
	return nil
}

// PitchRange reports the engine's pitch bounds in engine units.
func (s *Speech) PitchRange() Range { return s.eng.PitchRange() }

// Pitch returns the current voice pitch.
func (s *Speech) Pitch() (float64, error) {
	if err := s.guard("get pitch", s.eng.Features().Pitch); err != nil {
		return 0, err
	}
	pitch, err := s.eng.Pitch()
	if err != nil {
		return 0, s.fail("get pitch", err)
	}
	return pitch, nil
}

// SetPitch sets the voice pitch for subsequent utterances. Values outside
// PitchRange are rejected with ErrOutOfRange before reaching the engine.
func (s *Speech) SetPitch(pitch float64) error {
	if err := s.guard("set pitch", s.eng.Features().Pitch); err != nil {
		return err
	}
	if err := checkRange("pitch", pitch, s.eng.PitchRange()); err != nil {
		return s.fail("set pitch", err)
	}
	if err := s.eng.SetPitch(pitch); err != nil {
		return s.fail("set pitch", err)
	}
	return nil
}

// VolumeRange reports the engine's volume bounds in engine units.
func (s *Speech) VolumeRange() Range { return s.eng.VolumeRange() }

// Volume returns the current playback volume.
func (s *Speech) Volume() (float64, error) {
	if err := s.guard("get volume", s.eng.Features().Volume); err != nil {
		return 0, err
	}
	volume, err := s.eng.Volume()
	if err != nil {
		return 0, s.fail("get volume", err)
	}
	return volume, nil
}

// SetVolume sets the playback volume for subsequent utterances. Values
// outside VolumeRange are rejected with ErrOutOfRange before reaching the
// engine.
func (s *Speech) SetVolume(volume float64) error {
	if err := s.guard("set volume", s.eng.Features().Volume); err != nil {
		return err
	}
	if err := checkRange("volume", volume, s.eng.VolumeRange()); err != nil {
		return s.fail("set volume", err)
	}
	if err := s.eng.SetVolume(volume); err != nil {
		return s.fail("set volume", err)
	}
	return nil
}

// Voices enumerates the engine's voices. Not gated: engines without voice
// selection return an empty slice.
func (s *Speech) Voices() ([]Voice, error) {
	if s.isClosed() {
		return nil, s.fail("voices", ErrEngineClosed)
	}
	voices, err := s.eng.Voices()
	if err != nil {
		return nil, s.fail("voices", err)
	}
	return voices, nil
}

// Voice returns the currently selected voice.
func (s *Speech) Voice() (*Voice, error) {
	if err := s.guard("get voice", s.eng.Features().GetVoice); err != nil {
		return nil, err
	}
	v, err := s.eng.Voice()
	if err != nil {
		return nil, s.fail("get voice", err)
	}
	return v, nil
}

// SetVoice selects the voice for subsequent utterances.
func (s *Speech) SetVoice(v Voice) error {
	if err := s.guard("set voice", s.eng.Features().Voice); err != nil {
		return err
	}
	if err := s.eng.SetVoice(v); err != nil {
		return s.fail("set voice", err)
	}
	return nil
}

// SetOnUtteranceBegin registers cb to run when an utterance's playback
// begins. A nil cb clears the slot. Replaceable any number of times.
func (s *Speech) SetOnUtteranceBegin(cb Callback) error {
	return s.setCallback("on utterance begin", callbackBegin, cb)
}

// SetOnUtteranceEnd registers cb to run when an utterance's playback
// completes. A nil cb clears the slot.
func (s *Speech) SetOnUtteranceEnd(cb Callback) error {
	return s.setCallback("on utterance end", callbackEnd, cb)
}

// SetOnUtteranceStop registers cb to run for each utterance cancelled by
// stop, an interrupting speak, or teardown. A nil cb clears the slot.
func (s *Speech) SetOnUtteranceStop(cb Callback) error {
	return s.setCallback("on utterance stop", callbackStop, cb)
}

func (s *Speech) setCallback(op string, kind callbackKind, cb Callback) error {
	if err := s.guard(op, s.eng.Features().UtteranceCallbacks); err != nil {
		return err
	}
	id := s.eng.ID()
	if id == nil {
		return s.fail(op, ErrUnsupported)
	}
	setCallback(*id, kind, cb)
	return nil
}

func (s *Speech) isClosed() bool {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	return s.closed
}

// guard rejects operations on closed handles and operations whose
// capability flag is false.
func (s *Speech) guard(op string, supported bool) error {
	if s.isClosed() {
		return s.fail(op, ErrEngineClosed)
	}
	if !supported {
		return s.fail(op, ErrUnsupported)
	}
	return nil
}

func (s *Speech) fail(op string, err error) error {
	return &EngineError{Engine: s.eng.Name(), Op: op, Err: err}
}

func checkRange(what string, v float64, r Range) error {
	if r.Contains(v) {
		return nil
	}
	return fmt.Errorf("%s %v outside [%v, %v]: %w", what, v, r.Min, r.Max, ErrOutOfRange)
}
