// Package mock provides a fully in-memory speech engine. It simulates a
// native layer that plays one utterance at a time and completes on its own
// goroutine, with injectable playback delay, failure injection and call
// counting, so the queue, facade and callback semantics can be tested
// without any audio hardware.
package mock

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/dgnsrekt/voicebox"
)

// Config controls the simulated native layer.
type Config struct {
	// Features advertised by the engine. DefaultConfig enables all.
	Features voicebox.Features

	// RateRange, PitchRange and VolumeRange are the reported bounds.
	RateRange   voicebox.Range
	PitchRange  voicebox.Range
	VolumeRange voicebox.Range

	// PlaybackDelay is how long a simulated playback runs before its
	// completion event fires. Zero completes immediately, though still
	// asynchronously.
	PlaybackDelay time.Duration

	// Manual disables automatic completion; playbacks finish only when
	// the test calls FinishCurrent.
	Manual bool

	// HaltEvents makes HaltPlayback emit a cancel event for the halted
	// playback, as some native layers do. The dispatch index must filter
	// these as stale.
	HaltEvents bool

	// InitDelay simulates slow native initialization. When it exceeds
	// InitTimeout, New fails with ErrInitTimeout.
	InitDelay   time.Duration
	InitTimeout time.Duration

	// Voices available for selection. DefaultConfig provides two.
	Voices []voicebox.Voice
}

// DefaultConfig returns a fully capable engine that completes playback
// immediately.
func DefaultConfig() Config {
	return Config{
		Features: voicebox.Features{
			Stop:               true,
			Rate:               true,
			Pitch:              true,
			Volume:             true,
			IsSpeaking:         true,
			Voice:              true,
			GetVoice:           true,
			UtteranceCallbacks: true,
		},
		RateRange:   voicebox.Range{Min: 0.5, Max: 2.0, Normal: 1.0},
		PitchRange:  voicebox.Range{Min: 0.0, Max: 2.0, Normal: 1.0},
		VolumeRange: voicebox.Range{Min: 0.0, Max: 1.0, Normal: 1.0},
		Voices: []voicebox.Voice{
			{ID: "mock-en-m", Name: "Mock Male", Language: language.AmericanEnglish, Gender: voicebox.GenderMale},
			{ID: "mock-en-f", Name: "Mock Female", Language: language.BritishEnglish, Gender: voicebox.GenderFemale},
		},
	}
}

// Engine is the mock engine. It implements voicebox.Engine through the
// shared utterance queue and voicebox.Player as its own simulated native
// layer.
type Engine struct {
	id       voicebox.EngineID
	features voicebox.Features
	ranges   struct{ rate, pitch, volume voicebox.Range }
	queue    *voicebox.Queue

	mu        sync.Mutex
	rate      float64
	pitch     float64
	volume    float64
	voice     *voicebox.Voice
	voices    []voicebox.Voice
	closed    bool
	delay     time.Duration
	manual    bool
	haltEvent bool
	failErr   error
	inFlight  voicebox.PlaybackHandle
	timers    map[voicebox.PlaybackHandle]*time.Timer
	played    []voicebox.Utterance
	calls     map[string]int
}

// New constructs a mock engine. It honors Config.InitDelay against
// Config.InitTimeout the way a real binding waits for its native ready
// signal, so construction-timeout handling can be exercised.
func New(cfg Config) (*Engine, error) {
	if cfg.InitDelay > 0 && cfg.InitTimeout > 0 {
		ready := make(chan struct{})
		time.AfterFunc(cfg.InitDelay, func() { close(ready) })
		select {
		case <-ready:
		case <-time.After(cfg.InitTimeout):
			return nil, fmt.Errorf("mock engine: %w", voicebox.ErrInitTimeout)
		}
	}
	e := &Engine{
		id:        voicebox.NextEngineID(),
		features:  cfg.Features,
		rate:      cfg.RateRange.Normal,
		pitch:     cfg.PitchRange.Normal,
		volume:    cfg.VolumeRange.Normal,
		voices:    cfg.Voices,
		delay:     cfg.PlaybackDelay,
		manual:    cfg.Manual,
		haltEvent: cfg.HaltEvents,
		timers:    make(map[voicebox.PlaybackHandle]*time.Timer),
		calls:     make(map[string]int),
	}
	e.ranges.rate = cfg.RateRange
	e.ranges.pitch = cfg.PitchRange
	e.ranges.volume = cfg.VolumeRange
	if len(e.voices) > 0 {
		v := e.voices[0]
		e.voice = &v
	}
	e.queue = voicebox.NewQueue(e.id, e)
	return e, nil
}

// Name implements voicebox.Engine.
func (e *Engine) Name() string { return "mock" }

// ID implements voicebox.Engine.
func (e *Engine) ID() *voicebox.EngineID {
	id := e.id
	return &id
}

// Features implements voicebox.Engine.
func (e *Engine) Features() voicebox.Features { return e.features }

// Speak implements voicebox.Engine. The current rate, pitch, volume and
// voice are snapshotted into the utterance record at this moment.
func (e *Engine) Speak(text string, interrupt bool) (*voicebox.UtteranceID, error) {
	e.mu.Lock()
	e.calls["speak"]++
	p := voicebox.Params{Rate: e.rate, Pitch: e.pitch, Volume: e.volume, Voice: e.voice}
	e.mu.Unlock()
	id, err := e.queue.Speak(text, p, interrupt)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// Stop implements voicebox.Engine.
func (e *Engine) Stop() error {
	e.mu.Lock()
	e.calls["stop"]++
	e.mu.Unlock()
	return e.queue.Stop()
}

// IsSpeaking implements voicebox.Engine.
func (e *Engine) IsSpeaking() (bool, error) {
	return e.queue.Speaking(), nil
}

// RateRange implements voicebox.Engine.
func (e *Engine) RateRange() voicebox.Range { return e.ranges.rate }

// Rate implements voicebox.Engine.
func (e *Engine) Rate() (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate, nil
}

// SetRate implements voicebox.Engine.
func (e *Engine) SetRate(rate float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls["set_rate"]++
	e.rate = rate
	return nil
}

// PitchRange implements voicebox.Engine.
func (e *Engine) PitchRange() voicebox.Range { return e.ranges.pitch }

// Pitch implements voicebox.Engine.
func (e *Engine) Pitch() (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pitch, nil
}

// SetPitch implements voicebox.Engine.
func (e *Engine) SetPitch(pitch float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls["set_pitch"]++
	e.pitch = pitch
	return nil
}

// VolumeRange implements voicebox.Engine.
func (e *Engine) VolumeRange() voicebox.Range { return e.ranges.volume }

// Volume implements voicebox.Engine.
func (e *Engine) Volume() (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume, nil
}

// SetVolume implements voicebox.Engine.
func (e *Engine) SetVolume(volume float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls["set_volume"]++
	e.volume = volume
	return nil
}

// Voices implements voicebox.Engine.
func (e *Engine) Voices() ([]voicebox.Voice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]voicebox.Voice, len(e.voices))
	copy(out, e.voices)
	return out, nil
}

// Voice implements voicebox.Engine.
func (e *Engine) Voice() (*voicebox.Voice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.voice == nil {
		return nil, nil
	}
	v := *e.voice
	return &v, nil
}

// SetVoice implements voicebox.Engine. Unknown voices are rejected the way
// a native layer would reject them.
func (e *Engine) SetVoice(v voicebox.Voice) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls["set_voice"]++
	for _, have := range e.voices {
		if have.ID == v.ID {
			e.voice = &have
			return nil
		}
	}
	return fmt.Errorf("%w: unknown voice %q", voicebox.ErrOperationFailed, v.ID)
}

// Close implements voicebox.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	return e.queue.Close()
}

// BeginPlayback implements voicebox.Player: the simulated native layer
// accepts the utterance and schedules its completion event.
func (e *Engine) BeginPlayback(u voicebox.Utterance) (voicebox.PlaybackHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls["begin_playback"]++
	if e.failErr != nil {
		return 0, e.failErr
	}
	e.played = append(e.played, u)
	h := voicebox.NewPlaybackHandle()
	e.inFlight = h
	if !e.manual {
		e.timers[h] = time.AfterFunc(e.delay, func() {
			e.mu.Lock()
			delete(e.timers, h)
			if e.inFlight == h {
				e.inFlight = 0
			}
			e.mu.Unlock()
			voicebox.PlaybackDone(h)
		})
	}
	return h, nil
}

// HaltPlayback implements voicebox.Player.
func (e *Engine) HaltPlayback(h voicebox.PlaybackHandle) error {
	e.mu.Lock()
	e.calls["halt_playback"]++
	if t, ok := e.timers[h]; ok {
		t.Stop()
		delete(e.timers, h)
	}
	if e.inFlight == h {
		e.inFlight = 0
	}
	emit := e.haltEvent
	e.mu.Unlock()
	if emit {
		go voicebox.PlaybackDone(h)
	}
	return nil
}

// FinishCurrent delivers the completion event for the in-flight playback.
// Only meaningful with Config.Manual. Reports whether anything was in
// flight.
func (e *Engine) FinishCurrent() bool {
	e.mu.Lock()
	h := e.inFlight
	e.inFlight = 0
	e.mu.Unlock()
	if h == 0 {
		return false
	}
	voicebox.PlaybackDone(h)
	return true
}

// SetFailure makes subsequent BeginPlayback calls fail with err until
// ClearFailure.
func (e *Engine) SetFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failErr = err
}

// ClearFailure removes an injected failure.
func (e *Engine) ClearFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failErr = nil
}

// SetPlaybackDelay changes the simulated playback duration for subsequent
// utterances.
func (e *Engine) SetPlaybackDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
}

// Played returns the utterances that actually reached the native layer, in
// order, with the parameter snapshots they carried.
func (e *Engine) Played() []voicebox.Utterance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]voicebox.Utterance, len(e.played))
	copy(out, e.played)
	return out
}

// CallCount reports how often the named operation reached the engine:
// "speak", "stop", "set_rate", "set_pitch", "set_volume", "set_voice",
// "begin_playback", "halt_playback".
func (e *Engine) CallCount(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

var (
	_ voicebox.Engine = (*Engine)(nil)
	_ voicebox.Player = (*Engine)(nil)
)
