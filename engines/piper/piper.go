// Package piper binds the piper neural synthesizer. Text is piped through
// the piper binary, which answers with raw 16-bit mono PCM; playback runs
// through the host audio device. Synthesized audio is cached keyed by text,
// voice and rate, so repeated utterances skip the model entirely.
package piper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/text/language"

	"github.com/dgnsrekt/voicebox"
	"github.com/dgnsrekt/voicebox/internal/audio"
	"github.com/dgnsrekt/voicebox/internal/cache"
	"github.com/dgnsrekt/voicebox/internal/subprocess"
)

// Rate divides piper's length scale: a rate of 2.0 runs the model at half
// the phoneme length. Volume is the playback gain on the audio stream.
var (
	rateRange   = voicebox.Range{Min: 0.5, Max: 2, Normal: 1}
	volumeRange = voicebox.Range{Min: 0, Max: 1, Normal: 1}
)

const (
	// maxTextSize keeps a single synthesis run bounded. Long documents
	// should be split into sentences before they reach the engine.
	maxTextSize = 5000

	// completionSlack absorbs the device draining its buffer after the
	// stream's nominal playing time has elapsed.
	completionSlack = 50 * time.Millisecond
)

// Model is one piper voice model on disk.
type Model struct {
	// Path locates the .onnx model file. Required.
	Path string

	// Config locates the model's json sidecar. Defaults to Path + ".json".
	Config string

	// ID names the voice. Defaults to the model file name without its
	// extension, e.g. "en_US-amy-medium".
	ID string

	// Name is the human-readable voice name. Defaults to ID.
	Name string

	// Language the model speaks, if known.
	Language language.Tag

	// Gender of the voice, if known.
	Gender voicebox.Gender

	// Speaker selects one speaker inside a multi-speaker model.
	Speaker string
}

// normalize fills derived fields and verifies the model files exist.
func (m Model) normalize() (Model, error) {
	if m.Path == "" {
		return m, errors.New("voice model has no path")
	}
	if m.Config == "" {
		m.Config = m.Path + ".json"
	}
	if m.ID == "" {
		base := filepath.Base(m.Path)
		m.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	if _, err := os.Stat(m.Path); err != nil {
		return m, fmt.Errorf("voice model %s: %w", m.ID, err)
	}
	if _, err := os.Stat(m.Config); err != nil {
		return m, fmt.Errorf("voice model %s config: %w", m.ID, err)
	}
	return m, nil
}

// Config controls the binding.
type Config struct {
	// Binary is the piper executable. Defaults to "piper".
	Binary string

	// Models are the voices available to the session. At least one is
	// required; the first is the initial voice.
	Models []Model

	// SampleRate of the models' PCM output. Piper voices are mono 16-bit;
	// medium quality models speak at 22050 Hz, which is the default.
	SampleRate int

	// CacheDir persists synthesized audio across sessions. Empty keeps
	// the cache in memory only.
	CacheDir string

	// InitTimeout bounds audio device initialization.
	InitTimeout time.Duration

	// SynthesisTimeout bounds one run of the piper binary.
	SynthesisTimeout time.Duration

	// Device overrides the playback device. Nil opens the system device;
	// tests substitute one that never touches audio hardware.
	Device audio.Device
}

// DefaultConfig runs the real piper binary against the system audio device.
func DefaultConfig() Config {
	return Config{
		Binary:           "piper",
		SampleRate:       22050,
		InitTimeout:      5 * time.Second,
		SynthesisTimeout: 30 * time.Second,
	}
}

// playback is one utterance in native flight.
type playback struct {
	handle voicebox.PlaybackHandle
	stream audio.Stream
	halt   chan struct{}
	once   sync.Once
}

func (p *playback) interrupt() {
	p.once.Do(func() { close(p.halt) })
}

// Engine speaks through piper models.
type Engine struct {
	id           voicebox.EngineID
	binary       string
	device       audio.Device
	sampleRate   int
	synthTimeout time.Duration
	queue        *voicebox.Queue
	store        *cache.Cache

	mu     sync.Mutex
	rate   float64
	volume float64
	voice  voicebox.Voice
	models map[string]Model
	voices []voicebox.Voice
	active map[voicebox.PlaybackHandle]*playback
	closed bool
}

// New constructs the binding. It fails with ErrEngineUnavailable when the
// piper binary is not on PATH or no usable model is configured, and with
// ErrInitTimeout when the audio device does not come up in time.
func New(cfg Config) (*Engine, error) {
	def := DefaultConfig()
	if cfg.Binary == "" {
		cfg.Binary = def.Binary
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = def.InitTimeout
	}
	if cfg.SynthesisTimeout <= 0 {
		cfg.SynthesisTimeout = def.SynthesisTimeout
	}
	if err := subprocess.Available(cfg.Binary); err != nil {
		return nil, fmt.Errorf("%w: %v", voicebox.ErrEngineUnavailable, err)
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("%w: no voice models configured", voicebox.ErrEngineUnavailable)
	}

	models := make(map[string]Model, len(cfg.Models))
	voices := make([]voicebox.Voice, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		m, err := m.normalize()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", voicebox.ErrEngineUnavailable, err)
		}
		models[m.ID] = m
		voices = append(voices, voicebox.Voice{
			ID:       m.ID,
			Name:     m.Name,
			Language: m.Language,
			Gender:   m.Gender,
		})
	}

	device := cfg.Device
	if device == nil {
		var err error
		device, err = audio.Open(audio.Config{SampleRate: cfg.SampleRate, InitTimeout: cfg.InitTimeout})
		if errors.Is(err, audio.ErrNotReady) {
			return nil, fmt.Errorf("%w: %v", voicebox.ErrInitTimeout, err)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", voicebox.ErrEngineUnavailable, err)
		}
	}

	store, err := cache.Open(cache.Config{Dir: cfg.CacheDir})
	if err != nil {
		return nil, fmt.Errorf("open audio cache: %w", err)
	}

	e := &Engine{
		id:           voicebox.NextEngineID(),
		binary:       cfg.Binary,
		device:       device,
		sampleRate:   cfg.SampleRate,
		synthTimeout: cfg.SynthesisTimeout,
		store:        store,
		rate:         rateRange.Normal,
		volume:       volumeRange.Normal,
		voice:        voices[0],
		models:       models,
		voices:       voices,
		active:       make(map[voicebox.PlaybackHandle]*playback),
	}
	e.queue = voicebox.NewQueue(e.id, e)
	log.Debug("piper engine ready", "models", len(voices), "sample_rate", cfg.SampleRate)
	return e, nil
}

// Name implements voicebox.Engine.
func (e *Engine) Name() string { return "piper" }

// ID implements voicebox.Engine.
func (e *Engine) ID() *voicebox.EngineID {
	id := e.id
	return &id
}

// Features implements voicebox.Engine. Piper models have no pitch control.
func (e *Engine) Features() voicebox.Features {
	return voicebox.Features{
		Stop:               true,
		Rate:               true,
		Volume:             true,
		IsSpeaking:         true,
		Voice:              true,
		GetVoice:           true,
		UtteranceCallbacks: true,
	}
}

// Speak implements voicebox.Engine.
func (e *Engine) Speak(text string, interrupt bool) (*voicebox.UtteranceID, error) {
	e.mu.Lock()
	v := e.voice
	p := voicebox.Params{Rate: e.rate, Volume: e.volume, Voice: &v}
	e.mu.Unlock()
	id, err := e.queue.Speak(text, p, interrupt)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// Stop implements voicebox.Engine.
func (e *Engine) Stop() error { return e.queue.Stop() }

// IsSpeaking implements voicebox.Engine.
func (e *Engine) IsSpeaking() (bool, error) { return e.queue.Speaking(), nil }

// RateRange implements voicebox.Engine.
func (e *Engine) RateRange() voicebox.Range { return rateRange }

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
	e.rate = rate
	return nil
}

// PitchRange implements voicebox.Engine.
func (e *Engine) PitchRange() voicebox.Range { return voicebox.Range{} }

// Pitch implements voicebox.Engine.
func (e *Engine) Pitch() (float64, error) { return 0, voicebox.ErrUnsupported }

// SetPitch implements voicebox.Engine.
func (e *Engine) SetPitch(float64) error { return voicebox.ErrUnsupported }

// VolumeRange implements voicebox.Engine.
func (e *Engine) VolumeRange() voicebox.Range { return volumeRange }

// Volume implements voicebox.Engine.
func (e *Engine) Volume() (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume, nil
}

// SetVolume implements voicebox.Engine. The gain applies to utterances
// submitted afterwards; audio already in flight keeps its snapshot.
func (e *Engine) SetVolume(volume float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
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
	v := e.voice
	return &v, nil
}

// SetVoice implements voicebox.Engine.
func (e *Engine) SetVoice(v voicebox.Voice) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.models[v.ID]; !ok {
		return fmt.Errorf("%w: unknown voice %q", voicebox.ErrOperationFailed, v.ID)
	}
	for _, have := range e.voices {
		if have.ID == v.ID {
			e.voice = have
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
	err := e.queue.Close()
	if cerr := e.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// BeginPlayback implements voicebox.Player. Synthesis runs inline; the
// utterance has been accepted by the native layer once its audio exists and
// the stream has started. Completion is reported by the watch goroutine.
func (e *Engine) BeginPlayback(u voicebox.Utterance) (voicebox.PlaybackHandle, error) {
	m, err := e.modelFor(u.Voice)
	if err != nil {
		return 0, err
	}
	pcm, err := e.synthesize(u.Text, m, u.Rate)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", voicebox.ErrOperationFailed, err)
	}

	stream := e.device.NewStream(bytes.NewReader(pcm))
	stream.SetVolume(u.Volume)
	h := voicebox.NewPlaybackHandle()
	pb := &playback{handle: h, stream: stream, halt: make(chan struct{})}

	e.mu.Lock()
	e.active[h] = pb
	e.mu.Unlock()

	stream.Play()
	go e.watch(pb, audio.PCMDuration(len(pcm), e.sampleRate))
	return h, nil
}

// HaltPlayback implements voicebox.Player.
func (e *Engine) HaltPlayback(h voicebox.PlaybackHandle) error {
	e.mu.Lock()
	pb, ok := e.active[h]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	pb.interrupt()
	return nil
}

// watch waits out the stream's playing time, then reports completion. A
// halt short-circuits the wait; its completion event resolves stale in the
// dispatch index and is dropped there.
func (e *Engine) watch(pb *playback, d time.Duration) {
	timer := time.NewTimer(d + completionSlack)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-pb.halt:
	}
	pb.stream.Pause()
	if err := pb.stream.Close(); err != nil {
		log.Debug("close piper stream", "err", err)
	}
	e.mu.Lock()
	delete(e.active, pb.handle)
	e.mu.Unlock()
	voicebox.PlaybackDone(pb.handle)
}

// modelFor resolves the snapshot voice to its model.
func (e *Engine) modelFor(v *voicebox.Voice) (Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v == nil {
		return e.models[e.voice.ID], nil
	}
	m, ok := e.models[v.ID]
	if !ok {
		return Model{}, fmt.Errorf("%w: unknown voice %q", voicebox.ErrOperationFailed, v.ID)
	}
	return m, nil
}

// synthesize produces PCM for text, consulting the cache first. An empty
// utterance still owns its begin/end pair, so it plays a sliver of silence
// instead of asking the model for nothing.
func (e *Engine) synthesize(text string, m Model, rate float64) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return audio.Silence(10*time.Millisecond, e.sampleRate), nil
	}
	if len(text) > maxTextSize {
		return nil, fmt.Errorf("text too long: %d bytes (max %d)", len(text), maxTextSize)
	}

	key := cache.Key{Engine: "piper", Voice: m.ID, Text: text, Rate: rate}
	if pcm, ok := e.store.Get(key); ok {
		return pcm, nil
	}

	args := []string{
		"--model", m.Path,
		"--config", m.Config,
		"--output-raw",
		"--length-scale", fmt.Sprintf("%.2f", 1.0/rate),
	}
	if m.Speaker != "" {
		args = append(args, "--speaker", m.Speaker)
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.synthTimeout)
	defer cancel()
	start := time.Now()
	pcm, err := subprocess.Run(ctx, text, e.binary, args...)
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, errors.New("piper produced no audio")
	}
	log.Debug("synthesized",
		"voice", m.ID,
		"bytes", len(pcm),
		"took", time.Since(start))
	if err := e.store.Put(key, pcm); err != nil && !errors.Is(err, cache.ErrTooLarge) {
		log.Debug("cache synthesized audio", "err", err)
	}
	return pcm, nil
}

var (
	_ voicebox.Engine = (*Engine)(nil)
	_ voicebox.Player = (*Engine)(nil)
)
