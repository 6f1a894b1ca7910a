// Package google binds Google Cloud Text-to-Speech. Synthesis requests run
// through the cloud client under a rate limiter; the returned MP3 plays on
// the process-global beep speaker. Rate, pitch and volume gain are applied
// server side, so they key the audio cache along with text and voice.
package google

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"github.com/charmbracelet/log"
	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"
	texttospeechpb "google.golang.org/genproto/googleapis/cloud/texttospeech/v1"

	"github.com/dgnsrekt/voicebox"
	"github.com/dgnsrekt/voicebox/internal/cache"
)

// Ranges follow the AudioConfig contract: speaking_rate is a multiplier,
// pitch is in semitones, volume_gain_db is a decibel gain.
var (
	rateRange   = voicebox.Range{Min: 0.25, Max: 4, Normal: 1}
	pitchRange  = voicebox.Range{Min: -20, Max: 20, Normal: 0}
	volumeRange = voicebox.Range{Min: -96, Max: 16, Normal: 0}
)

// maxTextSize is the API's per-request input limit.
const maxTextSize = 5000

// Config controls the binding.
type Config struct {
	// LanguageCode narrows voice enumeration and is the synthesis
	// language when no voice is selected. Defaults to "en-US".
	LanguageCode string

	// VoiceName preselects a voice by its API name, e.g.
	// "en-US-Standard-C". Empty lets the API pick by language.
	VoiceName string

	// CacheDir persists synthesized audio across sessions. Empty keeps
	// the cache in memory only.
	CacheDir string

	// RequestsPerMinute caps outbound synthesis calls so a runaway
	// caller cannot burn quota. Defaults to 60.
	RequestsPerMinute int

	// SynthesisTimeout bounds one API call, including any time spent
	// waiting on the rate limiter. Defaults to 30s.
	SynthesisTimeout time.Duration
}

// DefaultConfig speaks US English at the API defaults.
func DefaultConfig() Config {
	return Config{
		LanguageCode:      "en-US",
		RequestsPerMinute: 60,
		SynthesisTimeout:  30 * time.Second,
	}
}

// api is the slice of the cloud client the engine uses. Faked in tests.
type api interface {
	synthesize(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error)
	listVoices(ctx context.Context, req *texttospeechpb.ListVoicesRequest) (*texttospeechpb.ListVoicesResponse, error)
	close() error
}

// clientAPI adapts the concrete cloud client.
type clientAPI struct {
	c *texttospeech.Client
}

func (a clientAPI) synthesize(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
	return a.c.SynthesizeSpeech(ctx, req)
}

func (a clientAPI) listVoices(ctx context.Context, req *texttospeechpb.ListVoicesRequest) (*texttospeechpb.ListVoicesResponse, error) {
	return a.c.ListVoices(ctx, req)
}

func (a clientAPI) close() error { return a.c.Close() }

// sink plays one synthesized MP3 and reports when it finishes. The real
// sink decodes through beep and queues on the process-global speaker.
type sink interface {
	// play starts audio and returns a halt function. done must be called
	// exactly once when playback finishes or is halted; it is cheap to
	// call and safe under the speaker lock.
	play(audio []byte, done func()) (halt func(), err error)
}

// Engine speaks through the Google Cloud Text-to-Speech API.
type Engine struct {
	id      voicebox.EngineID
	api     api
	out     sink
	limiter *rate.Limiter
	timeout time.Duration
	queue   *voicebox.Queue
	store   *cache.Cache

	mu       sync.Mutex
	language string
	rate     float64
	pitch    float64
	volume   float64
	voice    *voicebox.Voice
	voices   []voicebox.Voice
	active   map[voicebox.PlaybackHandle]*playback
	closed   bool
}

// New constructs the binding using application default credentials. It
// fails with ErrEngineUnavailable when no credentials can be resolved.
func New(cfg Config) (*Engine, error) {
	client, err := texttospeech.NewClient(context.Background())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", voicebox.ErrEngineUnavailable, err)
	}
	return newEngine(cfg, clientAPI{c: client}, beepSink{})
}

func newEngine(cfg Config, client api, out sink) (*Engine, error) {
	def := DefaultConfig()
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = def.LanguageCode
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.SynthesisTimeout <= 0 {
		cfg.SynthesisTimeout = def.SynthesisTimeout
	}

	store, err := cache.Open(cache.Config{Dir: cfg.CacheDir})
	if err != nil {
		client.close()
		return nil, fmt.Errorf("open audio cache: %w", err)
	}

	e := &Engine{
		id:       voicebox.NextEngineID(),
		api:      client,
		out:      out,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		timeout:  cfg.SynthesisTimeout,
		store:    store,
		language: cfg.LanguageCode,
		rate:     rateRange.Normal,
		pitch:    pitchRange.Normal,
		volume:   volumeRange.Normal,
		active:   make(map[voicebox.PlaybackHandle]*playback),
	}

	// Enumerate every voice, not just cfg.LanguageCode: the language only
	// picks the synthesis default, it does not restrict selection.
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	resp, err := client.listVoices(ctx, &texttospeechpb.ListVoicesRequest{})
	if err != nil {
		// Speaking still works; the API picks a voice by language.
		log.Warn("cannot enumerate google voices", "err", err)
	} else {
		for _, v := range resp.GetVoices() {
			e.voices = append(e.voices, voiceInfo(v))
		}
	}
	if cfg.VoiceName != "" {
		if v := e.findVoice(cfg.VoiceName); v != nil {
			e.voice = v
		} else {
			log.Warn("configured voice not found", "voice", cfg.VoiceName)
		}
	}

	e.queue = voicebox.NewQueue(e.id, e)
	return e, nil
}

// voiceInfo maps an API voice onto the portable description.
func voiceInfo(v *texttospeechpb.Voice) voicebox.Voice {
	tag := language.Und
	if codes := v.GetLanguageCodes(); len(codes) > 0 {
		if parsed, err := language.Parse(codes[0]); err == nil {
			tag = parsed
		}
	}
	return voicebox.Voice{
		ID:       v.GetName(),
		Name:     v.GetName(),
		Language: tag,
		Gender:   ssmlGender(v.GetSsmlGender()),
	}
}

// ssmlGender maps the API's gender onto the portable enum. NEUTRAL has no
// portable counterpart and reads as unspecified.
func ssmlGender(g texttospeechpb.SsmlVoiceGender) voicebox.Gender {
	switch g {
	case texttospeechpb.SsmlVoiceGender_MALE:
		return voicebox.GenderMale
	case texttospeechpb.SsmlVoiceGender_FEMALE:
		return voicebox.GenderFemale
	default:
		return voicebox.GenderUnspecified
	}
}

func (e *Engine) findVoice(id string) *voicebox.Voice {
	for i := range e.voices {
		if e.voices[i].ID == id {
			v := e.voices[i]
			return &v
		}
	}
	return nil
}

// Name implements voicebox.Engine.
func (e *Engine) Name() string { return "google" }

// ID implements voicebox.Engine.
func (e *Engine) ID() *voicebox.EngineID {
	id := e.id
	return &id
}

// Features implements voicebox.Engine.
func (e *Engine) Features() voicebox.Features {
	return voicebox.Features{
		Stop:               true,
		Rate:               true,
		Pitch:              true,
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
	p := voicebox.Params{Rate: e.rate, Pitch: e.pitch, Volume: e.volume, Voice: e.voice}
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
func (e *Engine) PitchRange() voicebox.Range { return pitchRange }

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
	e.pitch = pitch
	return nil
}

// VolumeRange implements voicebox.Engine.
func (e *Engine) VolumeRange() voicebox.Range { return volumeRange }

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
	e.volume = volume
	return nil
}

// Voices implements voicebox.Engine. A session keeps the voice set it
// enumerated at construction.
func (e *Engine) Voices() ([]voicebox.Voice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]voicebox.Voice, len(e.voices))
	copy(out, e.voices)
	return out, nil
}

// Voice implements voicebox.Engine. Nil until a voice is selected; the API
// picks by language in that case.
func (e *Engine) Voice() (*voicebox.Voice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.voice == nil {
		return nil, nil
	}
	v := *e.voice
	return &v, nil
}

// SetVoice implements voicebox.Engine.
func (e *Engine) SetVoice(v voicebox.Voice) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	found := e.findVoice(v.ID)
	if found == nil {
		return fmt.Errorf("%w: unknown voice %q", voicebox.ErrOperationFailed, v.ID)
	}
	e.voice = found
	return nil
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
	if cerr := e.api.close(); err == nil {
		err = cerr
	}
	return err
}

// playback is one utterance on the speaker. The sink's done callback can
// outrun play returning its halt function, so the halt is attached late and
// halting before that is a no-op.
type playback struct {
	mu   sync.Mutex
	stop func()
}

func (p *playback) attach(stop func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stop = stop
}

func (p *playback) halt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		p.stop()
	}
}

// BeginPlayback implements voicebox.Player. Synthesis runs inline, cache
// first; the utterance is accepted once its audio is on the speaker.
func (e *Engine) BeginPlayback(u voicebox.Utterance) (voicebox.PlaybackHandle, error) {
	audio, err := e.synthesize(u)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", voicebox.ErrOperationFailed, err)
	}

	h := voicebox.NewPlaybackHandle()
	pb := &playback{}
	e.mu.Lock()
	e.active[h] = pb
	e.mu.Unlock()

	// Completion is handed to a fresh goroutine: the speaker invokes done
	// under its own lock, and the dispatch index must never be entered
	// while that lock is held.
	halt, err := e.out.play(audio, func() {
		go func() {
			e.mu.Lock()
			delete(e.active, h)
			e.mu.Unlock()
			voicebox.PlaybackDone(h)
		}()
	})
	if err != nil {
		e.mu.Lock()
		delete(e.active, h)
		e.mu.Unlock()
		return 0, fmt.Errorf("%w: %v", voicebox.ErrOperationFailed, err)
	}
	pb.attach(halt)
	return h, nil
}

// HaltPlayback implements voicebox.Player. The sink still fires done for a
// halted playback; that event resolves stale and is dropped.
func (e *Engine) HaltPlayback(h voicebox.PlaybackHandle) error {
	e.mu.Lock()
	pb, ok := e.active[h]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	pb.halt()
	return nil
}

// synthesize produces MP3 audio for the utterance, consulting the cache
// before spending a rate-limited API call.
func (e *Engine) synthesize(u voicebox.Utterance) ([]byte, error) {
	if len(u.Text) > maxTextSize {
		return nil, fmt.Errorf("text too long: %d bytes (max %d)", len(u.Text), maxTextSize)
	}

	// The API rejects empty input; a single space synthesizes as near
	// silence, so the utterance still owns its begin/end pair.
	text := u.Text
	if strings.TrimSpace(text) == "" {
		text = " "
	}

	name, lang := e.voiceSelection(u.Voice)
	key := cache.Key{
		Engine: "google",
		Voice:  name + "/" + lang,
		Text:   text,
		Rate:   u.Rate,
		Pitch:  u.Pitch,
		Volume: u.Volume,
	}
	if audio, ok := e.store.Get(key); ok {
		return audio, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req := &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: lang,
			Name:         name,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
			SpeakingRate:  u.Rate,
			Pitch:         u.Pitch,
			VolumeGainDb:  u.Volume,
		},
	}
	start := time.Now()
	resp, err := e.api.synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	audio := resp.GetAudioContent()
	if len(audio) == 0 {
		return nil, errors.New("api returned no audio")
	}
	log.Debug("synthesized",
		"voice", name,
		"bytes", len(audio),
		"took", time.Since(start))
	if err := e.store.Put(key, audio); err != nil && !errors.Is(err, cache.ErrTooLarge) {
		log.Debug("cache synthesized audio", "err", err)
	}
	return audio, nil
}

// voiceSelection resolves the snapshot voice to API selection parameters.
func (e *Engine) voiceSelection(v *voicebox.Voice) (name, lang string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lang = e.language
	if v == nil {
		return "", lang
	}
	if v.Language != language.Und {
		lang = v.Language.String()
	}
	return v.ID, lang
}

// The beep speaker is process global, so it is initialized exactly once at
// the first playback's sample rate; later streams at other rates are
// resampled onto it.
var speakerState struct {
	sync.Mutex
	rate beep.SampleRate
}

// beepSink queues MP3 audio on the speaker.
type beepSink struct{}

func (beepSink) play(audio []byte, done func()) (func(), error) {
	streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(audio)))
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}

	speakerState.Lock()
	if speakerState.rate == 0 {
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(100*time.Millisecond)); err != nil {
			speakerState.Unlock()
			streamer.Close()
			return nil, fmt.Errorf("init speaker: %w", err)
		}
		speakerState.rate = format.SampleRate
	}
	out := beep.Streamer(streamer)
	if format.SampleRate != speakerState.rate {
		out = beep.Resample(4, format.SampleRate, speakerState.rate, streamer)
	}
	speakerState.Unlock()

	ctrl := &beep.Ctrl{Streamer: out}
	speaker.Play(beep.Seq(ctrl, beep.Callback(func() {
		streamer.Close()
		done()
	})))

	halt := func() {
		// Detaching the streamer makes the sequence fall through to the
		// callback on the speaker's next pull.
		speaker.Lock()
		ctrl.Streamer = nil
		speaker.Unlock()
	}
	return halt, nil
}

var (
	_ voicebox.Engine = (*Engine)(nil)
	_ voicebox.Player = (*Engine)(nil)
	_ api             = clientAPI{}
	_ sink            = beepSink{}
)
