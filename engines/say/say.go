// Package say binds the macOS say command. Each utterance runs as its own
// process: the process exiting is the completion event, and halting kills
// it. The binding never parses audio; say talks to CoreAudio itself.
package say

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/text/language"

	"github.com/dgnsrekt/voicebox"
	"github.com/dgnsrekt/voicebox/internal/subprocess"
)

// Rate is say's -r flag in words per minute.
var rateRange = voicebox.Range{Min: 80, Max: 500, Normal: 175}

// Config controls the binding.
type Config struct {
	// Command is the binary to run. Defaults to "say"; tests point it at
	// a stand-in script.
	Command string
}

// DefaultConfig runs the real say binary.
func DefaultConfig() Config {
	return Config{Command: "say"}
}

// Engine speaks through the say command.
type Engine struct {
	id      voicebox.EngineID
	command string
	queue   *voicebox.Queue

	mu     sync.Mutex
	rate   float64
	voice  *voicebox.Voice
	voices []voicebox.Voice
	closed bool
	procs  map[voicebox.PlaybackHandle]*subprocess.Proc
}

// New constructs the binding. It fails with ErrEngineUnavailable when the
// command is not on PATH and enumerates voices once up front; a session
// keeps the voice set it was born with.
func New(cfg Config) (*Engine, error) {
	if cfg.Command == "" {
		cfg.Command = "say"
	}
	if err := subprocess.Available(cfg.Command); err != nil {
		return nil, fmt.Errorf("%w: %v", voicebox.ErrEngineUnavailable, err)
	}
	voices, err := listVoices(cfg.Command)
	if err != nil {
		// Speaking still works with the system default voice.
		log.Warn("cannot enumerate say voices", "err", err)
	}
	e := &Engine{
		id:      voicebox.NextEngineID(),
		command: cfg.Command,
		rate:    rateRange.Normal,
		voices:  voices,
		procs:   make(map[voicebox.PlaybackHandle]*subprocess.Proc),
	}
	e.queue = voicebox.NewQueue(e.id, e)
	return e, nil
}

// Name implements voicebox.Engine.
func (e *Engine) Name() string { return "say" }

// ID implements voicebox.Engine.
func (e *Engine) ID() *voicebox.EngineID {
	id := e.id
	return &id
}

// Features implements voicebox.Engine. say exposes no pitch or volume
// flags, so those stay false.
func (e *Engine) Features() voicebox.Features {
	return voicebox.Features{
		Stop:               true,
		Rate:               true,
		IsSpeaking:         true,
		Voice:              true,
		GetVoice:           true,
		UtteranceCallbacks: true,
	}
}

// Speak implements voicebox.Engine.
func (e *Engine) Speak(text string, interrupt bool) (*voicebox.UtteranceID, error) {
	e.mu.Lock()
	p := voicebox.Params{Rate: e.rate, Voice: e.voice}
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
func (e *Engine) VolumeRange() voicebox.Range { return voicebox.Range{} }

// Volume implements voicebox.Engine.
func (e *Engine) Volume() (float64, error) { return 0, voicebox.ErrUnsupported }

// SetVolume implements voicebox.Engine.
func (e *Engine) SetVolume(float64) error { return voicebox.ErrUnsupported }

// Voices implements voicebox.Engine.
func (e *Engine) Voices() ([]voicebox.Voice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]voicebox.Voice, len(e.voices))
	copy(out, e.voices)
	return out, nil
}

// Voice implements voicebox.Engine. Nil means the system default voice has
// not been overridden.
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

// BeginPlayback implements voicebox.Player: one say process per utterance,
// flags built from the utterance's snapshot.
func (e *Engine) BeginPlayback(u voicebox.Utterance) (voicebox.PlaybackHandle, error) {
	args := []string{"-r", strconv.FormatFloat(u.Rate, 'f', 0, 64)}
	if u.Voice != nil {
		args = append(args, "-v", u.Voice.ID)
	}
	input := u.Text
	if input == "" {
		// say with nothing on stdin waits on the terminal instead of
		// exiting; a lone space speaks silence and returns.
		input = " "
	}
	proc, err := subprocess.Start(input, e.command, args...)
	if err != nil {
		return 0, err
	}
	h := voicebox.NewPlaybackHandle()
	e.mu.Lock()
	e.procs[h] = proc
	e.mu.Unlock()

	go func() {
		err := <-proc.Done()
		e.mu.Lock()
		delete(e.procs, h)
		e.mu.Unlock()
		if err != nil {
			log.Debug("say process exited with error", "handle", uint64(h), "err", err)
		}
		// For a killed process this resolves stale and is dropped.
		voicebox.PlaybackDone(h)
	}()
	return h, nil
}

// HaltPlayback implements voicebox.Player.
func (e *Engine) HaltPlayback(h voicebox.PlaybackHandle) error {
	e.mu.Lock()
	proc := e.procs[h]
	delete(e.procs, h)
	e.mu.Unlock()
	if proc == nil {
		return nil
	}
	return proc.Kill()
}

// voiceLineRe matches `say -v ?` lines: a name (possibly with spaces), a
// locale like en_US, then a # comment.
var voiceLineRe = regexp.MustCompile(`^(.+?)\s+([a-z]{2,3}[_-][A-Za-z0-9_-]+)\s+#`)

func listVoices(command string) ([]voicebox.Voice, error) {
	out, err := subprocess.Run(context.Background(), "", command, "-v", "?")
	if err != nil {
		return nil, err
	}
	var voices []voicebox.Voice
	for _, line := range strings.Split(string(out), "\n") {
		m := voiceLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		tag, err := language.Parse(strings.ReplaceAll(m[2], "_", "-"))
		if err != nil {
			log.Debug("skipping voice with unparsable locale", "voice", name, "locale", m[2])
			continue
		}
		voices = append(voices, voicebox.Voice{ID: name, Name: name, Language: tag})
	}
	return voices, nil
}

var (
	_ voicebox.Engine = (*Engine)(nil)
	_ voicebox.Player = (*Engine)(nil)
)
