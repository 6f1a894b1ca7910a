package voicebox_test

import (
	"errors"
	"testing"
	"time"

	"github.com/dgnsrekt/voicebox"
	"github.com/dgnsrekt/voicebox/engines/mock"
)

// events collects delivered callbacks as "kind:id" strings.
type events struct {
	ch chan string
}

func newEvents() *events {
	return &events{ch: make(chan string, 64)}
}

func (e *events) record(kind string) voicebox.Callback {
	return func(u voicebox.UtteranceID) {
		e.ch <- kind + ":" + u.String()
	}
}

func (e *events) next(t *testing.T) string {
	t.Helper()
	select {
	case got := <-e.ch:
		return got
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a callback")
		return ""
	}
}

func (e *events) expect(t *testing.T, want ...string) {
	t.Helper()
	for _, w := range want {
		if got := e.next(t); got != w {
			t.Fatalf("callback order: got %q, want %q", got, w)
		}
	}
}

func (e *events) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case got := <-e.ch:
		t.Fatalf("unexpected callback %q", got)
	case <-time.After(d):
	}
}

func evt(kind string, id *voicebox.UtteranceID) string {
	return kind + ":" + id.String()
}

// newManualSpeech builds a facade around a manually completed mock engine
// with all three callbacks recording.
func newManualSpeech(t *testing.T, cfg mock.Config) (*voicebox.Speech, *mock.Engine, *events) {
	t.Helper()
	cfg.Manual = true
	eng, err := mock.New(cfg)
	if err != nil {
		t.Fatalf("mock.New: %v", err)
	}
	sp, err := voicebox.New(eng)
	if err != nil {
		t.Fatalf("voicebox.New: %v", err)
	}
	t.Cleanup(func() { sp.Close() })

	ev := newEvents()
	if err := sp.SetOnUtteranceBegin(ev.record("begin")); err != nil {
		t.Fatalf("SetOnUtteranceBegin: %v", err)
	}
	if err := sp.SetOnUtteranceEnd(ev.record("end")); err != nil {
		t.Fatalf("SetOnUtteranceEnd: %v", err)
	}
	if err := sp.SetOnUtteranceStop(ev.record("stop")); err != nil {
		t.Fatalf("SetOnUtteranceStop: %v", err)
	}
	return sp, eng, ev
}

func TestSpeakBackToBack(t *testing.T) {
	sp, eng, ev := newManualSpeech(t, mock.DefaultConfig())

	first, err := sp.Speak("first utterance", false)
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if first == nil {
		t.Fatal("Speak returned a nil id on a correlating engine")
	}
	second, err := sp.Speak("second utterance", false)
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if *second != *first+1 {
		t.Errorf("ids not sequential: %s then %s", first, second)
	}

	// Only the first utterance has begun; the second waits its turn.
	ev.expect(t, evt("begin", first))
	ev.expectNone(t, 50*time.Millisecond)
	if got := len(eng.Played()); got != 1 {
		t.Fatalf("utterances at native layer: got %d, want 1", got)
	}
	if speaking, _ := sp.IsSpeaking(); !speaking {
		t.Error("IsSpeaking = false with two utterances pending")
	}

	if !eng.FinishCurrent() {
		t.Fatal("nothing in flight to finish")
	}
	ev.expect(t, evt("end", first), evt("begin", second))

	if !eng.FinishCurrent() {
		t.Fatal("nothing in flight to finish")
	}
	ev.expect(t, evt("end", second))
	if speaking, _ := sp.IsSpeaking(); speaking {
		t.Error("IsSpeaking = true after both utterances completed")
	}
}

func TestSpeakInterruptStopsQueue(t *testing.T) {
	sp, _, ev := newManualSpeech(t, mock.DefaultConfig())

	first, _ := sp.Speak("first", false)
	second, _ := sp.Speak("second", false)
	ev.expect(t, evt("begin", first))

	third, err := sp.Speak("third", true)
	if err != nil {
		t.Fatalf("interrupting Speak: %v", err)
	}
	// Every displaced utterance reports stop, in queue order, before the
	// new one begins.
	ev.expect(t, evt("stop", first), evt("stop", second), evt("begin", third))
}

func TestStopIdleIsNoOp(t *testing.T) {
	sp, eng, ev := newManualSpeech(t, mock.DefaultConfig())

	if err := sp.Stop(); err != nil {
		t.Fatalf("Stop on idle session: %v", err)
	}
	ev.expectNone(t, 50*time.Millisecond)
	if got := eng.CallCount("halt_playback"); got != 0 {
		t.Errorf("idle stop reached the native layer: %d halts", got)
	}
}

func TestStopClearsQueueInOrder(t *testing.T) {
	sp, _, ev := newManualSpeech(t, mock.DefaultConfig())

	first, _ := sp.Speak("first", false)
	second, _ := sp.Speak("second", false)
	third, _ := sp.Speak("third", false)
	ev.expect(t, evt("begin", first))

	if err := sp.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	ev.expect(t, evt("stop", first), evt("stop", second), evt("stop", third))
	if speaking, _ := sp.IsSpeaking(); speaking {
		t.Error("still speaking after stop")
	}
}

func TestSetRateOutOfRangeNeverReachesEngine(t *testing.T) {
	sp, eng, _ := newManualSpeech(t, mock.DefaultConfig())
	r := sp.RateRange()

	tests := []struct {
		name string
		rate float64
		ok   bool
	}{
		{"below min", r.Min - 0.1, false},
		{"at min", r.Min, true},
		{"normal", r.Normal, true},
		{"at max", r.Max, true},
		{"above max", r.Max + 0.1, false},
	}
	wantCalls := 0
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sp.SetRate(tt.rate)
			if tt.ok {
				if err != nil {
					t.Fatalf("SetRate(%v): %v", tt.rate, err)
				}
				wantCalls++
			} else if !errors.Is(err, voicebox.ErrOutOfRange) {
				t.Fatalf("SetRate(%v): got %v, want ErrOutOfRange", tt.rate, err)
			}
			if got := eng.CallCount("set_rate"); got != wantCalls {
				t.Errorf("engine set_rate calls: got %d, want %d", got, wantCalls)
			}
		})
	}
}

func TestSetVolumeOutOfRange(t *testing.T) {
	sp, eng, _ := newManualSpeech(t, mock.DefaultConfig())

	if err := sp.SetVolume(1.5); !errors.Is(err, voicebox.ErrOutOfRange) {
		t.Fatalf("SetVolume(1.5): got %v, want ErrOutOfRange", err)
	}
	if err := sp.SetPitch(-3); !errors.Is(err, voicebox.ErrOutOfRange) {
		t.Fatalf("SetPitch(-3): got %v, want ErrOutOfRange", err)
	}
	if eng.CallCount("set_volume") != 0 || eng.CallCount("set_pitch") != 0 {
		t.Error("out-of-range values reached the engine")
	}
}

func TestUnsupportedFeatureGate(t *testing.T) {
	cfg := mock.DefaultConfig()
	cfg.Features.Pitch = false
	cfg.Features.Stop = false
	cfg.Features.IsSpeaking = false
	sp, eng, _ := newManualSpeech(t, cfg)

	if err := sp.SetPitch(1.0); !errors.Is(err, voicebox.ErrUnsupported) {
		t.Errorf("SetPitch: got %v, want ErrUnsupported", err)
	}
	if _, err := sp.Pitch(); !errors.Is(err, voicebox.ErrUnsupported) {
		t.Errorf("Pitch: got %v, want ErrUnsupported", err)
	}
	if err := sp.Stop(); !errors.Is(err, voicebox.ErrUnsupported) {
		t.Errorf("Stop: got %v, want ErrUnsupported", err)
	}
	if _, err := sp.IsSpeaking(); !errors.Is(err, voicebox.ErrUnsupported) {
		t.Errorf("IsSpeaking: got %v, want ErrUnsupported", err)
	}
	if eng.CallCount("set_pitch") != 0 || eng.CallCount("stop") != 0 {
		t.Error("gated operations reached the engine")
	}

	// Supported operations on the same session keep working.
	if err := sp.SetRate(1.5); err != nil {
		t.Errorf("SetRate on supported feature: %v", err)
	}
}

func TestCallbacksUnsupported(t *testing.T) {
	cfg := mock.DefaultConfig()
	cfg.Features.UtteranceCallbacks = false
	eng, err := mock.New(cfg)
	if err != nil {
		t.Fatalf("mock.New: %v", err)
	}
	sp, err := voicebox.New(eng)
	if err != nil {
		t.Fatalf("voicebox.New: %v", err)
	}
	defer sp.Close()

	if err := sp.SetOnUtteranceBegin(func(voicebox.UtteranceID) {}); !errors.Is(err, voicebox.ErrUnsupported) {
		t.Errorf("SetOnUtteranceBegin: got %v, want ErrUnsupported", err)
	}
}

func TestParamsSnapshotAtSubmission(t *testing.T) {
	sp, eng, ev := newManualSpeech(t, mock.DefaultConfig())

	if err := sp.SetRate(1.5); err != nil {
		t.Fatalf("SetRate: %v", err)
	}
	first, _ := sp.Speak("in flight", false)
	second, _ := sp.Speak("queued", false)
	ev.expect(t, evt("begin", first))

	// Changing the rate now must not touch either snapshot: both
	// utterances were submitted at 1.5.
	if err := sp.SetRate(0.5); err != nil {
		t.Fatalf("SetRate: %v", err)
	}
	eng.FinishCurrent()
	ev.expect(t, evt("end", first), evt("begin", second))

	played := eng.Played()
	if len(played) != 2 {
		t.Fatalf("utterances played: got %d, want 2", len(played))
	}
	if played[0].Rate != 1.5 {
		t.Errorf("first utterance rate: got %v, want 1.5", played[0].Rate)
	}
	if played[1].Rate != 1.5 {
		t.Errorf("queued utterance rate: got %v, want its submission snapshot 1.5", played[1].Rate)
	}

	// An utterance submitted after the change carries the new value.
	third, _ := sp.Speak("after change", false)
	eng.FinishCurrent()
	ev.expect(t, evt("end", second), evt("begin", third))
	if played := eng.Played(); played[2].Rate != 0.5 {
		t.Errorf("third utterance rate: got %v, want 0.5", played[2].Rate)
	}
}

func TestVoiceSnapshotAtSubmission(t *testing.T) {
	sp, eng, ev := newManualSpeech(t, mock.DefaultConfig())

	voices, err := sp.Voices()
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if len(voices) < 2 {
		t.Fatalf("mock voices: got %d, want at least 2", len(voices))
	}
	if err := sp.SetVoice(voices[1]); err != nil {
		t.Fatalf("SetVoice: %v", err)
	}
	first, _ := sp.Speak("with second voice", false)
	ev.expect(t, evt("begin", first))

	if err := sp.SetVoice(voices[0]); err != nil {
		t.Fatalf("SetVoice: %v", err)
	}
	played := eng.Played()
	if played[0].Voice == nil || played[0].Voice.ID != voices[1].ID {
		t.Errorf("utterance voice: got %v, want %s", played[0].Voice, voices[1].ID)
	}
}

func TestCloseStopsPendingUtterances(t *testing.T) {
	sp, _, ev := newManualSpeech(t, mock.DefaultConfig())

	first, _ := sp.Speak("first", false)
	second, _ := sp.Speak("second", false)
	third, _ := sp.Speak("third", false)
	ev.expect(t, evt("begin", first))

	if err := sp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Teardown runs the stop transition before the session goes away, so
	// every pending utterance reports stop.
	ev.expect(t, evt("stop", first), evt("stop", second), evt("stop", third))

	if _, err := sp.Speak("too late", false); !errors.Is(err, voicebox.ErrEngineClosed) {
		t.Errorf("Speak after Close: got %v, want ErrEngineClosed", err)
	}
	if err := sp.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestHaltCancelEventsAreStale(t *testing.T) {
	cfg := mock.DefaultConfig()
	cfg.HaltEvents = true // native layer emits a cancel event for halted playback
	sp, _, ev := newManualSpeech(t, cfg)

	first, _ := sp.Speak("first", false)
	second, _ := sp.Speak("second", false)
	ev.expect(t, evt("begin", first))

	if err := sp.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	ev.expect(t, evt("stop", first), evt("stop", second))

	// The cancel event for the halted playback must be dropped, not
	// mistaken for a completion.
	ev.expectNone(t, 100*time.Millisecond)
	if speaking, _ := sp.IsSpeaking(); speaking {
		t.Error("stale cancel event changed session state")
	}

	// The session keeps working afterwards.
	third, err := sp.Speak("third", false)
	if err != nil {
		t.Fatalf("Speak after stop: %v", err)
	}
	ev.expect(t, evt("begin", third))
}

func TestAutomaticCompletion(t *testing.T) {
	cfg := mock.DefaultConfig()
	cfg.PlaybackDelay = 10 * time.Millisecond
	eng, err := mock.New(cfg)
	if err != nil {
		t.Fatalf("mock.New: %v", err)
	}
	sp, err := voicebox.New(eng)
	if err != nil {
		t.Fatalf("voicebox.New: %v", err)
	}
	defer sp.Close()

	ev := newEvents()
	sp.SetOnUtteranceBegin(ev.record("begin"))
	sp.SetOnUtteranceEnd(ev.record("end"))

	first, _ := sp.Speak("first", false)
	second, _ := sp.Speak("second", false)
	ev.expect(t,
		evt("begin", first), evt("end", first),
		evt("begin", second), evt("end", second),
	)
}

func TestCloneSharesSession(t *testing.T) {
	sp, eng, ev := newManualSpeech(t, mock.DefaultConfig())

	clone, err := sp.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}

	// Speak through the clone; callbacks registered on the original fire.
	first, err := clone.Speak("via clone", false)
	if err != nil {
		t.Fatalf("Speak via clone: %v", err)
	}
	ev.expect(t, evt("begin", first))

	// Closing one handle leaves the session alive for the other.
	if err := sp.Close(); err != nil {
		t.Fatalf("Close original: %v", err)
	}
	if speaking, err := clone.IsSpeaking(); err != nil || !speaking {
		t.Errorf("clone after original closed: speaking=%v err=%v", speaking, err)
	}
	if _, err := sp.Speak("closed handle", false); !errors.Is(err, voicebox.ErrEngineClosed) {
		t.Errorf("Speak on closed handle: got %v, want ErrEngineClosed", err)
	}

	// Last handle closing tears the session down.
	if err := clone.Close(); err != nil {
		t.Fatalf("Close clone: %v", err)
	}
	ev.expect(t, evt("stop", first))
	if _, err := eng.Speak("after teardown", false); !errors.Is(err, voicebox.ErrEngineClosed) {
		t.Errorf("engine Speak after teardown: got %v, want ErrEngineClosed", err)
	}
}

func TestCloneOfClosedHandleFails(t *testing.T) {
	sp, _, _ := newManualSpeech(t, mock.DefaultConfig())
	if err := sp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := sp.Clone(); !errors.Is(err, voicebox.ErrEngineClosed) {
		t.Errorf("Clone of closed handle: got %v, want ErrEngineClosed", err)
	}
}

func TestInitTimeout(t *testing.T) {
	cfg := mock.DefaultConfig()
	cfg.InitDelay = 500 * time.Millisecond
	cfg.InitTimeout = 20 * time.Millisecond
	if _, err := mock.New(cfg); !errors.Is(err, voicebox.ErrInitTimeout) {
		t.Fatalf("mock.New with slow init: got %v, want ErrInitTimeout", err)
	}
}

func TestSpeakFailureSurfaces(t *testing.T) {
	sp, eng, ev := newManualSpeech(t, mock.DefaultConfig())

	eng.SetFailure(errors.New("device gone"))
	if _, err := sp.Speak("doomed", false); !errors.Is(err, voicebox.ErrOperationFailed) {
		t.Fatalf("Speak with failing native layer: got %v, want ErrOperationFailed", err)
	}
	ev.expectNone(t, 50*time.Millisecond)

	eng.ClearFailure()
	first, err := sp.Speak("recovered", false)
	if err != nil {
		t.Fatalf("Speak after recovery: %v", err)
	}
	ev.expect(t, evt("begin", first))
}

func TestSetVoiceUnknownFails(t *testing.T) {
	sp, _, _ := newManualSpeech(t, mock.DefaultConfig())

	err := sp.SetVoice(voicebox.Voice{ID: "no-such-voice"})
	if !errors.Is(err, voicebox.ErrOperationFailed) {
		t.Fatalf("SetVoice(unknown): got %v, want ErrOperationFailed", err)
	}

	var engErr *voicebox.EngineError
	if !errors.As(err, &engErr) {
		t.Fatal("facade error does not carry engine context")
	}
	if engErr.Engine != "mock" || engErr.Op != "set voice" {
		t.Errorf("error context: engine=%q op=%q", engErr.Engine, engErr.Op)
	}
}

func TestGetVoiceRoundTrip(t *testing.T) {
	sp, _, _ := newManualSpeech(t, mock.DefaultConfig())

	voices, err := sp.Voices()
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if err := sp.SetVoice(voices[1]); err != nil {
		t.Fatalf("SetVoice: %v", err)
	}
	v, err := sp.Voice()
	if err != nil {
		t.Fatalf("Voice: %v", err)
	}
	if v == nil || v.ID != voices[1].ID {
		t.Errorf("Voice() = %v, want %s", v, voices[1].ID)
	}
}
