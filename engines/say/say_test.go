package say

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/voicebox"
)

// writeFakeSay builds a stand-in for the say binary: it lists voices for
// -v ?, logs its arguments when FAKE_SAY_LOG is set, and sleeps when the
// spoken text contains "slow" so halt behavior can be exercised.
func writeFakeSay(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake say requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fakesay")
	script := `#!/bin/sh
if [ "$1" = "-v" ] && [ "$2" = "?" ]; then
	printf 'Alex                en_US    # Most people recognize me by my voice.\n'
	printf 'Daniel              en_GB    # Hello, my name is Daniel.\n'
	printf 'Amelie              fr_CA    # Bonjour, je m appelle Amelie.\n'
	printf 'not a voice line\n'
	exit 0
fi
if [ -n "$FAKE_SAY_LOG" ]; then
	echo "$@" >> "$FAKE_SAY_LOG"
fi
text=$(cat)
case "$text" in
*slow*) sleep 30 ;;
esac
exit 0
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake say: %v", err)
	}
	return path
}

type collector struct {
	ch chan string
}

func newCollector() *collector {
	return &collector{ch: make(chan string, 64)}
}

func (c *collector) record(kind string) voicebox.Callback {
	return func(voicebox.UtteranceID) { c.ch <- kind }
}

func (c *collector) expect(t *testing.T, want ...string) {
	t.Helper()
	for _, w := range want {
		select {
		case got := <-c.ch:
			if got != w {
				t.Fatalf("callback order: got %q, want %q", got, w)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %q", w)
		}
	}
}

func (c *collector) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case got := <-c.ch:
		t.Fatalf("unexpected callback %q", got)
	case <-time.After(d):
	}
}

func newTestSpeech(t *testing.T) (*voicebox.Speech, *collector) {
	t.Helper()
	eng, err := New(Config{Command: writeFakeSay(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sp, err := voicebox.New(eng)
	if err != nil {
		t.Fatalf("voicebox.New: %v", err)
	}
	t.Cleanup(func() { sp.Close() })

	c := newCollector()
	sp.SetOnUtteranceBegin(c.record("begin"))
	sp.SetOnUtteranceEnd(c.record("end"))
	sp.SetOnUtteranceStop(c.record("stop"))
	return sp, c
}

func TestNewUnavailable(t *testing.T) {
	if _, err := New(Config{Command: "definitely-not-say-7f3a"}); !errors.Is(err, voicebox.ErrEngineUnavailable) {
		t.Fatalf("New with missing binary: got %v, want ErrEngineUnavailable", err)
	}
}

func TestVoicesParsed(t *testing.T) {
	eng, err := New(Config{Command: writeFakeSay(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	voices, err := eng.Voices()
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if len(voices) != 3 {
		t.Fatalf("voices parsed: got %d, want 3", len(voices))
	}
	want := []struct{ id, lang string }{
		{"Alex", "en-US"},
		{"Daniel", "en-GB"},
		{"Amelie", "fr-CA"},
	}
	for i, w := range want {
		if voices[i].ID != w.id {
			t.Errorf("voice %d id: got %q, want %q", i, voices[i].ID, w.id)
		}
		if got := voices[i].Language.String(); got != w.lang {
			t.Errorf("voice %d language: got %q, want %q", i, got, w.lang)
		}
	}
}

func TestFeatures(t *testing.T) {
	eng, err := New(Config{Command: writeFakeSay(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	f := eng.Features()
	if !f.Stop || !f.Rate || !f.Voice || !f.GetVoice || !f.IsSpeaking || !f.UtteranceCallbacks {
		t.Errorf("expected features missing: %s", f)
	}
	if f.Pitch || f.Volume {
		t.Errorf("say has no pitch or volume flags, got %s", f)
	}
}

func TestSpeakProcessExitCompletes(t *testing.T) {
	sp, c := newTestSpeech(t)

	if _, err := sp.Speak("hello world", false); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	c.expect(t, "begin", "end")

	if speaking, err := sp.IsSpeaking(); err != nil || speaking {
		t.Errorf("after completion: speaking=%v err=%v", speaking, err)
	}
}

func TestStopKillsProcess(t *testing.T) {
	sp, c := newTestSpeech(t)

	if _, err := sp.Speak("a slow utterance", false); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	c.expect(t, "begin")

	start := time.Now()
	if err := sp.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	c.expect(t, "stop")
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("stop took %v; the process was not killed", elapsed)
	}

	// The killed process's exit must not surface as a completion.
	c.expectNone(t, 300*time.Millisecond)

	if _, err := sp.Speak("fine again", false); err != nil {
		t.Fatalf("Speak after stop: %v", err)
	}
	c.expect(t, "begin", "end")
}

func TestRateAndVoiceFlags(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "args.log")
	t.Setenv("FAKE_SAY_LOG", logPath)

	sp, c := newTestSpeech(t)
	if err := sp.SetRate(200); err != nil {
		t.Fatalf("SetRate: %v", err)
	}
	voices, err := sp.Voices()
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if err := sp.SetVoice(voices[1]); err != nil {
		t.Fatalf("SetVoice: %v", err)
	}

	if _, err := sp.Speak("check the flags", false); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	c.expect(t, "begin", "end")

	logged, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read arg log: %v", err)
	}
	args := string(logged)
	if !strings.Contains(args, "-r 200") {
		t.Errorf("arguments %q missing rate flag", args)
	}
	if !strings.Contains(args, "-v Daniel") {
		t.Errorf("arguments %q missing voice flag", args)
	}
}

func TestSetVoice(t *testing.T) {
	eng, err := New(Config{Command: writeFakeSay(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	// Default is the system voice: nothing selected yet.
	if v, err := eng.Voice(); err != nil || v != nil {
		t.Errorf("initial voice: got %v, %v; want nil, nil", v, err)
	}

	voices, _ := eng.Voices()
	if err := eng.SetVoice(voices[0]); err != nil {
		t.Fatalf("SetVoice: %v", err)
	}
	if v, _ := eng.Voice(); v == nil || v.ID != "Alex" {
		t.Errorf("voice after SetVoice: got %v, want Alex", v)
	}

	if err := eng.SetVoice(voicebox.Voice{ID: "Nobody"}); !errors.Is(err, voicebox.ErrOperationFailed) {
		t.Errorf("SetVoice(unknown): got %v, want ErrOperationFailed", err)
	}
}

func TestEmptyTextCompletes(t *testing.T) {
	sp, c := newTestSpeech(t)

	if _, err := sp.Speak("", false); err != nil {
		t.Fatalf("Speak(\"\"): %v", err)
	}
	c.expect(t, "begin", "end")
}
