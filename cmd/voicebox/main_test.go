package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dgnsrekt/voicebox"
	"github.com/dgnsrekt/voicebox/engines"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/text/language"
)

func TestLanguageMatches(t *testing.T) {
	tests := []struct {
		voice string
		want  string
		match bool
	}{
		{"en-US", "en", true},
		{"en-US", "en-US", true},
		{"en-US", "en-GB", false},
		{"en-GB", "en-GB", true},
		{"de-DE", "en", false},
	}
	for _, tt := range tests {
		got := languageMatches(language.MustParse(tt.voice), language.MustParse(tt.want))
		if got != tt.match {
			t.Errorf("languageMatches(%s, %s) = %v, want %v", tt.voice, tt.want, got, tt.match)
		}
	}
}

func TestFilterVoices(t *testing.T) {
	voices := func() []voicebox.Voice {
		return []voicebox.Voice{
			{ID: "b-voice", Name: "Brian", Language: language.BritishEnglish},
			{ID: "a-voice", Name: "Amy", Language: language.AmericanEnglish},
			{ID: "g-voice", Name: "Greta", Language: language.German},
		}
	}

	t.Run("language keeps matching regions", func(t *testing.T) {
		voicesLanguage = "en"
		defer func() { voicesLanguage = "" }()

		got, err := filterVoices(voices())
		if err != nil {
			t.Fatalf("filterVoices: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d voices, want 2", len(got))
		}
		if got[0].ID != "b-voice" || got[1].ID != "a-voice" {
			t.Errorf("got %v, want en-GB before en-US", got)
		}
	})

	t.Run("fuzzy filter narrows by name", func(t *testing.T) {
		voicesFilter = "amy"
		defer func() { voicesFilter = "" }()

		got, err := filterVoices(voices())
		if err != nil {
			t.Fatalf("filterVoices: %v", err)
		}
		if len(got) != 1 || got[0].ID != "a-voice" {
			t.Errorf("got %v, want just a-voice", got)
		}
	})

	t.Run("bad language tag errors", func(t *testing.T) {
		voicesLanguage = "not!a!tag"
		defer func() { voicesLanguage = "" }()

		if _, err := filterVoices(voices()); err == nil {
			t.Fatal("expected an error for a malformed tag")
		}
	})
}

func TestGatherTextFromArgs(t *testing.T) {
	got, err := gatherText([]string{"Hello", "there.", "General", "Kenobi."})
	if err != nil {
		t.Fatalf("gatherText: %v", err)
	}
	want := []string{"Hello there.", "General Kenobi."}
	if len(got) != len(want) {
		t.Fatalf("got %d sentences %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGatherTextFromFile(t *testing.T) {
	doc := "# Title\n\nFirst sentence. Second sentence.\n\n```go\nfmt.Println()\n```\n"
	path := filepath.Join(t.TempDir(), "doc.md")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	filePath = path
	defer func() { filePath = "" }()

	got, err := gatherText(nil)
	if err != nil {
		t.Fatalf("gatherText: %v", err)
	}
	want := []string{"Title", "First sentence.", "Second sentence."}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGatherTextNoInput(t *testing.T) {
	if pipe, err := stdinIsPipe(); err != nil || pipe {
		t.Skip("stdin is piped in this environment")
	}
	if _, err := gatherText(nil); err == nil {
		t.Fatal("expected an error when there is nothing to speak")
	}
}

func TestSpeakWaitsForPlayback(t *testing.T) {
	s, err := engines.New(engines.Mock, engines.Config{})
	if err != nil {
		t.Fatalf("engines.New: %v", err)
	}
	defer s.Close() //nolint:errcheck

	wait, interrupt = true, false
	if err := speak(s, []string{"one", "two", "three"}); err != nil {
		t.Fatalf("speak: %v", err)
	}

	speaking, err := s.IsSpeaking()
	if err != nil {
		t.Fatalf("IsSpeaking: %v", err)
	}
	if speaking {
		t.Error("still speaking after speak returned")
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("HOME", "/tmp/home")
	homedir.Reset()
	t.Cleanup(homedir.Reset)

	if got := expandPath("~/voices"); got != "/tmp/home/voices" {
		t.Errorf("tilde expansion = %q", got)
	}

	t.Setenv("VOICE_DIR", "/srv/voices")
	if got := expandPath("$VOICE_DIR/amy.onnx"); got != "/srv/voices/amy.onnx" {
		t.Errorf("env expansion = %q", got)
	}

	if got := expandPath(""); got != "" {
		t.Errorf("empty path = %q", got)
	}
}
