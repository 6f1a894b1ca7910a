package engines

import (
	"path/filepath"
	"testing"

	"github.com/dgnsrekt/voicebox/engines/piper"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Name
		wantErr bool
	}{
		{"say", Say, false},
		{"piper", Piper, false},
		{"google", Google, false},
		{"gtts", Google, false},
		{"GTTS", Google, false},
		{"mock", Mock, false},
		{"auto", Auto, false},
		{"", Auto, false},
		{" say ", Say, false},
		{"espeak", "", true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDetect(t *testing.T) {
	withModel := Config{Piper: piper.Config{Models: []piper.Model{{Path: "voice.onnx"}}}}

	t.Run("darwin prefers say", func(t *testing.T) {
		t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
		if got := detect(withModel, "darwin"); got != Say {
			t.Errorf("detect: got %q, want say", got)
		}
	})

	t.Run("configured model prefers piper", func(t *testing.T) {
		t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
		if got := detect(withModel, "linux"); got != Piper {
			t.Errorf("detect: got %q, want piper", got)
		}
	})

	t.Run("credentials prefer google", func(t *testing.T) {
		t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", filepath.Join(t.TempDir(), "sa.json"))
		if got := detect(Config{}, "linux"); got != Google {
			t.Errorf("detect: got %q, want google", got)
		}
	})

	t.Run("mock is the fallback", func(t *testing.T) {
		t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
		if got := detect(Config{}, "linux"); got != Mock {
			t.Errorf("detect: got %q, want mock", got)
		}
	})
}

func TestNewMock(t *testing.T) {
	sp, err := New(Mock, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sp.Close()

	if sp.Name() != "mock" {
		t.Errorf("Name: got %q, want mock", sp.Name())
	}
	if _, err := sp.Speak("hello", false); err != nil {
		t.Errorf("Speak: %v", err)
	}
}

func TestNewUnknown(t *testing.T) {
	if _, err := New(Name("espeak"), Config{}); err == nil {
		t.Fatal("New with unknown name should fail")
	}
}
