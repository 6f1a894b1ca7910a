// Package engines constructs the concrete speech bindings and picks a
// sensible one for the host.
package engines

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/voicebox"
	"github.com/dgnsrekt/voicebox/engines/google"
	"github.com/dgnsrekt/voicebox/engines/mock"
	"github.com/dgnsrekt/voicebox/engines/piper"
	"github.com/dgnsrekt/voicebox/engines/say"
)

// Name identifies a binding.
type Name string

const (
	Auto   Name = "auto"
	Say    Name = "say"
	Piper  Name = "piper"
	Google Name = "google"
	Mock   Name = "mock"
)

// Names lists the concrete bindings, in the order Auto considers them.
func Names() []Name {
	return []Name{Say, Piper, Google, Mock}
}

// Parse normalizes a user-supplied engine name. The empty string means
// Auto.
func Parse(s string) (Name, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return Auto, nil
	case "say":
		return Say, nil
	case "piper":
		return Piper, nil
	case "google", "gtts":
		return Google, nil
	case "mock":
		return Mock, nil
	default:
		return "", fmt.Errorf("unknown engine %q (have say, piper, google, mock)", s)
	}
}

// Config gathers per-binding settings. CacheDir is shared by the bindings
// that cache synthesized audio, unless their own section overrides it.
type Config struct {
	CacheDir string

	Say    say.Config
	Piper  piper.Config
	Google google.Config
	Mock   mock.Config
}

// New constructs the named binding behind the validating facade. Auto picks
// say on macOS, piper when a voice model is configured, google when cloud
// credentials are present, and the mock otherwise.
func New(name Name, cfg Config) (*voicebox.Speech, error) {
	if name == Auto {
		name = detect(cfg, runtime.GOOS)
		log.Debug("engine selected", "engine", name)
	}
	eng, err := newEngine(name, cfg)
	if err != nil {
		return nil, err
	}
	return voicebox.New(eng)
}

func newEngine(name Name, cfg Config) (voicebox.Engine, error) {
	switch name {
	case Say:
		return say.New(cfg.Say)
	case Piper:
		p := cfg.Piper
		if p.CacheDir == "" {
			p.CacheDir = cfg.CacheDir
		}
		return piper.New(p)
	case Google:
		g := cfg.Google
		if g.CacheDir == "" {
			g.CacheDir = cfg.CacheDir
		}
		return google.New(g)
	case Mock:
		m := cfg.Mock
		if m.Features == (voicebox.Features{}) {
			m = mock.DefaultConfig()
		}
		return mock.New(m)
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", voicebox.ErrEngineUnavailable, name)
	}
}

// detect picks the binding for a host without constructing anything.
func detect(cfg Config, goos string) Name {
	if goos == "darwin" {
		return Say
	}
	if len(cfg.Piper.Models) > 0 {
		return Piper
	}
	if hasGoogleCredentials() {
		return Google
	}
	return Mock
}

// hasGoogleCredentials reports whether application default credentials are
// plausibly configured, without dialing anything.
func hasGoogleCredentials() bool {
	return os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != ""
}
