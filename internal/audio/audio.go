// Package audio plays raw PCM through the host's audio output. Engines that
// synthesize their own samples depend on the Device interface rather than on
// the hardware, so tests can swap in the in-memory mock.
package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// Mono 16-bit little endian, the format neural synthesizers emit.
const (
	channels       = 1
	bytesPerSample = 2
)

// ErrNotReady is returned when the device does not become ready in time.
var ErrNotReady = errors.New("audio device not ready")

// Stream is one PCM stream moving through the device. Close releases it;
// a closed stream must not be touched again.
type Stream interface {
	Play()
	Pause()
	SetVolume(volume float64)
	Close() error
}

// Device turns readers of raw PCM into playable streams.
type Device interface {
	NewStream(r io.Reader) Stream
}

// Config for opening the host device.
type Config struct {
	// SampleRate of every stream the device will play, in Hz.
	SampleRate int

	// InitTimeout bounds how long to wait for the host audio system.
	// Defaults to 5s.
	InitTimeout time.Duration
}

type otoDevice struct {
	ctx *oto.Context
}

func (d *otoDevice) NewStream(r io.Reader) Stream {
	return d.ctx.NewPlayer(r)
}

// The oto context can be created only once per process, so the first Open
// fixes the sample rate for everyone after it.
var host struct {
	sync.Mutex
	dev        *otoDevice
	sampleRate int
}

// Open returns the host audio device, creating it on first use. Later calls
// must ask for the sample rate the device was opened with.
func Open(cfg Config) (Device, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = 5 * time.Second
	}

	host.Lock()
	defer host.Unlock()
	if host.dev != nil {
		if cfg.SampleRate != host.sampleRate {
			return nil, fmt.Errorf("audio device already open at %d Hz, requested %d", host.sampleRate, cfg.SampleRate)
		}
		return host.dev, nil
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	select {
	case <-ready:
	case <-time.After(cfg.InitTimeout):
		return nil, fmt.Errorf("%w after %v", ErrNotReady, cfg.InitTimeout)
	}

	host.dev = &otoDevice{ctx: ctx}
	host.sampleRate = cfg.SampleRate
	log.Debug("audio device open", "sample_rate", cfg.SampleRate)
	return host.dev, nil
}

// PCMDuration returns how long the given amount of mono 16-bit PCM plays
// for at the sample rate.
func PCMDuration(size, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := size / bytesPerSample / channels
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// Silence returns PCM that plays as silence for the duration.
func Silence(d time.Duration, sampleRate int) []byte {
	samples := int(d * time.Duration(sampleRate) / time.Second)
	return make([]byte, samples*bytesPerSample*channels)
}

var _ Stream = (*oto.Player)(nil)
