package audio

import (
	"io"
	"sync"
)

// StreamState is a point-in-time copy of a mock stream's state.
type StreamState struct {
	Data   []byte
	Volume float64
	Played bool
	Paused bool
	Closed bool
}

// MockStream records what a real stream would have sent to the hardware.
type MockStream struct {
	mu    sync.Mutex
	state StreamState
}

func (s *MockStream) Play() {
	s.mu.Lock()
	s.state.Played = true
	s.mu.Unlock()
}

func (s *MockStream) Pause() {
	s.mu.Lock()
	s.state.Paused = true
	s.mu.Unlock()
}

func (s *MockStream) SetVolume(volume float64) {
	s.mu.Lock()
	s.state.Volume = volume
	s.mu.Unlock()
}

func (s *MockStream) Close() error {
	s.mu.Lock()
	s.state.Closed = true
	s.mu.Unlock()
	return nil
}

// State returns a copy of the stream's current state.
func (s *MockStream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MockDevice implements Device entirely in memory. Streams are drained on
// creation and kept in order for inspection.
type MockDevice struct {
	mu      sync.Mutex
	streams []*MockStream
}

func NewMockDevice() *MockDevice {
	return &MockDevice{}
}

func (d *MockDevice) NewStream(r io.Reader) Stream {
	data, _ := io.ReadAll(r)
	s := &MockStream{state: StreamState{Data: data, Volume: 1}}
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s
}

// Count returns how many streams the device has handed out.
func (d *MockDevice) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

// Stream returns the i-th stream handed out, nil when out of range.
func (d *MockDevice) Stream(i int) *MockStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.streams) {
		return nil
	}
	return d.streams[i]
}

var _ Device = (*MockDevice)(nil)
