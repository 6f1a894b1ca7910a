package voicebox

import (
	"sync"
	"testing"
)

func TestNextEngineIDMonotonic(t *testing.T) {
	a := NextEngineID()
	b := NextEngineID()
	if b <= a {
		t.Errorf("engine ids not increasing: %s then %s", a, b)
	}
}

func TestNextUtteranceIDMonotonic(t *testing.T) {
	a := NextUtteranceID()
	b := NextUtteranceID()
	if b <= a {
		t.Errorf("utterance ids not increasing: %s then %s", a, b)
	}
}

func TestNextUtteranceIDConcurrentUnique(t *testing.T) {
	const (
		goroutines = 16
		perG       = 200
	)
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[UtteranceID]struct{}, goroutines*perG)
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]UtteranceID, 0, perG)
			for j := 0; j < perG; j++ {
				local = append(local, NextUtteranceID())
			}
			mu.Lock()
			for _, id := range local {
				ids[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(ids) != goroutines*perG {
		t.Errorf("allocated %d unique ids, want %d", len(ids), goroutines*perG)
	}
}

func TestNewPlaybackHandleNeverZero(t *testing.T) {
	for i := 0; i < 3; i++ {
		if h := NewPlaybackHandle(); h == 0 {
			t.Fatal("minted the zero handle")
		}
	}
}

func TestIDString(t *testing.T) {
	if got := EngineID(7).String(); got != "7" {
		t.Errorf("EngineID(7).String() = %q, want %q", got, "7")
	}
	if got := UtteranceID(123).String(); got != "123" {
		t.Errorf("UtteranceID(123).String() = %q, want %q", got, "123")
	}
}
