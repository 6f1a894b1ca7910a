package voicebox

import (
	"errors"
	"fmt"
	"testing"
)

func TestEngineErrorUnwrap(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{
			name:     "direct sentinel",
			err:      &EngineError{Engine: "mock", Op: "set rate", Err: ErrOutOfRange},
			sentinel: ErrOutOfRange,
		},
		{
			name:     "sentinel wrapped once more",
			err:      &EngineError{Engine: "mock", Op: "speak", Err: fmt.Errorf("queue rejected: %w", ErrEngineClosed)},
			sentinel: ErrEngineClosed,
		},
		{
			name:     "unsupported",
			err:      &EngineError{Engine: "say", Op: "set pitch", Err: ErrUnsupported},
			sentinel: ErrUnsupported,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false, want true", tt.err, tt.sentinel)
			}
		})
	}
}

func TestEngineErrorMessage(t *testing.T) {
	err := &EngineError{Engine: "mock", Op: "set volume", Err: ErrOutOfRange}
	want := "mock: set volume: value out of range"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestGenderString(t *testing.T) {
	tests := []struct {
		gender Gender
		want   string
	}{
		{GenderUnspecified, "unspecified"},
		{GenderMale, "male"},
		{GenderFemale, "female"},
		{Gender(42), "unspecified"},
	}
	for _, tt := range tests {
		if got := tt.gender.String(); got != tt.want {
			t.Errorf("Gender(%d).String() = %q, want %q", int(tt.gender), got, tt.want)
		}
	}
}
