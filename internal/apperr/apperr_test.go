package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"plain", errors.New("boom"), Exception},
		{"coded", Newf(InsufficientFunds, "short by %d", 3), InsufficientFunds},
		{"wrapped coded", fmt.Errorf("sell: %w", New(Conflict, "lot on offer")), Conflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("get lot: %w", Newf(NotFound, "lot %s not found", "abc"))
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected errors.Is to match ErrNotFound")
	}
	if errors.Is(err, ErrConflict) {
		t.Error("did not expect errors.Is to match ErrConflict")
	}
}

func TestWrapKeepsCode(t *testing.T) {
	orig := New(Duplicate, "tick exists")
	if got := Wrap(orig, "advance"); got != orig {
		t.Errorf("Wrap should return coded errors unchanged, got %v", got)
	}

	foreign := errors.New("connection reset")
	wrapped := Wrap(foreign, "commit")
	if CodeOf(wrapped) != Exception {
		t.Errorf("expected Exception, got %s", CodeOf(wrapped))
	}
	if !errors.Is(wrapped, foreign) {
		t.Error("wrapped error should unwrap to the original")
	}
	if Wrap(nil, "noop") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}
