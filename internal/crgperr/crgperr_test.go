package crgperr

import (
	"errors"
	"testing"
)

func TestExitCodeOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"usage", New(ClassUsage, "bad flag"), 1},
		{"input io fatal", Wrap(ClassInputIOFatal, errors.New("boom"), "reading x"), 2},
		{"peer io fatal", New(ClassPeerIOFatal, "dial failed"), 3},
		{"internal", New(ClassInternal, "invariant violated"), 4},
		{"unclassified", errors.New("plain error"), 4},
	}

	for _, c := range cases {
		if got := ExitCodeOf(c.err); got != c.want {
			t.Errorf("%s: ExitCodeOf() = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if err := Wrap(ClassInternal, nil, "context"); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(ClassInputIOFatal, cause, "reading file")
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
}
