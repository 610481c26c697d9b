package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"explicit transient", NewTransientError(errors.New("503"), 503), true},
		{"wrapped transient", fmt.Errorf("call: %w", NewTransientError(errors.New("429"), 429)), true},
		{"conn reset", syscall.ECONNRESET, true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"text i/o timeout", errors.New("read tcp: i/o timeout"), true},
		{"text no such host", errors.New("lookup rpc.example: no such host"), true},
		{"fatal wrapping transient", NewFatalError(NewTransientError(errors.New("x"), 500)), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if IsFatal(errors.New("plain")) {
		t.Error("plain error must not be fatal")
	}
	if !IsFatal(fmt.Errorf("auth: %w", NewFatalError(errors.New("401")))) {
		t.Error("wrapped FatalError must be fatal")
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("status %d should be transient", code)
		}
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("status %d should not be transient", code)
		}
	}
}
