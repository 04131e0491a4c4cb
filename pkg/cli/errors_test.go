package cli

import (
	"errors"
	"fmt"
	"testing"

	"mercator-hq/ratchet/pkg/retention"
)

func TestConfigError(t *testing.T) {
	err := NewConfigError("store.backend", "unknown backend")
	if got, want := err.Error(), "config error in store.backend: unknown backend"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if got, want := NewConfigError("", "no file").Error(), "config error: no file"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestCommandError(t *testing.T) {
	inner := errors.New("database is locked")
	err := NewCommandError("copy lock", inner)

	if got, want := err.Error(), "command copy lock failed: database is locked"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, inner) {
		t.Error("CommandError should unwrap to its cause")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("boom"), ExitFailure},
		{"config", NewConfigError("aging.schedule", "bad cron"), ExitConfig},
		{"wrapped config", fmt.Errorf("load: %w", NewConfigError("x", "y")), ExitConfig},
		{"rejection", retention.Reject(retention.CodeLockIsImmutable, "locked"), ExitRejected},
		{"wrapped rejection", NewCommandError("copy unlock", retention.ErrLockIsImmutable), ExitRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
