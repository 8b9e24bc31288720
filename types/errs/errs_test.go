package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKinds(t *testing.T) {
	t.Parallel()
	if !errors.Is(ErrDigestMismatch, ErrDataFormat) {
		t.Error("digest mismatch must be a data format error")
	}
	if !errors.Is(ErrParsingFailed, ErrDataFormat) {
		t.Error("parsing failure must be a data format error")
	}
	if !errors.Is(ErrMissingCredentials, ErrInvalidOperation) {
		t.Error("missing credentials must be an invalid operation")
	}
	if !errors.Is(InvalidOperation("reason"), ErrInvalidOperation) {
		t.Error("InvalidOperation must wrap the sentinel")
	}
	if !errors.Is(Recoverable("reason"), ErrRecoverable) {
		t.Error("Recoverable must wrap the sentinel")
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	err := ExternalStatus(503)
	if !errors.Is(err, ErrExternalDependency) {
		t.Error("status error must be an external dependency error")
	}
	if Status(err) != 503 {
		t.Errorf("got status %d, want 503", Status(err))
	}
	wrapped := fmt.Errorf("resolving manifest: %w", err)
	if Status(wrapped) != 503 {
		t.Errorf("status lost through wrapping, got %d", Status(wrapped))
	}
	if Status(errors.New("plain")) != 0 {
		t.Error("plain error must carry no status")
	}
}
