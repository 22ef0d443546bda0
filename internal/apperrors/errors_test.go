package apperrors

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
)

func TestConstructors_WrapSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"validation", Validation("file must have .apk extension, got %q", "app.txt"), ErrValidation},
		{"not found", NotFound("package", "42"), ErrNotFound},
		{"forbidden", Forbidden("role %s cannot upload", "viewer"), ErrForbidden},
		{"conflict", Conflict("insert package", errors.New("duplicate key")), ErrConflict},
		{"io", IO("copy artifact", fs.ErrNotExist), ErrIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.sentinel)
			}
		})
	}
}

func TestIO_KeepsCause(t *testing.T) {
	err := IO("open source", fs.ErrNotExist)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("IO() should keep the underlying cause reachable")
	}
}

func TestMessage(t *testing.T) {
	if got := Message(nil); got != "" {
		t.Errorf("Message(nil) = %q", got)
	}
	if got := Message(Validation("bad %s", "input")); !strings.Contains(got, "bad input") {
		t.Errorf("Message(validation) = %q", got)
	}
	if got := Message(IO("copy", errors.New("disk on fire at /secret/path"))); strings.Contains(got, "/secret/path") {
		t.Errorf("Message(io) leaked details: %q", got)
	}
	if got := Message(errors.New("pq: connection refused")); got != "internal server error" {
		t.Errorf("Message(unknown) = %q", got)
	}
}
