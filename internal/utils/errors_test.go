package utils

import (
	"errors"
	"testing"
)

func TestAppErrorWrapping(t *testing.T) {
	inner := errors.New("connection refused")
	err := NewAppError("history.persist", "write outcome", inner)

	if !errors.Is(err, inner) {
		t.Fatal("expected AppError to unwrap to the inner error")
	}
	want := "history.persist: write outcome: connection refused"
	if err.Error() != want {
		t.Fatalf("unexpected message: %q", err.Error())
	}

	bare := NewAppError("config.load", "missing file", nil)
	if bare.Error() != "config.load: missing file" {
		t.Fatalf("unexpected message without inner error: %q", bare.Error())
	}
}

func TestParseRFC3339(t *testing.T) {
	ts, err := ParseRFC3339("2026-03-01T12:00:00Z")
	if err != nil {
		t.Fatalf("ParseRFC3339 returned error: %v", err)
	}
	if ts.Hour() != 12 {
		t.Fatalf("unexpected hour: %d", ts.Hour())
	}

	if _, err := ParseRFC3339(""); err == nil {
		t.Fatal("expected error for empty value")
	}
	if _, err := ParseRFC3339("yesterday"); err == nil {
		t.Fatal("expected error for junk value")
	}
}
