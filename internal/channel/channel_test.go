package channel

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	if err != nil {
		t.Fatalf("parse uuid %q: %v", s, err)
	}
	return id
}

func TestParseExitCode(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    int
		wantErr error
	}{
		{name: "zero", data: []byte("0"), want: 0},
		{name: "nonzero", data: []byte("137"), want: 137},
		{name: "trailing newline", data: []byte("1\n"), want: 1},
		{name: "surrounding whitespace", data: []byte("  42  "), want: 42},
		{name: "max valid", data: []byte("255"), want: 255},
		{name: "empty body", data: []byte(""), wantErr: ErrMalformed},
		{name: "whitespace only", data: []byte("  \n"), wantErr: ErrMalformed},
		{name: "not a number", data: []byte("ok"), wantErr: ErrMalformed},
		{name: "negative", data: []byte("-1"), wantErr: ErrMalformed},
		{name: "out of range", data: []byte("256"), wantErr: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseExitCode(tt.data)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("parseExitCode(%q) error = %v, want %v", tt.data, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseExitCode(%q) unexpected error: %v", tt.data, err)
			}
			if got != tt.want {
				t.Errorf("parseExitCode(%q) = %d, want %d", tt.data, got, tt.want)
			}
		})
	}
}

func TestExitCodeKey(t *testing.T) {
	id := mustUUID(t, "3c9f0f1e-7f44-4e1a-9a10-95a6c81c5d6b")
	got := exitCodeKey(id)
	want := "run/3c9f0f1e-7f44-4e1a-9a10-95a6c81c5d6b/exit_code"
	if got != want {
		t.Errorf("exitCodeKey() = %q, want %q", got, want)
	}
}

func TestLogKey(t *testing.T) {
	id := mustUUID(t, "3c9f0f1e-7f44-4e1a-9a10-95a6c81c5d6b")
	got := logKey(id)
	want := "run/3c9f0f1e-7f44-4e1a-9a10-95a6c81c5d6b/console.log"
	if got != want {
		t.Errorf("logKey() = %q, want %q", got, want)
	}
}
