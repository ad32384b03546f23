package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/facevault/pkg/store"
	"github.com/forest6511/facevault/pkg/vault"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"24h", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"1m", 30 * 24 * time.Hour, false},
		{"1y", 365 * 24 * time.Hour, false},
		{"90s", 90 * time.Second, false},
		{"d", 0, true},
		{"xd", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseDuration(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseDuration(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDuration(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseID(t *testing.T) {
	if id, err := parseID("42"); err != nil || id != 42 {
		t.Errorf("parseID(\"42\") = %d, %v", id, err)
	}
	for _, bad := range []string{"0", "-3", "abc", "", "1.5"} {
		if _, err := parseID(bad); err == nil {
			t.Errorf("parseID(%q) expected error", bad)
		}
	}
}

func TestMasking(t *testing.T) {
	old := showSecrets
	defer func() { showSecrets = old }()

	showSecrets = false
	if got := mask("hunter2"); got != maskedValue {
		t.Errorf("mask() = %q, want %q", got, maskedValue)
	}
	if got := mask(""); got != "" {
		t.Errorf("mask(\"\") = %q, want empty", got)
	}
	if got := lastDigits("4111111111111111"); got != "**** 1111" {
		t.Errorf("lastDigits() = %q", got)
	}
	if got := lastDigits("123"); got != "123" {
		t.Errorf("lastDigits(short) = %q", got)
	}

	showSecrets = true
	if got := mask("hunter2"); got != "hunter2" {
		t.Errorf("mask() with --show-secrets = %q", got)
	}
	if got := lastDigits("4111111111111111"); got != "4111111111111111" {
		t.Errorf("lastDigits() with --show-secrets = %q", got)
	}
}

func TestFindRecord(t *testing.T) {
	notes := []vault.Note{{ID: 1, Title: "a"}, {ID: 3, Title: "b"}}
	idOf := func(n vault.Note) int64 { return n.ID }

	n, err := findRecord(notes, 3, "note", idOf)
	if err != nil {
		t.Fatalf("findRecord() error: %v", err)
	}
	if n.Title != "b" {
		t.Errorf("findRecord() = %q, want %q", n.Title, "b")
	}

	_, err = findRecord(notes, 2, "note", idOf)
	if !errors.Is(err, vault.ErrNotFound) {
		t.Errorf("findRecord(missing) error = %v, want ErrNotFound", err)
	}
}

func TestReadLineSharesInput(t *testing.T) {
	old := input
	input = nil
	defer func() { input = old }()

	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader("secret\r\nsecond\nrest of\nthe content\n"))

	for _, want := range []string{"secret", "second"} {
		got, err := readLine(cmd)
		if err != nil {
			t.Fatalf("readLine() error: %v", err)
		}
		if got != want {
			t.Errorf("readLine() = %q, want %q", got, want)
		}
	}

	content, err := readContent(cmd, "-")
	if err != nil {
		t.Fatalf("readContent() error: %v", err)
	}
	if content != "rest of\nthe content" {
		t.Errorf("readContent() = %q", content)
	}

	// Exhausted input reads as an empty line.
	got, err := readLine(cmd)
	if err != nil || got != "" {
		t.Errorf("readLine() at EOF = %q, %v", got, err)
	}

	if got, _ := readContent(cmd, "literal"); got != "literal" {
		t.Errorf("readContent(literal) = %q", got)
	}
}

func TestCallRetriesUnavailableStore(t *testing.T) {
	attempts := 0
	_, err := call(context.Background(), func(ctx context.Context) (int, error) {
		attempts++
		return 0, store.ErrUnavailable
	})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("call() error = %v, want ErrUnavailable", err)
	}
	if attempts != storeRetries+1 {
		t.Errorf("attempts = %d, want %d", attempts, storeRetries+1)
	}
}

func TestCallStopsOnOtherErrors(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		return vault.ErrNotFound
	})
	if !errors.Is(err, vault.ErrNotFound) {
		t.Errorf("withRetry() error = %v, want ErrNotFound", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestCallRecoversAfterRetry(t *testing.T) {
	attempts := 0
	got, err := call(context.Background(), func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 2 {
			return "", store.ErrUnavailable
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Errorf("call() = %q, %v", got, err)
	}
}
