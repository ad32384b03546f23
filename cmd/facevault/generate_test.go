package main

import (
	"strings"
	"testing"
	"unicode"

	"github.com/forest6511/facevault/pkg/security"
)

func TestValidateGenerateFlags(t *testing.T) {
	tests := []struct {
		name        string
		length      int
		count       int
		exclude     string
		pin         bool
		expectError bool
	}{
		{name: "valid defaults", length: defaultPasswordLength, count: defaultPasswordCount},
		{name: "minimum length", length: minPasswordLength, count: 1},
		{name: "maximum length", length: maxPasswordLength, count: 1},
		{name: "length too short", length: minPasswordLength - 1, count: 1, expectError: true},
		{name: "length too long", length: maxPasswordLength + 1, count: 1, expectError: true},
		{name: "count zero", length: 24, count: 0, expectError: true},
		{name: "count too high", length: 24, count: maxPasswordCount + 1, expectError: true},
		{name: "maximum count", length: 24, count: maxPasswordCount},
		{name: "exclude too long", length: 24, count: 1, exclude: strings.Repeat("a", maxExcludeLength+1), expectError: true},
		{name: "valid exclude", length: 24, count: 1, exclude: "0O1lI"},
		{name: "default PIN", length: defaultPINLength, count: 1, pin: true},
		{name: "shortest PIN", length: minPINLength, count: 1, pin: true},
		{name: "PIN too short", length: minPINLength - 1, count: 1, pin: true, expectError: true},
		{name: "PIN too long", length: maxPINLength + 1, count: 1, pin: true, expectError: true},
		{name: "password length rejected for PIN", length: defaultPasswordLength, count: 1, pin: true, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Save and restore globals
			oldLength := generateLength
			oldCount := generateCount
			oldExclude := generateExclude
			oldPIN := generatePIN
			defer func() {
				generateLength = oldLength
				generateCount = oldCount
				generateExclude = oldExclude
				generatePIN = oldPIN
			}()

			generateLength = tt.length
			generateCount = tt.count
			generateExclude = tt.exclude
			generatePIN = tt.pin

			err := validateGenerateFlags()
			if tt.expectError && err == nil {
				t.Errorf("expected error but got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestBuildCharset(t *testing.T) {
	tests := []struct {
		name        string
		noLowercase bool
		noUppercase bool
		noNumbers   bool
		noSymbols   bool
		exclude     string
		expectError bool
		contains    string
		notContains string
	}{
		{name: "all character types", contains: "aA0!"},
		{name: "no symbols", noSymbols: true, contains: "aA0", notContains: "!@#"},
		{name: "no numbers", noNumbers: true, contains: "aA!", notContains: "0123"},
		{name: "no uppercase", noUppercase: true, contains: "a0!", notContains: "ABC"},
		{name: "no lowercase", noLowercase: true, contains: "A0!", notContains: "abc"},
		{name: "letters only", noNumbers: true, noSymbols: true, contains: "aA", notContains: "0!"},
		{name: "exclude ambiguous", exclude: "0O1lI", contains: "a2!", notContains: "0O1lI"},
		{name: "empty charset", noLowercase: true, noUppercase: true, noNumbers: true, noSymbols: true, expectError: true},
		{name: "everything excluded", noUppercase: true, noNumbers: true, noSymbols: true, exclude: charsetLowercase, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Save and restore globals
			oldNoLowercase := generateNoLowercase
			oldNoUppercase := generateNoUppercase
			oldNoNumbers := generateNoNumbers
			oldNoSymbols := generateNoSymbols
			oldExclude := generateExclude
			defer func() {
				generateNoLowercase = oldNoLowercase
				generateNoUppercase = oldNoUppercase
				generateNoNumbers = oldNoNumbers
				generateNoSymbols = oldNoSymbols
				generateExclude = oldExclude
			}()

			generateNoLowercase = tt.noLowercase
			generateNoUppercase = tt.noUppercase
			generateNoNumbers = tt.noNumbers
			generateNoSymbols = tt.noSymbols
			generateExclude = tt.exclude

			charset, err := buildCharset()

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			for _, c := range tt.contains {
				if !strings.ContainsRune(charset, c) {
					t.Errorf("charset should contain '%c'", c)
				}
			}
			for _, c := range tt.notContains {
				if strings.ContainsRune(charset, c) {
					t.Errorf("charset should not contain '%c'", c)
				}
			}
		})
	}
}

func TestRemoveChars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		exclude  string
		expected string
	}{
		{name: "remove single char", input: "abcdef", exclude: "c", expected: "abdef"},
		{name: "remove multiple chars", input: "abcdef", exclude: "ace", expected: "bdf"},
		{name: "remove nothing", input: "abcdef", exclude: "xyz", expected: "abcdef"},
		{name: "empty exclude", input: "abcdef", exclude: "", expected: "abcdef"},
		{name: "remove all", input: "aaa", exclude: "a", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := removeChars(tt.input, tt.exclude)
			if result != tt.expected {
				t.Errorf("removeChars(%q, %q) = %q, want %q", tt.input, tt.exclude, result, tt.expected)
			}
		})
	}
}

func TestGeneratePassword(t *testing.T) {
	tests := []struct {
		name    string
		charset string
		length  int
	}{
		{name: "alphanumeric", charset: charsetLowercase + charsetUppercase + charsetDigits, length: 24},
		{name: "minimum length", charset: charsetLowercase, length: minPasswordLength},
		{name: "long password", charset: charsetLowercase + charsetUppercase + charsetDigits + charsetSymbols, length: 64},
		{name: "digits only", charset: charsetDigits, length: 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			password, err := generatePassword(tt.charset, tt.length)
			if err != nil {
				t.Fatalf("generatePassword failed: %v", err)
			}
			if len(password) != tt.length {
				t.Errorf("password length = %d, want %d", len(password), tt.length)
			}
			for _, c := range password {
				if !strings.ContainsRune(tt.charset, c) {
					t.Errorf("password contains unexpected character: %c", c)
				}
			}
		})
	}
}

func TestGeneratePasswordRandomness(t *testing.T) {
	charset := charsetLowercase + charsetUppercase + charsetDigits
	passwords := make(map[string]bool)
	for i := 0; i < 100; i++ {
		password, err := generatePassword(charset, 32)
		if err != nil {
			t.Fatalf("generatePassword failed: %v", err)
		}
		if passwords[password] {
			t.Errorf("duplicate password generated: %s", password)
		}
		passwords[password] = true
	}
}

func TestGeneratePINValue(t *testing.T) {
	for _, length := range []int{minPINLength, defaultPINLength, maxPINLength} {
		for i := 0; i < 50; i++ {
			pin, err := generatePINValue(length)
			if err != nil {
				t.Fatalf("generatePINValue(%d) failed: %v", length, err)
			}
			if len(pin) != length {
				t.Errorf("PIN length = %d, want %d", len(pin), length)
			}
			for _, c := range pin {
				if !unicode.IsDigit(c) {
					t.Errorf("PIN contains non-digit: %c", c)
				}
			}
			if security.IsTrivialPIN(pin) {
				t.Errorf("trivial PIN generated: %s", pin)
			}
		}
	}
}
