package security

import "testing"

func TestPasswordStrength_String(t *testing.T) {
	tests := []struct {
		strength PasswordStrength
		want     string
	}{
		{PasswordWeak, "Weak"},
		{PasswordFair, "Fair"},
		{PasswordGood, "Good"},
		{PasswordStrong, "Strong"},
		{PasswordStrength(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.strength.String(); got != tt.want {
				t.Errorf("PasswordStrength.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPasswordStrength_Points(t *testing.T) {
	tests := []struct {
		strength PasswordStrength
		want     int
	}{
		{PasswordWeak, 0},
		{PasswordFair, 8},
		{PasswordGood, 17},
		{PasswordStrong, 25},
		{PasswordStrength(99), 0},
	}

	for _, tt := range tests {
		t.Run(tt.strength.String(), func(t *testing.T) {
			if got := tt.strength.Points(); got != tt.want {
				t.Errorf("PasswordStrength.Points() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculateFieldStrength_Password(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  PasswordStrength
	}{
		{"empty", "", PasswordWeak},
		{"very_short", "abc", PasswordWeak},
		{"7_chars", "1234567", PasswordWeak},
		{"8_chars", "12345678", PasswordFair},
		{"13_chars", "1234567890abc", PasswordFair},
		{"14_chars", "1234567890abcd", PasswordGood},
		{"19_chars", "1234567890abcdefghi", PasswordGood},
		{"20_chars", "1234567890abcdefghij", PasswordStrong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateFieldStrength(tt.value, KindPassword)
			if got != tt.want {
				t.Errorf("CalculateFieldStrength(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestCalculateFieldStrength_PIN(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  PasswordStrength
	}{
		{"too_short", "92", PasswordWeak},
		{"repeated", "0000", PasswordWeak},
		{"ascending", "123456", PasswordWeak},
		{"descending", "987654", PasswordWeak},
		{"4_digits", "2719", PasswordFair},
		{"6_digits", "271828", PasswordGood},
		{"8_digits", "27182818", PasswordStrong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateFieldStrength(tt.value, KindPIN)
			if got != tt.want {
				t.Errorf("CalculateFieldStrength(%q, pin) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestIsTrivialPIN(t *testing.T) {
	tests := []struct {
		pin  string
		want bool
	}{
		{"", false},
		{"7", true},
		{"1111", true},
		{"1234", true},
		{"4321", true},
		{"1212", false},
		{"2719", false},
	}

	for _, tt := range tests {
		if got := IsTrivialPIN(tt.pin); got != tt.want {
			t.Errorf("IsTrivialPIN(%q) = %v, want %v", tt.pin, got, tt.want)
		}
	}
}

func TestIsScored(t *testing.T) {
	tests := []struct {
		kind string
		want bool
	}{
		{KindPassword, true},
		{KindPIN, true},
		{KindSecurityCode, false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			if got := IsScored(tt.kind); got != tt.want {
				t.Errorf("IsScored(%q) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}
