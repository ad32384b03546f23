// Package security analyzes the credentials stored in a vault and scores
// the owner's password hygiene.
package security

import "strings"

// Credential kinds understood by CalculateFieldStrength.
const (
	KindPassword     = "password"
	KindPIN          = "pin"
	KindSecurityCode = "security_code"
)

// PasswordStrength represents the strength level of a password or PIN.
type PasswordStrength int

const (
	// PasswordWeak indicates an insecure value.
	PasswordWeak PasswordStrength = iota
	// PasswordFair indicates a minimally acceptable value.
	PasswordFair
	// PasswordGood indicates a good value.
	PasswordGood
	// PasswordStrong indicates a strong value.
	PasswordStrong
)

// String returns a human-readable representation of the password strength.
func (s PasswordStrength) String() string {
	switch s {
	case PasswordWeak:
		return "Weak"
	case PasswordFair:
		return "Fair"
	case PasswordGood:
		return "Good"
	case PasswordStrong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// Points returns the score points for this strength level.
// Used in StrengthScore calculation: Weak=0, Fair=8, Good=17, Strong=25.
func (s PasswordStrength) Points() int {
	switch s {
	case PasswordWeak:
		return 0
	case PasswordFair:
		return 8
	case PasswordGood:
		return 17
	case PasswordStrong:
		return 25
	default:
		return 0
	}
}

// CalculateFieldStrength calculates strength based on credential kind.
// PINs are judged by length and by whether they follow a trivial pattern;
// everything else uses the NIST length-first approach for passwords.
func CalculateFieldStrength(value string, kind string) PasswordStrength {
	if kind == KindPIN {
		return calculatePINStrength(value)
	}
	return calculatePasswordStrength(value)
}

// calculatePasswordStrength evaluates human-created passwords.
// Length is the primary factor per NIST SP 800-63B (composition rules
// discouraged, minimum 8 characters).
func calculatePasswordStrength(value string) PasswordStrength {
	length := len(value)

	switch {
	case length >= 20:
		return PasswordStrong
	case length >= 14:
		return PasswordGood
	case length >= 8:
		return PasswordFair
	default:
		return PasswordWeak
	}
}

// calculatePINStrength evaluates numeric PINs.
// - Repeated or sequential digits: Weak
// - 8+ digits: Strong
// - 6+ digits: Good
// - 4+ digits: Fair
func calculatePINStrength(value string) PasswordStrength {
	if IsTrivialPIN(value) {
		return PasswordWeak
	}

	switch length := len(value); {
	case length >= 8:
		return PasswordStrong
	case length >= 6:
		return PasswordGood
	case length >= 4:
		return PasswordFair
	default:
		return PasswordWeak
	}
}

// IsTrivialPIN reports whether pin is a single repeated digit or a run of
// ascending or descending digits ("1111", "1234", "9876").
func IsTrivialPIN(pin string) bool {
	if len(pin) < 2 {
		return len(pin) == 1
	}
	if strings.Count(pin, pin[:1]) == len(pin) {
		return true
	}

	up, down := true, true
	for i := 1; i < len(pin); i++ {
		d := int(pin[i]) - int(pin[i-1])
		up = up && d == 1
		down = down && d == -1
	}
	return up || down
}

// IsScored reports whether a credential kind takes part in the strength
// component. Card security codes have a fixed length set by the issuer.
func IsScored(kind string) bool {
	return kind == KindPassword || kind == KindPIN
}
