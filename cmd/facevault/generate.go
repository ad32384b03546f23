package main

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/facevault/pkg/security"
)

// Character set constants
const (
	charsetLowercase = "abcdefghijklmnopqrstuvwxyz"
	charsetUppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	charsetDigits    = "0123456789"
	charsetSymbols   = "!@#$%^&*()_+-=[]{}|;:,.<>?"

	minPasswordLength     = 8
	maxPasswordLength     = 128
	defaultPasswordLength = 24
	defaultPasswordCount  = 1
	maxPasswordCount      = 100
	maxExcludeLength      = 256

	minPINLength     = 4
	maxPINLength     = 12
	defaultPINLength = 6

	// maxPINAttempts bounds redraws of trivial PINs.
	maxPINAttempts = 100
)

// Generate command flags
var (
	generateLength      int
	generateCount       int
	generateNoSymbols   bool
	generateNoNumbers   bool
	generateNoUppercase bool
	generateNoLowercase bool
	generateExclude     string
	generatePIN         bool
)

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().IntVarP(&generateLength, "length", "l", 0, "Length (passwords 8-128, default 24; PINs 4-12, default 6)")
	generateCmd.Flags().IntVarP(&generateCount, "count", "n", defaultPasswordCount, "Number of values to generate (1-100)")
	generateCmd.Flags().BoolVar(&generateNoSymbols, "no-symbols", false, "Exclude symbols")
	generateCmd.Flags().BoolVar(&generateNoNumbers, "no-numbers", false, "Exclude numbers")
	generateCmd.Flags().BoolVar(&generateNoUppercase, "no-uppercase", false, "Exclude uppercase letters")
	generateCmd.Flags().BoolVar(&generateNoLowercase, "no-lowercase", false, "Exclude lowercase letters")
	generateCmd.Flags().StringVar(&generateExclude, "exclude", "", "Characters to exclude")
	generateCmd.Flags().BoolVar(&generatePIN, "pin", false, "Generate a numeric PIN instead of a password")
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate secure random passwords and PINs",
	Long: `Generate cryptographically secure random passwords or PINs. Nothing is
stored; no login is needed.

PINs never repeat one digit or run in sequence (1111, 1234, 9876).

Examples:
  # Generate a 24-character password (default)
  facevault generate

  # Generate a 32-character password without symbols
  facevault generate -l 32 --no-symbols

  # Generate 5 passwords
  facevault generate -n 5

  # Generate a 6-digit PIN
  facevault generate --pin

  # Generate password excluding ambiguous characters
  facevault generate --exclude "0O1lI"`,
	Args: cobra.NoArgs,
	RunE: executeGenerate,
}

func executeGenerate(cmd *cobra.Command, args []string) error {
	if generateLength == 0 {
		generateLength = defaultPasswordLength
		if generatePIN {
			generateLength = defaultPINLength
		}
	}
	if err := validateGenerateFlags(); err != nil {
		return err
	}

	gen := func() (string, error) { return generatePINValue(generateLength) }
	if !generatePIN {
		charset, err := buildCharset()
		if err != nil {
			return err
		}
		gen = func() (string, error) { return generatePassword(charset, generateLength) }
	}

	out := cmd.OutOrStdout()
	for i := 0; i < generateCount; i++ {
		value, err := gen()
		if err != nil {
			return fmt.Errorf("failed to generate value: %w", err)
		}
		fmt.Fprintln(out, value)
	}
	return nil
}

// validateGenerateFlags validates the generate command flags
func validateGenerateFlags() error {
	minLen, maxLen, what := minPasswordLength, maxPasswordLength, "password"
	if generatePIN {
		minLen, maxLen, what = minPINLength, maxPINLength, "PIN"
	}
	if generateLength < minLen {
		return fmt.Errorf("%s length must be at least %d characters", what, minLen)
	}
	if generateLength > maxLen {
		return fmt.Errorf("%s length must be at most %d characters", what, maxLen)
	}
	if generateCount < 1 {
		return fmt.Errorf("count must be at least 1")
	}
	if generateCount > maxPasswordCount {
		return fmt.Errorf("count must be at most %d", maxPasswordCount)
	}
	if len(generateExclude) > maxExcludeLength {
		return fmt.Errorf("exclude string must be at most %d characters", maxExcludeLength)
	}
	return nil
}

// buildCharset builds the character set based on flags
func buildCharset() (string, error) {
	var charset strings.Builder

	if !generateNoLowercase {
		charset.WriteString(charsetLowercase)
	}
	if !generateNoUppercase {
		charset.WriteString(charsetUppercase)
	}
	if !generateNoNumbers {
		charset.WriteString(charsetDigits)
	}
	if !generateNoSymbols {
		charset.WriteString(charsetSymbols)
	}

	result := charset.String()
	if generateExclude != "" {
		result = removeChars(result, generateExclude)
	}

	if result == "" {
		return "", fmt.Errorf("character set is empty: adjust flags to include at least one character type")
	}
	return result, nil
}

// removeChars removes specified characters from a string
func removeChars(s, chars string) string {
	excludeSet := make(map[rune]bool)
	for _, c := range chars {
		excludeSet[c] = true
	}

	var result strings.Builder
	for _, c := range s {
		if !excludeSet[c] {
			result.WriteRune(c)
		}
	}
	return result.String()
}

// generatePassword generates a cryptographically secure random password
func generatePassword(charset string, length int) (string, error) {
	charsetLen := big.NewInt(int64(len(charset)))
	password := make([]byte, length)

	for i := 0; i < length; i++ {
		idx, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		password[i] = charset[idx.Int64()]
	}

	return string(password), nil
}

// generatePINValue draws digits until the PIN is not trivial.
func generatePINValue(length int) (string, error) {
	for i := 0; i < maxPINAttempts; i++ {
		pin, err := generatePassword(charsetDigits, length)
		if err != nil {
			return "", err
		}
		if !security.IsTrivialPIN(pin) {
			return pin, nil
		}
	}
	return "", fmt.Errorf("no non-trivial PIN after %d attempts", maxPINAttempts)
}
