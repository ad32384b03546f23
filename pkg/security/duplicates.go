package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DuplicateGroup represents a group of credentials sharing the same value.
type DuplicateGroup struct {
	// Refs contains the records holding the duplicate value.
	Refs []string `json:"refs,omitempty"`
	// Kinds contains the credential kind for each ref.
	Kinds []string `json:"kinds,omitempty"`
	// Count is the number of duplicates.
	Count int `json:"count"`
}

// FindDuplicates groups passwords and PINs that share a value.
// Uses HMAC-SHA256 with a calculator-local key for privacy-preserving
// comparison; hashes are never persisted. Values are trimmed and
// normalized to Unicode NFC. Returns groups sorted by count (most
// duplicated first).
func (c *Calculator) FindDuplicates(creds []Credential, includeRefs bool, limit int) ([]DuplicateGroup, error) {
	if err := c.ensureKey(); err != nil {
		return nil, err
	}

	hashGroups := make(map[string][]Credential)
	var order []string
	for _, cred := range creds {
		if !IsScored(cred.Kind) {
			continue
		}
		value := normalizeValue(cred.Value)
		if value == "" {
			continue
		}
		hash := computeValueHash(value, c.hmacKey)
		if _, seen := hashGroups[hash]; !seen {
			order = append(order, hash)
		}
		hashGroups[hash] = append(hashGroups[hash], cred)
	}

	// Only groups with count > 1
	var groups []DuplicateGroup
	for _, hash := range order {
		members := hashGroups[hash]
		if len(members) <= 1 {
			continue
		}

		group := DuplicateGroup{Count: len(members)}
		if includeRefs {
			for _, m := range members {
				group.Refs = append(group.Refs, m.Ref)
				group.Kinds = append(group.Kinds, m.Kind)
			}
		}
		groups = append(groups, group)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Count > groups[j].Count
	})

	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}
	return groups, nil
}

func (c *Calculator) ensureKey() error {
	if c.hmacKey != nil {
		return nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("security: failed to generate HMAC key: %w", err)
	}
	c.hmacKey = key
	return nil
}

// computeValueHash computes HMAC-SHA256 of a value with the calculator key.
func computeValueHash(value string, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeValue normalizes a credential value for comparison.
func normalizeValue(value string) string {
	return norm.NFC.String(strings.TrimSpace(value))
}

// FindWeakPasswords returns credentials with weak passwords or PINs.
func (c *Calculator) FindWeakPasswords(creds []Credential, includeRefs bool, limit int) []SecurityIssue {
	var issues []SecurityIssue

	for _, cred := range creds {
		if !IsScored(cred.Kind) {
			continue
		}
		if CalculateFieldStrength(cred.Value, cred.Kind) != PasswordWeak {
			continue
		}
		issues = append(issues, weakIssue(cred, includeRefs))
	}

	if limit > 0 && len(issues) > limit {
		issues = issues[:limit]
	}
	return issues
}

func weakIssue(cred Credential, includeRefs bool) SecurityIssue {
	issue := SecurityIssue{
		Type:       IssueWeakPassword,
		Severity:   SeverityWarning,
		Kind:       cred.Kind,
		Suggestion: "Use a longer password (14+ characters recommended)",
	}
	if cred.Kind == KindPIN {
		issue.Description = fmt.Sprintf("PIN is weak (%s)", formatLength(len(cred.Value), "digit"))
		issue.Suggestion = "Use a 6+ digit PIN without repeated or sequential digits"
	} else {
		issue.Description = fmt.Sprintf("Password has insufficient strength (%s)", formatLength(len(cred.Value), "character"))
	}
	if includeRefs {
		issue.Ref = cred.Ref
	}
	return issue
}

// formatLength returns a human-readable length description.
func formatLength(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
