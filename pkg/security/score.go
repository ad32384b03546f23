package security

import (
	"context"
	"strings"
)

// SecurityScore represents the overall security assessment of a vault.
type SecurityScore struct {
	// Overall is the total score (0-100).
	Overall int `json:"overall"`
	// Components breaks down the score into categories.
	Components ScoreComponents `json:"components"`
	// Issues contains the detected security issues.
	Issues []SecurityIssue `json:"issues"`
	// Suggestions provides actionable recommendations.
	Suggestions []string `json:"suggestions"`
	// Limited indicates if the issue list was truncated.
	Limited bool `json:"limited"`
	// Credentials is the number of values analyzed.
	Credentials int `json:"credentials"`
}

// ScoreComponents breaks down the security score into categories.
// Each component contributes up to 25 points (total: 100).
type ScoreComponents struct {
	// StrengthScore is based on average password strength (0-25).
	StrengthScore int `json:"strength"`
	// UniquenessScore is based on percentage of unique passwords and PINs (0-25).
	UniquenessScore int `json:"uniqueness"`
	// PINScore is based on average bank PIN strength (0-25).
	PINScore int `json:"pin"`
	// HygieneScore is based on percentage of passwords that do not embed
	// the account's username or site name (0-25).
	HygieneScore int `json:"hygiene"`
}

// IssueType identifies the type of security issue.
type IssueType string

const (
	// IssueWeakPassword indicates a password or PIN with insufficient strength.
	IssueWeakPassword IssueType = "weak"
	// IssueDuplicatePassword indicates values reused across records.
	IssueDuplicatePassword IssueType = "duplicate"
	// IssueContainsName indicates a password containing its username or site.
	IssueContainsName IssueType = "contains_name"
)

// Severity indicates the urgency of a security issue.
type Severity string

const (
	// SeverityCritical requires immediate attention.
	SeverityCritical Severity = "critical"
	// SeverityWarning should be addressed soon.
	SeverityWarning Severity = "warning"
	// SeverityInfo is informational only.
	SeverityInfo Severity = "info"
)

// SecurityIssue represents a detected security problem.
type SecurityIssue struct {
	// Type identifies the category of issue.
	Type IssueType `json:"type"`
	// Severity indicates urgency.
	Severity Severity `json:"severity"`
	// Ref is the affected record (may be empty for privacy).
	Ref string `json:"ref,omitempty"`
	// Refs is used for duplicate issues (multiple records).
	Refs []string `json:"refs,omitempty"`
	// Kind is the credential kind with the issue.
	Kind string `json:"kind,omitempty"`
	// Description explains the issue.
	Description string `json:"description"`
	// Suggestion provides remediation guidance.
	Suggestion string `json:"suggestion,omitempty"`
}

// minNameLength is the shortest username or label checked by the hygiene
// component.
const minNameLength = 3

// Calculator computes security scores for a vault.
type Calculator struct {
	source  Source
	limits  Limits
	hmacKey []byte // calculator-local key for duplicate detection
}

// NewCalculator creates a new security calculator reading from src.
func NewCalculator(src Source, limits Limits) *Calculator {
	return &Calculator{
		source: src,
		limits: limits,
	}
}

// CalculateScore collects the vault's credentials and scores them.
func (c *Calculator) CalculateScore(ctx context.Context, includeRefs bool) (*SecurityScore, error) {
	creds, err := Collect(ctx, c.source)
	if err != nil {
		return nil, err
	}
	return c.Score(creds, includeRefs)
}

// Score computes the security score for an already collected set.
func (c *Calculator) Score(creds []Credential, includeRefs bool) (*SecurityScore, error) {
	// Empty vault: perfect score
	if len(creds) == 0 {
		return &SecurityScore{
			Overall: 100,
			Components: ScoreComponents{
				StrengthScore:   25,
				UniquenessScore: 25,
				PINScore:        25,
				HygieneScore:    25,
			},
			Issues:      []SecurityIssue{},
			Suggestions: []string{},
		}, nil
	}

	strengthScore := averagePoints(creds, KindPassword)
	pinScore := averagePoints(creds, KindPIN)
	weakIssues := c.FindWeakPasswords(creds, includeRefs, 0)
	uniquenessScore, dupIssues, err := c.calculateUniquenessScore(creds, includeRefs)
	if err != nil {
		return nil, err
	}
	hygieneScore, nameIssues := calculateHygieneScore(creds, includeRefs)

	allIssues := make([]SecurityIssue, 0, len(weakIssues)+len(dupIssues)+len(nameIssues))
	allIssues = append(allIssues, weakIssues...)
	allIssues = append(allIssues, dupIssues...)
	allIssues = append(allIssues, nameIssues...)

	limited := false
	if c.limits.IsLimited() {
		allIssues, limited = c.applyLimits(allIssues)
	}

	return &SecurityScore{
		Overall: strengthScore + uniquenessScore + pinScore + hygieneScore,
		Components: ScoreComponents{
			StrengthScore:   strengthScore,
			UniquenessScore: uniquenessScore,
			PINScore:        pinScore,
			HygieneScore:    hygieneScore,
		},
		Issues:      allIssues,
		Suggestions: generateSuggestions(allIssues),
		Limited:     limited,
		Credentials: len(creds),
	}, nil
}

// averagePoints returns the mean strength points (0-25) of one kind.
// A kind with no values scores full (N/A).
func averagePoints(creds []Credential, kind string) int {
	total, n := 0, 0
	for _, cred := range creds {
		if cred.Kind != kind {
			continue
		}
		n++
		total += CalculateFieldStrength(cred.Value, cred.Kind).Points()
	}
	if n == 0 {
		return 25
	}
	score := total / n
	if score > 25 {
		score = 25
	}
	return score
}

// calculateUniquenessScore evaluates reuse of passwords and PINs.
// Returns score (0-25) and duplicate issues.
func (c *Calculator) calculateUniquenessScore(creds []Credential, includeRefs bool) (int, []SecurityIssue, error) {
	duplicates, err := c.FindDuplicates(creds, includeRefs, 0)
	if err != nil {
		return 0, nil, err
	}

	hashes := make(map[string]bool)
	total := 0
	for _, cred := range creds {
		if !IsScored(cred.Kind) {
			continue
		}
		total++
		hashes[computeValueHash(normalizeValue(cred.Value), c.hmacKey)] = true
	}
	if total == 0 {
		return 25, nil, nil
	}

	var issues []SecurityIssue
	for _, dup := range duplicates {
		issue := SecurityIssue{
			Type:        IssueDuplicatePassword,
			Severity:    SeverityWarning,
			Description: "Multiple records share the same password or PIN",
			Suggestion:  "Use unique passwords for each account",
		}
		if includeRefs {
			issue.Refs = dup.Refs
		}
		issues = append(issues, issue)
	}

	return len(hashes) * 25 / total, issues, nil
}

// calculateHygieneScore flags passwords that contain their username or
// site name. Returns score (0-25) and issues.
func calculateHygieneScore(creds []Credential, includeRefs bool) (int, []SecurityIssue) {
	var issues []SecurityIssue
	total, clean := 0, 0

	for _, cred := range creds {
		if cred.Kind != KindPassword {
			continue
		}
		total++
		if !containsName(cred.Value, cred.Owner, cred.Label) {
			clean++
			continue
		}
		issue := SecurityIssue{
			Type:        IssueContainsName,
			Severity:    SeverityCritical,
			Kind:        cred.Kind,
			Description: "Password contains the account's username or site name",
			Suggestion:  "Choose a password unrelated to the account",
		}
		if includeRefs {
			issue.Ref = cred.Ref
		}
		issues = append(issues, issue)
	}

	if total == 0 {
		return 25, issues
	}
	return clean * 25 / total, issues
}

func containsName(password string, names ...string) bool {
	p := strings.ToLower(password)
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		// Strip a scheme and leading www. so "https://www.example.com" checks "example.com".
		name = strings.TrimPrefix(strings.TrimPrefix(strings.TrimPrefix(name, "https://"), "http://"), "www.")
		if i := strings.IndexAny(name, "./"); i > 0 {
			name = name[:i]
		}
		if len(name) >= minNameLength && strings.Contains(p, name) {
			return true
		}
	}
	return false
}

// applyLimits truncates weak and duplicate issues to the configured limits.
func (c *Calculator) applyLimits(issues []SecurityIssue) ([]SecurityIssue, bool) {
	limited := false
	weakCount := 0
	dupCount := 0
	var result []SecurityIssue

	for _, issue := range issues {
		switch issue.Type {
		case IssueWeakPassword:
			if c.limits.WeakLimit > 0 && weakCount >= c.limits.WeakLimit {
				limited = true
				continue
			}
			weakCount++
		case IssueDuplicatePassword:
			if c.limits.DuplicateLimit > 0 && dupCount >= c.limits.DuplicateLimit {
				limited = true
				continue
			}
			dupCount++
		}
		result = append(result, issue)
	}

	return result, limited
}

// generateSuggestions creates actionable recommendations based on issues.
func generateSuggestions(issues []SecurityIssue) []string {
	seen := make(map[IssueType]bool)
	for _, issue := range issues {
		seen[issue.Type] = true
	}

	suggestions := []string{}
	if seen[IssueContainsName] {
		suggestions = append(suggestions, "Change passwords that contain the username or site name")
	}
	if seen[IssueWeakPassword] {
		suggestions = append(suggestions, "Update weak passwords with stronger alternatives (14+ characters)")
	}
	if seen[IssueDuplicatePassword] {
		suggestions = append(suggestions, "Replace duplicate passwords with unique values")
	}
	return suggestions
}
