package security

// Limits bounds how many issues of each type a report lists.
type Limits struct {
	// DuplicateLimit is the max duplicates to show (0 = unlimited).
	DuplicateLimit int
	// WeakLimit is the max weak passwords to show (0 = unlimited).
	WeakLimit int
}

// DefaultLimits returns the limits used by the summary report.
func DefaultLimits() Limits {
	return Limits{
		DuplicateLimit: 3,
		WeakLimit:      3,
	}
}

// Unlimited returns limits that show every issue.
func Unlimited() Limits {
	return Limits{}
}

// IsLimited returns true if the results should be limited.
func (l Limits) IsLimited() bool {
	return l.DuplicateLimit > 0 || l.WeakLimit > 0
}
