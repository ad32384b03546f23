package security

import "testing"

func TestDefaultLimits(t *testing.T) {
	got := DefaultLimits()
	if got.DuplicateLimit != 3 {
		t.Errorf("DuplicateLimit = %v, want 3", got.DuplicateLimit)
	}
	if got.WeakLimit != 3 {
		t.Errorf("WeakLimit = %v, want 3", got.WeakLimit)
	}
}

func TestLimits_IsLimited(t *testing.T) {
	tests := []struct {
		name   string
		limits Limits
		want   bool
	}{
		{
			name:   "default_is_limited",
			limits: DefaultLimits(),
			want:   true,
		},
		{
			name:   "unlimited",
			limits: Unlimited(),
			want:   false,
		},
		{
			name:   "custom_limited",
			limits: Limits{DuplicateLimit: 5, WeakLimit: 0},
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.limits.IsLimited(); got != tt.want {
				t.Errorf("Limits.IsLimited() = %v, want %v", got, tt.want)
			}
		})
	}
}
