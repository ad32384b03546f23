package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// Failed login limits: 5 attempts -> 30s, 10 attempts -> 5min,
// 20 attempts -> 30min.
const (
	CooldownThreshold1 = 5
	CooldownThreshold2 = 10
	CooldownThreshold3 = 20
	CooldownDuration1  = 30 * time.Second
	CooldownDuration2  = 5 * time.Minute
	CooldownDuration3  = 30 * time.Minute

	lockFileMode = 0600
)

// LockState tracks failed login attempts for cooldown enforcement. It is
// kept per vault, not per identity, so it does not reveal which ids exist.
type LockState struct {
	FailedAttempts int       `json:"failed_attempts"`
	LastAttempt    time.Time `json:"last_attempt"`
	CooldownUntil  time.Time `json:"cooldown_until"`
}

// LockStateStore persists LockState between attempts.
type LockStateStore interface {
	Load() (*LockState, error)
	Save(*LockState) error
	Clear() error
}

// MemoryLockState keeps the state for the life of the process.
type MemoryLockState struct {
	mu    sync.Mutex
	state LockState
}

// NewMemoryLockState returns an empty in-memory store.
func NewMemoryLockState() *MemoryLockState {
	return &MemoryLockState{}
}

func (m *MemoryLockState) Load() (*LockState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state
	return &st, nil
}

func (m *MemoryLockState) Save(st *LockState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = *st
	return nil
}

func (m *MemoryLockState) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = LockState{}
	return nil
}

// FileLockState stores the state as JSON so that cooldowns survive across
// CLI invocations.
type FileLockState struct {
	path string
}

// NewFileLockState returns a store backed by path.
func NewFileLockState(path string) *FileLockState {
	return &FileLockState{path: path}
}

// Load reads the lock state from the lock file
func (f *FileLockState) Load() (*LockState, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &LockState{}, nil
		}
		return nil, fmt.Errorf("session: failed to read lock state: %w", err)
	}

	var state LockState
	if err := json.Unmarshal(data, &state); err != nil {
		// A corrupt file must not lock the user out forever.
		return &LockState{}, nil
	}
	return &state, nil
}

func (f *FileLockState) Save(state *LockState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("session: failed to marshal lock state: %w", err)
	}
	if err := os.WriteFile(f.path, data, lockFileMode); err != nil {
		return fmt.Errorf("session: failed to write lock state: %w", err)
	}
	return nil
}

func (f *FileLockState) Clear() error {
	err := os.Remove(f.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: failed to clear lock state: %w", err)
	}
	return nil
}

// checkCooldown verifies if login is allowed or if cooldown is active
func (s *Session) checkCooldown() (time.Duration, error) {
	state, err := s.locks.Load()
	if err != nil {
		return 0, err
	}

	now := s.now()
	if !state.CooldownUntil.IsZero() && now.Before(state.CooldownUntil) {
		return state.CooldownUntil.Sub(now), ErrCooldownActive
	}
	return 0, nil
}

// recordFailedAttempt records a failed login and returns the cooldown it
// triggered, if any.
func (s *Session) recordFailedAttempt() (time.Duration, error) {
	state, err := s.locks.Load()
	if err != nil {
		return 0, err
	}

	now := s.now()
	state.FailedAttempts++
	state.LastAttempt = now

	var cooldown time.Duration
	switch {
	case state.FailedAttempts >= CooldownThreshold3:
		cooldown = CooldownDuration3
	case state.FailedAttempts >= CooldownThreshold2:
		cooldown = CooldownDuration2
	case state.FailedAttempts >= CooldownThreshold1:
		cooldown = CooldownDuration1
	}
	if cooldown > 0 {
		state.CooldownUntil = now.Add(cooldown)
	}

	return cooldown, s.locks.Save(state)
}

// RemainingCooldown returns the remaining cooldown time, or 0 if not in cooldown
func (s *Session) RemainingCooldown() time.Duration {
	remaining, err := s.checkCooldown()
	if err != nil && !errors.Is(err, ErrCooldownActive) {
		return 0
	}
	return remaining
}
