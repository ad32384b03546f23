// Package session holds the single active login of a facevault process.
//
// A Session is either Unauthenticated or Authenticated(identity, key).
// The field key is derived once at Login and wiped at Logout; every
// operation that needs it runs inside WithKey, which Logout cannot overlap.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/forest6511/facevault/pkg/audit"
	"github.com/forest6511/facevault/pkg/crypto"
)

var (
	// ErrAuthFailed is returned for a wrong passphrase and for an unknown
	// identity alike.
	ErrAuthFailed = errors.New("session: authentication failed")

	ErrNotAuthenticated     = errors.New("session: not authenticated")
	ErrAlreadyAuthenticated = errors.New("session: already authenticated")
	ErrUnknownIdentity      = errors.New("session: unknown identity")
	ErrCooldownActive       = errors.New("session: cooldown period active")
)

// State of a Session.
type State int

const (
	Unauthenticated State = iota
	Authenticated
)

// String returns a human-readable representation of the state
func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Credentials is what Login needs to know about an identity.
type Credentials struct {
	ID          int64
	Salt        []byte // clear KDF salt
	DisplayName []byte // display name sealed under the identity's key
}

// IdentitySource looks up stored credentials. It returns an error matching
// ErrUnknownIdentity when id is not registered.
type IdentitySource interface {
	LookupIdentity(ctx context.Context, id int64) (*Credentials, error)
}

// Recorder appends an audit event for a principal. It is called while the
// Session lock is held and must not call back into the Session.
type Recorder interface {
	RecordEvent(ctx context.Context, p Principal, detail string) error
}

// Principal is the authenticated identity and its key, valid only for the
// duration of a WithKey callback. Callers must not retain Key.
type Principal struct {
	IdentityID int64
	SessionID  string
	Key        []byte
}

// Actor returns the audit actor for p.
func (p Principal) Actor() audit.Actor {
	return audit.Actor{ID: p.IdentityID, SessionID: p.SessionID}
}

// Session is the login state machine.
type Session struct {
	source   IdentitySource
	recorder Recorder
	locks    LockStateStore
	log      *zap.Logger
	now      func() time.Time

	// logoutBackoff and retryable drive retries of the logout event.
	logoutBackoff func() retry.Backoff
	retryable     func(error) bool

	mu          sync.RWMutex
	principal   *Principal
	displayName string
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithLockState sets where failed login attempts are tracked.
func WithLockState(ls LockStateStore) Option {
	return func(s *Session) {
		if ls != nil {
			s.locks = ls
		}
	}
}

// WithClock overrides the time source used for cooldowns.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithLogoutRetry retries recording the logout event, while the key is
// still held, for errors retryable accepts. newBackoff is called once per
// Logout.
func WithLogoutRetry(newBackoff func() retry.Backoff, retryable func(error) bool) Option {
	return func(s *Session) {
		s.logoutBackoff = newBackoff
		s.retryable = retryable
	}
}

// New returns an Unauthenticated Session.
func New(source IdentitySource, recorder Recorder, opts ...Option) *Session {
	s := &Session{
		source:   source,
		recorder: recorder,
		locks:    NewMemoryLockState(),
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.principal == nil {
		return Unauthenticated
	}
	return Authenticated
}

// IdentityID returns the authenticated identity, or false.
func (s *Session) IdentityID() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.principal == nil {
		return 0, false
	}
	return s.principal.IdentityID, true
}

// DisplayName returns the decrypted display name of the logged-in identity.
func (s *Session) DisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayName
}

// Login derives the identity's key from passphrase and proves it by
// opening the stored display name. On success the Session becomes
// Authenticated and a Login event is recorded under the new key. Any
// failure leaves the Session Unauthenticated and records nothing.
func (s *Session) Login(ctx context.Context, identityID int64, passphrase string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.principal != nil {
		return "", ErrAlreadyAuthenticated
	}

	if remaining, err := s.checkCooldown(); err != nil {
		if errors.Is(err, ErrCooldownActive) {
			return "", fmt.Errorf("%w: please wait %v", ErrCooldownActive, remaining.Round(time.Second))
		}
		return "", err
	}

	creds, err := s.source.LookupIdentity(ctx, identityID)
	if err != nil && !errors.Is(err, ErrUnknownIdentity) {
		return "", err
	}

	var salt, sealedName []byte
	if creds != nil {
		salt, sealedName = creds.Salt, creds.DisplayName
	} else {
		// Spend the same KDF time for unknown ids.
		salt = make([]byte, crypto.SaltLength)
		_, _ = rand.Read(salt)
	}

	key := crypto.DeriveKey([]byte(passphrase), salt)
	name, err := crypto.DecryptField(key, sealedName)
	if creds == nil || err != nil {
		crypto.SecureWipe(key)
		return "", s.failLogin()
	}

	p := &Principal{
		IdentityID: identityID,
		SessionID:  uuid.NewString(),
		Key:        key,
	}
	if err := s.recorder.RecordEvent(ctx, *p, audit.OpLogin); err != nil {
		crypto.SecureWipe(key)
		return "", fmt.Errorf("session: failed to record login: %w", err)
	}

	s.principal = p
	s.displayName = name
	if err := s.locks.Clear(); err != nil {
		s.log.Warn("failed to clear lock state", zap.Error(err))
	}
	s.log.Info("login", zap.Int64("identity", identityID), zap.String("session", p.SessionID))
	return name, nil
}

// failLogin counts a failed attempt and returns the error for the caller.
func (s *Session) failLogin() error {
	cooldown, err := s.recordFailedAttempt()
	if err != nil {
		s.log.Warn("failed to record login attempt", zap.Error(err))
	}
	s.log.Info("login failed")
	if cooldown > 0 {
		return fmt.Errorf("%w: cooldown activated for %v", ErrAuthFailed, cooldown.Round(time.Second))
	}
	return ErrAuthFailed
}

// Logout records a Logout event with the current key, then wipes the key.
// The key is discarded even when recording fails; that error is returned.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.principal == nil {
		return ErrNotAuthenticated
	}

	p := s.principal
	recErr := s.recordLogout(ctx, *p)

	crypto.SecureWipe(p.Key)
	p.Key = nil
	s.principal = nil
	s.displayName = ""

	s.log.Info("logout", zap.Int64("identity", p.IdentityID), zap.String("session", p.SessionID))
	if recErr != nil {
		return fmt.Errorf("session: failed to record logout: %w", recErr)
	}
	return nil
}

func (s *Session) recordLogout(ctx context.Context, p Principal) error {
	if s.logoutBackoff == nil || s.retryable == nil {
		return s.recorder.RecordEvent(ctx, p, audit.OpLogout)
	}
	return retry.Do(ctx, s.logoutBackoff(), func(ctx context.Context) error {
		err := s.recorder.RecordEvent(ctx, p, audit.OpLogout)
		if err != nil && s.retryable(err) {
			s.log.Debug("logout event not recorded, retrying", zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
}

// WithKey runs fn with the authenticated principal. It fails fast with
// ErrNotAuthenticated when nobody is logged in. Logout waits for running
// callbacks, so the key stays valid for the whole call.
func (s *Session) WithKey(fn func(Principal) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.principal == nil {
		return ErrNotAuthenticated
	}
	return fn(*s.principal)
}
