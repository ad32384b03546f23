package session

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/facevault/pkg/audit"
	"github.com/forest6511/facevault/pkg/crypto"
)

type fakeSource struct {
	creds map[int64]*Credentials
	err   error
}

func (f *fakeSource) LookupIdentity(_ context.Context, id int64) (*Credentials, error) {
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.creds[id]
	if !ok {
		return nil, ErrUnknownIdentity
	}
	return c, nil
}

type event struct {
	identity int64
	session  string
	detail   string
	keyOK    bool
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []event
	err    error
	check  []byte // display name blob used to confirm the key

	// failures makes the next calls fail with errStoreBusy.
	failures int
}

var errStoreBusy = errors.New("store busy")

func (f *fakeRecorder) RecordEvent(_ context.Context, p Principal, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.failures > 0 {
		f.failures--
		return errStoreBusy
	}
	_, err := crypto.DecryptField(p.Key, f.check)
	f.events = append(f.events, event{p.IdentityID, p.SessionID, detail, err == nil})
	return nil
}

func (f *fakeRecorder) details() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.detail)
	}
	return out
}

func enroll(t *testing.T, id int64, name, passphrase string) *Credentials {
	t.Helper()
	salt, err := crypto.NewSalt()
	require.NoError(t, err)
	key := crypto.DeriveKey([]byte(passphrase), salt)
	defer crypto.SecureWipe(key)
	blob, err := crypto.EncryptField(key, name)
	require.NoError(t, err)
	return &Credentials{ID: id, Salt: salt, DisplayName: blob}
}

func newTestSession(t *testing.T, opts ...Option) (*Session, *fakeSource, *fakeRecorder) {
	t.Helper()
	alice := enroll(t, 1, "alice", "correcthorse1")
	src := &fakeSource{creds: map[int64]*Credentials{1: alice}}
	rec := &fakeRecorder{check: alice.DisplayName}
	return New(src, rec, opts...), src, rec
}

func TestLoginSuccess(t *testing.T) {
	s, _, rec := newTestSession(t)
	require.Equal(t, Unauthenticated, s.State())

	name, err := s.Login(context.Background(), 1, "correcthorse1")
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
	assert.Equal(t, Authenticated, s.State())
	assert.Equal(t, "alice", s.DisplayName())

	id, ok := s.IdentityID()
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)

	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.OpLogin, rec.events[0].detail)
	assert.True(t, rec.events[0].keyOK, "login event must be recorded under the new key")
	assert.NotEmpty(t, rec.events[0].session)
}

func TestLoginWrongPassphrase(t *testing.T) {
	s, _, rec := newTestSession(t)

	name, err := s.Login(context.Background(), 1, "wrongpass1")
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Empty(t, name)
	assert.Equal(t, Unauthenticated, s.State())
	assert.Empty(t, rec.events, "failed login must not record anything")
}

func TestLoginUnknownIdentityLooksLikeWrongPassphrase(t *testing.T) {
	s, _, rec := newTestSession(t)

	_, err := s.Login(context.Background(), 42, "correcthorse1")
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.NotErrorIs(t, err, ErrUnknownIdentity)
	assert.Empty(t, rec.events)
}

func TestLoginSourceError(t *testing.T) {
	s, src, _ := newTestSession(t)
	unavailable := errors.New("store: unavailable")
	src.err = unavailable

	_, err := s.Login(context.Background(), 1, "correcthorse1")
	assert.ErrorIs(t, err, unavailable)
	assert.NotErrorIs(t, err, ErrAuthFailed)
}

func TestLoginRecorderError(t *testing.T) {
	s, _, rec := newTestSession(t)
	rec.err = errors.New("disk full")

	_, err := s.Login(context.Background(), 1, "correcthorse1")
	assert.Error(t, err)
	assert.Equal(t, Unauthenticated, s.State())
}

func TestLoginTwice(t *testing.T) {
	s, _, _ := newTestSession(t)
	_, err := s.Login(context.Background(), 1, "correcthorse1")
	require.NoError(t, err)

	_, err = s.Login(context.Background(), 1, "correcthorse1")
	assert.ErrorIs(t, err, ErrAlreadyAuthenticated)
}

func TestLogout(t *testing.T) {
	s, _, rec := newTestSession(t)
	_, err := s.Login(context.Background(), 1, "correcthorse1")
	require.NoError(t, err)

	var held []byte
	require.NoError(t, s.WithKey(func(p Principal) error {
		held = p.Key
		return nil
	}))
	require.False(t, bytes.Equal(held, make([]byte, len(held))))

	require.NoError(t, s.Logout(context.Background()))
	assert.Equal(t, Unauthenticated, s.State())
	assert.Empty(t, s.DisplayName())
	assert.Equal(t, []string{audit.OpLogin, audit.OpLogout}, rec.details())
	assert.True(t, rec.events[1].keyOK, "logout must be recorded before the key is wiped")
	assert.Equal(t, make([]byte, len(held)), held, "key material must be zeroed")

	err = s.WithKey(func(Principal) error {
		t.Fatal("callback must not run after logout")
		return nil
	})
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	assert.ErrorIs(t, s.Logout(context.Background()), ErrNotAuthenticated)
}

func TestLogoutRecorderErrorStillWipes(t *testing.T) {
	s, _, rec := newTestSession(t)
	_, err := s.Login(context.Background(), 1, "correcthorse1")
	require.NoError(t, err)

	rec.err = errors.New("disk full")
	assert.Error(t, s.Logout(context.Background()))
	assert.Equal(t, Unauthenticated, s.State())
}

func TestLogoutRetriesRecordingBeforeWipe(t *testing.T) {
	busy := func(err error) bool { return errors.Is(err, errStoreBusy) }
	backoff := func() retry.Backoff {
		return retry.WithMaxRetries(3, retry.NewConstant(time.Millisecond))
	}
	s, _, rec := newTestSession(t, WithLogoutRetry(backoff, busy))
	_, err := s.Login(context.Background(), 1, "correcthorse1")
	require.NoError(t, err)

	rec.failures = 2
	require.NoError(t, s.Logout(context.Background()))
	assert.Equal(t, Unauthenticated, s.State())
	require.Equal(t, []string{audit.OpLogin, audit.OpLogout}, rec.details())
	assert.True(t, rec.events[1].keyOK, "logout must be recorded with the live key")

	// Errors the predicate rejects are not retried.
	_, err = s.Login(context.Background(), 1, "correcthorse1")
	require.NoError(t, err)
	rec.err = errors.New("disk full")
	assert.Error(t, s.Logout(context.Background()))
	assert.Equal(t, Unauthenticated, s.State())
}

func TestLogoutGivesUpAfterRetries(t *testing.T) {
	busy := func(err error) bool { return errors.Is(err, errStoreBusy) }
	backoff := func() retry.Backoff {
		return retry.WithMaxRetries(2, retry.NewConstant(time.Millisecond))
	}
	s, _, rec := newTestSession(t, WithLogoutRetry(backoff, busy))
	_, err := s.Login(context.Background(), 1, "correcthorse1")
	require.NoError(t, err)

	rec.failures = 10
	assert.ErrorIs(t, s.Logout(context.Background()), errStoreBusy)
	assert.Equal(t, Unauthenticated, s.State())
	assert.Equal(t, 7, rec.failures, "one call plus two retries")
}

func TestWithKeyUnauthenticated(t *testing.T) {
	s, _, _ := newTestSession(t)
	err := s.WithKey(func(Principal) error { return nil })
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

// TestLogoutWaitsForInFlightOperation checks that Logout cannot wipe the
// key while a WithKey callback is still using it.
func TestLogoutWaitsForInFlightOperation(t *testing.T) {
	s, _, _ := newTestSession(t)
	_, err := s.Login(context.Background(), 1, "correcthorse1")
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	opDone := make(chan error, 1)
	go func() {
		opDone <- s.WithKey(func(p Principal) error {
			close(entered)
			<-release
			// Key must still be intact here.
			if bytes.Equal(p.Key, make([]byte, len(p.Key))) {
				return errors.New("key wiped during operation")
			}
			return nil
		})
	}()
	<-entered

	logoutDone := make(chan error, 1)
	go func() { logoutDone <- s.Logout(context.Background()) }()

	select {
	case <-logoutDone:
		t.Fatal("logout completed while an operation held the key")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-opDone)
	require.NoError(t, <-logoutDone)
	assert.Equal(t, Unauthenticated, s.State())
}

func TestCooldown(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s, _, _ := newTestSession(t, WithClock(clock))
	ctx := context.Background()

	for i := 1; i < CooldownThreshold1; i++ {
		_, err := s.Login(ctx, 1, "wrongpass1")
		require.ErrorIs(t, err, ErrAuthFailed)
		assert.Zero(t, s.RemainingCooldown())
	}

	_, err := s.Login(ctx, 1, "wrongpass1")
	require.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, CooldownDuration1, s.RemainingCooldown())

	// Even the right passphrase is refused during cooldown.
	_, err = s.Login(ctx, 1, "correcthorse1")
	assert.ErrorIs(t, err, ErrCooldownActive)

	now = now.Add(10 * time.Second)
	assert.Equal(t, CooldownDuration1-10*time.Second, s.RemainingCooldown())

	now = now.Add(CooldownDuration1)
	_, err = s.Login(ctx, 1, "correcthorse1")
	require.NoError(t, err)
	require.NoError(t, s.Logout(ctx))

	// Success resets the counter.
	_, err = s.Login(ctx, 1, "wrongpass1")
	require.ErrorIs(t, err, ErrAuthFailed)
	assert.Zero(t, s.RemainingCooldown())
}

func TestFileLockState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.lock")
	ls := NewFileLockState(path)

	st, err := ls.Load()
	require.NoError(t, err)
	assert.Zero(t, st.FailedAttempts)

	until := time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC)
	require.NoError(t, ls.Save(&LockState{FailedAttempts: 5, CooldownUntil: until}))

	st, err = NewFileLockState(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 5, st.FailedAttempts)
	assert.True(t, st.CooldownUntil.Equal(until))

	require.NoError(t, ls.Clear())
	require.NoError(t, ls.Clear(), "clearing twice is not an error")

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0600))
	st, err = ls.Load()
	require.NoError(t, err)
	assert.Zero(t, st.FailedAttempts)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "authenticated", Authenticated.String())
	assert.Equal(t, "unauthenticated", Unauthenticated.String())
}
