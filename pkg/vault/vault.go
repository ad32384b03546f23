// Package vault stores an identity's notes, web accounts, bank accounts,
// bank cards, contact books and contacts, each free-text field sealed under
// the key of the logged-in session.
//
// All record operations are scoped to the session owner: ids belonging to
// another identity behave exactly like ids that do not exist. Every
// successful create, list, update and delete appends one audit event in the
// same transaction as the data change.
package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/forest6511/facevault/pkg/audit"
	"github.com/forest6511/facevault/pkg/crypto"
	"github.com/forest6511/facevault/pkg/identity"
	"github.com/forest6511/facevault/pkg/session"
	"github.com/forest6511/facevault/pkg/store"
)

// Errors
var (
	ErrNotFound          = errors.New("vault: record not found")
	ErrValidation        = errors.New("vault: validation failed")
	ErrAlreadyEnrolled   = errors.New("vault: face already enrolled")
	ErrPasswordTooShort  = errors.New("vault: password must be at least 8 characters")
	ErrPasswordTooLong   = errors.New("vault: password must be at most 128 characters")
	ErrDisplayNameLength = errors.New("vault: display name too long")
)

// Password validation constants
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// PasswordStrength represents the strength level of a password
type PasswordStrength int

const (
	PasswordWeak PasswordStrength = iota
	PasswordFair
	PasswordGood
	PasswordStrong
)

// String returns a human-readable representation of password strength
func (s PasswordStrength) String() string {
	switch s {
	case PasswordWeak:
		return "weak"
	case PasswordFair:
		return "fair"
	case PasswordGood:
		return "good"
	case PasswordStrong:
		return "strong"
	default:
		return "unknown"
	}
}

// PasswordValidationResult contains the result of passphrase validation
type PasswordValidationResult struct {
	Valid    bool             // Whether the passphrase meets minimum requirements
	Strength PasswordStrength // Estimated strength
	Warnings []string         // Suggestions for improvement (not errors)
}

var (
	upperRe   = regexp.MustCompile(`[A-Z]`)
	lowerRe   = regexp.MustCompile(`[a-z]`)
	digitRe   = regexp.MustCompile(`\d`)
	specialRe = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>\-_=+\[\]\\;'~/\x60]`)
)

// ValidateMasterPassword checks a registration passphrase. Length limits
// are hard requirements; complexity only produces warnings.
func ValidateMasterPassword(password string) *PasswordValidationResult {
	result := &PasswordValidationResult{
		Valid:    true,
		Strength: PasswordFair,
	}

	if len(password) < MinPasswordLength {
		result.Valid = false
		result.Strength = PasswordWeak
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
		return result
	}
	if len(password) > MaxPasswordLength {
		result.Valid = false
		result.Strength = PasswordWeak
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Password must be at most %d characters", MaxPasswordLength))
		return result
	}

	complexity := 0
	for _, re := range []*regexp.Regexp{upperRe, lowerRe, digitRe, specialRe} {
		if re.MatchString(password) {
			complexity++
		}
	}

	if complexity < 2 {
		result.Warnings = append(result.Warnings,
			"Consider using a mix of uppercase, lowercase, numbers, and symbols")
	}
	if len(password) < 12 {
		result.Warnings = append(result.Warnings,
			"Longer passwords (12+ characters) are more secure")
	}

	switch {
	case complexity >= 3 && len(password) >= 16:
		result.Strength = PasswordStrong
	case complexity >= 2 && len(password) >= 12:
		result.Strength = PasswordGood
	case complexity >= 2 || len(password) >= 12:
		result.Strength = PasswordFair
	default:
		result.Strength = PasswordWeak
	}

	return result
}

// Vault is the repository for one store and its single Session.
type Vault struct {
	store   *store.Store
	session *session.Session
	audit   *audit.Logger
	matcher *identity.Matcher
	log     *zap.Logger
	now     func() time.Time

	sessionOpts []session.Option
}

// Option configures a Vault.
type Option func(*Vault)

// WithLogger sets the logger for the vault, its session and audit trail.
func WithLogger(l *zap.Logger) Option {
	return func(v *Vault) {
		if l != nil {
			v.log = l
		}
	}
}

// WithMatcher overrides the biometric matcher.
func WithMatcher(m *identity.Matcher) Option {
	return func(v *Vault) {
		if m != nil {
			v.matcher = m
		}
	}
}

// WithClock overrides the time source for note and audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// WithSessionOptions passes options through to the Session.
func WithSessionOptions(opts ...session.Option) Option {
	return func(v *Vault) { v.sessionOpts = append(v.sessionOpts, opts...) }
}

// New returns a Vault over st with an Unauthenticated session.
func New(st *store.Store, opts ...Option) *Vault {
	v := &Vault{
		store:   st,
		matcher: identity.DefaultMatcher(),
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}

	v.audit = audit.NewLogger(audit.WithClock(v.now), audit.WithZap(v.log.Named("audit")))
	sopts := append([]session.Option{session.WithLogger(v.log.Named("session"))}, v.sessionOpts...)
	v.session = session.New(v, v, sopts...)
	return v
}

// Session returns the vault's session.
func (v *Vault) Session() *session.Session {
	return v.session
}

// Store returns the underlying store.
func (v *Vault) Store() *store.Store {
	return v.store
}

// Matcher returns the biometric matcher in use.
func (v *Vault) Matcher() *identity.Matcher {
	return v.matcher
}

// Login authenticates identityID with passphrase. See session.Session.Login.
func (v *Vault) Login(ctx context.Context, identityID int64, passphrase string) (string, error) {
	return v.session.Login(ctx, identityID, passphrase)
}

// Logout ends the current session.
func (v *Vault) Logout(ctx context.Context) error {
	return v.session.Logout(ctx)
}

// Registration is the input to Register.
type Registration struct {
	DisplayName string
	Passphrase  string
	Encoding    identity.Embedding
}

// MaxDisplayNameLength bounds Registration.DisplayName.
const MaxDisplayNameLength = 128

// Register enrolls a new identity and returns its id. The display name is
// sealed under the key derived from the passphrase; the encoding and salt
// are stored in clear. A face that already matches an enrolled identity is
// refused so identification stays unambiguous.
func (v *Vault) Register(ctx context.Context, r Registration) (int64, error) {
	name := strings.TrimSpace(r.DisplayName)
	if name == "" {
		return 0, newValidationError("display_name", "is required")
	}
	if len(name) > MaxDisplayNameLength {
		return 0, &ValidationError{Field: "display_name", Reason: "is too long", Err: ErrDisplayNameLength}
	}
	if pv := ValidateMasterPassword(r.Passphrase); !pv.Valid {
		cause := ErrPasswordTooShort
		if len(r.Passphrase) > MaxPasswordLength {
			cause = ErrPasswordTooLong
		}
		return 0, &ValidationError{Field: "passphrase", Reason: pv.Warnings[0], Err: cause}
	}
	if err := v.matcher.CheckDimension(r.Encoding); err != nil {
		return 0, &ValidationError{Field: "encoding", Reason: err.Error(), Err: err}
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return 0, err
	}
	key := crypto.DeriveKey([]byte(r.Passphrase), salt)
	defer crypto.SecureWipe(key)

	sealedName, err := crypto.EncryptField(key, name)
	if err != nil {
		return 0, fmt.Errorf("vault: failed to encrypt display name: %w", err)
	}

	var id int64
	err = v.store.Do(ctx, func(ctx context.Context, tx store.DBTX) error {
		enrolled, err := loadEnrollments(ctx, tx)
		if err != nil {
			return err
		}
		res, err := v.matcher.Match(r.Encoding, enrolled)
		if err != nil {
			return err
		}
		if res.Matched {
			return ErrAlreadyEnrolled
		}

		result, err := tx.ExecContext(ctx,
			"INSERT INTO users(username, kdf_salt, encoding) VALUES(?, ?, ?)",
			sealedName, salt, identity.EncodeEmbedding(r.Encoding))
		if err != nil {
			return fmt.Errorf("vault: failed to insert identity: %w", err)
		}
		id, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}

	v.log.Info("identity registered", zap.Int64("identity", id))
	return id, nil
}

// Enrollments returns every (id, encoding) pair in enrollment order.
func (v *Vault) Enrollments(ctx context.Context) ([]identity.Enrollment, error) {
	var out []identity.Enrollment
	err := v.store.Do(ctx, func(ctx context.Context, tx store.DBTX) error {
		var err error
		out, err = loadEnrollments(ctx, tx)
		return err
	})
	return out, err
}

func loadEnrollments(ctx context.Context, tx store.DBTX) ([]identity.Enrollment, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id_user, encoding FROM users ORDER BY id_user")
	if err != nil {
		return nil, fmt.Errorf("vault: failed to query identities: %w", err)
	}
	defer rows.Close()

	var out []identity.Enrollment
	for rows.Next() {
		var id int64
		var enc []byte
		if err := rows.Scan(&id, &enc); err != nil {
			return nil, fmt.Errorf("vault: failed to scan identity: %w", err)
		}
		e, err := identity.DecodeEmbedding(enc)
		if err != nil {
			return nil, fmt.Errorf("vault: identity %d: %w", id, err)
		}
		out = append(out, identity.Enrollment{ID: id, Encoding: e})
	}
	return out, rows.Err()
}

// Identify matches probe against every enrolled identity.
func (v *Vault) Identify(ctx context.Context, probe identity.Embedding) (identity.Result, error) {
	enrolled, err := v.Enrollments(ctx)
	if err != nil {
		return identity.Result{}, err
	}
	return v.matcher.Match(probe, enrolled)
}

// Recognize runs the matcher over a capture stream. Enrollments are read
// once before the loop; no store access happens while waiting for frames.
func (v *Vault) Recognize(ctx context.Context, samples <-chan identity.Sample, opts ...identity.RecognizeOption) (identity.Result, error) {
	enrolled, err := v.Enrollments(ctx)
	if err != nil {
		return identity.Result{}, err
	}
	return v.matcher.Recognize(ctx, samples, enrolled, opts...)
}

// LookupIdentity implements session.IdentitySource.
func (v *Vault) LookupIdentity(ctx context.Context, id int64) (*session.Credentials, error) {
	creds := &session.Credentials{ID: id}
	err := v.store.Do(ctx, func(ctx context.Context, tx store.DBTX) error {
		err := tx.QueryRowContext(ctx,
			"SELECT kdf_salt, username FROM users WHERE id_user = ?", id).
			Scan(&creds.Salt, &creds.DisplayName)
		if errors.Is(err, sql.ErrNoRows) {
			return session.ErrUnknownIdentity
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return creds, nil
}

// RecordEvent implements session.Recorder.
func (v *Vault) RecordEvent(ctx context.Context, p session.Principal, detail string) error {
	return v.store.Do(ctx, func(ctx context.Context, tx store.DBTX) error {
		return v.audit.Record(ctx, tx, p.Actor(), p.Key, detail)
	})
}

// authorized runs fn in one transaction with the session principal. It
// fails fast with session.ErrNotAuthenticated, before touching the store.
func (v *Vault) authorized(ctx context.Context, fn func(ctx context.Context, tx store.DBTX, p session.Principal) error) error {
	return v.session.WithKey(func(p session.Principal) error {
		return v.store.Do(ctx, func(ctx context.Context, tx store.DBTX) error {
			return fn(ctx, tx, p)
		})
	})
}

// record appends an audit event inside the caller's transaction.
func (v *Vault) record(ctx context.Context, tx store.DBTX, p session.Principal, detail string) error {
	return v.audit.Record(ctx, tx, p.Actor(), p.Key, detail)
}

// AuditLog returns the session owner's audit trail, newest last. Rows that
// fail to decrypt carry a per-entry error. The listing itself is audited
// after the rows are read.
func (v *Vault) AuditLog(ctx context.Context) ([]audit.Entry, error) {
	var entries []audit.Entry
	err := v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		var err error
		entries, err = v.audit.List(ctx, tx, p.IdentityID, p.Key)
		if err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.OpAuditList)
	})
	return entries, err
}

// VerifyAudit checks the HMAC chain of the session owner's events.
func (v *Vault) VerifyAudit(ctx context.Context) (*audit.VerifyResult, error) {
	var result *audit.VerifyResult
	err := v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		var err error
		result, err = v.audit.Verify(ctx, tx, p.IdentityID, p.Key)
		return err
	})
	return result, err
}

// ExportAudit formats the session owner's events between since and until
// (zero bounds are open) as json or csv. The export itself is audited.
func (v *Vault) ExportAudit(ctx context.Context, since, until time.Time, format string) ([]byte, error) {
	var out []byte
	err := v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		entries, err := v.audit.List(ctx, tx, p.IdentityID, p.Key)
		if err != nil {
			return err
		}
		out, err = audit.Export(audit.Filter(entries, since, until), format)
		if err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.OpAuditExport)
	})
	return out, err
}

// fieldSealer encrypts a sequence of fields, keeping the first error.
type fieldSealer struct {
	key []byte
	err error
}

func (s *fieldSealer) seal(v string) []byte {
	if s.err != nil {
		return nil
	}
	b, err := crypto.EncryptField(s.key, v)
	if err != nil {
		s.err = fmt.Errorf("vault: failed to encrypt field: %w", err)
	}
	return b
}

// fieldOpener decrypts a sequence of fields, keeping the first error.
type fieldOpener struct {
	key []byte
	err error
}

func (o *fieldOpener) open(b []byte) string {
	if o.err != nil {
		return ""
	}
	s, err := crypto.DecryptField(o.key, b)
	if err != nil {
		o.err = err
	}
	return s
}

// rowError names the record whose ciphertext could not be opened.
func rowError(kind string, id int64, err error) error {
	return fmt.Errorf("vault: %s %d: %w", kind, id, err)
}

// expectOne maps zero affected rows to ErrNotFound.
func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
