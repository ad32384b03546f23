package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/forest6511/facevault/internal/config"
	"github.com/forest6511/facevault/internal/logging"
	"github.com/forest6511/facevault/pkg/identity"
	"github.com/forest6511/facevault/pkg/session"
	"github.com/forest6511/facevault/pkg/store"
	"github.com/forest6511/facevault/pkg/vault"
)

const (
	storeRetries   = 3
	storeRetryBase = 100 * time.Millisecond

	maskedValue = "********"
)

var (
	configPath  string
	probePath   string
	capturePath string
	showSecrets bool

	cfg    *config.Config
	logger = zap.NewNop()
	v      *vault.Vault

	// input is shared by every prompt of one command run so lines buffered
	// by an earlier read are not lost.
	input *bufio.Reader
)

var (
	errWrongPassphrase = errors.New("wrong passphrase, retry")
	errProbeRequired   = errors.New("--probe or --capture is required: pass the face embedding file for this run")
)

// standaloneCommands run without loading config or opening the vault.
var standaloneCommands = map[string]bool{
	"generate":   true,
	"completion": true,
	"help":       true,

	cobra.ShellCompRequestCmd:       true,
	cobra.ShellCompNoDescRequestCmd: true,
}

var rootCmd = &cobra.Command{
	Use:   "facevault",
	Short: "facevault is a face-identified personal vault",
	Long: `A personal vault for notes, web logins, bank accounts, cards and contacts.

Each command identifies you from a face embedding (--probe), asks for your
passphrase, runs, and locks the vault again. Every field is encrypted with
a key derived from your passphrase and every access is recorded in a
tamper-evident audit log.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		input = bufio.NewReader(cmd.InOrStdin())
		if standaloneCommands[cmd.Name()] {
			return nil
		}
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.facevault/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&probePath, "probe", "", "Face embedding file (YAML) captured for this run")
	rootCmd.PersistentFlags().StringVar(&capturePath, "capture", "", "Recorded capture (YAML frames of face embeddings), used instead of --probe")
	rootCmd.MarkFlagsMutuallyExclusive("probe", "capture")
}

// setup loads the config and builds the logger and vault.
func setup() error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err = logging.New(cfg.Log)
	if err != nil {
		return err
	}

	m, err := cfg.Matcher()
	if err != nil {
		return err
	}

	v = vault.New(cfg.Store(store.WithLogger(logger)),
		vault.WithLogger(logger),
		vault.WithMatcher(m),
		vault.WithSessionOptions(
			session.WithLogger(logger),
			session.WithLockState(session.NewFileLockState(cfg.LockStatePath())),
			session.WithLogoutRetry(storeBackoff, isUnavailable),
		),
	)
	return nil
}

// withRetry runs fn, retrying with exponential backoff while the store is
// unavailable. Other errors are returned at once.
func withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := call(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// call is withRetry for operations that return a value.
func call[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.DoValue(ctx, storeBackoff(), func(ctx context.Context) (T, error) {
		out, err := fn(ctx)
		if isUnavailable(err) {
			logger.Debug("store unavailable, retrying", zap.Error(err))
			return out, retry.RetryableError(err)
		}
		return out, err
	})
}

func storeBackoff() retry.Backoff {
	return retry.WithMaxRetries(storeRetries, retry.NewExponential(storeRetryBase))
}

func isUnavailable(err error) bool {
	return errors.Is(err, store.ErrUnavailable)
}

func loadProbe() (identity.Embedding, error) {
	if probePath == "" {
		return nil, errProbeRequired
	}
	return identity.LoadEmbeddingFile(probePath)
}

// identify matches the --probe embedding, or the faces of a --capture,
// against every enrolled face.
func identify(ctx context.Context) (identity.Result, error) {
	if capturePath != "" {
		samples, err := identity.LoadCaptureFile(capturePath)
		if err != nil {
			return identity.Result{}, err
		}
		return call(ctx, func(ctx context.Context) (identity.Result, error) {
			return recognize(ctx, samples)
		})
	}

	probe, err := loadProbe()
	if err != nil {
		return identity.Result{}, err
	}
	return call(ctx, func(ctx context.Context) (identity.Result, error) {
		return v.Identify(ctx, probe)
	})
}

// recognize replays recorded frames into the recognition loop, honouring
// match.frame_stride.
func recognize(ctx context.Context, samples []identity.Sample) (identity.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan identity.Sample)
	go func() {
		defer close(frames)
		for _, s := range samples {
			select {
			case frames <- s:
			case <-ctx.Done():
				return
			}
		}
	}()
	return v.Recognize(ctx, frames, identity.WithFrameStride(cfg.Match.FrameStride))
}

// withSession identifies the face, prompts for the passphrase, logs in,
// runs fn and logs out again. The session key is wiped even when fn or the
// logout event fails.
func withSession(cmd *cobra.Command, fn func(ctx context.Context) error) error {
	ctx := cmd.Context()

	res, err := identify(ctx)
	if err != nil {
		return err
	}
	if !res.Matched {
		return fmt.Errorf("face not recognized: %w", identity.ErrNoMatch)
	}

	pass, err := readSecret(cmd, "Enter passphrase: ")
	if err != nil {
		return err
	}

	name, err := call(ctx, func(ctx context.Context) (string, error) {
		return v.Login(ctx, res.ID, pass)
	})
	switch {
	case errors.Is(err, session.ErrCooldownActive):
		return fmt.Errorf("too many failed attempts, try again in %s",
			v.Session().RemainingCooldown().Round(time.Second))
	case errors.Is(err, session.ErrAuthFailed):
		return errWrongPassphrase
	case err != nil:
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Welcome, %s\n", name)

	// Logout retries its own event while it still holds the key.
	defer func() {
		if err := v.Logout(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("logout event not recorded", zap.Error(err))
		}
	}()
	return fn(ctx)
}

// readSecret prompts without echo on a terminal and falls back to reading
// a line when input is piped.
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && isTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase: %w", err)
		}
		return string(b), nil
	}
	return readLine(cmd)
}

// readLine reads a single line from the command input.
func readLine(cmd *cobra.Command) (string, error) {
	if input == nil {
		input = bufio.NewReader(cmd.InOrStdin())
	}
	line, err := input.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	value := strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(value, "\r"), nil
}

// readContent returns value, or the rest of the input when value is "-".
func readContent(cmd *cobra.Command, value string) (string, error) {
	if value != "-" {
		return value, nil
	}
	if input == nil {
		input = bufio.NewReader(cmd.InOrStdin())
	}
	data, err := io.ReadAll(input)
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func isTerminal(fd int) bool {
	return term.IsTerminal(fd)
}

// parseID parses a positive record id argument.
func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: must be a positive integer", s)
	}
	return id, nil
}

// mask hides a secret unless --show-secrets was given.
func mask(s string) string {
	if showSecrets || s == "" {
		return s
	}
	return maskedValue
}

// parseDuration parses durations like "24h", "7d", "4w", "12m" (months), "1y"
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", valueStr)
	}

	switch unit {
	case 'h':
		return time.Duration(value) * time.Hour, nil
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(value) * 30 * 24 * time.Hour, nil
	case 'y':
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return time.ParseDuration(s)
	}
}
