// The Gate: session issue, OTP verification, token validation, expiry.
//
// One canonical state machine replaces the two divergent services in the
// legacy system: a session is CREATED (pending, OTP outstanding), becomes
// VERIFIED on a correct code, and is EXPIRED by TTL or explicit end. The
// timing policy is fixed: the OTP window is 10 minutes from creation, the
// session window is 7 minutes measured from verification (the age counter
// resets when the token is issued), and the cleanup janitor runs every
// 5 minutes.
package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/somdiproy/smartcode-review/internal/domain"
	"github.com/somdiproy/smartcode-review/internal/notify"
)

// Canonical timing policy.
const (
	DefaultOTPTTL          = 10 * time.Minute
	DefaultSessionTTL      = 7 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
	DefaultMaxOTPAttempts  = 3
)

var emailRE = regexp.MustCompile(`^[A-Za-z0-9+_.\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

// Config tunes a Gate. Zero fields take the package defaults.
type Config struct {
	OTPTTL          time.Duration
	SessionTTL      time.Duration
	CleanupInterval time.Duration
	MaxOTPAttempts  int
}

func (c Config) withDefaults() Config {
	if c.OTPTTL <= 0 {
		c.OTPTTL = DefaultOTPTTL
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.MaxOTPAttempts <= 0 {
		c.MaxOTPAttempts = DefaultMaxOTPAttempts
	}
	return c
}

// Gate owns the session lifecycle. All lookups are local to the injected
// Store; the only external I/O is the one-shot OTP dispatch at creation.
type Gate struct {
	store  Store
	sender notify.Sender
	cfg    Config

	stop chan struct{}
	now  func() time.Time
}

// NewGate constructs a Gate and starts its cleanup janitor. Call Close when
// the gate is no longer needed.
func NewGate(store Store, sender notify.Sender, cfg Config) *Gate {
	g := &Gate{
		store:  store,
		sender: sender,
		cfg:    cfg.withDefaults(),
		stop:   make(chan struct{}),
		now:    time.Now,
	}
	go g.janitor()
	return g
}

// CreateSession validates the email, refuses a duplicate active session for
// the same address (returning the existing session alongside
// ErrActiveSessionExists), stores a pending session with a freshly
// generated 6-digit OTP, and dispatches the code through the notification
// channel. A rejected dispatch evicts the pending session and surfaces
// notify.ErrDelivery so the caller can request a new session.
func (g *Gate) CreateSession(ctx context.Context, email, name string) (*domain.Session, error) {
	email = strings.TrimSpace(email)
	if !emailRE.MatchString(email) {
		return nil, ErrInvalidEmail
	}

	if existing, err := g.store.FindActiveByEmail(ctx, email, g.now(), g.cfg.SessionTTL); err == nil {
		return existing, ErrActiveSessionExists
	}

	otp, err := generateOTP()
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}
	s := &domain.Session{
		ID:        "session_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Email:     email,
		Name:      strings.TrimSpace(name),
		OTP:       otp,
		CreatedAt: g.now(),
	}
	if err := g.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	if err := g.sender.SendOTP(ctx, s.Email, s.Name, otp); err != nil {
		// No retry here: evict so the caller starts over cleanly.
		_ = g.store.Delete(ctx, s.ID)
		return nil, err
	}

	log.Info().Str("session_id", s.ID).Str("email", MaskEmail(s.Email)).Msg("session created")
	return s, nil
}

// VerifyOTP checks the code against the pending session. On success it
// issues the opaque bearer token, marks the session verified, and resets
// the age counter so the 7-minute window runs from verification. The OTP is
// consumed by promotion: a second verification attempt for the same session
// fails with ErrSessionNotFound.
func (g *Gate) VerifyOTP(ctx context.Context, sessionID, otp string) (*domain.Session, time.Time, error) {
	s, err := g.store.Get(ctx, sessionID)
	if err != nil || s.Verified {
		// A verified session no longer accepts codes; it was consumed.
		return nil, time.Time{}, ErrSessionNotFound
	}

	now := g.now()
	if now.Sub(s.CreatedAt) > g.cfg.OTPTTL {
		_ = g.store.Delete(ctx, s.ID)
		return nil, time.Time{}, ErrOTPExpired
	}

	if s.OTP != otp {
		s.OTPAttempts++
		if s.OTPAttempts >= g.cfg.MaxOTPAttempts {
			_ = g.store.Delete(ctx, s.ID)
			return nil, time.Time{}, ErrTooManyAttempts
		}
		if err := g.store.Put(ctx, s); err != nil {
			return nil, time.Time{}, fmt.Errorf("store session: %w", err)
		}
		return nil, time.Time{}, ErrInvalidOTP
	}

	s.Token = "token_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.Verified = true
	s.VerifiedAt = now
	if err := g.store.Put(ctx, s); err != nil {
		return nil, time.Time{}, fmt.Errorf("store session: %w", err)
	}

	expiresAt := now.Add(g.cfg.SessionTTL)
	log.Info().Str("session_id", s.ID).Str("email", MaskEmail(s.Email)).Msg("session verified")
	return s, expiresAt, nil
}

// IsValid reports whether token belongs to a verified, unexpired session.
// An expired session found during validation is evicted as a side effect.
func (g *Gate) IsValid(ctx context.Context, token string) bool {
	if strings.TrimSpace(token) == "" {
		return false
	}
	s, err := g.store.GetByToken(ctx, token)
	if err != nil || !s.Verified {
		return false
	}
	if s.Age(g.now()) > g.cfg.SessionTTL {
		_ = g.store.Delete(ctx, s.ID)
		return false
	}
	return true
}

// RemainingMinutes returns whole minutes left in the session window,
// floored at zero. Unknown tokens report zero.
func (g *Gate) RemainingMinutes(ctx context.Context, token string) int {
	s, err := g.store.GetByToken(ctx, token)
	if err != nil || !s.Verified {
		return 0
	}
	left := g.cfg.SessionTTL - s.Age(g.now())
	if left <= 0 {
		return 0
	}
	return int(left / time.Minute)
}

// EndSession force-expires the session owning token. Returns false when the
// token is unknown.
func (g *Gate) EndSession(ctx context.Context, token string) bool {
	s, err := g.store.GetByToken(ctx, token)
	if err != nil {
		return false
	}
	if err := g.store.Delete(ctx, s.ID); err != nil {
		return false
	}
	log.Info().Str("session_id", s.ID).Str("email", MaskEmail(s.Email)).Msg("session ended")
	return true
}

// Close stops the cleanup janitor.
func (g *Gate) Close() {
	select {
	case <-g.stop:
	default:
		close(g.stop)
	}
}

func (g *Gate) janitor() {
	t := time.NewTicker(g.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-g.stop:
			return
		case <-t.C:
			n, err := g.store.DeleteExpired(context.Background(), g.now(), g.cfg.OTPTTL, g.cfg.SessionTTL)
			if err != nil {
				log.Warn().Err(err).Msg("session cleanup sweep failed")
			} else if n > 0 {
				log.Debug().Int("dropped", n).Msg("expired sessions cleaned up")
			}
		}
	}
}

// generateOTP draws a 6-digit code from a cryptographically strong source.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// MaskEmail obscures the local part of an address for log output.
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	user, dom := email[:at], email[at:]
	if len(user) <= 2 {
		return user[:1] + "*" + dom
	}
	stars := len(user) - 2
	if stars > 3 {
		stars = 3
	}
	return user[:1] + strings.Repeat("*", stars) + user[len(user)-1:] + dom
}
