// GORM-backed Store for deployments that want sessions to survive process
// restarts without running a shared key-value service. Rows map through
// domain.SessionRow; time arithmetic uses unix millis so expiry queries stay
// driver-agnostic.
package session

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/somdiproy/smartcode-review/internal/domain"
)

// SQLiteStore persists sessions in a relational table. Safe for concurrent
// use; GORM serializes access through its connection pool.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore wraps an opened GORM handle. The sessions table must be
// migrated (repo.AutoMigrate).
func NewSQLiteStore(db *gorm.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Put upserts a session row keyed by ID.
func (s *SQLiteStore) Put(ctx context.Context, sess *domain.Session) error {
	row := toRow(sess)
	return s.db.WithContext(ctx).Save(&row).Error
}

// Get returns the session with the given id, or ErrNoSession.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	var row domain.SessionRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	return fromRow(&row), nil
}

// GetByToken returns the session owning token, or ErrNoSession.
func (s *SQLiteStore) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	var row domain.SessionRow
	err := s.db.WithContext(ctx).First(&row, "token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	return fromRow(&row), nil
}

// FindActiveByEmail returns a verified, unexpired session for email.
func (s *SQLiteStore) FindActiveByEmail(ctx context.Context, email string, now time.Time, sessionTTL time.Duration) (*domain.Session, error) {
	cutoff := now.Add(-sessionTTL).UnixMilli()
	var row domain.SessionRow
	err := s.db.WithContext(ctx).
		Where("verified = ? AND email = ? COLLATE NOCASE AND verified_at >= ?", true, email, cutoff).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	return fromRow(&row), nil
}

// Delete removes the row; missing ids are not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&domain.SessionRow{}, "id = ?", id).Error
}

// DeleteExpired removes pending rows older than otpTTL and verified rows
// older than sessionTTL.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time, otpTTL, sessionTTL time.Duration) (int, error) {
	otpCutoff := now.Add(-otpTTL).UnixMilli()
	sessCutoff := now.Add(-sessionTTL).UnixMilli()
	res := s.db.WithContext(ctx).
		Where("(verified = ? AND created_at < ?) OR (verified = ? AND verified_at < ?)",
			false, otpCutoff, true, sessCutoff).
		Delete(&domain.SessionRow{})
	return int(res.RowsAffected), res.Error
}

func toRow(s *domain.Session) domain.SessionRow {
	row := domain.SessionRow{
		ID:          s.ID,
		Token:       s.Token,
		Email:       s.Email,
		Name:        s.Name,
		OTP:         s.OTP,
		OTPAttempts: s.OTPAttempts,
		Verified:    s.Verified,
		CreatedAt:   s.CreatedAt.UnixMilli(),
	}
	if !s.VerifiedAt.IsZero() {
		row.VerifiedAt = s.VerifiedAt.UnixMilli()
	}
	return row
}

func fromRow(r *domain.SessionRow) *domain.Session {
	s := &domain.Session{
		ID:          r.ID,
		Token:       r.Token,
		Email:       r.Email,
		Name:        r.Name,
		OTP:         r.OTP,
		OTPAttempts: r.OTPAttempts,
		Verified:    r.Verified,
		CreatedAt:   time.UnixMilli(r.CreatedAt),
	}
	if r.VerifiedAt > 0 {
		s.VerifiedAt = time.UnixMilli(r.VerifiedAt)
	}
	return s
}
