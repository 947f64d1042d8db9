package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/somdiproy/smartcode-review/internal/domain"
)

// SQLiteStore is the relational status backend for single-instance
// deployments. The terminal guard is a conditional upsert: the ON CONFLICT
// update carries a WHERE clause excluding terminal rows, evaluated inside
// the database.
type SQLiteStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSQLiteStore wraps an opened GORM handle. The analysis_results table
// must be migrated (repo.AutoMigrate).
func NewSQLiteStore(db *gorm.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Save upserts the record unless the stored row is terminal.
func (s *SQLiteStore) Save(ctx context.Context, rec *domain.StatusRecord) error {
	Stamp(rec, s.now())

	row := domain.AnalysisRow{
		AnalysisID: rec.AnalysisID,
		Status:     string(rec.Status),
		Message:    rec.Message,
		Progress:   rec.Progress,
		Timestamp:  rec.Timestamp,
		TTL:        rec.TTL,
	}
	if rec.Result != nil {
		b, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("%w: marshal result: %v", ErrPersistence, err)
		}
		row.ResultJSON = string(b)
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "analysis_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "message", "result_json", "progress", "timestamp", "ttl",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{
				SQL:  "analysis_results.status NOT IN (?, ?)",
				Vars: []any{string(domain.StatusCompleted), string(domain.StatusFailed)},
			},
		}},
	}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("%w: upsert: %v", ErrPersistence, res.Error)
	}
	// A conflicting row that the WHERE clause excluded leaves zero rows
	// affected: the stored record was terminal.
	if res.RowsAffected == 0 {
		return ErrTerminal
	}
	return nil
}

// Get reads the record for id, treating TTL-expired rows as missing.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.StatusRecord, error) {
	var row domain.AnalysisRow
	err := s.db.WithContext(ctx).First(&row, "analysis_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select: %v", ErrPersistence, err)
	}
	if row.TTL > 0 && row.TTL <= s.now().Unix() {
		return nil, ErrNotFound
	}

	rec := &domain.StatusRecord{
		AnalysisID: row.AnalysisID,
		Status:     domain.AnalysisStatus(row.Status),
		Message:    row.Message,
		Progress:   row.Progress,
		Timestamp:  row.Timestamp,
		TTL:        row.TTL,
	}
	if row.ResultJSON != "" {
		var res domain.ReviewResult
		if err := json.Unmarshal([]byte(row.ResultJSON), &res); err != nil {
			return nil, fmt.Errorf("%w: unmarshal result: %v", ErrPersistence, err)
		}
		rec.Result = &res
	}
	return rec, nil
}

// Sweep deletes rows whose TTL has passed, returning how many were dropped.
// SQLite has no native TTL reaper, so the owner runs this periodically.
func (s *SQLiteStore) Sweep(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).
		Where("ttl > 0 AND ttl <= ?", s.now().Unix()).
		Delete(&domain.AnalysisRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: sweep: %v", ErrPersistence, res.Error)
	}
	return int(res.RowsAffected), nil
}
