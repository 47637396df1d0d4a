// Package history records one row per job run in a local SQLite database,
// giving the logs action something to show long after the queue is cleaned.
package history

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RunRecord is one runner invocation of one job.
type RunRecord struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	JobID        string `gorm:"size:16;index;not null"`
	User         string `gorm:"size:64;index"`
	Status       string `gorm:"size:16;not null"`
	Trigger      string `gorm:"size:16"` // manual or cron
	StartedAt    time.Time
	FinishedAt   time.Time
	BytesFetched int64
	ResumeTime   *time.Time
	Detail       string `gorm:"type:text"`
	CreatedAt    time.Time
}

// Store wraps the run-history database.
type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) the history database at path. Use ":memory:"
// for tests.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("history: migrate %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Record appends one run record.
func (s *Store) Record(rec *RunRecord) error {
	if err := s.db.Create(rec).Error; err != nil {
		return fmt.Errorf("history: record run of %s: %w", rec.JobID, err)
	}
	return nil
}

// Filters narrows history queries.
type Filters struct {
	JobID string
	User  string
}

// Recent returns the most recent records matching the filters, in
// chronological order.
func (s *Store) Recent(f Filters, limit int) ([]RunRecord, error) {
	var recs []RunRecord
	if err := s.query(f).Order("id DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// After returns records newer than the given ID, oldest first. Used by the
// logs follow mode.
func (s *Store) After(f Filters, lastID uint) ([]RunRecord, error) {
	var recs []RunRecord
	if err := s.query(f).Where("id > ?", lastID).Order("id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	return recs, nil
}

func (s *Store) query(f Filters) *gorm.DB {
	q := s.db.Model(&RunRecord{})
	if f.JobID != "" {
		q = q.Where("job_id = ?", f.JobID)
	}
	if f.User != "" {
		q = q.Where("user = ?", f.User)
	}
	return q
}
