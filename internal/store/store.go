// Package store is the service's view of the platform database. The schema
// is owned by the backend; this service only appends behavior_events and
// reads the platform tables, so there is no migration here.
package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	maxIdleConns = 5
	maxOpenConns = 10
)

// Store wraps the shared database connection. Safe for concurrent use.
type Store struct {
	db *gorm.DB
}

// Open connects to PostgreSQL with a silent gorm logger and a small pool.
func Open(databaseURL string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying database: %w", err)
	}
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Store{db: db}, nil
}

// newWithDB wires an existing gorm connection; used by tests.
func newWithDB(db *gorm.DB) *Store {
	return &Store{db: db}
}

// InsertBehaviorEvent appends one raw behavior event row, transactional per
// call. Callers treat failures as best-effort.
func (s *Store) InsertBehaviorEvent(ctx context.Context, event *BehaviorEvent) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("insert behavior event: %w", err)
	}
	return nil
}

// GetUser loads one platform user row; used by identity verification to
// find the stored reference photo path.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &user, nil
}

// GetExamSession loads one exam session row.
func (s *Store) GetExamSession(ctx context.Context, id string) (*ExamSession, error) {
	var session ExamSession
	if err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get exam session %s: %w", id, err)
	}
	return &session, nil
}

// CheckConnection verifies database connectivity for the health endpoint.
func (s *Store) CheckConnection(ctx context.Context) error {
	return s.db.WithContext(ctx).Exec("SELECT 1").Error
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get underlying database: %w", err)
	}
	return sqlDB.Close()
}
