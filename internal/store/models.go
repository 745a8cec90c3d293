package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB stores a free-form metadata object in a jsonb column. A nil map
// writes SQL NULL.
type JSONB map[string]any

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", value)
	}
}

// BehaviorEvent is the raw client-side event audit row. This is the only
// table the service writes; proctoring_events and violations_summary are
// written by the backend's result consumer to avoid dual-write races.
type BehaviorEvent struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID string    `gorm:"column:session_id;type:uuid"`
	EventType string    `gorm:"column:event_type;size:50"`
	Timestamp time.Time `gorm:"column:timestamp"`
	Metadata  JSONB     `gorm:"column:metadata;type:jsonb"`
}

func (BehaviorEvent) TableName() string { return "behavior_events" }

// User maps the platform users table; read-only, consulted for the stored
// reference photo paths during identity verification.
type User struct {
	ID               string `gorm:"column:id;type:uuid;primaryKey"`
	Name             string `gorm:"column:name"`
	Email            string `gorm:"column:email"`
	Role             string `gorm:"column:role"`
	ProfilePhotoPath string `gorm:"column:profile_photo_path"`
	IDPhotoPath      string `gorm:"column:id_photo_path"`
	IsActive         bool   `gorm:"column:is_active"`
}

func (User) TableName() string { return "users" }

// ExamSession maps the exam_sessions table; read-only.
type ExamSession struct {
	ID               string     `gorm:"column:id;type:uuid;primaryKey"`
	EnrollmentID     string     `gorm:"column:enrollment_id;type:uuid"`
	StartedAt        *time.Time `gorm:"column:started_at"`
	SubmittedAt      *time.Time `gorm:"column:submitted_at"`
	IdentityVerified bool       `gorm:"column:identity_verified"`
	IsSuspended      bool       `gorm:"column:is_suspended"`
}

func (ExamSession) TableName() string { return "exam_sessions" }

// ExamEnrollment maps the exam_enrollments table; read-only, the join point
// between a session and its user.
type ExamEnrollment struct {
	ID     string `gorm:"column:id;type:uuid;primaryKey"`
	ExamID string `gorm:"column:exam_id;type:uuid"`
	UserID string `gorm:"column:user_id;type:uuid"`
	Status string `gorm:"column:status"`
}

func (ExamEnrollment) TableName() string { return "exam_enrollments" }
