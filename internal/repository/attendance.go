package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/face-attendance/internal/logging"
)

// AttendanceMark is the data written for one recognised person.
type AttendanceMark struct {
	PersonID  uint
	SubjectID uint
	Date      time.Time
	Status    AttendanceStatus
	MarkedBy  string
}

// AttendanceRepository writes attendance rows keyed by (person, subject, date).
type AttendanceRepository struct {
	base
}

// NewAttendanceRepository creates a new repository instance.
func NewAttendanceRepository(db *gorm.DB, logger *zap.Logger) *AttendanceRepository {
	return &AttendanceRepository{base: newBase(db, logger, "attendance_repository")}
}

// Upsert creates or updates the row for the mark's key in a single statement, so
// concurrent duplicate submissions converge on one row.
func (r *AttendanceRepository) Upsert(ctx context.Context, mark AttendanceMark) error {
	now := time.Now().UTC()
	row := Attendance{
		PersonID:  mark.PersonID,
		SubjectID: mark.SubjectID,
		Date:      DateOnly(mark.Date, nil),
		Status:    mark.Status,
		MarkedBy:  mark.MarkedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}

	return r.executeWithRetry(ctx, "repository.attendance_upsert", logging.RequestID(ctx), func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "person_id"}, {Name: "subject_id"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "marked_by", "updated_at"}),
		}).Create(&row).Error
	})
}

// CountByStatus returns the number of rows with status for subjectID on date.
func (r *AttendanceRepository) CountByStatus(ctx context.Context, subjectID uint, date time.Time, status AttendanceStatus) (int64, error) {
	var count int64
	err := r.executeWithRetry(ctx, "repository.attendance_count", logging.RequestID(ctx), func() error {
		return r.db.WithContext(ctx).
			Model(&Attendance{}).
			Where("subject_id = ? AND date = ? AND status = ?", subjectID, DateOnly(date, nil), status).
			Count(&count).Error
	})
	return count, err
}
