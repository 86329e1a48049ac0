package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/face-attendance/internal/logging"
	"github.com/example/face-attendance/internal/repository"
)

// AttendanceSummary aggregates one subject's attendance for one day.
type AttendanceSummary struct {
	SubjectID      uint    `json:"subject_id"`
	SubjectName    string  `json:"subject_name"`
	Date           string  `json:"date"`
	Enrolled       int64   `json:"enrolled"`
	Present        int64   `json:"present"`
	Absent         int64   `json:"absent"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// SubjectView is a subject a recognition can be scoped to.
type SubjectView struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// ListSubjects returns every subject callers may pass as a recognition scope.
func (uc *RecognitionUseCase) ListSubjects(ctx context.Context) ([]SubjectView, error) {
	subjects, err := uc.people.ListSubjects(ctx)
	if err != nil {
		return nil, storageError("usecase.list_subjects", logging.RequestID(ctx), err)
	}
	views := make([]SubjectView, 0, len(subjects))
	for _, s := range subjects {
		views = append(views, SubjectView{ID: s.ID, Name: s.Name})
	}
	return views, nil
}

// GetAttendanceSummary counts enrolled and present people for subjectID on date.
// People without a row for the day count as absent.
func (uc *RecognitionUseCase) GetAttendanceSummary(ctx context.Context, subjectID uint, date time.Time) (*AttendanceSummary, error) {
	if subjectID == 0 {
		return nil, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}

	subject, err := uc.people.FindSubject(ctx, subjectID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrSubjectNotFound, subjectID)
	}
	if err != nil {
		return nil, storageError("usecase.attendance_summary", logging.RequestID(ctx), err)
	}

	day := repository.DateOnly(date, nil)
	enrolled, err := uc.people.CountEnrolled(ctx, subjectID)
	if err != nil {
		return nil, storageError("usecase.attendance_summary", logging.RequestID(ctx), err)
	}
	present, err := uc.attendance.CountByStatus(ctx, subjectID, day, repository.StatusPresent)
	if err != nil {
		return nil, storageError("usecase.attendance_summary", logging.RequestID(ctx), err)
	}

	summary := &AttendanceSummary{
		SubjectID:   subject.ID,
		SubjectName: subject.Name,
		Date:        day.Format(time.DateOnly),
		Enrolled:    enrolled,
		Present:     present,
		Absent:      max(enrolled-present, 0),
	}
	if enrolled > 0 {
		summary.AttendanceRate = float64(present) / float64(enrolled)
	}
	return summary, nil
}

// Today returns the current calendar day in the configured location.
func (uc *RecognitionUseCase) Today() time.Time {
	return repository.DateOnly(uc.opts.Now(), uc.opts.Location)
}
