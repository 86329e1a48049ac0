package repository

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-attendance/internal/logging"
)

// PeopleRepository reads people, subjects and enrolments.
type PeopleRepository struct {
	base
}

// NewPeopleRepository creates a new repository instance.
func NewPeopleRepository(db *gorm.DB, logger *zap.Logger) *PeopleRepository {
	return &PeopleRepository{base: newBase(db, logger, "people_repository")}
}

// FindPerson returns the person with id or ErrNotFound.
func (r *PeopleRepository) FindPerson(ctx context.Context, id uint) (*Person, error) {
	var person Person
	err := r.executeWithRetry(ctx, "repository.find_person", logging.RequestID(ctx), func() error {
		return notFound(r.db.WithContext(ctx).First(&person, id).Error)
	})
	if err != nil {
		return nil, err
	}
	return &person, nil
}

// FindPersonByRollNumber returns the person with the given roll number or ErrNotFound.
func (r *PeopleRepository) FindPersonByRollNumber(ctx context.Context, rollNumber string) (*Person, error) {
	var person Person
	err := r.executeWithRetry(ctx, "repository.find_person_by_roll", logging.RequestID(ctx), func() error {
		return notFound(r.db.WithContext(ctx).Where("roll_number = ?", rollNumber).Take(&person).Error)
	})
	if err != nil {
		return nil, err
	}
	return &person, nil
}

// FindSubject returns the subject with id or ErrNotFound.
func (r *PeopleRepository) FindSubject(ctx context.Context, id uint) (*Subject, error) {
	var subject Subject
	err := r.executeWithRetry(ctx, "repository.find_subject", logging.RequestID(ctx), func() error {
		return notFound(r.db.WithContext(ctx).First(&subject, id).Error)
	})
	if err != nil {
		return nil, err
	}
	return &subject, nil
}

// IsEnrolled reports whether personID is enrolled in subjectID.
func (r *PeopleRepository) IsEnrolled(ctx context.Context, personID, subjectID uint) (bool, error) {
	var count int64
	err := r.executeWithRetry(ctx, "repository.is_enrolled", logging.RequestID(ctx), func() error {
		return r.db.WithContext(ctx).
			Model(&Enrollment{}).
			Where("person_id = ? AND subject_id = ?", personID, subjectID).
			Count(&count).Error
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountEnrolled returns how many people are enrolled in subjectID.
func (r *PeopleRepository) CountEnrolled(ctx context.Context, subjectID uint) (int64, error) {
	var count int64
	err := r.executeWithRetry(ctx, "repository.count_enrolled", logging.RequestID(ctx), func() error {
		return r.db.WithContext(ctx).Model(&Enrollment{}).Where("subject_id = ?", subjectID).Count(&count).Error
	})
	return count, err
}

// ListSubjects returns every subject ordered by name.
func (r *PeopleRepository) ListSubjects(ctx context.Context) ([]Subject, error) {
	var subjects []Subject
	err := r.executeWithRetry(ctx, "repository.list_subjects", logging.RequestID(ctx), func() error {
		return r.db.WithContext(ctx).Order("name").Find(&subjects).Error
	})
	if err != nil {
		return nil, err
	}
	return subjects, nil
}
