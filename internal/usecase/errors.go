package usecase

import "errors"

var (
	// ErrInvalidInput signals a missing image, subject or person in the request.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPersonNotFound signals that Register referenced an unknown person.
	ErrPersonNotFound = errors.New("person not found")
	// ErrSubjectNotFound signals that Recognize referenced an unknown subject.
	ErrSubjectNotFound = errors.New("subject not found")
	// ErrStorage wraps failures of the gallery, people or attendance stores.
	ErrStorage = errors.New("storage failure")
)
