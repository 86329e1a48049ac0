package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/example/face-attendance/internal/extractor"
	"github.com/example/face-attendance/internal/face"
	"github.com/example/face-attendance/internal/logging"
	"github.com/example/face-attendance/internal/repository"
)

// PeopleRepository defines the read operations on people, subjects and enrolments.
type PeopleRepository interface {
	FindPerson(ctx context.Context, id uint) (*repository.Person, error)
	FindSubject(ctx context.Context, id uint) (*repository.Subject, error)
	IsEnrolled(ctx context.Context, personID, subjectID uint) (bool, error)
	CountEnrolled(ctx context.Context, subjectID uint) (int64, error)
	ListSubjects(ctx context.Context) ([]repository.Subject, error)
}

// GalleryRepository persists one embedding per person.
type GalleryRepository interface {
	Upsert(ctx context.Context, personID uint, embedding face.Embedding) error
}

// AttendanceRepository upserts attendance keyed by (person, subject, date).
type AttendanceRepository interface {
	Upsert(ctx context.Context, mark repository.AttendanceMark) error
	CountByStatus(ctx context.Context, subjectID uint, date time.Time, status repository.AttendanceStatus) (int64, error)
}

// Invalidator is told when the gallery changed so cached indexes can rebuild.
type Invalidator interface {
	Invalidate()
}

// OutcomeStatus tags the result of a recognition attempt.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeWarning OutcomeStatus = "warning"
	OutcomeUnknown OutcomeStatus = "unknown"
	OutcomeNoFace  OutcomeStatus = "no_face"
)

// Outcome is returned by Recognize for every non-exceptional path.
type Outcome struct {
	Status     OutcomeStatus `json:"outcome"`
	PersonID   uint          `json:"person_id,omitempty"`
	Name       string        `json:"name,omitempty"`
	RollNumber string        `json:"roll_number,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Message    string        `json:"message"`
	RequestID  string        `json:"request_id"`
}

// RecognizeRequest carries the inputs of one recognition attempt.
type RecognizeRequest struct {
	SubjectID uint
	Image     []byte
	// MarkedBy identifies the caller and is stored on the attendance row.
	MarkedBy string
}

// RegisterResult acknowledges a stored face.
type RegisterResult struct {
	PersonID  uint   `json:"person_id"`
	Name      string `json:"name"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// Options configure the recognition use case. Nil metric collectors are skipped.
type Options struct {
	// Location decides which calendar day "today" is. Defaults to UTC.
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
	// Invalidator is notified after every successful registration.
	Invalidator Invalidator

	Recognitions  *prometheus.CounterVec
	Registrations *prometheus.CounterVec
	MatchDistance prometheus.Observer
}

// RecognitionUseCase implements face registration and attendance recognition.
type RecognitionUseCase struct {
	people     PeopleRepository
	gallery    GalleryRepository
	attendance AttendanceRepository
	extractor  extractor.Extractor
	finder     face.Finder
	matcher    *face.Matcher
	opts       Options
	logger     *zap.Logger
}

// NewRecognitionUseCase constructs a new use case instance.
func NewRecognitionUseCase(
	people PeopleRepository,
	gallery GalleryRepository,
	attendance AttendanceRepository,
	ext extractor.Extractor,
	finder face.Finder,
	matcher *face.Matcher,
	opts Options,
	logger *zap.Logger,
) *RecognitionUseCase {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RecognitionUseCase{
		people:     people,
		gallery:    gallery,
		attendance: attendance,
		extractor:  ext,
		finder:     finder,
		matcher:    matcher,
		opts:       opts,
		logger:     logger.Named("recognition_usecase"),
	}
}

// Threshold returns the distance cut-off in use.
func (uc *RecognitionUseCase) Threshold() float64 {
	return uc.matcher.Threshold()
}

// Register extracts the face in image and stores it as personID's only embedding.
func (uc *RecognitionUseCase) Register(ctx context.Context, personID uint, image []byte) (*RegisterResult, error) {
	requestID := uuid.NewString()
	ctx = logging.ContextWithRequestID(ctx, requestID)
	opLogger := logging.WithOperation(uc.logger, "usecase.register", requestID)

	if personID == 0 {
		return nil, uc.registerFailed(logging.NewOperationError("usecase.register", requestID,
			fmt.Errorf("%w: person id is required", ErrInvalidInput)), "invalid_input")
	}
	if len(image) == 0 {
		return nil, uc.registerFailed(logging.NewOperationError("usecase.register", requestID,
			fmt.Errorf("%w: image is required", ErrInvalidInput)), "invalid_input")
	}

	person, err := uc.people.FindPerson(ctx, personID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, uc.registerFailed(logging.NewOperationError("usecase.register", requestID,
			fmt.Errorf("%w: %d", ErrPersonNotFound, personID)), "person_not_found")
	}
	if err != nil {
		opLogger.Error("failed to load person", zap.Error(err))
		return nil, uc.registerFailed(storageError("usecase.register", requestID, err), "error")
	}

	embedding, err := uc.extractor.Extract(ctx, image)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.extract", requestID, classifyExtractError(err))
		switch {
		case extractor.IsNoFace(err):
			opLogger.Info("no usable face in registration image", zap.Uint("person_id", personID), zap.Error(err))
			return nil, uc.registerFailed(wrapped, "no_face")
		case errors.Is(err, extractor.ErrInvalidImage):
			return nil, uc.registerFailed(wrapped, "invalid_input")
		default:
			opLogger.Error("embedding extraction failed", zap.Error(err))
			return nil, uc.registerFailed(wrapped, "error")
		}
	}

	if err := uc.gallery.Upsert(ctx, person.ID, embedding); err != nil {
		opLogger.Error("failed to store embedding", zap.Uint("person_id", person.ID), zap.Error(err))
		if errors.Is(err, face.ErrInvalidEmbedding) {
			return nil, uc.registerFailed(logging.NewOperationError("usecase.register", requestID, err), "error")
		}
		return nil, uc.registerFailed(storageError("usecase.register", requestID, err), "error")
	}
	if uc.opts.Invalidator != nil {
		uc.opts.Invalidator.Invalidate()
	}

	uc.countRegistration("ok")
	opLogger.Info("face registered", zap.Uint("person_id", person.ID), zap.Int("dim", embedding.Dim()))
	return &RegisterResult{
		PersonID:  person.ID,
		Name:      person.FullName,
		Message:   fmt.Sprintf("Face registered for %s", person.FullName),
		RequestID: requestID,
	}, nil
}

// Recognize identifies the face in the request image and, when the person is
// enrolled in the subject, marks them present for today.
//
// A call moves through extracted, matched, authorized and committed; each step
// can stop early with its own outcome. Only the committed step writes.
func (uc *RecognitionUseCase) Recognize(ctx context.Context, req RecognizeRequest) (*Outcome, error) {
	requestID := uuid.NewString()
	ctx = logging.ContextWithRequestID(ctx, requestID)
	opLogger := logging.WithOperation(uc.logger, "usecase.recognize", requestID).
		With(zap.Uint("subject_id", req.SubjectID))

	if req.SubjectID == 0 {
		return nil, uc.recognizeFailed(logging.NewOperationError("usecase.recognize", requestID,
			fmt.Errorf("%w: subject id is required", ErrInvalidInput)))
	}
	if len(req.Image) == 0 {
		return nil, uc.recognizeFailed(logging.NewOperationError("usecase.recognize", requestID,
			fmt.Errorf("%w: image is required", ErrInvalidInput)))
	}

	if _, err := uc.people.FindSubject(ctx, req.SubjectID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, uc.recognizeFailed(logging.NewOperationError("usecase.recognize", requestID,
				fmt.Errorf("%w: %d", ErrSubjectNotFound, req.SubjectID)))
		}
		opLogger.Error("failed to load subject", zap.Error(err))
		return nil, uc.recognizeFailed(storageError("usecase.recognize", requestID, err))
	}

	// Extracted.
	embedding, err := uc.extractor.Extract(ctx, req.Image)
	if err != nil {
		if extractor.IsNoFace(err) {
			message := "No face detected in the image"
			if errors.Is(err, face.ErrMultipleFaces) {
				message = "Multiple faces detected, capture one person at a time"
			}
			opLogger.Info("no usable face", zap.Error(err))
			return uc.finish(&Outcome{Status: OutcomeNoFace, Message: message, RequestID: requestID}), nil
		}
		wrapped := logging.NewOperationError("usecase.extract", requestID, classifyExtractError(err))
		if !errors.Is(wrapped, ErrInvalidInput) {
			opLogger.Error("embedding extraction failed", zap.Error(err))
		}
		return nil, uc.recognizeFailed(wrapped)
	}

	// Matched.
	match, err := uc.finder.FindBest(ctx, embedding)
	if errors.Is(err, face.ErrGalleryEmpty) {
		opLogger.Info("gallery is empty")
		return uc.finish(&Outcome{Status: OutcomeUnknown, Message: "No registered faces to compare against", RequestID: requestID}), nil
	}
	if err != nil {
		opLogger.Error("gallery search failed", zap.Error(err))
		if errors.Is(err, face.ErrDimensionMismatch) || errors.Is(err, face.ErrInvalidEmbedding) {
			return nil, uc.recognizeFailed(logging.NewOperationError("usecase.find_best", requestID, err))
		}
		return nil, uc.recognizeFailed(storageError("usecase.find_best", requestID, err))
	}
	match = uc.matcher.Decide(match)
	if uc.opts.MatchDistance != nil {
		uc.opts.MatchDistance.Observe(match.Distance)
	}
	if match.Decision != face.DecisionAccepted {
		opLogger.Info("no match under threshold",
			zap.Float64("distance", match.Distance), zap.Float64("threshold", uc.matcher.Threshold()))
		return uc.finish(&Outcome{Status: OutcomeUnknown, Message: "Face not recognized", RequestID: requestID}), nil
	}

	person, err := uc.people.FindPerson(ctx, match.PersonID)
	if err != nil {
		// A gallery row without a person is a storage inconsistency, not an unknown face.
		opLogger.Error("matched person could not be loaded", zap.Uint("person_id", match.PersonID), zap.Error(err))
		return nil, uc.recognizeFailed(storageError("usecase.recognize", requestID, err))
	}

	// Authorized.
	enrolled, err := uc.people.IsEnrolled(ctx, person.ID, req.SubjectID)
	if err != nil {
		opLogger.Error("enrolment check failed", zap.Uint("person_id", person.ID), zap.Error(err))
		return nil, uc.recognizeFailed(storageError("usecase.recognize", requestID, err))
	}
	if !enrolled {
		opLogger.Info("recognized person not enrolled", zap.Uint("person_id", person.ID), zap.Float64("distance", match.Distance))
		return uc.finish(&Outcome{
			Status:     OutcomeWarning,
			PersonID:   person.ID,
			Name:       person.FullName,
			RollNumber: person.RollNumber,
			Confidence: face.Confidence(match.Distance),
			Message:    fmt.Sprintf("%s is not enrolled in this subject", person.FullName),
			RequestID:  requestID,
		}), nil
	}

	// Committed.
	mark := repository.AttendanceMark{
		PersonID:  person.ID,
		SubjectID: req.SubjectID,
		Date:      repository.DateOnly(uc.opts.Now(), uc.opts.Location),
		Status:    repository.StatusPresent,
		MarkedBy:  req.MarkedBy,
	}
	if err := uc.attendance.Upsert(ctx, mark); err != nil {
		opLogger.Error("failed to mark attendance", zap.Uint("person_id", person.ID), zap.Error(err))
		return nil, uc.recognizeFailed(storageError("usecase.mark_attendance", requestID, err))
	}

	opLogger.Info("attendance marked", zap.Uint("person_id", person.ID), zap.Float64("distance", match.Distance))
	return uc.finish(&Outcome{
		Status:     OutcomeSuccess,
		PersonID:   person.ID,
		Name:       person.FullName,
		RollNumber: person.RollNumber,
		Confidence: face.Confidence(match.Distance),
		Message:    fmt.Sprintf("Attendance marked for %s", person.FullName),
		RequestID:  requestID,
	}), nil
}

func (uc *RecognitionUseCase) finish(outcome *Outcome) *Outcome {
	if uc.opts.Recognitions != nil {
		uc.opts.Recognitions.WithLabelValues(string(outcome.Status)).Inc()
	}
	return outcome
}

func (uc *RecognitionUseCase) recognizeFailed(err error) error {
	if uc.opts.Recognitions != nil {
		uc.opts.Recognitions.WithLabelValues("error").Inc()
	}
	return err
}

func (uc *RecognitionUseCase) registerFailed(err error, result string) error {
	uc.countRegistration(result)
	return err
}

func (uc *RecognitionUseCase) countRegistration(result string) {
	if uc.opts.Registrations != nil {
		uc.opts.Registrations.WithLabelValues(result).Inc()
	}
}

// classifyExtractError maps an undecodable image to ErrInvalidInput and leaves other errors untouched.
func classifyExtractError(err error) error {
	if errors.Is(err, extractor.ErrInvalidImage) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return err
}

func storageError(operation, requestID string, err error) error {
	return logging.NewOperationError(operation, requestID, fmt.Errorf("%w: %w", ErrStorage, err))
}
