package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/face-attendance/internal/auth"
	"github.com/example/face-attendance/internal/extractor"
	"github.com/example/face-attendance/internal/face"
	"github.com/example/face-attendance/internal/logging"
	"github.com/example/face-attendance/internal/metrics"
	"github.com/example/face-attendance/internal/usecase"
)

// MaxUploadSize is the default limit for an uploaded image.
const MaxUploadSize = 5 << 20

// multipartOverhead leaves room for form fields and boundaries around the image part.
const multipartOverhead = 64 << 10

// RecognitionService is the use case surface served over HTTP.
type RecognitionService interface {
	Register(ctx context.Context, personID uint, image []byte) (*usecase.RegisterResult, error)
	Recognize(ctx context.Context, req usecase.RecognizeRequest) (*usecase.Outcome, error)
	GetAttendanceSummary(ctx context.Context, subjectID uint, date time.Time) (*usecase.AttendanceSummary, error)
	ListSubjects(ctx context.Context) ([]usecase.SubjectView, error)
	Today() time.Time
}

// Options configure the router.
type Options struct {
	MaxUploadSize  int64
	AllowedOrigins []string
	// TeacherRole is required for registration, recognition and summaries. Empty disables the check.
	TeacherRole string
	// RequestTimeout bounds each recognition or registration call.
	RequestTimeout time.Duration
}

// NewRouter builds the gin engine with recovery, metrics, CORS and every route.
func NewRouter(svc RecognitionService, authMiddleware gin.HandlerFunc, opts Options, logger *zap.Logger) *gin.Engine {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = MaxUploadSize
	}

	r := gin.New()
	r.Use(gin.Recovery(), metrics.Middleware())
	r.MaxMultipartMemory = opts.MaxUploadSize

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	if len(opts.AllowedOrigins) == 0 || (len(opts.AllowedOrigins) == 1 && opts.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = opts.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	RegisterRoutes(r, svc, authMiddleware, opts, logger)
	return r
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc RecognitionService, authMiddleware gin.HandlerFunc, opts Options, logger *zap.Logger) {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = MaxUploadSize
	}
	h := &handler{svc: svc, opts: opts, logger: logger.Named("http")}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	teacherOnly := []gin.HandlerFunc{authMiddleware}
	if opts.TeacherRole != "" {
		teacherOnly = append(teacherOnly, auth.RequireRole(opts.TeacherRole))
	}

	router.GET("/subjects", authMiddleware, h.subjects)
	router.POST("/faces/register", append(slices.Clip(teacherOnly), h.register)...)
	router.POST("/attendance/recognize", append(slices.Clip(teacherOnly), h.recognize)...)
	router.GET("/attendance/summary", append(slices.Clip(teacherOnly), h.summary)...)
}

type handler struct {
	svc    RecognitionService
	opts   Options
	logger *zap.Logger
}

func (h *handler) register(c *gin.Context) {
	form, ok := h.readForm(c)
	if !ok {
		return
	}
	personID, ok := parseID(c, formValue(form, "person_id"), "person_id")
	if !ok {
		return
	}
	data, ok := h.readImage(c, form)
	if !ok {
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.svc.Register(ctx, personID, data)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *handler) recognize(c *gin.Context) {
	form, ok := h.readForm(c)
	if !ok {
		return
	}
	subjectID, ok := parseID(c, formValue(form, "subject_id"), "subject_id")
	if !ok {
		return
	}
	data, ok := h.readImage(c, form)
	if !ok {
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	markedBy, _ := auth.GetUserID(c.Request.Context())
	outcome, err := h.svc.Recognize(ctx, usecase.RecognizeRequest{
		SubjectID: subjectID,
		Image:     data,
		MarkedBy:  markedBy,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *handler) summary(c *gin.Context) {
	subjectID, ok := parseID(c, c.Query("subject_id"), "subject_id")
	if !ok {
		return
	}

	date := h.svc.Today()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		date = parsed
	}

	summary, err := h.svc.GetAttendanceSummary(c.Request.Context(), subjectID, date)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handler) subjects(c *gin.Context) {
	subjects, err := h.svc.ListSubjects(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subjects": subjects})
}

func (h *handler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.opts.RequestTimeout > 0 {
		return context.WithTimeout(c.Request.Context(), h.opts.RequestTimeout)
	}
	return context.WithCancel(c.Request.Context())
}

// readForm parses the multipart body under the upload limit or writes the error response.
func (h *handler) readForm(c *gin.Context) (*multipart.Form, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadSize+multipartOverhead)

	form, err := c.MultipartForm()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form data is required"})
		return nil, false
	}
	return form, true
}

func formValue(form *multipart.Form, key string) string {
	if values := form.Value[key]; len(values) > 0 {
		return values[0]
	}
	return ""
}

// readImage returns the bytes of the "image" part or writes the error response.
func (h *handler) readImage(c *gin.Context, form *multipart.Form) ([]byte, bool) {
	files := form.File["image"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return nil, false
	}
	file := files[0]
	if file.Size > h.opts.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return nil, false
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is empty"})
		return nil, false
	}

	if !isImageContentType(file.Header.Get("Content-Type"), data) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image type"})
		return nil, false
	}
	return data, true
}

// isImageContentType trusts an explicit image/* part type and sniffs untyped uploads.
func isImageContentType(declared string, data []byte) bool {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared == "" || strings.HasPrefix(declared, "application/octet-stream") {
		declared = http.DetectContentType(data)
	}
	return strings.HasPrefix(declared, "image/")
}

func parseID(c *gin.Context, raw, field string) (uint, bool) {
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": field + " is required"})
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": field + " must be a positive integer"})
		return 0, false
	}
	return uint(id), true
}

// writeError maps use case errors to a status and a fixed message. Wrapped
// details stay in the logs; the response only carries the request id.
func (h *handler) writeError(c *gin.Context, err error) {
	status, body := http.StatusInternalServerError, gin.H{"error": "internal server error"}
	switch {
	case errors.Is(err, extractor.ErrInvalidImage):
		status, body = http.StatusBadRequest, gin.H{"error": "image could not be decoded"}
	case errors.Is(err, usecase.ErrInvalidInput):
		status, body = http.StatusBadRequest, gin.H{"error": "invalid request"}
	case errors.Is(err, usecase.ErrPersonNotFound):
		status, body = http.StatusNotFound, gin.H{"error": "person not found"}
	case errors.Is(err, usecase.ErrSubjectNotFound):
		status, body = http.StatusNotFound, gin.H{"error": "subject not found"}
	case errors.Is(err, face.ErrMultipleFaces):
		status, body = http.StatusUnprocessableEntity, gin.H{"error": "multiple faces detected", "outcome": usecase.OutcomeNoFace}
	case errors.Is(err, face.ErrNoFaceDetected):
		status, body = http.StatusUnprocessableEntity, gin.H{"error": "no face detected", "outcome": usecase.OutcomeNoFace}
	case errors.Is(err, context.DeadlineExceeded):
		status, body = http.StatusGatewayTimeout, gin.H{"error": "request timed out"}
	}

	requestID := logging.RequestIDOf(err)
	if requestID != "" {
		body["request_id"] = requestID
	}

	fields := []zap.Field{
		zap.String("path", c.FullPath()),
		zap.Int("status", status),
		zap.String("operation", logging.OperationOf(err)),
		zap.String("request_id", requestID),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Debug("request rejected", fields...)
	}
	c.JSON(status, body)
}
