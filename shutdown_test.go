package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/face-attendance/internal/handlers"
	"github.com/example/face-attendance/internal/usecase"
)

// blockingService holds Recognize open until released so shutdown can be observed mid-request.
type blockingService struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingService) Register(ctx context.Context, personID uint, image []byte) (*usecase.RegisterResult, error) {
	return &usecase.RegisterResult{PersonID: personID}, nil
}

func (s *blockingService) Recognize(ctx context.Context, req usecase.RecognizeRequest) (*usecase.Outcome, error) {
	close(s.started)
	<-s.release
	return &usecase.Outcome{Status: usecase.OutcomeUnknown, Message: "Face not recognized"}, nil
}

func (s *blockingService) GetAttendanceSummary(ctx context.Context, subjectID uint, date time.Time) (*usecase.AttendanceSummary, error) {
	return &usecase.AttendanceSummary{SubjectID: subjectID}, nil
}

func (s *blockingService) ListSubjects(ctx context.Context) ([]usecase.SubjectView, error) {
	return nil, nil
}

func (s *blockingService) Today() time.Time { return time.Now().UTC() }

func passThrough(c *gin.Context) { c.Next() }

func TestServerGracefulShutdownCompletesInFlightRecognition(t *testing.T) {
	logger := zap.NewNop()
	gin.SetMode(gin.TestMode)

	svc := &blockingService{started: make(chan struct{}), release: make(chan struct{})}
	released := false
	defer func() {
		if !released {
			close(svc.release)
		}
	}()

	router := handlers.NewRouter(svc, passThrough, handlers.Options{}, logger)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: router}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	waitForServer(t, addr)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	_ = writer.WriteField("subject_id", "1")
	part, err := writer.CreateFormFile("image", "capture.png")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	_, _ = part.Write([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	client := &http.Client{Timeout: 3 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := client.Post("http://"+addr+"/attendance/recognize", writer.FormDataContentType(), body)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-svc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	signalCh <- syscall.SIGTERM
	time.Sleep(50 * time.Millisecond)
	close(svc.release)
	released = true

	select {
	case resp := <-respCh:
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d", resp.StatusCode)
		}
		var outcome usecase.Outcome
		if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
			t.Fatalf("invalid response body: %v", err)
		}
		if outcome.Status != usecase.OutcomeUnknown {
			t.Fatalf("unexpected outcome %q", outcome.Status)
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}

	if _, err := net.DialTimeout("tcp", addr, 100*time.Millisecond); err == nil {
		t.Fatal("expected listener to be closed after shutdown")
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
