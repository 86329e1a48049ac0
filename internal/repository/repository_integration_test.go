//go:build integration

package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-attendance/internal/face"
)

func setupTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "attendance",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil || container == nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("host=%s port=%s user=test password=test dbname=attendance sslmode=disable", host, port.Port())
	db, err := Open(ctx, OpenOptions{Driver: DriverPostgres, DSN: dsn, MaxOpenConns: 10}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(ctx, db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func seedPerson(t *testing.T, db *gorm.DB, roll string, subjectID uint) Person {
	t.Helper()
	person := Person{FullName: "Student " + roll, RollNumber: roll}
	if err := db.Create(&person).Error; err != nil {
		t.Fatalf("failed to seed person: %v", err)
	}
	if subjectID != 0 {
		if err := db.Create(&Enrollment{PersonID: person.ID, SubjectID: subjectID}).Error; err != nil {
			t.Fatalf("failed to seed enrollment: %v", err)
		}
	}
	return person
}

func TestRepositories(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	logger := zap.NewNop()

	subject := Subject{Name: "Mathematics"}
	if err := db.Create(&subject).Error; err != nil {
		t.Fatalf("failed to seed subject: %v", err)
	}
	alice := seedPerson(t, db, "R-001", subject.ID)
	bob := seedPerson(t, db, "R-002", 0)

	gallery := NewGalleryRepository(db, logger, GalleryOptions{Model: "test"})
	people := NewPeopleRepository(db, logger)
	attendance := NewAttendanceRepository(db, logger)

	t.Run("GalleryUpsertOverwrites", func(t *testing.T) {
		if err := gallery.Upsert(ctx, alice.ID, face.Embedding{1, 0, 0}); err != nil {
			t.Fatalf("first upsert failed: %v", err)
		}
		if err := gallery.Upsert(ctx, alice.ID, face.Embedding{0, 1, 0}); err != nil {
			t.Fatalf("second upsert failed: %v", err)
		}

		count, err := gallery.Count(ctx)
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if count != 1 {
			t.Fatalf("expected 1 gallery row, got %d", count)
		}

		for entry, err := range gallery.AllEntries(ctx) {
			if err != nil {
				t.Fatalf("scan failed: %v", err)
			}
			if entry.PersonID != alice.ID || entry.Embedding[1] != 1 {
				t.Fatalf("expected overwritten embedding for alice, got %+v", entry)
			}
		}

		exists, err := gallery.Exists(ctx, alice.ID)
		if err != nil || !exists {
			t.Fatalf("expected alice to have a face, got %v %v", exists, err)
		}
		exists, err = gallery.Exists(ctx, bob.ID)
		if err != nil || exists {
			t.Fatalf("expected bob without a face, got %v %v", exists, err)
		}
	})

	t.Run("GalleryRejectsOtherDimension", func(t *testing.T) {
		err := gallery.Upsert(ctx, bob.ID, face.Embedding{1, 0})
		if !errors.Is(err, face.ErrInvalidEmbedding) {
			t.Fatalf("expected ErrInvalidEmbedding, got %v", err)
		}
	})

	t.Run("GalleryAllEntries", func(t *testing.T) {
		if err := gallery.Upsert(ctx, bob.ID, face.Embedding{0, 0, 1}); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}

		var ids []uint
		for entry, err := range gallery.AllEntries(ctx) {
			if err != nil {
				t.Fatalf("scan failed: %v", err)
			}
			if entry.Embedding.Dim() != 3 {
				t.Fatalf("unexpected dimension %d", entry.Embedding.Dim())
			}
			ids = append(ids, entry.PersonID)
		}
		if len(ids) != 2 || ids[0] != alice.ID || ids[1] != bob.ID {
			t.Fatalf("unexpected entries: %v", ids)
		}
	})

	t.Run("People", func(t *testing.T) {
		person, err := people.FindPerson(ctx, alice.ID)
		if err != nil {
			t.Fatalf("find person failed: %v", err)
		}
		if person.RollNumber != "R-001" {
			t.Fatalf("unexpected roll number %q", person.RollNumber)
		}

		if _, err := people.FindPerson(ctx, 9999); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		enrolled, err := people.IsEnrolled(ctx, alice.ID, subject.ID)
		if err != nil || !enrolled {
			t.Fatalf("expected alice enrolled, got %v %v", enrolled, err)
		}
		enrolled, err = people.IsEnrolled(ctx, bob.ID, subject.ID)
		if err != nil || enrolled {
			t.Fatalf("expected bob not enrolled, got %v %v", enrolled, err)
		}
	})

	t.Run("AttendanceUpsertIsIdempotent", func(t *testing.T) {
		day := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- attendance.Upsert(ctx, AttendanceMark{
					PersonID:  alice.ID,
					SubjectID: subject.ID,
					Date:      day,
					Status:    StatusPresent,
					MarkedBy:  fmt.Sprintf("teacher-%d", i),
				})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("upsert failed: %v", err)
			}
		}

		var rows int64
		if err := db.Model(&Attendance{}).Where("person_id = ? AND subject_id = ?", alice.ID, subject.ID).Count(&rows).Error; err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if rows != 1 {
			t.Fatalf("expected 1 attendance row, got %d", rows)
		}

		present, err := attendance.CountByStatus(ctx, subject.ID, day, StatusPresent)
		if err != nil {
			t.Fatalf("count by status failed: %v", err)
		}
		if present != 1 {
			t.Fatalf("expected 1 present, got %d", present)
		}

		var row Attendance
		if err := db.Where("person_id = ? AND subject_id = ?", alice.ID, subject.ID).Take(&row).Error; err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if row.Status != StatusPresent || !row.Date.Equal(day) {
			t.Fatalf("unexpected row: status %q date %v", row.Status, row.Date)
		}
	})

	t.Run("ListSubjects", func(t *testing.T) {
		if err := db.Create(&Subject{Name: "Algorithms"}).Error; err != nil {
			t.Fatalf("failed to seed subject: %v", err)
		}
		subjects, err := people.ListSubjects(ctx)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(subjects) != 2 || subjects[0].Name != "Algorithms" || subjects[1].Name != "Mathematics" {
			t.Fatalf("unexpected subjects: %+v", subjects)
		}
	})

	t.Run("DeletingPersonCascades", func(t *testing.T) {
		if err := db.Delete(&Person{}, alice.ID).Error; err != nil {
			t.Fatalf("delete failed: %v", err)
		}

		exists, err := gallery.Exists(ctx, alice.ID)
		if err != nil {
			t.Fatalf("exists failed: %v", err)
		}
		if exists {
			t.Fatal("expected gallery row to be removed with its person")
		}
		for entry, err := range gallery.AllEntries(ctx) {
			if err != nil {
				t.Fatalf("scan failed: %v", err)
			}
			if entry.PersonID == alice.ID {
				t.Fatal("deleted person still in gallery scan")
			}
		}

		var enrollments, marks int64
		db.Model(&Enrollment{}).Where("person_id = ?", alice.ID).Count(&enrollments)
		db.Model(&Attendance{}).Where("person_id = ?", alice.ID).Count(&marks)
		if enrollments != 0 || marks != 0 {
			t.Fatalf("expected enrolments and attendance removed, got %d and %d", enrollments, marks)
		}
	})
}

func TestGalleryConcurrentFirstRegistrationsAgreeOnDimension(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	gallery := NewGalleryRepository(db, zap.NewNop(), GalleryOptions{})

	const n = 8
	ids := make([]uint, n)
	for i := range ids {
		ids[i] = seedPerson(t, db, fmt.Sprintf("C-%03d", i), 0).ID
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uint) {
			defer wg.Done()
			vec := face.Embedding{1, 0, 0}
			if i%2 == 1 {
				vec = face.Embedding{1, 0, 0, 0}
			}
			// Losers of the race are rejected; only the stored rows matter.
			_ = gallery.Upsert(ctx, id, vec)
		}(i, id)
	}
	wg.Wait()

	var dims []int
	if err := db.Model(&FaceEmbedding{}).Distinct("dim").Pluck("dim", &dims).Error; err != nil {
		t.Fatalf("failed to load dimensions: %v", err)
	}
	if len(dims) != 1 {
		t.Fatalf("expected one stored dimension, got %v", dims)
	}
}
