package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/face-attendance/internal/config"
	"github.com/example/face-attendance/internal/repository"
)

var (
	enrollDir          string
	enrollSkipExisting bool
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Register faces from a directory of photos named by roll number",
	Long: `Registers every image in --dir whose file name (without extension) is a
student's roll number, e.g. 25MCA-31.jpg. A failed file is reported and
does not stop the run.

Examples:
  # Register or replace every face in ./photos
  attendface enroll --dir ./photos

  # Only register people who have no face yet
  attendface enroll --dir ./photos --skip-existing`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if enrollDir == "" {
			return errors.New("--dir is required")
		}
		return runEnroll(cmd.Context(), enrollDir, enrollSkipExisting)
	},
}

func init() {
	enrollCmd.Flags().StringVar(&enrollDir, "dir", "", "Directory of face photos named <roll number>.<ext>")
	enrollCmd.Flags().BoolVar(&enrollSkipExisting, "skip-existing", false, "Leave people who already have a registered face untouched")
}

var enrollExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp", ".gif"}

type enrollFile struct {
	Path       string
	RollNumber string
}

type enrollFailure struct {
	File enrollFile
	Err  error
}

// collectEnrollFiles lists the images in dir sorted by name; other files are skipped.
func collectEnrollFiles(dir string) ([]enrollFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read enrol directory: %w", err)
	}

	var files []enrollFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !slices.Contains(enrollExtensions, ext) {
			continue
		}
		roll := strings.TrimSpace(strings.TrimSuffix(name, filepath.Ext(name)))
		if roll == "" {
			continue
		}
		files = append(files, enrollFile{Path: filepath.Join(dir, name), RollNumber: roll})
	}
	slices.SortFunc(files, func(a, b enrollFile) int { return strings.Compare(a.Path, b.Path) })
	return files, nil
}

func runEnroll(ctx context.Context, dir string, skipExisting bool) error {
	files, err := collectEnrollFiles(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No images found to enrol.")
		return nil
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// Enrolment only writes, so the gallery index is not needed.
	rec, err := a.buildRecognition(ctx, config.StrategyLinear)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Registering faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("faces"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var (
		failures []enrollFailure
		skipped  int
	)
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := enrollOne(ctx, rec, file, skipExisting)
		if err != nil {
			a.logger.Warn("enrolment failed", zap.String("file", file.Path), zap.Error(err))
			failures = append(failures, enrollFailure{File: file, Err: err})
		} else if !done {
			skipped++
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	registered := len(files) - len(failures) - skipped
	fmt.Printf("\nRegistered %d of %d faces (%d skipped)\n", registered, len(files), skipped)
	for _, f := range failures {
		fmt.Printf("  %s: %v\n", filepath.Base(f.File.Path), f.Err)
	}
	if total, err := rec.gallery.Count(ctx); err == nil {
		fmt.Printf("Total faces in gallery: %d\n", total)
	}
	if len(failures) == len(files) {
		return errors.New("no faces were registered")
	}
	return nil
}

// enrollOne registers file and reports false when it was skipped.
func enrollOne(ctx context.Context, rec *recognition, file enrollFile, skipExisting bool) (bool, error) {
	person, err := rec.people.FindPersonByRollNumber(ctx, file.RollNumber)
	if errors.Is(err, repository.ErrNotFound) {
		return false, fmt.Errorf("no person with roll number %q", file.RollNumber)
	}
	if err != nil {
		return false, err
	}

	if skipExisting {
		exists, err := rec.gallery.Exists(ctx, person.ID)
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
	}

	data, err := os.ReadFile(file.Path)
	if err != nil {
		return false, err
	}

	if _, err := rec.useCase.Register(ctx, person.ID, data); err != nil {
		return false, err
	}
	return true, nil
}
