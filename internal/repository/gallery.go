package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/face-attendance/internal/face"
	"github.com/example/face-attendance/internal/logging"
)

// GalleryOptions pins the gallery to one embedding model.
type GalleryOptions struct {
	// Dimension is the required embedding length. When zero the first stored
	// embedding fixes the dimensionality for everyone else, at the cost of a
	// lock on every registration; production deployments should set it.
	Dimension int
	// Model is recorded next to each embedding.
	Model string
}

// GalleryRepository stores one face embedding per person.
type GalleryRepository struct {
	base
	dimension int
	model     string
}

// NewGalleryRepository creates a new repository instance.
func NewGalleryRepository(db *gorm.DB, logger *zap.Logger, opts GalleryOptions) *GalleryRepository {
	return &GalleryRepository{
		base:      newBase(db, logger, "gallery_repository"),
		dimension: opts.Dimension,
		model:     opts.Model,
	}
}

// Upsert stores embedding as the only face of personID, replacing any previous one.
func (r *GalleryRepository) Upsert(ctx context.Context, personID uint, embedding face.Embedding) error {
	requestID := logging.RequestID(ctx)
	if err := embedding.Validate(); err != nil {
		return logging.NewOperationError("repository.gallery_upsert", requestID, err)
	}
	if r.dimension > 0 && embedding.Dim() != r.dimension {
		return logging.NewOperationError("repository.gallery_upsert", requestID,
			fmt.Errorf("%w: got %d values, gallery requires %d", face.ErrInvalidEmbedding, embedding.Dim(), r.dimension))
	}

	payload, err := json.Marshal(embedding)
	if err != nil {
		return logging.NewOperationError("repository.gallery_upsert", requestID, err)
	}

	row := FaceEmbedding{
		PersonID:  personID,
		Embedding: string(payload),
		Dim:       embedding.Dim(),
		Model:     r.model,
		UpdatedAt: time.Now().UTC(),
	}

	return r.executeWithRetry(ctx, "repository.gallery_upsert", requestID, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if r.dimension == 0 {
				if err := checkGalleryDimension(tx, personID, row.Dim); err != nil {
					return err
				}
			}
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "person_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"embedding", "dim", "model", "updated_at"}),
			}).Create(&row).Error
		})
	})
}

// galleryDimensionLock is the postgres advisory lock key serialising first registrations.
const galleryDimensionLock = 0x6661636564696d

// checkGalleryDimension rejects dim when other people are stored with another
// length. Concurrent first registrations are serialised: postgres takes a
// transaction-scoped advisory lock, and on mysql the locking read holds the
// next-key lock on face_embeddings so a racing insert fails instead of mixing sizes.
func checkGalleryDimension(tx *gorm.DB, personID uint, dim int) error {
	if tx.Dialector.Name() == "postgres" {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", galleryDimensionLock).Error; err != nil {
			return err
		}
	}

	var other FaceEmbedding
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("person_id", "dim").
		Where("person_id <> ?", personID).
		Take(&other).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if other.Dim != dim {
		return fmt.Errorf("%w: got %d values, gallery holds %d-dimensional faces", face.ErrInvalidEmbedding, dim, other.Dim)
	}
	return nil
}

// AllEntries streams every stored embedding ordered by person id. Each call
// opens a new cursor. A row that fails to decode ends the scan with ErrInvalidEmbedding.
func (r *GalleryRepository) AllEntries(ctx context.Context) iter.Seq2[face.Entry, error] {
	return func(yield func(face.Entry, error) bool) {
		requestID := logging.RequestID(ctx)

		rows, err := r.db.WithContext(ctx).
			Model(&FaceEmbedding{}).
			Select("person_id", "embedding").
			Order("person_id").
			Rows()
		if err != nil {
			yield(face.Entry{}, logging.NewOperationError("repository.gallery_scan", requestID, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				personID uint
				raw      string
			)
			if err := rows.Scan(&personID, &raw); err != nil {
				yield(face.Entry{}, logging.NewOperationError("repository.gallery_scan", requestID, err))
				return
			}

			var vec face.Embedding
			if err := json.Unmarshal([]byte(raw), &vec); err != nil {
				r.logger.Error("corrupt stored embedding", zap.Uint("person_id", personID), zap.Error(err))
				yield(face.Entry{}, logging.NewOperationError("repository.gallery_scan", requestID,
					fmt.Errorf("%w: person %d: %v", face.ErrInvalidEmbedding, personID, err)))
				return
			}

			if !yield(face.Entry{PersonID: personID, Embedding: vec}, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(face.Entry{}, logging.NewOperationError("repository.gallery_scan", requestID, err))
		}
	}
}

// Exists reports whether personID has a registered face.
func (r *GalleryRepository) Exists(ctx context.Context, personID uint) (bool, error) {
	var count int64
	err := r.executeWithRetry(ctx, "repository.gallery_exists", logging.RequestID(ctx), func() error {
		return r.db.WithContext(ctx).Model(&FaceEmbedding{}).Where("person_id = ?", personID).Count(&count).Error
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Count returns the number of registered faces.
func (r *GalleryRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.executeWithRetry(ctx, "repository.gallery_count", logging.RequestID(ctx), func() error {
		return r.db.WithContext(ctx).Model(&FaceEmbedding{}).Count(&count).Error
	})
	return count, err
}
