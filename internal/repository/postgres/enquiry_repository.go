package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"enquiry-service/internal/models"
	"enquiry-service/internal/repository"
)

// sortColumns maps dashboard sort keys to columns
var sortColumns = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"name":      "name",
	"email":     "email",
	"subject":   "subject",
	"status":    "status",
}

// SortColumn returns the column for a dashboard sort key
func SortColumn(field string) (string, bool) {
	col, ok := sortColumns[field]
	return col, ok
}

const searchCondition = `(LOWER(name) LIKE @pattern ESCAPE '!'
	OR LOWER(email) LIKE @pattern ESCAPE '!'
	OR LOWER(phone) LIKE @pattern ESCAPE '!'
	OR LOWER(subject) LIKE @pattern ESCAPE '!'
	OR LOWER(message) LIKE @pattern ESCAPE '!')`

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// EnquiryRepository stores enquiries through gorm. The same code runs on
// PostgreSQL and SQLite.
type EnquiryRepository struct {
	db *gorm.DB
}

func NewEnquiryRepository(db *gorm.DB) *EnquiryRepository {
	return &EnquiryRepository{db: db}
}

func (r *EnquiryRepository) Create(ctx context.Context, enquiry *models.Enquiry) error {
	if err := r.db.WithContext(ctx).Create(enquiry).Error; err != nil {
		return fmt.Errorf("failed to create enquiry: %w", err)
	}
	return nil
}

func (r *EnquiryRepository) HasRecentDuplicate(ctx context.Context, dedupKey, email, phone, subject string, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Enquiry{}).
		Where("dedup_key = ? AND email = ? AND phone = ? AND subject = ? AND created_at >= ?",
			dedupKey, email, phone, subject, since).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check duplicates: %w", err)
	}
	return count > 0, nil
}

func (r *EnquiryRepository) filtered(ctx context.Context, q repository.ListQuery) *gorm.DB {
	tx := r.db.WithContext(ctx).Model(&models.Enquiry{})
	if q.Status != "" {
		tx = tx.Where("status = ?", q.Status)
	}
	if q.IDs != nil {
		tx = tx.Where("id IN ?", q.IDs)
	} else if q.Search != "" {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(q.Search)) + "%"
		tx = tx.Where(searchCondition, sql.Named("pattern", pattern))
	}
	return tx
}

func (r *EnquiryRepository) List(ctx context.Context, q repository.ListQuery) ([]models.Enquiry, error) {
	column, ok := SortColumn(q.SortField)
	if !ok {
		column = "created_at"
	}

	var enquiries []models.Enquiry
	err := r.filtered(ctx, q).
		Preload("Notes", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: q.Descending}).
		Order("id").
		Offset(q.Offset).
		Limit(q.Limit).
		Find(&enquiries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list enquiries: %w", err)
	}
	return enquiries, nil
}

func (r *EnquiryRepository) Count(ctx context.Context, q repository.ListQuery) (int64, error) {
	var count int64
	if err := r.filtered(ctx, q).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count enquiries: %w", err)
	}
	return count, nil
}

func (r *EnquiryRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Enquiry{}).
		Where("status = ?", status).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count %q enquiries: %w", status, err)
	}
	return count, nil
}

func (r *EnquiryRepository) GetByID(ctx context.Context, id string) (*models.Enquiry, error) {
	return r.getByID(r.db.WithContext(ctx), id)
}

func (r *EnquiryRepository) getByID(tx *gorm.DB, id string) (*models.Enquiry, error) {
	var enquiry models.Enquiry
	err := tx.Preload("Notes", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC, id ASC")
	}).
		Where("id = ?", id).
		First(&enquiry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrEnquiryNotFound
		}
		return nil, fmt.Errorf("failed to get enquiry: %w", err)
	}
	return &enquiry, nil
}

func (r *EnquiryRepository) Update(ctx context.Context, id string, update repository.EnquiryUpdate) (*models.Enquiry, error) {
	var updated *models.Enquiry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := r.getByID(tx, id); err != nil {
			return err
		}

		changes := map[string]interface{}{"updated_at": update.At}
		if update.Status != nil {
			changes["status"] = *update.Status
		}
		if err := tx.Model(&models.Enquiry{}).Where("id = ?", id).Updates(changes).Error; err != nil {
			return fmt.Errorf("failed to update enquiry: %w", err)
		}

		if update.Note != nil {
			note := models.EnquiryNote{EnquiryID: id, Note: *update.Note, CreatedAt: update.At}
			if err := tx.Create(&note).Error; err != nil {
				return fmt.Errorf("failed to append note: %w", err)
			}
		}

		var err error
		updated, err = r.getByID(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *EnquiryRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("enquiry_id = ?", id).Delete(&models.EnquiryNote{}).Error; err != nil {
			return fmt.Errorf("failed to delete notes: %w", err)
		}

		result := tx.Where("id = ?", id).Delete(&models.Enquiry{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete enquiry: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return repository.ErrEnquiryNotFound
		}
		return nil
	})
}

func (r *EnquiryRepository) HealthCheck(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
