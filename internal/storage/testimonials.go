package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/model"
)

const (
	operationCreateTestimonial = "create testimonial"
	operationListTestimonials  = "list testimonials"
	operationUpdateTestimonial = "update testimonial"
	operationDeleteTestimonial = "delete testimonial"
	operationTestimonialStats  = "testimonial stats"
)

// TestimonialStats summarizes an owner's testimonials for the dashboard.
type TestimonialStats struct {
	Total         int64
	Approved      int64
	Pending       int64
	Rejected      int64
	AverageRating float64
}

// TestimonialRepository persists testimonials.
type TestimonialRepository struct {
	database *gorm.DB
}

// NewTestimonialRepository constructs a TestimonialRepository.
func NewTestimonialRepository(database *gorm.DB) *TestimonialRepository {
	return &TestimonialRepository{database: database}
}

// Create stores a new testimonial.
func (repository *TestimonialRepository) Create(ctx context.Context, testimonial model.Testimonial) (model.Testimonial, error) {
	if createErr := repository.database.WithContext(ctx).Create(&testimonial).Error; createErr != nil {
		return model.Testimonial{}, unavailable(operationCreateTestimonial, createErr)
	}
	return testimonial, nil
}

// ListByOwner returns the owner's testimonials most recent first. An empty status lists all of them.
func (repository *TestimonialRepository) ListByOwner(ctx context.Context, ownerID string, status string) ([]model.Testimonial, error) {
	query := repository.database.WithContext(ctx).
		Where("owner_id = ?", model.NormalizeOwnerID(ownerID))
	trimmedStatus := strings.TrimSpace(status)
	if trimmedStatus != "" {
		query = query.Where("status = ?", trimmedStatus)
	}

	var testimonials []model.Testimonial
	if queryErr := query.Order("created_at DESC").Order("id ASC").Find(&testimonials).Error; queryErr != nil {
		return nil, unavailable(operationListTestimonials, queryErr)
	}
	return testimonials, nil
}

// ListApprovedTestimonials returns the owner's approved testimonials most recent first.
func (repository *TestimonialRepository) ListApprovedTestimonials(ctx context.Context, ownerID string) ([]model.Testimonial, error) {
	return repository.ListByOwner(ctx, ownerID, model.TestimonialStatusApproved)
}

// UpdateStatus moves a testimonial through the moderation lifecycle.
func (repository *TestimonialRepository) UpdateStatus(ctx context.Context, ownerID string, testimonialID string, status string) (model.Testimonial, error) {
	var updated model.Testimonial
	transactionErr := repository.database.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var existing model.Testimonial
		findErr := transaction.
			Where("id = ? AND owner_id = ?", strings.TrimSpace(testimonialID), model.NormalizeOwnerID(ownerID)).
			Take(&existing).Error
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrTestimonialNotFound, testimonialID)
		}
		if findErr != nil {
			return unavailable(operationUpdateTestimonial, findErr)
		}

		if transitionErr := model.ValidateStatusTransition(existing.Status, status); transitionErr != nil {
			return transitionErr
		}

		if updateErr := transaction.Model(&existing).Update("status", status).Error; updateErr != nil {
			return unavailable(operationUpdateTestimonial, updateErr)
		}
		existing.Status = status
		updated = existing
		return nil
	})
	if transactionErr != nil {
		return model.Testimonial{}, transactionErr
	}
	return updated, nil
}

// Delete removes a testimonial owned by ownerID.
func (repository *TestimonialRepository) Delete(ctx context.Context, ownerID string, testimonialID string) error {
	result := repository.database.WithContext(ctx).
		Where("id = ? AND owner_id = ?", strings.TrimSpace(testimonialID), model.NormalizeOwnerID(ownerID)).
		Delete(&model.Testimonial{})
	if result.Error != nil {
		return unavailable(operationDeleteTestimonial, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrTestimonialNotFound, testimonialID)
	}
	return nil
}

// Stats counts the owner's testimonials by status and averages every rating.
func (repository *TestimonialRepository) Stats(ctx context.Context, ownerID string) (TestimonialStats, error) {
	var rows []struct {
		Status    string
		Total     int64
		RatingSum int64
	}
	queryErr := repository.database.WithContext(ctx).
		Model(&model.Testimonial{}).
		Select("status, COUNT(*) AS total, COALESCE(SUM(rating), 0) AS rating_sum").
		Where("owner_id = ?", model.NormalizeOwnerID(ownerID)).
		Group("status").
		Scan(&rows).Error
	if queryErr != nil {
		return TestimonialStats{}, unavailable(operationTestimonialStats, queryErr)
	}

	var stats TestimonialStats
	var ratingSum int64
	for _, row := range rows {
		stats.Total += row.Total
		ratingSum += row.RatingSum
		switch row.Status {
		case model.TestimonialStatusApproved:
			stats.Approved = row.Total
		case model.TestimonialStatusPending:
			stats.Pending = row.Total
		case model.TestimonialStatusRejected:
			stats.Rejected = row.Total
		}
	}
	if stats.Total > 0 {
		stats.AverageRating = float64(ratingSum) / float64(stats.Total)
	}
	return stats, nil
}
