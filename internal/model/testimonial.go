package model

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	TestimonialStatusPending  = "pending"
	TestimonialStatusApproved = "approved"
	TestimonialStatusRejected = "rejected"

	TestimonialRatingMinimum = 1
	TestimonialRatingMaximum = 5

	testimonialOwnerIDMaxLength       = 320
	testimonialCustomerNameMaxLength  = 200
	testimonialCustomerEmailMaxLength = 320
	testimonialMessageMaxLength       = 4000
	testimonialCategoryMaxLength      = 100
)

var (
	ErrInvalidTestimonialOwner      = errors.New("invalid_testimonial_owner")
	ErrInvalidTestimonialCustomer   = errors.New("invalid_testimonial_customer")
	ErrInvalidTestimonialRating     = errors.New("invalid_testimonial_rating")
	ErrInvalidTestimonialMessage    = errors.New("invalid_testimonial_message")
	ErrInvalidTestimonialStatus     = errors.New("invalid_testimonial_status")
	ErrInvalidTestimonialCategory   = errors.New("invalid_testimonial_category")
	ErrInvalidTestimonialIdentifier = errors.New("invalid_testimonial_identifier")
	ErrInvalidStatusTransition      = errors.New("invalid_status_transition")
)

// Testimonial is a customer statement collected for an owner and moderated before display.
type Testimonial struct {
	ID            string    `gorm:"primaryKey;size:36"`
	OwnerID       string    `gorm:"not null;size:320;index:idx_testimonials_owner_created,priority:1"`
	CustomerName  string    `gorm:"not null;size:200"`
	CustomerEmail string    `gorm:"size:320"`
	Rating        int       `gorm:"not null"`
	Message       string    `gorm:"not null;size:4000"`
	Status        string    `gorm:"not null;size:16;index"`
	Category      string    `gorm:"size:100"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index:idx_testimonials_owner_created,priority:2"`
}

// TestimonialInput holds the raw values submitted for a new testimonial.
type TestimonialInput struct {
	OwnerID       string
	CustomerName  string
	CustomerEmail string
	Rating        int
	Message       string
	Category      string
}

// NewTestimonial constructs a pending Testimonial with validated, normalized fields.
func NewTestimonial(input TestimonialInput) (Testimonial, error) {
	testimonial := Testimonial{
		ID:            uuid.NewString(),
		OwnerID:       NormalizeOwnerID(input.OwnerID),
		CustomerName:  strings.TrimSpace(input.CustomerName),
		CustomerEmail: strings.ToLower(strings.TrimSpace(input.CustomerEmail)),
		Rating:        input.Rating,
		Message:       strings.TrimSpace(input.Message),
		Status:        TestimonialStatusPending,
		Category:      strings.TrimSpace(input.Category),
		CreatedAt:     time.Now().UTC(),
	}

	if testimonial.CustomerEmail != "" {
		if len(testimonial.CustomerEmail) > testimonialCustomerEmailMaxLength {
			return Testimonial{}, fmt.Errorf("%w: email too long", ErrInvalidTestimonialCustomer)
		}
		if _, parseErr := mail.ParseAddress(testimonial.CustomerEmail); parseErr != nil {
			return Testimonial{}, fmt.Errorf("%w: %v", ErrInvalidTestimonialCustomer, parseErr)
		}
	}

	if err := testimonial.Validate(); err != nil {
		return Testimonial{}, err
	}
	return testimonial, nil
}

// Validate checks the shape of a testimonial as read back from storage.
func (testimonial Testimonial) Validate() error {
	if strings.TrimSpace(testimonial.ID) == "" {
		return ErrInvalidTestimonialIdentifier
	}
	ownerID := strings.TrimSpace(testimonial.OwnerID)
	if ownerID == "" || len(ownerID) > testimonialOwnerIDMaxLength {
		return ErrInvalidTestimonialOwner
	}
	customerName := strings.TrimSpace(testimonial.CustomerName)
	if customerName == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTestimonialCustomer)
	}
	if len(customerName) > testimonialCustomerNameMaxLength {
		return fmt.Errorf("%w: name too long", ErrInvalidTestimonialCustomer)
	}
	if testimonial.Rating < TestimonialRatingMinimum || testimonial.Rating > TestimonialRatingMaximum {
		return fmt.Errorf("%w: %d", ErrInvalidTestimonialRating, testimonial.Rating)
	}
	message := strings.TrimSpace(testimonial.Message)
	if message == "" || len(message) > testimonialMessageMaxLength {
		return fmt.Errorf("%w: empty or too long", ErrInvalidTestimonialMessage)
	}
	if len(testimonial.Category) > testimonialCategoryMaxLength {
		return fmt.Errorf("%w: too long", ErrInvalidTestimonialCategory)
	}
	if !IsTestimonialStatus(testimonial.Status) {
		return fmt.Errorf("%w: %s", ErrInvalidTestimonialStatus, testimonial.Status)
	}
	if testimonial.CreatedAt.IsZero() {
		return fmt.Errorf("%w: missing created_at", ErrInvalidTestimonialIdentifier)
	}
	return nil
}

// IsApproved reports whether the testimonial may be shown publicly.
func (testimonial Testimonial) IsApproved() bool {
	return testimonial.Status == TestimonialStatusApproved
}

// IsTestimonialStatus reports whether status is one of the known moderation states.
func IsTestimonialStatus(status string) bool {
	switch status {
	case TestimonialStatusPending, TestimonialStatusApproved, TestimonialStatusRejected:
		return true
	default:
		return false
	}
}

// ValidateStatusTransition enforces the moderation lifecycle. Testimonials never return to pending.
func ValidateStatusTransition(currentStatus string, targetStatus string) error {
	if !IsTestimonialStatus(targetStatus) {
		return fmt.Errorf("%w: %s", ErrInvalidTestimonialStatus, targetStatus)
	}
	if targetStatus == TestimonialStatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, currentStatus, targetStatus)
	}
	switch currentStatus {
	case TestimonialStatusPending, TestimonialStatusApproved, TestimonialStatusRejected:
		return nil
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, currentStatus, targetStatus)
	}
}

// NormalizeOwnerID returns the canonical owner identifier for an account email.
func NormalizeOwnerID(rawOwnerID string) string {
	return strings.ToLower(strings.TrimSpace(rawOwnerID))
}
