package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/model"
)

const (
	operationResolveWidget = "resolve widget"
	operationFindWidget    = "find owner widget"
	operationSaveWidget    = "save widget"
)

// WidgetOwner is the active binding of a widget identifier to its owner and stored configuration.
type WidgetOwner struct {
	WidgetID       string
	OwnerID        string
	ConfigDocument []byte
}

// WidgetRepository persists widget records.
type WidgetRepository struct {
	database *gorm.DB
}

// NewWidgetRepository constructs a WidgetRepository.
func NewWidgetRepository(database *gorm.DB) *WidgetRepository {
	return &WidgetRepository{database: database}
}

// ResolveWidgetOwner returns the owner and stored configuration document of an active widget.
func (repository *WidgetRepository) ResolveWidgetOwner(ctx context.Context, widgetID string) (WidgetOwner, error) {
	trimmedWidgetID := strings.TrimSpace(widgetID)
	if !IsWidgetID(trimmedWidgetID) {
		return WidgetOwner{}, fmt.Errorf("%w: %s", ErrWidgetNotFound, trimmedWidgetID)
	}

	var record model.WidgetRecord
	queryErr := repository.database.WithContext(ctx).
		Where("widget_id = ? AND retired = ?", trimmedWidgetID, false).
		Take(&record).Error
	if errors.Is(queryErr, gorm.ErrRecordNotFound) {
		return WidgetOwner{}, fmt.Errorf("%w: %s", ErrWidgetNotFound, trimmedWidgetID)
	}
	if queryErr != nil {
		return WidgetOwner{}, unavailable(operationResolveWidget, queryErr)
	}

	return widgetOwnerFromRecord(record), nil
}

// FindActiveWidget returns the active widget of an owner.
func (repository *WidgetRepository) FindActiveWidget(ctx context.Context, ownerID string) (WidgetOwner, error) {
	normalizedOwnerID := model.NormalizeOwnerID(ownerID)
	if normalizedOwnerID == "" {
		return WidgetOwner{}, ErrWidgetNotFound
	}

	var record model.WidgetRecord
	queryErr := repository.database.WithContext(ctx).
		Where("owner_id = ? AND retired = ?", normalizedOwnerID, false).
		Order("updated_at DESC").
		Take(&record).Error
	if errors.Is(queryErr, gorm.ErrRecordNotFound) {
		return WidgetOwner{}, fmt.Errorf("%w: owner %s", ErrWidgetNotFound, normalizedOwnerID)
	}
	if queryErr != nil {
		return WidgetOwner{}, unavailable(operationFindWidget, queryErr)
	}

	return widgetOwnerFromRecord(record), nil
}

// SaveWidget upserts the widget record and retires every other active widget of the owner.
// Repeating a save with the same arguments leaves the database unchanged.
func (repository *WidgetRepository) SaveWidget(ctx context.Context, widgetID string, ownerID string, document []byte) error {
	trimmedWidgetID := strings.TrimSpace(widgetID)
	normalizedOwnerID := model.NormalizeOwnerID(ownerID)
	if !IsWidgetID(trimmedWidgetID) || normalizedOwnerID == "" {
		return fmt.Errorf("%w: widget %q owner %q", ErrInvalidWidgetRecord, trimmedWidgetID, normalizedOwnerID)
	}

	transactionErr := repository.database.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var existing model.WidgetRecord
		findErr := transaction.Where("widget_id = ?", trimmedWidgetID).Take(&existing).Error
		switch {
		case findErr == nil:
			if existing.OwnerID != normalizedOwnerID {
				return fmt.Errorf("%w: %s", ErrWidgetOwnerMismatch, trimmedWidgetID)
			}
			if existing.Retired {
				return fmt.Errorf("%w: %s", ErrWidgetRetired, trimmedWidgetID)
			}
		case errors.Is(findErr, gorm.ErrRecordNotFound):
		default:
			return unavailable(operationSaveWidget, findErr)
		}

		record := model.WidgetRecord{
			WidgetID:       trimmedWidgetID,
			OwnerID:        normalizedOwnerID,
			ConfigDocument: string(document),
		}
		upsertErr := transaction.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "widget_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"config_document", "updated_at"}),
		}).Create(&record).Error
		if upsertErr != nil {
			return unavailable(operationSaveWidget, upsertErr)
		}

		retireErr := transaction.Model(&model.WidgetRecord{}).
			Where("owner_id = ? AND widget_id <> ? AND retired = ?", normalizedOwnerID, trimmedWidgetID, false).
			Update("retired", true).Error
		if retireErr != nil {
			return unavailable(operationSaveWidget, retireErr)
		}
		return nil
	})
	if transactionErr == nil {
		return nil
	}
	if errors.Is(transactionErr, ErrWidgetOwnerMismatch) || errors.Is(transactionErr, ErrWidgetRetired) || errors.Is(transactionErr, ErrUnavailable) {
		return transactionErr
	}
	return unavailable(operationSaveWidget, transactionErr)
}

func widgetOwnerFromRecord(record model.WidgetRecord) WidgetOwner {
	return WidgetOwner{
		WidgetID:       record.WidgetID,
		OwnerID:        record.OwnerID,
		ConfigDocument: []byte(record.ConfigDocument),
	}
}
