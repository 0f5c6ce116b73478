package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/model"
)

const (
	// DriverNameSQLite identifies the SQLite driver implementation.
	DriverNameSQLite = "sqlite"

	// WidgetIDPrefix marks public widget identifiers.
	WidgetIDPrefix = "widget_"

	errorMessageMissingDatabaseDriverName = "storage: missing database driver name"
	errorMessageUnsupportedDatabaseDriver = "storage: unsupported database driver"
	errorMessageMissingDataSourceName     = "storage: missing database data source name"
	errorMessageOpenDatabase              = "storage: open database"
	errorMessageOpenSQLiteDatabase        = "storage: open sqlite database"
	errorMessageUnavailable               = "storage: unavailable"
	errorMessageWidgetNotFound            = "storage: widget not found"
	errorMessageWidgetOwnerMismatch       = "storage: widget belongs to another owner"
	errorMessageWidgetRetired             = "storage: widget identifier retired"
	errorMessageTestimonialNotFound       = "storage: testimonial not found"
	errorMessageInvalidWidgetRecord       = "storage: invalid widget record"
)

var (
	// ErrMissingDatabaseDriverName indicates the database driver name configuration was omitted.
	ErrMissingDatabaseDriverName = errors.New(errorMessageMissingDatabaseDriverName)
	// ErrUnsupportedDatabaseDriver indicates the provided database driver is not supported.
	ErrUnsupportedDatabaseDriver = errors.New(errorMessageUnsupportedDatabaseDriver)
	// ErrMissingDataSourceName indicates the database data source name configuration was omitted.
	ErrMissingDataSourceName = errors.New(errorMessageMissingDataSourceName)
	// ErrUnavailable marks failures of the database itself. Callers may retry them.
	ErrUnavailable = errors.New(errorMessageUnavailable)
	// ErrWidgetNotFound indicates an unknown, retired, or malformed widget identifier.
	ErrWidgetNotFound = errors.New(errorMessageWidgetNotFound)
	// ErrWidgetOwnerMismatch indicates an attempt to save a widget identifier owned by someone else.
	ErrWidgetOwnerMismatch = errors.New(errorMessageWidgetOwnerMismatch)
	// ErrWidgetRetired indicates an attempt to reactivate a regenerated widget identifier.
	ErrWidgetRetired = errors.New(errorMessageWidgetRetired)
	// ErrTestimonialNotFound indicates the testimonial does not exist for the owner.
	ErrTestimonialNotFound = errors.New(errorMessageTestimonialNotFound)
	// ErrInvalidWidgetRecord indicates missing identifiers on a widget save.
	ErrInvalidWidgetRecord = errors.New(errorMessageInvalidWidgetRecord)
)

type databaseOpener func(Config) (*gorm.DB, error)

var databaseOpeners = map[string]databaseOpener{
	DriverNameSQLite: openSQLiteDatabase,
}

// Config captures database connection configuration.
type Config struct {
	DriverName     string
	DataSourceName string
}

// OpenDatabase opens a database connection using the configured driver and data source name.
func OpenDatabase(configuration Config) (*gorm.DB, error) {
	trimmedDriverName := strings.TrimSpace(configuration.DriverName)
	if trimmedDriverName == "" {
		return nil, ErrMissingDatabaseDriverName
	}

	opener, driverSupported := databaseOpeners[trimmedDriverName]
	if !driverSupported {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDatabaseDriver, trimmedDriverName)
	}

	database, openErr := opener(Config{
		DriverName:     trimmedDriverName,
		DataSourceName: strings.TrimSpace(configuration.DataSourceName),
	})
	if openErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageOpenDatabase, openErr)
	}

	return database, nil
}

func openSQLiteDatabase(configuration Config) (*gorm.DB, error) {
	if configuration.DataSourceName == "" {
		return nil, ErrMissingDataSourceName
	}

	database, openErr := gorm.Open(sqlite.Open(configuration.DataSourceName), &gorm.Config{})
	if openErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageOpenSQLiteDatabase, openErr)
	}

	return database, nil
}

// AutoMigrate runs database migrations for the storage layer models.
func AutoMigrate(database *gorm.DB) error {
	return database.AutoMigrate(&model.Testimonial{}, &model.WidgetRecord{})
}

// NewID generates a new globally unique identifier.
func NewID() string {
	return uuid.NewString()
}

// NewWidgetID generates a URL-safe public widget identifier ordered by creation time.
func NewWidgetID() string {
	return WidgetIDPrefix + ksuid.New().String()
}

// IsWidgetID reports whether value has the shape produced by NewWidgetID.
func IsWidgetID(value string) bool {
	if !strings.HasPrefix(value, WidgetIDPrefix) {
		return false
	}
	_, parseErr := ksuid.Parse(strings.TrimPrefix(value, WidgetIDPrefix))
	return parseErr == nil
}

func unavailable(operation string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, operation, err)
}
