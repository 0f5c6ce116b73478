package testutil

import (
	"fmt"
	"log"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/model"
	"github.com/MarkoPoloResearchLab/testimonialwall/internal/storage"
)

const (
	sqliteTestDatabaseNamePrefix        = "testimonialwall-test-db"
	sqliteInMemoryDataSourceNamePattern = "file:%s?mode=memory&cache=shared&_foreign_keys=on"
	seededTestimonialMessagePattern     = "Testimonial %d for %s"
	seededTestimonialCustomerName       = "Seeded Customer"
)

// SQLiteTestDatabase describes a private in-memory SQLite database for one test.
type SQLiteTestDatabase struct {
	configuration storage.Config
}

type testingLogWriter struct {
	testingT *testing.T
}

func (writer testingLogWriter) Write(data []byte) (int, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed != "" {
		writer.testingT.Log(trimmed)
	}
	return len(data), nil
}

// NewSQLiteTestDatabase returns a configuration naming a fresh shared-cache in-memory database.
func NewSQLiteTestDatabase(testingT *testing.T) SQLiteTestDatabase {
	testingT.Helper()

	databaseName := fmt.Sprintf("%s-%s", sqliteTestDatabaseNamePrefix, storage.NewID())

	return SQLiteTestDatabase{
		configuration: storage.Config{
			DriverName:     storage.DriverNameSQLite,
			DataSourceName: fmt.Sprintf(sqliteInMemoryDataSourceNamePattern, databaseName),
		},
	}
}

// Configuration returns the storage configuration for the temporary SQLite database.
func (database SQLiteTestDatabase) Configuration() storage.Config {
	return database.configuration
}

// DataSourceName returns the SQLite data source name for the temporary database.
func (database SQLiteTestDatabase) DataSourceName() string {
	return database.configuration.DataSourceName
}

// OpenMigratedDatabase opens a fresh database, routes GORM errors to the test log, and migrates the schema.
// The connection is closed when the test finishes.
func OpenMigratedDatabase(testingT *testing.T) *gorm.DB {
	testingT.Helper()

	database, openErr := storage.OpenDatabase(NewSQLiteTestDatabase(testingT).Configuration())
	if openErr != nil {
		testingT.Fatalf("open test database: %v", openErr)
	}
	database = ConfigureDatabaseLogger(testingT, database)
	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		testingT.Fatalf("migrate test database: %v", migrateErr)
	}

	sqlDatabase, sqlErr := database.DB()
	if sqlErr != nil {
		testingT.Fatalf("access test database: %v", sqlErr)
	}
	testingT.Cleanup(func() {
		_ = sqlDatabase.Close()
	})
	return database
}

// ConfigureDatabaseLogger returns a database session that logs only errors, skipping record-not-found.
func ConfigureDatabaseLogger(testingT *testing.T, database *gorm.DB) *gorm.DB {
	testingT.Helper()
	if database == nil {
		testingT.Fatalf("configure database logger: nil database")
	}
	gormLogger := logger.New(
		log.New(testingLogWriter{testingT: testingT}, "", 0),
		logger.Config{
			IgnoreRecordNotFoundError: true,
			LogLevel:                  logger.Error,
		},
	)
	return database.Session(&gorm.Session{Logger: gormLogger})
}

// SeedTestimonial stores a testimonial with the given status and creation time.
func SeedTestimonial(testingT *testing.T, database *gorm.DB, ownerID string, status string, rating int, createdAt time.Time) model.Testimonial {
	testingT.Helper()

	testimonial, constructErr := model.NewTestimonial(model.TestimonialInput{
		OwnerID:      ownerID,
		CustomerName: seededTestimonialCustomerName,
		Rating:       rating,
		Message:      fmt.Sprintf(seededTestimonialMessagePattern, rating, ownerID),
	})
	if constructErr != nil {
		testingT.Fatalf("construct testimonial: %v", constructErr)
	}
	testimonial.Status = status
	testimonial.CreatedAt = createdAt.UTC()
	if createErr := database.Create(&testimonial).Error; createErr != nil {
		testingT.Fatalf("seed testimonial: %v", createErr)
	}
	return testimonial
}
