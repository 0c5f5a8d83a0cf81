package sqlite

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/xerrors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/cvemind/cvemind/pkg/cve"
	"github.com/cvemind/cvemind/pkg/persistence"
)

// recordModel is the row shape of the cves table.
type recordModel struct {
	ID            string `gorm:"primaryKey"`
	Description   string
	Severity      string     `gorm:"index"`
	PublishedDate *time.Time `gorm:"index"`
	References    []string   `gorm:"serializer:json"`
}

func (recordModel) TableName() string {
	return "cves"
}

type store struct {
	db *gorm.DB
}

// Open opens the SQLite database at path with query tracing enabled.
// Use ":memory:" for a throwaway database.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, xerrors.Errorf("opening sqlite database: %w", err)
	}

	if err = db.Use(tracing.NewPlugin()); err != nil {
		return nil, xerrors.Errorf("installing tracing plugin: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, xerrors.Errorf("getting sql handle: %w", err)
	}
	// SQLite allows a single writer, and every ":memory:" connection is a separate database.
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

// NewStore migrates the cves table and returns a persistence.Store backed by db.
func NewStore(db *gorm.DB) (persistence.Store, error) {
	if err := db.AutoMigrate(&recordModel{}); err != nil {
		return nil, xerrors.Errorf("migrating cves table: %w", err)
	}
	return &store{db: db}, nil
}

func (s *store) Get(ctx context.Context, id string) (*cve.StoredRecord, error) {
	var model recordModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, &persistence.ReadError{Op: "get", Err: err}
	}
	record := toRecord(model)
	return &record, nil
}

// Find narrows by severity in SQL and matches the keyword in Go. SQLite's LOWER and LIKE fold
// ASCII only, so the keyword is matched with Filter.Matches to fold case the same way as the
// Redis store.
func (s *store) Find(ctx context.Context, filter persistence.Filter) ([]cve.StoredRecord, error) {
	query := s.db.WithContext(ctx).Model(&recordModel{})
	if severity := strings.TrimSpace(filter.Severity); severity != "" {
		query = query.Where("UPPER(severity) = ?", strings.ToUpper(severity))
	}

	var models []recordModel
	if err := query.Order("id").Find(&models).Error; err != nil {
		return nil, &persistence.ReadError{Op: "find", Err: err}
	}
	records := lo.Map(models, func(m recordModel, _ int) cve.StoredRecord {
		return toRecord(m)
	})
	return lo.Filter(records, func(r cve.StoredRecord, _ int) bool {
		return filter.Matches(r)
	}), nil
}

func (s *store) Save(ctx context.Context, record cve.StoredRecord) error {
	model := toModel(record)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&model).Error
	if err != nil {
		return &persistence.WriteError{ID: record.ID, Err: err}
	}
	return nil
}

func (s *store) All(ctx context.Context) ([]cve.StoredRecord, error) {
	var models []recordModel
	if err := s.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, &persistence.ReadError{Op: "all", Err: err}
	}
	return lo.Map(models, func(m recordModel, _ int) cve.StoredRecord {
		return toRecord(m)
	}), nil
}

func toModel(record cve.StoredRecord) recordModel {
	return recordModel{
		ID:            record.ID,
		Description:   record.Description,
		Severity:      record.Severity.String(),
		PublishedDate: record.PublishedDate,
		References:    record.References,
	}
}

func toRecord(model recordModel) cve.StoredRecord {
	record := cve.StoredRecord{
		ID:          model.ID,
		Description: model.Description,
		Severity:    cve.ParseSeverity(model.Severity),
		References:  model.References,
	}
	if model.PublishedDate != nil {
		published := model.PublishedDate.UTC()
		record.PublishedDate = &published
	}
	return record
}
