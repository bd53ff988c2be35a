package definitions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"carbon-scribe/report-engine/internal/reports"
)

// DefinitionRecord is a report definition stored in the database
type DefinitionRecord struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Code       string         `gorm:"not null;uniqueIndex" json:"code"`
	Definition datatypes.JSON `gorm:"not null" json:"definition"`
	Enabled    bool           `gorm:"not null;default:true" json:"enabled"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// TableName pins the table name
func (DefinitionRecord) TableName() string {
	return "report_definitions"
}

// GormSource loads definitions from the report_definitions table
type GormSource struct {
	db *gorm.DB
}

// NewGormSource creates a database-backed source
func NewGormSource(db *gorm.DB) *GormSource {
	return &GormSource{db: db}
}

// Migrate creates or updates the report_definitions table
func (s *GormSource) Migrate() error {
	return s.db.AutoMigrate(&DefinitionRecord{})
}

func (s *GormSource) Load(ctx context.Context, code string) (*reports.ReportDefinition, error) {
	var rec DefinitionRecord
	err := s.db.WithContext(ctx).
		Where("code = ? AND enabled = ?", code, true).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("no stored definition for %q: %w", code, reports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load definition %q: %w", code, err)
	}

	var def reports.ReportDefinition
	if err := json.Unmarshal(rec.Definition, &def); err != nil {
		return nil, fmt.Errorf("failed to decode definition %q: %w", code, err)
	}
	return &def, nil
}

func (s *GormSource) List(ctx context.Context) ([]string, error) {
	var codes []string
	err := s.db.WithContext(ctx).
		Model(&DefinitionRecord{}).
		Where("enabled = ?", true).
		Order("code").
		Pluck("code", &codes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	return codes, nil
}

// Save inserts or replaces the stored definition for def.Meta.Code
func (s *GormSource) Save(ctx context.Context, def *reports.ReportDefinition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to encode definition: %w", err)
	}

	rec := DefinitionRecord{
		ID:         uuid.New(),
		Code:       def.Meta.Code,
		Definition: datatypes.JSON(raw),
		Enabled:    true,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"definition", "enabled", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save definition %q: %w", def.Meta.Code, err)
	}
	return nil
}

// Disable hides a stored definition without deleting it
func (s *GormSource) Disable(ctx context.Context, code string) error {
	res := s.db.WithContext(ctx).
		Model(&DefinitionRecord{}).
		Where("code = ?", code).
		Update("enabled", false)
	if res.Error != nil {
		return fmt.Errorf("failed to disable definition %q: %w", code, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("no stored definition for %q: %w", code, reports.ErrNotFound)
	}
	return nil
}
