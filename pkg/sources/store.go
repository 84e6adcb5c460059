package sources

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/git-habz/maas/internal/logger"
)

// DatabaseType defines the supported control-plane backends.
type DatabaseType string

const (
	// DatabaseTypeSQLite uses SQLite (single-node, default).
	DatabaseTypeSQLite DatabaseType = "sqlite"

	// DatabaseTypePostgres uses PostgreSQL.
	DatabaseTypePostgres DatabaseType = "postgres"
)

// Config contains control-plane database configuration.
type Config struct {
	Type DatabaseType `mapstructure:"type" yaml:"type"`

	// Path is the SQLite database file (sqlite only).
	Path string `mapstructure:"path" yaml:"path"`

	// DSN is the PostgreSQL connection string (postgres only).
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		c.Type = DatabaseTypeSQLite
	}
	if c.Type == DatabaseTypeSQLite && c.Path == "" {
		c.Path = filepath.Join(os.TempDir(), "maas-controlplane.db")
	}
}

// Default boot source definition, used when no source rows exist.
const (
	DefaultSourceURL     = "http://images.maas.io/ephemeral-v2/releases/"
	DefaultSourceKeyring = "/usr/share/keyrings/ubuntu-cloudimage-keyring.gpg"
)

// Well-known configuration keys.
const (
	ConfigBootImagesAutoImport = "boot_images_auto_import"
	ConfigCommissioningOSystem = "commissioning_osystem"
	ConfigCommissioningSeries  = "commissioning_distro_series"
	ConfigDefaultOSystem       = "default_osystem"
	ConfigDefaultSeries        = "default_distro_series"
)

// ComponentImportPXEFiles is the persistent-warning slot for missing boot
// images.
const ComponentImportPXEFiles = "import-pxe-files"

// Store provides access to boot sources, settings, and component warnings.
type Store struct {
	db *gorm.DB
}

// Open connects to the control-plane database and migrates its schema.
func Open(cfg Config) (*Store, error) {
	cfg.ApplyDefaults()

	var dialector gorm.Dialector
	switch cfg.Type {
	case DatabaseTypeSQLite:
		dialector = sqlite.Open(cfg.Path)
	case DatabaseTypePostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening control-plane database: %w", err)
	}

	if err := db.AutoMigrate(
		&BootSource{},
		&BootSourceSelection{},
		&ConfigSetting{},
		&ComponentError{},
	); err != nil {
		return nil, fmt.Errorf("migrating control-plane schema: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open gorm handle. Used by tests with an
// in-memory SQLite database.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(
		&BootSource{},
		&BootSourceSelection{},
		&ConfigSetting{},
		&ComponentError{},
	); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ============================================================================
// Boot sources
// ============================================================================

// EnsureDefaultDefinition seeds the default boot source when no sources
// exist. Returns true when the definition was created.
func (s *Store) EnsureDefaultDefinition() (bool, error) {
	var count int64
	if err := s.db.Model(&BootSource{}).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	source := BootSource{
		URL:             DefaultSourceURL,
		KeyringFilename: DefaultSourceKeyring,
		Selections: []BootSourceSelection{{
			OS:        "ubuntu",
			Release:   "focal",
			Arches:    "amd64",
			Subarches: "*",
			Labels:    "*",
		}},
	}
	if err := s.db.Create(&source).Error; err != nil {
		return false, fmt.Errorf("creating default boot source: %w", err)
	}
	logger.Info("Created default boot source", logger.SourceURL(source.URL))
	return true, nil
}

// AddSource stores a new boot source.
func (s *Store) AddSource(source *BootSource) error {
	return s.db.Create(source).Error
}

// Sources returns every boot source with its selections.
func (s *Store) Sources() ([]*BootSource, error) {
	var out []*BootSource
	if err := s.db.Preload("Selections").Order("id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ============================================================================
// Global configuration
// ============================================================================

// ConfigGet returns a configuration value and whether it is set.
func (s *Store) ConfigGet(name string) (string, bool, error) {
	var row ConfigSetting
	err := s.db.Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

// ConfigSet stores a configuration value, replacing any previous one.
func (s *Store) ConfigSet(name, value string) error {
	row := ConfigSetting{Name: name, Value: value}
	return s.db.
		Where(ConfigSetting{Name: name}).
		Assign(ConfigSetting{Value: value}).
		FirstOrCreate(&row).Error
}

// ConfigGetBool returns a boolean configuration value, falling back to the
// default when unset or unparsable.
func (s *Store) ConfigGetBool(name string, fallback bool) (bool, error) {
	value, ok, err := s.ConfigGet(name)
	if err != nil {
		return fallback, err
	}
	if !ok {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, nil
	}
	return parsed, nil
}

// ============================================================================
// Persistent component warnings
// ============================================================================

// RegisterPersistentError records (or replaces) a component's warning.
func (s *Store) RegisterPersistentError(component, message string) error {
	row := ComponentError{Component: component, Error: message}
	return s.db.
		Where(ComponentError{Component: component}).
		Assign(ComponentError{Error: message}).
		FirstOrCreate(&row).Error
}

// DiscardPersistentError clears a component's warning, if any.
func (s *Store) DiscardPersistentError(component string) error {
	return s.db.Where("component = ?", component).Delete(&ComponentError{}).Error
}

// PersistentError returns a component's warning, or "" when none is set.
func (s *Store) PersistentError(component string) (string, error) {
	var row ComponentError
	err := s.db.Where("component = ?", component).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Error, nil
}
