package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/raykavin/trailflow/core"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SQLLotStorage implements core.LotStorage on a SQL database via GORM,
// for deployments that prefer an inspectable ledger over the embedded
// key-value store.
type SQLLotStorage struct {
	db *gorm.DB
}

// SQLConfig holds the connection pool settings.
type SQLConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultSQLConfig returns settings suited to a single-session bot.
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		MaxIdleConns:    2,
		MaxOpenConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// NewSQLiteLotStorage opens or creates a SQLite-backed lot storage.
func NewSQLiteLotStorage(dbPath string, config SQLConfig, opts ...gorm.Option) (*SQLLotStorage, error) {
	return newSQLLotStorage(sqlite.Open(dbPath), config, opts...)
}

func newSQLLotStorage(dialect gorm.Dialector, config SQLConfig, opts ...gorm.Option) (*SQLLotStorage, error) {
	db, err := gorm.Open(dialect, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.AutoMigrate(&core.Lot{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLLotStorage{db: db}, nil
}

// Load reads all persisted lots, oldest purchase first.
func (s *SQLLotStorage) Load(ctx context.Context) ([]core.Lot, error) {
	var lots []core.Lot
	result := s.db.WithContext(ctx).Order("created_at asc").Find(&lots)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load lots: %w", result.Error)
	}
	return lots, nil
}

// Save replaces the persisted set with the given lots in one
// transaction.
func (s *SQLLotStorage) Save(ctx context.Context, lots []core.Lot) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if result := tx.Where("1 = 1").Delete(&core.Lot{}); result.Error != nil {
			return result.Error
		}
		if len(lots) == 0 {
			return nil
		}
		if result := tx.Create(&lots); result.Error != nil {
			return result.Error
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save lots: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLLotStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}
