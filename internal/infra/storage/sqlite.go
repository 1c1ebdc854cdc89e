package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gridsim/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists the summaries of markets that rotated into the past.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the SQLite database at path. An empty path
// falls back to the per-user data directory.
func NewStorage(path string) (*Storage, error) {
	dbPath := path
	if dbPath == "" {
		var err error
		if dbPath, err = getDBPath(); err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.MarketRecord{}, &domain.TradeRecord{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "GridSim", "data", "gridsim.db"), nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Market Operations
// ======================================================================================

// SaveMarket upserts a market record together with its trades in one
// transaction.
func (s *Storage) SaveMarket(rec *domain.MarketRecord, trades []domain.TradeRecord) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(rec).Error; err != nil {
			return fmt.Errorf("save market %s: %w", rec.ID, err)
		}
		for i := range trades {
			trades[i].MarketID = rec.ID
			if err := tx.Save(&trades[i]).Error; err != nil {
				return fmt.Errorf("save trade %s: %w", trades[i].ID, err)
			}
		}
		return nil
	})
}

// GetMarkets lists the stored markets of one area in slot order.
func (s *Storage) GetMarkets(area string) ([]domain.MarketRecord, error) {
	var recs []domain.MarketRecord
	err := s.db.Where("area = ?", area).Order("time_slot, kind").Find(&recs).Error
	return recs, err
}

// GetTrades lists the trades stored for a market.
func (s *Storage) GetTrades(marketID string) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	err := s.db.Where("market_id = ?", marketID).Order("time").Find(&trades).Error
	return trades, err
}

// CountTrades returns the number of stored trades over all markets.
func (s *Storage) CountTrades() (int64, error) {
	var n int64
	err := s.db.Model(&domain.TradeRecord{}).Count(&n).Error
	return n, err
}
