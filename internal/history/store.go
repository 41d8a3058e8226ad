package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/battle-sync/pkg/types"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrUnknownDriver = errors.New("unknown store driver")

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type resultRow struct {
	ID              uint             `gorm:"primaryKey"`
	BattleID        string           `gorm:"not null;uniqueIndex:idx_qte_results_battle_qte"`
	QteID           string           `gorm:"not null;uniqueIndex:idx_qte_results_battle_qte"`
	ResponderUnitID string           `gorm:"not null"`
	PreviousQteID   string
	Outcome         string           `gorm:"not null"`
	ResolvedAt      int64            `gorm:"not null"`
	Expired         bool
	Cancelled       bool
	Winner          *types.Responder `gorm:"serializer:json;type:text"`
	Scores          []types.Score    `gorm:"serializer:json;type:text"`
	CreatedAt       time.Time
}

func (resultRow) TableName() string { return "qte_results" }

func toRow(r types.QTEResult) resultRow {
	c := r.Clone()
	return resultRow{
		BattleID:        c.BattleID,
		QteID:           c.QteID,
		ResponderUnitID: c.ResponderUnitID,
		PreviousQteID:   c.PreviousQteID,
		Outcome:         string(c.Outcome),
		ResolvedAt:      c.ResolvedAt,
		Expired:         c.Expired,
		Cancelled:       c.Cancelled,
		Winner:          c.Winner,
		Scores:          c.Scores,
	}
}

func (row resultRow) result() types.QTEResult {
	scores := row.Scores
	if scores == nil {
		scores = []types.Score{}
	}
	return types.QTEResult{
		QteID:           row.QteID,
		BattleID:        row.BattleID,
		ResponderUnitID: row.ResponderUnitID,
		PreviousQteID:   row.PreviousQteID,
		Outcome:         types.Outcome(row.Outcome),
		ResolvedAt:      row.ResolvedAt,
		Expired:         row.Expired,
		Cancelled:       row.Cancelled,
		Winner:          row.Winner,
		Scores:          scores,
	}
}

// Open connects gorm to postgres or sqlite.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return db, nil
}

// Store is the durable Ledger backed by gorm.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&resultRow{}); err != nil {
		return nil, fmt.Errorf("migrate qte_results: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Append(ctx context.Context, res types.QTEResult) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		err := tx.Model(&resultRow{}).
			Where("battle_id = ? AND qte_id = ?", res.BattleID, res.QteID).
			Count(&n).Error
		if err != nil {
			return fmt.Errorf("check %s: %w", res.QteID, err)
		}
		if n > 0 {
			return ErrDuplicateResult
		}
		row := toRow(res)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert %s: %w", res.QteID, err)
		}
		return nil
	})
}

func (s *Store) List(ctx context.Context, battleID string) ([]types.QTEResult, error) {
	var rows []resultRow
	err := s.db.WithContext(ctx).
		Where("battle_id = ?", battleID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", battleID, err)
	}
	out := make([]types.QTEResult, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.result())
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
