package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/roulettebot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATABASE - Outcome and wager persistence
// ═══════════════════════════════════════════════════════════════════════════════

type Database struct {
	db *gorm.DB
}

// Models

// OutcomeRow is one drawn result. Append-only.
type OutcomeRow struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Account    string `gorm:"index:idx_outcome_account_round"`
	TableID    string
	RoundID    string `gorm:"index:idx_outcome_account_round"`
	Value      int
	Color      string // R, B, G
	Sequence   uint64
	ObservedAt time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// WagerRow is one settled wager. Append-only.
type WagerRow struct {
	ID          string `gorm:"primaryKey"`
	Account     string `gorm:"index"`
	RoundID     string `gorm:"index"`
	StageIndex  int
	LevelIndex  int
	Predicted   string
	Actual      string
	ActualValue int
	IsWin       bool
	Result      string          `gorm:"index"` // WIN, LOSS, GREEN_LOSS, MAX_STAGE
	Amount      decimal.Decimal `gorm:"type:decimal(20,6)"`
	Simulated   bool
	SettledAt   time.Time `gorm:"index"`
	CreatedAt   time.Time
}

// StageAggregate is the per-stage win/loss rollup used by reporting
type StageAggregate struct {
	StageIndex int
	Wins       int64
	Losses     int64
	Staked     decimal.Decimal
}

// New opens PostgreSQL when dbPath is a postgres DSN, SQLite otherwise
func New(dbPath string) (*Database, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("💾 Database connected (PostgreSQL)")
	} else {
		if !strings.HasPrefix(dbPath, "file:") && dbPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("💾 Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&OutcomeRow{}, &WagerRow{}); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// Close releases the underlying connection pool
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Outcome operations

func (d *Database) SaveOutcome(account, tableID string, o types.Outcome) error {
	row := &OutcomeRow{
		Account:    account,
		TableID:    tableID,
		RoundID:    o.RoundID,
		Value:      o.Value,
		Color:      o.Color.String(),
		Sequence:   o.Sequence,
		ObservedAt: o.ObservedAt,
	}
	return d.db.Create(row).Error
}

// RecentOutcomes returns the newest outcomes first
func (d *Database) RecentOutcomes(account string, limit int) ([]OutcomeRow, error) {
	var rows []OutcomeRow
	err := d.db.Where("account = ?", account).Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Wager operations

func (d *Database) SaveWager(rec types.WagerRecord) error {
	if rec.ID == "" {
		return errors.New("wager record without id")
	}
	row := &WagerRow{
		ID:          rec.ID,
		Account:     rec.Account,
		RoundID:     rec.RoundID,
		StageIndex:  rec.StageIndex,
		LevelIndex:  rec.LevelIndex,
		Predicted:   rec.Predicted.String(),
		Actual:      rec.Actual.String(),
		ActualValue: rec.ActualValue,
		IsWin:       rec.IsWin,
		Result:      rec.Result,
		Amount:      rec.Amount,
		Simulated:   rec.Simulated,
		SettledAt:   rec.SettledAt,
	}
	return d.db.Create(row).Error
}

// RecentWagers returns the newest settled wagers first
func (d *Database) RecentWagers(account string, limit int) ([]WagerRow, error) {
	var rows []WagerRow
	err := d.db.Where("account = ?", account).Order("settled_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// StageAggregates groups settled wagers by stage
func (d *Database) StageAggregates(account string) ([]StageAggregate, error) {
	var rows []WagerRow
	if err := d.db.Where("account = ?", account).Find(&rows).Error; err != nil {
		return nil, err
	}

	byStage := make(map[int]*StageAggregate)
	maxStage := -1
	for _, r := range rows {
		agg, ok := byStage[r.StageIndex]
		if !ok {
			agg = &StageAggregate{StageIndex: r.StageIndex, Staked: decimal.Zero}
			byStage[r.StageIndex] = agg
		}
		if r.IsWin {
			agg.Wins++
		} else {
			agg.Losses++
		}
		agg.Staked = agg.Staked.Add(r.Amount)
		if r.StageIndex > maxStage {
			maxStage = r.StageIndex
		}
	}

	out := make([]StageAggregate, 0, len(byStage))
	for i := 0; i <= maxStage; i++ {
		if agg, ok := byStage[i]; ok {
			out = append(out, *agg)
		}
	}
	return out, nil
}

// GetStats returns totals for an account
func (d *Database) GetStats(account string) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var outcomeCount int64
	if err := d.db.Model(&OutcomeRow{}).Where("account = ?", account).Count(&outcomeCount).Error; err != nil {
		return nil, err
	}
	stats["total_outcomes"] = outcomeCount

	var wagerCount int64
	d.db.Model(&WagerRow{}).Where("account = ?", account).Count(&wagerCount)
	stats["total_wagers"] = wagerCount

	var winCount int64
	d.db.Model(&WagerRow{}).Where("account = ? AND is_win = ?", account, true).Count(&winCount)
	stats["wins"] = winCount

	var maxStage int64
	d.db.Model(&WagerRow{}).Where("account = ? AND result = ?", account, types.ResultMaxStage).Count(&maxStage)
	stats["max_stage_losses"] = maxStage

	return stats, nil
}
