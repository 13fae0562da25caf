package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/apd/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dentalytics/dentasync/internal/config"
	"github.com/dentalytics/dentasync/internal/db"
)

// Load status values persisted alongside each watermark.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	watermarkTableName = "sync_watermark"

	// TimeFormat is the canonical watermark format for timestamp columns.
	// It is both what MySQL accepts as a literal and lexically ordered,
	// so string comparison matches chronological comparison.
	TimeFormat = "2006-01-02 15:04:05"
)

// Watermark is one row of the sync_watermark bookkeeping table, stored in
// the target schema next to the replicated tables.
type Watermark struct {
	Table              string    `gorm:"column:table_name;primaryKey;size:128"`
	LastExtractedValue string    `gorm:"column:last_extracted_value;size:64;not null"`
	RowsLoaded         int64     `gorm:"column:rows_loaded;not null;default:0"`
	LoadStatus         string    `gorm:"column:load_status;size:16;not null"`
	UpdatedAt          time.Time `gorm:"column:updated_at"`
}

// EpochValue returns the initial watermark for a table that has never been
// loaded. Everything in the source compares greater than it.
func EpochValue(kind config.IncrementalKind) string {
	if kind == config.IncrementalID {
		return "0"
	}
	return "0001-01-01 00:00:00"
}

// CompareWatermarks orders two watermark values under the given kind.
// Timestamp watermarks use the canonical format and compare lexically;
// numeric id watermarks compare as arbitrary-precision decimals so values
// beyond int64 range (some installations use composite synthetic keys)
// still order correctly.
func CompareWatermarks(kind config.IncrementalKind, a, b string) (int, error) {
	if kind == config.IncrementalID {
		da, _, err := apd.NewFromString(a)
		if err != nil {
			return 0, fmt.Errorf("parse watermark %q: %w", a, err)
		}
		dby, _, err := apd.NewFromString(b)
		if err != nil {
			return 0, fmt.Errorf("parse watermark %q: %w", b, err)
		}
		return da.Cmp(dby), nil
	}
	switch {
	case a < b:
		return -1, nil
	case a > b:
		return 1, nil
	default:
		return 0, nil
	}
}

// Tracker persists per-table watermarks. Implementations must be safe for
// concurrent use across table workers.
type Tracker interface {
	// Get returns the stored watermark for a table, or nil when the table
	// has never been tracked.
	Get(ctx context.Context, table string) (*Watermark, error)
	// Begin marks the table in_progress without touching the committed value.
	Begin(ctx context.Context, table string) error
	// Commit advances the watermark and marks the load completed. A commit
	// that would move the value backwards is rejected.
	Commit(ctx context.Context, tc *config.TableConfig, newValue string, rows int64) error
	// Fail marks the table failed, leaving the committed value untouched.
	Fail(ctx context.Context, table string) error
	// Reset rewinds the watermark to the epoch so the next load is full.
	Reset(ctx context.Context, tc *config.TableConfig) error
}

// GormTracker stores watermarks in the target database.
type GormTracker struct {
	db     *gorm.DB
	table  string
	logger *zap.Logger
}

// NewGormTracker migrates the bookkeeping table in the target schema and
// returns a tracker bound to it.
func NewGormTracker(conn *db.Connector, schema string, logger *zap.Logger) (*GormTracker, error) {
	name := watermarkTableName
	if conn.Dialect == "postgres" && schema != "" {
		name = schema + "." + watermarkTableName
	}
	if err := conn.DB.Table(name).AutoMigrate(&Watermark{}); err != nil {
		return nil, fmt.Errorf("migrate watermark table %s: %w", name, err)
	}
	return &GormTracker{
		db:     conn.DB,
		table:  name,
		logger: logger.Named("watermark-tracker"),
	}, nil
}

func (t *GormTracker) Get(ctx context.Context, table string) (*Watermark, error) {
	var wm Watermark
	err := t.db.WithContext(ctx).Table(t.table).
		Where("table_name = ?", table).
		Take(&wm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &WatermarkStoreError{Table: table, Op: "get", Err: err}
	}
	return &wm, nil
}

func (t *GormTracker) Begin(ctx context.Context, table string) error {
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var wm Watermark
		err := tx.Table(t.table).Where("table_name = ?", table).Take(&wm).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			wm = Watermark{
				Table:              table,
				LastExtractedValue: "",
				LoadStatus:         StatusInProgress,
				UpdatedAt:          time.Now(),
			}
			return tx.Table(t.table).Create(&wm).Error
		}
		if err != nil {
			return err
		}
		return tx.Table(t.table).Where("table_name = ?", table).
			Updates(map[string]interface{}{
				"load_status": StatusInProgress,
				"updated_at":  time.Now(),
			}).Error
	})
	if err != nil {
		return &WatermarkStoreError{Table: table, Op: "begin", Err: err}
	}
	return nil
}

func (t *GormTracker) Commit(ctx context.Context, tc *config.TableConfig, newValue string, rows int64) error {
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var wm Watermark
		err := tx.Table(t.table).Where("table_name = ?", tc.Name).Take(&wm).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil && wm.LastExtractedValue != "" {
			cmp, cerr := CompareWatermarks(tc.IncrementalKind, newValue, wm.LastExtractedValue)
			if cerr != nil {
				return cerr
			}
			if cmp < 0 {
				return fmt.Errorf("watermark regression: %q is older than committed %q", newValue, wm.LastExtractedValue)
			}
		}
		return tx.Table(t.table).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "table_name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"last_extracted_value", "rows_loaded", "load_status", "updated_at",
			}),
		}).Create(&Watermark{
			Table:              tc.Name,
			LastExtractedValue: newValue,
			RowsLoaded:         rows,
			LoadStatus:         StatusCompleted,
			UpdatedAt:          time.Now(),
		}).Error
	})
	if err != nil {
		return &WatermarkStoreError{Table: tc.Name, Op: "commit", Err: err}
	}
	t.logger.Debug("Watermark committed",
		zap.String("table", tc.Name),
		zap.String("value", newValue),
		zap.Int64("rows", rows))
	return nil
}

func (t *GormTracker) Fail(ctx context.Context, table string) error {
	err := t.db.WithContext(ctx).Table(t.table).
		Where("table_name = ?", table).
		Updates(map[string]interface{}{
			"load_status": StatusFailed,
			"updated_at":  time.Now(),
		}).Error
	if err != nil {
		return &WatermarkStoreError{Table: table, Op: "fail", Err: err}
	}
	return nil
}

func (t *GormTracker) Reset(ctx context.Context, tc *config.TableConfig) error {
	epoch := EpochValue(tc.IncrementalKind)
	err := t.db.WithContext(ctx).Table(t.table).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "table_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_extracted_value", "rows_loaded", "load_status", "updated_at",
		}),
	}).Create(&Watermark{
		Table:              tc.Name,
		LastExtractedValue: epoch,
		RowsLoaded:         0,
		LoadStatus:         StatusPending,
		UpdatedAt:          time.Now(),
	}).Error
	if err != nil {
		return &WatermarkStoreError{Table: tc.Name, Op: "reset", Err: err}
	}
	t.logger.Info("Watermark reset to epoch",
		zap.String("table", tc.Name),
		zap.String("epoch", epoch))
	return nil
}
