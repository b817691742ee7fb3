package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/battle-live-backend/internal/engine"
	"github.com/DoyleJ11/battle-live-backend/internal/store"
)

// Postgres error codes that mean "someone else won the race".
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
)

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to Postgres through gorm's pgx driver.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(zapWriter{log.Sugar()}, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return New(db), nil
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&battleRow{}, &roundRow{}, &voteRow{}, &commentRow{})
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) preloaded(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Preload("Rounds", func(db *gorm.DB) *gorm.DB { return db.Order("number") }).
		Preload("Votes").
		Preload("Comments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, id") })
}

func (s *Store) FindByID(ctx context.Context, id string) (engine.Battle, error) {
	var row battleRow
	err := s.preloaded(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.Battle{}, fmt.Errorf("battle %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return engine.Battle{}, fmt.Errorf("find battle %s: %w", id, err)
	}
	return fromRow(row), nil
}

func (s *Store) FindByTaskID(ctx context.Context, taskID string) (engine.Battle, error) {
	var row battleRow
	err := s.preloaded(ctx).First(&row, "song_task_id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.Battle{}, fmt.Errorf("task %s: %w", taskID, store.ErrNotFound)
	}
	if err != nil {
		return engine.Battle{}, fmt.Errorf("find task %s: %w", taskID, err)
	}
	return fromRow(row), nil
}

func (s *Store) ListSongsInFlight(ctx context.Context) ([]engine.Battle, error) {
	var rows []battleRow
	err := s.preloaded(ctx).
		Where("song_status IN ?", []string{string(engine.JobPending), string(engine.JobProcessing)}).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list songs in flight: %w", err)
	}
	out := make([]engine.Battle, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

// Save writes the battle row guarded by its version, then replaces its
// rounds, votes and comments, all in one transaction.
func (s *Store) Save(ctx context.Context, b engine.Battle) (engine.Battle, error) {
	row := toRow(b)
	row.Version = b.Version + 1
	row.UpdatedAt = s.now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = row.UpdatedAt
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if b.Version == 0 {
			if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
				return err
			}
		} else {
			res := tx.Model(&battleRow{}).
				Where("id = ? AND version = ?", b.ID, b.Version).
				Select("*").
				Omit(clause.Associations, "created_at").
				Updates(&row)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				var n int64
				if err := tx.Model(&battleRow{}).Where("id = ?", b.ID).Count(&n).Error; err != nil {
					return err
				}
				if n == 0 {
					return fmt.Errorf("battle %s: %w", b.ID, store.ErrNotFound)
				}
				return fmt.Errorf("battle %s at version %d: %w", b.ID, b.Version, store.ErrConflict)
			}
		}
		return replaceChildren(tx, row)
	})
	if err != nil {
		return engine.Battle{}, translate(err)
	}
	return fromRow(row), nil
}

func replaceChildren(tx *gorm.DB, row battleRow) error {
	for _, model := range []any{&roundRow{}, &voteRow{}, &commentRow{}} {
		if err := tx.Where("battle_id = ?", row.ID).Delete(model).Error; err != nil {
			return err
		}
	}
	if len(row.Rounds) > 0 {
		if err := tx.Create(&row.Rounds).Error; err != nil {
			return err
		}
	}
	if len(row.Votes) > 0 {
		if err := tx.Create(&row.Votes).Error; err != nil {
			return err
		}
	}
	if len(row.Comments) > 0 {
		if err := tx.Create(&row.Comments).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&roundRow{}, &voteRow{}, &commentRow{}} {
			if err := tx.Where("battle_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		res := tx.Delete(&battleRow{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("battle %s: %w", id, store.ErrNotFound)
		}
		return nil
	})
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation, codeSerializationFailure:
			return fmt.Errorf("%s: %w", pgErr.Message, store.ErrConflict)
		}
	}
	return err
}

type zapWriter struct{ log *zap.SugaredLogger }

func (w zapWriter) Printf(format string, args ...any) {
	w.log.Warnf(format, args...)
}
