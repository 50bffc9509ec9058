package readmodel

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// OpenGorm wraps a PostgreSQL *sql.DB, such as tabby.Store.DB, for gorm.
func OpenGorm(db *sql.DB) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("readmodel: open gorm: %w", err)
	}
	return gdb, nil
}

// GormTable is a read model stored in the gorm model table of T.
type GormTable[T any] struct {
	db *gorm.DB
	q  queue[T]
}

func NewGormTable[T any](db *gorm.DB) *GormTable[T] {
	return &GormTable[T]{db: db}
}

func (t *GormTable[T]) Init(ctx context.Context) error {
	if err := t.db.WithContext(ctx).AutoMigrate(new(T)); err != nil {
		return fmt.Errorf("readmodel: migrate: %w", err)
	}
	return nil
}

func (t *GormTable[T]) IsInitialized(ctx context.Context) (bool, error) {
	return t.db.WithContext(ctx).Migrator().HasTable(new(T)), nil
}

func (t *GormTable[T]) Reset(ctx context.Context) error {
	t.q.clear()
	err := t.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(new(T)).Error
	if err != nil {
		return fmt.Errorf("readmodel: reset: %w", err)
	}
	return nil
}

func (t *GormTable[T]) Delete(ctx context.Context) error {
	t.q.clear()
	if err := t.db.WithContext(ctx).Migrator().DropTable(new(T)); err != nil {
		return fmt.Errorf("readmodel: drop table: %w", err)
	}
	return nil
}

func (t *GormTable[T]) Stack(operation string, args ...any) { t.q.push(operation, args) }

func (t *GormTable[T]) Persist(ctx context.Context) error {
	ops, err := t.q.drain()
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, o := range ops {
			var err error
			switch o.kind {
			case OpInsert:
				err = tx.Create(o.row).Error
			case OpUpdate:
				err = tx.Model(o.row).Select("*").Updates(o.row).Error
			case OpUpsert:
				err = tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(o.row).Error
			case OpDelete:
				err = tx.Delete(o.row).Error
			}
			if err != nil {
				return fmt.Errorf("readmodel: %s: %w", o.kind, err)
			}
		}
		return nil
	})
}
