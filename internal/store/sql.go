package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// entry is one session-store row. Values are JSON-encoded so arbitrary
// script values round-trip through both SQLite and PostgreSQL.
type entry struct {
	SessionID string    `gorm:"primaryKey;size:64;column:session_id"`
	Key       string    `gorm:"primaryKey;size:255;column:key"`
	Value     string    `gorm:"column:value"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (entry) TableName() string { return "session_entries" }

// SQL is a gorm-backed session store. Rows are scoped by session ID so
// independent sessions sharing one database never observe each other.
type SQL struct {
	db      *gorm.DB
	session string
}

// NewSQLite opens (or creates) a SQLite-backed store at path for the given
// session ID.
func NewSQLite(path, sessionID string) (*SQL, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	return newSQL(db, sessionID)
}

// NewPostgres opens a PostgreSQL-backed store for the given session ID.
func NewPostgres(dsn, sessionID string) (*SQL, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening postgres store: %w", err)
	}
	return newSQL(db, sessionID)
}

func newSQL(db *gorm.DB, sessionID string) (*SQL, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID must not be empty")
	}
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("migrating session store: %w", err)
	}
	return &SQL{db: db, session: sessionID}, nil
}

func (s *SQL) Get(ctx context.Context, key string) (any, bool, error) {
	var e entry
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND key = ?", s.session, key).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading key %q: %w", key, err)
	}
	var v any
	if err := json.Unmarshal([]byte(e.Value), &v); err != nil {
		return nil, false, fmt.Errorf("decoding key %q: %w", key, err)
	}
	return v, true, nil
}

func (s *SQL) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding key %q: %w", key, err)
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&entry{SessionID: s.session, Key: key, Value: string(data)}).Error
}

func (s *SQL) Append(ctx context.Context, key string, value any) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inner := &SQL{db: tx, session: s.session}
		existing, ok, err := inner.Get(ctx, key)
		if err != nil {
			return err
		}
		var list []any
		switch {
		case !ok:
			list = []any{value}
		default:
			if l, isList := existing.([]any); isList {
				list = append(l, value)
			} else {
				list = []any{existing, value}
			}
		}
		return inner.Set(ctx, key, list)
	})
}

func (s *SQL) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&entry{}).
		Where("session_id = ?", s.session).
		Order("created_at").
		Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	return keys, nil
}

func (s *SQL) All(ctx context.Context) (map[string]any, error) {
	var rows []entry
	err := s.db.WithContext(ctx).
		Where("session_id = ?", s.session).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	out := make(map[string]any, len(rows))
	for _, e := range rows {
		var v any
		if err := json.Unmarshal([]byte(e.Value), &v); err != nil {
			return nil, fmt.Errorf("decoding key %q: %w", e.Key, err)
		}
		out[e.Key] = v
	}
	return out, nil
}

func (s *SQL) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("session_id = ?", s.session).
		Delete(&entry{}).Error
}

func (s *SQL) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

var _ Store = (*SQL)(nil)
