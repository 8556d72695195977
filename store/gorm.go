package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormEntry struct {
	Key       string `gorm:"primaryKey"`
	Value     []byte
	ExpiresAt *time.Time `gorm:"index"`
}

func (gormEntry) TableName() string { return "kv_entries" }

// GormStore implements Store on a relational kv table, for deployments that
// already run a database and do not want a second infrastructure dependency.
// Expired rows behave as absent and are deleted lazily on read.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&gormEntry{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, now: time.Now}, nil
}

func (s *GormStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var e gormEntry
	err := s.db.WithContext(ctx).First(&e, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if e.ExpiresAt != nil && !s.now().Before(*e.ExpiresAt) {
		_ = s.db.WithContext(ctx).Delete(&gormEntry{}, "key = ?", key).Error
		return nil, false, nil
	}
	return e.Value, true, nil
}

func (s *GormStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := gormEntry{Key: key, Value: value}
	if ttl > 0 {
		exp := s.now().Add(ttl)
		e.ExpiresAt = &exp
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&e).Error
}

func (s *GormStore) Delete(ctx context.Context, key string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&gormEntry{}, "key = ?", key)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}
