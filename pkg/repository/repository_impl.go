package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/smallbiznis/gatemeter/pkg/db/option"
)

type store[T any] struct {
	db *gorm.DB
}

// ProvideStore returns a gorm-backed Repository for T.
func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db}
}

// WithTrx rebinds the store to a transaction handle.
func (s *store[T]) WithTrx(tx *gorm.DB) Repository[T] {
	return &store[T]{db: tx}
}

func (s *store[T]) query(ctx context.Context, filter *T, opts ...option.QueryOption) *gorm.DB {
	stmt := s.db.WithContext(ctx).Where(filter)
	for _, opt := range opts {
		stmt = opt.Apply(stmt)
	}
	return stmt
}

func (s *store[T]) Find(ctx context.Context, filter *T, opts ...option.QueryOption) ([]*T, error) {
	var rows []*T
	err := s.query(ctx, filter, opts...).Find(&rows).Error
	return rows, err
}

// FindOne returns (nil, nil) when no row matches.
func (s *store[T]) FindOne(ctx context.Context, filter *T, opts ...option.QueryOption) (*T, error) {
	var row T
	if err := s.query(ctx, filter, opts...).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (s *store[T]) Create(ctx context.Context, row *T) error {
	return s.db.WithContext(ctx).Create(row).Error
}

func (s *store[T]) Update(ctx context.Context, id string, fields any) error {
	return s.db.WithContext(ctx).Model(new(T)).Where("id = ?", id).Updates(fields).Error
}

func (s *store[T]) Delete(ctx context.Context, id string) error {
	var row T
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&row).Error
}

func (s *store[T]) Count(ctx context.Context, filter *T) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(filter).Where(filter).Count(&n).Error
	return n, err
}

func (s *store[T]) BatchCreate(ctx context.Context, rows []*T) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(rows).Error
}

func (s *store[T]) BatchUpdate(ctx context.Context, rows []*T) error {
	for _, row := range rows {
		if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
			return err
		}
	}
	return nil
}
