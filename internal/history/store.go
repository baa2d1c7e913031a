package history

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("transfer not found")

// Repository defines transfer history operations.
type Repository interface {
	Record(ctx context.Context, t *Transfer) error
	List(ctx context.Context, dir Direction, limit int) ([]Transfer, error)
	Get(ctx context.Context, id uint) (Transfer, error)
	Delete(ctx context.Context, id uint) error
	Clear(ctx context.Context) (int64, error)
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Record(ctx context.Context, t *Transfer) error {
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().Unix()
	}
	return s.db.WithContext(ctx).Create(t).Error
}

// List returns the newest transfers first. An empty dir matches both
// directions; a non-positive limit returns everything.
func (s *Store) List(ctx context.Context, dir Direction, limit int) ([]Transfer, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if dir != "" {
		q = q.Where("direction = ?", dir)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	transfers := []Transfer{}
	if err := q.Find(&transfers).Error; err != nil {
		return nil, err
	}
	return transfers, nil
}

func (s *Store) Get(ctx context.Context, id uint) (Transfer, error) {
	var t Transfer
	err := s.db.WithContext(ctx).First(&t, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Transfer{}, ErrNotFound
	}
	return t, err
}

func (s *Store) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&Transfer{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("1 = 1").Delete(&Transfer{})
	return res.RowsAffected, res.Error
}

var _ Repository = (*Store)(nil)
