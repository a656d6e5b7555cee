package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"docchat/internal/model"
)

// ExchangeRepository persists the transcript log in MySQL.
type ExchangeRepository struct {
	db *gorm.DB
}

func NewExchangeRepository(db *gorm.DB) *ExchangeRepository {
	return &ExchangeRepository{db: db}
}

func (r *ExchangeRepository) AutoMigrate() error {
	if err := r.db.AutoMigrate(&model.Exchange{}); err != nil {
		return fmt.Errorf("migrate exchanges failed: %w", err)
	}
	return nil
}

func (r *ExchangeRepository) Create(ctx context.Context, exchange *model.Exchange) error {
	if err := r.db.WithContext(ctx).Create(exchange).Error; err != nil {
		return fmt.Errorf("create exchange failed: %w", err)
	}
	return nil
}

// Record lets the repository act as a synchronous transcript sink.
func (r *ExchangeRepository) Record(ctx context.Context, exchange model.Exchange) error {
	return r.Create(ctx, &exchange)
}

// ListByIndexID returns the newest exchanges of an index, oldest first.
func (r *ExchangeRepository) ListByIndexID(ctx context.Context, indexID string, limit int) ([]model.Exchange, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	var exchanges []model.Exchange
	if err := r.db.WithContext(ctx).
		Where("index_id = ?", indexID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&exchanges).Error; err != nil {
		return nil, fmt.Errorf("list exchanges failed: %w", err)
	}
	for i, j := 0, len(exchanges)-1; i < j; i, j = i+1, j-1 {
		exchanges[i], exchanges[j] = exchanges[j], exchanges[i]
	}
	return exchanges, nil
}
