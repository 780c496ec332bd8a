// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"

	"pai-tutor-go/internal/model"
	"pai-tutor-go/pkg/events"

	"gorm.io/gorm"
)

// EventRepository 定义了使用事件的持久化接口。
type EventRepository interface {
	Save(ctx context.Context, ev events.TutorEvent) error
	CountByType(ctx context.Context, userID uint) (map[string]int64, error)
}

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository 创建一个新的 EventRepository 实例。
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

// Save 写入一条事件。
func (r *eventRepository) Save(ctx context.Context, ev events.TutorEvent) error {
	if err := r.db.WithContext(ctx).Create(model.NewTutorEvent(ev)).Error; err != nil {
		return fmt.Errorf("failed to save tutor event: %w", err)
	}
	return nil
}

// CountByType 按事件类型统计某个用户的事件数。
func (r *eventRepository) CountByType(ctx context.Context, userID uint) (map[string]int64, error) {
	var rows []struct {
		Type  string
		Total int64
	}
	err := r.db.WithContext(ctx).Model(&model.TutorEvent{}).
		Select("type, count(*) as total").
		Where("user_id = ?", userID).
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count tutor events: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Type] = row.Total
	}
	return counts, nil
}
