package repository

import (
	"context"

	"gorm.io/gorm"

	"tableready/internal/model"
	pkgerrors "tableready/pkg/errors"
)

// TableConfigRepository 桌位配置数据访问接口
type TableConfigRepository interface {
	Create(ctx context.Context, table *model.TableConfig) error
	GetByID(ctx context.Context, id string) (*model.TableConfig, error)
	ListByVenue(ctx context.Context, venueID string, activeOnly bool) ([]model.TableConfig, error)
	Update(ctx context.Context, table *model.TableConfig) error
	Delete(ctx context.Context, id string) error
	ExistsByName(ctx context.Context, venueID, name string, excludeID string) (bool, error)
}

type tableConfigRepo struct {
	db *gorm.DB
}

func NewTableConfigRepo(db *gorm.DB) TableConfigRepository {
	return &tableConfigRepo{db: db}
}

func (r *tableConfigRepo) Create(ctx context.Context, table *model.TableConfig) error {
	return r.db.WithContext(ctx).Create(table).Error
}

func (r *tableConfigRepo) GetByID(ctx context.Context, id string) (*model.TableConfig, error) {
	var table model.TableConfig
	err := r.db.WithContext(ctx).Where("table_id = ?", id).First(&table).Error
	if err != nil {
		return nil, err
	}
	return &table, nil
}

// ListByVenue 按 table_id 升序返回，保证匹配结果可复现
func (r *tableConfigRepo) ListByVenue(ctx context.Context, venueID string, activeOnly bool) ([]model.TableConfig, error) {
	var tables []model.TableConfig
	q := r.db.WithContext(ctx).Where("venue_id = ?", venueID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	err := q.Order("table_id ASC").Find(&tables).Error
	return tables, err
}

func (r *tableConfigRepo) Update(ctx context.Context, table *model.TableConfig) error {
	oldVersion := table.Version
	result := r.db.WithContext(ctx).
		Model(&model.TableConfig{}).
		Where("table_id = ? AND version = ?", table.TableID, oldVersion).
		Updates(map[string]interface{}{
			"name":       table.Name,
			"capacity":   table.Capacity,
			"is_active":  table.IsActive,
			"updated_at": table.UpdatedAt,
			"updated_by": table.UpdatedBy,
			"version":    oldVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	table.Version = oldVersion + 1
	return nil
}

// Delete 软删除，历史预订仍可引用该桌位
func (r *tableConfigRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Where("table_id = ?", id).
		Delete(&model.TableConfig{}).Error
}

func (r *tableConfigRepo) ExistsByName(ctx context.Context, venueID, name string, excludeID string) (bool, error) {
	var count int64
	q := r.db.WithContext(ctx).
		Model(&model.TableConfig{}).
		Where("venue_id = ? AND name = ?", venueID, name)
	if excludeID != "" {
		q = q.Where("table_id <> ?", excludeID)
	}
	err := q.Count(&count).Error
	return count > 0, err
}
