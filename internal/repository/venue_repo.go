package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tableready/internal/model"
	pkgerrors "tableready/pkg/errors"
)

// VenueRepository 门店配置数据访问接口
type VenueRepository interface {
	Create(ctx context.Context, venue *model.Venue) error
	GetByID(ctx context.Context, id string) (*model.Venue, error)
	Update(ctx context.Context, venue *model.Venue) error
}

// HolidayRepository 节假日特殊营业数据访问接口，日期均为门店本地日期 "2006-01-02"
type HolidayRepository interface {
	ListByVenueBetween(ctx context.Context, venueID, fromDate, toDate string) ([]model.HolidayClosure, error)
	Upsert(ctx context.Context, holidays []model.HolidayClosure) error
	Delete(ctx context.Context, venueID, holidayID string) (bool, error)
}

// WaitTimeStatRepository 历史等待时长聚合（只读）
type WaitTimeStatRepository interface {
	GetBucket(ctx context.Context, venueID, kind string, dayOfWeek, hourOfDay int) (*model.WaitTimeStat, error)
}

// EntryNoteRepository 排队记录备注
type EntryNoteRepository interface {
	Create(ctx context.Context, note *model.EntryNote) error
	ListByEntry(ctx context.Context, entryID string) ([]model.EntryNote, error)
}

// ── Venue Repository 实现 ──

type venueRepo struct {
	db *gorm.DB
}

func NewVenueRepo(db *gorm.DB) VenueRepository {
	return &venueRepo{db: db}
}

func (r *venueRepo) Create(ctx context.Context, venue *model.Venue) error {
	return r.db.WithContext(ctx).Omit("Holidays").Create(venue).Error
}

func (r *venueRepo) GetByID(ctx context.Context, id string) (*model.Venue, error) {
	var venue model.Venue
	err := r.db.WithContext(ctx).Where("venue_id = ?", id).First(&venue).Error
	if err != nil {
		return nil, err
	}
	return &venue, nil
}

func (r *venueRepo) Update(ctx context.Context, venue *model.Venue) error {
	oldVersion := venue.Version
	result := r.db.WithContext(ctx).
		Model(&model.Venue{}).
		Where("venue_id = ? AND version = ?", venue.VenueID, oldVersion).
		Updates(map[string]interface{}{
			"name":                  venue.Name,
			"timezone":              venue.Timezone,
			"business_hours":        venue.BusinessHours,
			"grace_periods":         venue.GracePeriods,
			"max_extension_minutes": venue.MaxExtensionMinutes,
			"updated_at":            venue.UpdatedAt,
			"updated_by":            venue.UpdatedBy,
			"version":               oldVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	venue.Version = oldVersion + 1
	return nil
}

// ── Holiday Repository 实现 ──

type holidayRepo struct {
	db *gorm.DB
}

func NewHolidayRepo(db *gorm.DB) HolidayRepository {
	return &holidayRepo{db: db}
}

func (r *holidayRepo) ListByVenueBetween(ctx context.Context, venueID, fromDate, toDate string) ([]model.HolidayClosure, error) {
	var holidays []model.HolidayClosure
	err := r.db.WithContext(ctx).
		Where("venue_id = ? AND date BETWEEN ? AND ?", venueID, fromDate, toDate).
		Order("date ASC").
		Find(&holidays).Error
	if err != nil {
		return nil, err
	}
	// date 列可能以 RFC3339 形式返回，统一截成日期
	for i := range holidays {
		if len(holidays[i].Date) > 10 {
			holidays[i].Date = holidays[i].Date[:10]
		}
	}
	return holidays, nil
}

// Upsert 同一门店同一天只保留一条，重复导入覆盖旧值
func (r *holidayRepo) Upsert(ctx context.Context, holidays []model.HolidayClosure) error {
	if len(holidays) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "venue_id"}, {Name: "date"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"is_closed":     gorm.Expr("EXCLUDED.is_closed"),
				"special_open":  gorm.Expr("EXCLUDED.special_open"),
				"special_close": gorm.Expr("EXCLUDED.special_close"),
				"breaks":        gorm.Expr("EXCLUDED.breaks"),
				"reason":        gorm.Expr("EXCLUDED.reason"),
				"source":        gorm.Expr("EXCLUDED.source"),
				"updated_at":    time.Now(),
			}),
		}).Create(&holidays).Error
	})
}

func (r *holidayRepo) Delete(ctx context.Context, venueID, holidayID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("venue_id = ? AND holiday_id = ?", venueID, holidayID).
		Delete(&model.HolidayClosure{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ── WaitTimeStat Repository 实现 ──

type waitTimeStatRepo struct {
	db *gorm.DB
}

func NewWaitTimeStatRepo(db *gorm.DB) WaitTimeStatRepository {
	return &waitTimeStatRepo{db: db}
}

func (r *waitTimeStatRepo) GetBucket(ctx context.Context, venueID, kind string, dayOfWeek, hourOfDay int) (*model.WaitTimeStat, error) {
	var stat model.WaitTimeStat
	err := r.db.WithContext(ctx).
		Where("venue_id = ? AND kind = ? AND day_of_week = ? AND hour_of_day = ?", venueID, kind, dayOfWeek, hourOfDay).
		First(&stat).Error
	if err != nil {
		return nil, err
	}
	return &stat, nil
}

// ── EntryNote Repository 实现 ──

type entryNoteRepo struct {
	db *gorm.DB
}

func NewEntryNoteRepo(db *gorm.DB) EntryNoteRepository {
	return &entryNoteRepo{db: db}
}

func (r *entryNoteRepo) Create(ctx context.Context, note *model.EntryNote) error {
	return r.db.WithContext(ctx).Create(note).Error
}

func (r *entryNoteRepo) ListByEntry(ctx context.Context, entryID string) ([]model.EntryNote, error) {
	var notes []model.EntryNote
	err := r.db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Order("created_at ASC").
		Find(&notes).Error
	return notes, err
}
