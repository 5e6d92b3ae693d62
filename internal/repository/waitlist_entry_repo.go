package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"tableready/internal/model"
	pkgerrors "tableready/pkg/errors"
)

// activeStatuses 仍在队列中的状态
var activeStatuses = []string{model.EntryStatusWaiting, model.EntryStatusReady}

// occupyingStatuses 占用桌位的预订状态
var occupyingStatuses = []string{model.EntryStatusWaiting, model.EntryStatusReady, model.EntryStatusSeated}

// WaitlistEntryRepository 排队记录数据访问接口
// 所有写操作都以 (entry_id, version, status) 作为前置条件，
// 未命中任何行时返回 pkgerrors.ErrOptimisticLock，由调用方重新读取。
type WaitlistEntryRepository interface {
	Create(ctx context.Context, entry *model.WaitlistEntry) error
	BatchCreate(ctx context.Context, entries []model.WaitlistEntry) error
	GetByID(ctx context.Context, id string) (*model.WaitlistEntry, error)
	ListActiveByVenue(ctx context.Context, venueID string, now time.Time) ([]model.WaitlistEntry, error)
	ListUpcomingReservations(ctx context.Context, venueID string, now time.Time) ([]model.WaitlistEntry, error)
	ListPendingAcknowledgement(ctx context.Context, venueID string) ([]model.WaitlistEntry, error)
	ListByLinkedReservation(ctx context.Context, linkedID string) ([]model.WaitlistEntry, error)
	ListReservationsBetween(ctx context.Context, venueID string, from, to time.Time) ([]model.WaitlistEntry, error)
	ListExpiredReady(ctx context.Context, now time.Time, limit int) ([]model.WaitlistEntry, error)
	CountActiveByVenue(ctx context.Context, venueID string, now time.Time) (int64, error)
	Update(ctx context.Context, entry *model.WaitlistEntry, expectedStatus string) error
	UpdateWithNote(ctx context.Context, entry *model.WaitlistEntry, expectedStatus string, note *model.EntryNote) error
	CancelWithLinked(ctx context.Context, entry *model.WaitlistEntry, expectedStatus, linkedReason string) (int64, error)
	ExpireReady(ctx context.Context, id string, now time.Time, reason string) (bool, error)
}

type waitlistEntryRepo struct {
	db *gorm.DB
}

func NewWaitlistEntryRepo(db *gorm.DB) WaitlistEntryRepository {
	return &waitlistEntryRepo{db: db}
}

func (r *waitlistEntryRepo) Create(ctx context.Context, entry *model.WaitlistEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// BatchCreate 多桌预订的拆分记录在同一事务中写入
func (r *waitlistEntryRepo) BatchCreate(ctx context.Context, entries []model.WaitlistEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&entries).Error
	})
}

func (r *waitlistEntryRepo) GetByID(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	var entry model.WaitlistEntry
	err := r.db.WithContext(ctx).Where("entry_id = ?", id).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// inQueue 与 model.WaitlistEntry.InQueue 一致：未到时间的预订不进入排队
func inQueue(db *gorm.DB, venueID string, now time.Time) *gorm.DB {
	return db.Where("venue_id = ? AND status IN ?", venueID, activeStatuses).
		Where("(reservation_type <> ? OR status = ? OR reservation_time <= ?)",
			model.ReservationTypeReservation, model.EntryStatusReady, now)
}

// ListActiveByVenue 按队列顺序返回门店当前排队中的记录：
// 待商家确认优先，其次 ready，再按创建时间
func (r *waitlistEntryRepo) ListActiveByVenue(ctx context.Context, venueID string, now time.Time) ([]model.WaitlistEntry, error) {
	var entries []model.WaitlistEntry
	err := inQueue(r.db.WithContext(ctx), venueID, now).
		Order("awaiting_merchant_confirmation DESC").
		Order("CASE WHEN status = 'ready' THEN 0 ELSE 1 END").
		Order("created_at ASC").
		Order("entry_id ASC").
		Find(&entries).Error
	return entries, err
}

// ListUpcomingReservations 到店时间未到的预订，按到店时间排序
func (r *waitlistEntryRepo) ListUpcomingReservations(ctx context.Context, venueID string, now time.Time) ([]model.WaitlistEntry, error) {
	var entries []model.WaitlistEntry
	err := r.db.WithContext(ctx).
		Where("venue_id = ? AND reservation_type = ? AND status = ?",
			venueID, model.ReservationTypeReservation, model.EntryStatusWaiting).
		Where("reservation_time > ?", now).
		Order("reservation_time ASC").
		Order("entry_id ASC").
		Find(&entries).Error
	return entries, err
}

// ListPendingAcknowledgement 顾客在叫号后自行取消、商家尚未确认的记录
func (r *waitlistEntryRepo) ListPendingAcknowledgement(ctx context.Context, venueID string) ([]model.WaitlistEntry, error) {
	var entries []model.WaitlistEntry
	err := r.db.WithContext(ctx).
		Where("venue_id = ? AND status = ? AND cancelled_by = ?", venueID, model.EntryStatusCancelled, model.CancelledByPatron).
		Where("ready_at IS NOT NULL AND cancellation_acknowledged_at IS NULL").
		Order("updated_at ASC").
		Find(&entries).Error
	return entries, err
}

func (r *waitlistEntryRepo) ListByLinkedReservation(ctx context.Context, linkedID string) ([]model.WaitlistEntry, error) {
	var entries []model.WaitlistEntry
	err := r.db.WithContext(ctx).
		Where("linked_reservation_id = ?", linkedID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}

// ListReservationsBetween 返回时间窗口内已分配桌位、仍占用桌位的预订
func (r *waitlistEntryRepo) ListReservationsBetween(ctx context.Context, venueID string, from, to time.Time) ([]model.WaitlistEntry, error) {
	var entries []model.WaitlistEntry
	err := r.db.WithContext(ctx).
		Where("venue_id = ? AND reservation_type = ?", venueID, model.ReservationTypeReservation).
		Where("status IN ? AND assigned_table_id IS NOT NULL", occupyingStatuses).
		Where("reservation_time BETWEEN ? AND ?", from, to).
		Find(&entries).Error
	return entries, err
}

// ListExpiredReady 返回 ready 超时的候选记录，仅用于发现；写入时会再次按状态过滤
func (r *waitlistEntryRepo) ListExpiredReady(ctx context.Context, now time.Time, limit int) ([]model.WaitlistEntry, error) {
	var entries []model.WaitlistEntry
	err := r.db.WithContext(ctx).
		Where("status = ? AND ready_deadline < ?", model.EntryStatusReady, now).
		Order("ready_deadline ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *waitlistEntryRepo) CountActiveByVenue(ctx context.Context, venueID string, now time.Time) (int64, error) {
	var count int64
	err := inQueue(r.db.WithContext(ctx).Model(&model.WaitlistEntry{}), venueID, now).
		Count(&count).Error
	return count, err
}

// Update 条件更新：entry.Version 必须为读取时的版本，成功后 Version+1
func (r *waitlistEntryRepo) Update(ctx context.Context, entry *model.WaitlistEntry, expectedStatus string) error {
	return conditionedUpdate(r.db.WithContext(ctx), entry, expectedStatus)
}

// UpdateWithNote 条件更新与备注写入在同一事务中完成
func (r *waitlistEntryRepo) UpdateWithNote(ctx context.Context, entry *model.WaitlistEntry, expectedStatus string, note *model.EntryNote) error {
	oldVersion := entry.Version
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := conditionedUpdate(tx, entry, expectedStatus); err != nil {
			return err
		}
		return tx.Create(note).Error
	})
	if err != nil {
		entry.Version = oldVersion
	}
	return err
}

// CancelWithLinked 取消记录，并在同一事务中取消共享 linked_reservation_id 的其他未终结记录。
// 返回被连带取消的记录数。
func (r *waitlistEntryRepo) CancelWithLinked(ctx context.Context, entry *model.WaitlistEntry, expectedStatus, linkedReason string) (int64, error) {
	oldVersion := entry.Version
	var linked int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := conditionedUpdate(tx, entry, expectedStatus); err != nil {
			return err
		}
		if entry.LinkedReservationID == nil {
			return nil
		}
		result := tx.Model(&model.WaitlistEntry{}).
			Where("linked_reservation_id = ? AND entry_id <> ? AND status IN ?",
				*entry.LinkedReservationID, entry.EntryID, activeStatuses).
			Updates(map[string]interface{}{
				"status":              model.EntryStatusCancelled,
				"cancellation_reason": linkedReason,
				"cancelled_by":        entry.CancelledBy,
				"ready_deadline":      nil,
				"updated_at":          entry.UpdatedAt,
				"updated_by":          entry.UpdatedBy,
				"version":             gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		linked = result.RowsAffected
		return nil
	})
	if err != nil {
		entry.Version = oldVersion
		return 0, err
	}
	return linked, nil
}

// ExpireReady 将超时的 ready 记录置为 no_show。
// 过滤条件在写入时求值，已被人工推进或已过期的记录不会被修改，返回 false。
func (r *waitlistEntryRepo) ExpireReady(ctx context.Context, id string, now time.Time, reason string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.WaitlistEntry{}).
		Where("entry_id = ? AND status = ? AND ready_deadline < ?", id, model.EntryStatusReady, now).
		Updates(map[string]interface{}{
			"status":              model.EntryStatusNoShow,
			"cancellation_reason": reason,
			"cancelled_by":        model.CancelledBySystem,
			"ready_deadline":      nil,
			"updated_at":          now,
			"version":             gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func conditionedUpdate(db *gorm.DB, entry *model.WaitlistEntry, expectedStatus string) error {
	oldVersion := entry.Version
	result := db.Model(&model.WaitlistEntry{}).
		Where("entry_id = ? AND version = ? AND status = ?", entry.EntryID, oldVersion, expectedStatus).
		Updates(map[string]interface{}{
			"eta":                            entry.ETA,
			"ready_at":                       entry.ReadyAt,
			"ready_deadline":                 entry.ReadyDeadline,
			"seated_at":                      entry.SeatedAt,
			"status":                         entry.Status,
			"awaiting_merchant_confirmation": entry.AwaitingMerchantConfirmation,
			"patron_delayed":                 entry.PatronDelayed,
			"delayed_until":                  entry.DelayedUntil,
			"cancellation_reason":            entry.CancellationReason,
			"cancelled_by":                   entry.CancelledBy,
			"cancellation_acknowledged_at":   entry.CancellationAcknowledgedAt,
			"assigned_table_id":              entry.AssignedTableID,
			"updated_at":                     entry.UpdatedAt,
			"updated_by":                     entry.UpdatedBy,
			"version":                        oldVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	entry.Version = oldVersion + 1
	return nil
}
