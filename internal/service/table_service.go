package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"tableready/config"
	"tableready/internal/dto"
	"tableready/internal/model"
	"tableready/internal/repository"
	pkgerrors "tableready/pkg/errors"
)

// ── 桌位模块业务错误 ──

var (
	ErrTableNotFound   = pkgerrors.New(pkgerrors.ErrNotFound, "桌位不存在")
	ErrTableNameExists = pkgerrors.New(pkgerrors.ErrValidation, "同名桌位已存在")
)

// NoTableAvailableError 指定时间无可用桌位，附带向后试探的结果
type NoTableAvailableError struct {
	RequestedAt time.Time
	Found       bool          // 是否在试探范围内找到可用时间
	Offset      time.Duration // Found 时为首个可用偏移
	Cause       error
}

func (e *NoTableAvailableError) Error() string {
	if e.Found {
		return fmt.Sprintf("%s，最早可在 %d 分钟后安排", ErrNoTableAvailable.Error(), int(e.Offset/time.Minute))
	}
	return ErrNoTableAvailable.Error()
}

// Unwrap 返回具体原因（ErrNoTableAvailable 或 ErrCombinationTooLarge）
func (e *NoTableAvailableError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return ErrNoTableAvailable
}

// SuggestedAt 建议的可用时间
func (e *NoTableAvailableError) SuggestedAt() *time.Time {
	if !e.Found {
		return nil
	}
	t := e.RequestedAt.Add(e.Offset)
	return &t
}

// TableAssignment 指定时间的桌位匹配结果
type TableAssignment struct {
	*MatchResult
	At time.Time
}

// TableService 桌位业务接口
type TableService interface {
	Create(ctx context.Context, venueID string, req *dto.CreateTableRequest, callerID string) (*dto.TableResponse, error)
	List(ctx context.Context, venueID string) ([]dto.TableResponse, error)
	Update(ctx context.Context, venueID, tableID string, req *dto.UpdateTableRequest, callerID string) (*dto.TableResponse, error)
	Delete(ctx context.Context, venueID, tableID string) error
	Match(ctx context.Context, venueID string, partySize int, at time.Time) (*dto.TableMatchResponse, error)
	FindTables(ctx context.Context, venueID string, partySize int, at time.Time) (*TableAssignment, error)
}

type tableService struct {
	repo                 *repository.Repository
	maxCombinationTables int
	logger               *zap.Logger
}

// NewTableService 创建 TableService 实例
func NewTableService(cfg *config.MatcherConfig, repo *repository.Repository, logger *zap.Logger) TableService {
	return &tableService{
		repo:                 repo,
		maxCombinationTables: cfg.MaxCombinationTables,
		logger:               logger,
	}
}

// ────────────────────── Create ──────────────────────

func (s *tableService) Create(ctx context.Context, venueID string, req *dto.CreateTableRequest, callerID string) (*dto.TableResponse, error) {
	venue, err := s.loadVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}

	exists, err := s.repo.Table.ExistsByName(ctx, venueID, req.Name, "")
	if err != nil {
		s.logger.Error("检查桌位名称失败", zap.Error(err))
		return nil, err
	}
	if exists {
		return nil, ErrTableNameExists
	}

	table := &model.TableConfig{
		VenueID:  venueID,
		Name:     req.Name,
		Capacity: req.Capacity,
		IsActive: true,
	}
	if req.IsActive != nil {
		table.IsActive = *req.IsActive
	}
	table.CreatedBy = &callerID
	table.UpdatedBy = &callerID

	if err := s.repo.Table.Create(ctx, table); err != nil {
		s.logger.Error("创建桌位失败", zap.String("venue_id", venueID), zap.Error(err))
		return nil, err
	}

	return toTableResponse(table, venue.Location()), nil
}

// ────────────────────── List ──────────────────────

func (s *tableService) List(ctx context.Context, venueID string) ([]dto.TableResponse, error) {
	venue, err := s.loadVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}

	tables, err := s.repo.Table.ListByVenue(ctx, venueID, false)
	if err != nil {
		s.logger.Error("列出桌位失败", zap.String("venue_id", venueID), zap.Error(err))
		return nil, err
	}

	result := make([]dto.TableResponse, 0, len(tables))
	for i := range tables {
		result = append(result, *toTableResponse(&tables[i], venue.Location()))
	}
	return result, nil
}

// ────────────────────── Update ──────────────────────

func (s *tableService) Update(ctx context.Context, venueID, tableID string, req *dto.UpdateTableRequest, callerID string) (*dto.TableResponse, error) {
	venue, err := s.loadVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	table, err := s.loadTable(ctx, venueID, tableID)
	if err != nil {
		return nil, err
	}
	if table.Version != req.Version {
		return nil, pkgerrors.ErrOptimisticLock
	}

	if req.Name != nil && *req.Name != table.Name {
		exists, err := s.repo.Table.ExistsByName(ctx, venueID, *req.Name, tableID)
		if err != nil {
			s.logger.Error("检查桌位名称失败", zap.Error(err))
			return nil, err
		}
		if exists {
			return nil, ErrTableNameExists
		}
		table.Name = *req.Name
	}
	if req.Capacity != nil {
		table.Capacity = *req.Capacity
	}
	if req.IsActive != nil {
		table.IsActive = *req.IsActive
	}
	table.UpdatedAt = time.Now()
	table.UpdatedBy = &callerID

	if err := s.repo.Table.Update(ctx, table); err != nil {
		if errors.Is(err, pkgerrors.ErrOptimisticLock) {
			return nil, err
		}
		s.logger.Error("更新桌位失败", zap.String("table_id", tableID), zap.Error(err))
		return nil, err
	}

	return toTableResponse(table, venue.Location()), nil
}

// ────────────────────── Delete ──────────────────────

func (s *tableService) Delete(ctx context.Context, venueID, tableID string) error {
	if _, err := s.loadTable(ctx, venueID, tableID); err != nil {
		return err
	}
	if err := s.repo.Table.Delete(ctx, tableID); err != nil {
		s.logger.Error("删除桌位失败", zap.String("table_id", tableID), zap.Error(err))
		return err
	}
	return nil
}

// ────────────────────── Match ──────────────────────

func (s *tableService) Match(ctx context.Context, venueID string, partySize int, at time.Time) (*dto.TableMatchResponse, error) {
	venue, err := s.loadVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	assignment, err := s.FindTables(ctx, venueID, partySize, at)
	if err != nil {
		return nil, err
	}
	return toTableMatchResponse(assignment, venue.Location()), nil
}

// FindTables 在 at 时刻匹配桌位；无可用时按 LookaheadOffsets 向后试探，
// 返回的 NoTableAvailableError 携带首个可用偏移
func (s *tableService) FindTables(ctx context.Context, venueID string, partySize int, at time.Time) (*TableAssignment, error) {
	tables, err := s.repo.Table.ListByVenue(ctx, venueID, true)
	if err != nil {
		s.logger.Error("读取桌位配置失败", zap.String("venue_id", venueID), zap.Error(err))
		return nil, err
	}
	if len(tables) == 0 {
		return nil, ErrNoTableConfiguration
	}

	maxOffset := LookaheadOffsets[len(LookaheadOffsets)-1]
	reservations, err := s.repo.Entry.ListReservationsBetween(ctx, venueID,
		at.Add(-OccupancyBuffer), at.Add(maxOffset+OccupancyBuffer))
	if err != nil {
		s.logger.Error("读取预订占用失败", zap.String("venue_id", venueID), zap.Error(err))
		return nil, err
	}

	req := MatchRequest{
		PartySize:            partySize,
		Tables:               tables,
		MaxCombinationTables: s.maxCombinationTables,
	}

	req.Occupied = OccupiedTableIDs(reservations, at)
	result, err := MatchTables(req)
	if err == nil {
		return &TableAssignment{MatchResult: result, At: at}, nil
	}
	if !errors.Is(err, pkgerrors.ErrResourceUnavailable) {
		return nil, err
	}

	notAvailable := &NoTableAvailableError{RequestedAt: at, Cause: err}
	for _, offset := range LookaheadOffsets {
		req.Occupied = OccupiedTableIDs(reservations, at.Add(offset))
		if _, tryErr := MatchTables(req); tryErr == nil {
			notAvailable.Found = true
			notAvailable.Offset = offset
			break
		}
	}
	return nil, notAvailable
}

// ── 辅助函数 ──

func (s *tableService) loadVenue(ctx context.Context, venueID string) (*model.Venue, error) {
	venue, err := s.repo.Venue.GetByID(ctx, venueID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVenueNotFound
		}
		s.logger.Error("查询门店失败", zap.String("venue_id", venueID), zap.Error(err))
		return nil, err
	}
	return venue, nil
}

func (s *tableService) loadTable(ctx context.Context, venueID, tableID string) (*model.TableConfig, error) {
	table, err := s.repo.Table.GetByID(ctx, tableID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTableNotFound
		}
		s.logger.Error("查询桌位失败", zap.String("table_id", tableID), zap.Error(err))
		return nil, err
	}
	if table.VenueID != venueID {
		return nil, ErrTableNotFound
	}
	return table, nil
}

func toTableResponse(t *model.TableConfig, loc *time.Location) *dto.TableResponse {
	return &dto.TableResponse{
		ID:        t.TableID,
		VenueID:   t.VenueID,
		Name:      t.Name,
		Capacity:  t.Capacity,
		IsActive:  t.IsActive,
		Version:   t.Version,
		CreatedAt: dto.FormatTime(t.CreatedAt, loc),
		UpdatedAt: dto.FormatTime(t.UpdatedAt, loc),
	}
}

func toTableMatchResponse(a *TableAssignment, loc *time.Location) *dto.TableMatchResponse {
	tables := make([]dto.TableResponse, 0, len(a.Tables))
	for i := range a.Tables {
		tables = append(tables, *toTableResponse(&a.Tables[i], loc))
	}
	return &dto.TableMatchResponse{
		Tables:         tables,
		Combined:       a.Combined,
		TotalCapacity:  a.TotalCapacity,
		WastedSeats:    a.WastedSeats,
		Utilization:    a.Utilization,
		LowUtilization: a.LowUtilization,
		At:             dto.FormatTime(a.At, loc),
	}
}
