package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tableready/config"
	"tableready/internal/dto"
	"tableready/internal/model"
	"tableready/internal/repository"
	pkgerrors "tableready/pkg/errors"
	"tableready/pkg/jwt"
)

// ── 排队模块业务错误 ──

var (
	ErrEntryNotFound            = pkgerrors.New(pkgerrors.ErrNotFound, "排队记录不存在")
	ErrCustomerNameRequired     = pkgerrors.New(pkgerrors.ErrValidation, "顾客姓名不能为空")
	ErrInvalidPartySize         = pkgerrors.New(pkgerrors.ErrValidation, "就餐人数必须大于 0")
	ErrInvalidReservationType   = pkgerrors.New(pkgerrors.ErrValidation, "记录类型无效")
	ErrReservationTimeRequired  = pkgerrors.New(pkgerrors.ErrValidation, "预订必须指定到店时间")
	ErrReservationTimeInPast    = pkgerrors.New(pkgerrors.ErrValidation, "预订时间必须晚于当前时间")
	ErrReservationTooLate       = pkgerrors.New(pkgerrors.ErrPolicyViolation, "预订时间距打烊不足 30 分钟")
	ErrReservationTimeForbidden = pkgerrors.New(pkgerrors.ErrValidation, "排队不能指定预订时间")
	ErrCancelReasonRequired     = pkgerrors.New(pkgerrors.ErrValidation, "取消原因不能为空")
	ErrNoShowReasonRequired     = pkgerrors.New(pkgerrors.ErrValidation, "未到店原因不能为空")
	ErrExtensionReasonRequired  = pkgerrors.New(pkgerrors.ErrValidation, "延长原因不能为空")
	ErrInvalidExtension         = pkgerrors.New(pkgerrors.ErrValidation, "延长分钟数必须大于 0")
	ErrInvalidDelay             = pkgerrors.New(pkgerrors.ErrValidation, "延迟分钟数需在 1-15 之间")
	ErrInvalidEntryTransition   = pkgerrors.New(pkgerrors.ErrInvalidTransition, "当前状态不允许该操作")
	ErrExtensionNotWaiting      = pkgerrors.New(pkgerrors.ErrInvalidTransition, "仅等待中的记录可以延长预计时间")
	ErrDelayNotReady            = pkgerrors.New(pkgerrors.ErrInvalidTransition, "叫号后才能申请延迟到店")
	ErrDelayAlreadyRequested    = pkgerrors.New(pkgerrors.ErrPolicyViolation, "已申请过延迟到店")
	ErrNothingToAcknowledge     = pkgerrors.New(pkgerrors.ErrInvalidTransition, "该记录无需确认")
	ErrEntryConflict            = pkgerrors.New(pkgerrors.ErrConcurrencyConflict, "记录已被其他操作更新，请刷新后重试")
)

const (
	maxDelayMinutes = 15

	actorPatron = "patron"
	actorSystem = "system"

	defaultPatronCancelReason = "顾客主动取消"
	expiredNoShowReason       = "叫号后超时未到店，系统自动标记为未到店"
	linkedCancelReasonFormat  = "关联预订已取消: %s"
)

// WaitlistService 排队/预订业务接口
// 所有方法显式接收 now，便于测试与过期清理共用同一时间基准
type WaitlistService interface {
	Join(ctx context.Context, venueID string, req *dto.JoinRequest, now time.Time) (*dto.JoinResponse, error)
	GetEntry(ctx context.Context, venueID, entryID string, now time.Time) (*dto.EntryResponse, error)
	ListQueue(ctx context.Context, venueID string, now time.Time) (*dto.QueueResponse, error)
	ListNotes(ctx context.Context, venueID, entryID string) ([]dto.NoteResponse, error)

	// 商家操作
	MarkReady(ctx context.Context, venueID, entryID string, req *dto.MarkReadyRequest, staffID string, now time.Time) (*dto.EntryResponse, error)
	Seat(ctx context.Context, venueID, entryID, staffID string, now time.Time) (*dto.EntryResponse, error)
	Cancel(ctx context.Context, venueID, entryID, reason, staffID string, now time.Time) (*dto.EntryResponse, error)
	MarkNoShow(ctx context.Context, venueID, entryID, reason, staffID string, now time.Time) (*dto.EntryResponse, error)
	ExtendETA(ctx context.Context, venueID, entryID string, req *dto.ExtendETARequest, staffID string, now time.Time) (*dto.EntryResponse, error)
	AcknowledgeCancellation(ctx context.Context, venueID, entryID, staffID string, now time.Time) (*dto.EntryResponse, error)

	// 顾客操作（凭 patron token，venueID 取自 token）
	PatronCancel(ctx context.Context, venueID, entryID, reason string, now time.Time) (*dto.EntryResponse, error)
	PatronArrived(ctx context.Context, venueID, entryID string, now time.Time) (*dto.EntryResponse, error)
	RequestDelay(ctx context.Context, venueID, entryID string, minutes int, now time.Time) (*dto.EntryResponse, error)

	// 后台
	SweepExpired(ctx context.Context, now time.Time) (*dto.SweepResponse, error)
}

type waitlistService struct {
	repo       *repository.Repository
	tables     TableService
	estimator  EstimateService
	jwtMgr     *jwt.Manager
	readyGrace time.Duration
	sweepBatch int
	logger     *zap.Logger
}

// NewWaitlistService 创建 WaitlistService 实例
func NewWaitlistService(
	cfg *config.WaitlistConfig,
	repo *repository.Repository,
	tables TableService,
	estimator EstimateService,
	jwtMgr *jwt.Manager,
	logger *zap.Logger,
) WaitlistService {
	return &waitlistService{
		repo:       repo,
		tables:     tables,
		estimator:  estimator,
		jwtMgr:     jwtMgr,
		readyGrace: cfg.ReadyGrace,
		sweepBatch: cfg.SweepBatchSize,
		logger:     logger,
	}
}

// ════════════════════════════════════════════════════════════
// Join 入队 / 预订
// ════════════════════════════════════════════════════════════
//
// 流程：
//   1. 参数校验（预订必须有未来的到店时间）
//   2. 营业状态校验：排队看当前时间，预订看到店时间
//   3. 排队：预估等待时长得到 eta；预订：eta = 到店时间，并匹配桌位
//   4. 多桌预订拆分为多条记录，共享 linked_reservation_id
//   5. 签发 patron token

func (s *waitlistService) Join(ctx context.Context, venueID string, req *dto.JoinRequest, now time.Time) (*dto.JoinResponse, error) {
	name := strings.TrimSpace(req.CustomerName)
	if name == "" {
		return nil, ErrCustomerNameRequired
	}
	if req.PartySize < 1 {
		return nil, ErrInvalidPartySize
	}
	resType := req.ReservationType
	if resType == "" {
		resType = model.ReservationTypeWaitlist
	}
	operation := OperationWaitlist
	at := now
	switch resType {
	case model.ReservationTypeWaitlist:
		if req.ReservationTime != nil {
			return nil, ErrReservationTimeForbidden
		}
	case model.ReservationTypeReservation:
		if req.ReservationTime == nil {
			return nil, ErrReservationTimeRequired
		}
		if !req.ReservationTime.After(now) {
			return nil, ErrReservationTimeInPast
		}
		operation = OperationReservation
		at = *req.ReservationTime
	default:
		return nil, ErrInvalidReservationType
	}

	venue, err := s.loadVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	loc := venue.Location()

	avail, err := venueAvailability(ctx, s.repo, venue, operation, at)
	if err != nil {
		s.logger.Error("读取营业配置失败", zap.String("venue_id", venueID), zap.Error(err))
		return nil, err
	}
	if !avail.IsOpen {
		return nil, &VenueClosedError{Availability: toAvailabilityResponse(avail, loc)}
	}
	if operation == OperationReservation && !ReservationFits(avail, at) {
		return nil, ErrReservationTooLate
	}

	base := model.WaitlistEntry{
		VenueID:         venueID,
		CustomerName:    name,
		PartySize:       req.PartySize,
		Preferences:     normalizePreferences(req.Preferences),
		ReservationType: resType,
		Status:          model.EntryStatusWaiting,
	}
	base.CreatedAt = now
	base.UpdatedAt = now
	base.Version = 1

	resp := &dto.JoinResponse{}
	var entries []model.WaitlistEntry

	if resType == model.ReservationTypeWaitlist {
		est := s.estimator.EstimateWait(ctx, venue, req.PartySize, now)
		eta := now.Add(time.Duration(est.EstimatedMinutes) * time.Minute)
		base.ETA, base.OriginalETA = eta, eta
		resp.Estimate = est

		entry := base
		if err := s.repo.Entry.Create(ctx, &entry); err != nil {
			s.logger.Error("创建排队记录失败", zap.String("venue_id", venueID), zap.Error(err))
			return nil, err
		}
		entries = []model.WaitlistEntry{entry}
	} else {
		rt := *req.ReservationTime
		base.ReservationTime = &rt
		base.ETA, base.OriginalETA = rt, rt

		assignment, err := s.tables.FindTables(ctx, venueID, req.PartySize, rt)
		if err != nil {
			return nil, err
		}
		resp.TableMatch = toTableMatchResponse(assignment, loc)

		entries = buildReservationEntries(base, assignment.Tables, req.PartySize)
		if len(entries) == 1 {
			err = s.repo.Entry.Create(ctx, &entries[0])
		} else {
			err = s.repo.Entry.BatchCreate(ctx, entries)
		}
		if err != nil {
			s.logger.Error("创建预订记录失败", zap.String("venue_id", venueID), zap.Error(err))
			return nil, err
		}
	}

	primary := entries[0]
	token, err := s.jwtMgr.GeneratePatronToken(primary.EntryID, venueID)
	if err != nil {
		s.logger.Error("签发顾客 Token 失败", zap.String("entry_id", primary.EntryID), zap.Error(err))
		return nil, err
	}
	resp.PatronToken = token

	positions := s.queuePositions(ctx, venueID, now)
	resp.Entry = *toEntryResponse(&primary, loc, positions)
	for i := 1; i < len(entries); i++ {
		resp.Linked = append(resp.Linked, *toEntryResponse(&entries[i], loc, positions))
	}

	s.logger.Info("新排队记录",
		zap.String("venue_id", venueID),
		zap.String("entry_id", primary.EntryID),
		zap.String("type", resType),
		zap.Int("party_size", req.PartySize),
		zap.Int("entries", len(entries)))

	return resp, nil
}

// buildReservationEntries 单桌生成一条记录；拼桌按桌拆分人数，共享同一 linked_reservation_id
func buildReservationEntries(base model.WaitlistEntry, tables []model.TableConfig, partySize int) []model.WaitlistEntry {
	if len(tables) == 1 {
		e := base
		tableID := tables[0].TableID
		e.AssignedTableID = &tableID
		return []model.WaitlistEntry{e}
	}

	linkedID := uuid.NewString()
	sizes := SplitParty(tables, partySize)
	entries := make([]model.WaitlistEntry, 0, len(tables))
	for i, t := range tables {
		e := base
		tableID := t.TableID
		e.AssignedTableID = &tableID
		e.LinkedReservationID = &linkedID
		e.PartySize = sizes[i]
		entries = append(entries, e)
	}
	return entries
}

// ════════════════════════════════════════════════════════════
// 查询
// ════════════════════════════════════════════════════════════

func (s *waitlistService) GetEntry(ctx context.Context, venueID, entryID string, now time.Time) (*dto.EntryResponse, error) {
	entry, err := s.loadEntry(ctx, venueID, entryID)
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, entry, now), nil
}

// ListQueue 商家看板；到店时间未到的预订单独列出，不占排队位次
func (s *waitlistService) ListQueue(ctx context.Context, venueID string, now time.Time) (*dto.QueueResponse, error) {
	loc := s.venueLocation(ctx, venueID)

	active, err := s.repo.Entry.ListActiveByVenue(ctx, venueID, now)
	if err != nil {
		s.logger.Error("读取队列失败", zap.String("venue_id", venueID), zap.Error(err))
		return nil, err
	}
	SortQueue(active)

	upcoming, err := s.repo.Entry.ListUpcomingReservations(ctx, venueID, now)
	if err != nil {
		s.logger.Error("读取未到时预订失败", zap.String("venue_id", venueID), zap.Error(err))
		return nil, err
	}

	pending, err := s.repo.Entry.ListPendingAcknowledgement(ctx, venueID)
	if err != nil {
		s.logger.Error("读取待确认取消失败", zap.String("venue_id", venueID), zap.Error(err))
		return nil, err
	}

	resp := &dto.QueueResponse{
		Active:                 make([]dto.EntryResponse, 0, len(active)),
		UpcomingReservations:   make([]dto.EntryResponse, 0, len(upcoming)),
		PendingAcknowledgement: make([]dto.EntryResponse, 0, len(pending)),
	}
	positions := make(map[string]int, len(active))
	for i := range active {
		positions[active[i].EntryID] = i
	}
	for i := range active {
		resp.Active = append(resp.Active, *toEntryResponse(&active[i], loc, positions))
	}
	for i := range upcoming {
		resp.UpcomingReservations = append(resp.UpcomingReservations, *toEntryResponse(&upcoming[i], loc, nil))
	}
	for i := range pending {
		resp.PendingAcknowledgement = append(resp.PendingAcknowledgement, *toEntryResponse(&pending[i], loc, nil))
	}
	return resp, nil
}

func (s *waitlistService) ListNotes(ctx context.Context, venueID, entryID string) ([]dto.NoteResponse, error) {
	if _, err := s.loadEntry(ctx, venueID, entryID); err != nil {
		return nil, err
	}
	notes, err := s.repo.Note.ListByEntry(ctx, entryID)
	if err != nil {
		s.logger.Error("读取备注失败", zap.String("entry_id", entryID), zap.Error(err))
		return nil, err
	}

	loc := s.venueLocation(ctx, venueID)
	result := make([]dto.NoteResponse, 0, len(notes))
	for _, n := range notes {
		result = append(result, dto.NoteResponse{
			ID:        n.NoteID,
			EntryID:   n.EntryID,
			Kind:      n.Kind,
			Minutes:   n.Minutes,
			Content:   n.Content,
			AuthorID:  n.AuthorID,
			CreatedAt: dto.FormatTime(n.CreatedAt, loc),
		})
	}
	return result, nil
}

// ════════════════════════════════════════════════════════════
// 商家操作
// ════════════════════════════════════════════════════════════

func (s *waitlistService) MarkReady(ctx context.Context, venueID, entryID string, req *dto.MarkReadyRequest, staffID string, now time.Time) (*dto.EntryResponse, error) {
	var tableID *string
	if req != nil && req.AssignedTableID != nil {
		table, err := s.repo.Table.GetByID(ctx, *req.AssignedTableID)
		if err != nil || table.VenueID != venueID {
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				s.logger.Error("查询桌位失败", zap.String("table_id", *req.AssignedTableID), zap.Error(err))
				return nil, err
			}
			return nil, ErrTableNotFound
		}
		tableID = &table.TableID
	}

	entry, err := s.mutate(ctx, venueID, entryID, func(e *model.WaitlistEntry) error {
		if err := applyReady(e, now, s.readyGrace); err != nil {
			return err
		}
		if tableID != nil {
			e.AssignedTableID = tableID
		}
		stamp(e, staffID, now)
		return nil
	}, s.repo.Entry.Update)
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, entry, now), nil
}

func (s *waitlistService) Seat(ctx context.Context, venueID, entryID, staffID string, now time.Time) (*dto.EntryResponse, error) {
	entry, err := s.mutate(ctx, venueID, entryID, func(e *model.WaitlistEntry) error {
		if err := applySeat(e, now); err != nil {
			return err
		}
		stamp(e, staffID, now)
		return nil
	}, s.repo.Entry.Update)
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, entry, now), nil
}

func (s *waitlistService) Cancel(ctx context.Context, venueID, entryID, reason, staffID string, now time.Time) (*dto.EntryResponse, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrCancelReasonRequired
	}
	return s.cancel(ctx, venueID, entryID, reason, model.CancelledByVenue, staffID, now)
}

func (s *waitlistService) MarkNoShow(ctx context.Context, venueID, entryID, reason, staffID string, now time.Time) (*dto.EntryResponse, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrNoShowReasonRequired
	}
	entry, err := s.mutate(ctx, venueID, entryID, func(e *model.WaitlistEntry) error {
		if err := applyNoShow(e, reason, model.CancelledByVenue); err != nil {
			return err
		}
		stamp(e, staffID, now)
		return nil
	}, s.repo.Entry.Update)
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, entry, now), nil
}

// ExtendETA 延长预计时间：累计延长（eta - original_eta）加本次不得超过门店上限，
// 成功时同一事务写入商家可见的备注
func (s *waitlistService) ExtendETA(ctx context.Context, venueID, entryID string, req *dto.ExtendETARequest, staffID string, now time.Time) (*dto.EntryResponse, error) {
	if req.Minutes <= 0 {
		return nil, ErrInvalidExtension
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, ErrExtensionReasonRequired
	}
	venue, err := s.loadVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}

	write := func(ctx context.Context, e *model.WaitlistEntry, expectedStatus string) error {
		note := &model.EntryNote{
			EntryID:   e.EntryID,
			Kind:      model.NoteKindETAExtension,
			Minutes:   req.Minutes,
			Content:   reason,
			AuthorID:  staffID,
			CreatedAt: now,
		}
		return s.repo.Entry.UpdateWithNote(ctx, e, expectedStatus, note)
	}

	entry, err := s.mutate(ctx, venueID, entryID, func(e *model.WaitlistEntry) error {
		if err := applyExtension(e, req.Minutes, venue.MaxExtensionMinutes); err != nil {
			return err
		}
		stamp(e, staffID, now)
		return nil
	}, write)
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, entry, now), nil
}

// AcknowledgeCancellation 商家确认已看到顾客在叫号后的取消，记录从看板移除（状态不变）
func (s *waitlistService) AcknowledgeCancellation(ctx context.Context, venueID, entryID, staffID string, now time.Time) (*dto.EntryResponse, error) {
	entry, err := s.mutate(ctx, venueID, entryID, func(e *model.WaitlistEntry) error {
		if err := applyAcknowledge(e, now); err != nil {
			return err
		}
		stamp(e, staffID, now)
		return nil
	}, s.repo.Entry.Update)
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, entry, now), nil
}

// ════════════════════════════════════════════════════════════
// 顾客操作
// ════════════════════════════════════════════════════════════

func (s *waitlistService) PatronCancel(ctx context.Context, venueID, entryID, reason string, now time.Time) (*dto.EntryResponse, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultPatronCancelReason
	}
	return s.cancel(ctx, venueID, entryID, reason, model.CancelledByPatron, actorPatron, now)
}

// PatronArrived 顾客声明已到店，等待商家确认；重复声明不产生写入
func (s *waitlistService) PatronArrived(ctx context.Context, venueID, entryID string, now time.Time) (*dto.EntryResponse, error) {
	current, err := s.loadEntry(ctx, venueID, entryID)
	if err != nil {
		return nil, err
	}
	if current.AwaitingMerchantConfirmation && !current.IsTerminal() {
		return s.respond(ctx, current, now), nil
	}

	entry, err := s.mutate(ctx, venueID, entryID, func(e *model.WaitlistEntry) error {
		if err := applyArrived(e); err != nil {
			return err
		}
		stamp(e, actorPatron, now)
		return nil
	}, s.repo.Entry.Update)
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, entry, now), nil
}

// RequestDelay 叫号后顾客申请晚到，每次叫号只能申请一次，截止时间顺延
func (s *waitlistService) RequestDelay(ctx context.Context, venueID, entryID string, minutes int, now time.Time) (*dto.EntryResponse, error) {
	if minutes < 1 || minutes > maxDelayMinutes {
		return nil, ErrInvalidDelay
	}

	write := func(ctx context.Context, e *model.WaitlistEntry, expectedStatus string) error {
		note := &model.EntryNote{
			EntryID:   e.EntryID,
			Kind:      model.NoteKindPatronDelay,
			Minutes:   minutes,
			Content:   fmt.Sprintf("顾客申请延迟 %d 分钟到店", minutes),
			AuthorID:  actorPatron,
			CreatedAt: now,
		}
		return s.repo.Entry.UpdateWithNote(ctx, e, expectedStatus, note)
	}

	entry, err := s.mutate(ctx, venueID, entryID, func(e *model.WaitlistEntry) error {
		if err := applyDelay(e, minutes); err != nil {
			return err
		}
		stamp(e, actorPatron, now)
		return nil
	}, write)
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, entry, now), nil
}

// ════════════════════════════════════════════════════════════
// SweepExpired 将 ready 超时自动标记为 no_show
// ════════════════════════════════════════════════════════════
//
// 候选列表只用于发现，写入时按 status='ready' AND ready_deadline < now 重新过滤，
// 与商家操作并发时不会回退已被推进的记录；重复执行是空操作。
// 单条失败记录日志后继续。

func (s *waitlistService) SweepExpired(ctx context.Context, now time.Time) (*dto.SweepResponse, error) {
	result := &dto.SweepResponse{}
	batch := s.sweepBatch
	if batch <= 0 {
		batch = 200
	}

	for {
		candidates, err := s.repo.Entry.ListExpiredReady(ctx, now, batch)
		if err != nil {
			s.logger.Error("读取超时记录失败", zap.Error(err))
			return result, err
		}

		progressed := 0
		for _, c := range candidates {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Scanned++
			expired, err := s.repo.Entry.ExpireReady(ctx, c.EntryID, now, expiredNoShowReason)
			switch {
			case err != nil:
				result.Failed++
				s.logger.Error("标记未到店失败", zap.String("entry_id", c.EntryID), zap.Error(err))
			case expired:
				result.Expired++
				progressed++
				s.logger.Info("叫号超时，已标记为未到店",
					zap.String("entry_id", c.EntryID),
					zap.String("venue_id", c.VenueID))
			default:
				result.Skipped++
				progressed++
			}
		}

		if len(candidates) < batch || progressed == 0 {
			break
		}
	}
	return result, nil
}

// ── 内部实现 ──

type entryWriter func(ctx context.Context, e *model.WaitlistEntry, expectedStatus string) error

// mutate 读取 → 在副本上应用变更 → 以 (version, status) 为前置条件写入。
// 写入冲突时丢弃副本重新读取并重试一次，仍冲突则返回 ErrEntryConflict。
func (s *waitlistService) mutate(ctx context.Context, venueID, entryID string, apply func(e *model.WaitlistEntry) error, write entryWriter) (*model.WaitlistEntry, error) {
	for attempt := 0; attempt < 2; attempt++ {
		current, err := s.loadEntry(ctx, venueID, entryID)
		if err != nil {
			return nil, err
		}

		next := *current
		if err := apply(&next); err != nil {
			return nil, err
		}

		err = write(ctx, &next, current.Status)
		if err == nil {
			return &next, nil
		}
		if !errors.Is(err, pkgerrors.ErrOptimisticLock) {
			s.logger.Error("更新排队记录失败", zap.String("entry_id", entryID), zap.Error(err))
			return nil, err
		}
		s.logger.Info("排队记录并发冲突，重新读取",
			zap.String("entry_id", entryID), zap.Int("attempt", attempt+1))
	}
	return nil, ErrEntryConflict
}

// cancel 取消记录；存在 linked_reservation_id 时同组记录在同一事务中一并取消
func (s *waitlistService) cancel(ctx context.Context, venueID, entryID, reason, by, actor string, now time.Time) (*dto.EntryResponse, error) {
	var linked int64
	write := func(ctx context.Context, e *model.WaitlistEntry, expectedStatus string) error {
		n, err := s.repo.Entry.CancelWithLinked(ctx, e, expectedStatus, fmt.Sprintf(linkedCancelReasonFormat, reason))
		linked = n
		return err
	}

	entry, err := s.mutate(ctx, venueID, entryID, func(e *model.WaitlistEntry) error {
		if err := applyCancel(e, reason, by); err != nil {
			return err
		}
		// 同组记录（含发起方）统一记录为关联取消
		if e.LinkedReservationID != nil {
			e.CancellationReason = fmt.Sprintf(linkedCancelReasonFormat, reason)
		}
		stamp(e, actor, now)
		return nil
	}, write)
	if err != nil {
		return nil, err
	}

	if linked > 0 {
		s.logger.Info("关联预订已一并取消",
			zap.String("entry_id", entryID),
			zap.Stringp("linked_reservation_id", entry.LinkedReservationID),
			zap.Int64("linked", linked))
	}
	return s.respond(ctx, entry, now), nil
}

func (s *waitlistService) loadEntry(ctx context.Context, venueID, entryID string) (*model.WaitlistEntry, error) {
	entry, err := s.repo.Entry.GetByID(ctx, entryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		s.logger.Error("查询排队记录失败", zap.String("entry_id", entryID), zap.Error(err))
		return nil, err
	}
	// 跨门店访问按不存在处理
	if venueID != "" && entry.VenueID != venueID {
		return nil, ErrEntryNotFound
	}
	return entry, nil
}

func (s *waitlistService) loadVenue(ctx context.Context, venueID string) (*model.Venue, error) {
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

func (s *waitlistService) venueLocation(ctx context.Context, venueID string) *time.Location {
	venue, err := s.repo.Venue.GetByID(ctx, venueID)
	if err != nil {
		return time.UTC
	}
	return venue.Location()
}

// queuePositions 当前门店排队中每条记录的位次
func (s *waitlistService) queuePositions(ctx context.Context, venueID string, now time.Time) map[string]int {
	active, err := s.repo.Entry.ListActiveByVenue(ctx, venueID, now)
	if err != nil {
		s.logger.Warn("读取队列位次失败", zap.String("venue_id", venueID), zap.Error(err))
		return nil
	}
	SortQueue(active)
	positions := make(map[string]int, len(active))
	for i := range active {
		positions[active[i].EntryID] = i
	}
	return positions
}

// respond 组装单条记录的响应（含位次）
func (s *waitlistService) respond(ctx context.Context, e *model.WaitlistEntry, now time.Time) *dto.EntryResponse {
	var positions map[string]int
	if e.InQueue(now) {
		positions = s.queuePositions(ctx, e.VenueID, now)
	}
	return toEntryResponse(e, s.venueLocation(ctx, e.VenueID), positions)
}

func stamp(e *model.WaitlistEntry, actor string, now time.Time) {
	e.UpdatedAt = now
	e.UpdatedBy = &actor
}

// normalizePreferences 偏好标签为无序集合：去空白、去重、排序
func normalizePreferences(in []string) model.StringArray {
	seen := make(map[string]bool, len(in))
	out := make(model.StringArray, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func toEntryResponse(e *model.WaitlistEntry, loc *time.Location, positions map[string]int) *dto.EntryResponse {
	resp := &dto.EntryResponse{
		ID:                           e.EntryID,
		VenueID:                      e.VenueID,
		CustomerName:                 e.CustomerName,
		PartySize:                    e.PartySize,
		Preferences:                  []string(e.Preferences),
		ReservationType:              e.ReservationType,
		ReservationTime:              dto.FormatTimePtr(e.ReservationTime, loc),
		Status:                       e.Status,
		ETA:                          dto.FormatTime(e.ETA, loc),
		OriginalETA:                  dto.FormatTime(e.OriginalETA, loc),
		ExtensionUsedMinutes:         ExtensionUsedMinutes(e),
		ReadyAt:                      dto.FormatTimePtr(e.ReadyAt, loc),
		ReadyDeadline:                dto.FormatTimePtr(e.ReadyDeadline, loc),
		SeatedAt:                     dto.FormatTimePtr(e.SeatedAt, loc),
		AwaitingMerchantConfirmation: e.AwaitingMerchantConfirmation,
		PatronDelayed:                e.PatronDelayed,
		DelayedUntil:                 dto.FormatTimePtr(e.DelayedUntil, loc),
		CancellationReason:           e.CancellationReason,
		CancelledBy:                  e.CancelledBy,
		NeedsAcknowledgement:         e.NeedsAcknowledgement(),
		AssignedTableID:              e.AssignedTableID,
		LinkedReservationID:          e.LinkedReservationID,
		Version:                      e.Version,
		CreatedAt:                    dto.FormatTime(e.CreatedAt, loc),
		UpdatedAt:                    dto.FormatTime(e.UpdatedAt, loc),
	}
	if resp.Preferences == nil {
		resp.Preferences = []string{}
	}
	if pos, ok := positions[e.EntryID]; ok {
		resp.Position = &pos
	}
	return resp
}
