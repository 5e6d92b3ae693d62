package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"tableready/config"
	"tableready/internal/dto"
	"tableready/internal/model"
	pkgerrors "tableready/pkg/errors"
	"tableready/pkg/jwt"
)

// ── 测试辅助 ──

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func setupTestWaitlistService() (WaitlistService, *mockRepos, *jwt.Manager) {
	repo, mocks := newMockRepos()
	mocks.venues.venues["venue-1"] = &model.Venue{
		VenueID:             "venue-1",
		Name:                "测试门店",
		Timezone:            "UTC",
		BusinessHours:       everyDay("10:00", "22:00"),
		MaxExtensionMinutes: 45,
		VersionedModel:      model.VersionedModel{Version: 1},
	}

	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:      "test-secret-key-for-unit-testing-2026",
			AccessTokenTTL: 15 * time.Minute,
			PatronTokenTTL: 24 * time.Hour,
		},
		Waitlist: config.WaitlistConfig{
			ReadyGrace:         5 * time.Minute,
			SweepBatchSize:     2,
			DefaultWaitMinutes: 20,
			DefaultPrepMinutes: 12,
		},
		Matcher: config.MatcherConfig{MaxCombinationTables: 12},
	}

	jwtMgr := jwt.NewManager(&cfg.Auth)
	svc := NewService(cfg, repo, jwtMgr, nil, zap.NewNop())
	return svc.Waitlist, mocks, jwtMgr
}

func seedEntry(mocks *mockRepos, id, status string) *model.WaitlistEntry {
	e := &model.WaitlistEntry{
		EntryID:         id,
		VenueID:         "venue-1",
		CustomerName:    "顾客" + id,
		PartySize:       2,
		ReservationType: model.ReservationTypeWaitlist,
		Status:          status,
		ETA:             testNow.Add(20 * time.Minute),
		OriginalETA:     testNow.Add(20 * time.Minute),
	}
	e.CreatedAt = testNow
	e.UpdatedAt = testNow
	e.Version = 1
	if status == model.EntryStatusReady {
		readyAt := testNow
		deadline := testNow.Add(5 * time.Minute)
		e.ReadyAt = &readyAt
		e.ReadyDeadline = &deadline
	}
	mocks.entries.entries[id] = e
	return e
}

func stored(mocks *mockRepos, id string) *model.WaitlistEntry {
	return mocks.entries.entries[id]
}

// ── 入队 ──

func TestWaitlistService_Join_Waitlist(t *testing.T) {
	svc, mocks, jwtMgr := setupTestWaitlistService()

	resp, err := svc.Join(context.Background(), "venue-1", &dto.JoinRequest{
		CustomerName: " 张三 ",
		PartySize:    2,
		Preferences:  []string{"靠窗", "儿童椅", "靠窗", " "},
	}, testNow)
	if err != nil {
		t.Fatalf("Join 应成功: %v", err)
	}

	e := resp.Entry
	if e.Status != model.EntryStatusWaiting || e.CustomerName != "张三" {
		t.Errorf("新记录应为 waiting: %+v", e)
	}
	wantETA := dto.FormatTime(testNow.Add(20*time.Minute), time.UTC)
	if e.ETA != wantETA || e.OriginalETA != wantETA {
		t.Errorf("无历史数据时 eta 应为 now+20 分钟，实际 %s / %s", e.ETA, e.OriginalETA)
	}
	if len(e.Preferences) != 2 || e.Preferences[0] != "儿童椅" {
		t.Errorf("偏好应去重排序: %v", e.Preferences)
	}
	if e.Position == nil || *e.Position != 0 {
		t.Errorf("首位顾客位次应为 0: %v", e.Position)
	}
	if resp.Estimate == nil || resp.Estimate.Source != EstimateSourceDefault {
		t.Errorf("应返回默认预估: %+v", resp.Estimate)
	}

	claims, err := jwtMgr.ParseToken(resp.PatronToken)
	if err != nil {
		t.Fatalf("顾客 Token 应可解析: %v", err)
	}
	if claims.EntryID != e.ID || claims.VenueID != "venue-1" || claims.TokenType != jwt.TokenTypePatron {
		t.Errorf("顾客 Token 内容不正确: %+v", claims)
	}
	if len(mocks.entries.entries) != 1 {
		t.Errorf("应写入 1 条记录，实际 %d", len(mocks.entries.entries))
	}
}

func TestWaitlistService_Join_FutureReservationsNotQueued(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	mocks.stats.put(model.WaitTimeStat{
		VenueID: "venue-1", Kind: model.StatKindWaitlist,
		DayOfWeek: int(testNow.Weekday()), HourOfDay: 12,
		AvgMinutes: 20, SampleCount: 100,
	})
	nextWeek := testNow.Add(7 * 24 * time.Hour)
	for _, id := range []string{"r1", "r2", "r3"} {
		r := seedEntry(mocks, id, model.EntryStatusWaiting)
		r.ReservationType = model.ReservationTypeReservation
		r.ReservationTime = &nextWeek
		r.CreatedAt = testNow.Add(-time.Hour)
	}
	ctx := context.Background()

	resp, err := svc.Join(ctx, "venue-1", &dto.JoinRequest{CustomerName: "walk-in", PartySize: 2}, testNow)
	if err != nil {
		t.Fatalf("Join 应成功: %v", err)
	}
	if resp.Entry.Position == nil || *resp.Entry.Position != 0 {
		t.Errorf("一周后的预订不应排在现场顾客之前: %v", resp.Entry.Position)
	}
	if resp.Estimate.Breakdown.Load != 0 || resp.Estimate.EstimatedMinutes != 20 {
		t.Errorf("未到时间的预订不应计入负载: %+v", resp.Estimate)
	}

	queue, err := svc.ListQueue(ctx, "venue-1", testNow)
	if err != nil {
		t.Fatalf("ListQueue 应成功: %v", err)
	}
	if len(queue.Active) != 1 || len(queue.UpcomingReservations) != 3 {
		t.Fatalf("预订应单独列出: active=%d upcoming=%d", len(queue.Active), len(queue.UpcomingReservations))
	}
	if queue.UpcomingReservations[0].Position != nil {
		t.Error("未到时间的预订不应有位次")
	}

	// 到店时间已到的预订进入队列，按创建时间排在现场顾客之前
	arrivedAt := testNow.Add(-10 * time.Minute)
	stored(mocks, "r1").ReservationTime = &arrivedAt
	entry, err := svc.GetEntry(ctx, "venue-1", resp.Entry.ID, testNow)
	if err != nil {
		t.Fatalf("GetEntry 应成功: %v", err)
	}
	if entry.Position == nil || *entry.Position != 1 {
		t.Errorf("已到时间的预订应计入位次: %v", entry.Position)
	}
}

func TestWaitlistService_Join_VenueClosed(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()

	_, err := svc.Join(context.Background(), "venue-1", &dto.JoinRequest{CustomerName: "李四", PartySize: 2},
		time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC))
	var closed *VenueClosedError
	if !errors.As(err, &closed) {
		t.Fatalf("非营业时间应返回 VenueClosedError，实际 %v", err)
	}
	if closed.Availability.NextOpening == nil {
		t.Error("应返回下次营业时间")
	}
	if !errors.Is(err, pkgerrors.ErrPolicyViolation) {
		t.Error("VenueClosedError 应归类为业务规则错误")
	}
	if len(mocks.entries.entries) != 0 {
		t.Error("拒绝时不应写入记录")
	}
}

func TestWaitlistService_Join_ReservationValidation(t *testing.T) {
	svc, _, _ := setupTestWaitlistService()
	ctx := context.Background()

	_, err := svc.Join(ctx, "venue-1", &dto.JoinRequest{
		CustomerName: "王五", PartySize: 2, ReservationType: model.ReservationTypeReservation,
	}, testNow)
	if !errors.Is(err, ErrReservationTimeRequired) {
		t.Errorf("预订缺少时间应返回 ErrReservationTimeRequired，实际 %v", err)
	}

	past := testNow.Add(-time.Hour)
	_, err = svc.Join(ctx, "venue-1", &dto.JoinRequest{
		CustomerName: "王五", PartySize: 2, ReservationType: model.ReservationTypeReservation, ReservationTime: &past,
	}, testNow)
	if !errors.Is(err, ErrReservationTimeInPast) {
		t.Errorf("过去的预订时间应被拒绝，实际 %v", err)
	}

	_, err = svc.Join(ctx, "venue-unknown", &dto.JoinRequest{CustomerName: "王五", PartySize: 2}, testNow)
	if !errors.Is(err, ErrVenueNotFound) {
		t.Errorf("门店不存在应返回 ErrVenueNotFound，实际 %v", err)
	}
}

func TestWaitlistService_Join_ReservationNearClose(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	addTable(mocks, "A", 4)
	ctx := context.Background()

	// 22:00 打烊，最后可预订时段为 21:30
	late := time.Date(2026, 3, 2, 21, 45, 0, 0, time.UTC)
	_, err := svc.Join(ctx, "venue-1", &dto.JoinRequest{
		CustomerName: "孙七", PartySize: 2, ReservationType: model.ReservationTypeReservation, ReservationTime: &late,
	}, testNow)
	if !errors.Is(err, ErrReservationTooLate) {
		t.Fatalf("距打烊不足 30 分钟的预订应被拒绝，实际 %v", err)
	}
	if len(mocks.entries.entries) != 0 {
		t.Error("拒绝时不应写入记录")
	}

	lastSlot := time.Date(2026, 3, 2, 21, 30, 0, 0, time.UTC)
	if _, err := svc.Join(ctx, "venue-1", &dto.JoinRequest{
		CustomerName: "孙七", PartySize: 2, ReservationType: model.ReservationTypeReservation, ReservationTime: &lastSlot,
	}, testNow); err != nil {
		t.Fatalf("最后一个时段应可预订: %v", err)
	}
}

func TestWaitlistService_Join_ReservationSingleTable(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	addTable(mocks, "A", 2)
	addTable(mocks, "B", 4)

	rt := testNow.Add(6 * time.Hour)
	resp, err := svc.Join(context.Background(), "venue-1", &dto.JoinRequest{
		CustomerName: "赵六", PartySize: 3, ReservationType: model.ReservationTypeReservation, ReservationTime: &rt,
	}, testNow)
	if err != nil {
		t.Fatalf("Join 应成功: %v", err)
	}
	if resp.Entry.AssignedTableID == nil || *resp.Entry.AssignedTableID != "B" {
		t.Fatalf("3 人应分配 B 桌: %v", resp.Entry.AssignedTableID)
	}
	if resp.Entry.ETA != dto.FormatTime(rt, time.UTC) {
		t.Errorf("预订的 eta 应等于预订时间: %s", resp.Entry.ETA)
	}
	if len(resp.Linked) != 0 || resp.Entry.LinkedReservationID != nil {
		t.Error("单桌预订不应产生关联记录")
	}
}

func TestWaitlistService_Join_ReservationCombined(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	addTable(mocks, "A", 4)
	addTable(mocks, "B", 6)

	rt := testNow.Add(6 * time.Hour)
	resp, err := svc.Join(context.Background(), "venue-1", &dto.JoinRequest{
		CustomerName: "钱七", PartySize: 9, ReservationType: model.ReservationTypeReservation, ReservationTime: &rt,
	}, testNow)
	if err != nil {
		t.Fatalf("Join 应成功: %v", err)
	}
	if len(resp.Linked) != 1 {
		t.Fatalf("拼桌预订应拆分为 2 条记录，实际关联 %d 条", len(resp.Linked))
	}
	if resp.Entry.LinkedReservationID == nil || resp.Linked[0].LinkedReservationID == nil ||
		*resp.Entry.LinkedReservationID != *resp.Linked[0].LinkedReservationID {
		t.Fatal("拆分记录应共享 linked_reservation_id")
	}
	if resp.Entry.PartySize+resp.Linked[0].PartySize != 9 {
		t.Errorf("拆分人数之和应为 9: %d + %d", resp.Entry.PartySize, resp.Linked[0].PartySize)
	}
	if resp.TableMatch == nil || !resp.TableMatch.Combined {
		t.Error("应返回拼桌结果")
	}
}

func TestWaitlistService_Join_ReservationNoTable(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	addTable(mocks, "A", 4)

	rt := testNow.Add(6 * time.Hour)
	tableA := "A"
	mocks.entries.entries["r-1"] = &model.WaitlistEntry{
		EntryID: "r-1", VenueID: "venue-1", ReservationType: model.ReservationTypeReservation,
		ReservationTime: &rt, AssignedTableID: &tableA, Status: model.EntryStatusWaiting,
	}

	_, err := svc.Join(context.Background(), "venue-1", &dto.JoinRequest{
		CustomerName: "孙八", PartySize: 2, ReservationType: model.ReservationTypeReservation, ReservationTime: &rt,
	}, testNow)
	var notAvailable *NoTableAvailableError
	if !errors.As(err, &notAvailable) || notAvailable.SuggestedAt() == nil {
		t.Fatalf("应返回带建议时间的 NoTableAvailableError，实际 %v", err)
	}
}

// ── 状态流转 ──

func TestWaitlistService_MarkReady_SetsDeadline(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	seedEntry(mocks, "e1", model.EntryStatusWaiting)

	now := testNow.Add(10 * time.Minute)
	resp, err := svc.MarkReady(context.Background(), "venue-1", "e1", nil, "staff-1", now)
	if err != nil {
		t.Fatalf("MarkReady 应成功: %v", err)
	}
	if resp.Status != model.EntryStatusReady || resp.Version != 2 {
		t.Errorf("叫号后应为 ready 且版本 +1: %+v", resp)
	}
	e := stored(mocks, "e1")
	if e.ReadyDeadline == nil || !e.ReadyDeadline.Equal(now.Add(5*time.Minute)) {
		t.Errorf("到店截止应为叫号后 5 分钟: %v", e.ReadyDeadline)
	}
}

func TestWaitlistService_MarkReady_AssignTable(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	seedEntry(mocks, "e1", model.EntryStatusWaiting)
	addTable(mocks, "A", 4)

	tableID := "A"
	resp, err := svc.MarkReady(context.Background(), "venue-1", "e1", &dto.MarkReadyRequest{AssignedTableID: &tableID}, "staff-1", testNow)
	if err != nil {
		t.Fatalf("MarkReady 应成功: %v", err)
	}
	if resp.AssignedTableID == nil || *resp.AssignedTableID != "A" {
		t.Errorf("应记录分配的桌位: %v", resp.AssignedTableID)
	}

	missing := "Z"
	seedEntry(mocks, "e2", model.EntryStatusWaiting)
	_, err = svc.MarkReady(context.Background(), "venue-1", "e2", &dto.MarkReadyRequest{AssignedTableID: &missing}, "staff-1", testNow)
	if !errors.Is(err, ErrTableNotFound) {
		t.Errorf("桌位不存在应返回 ErrTableNotFound，实际 %v", err)
	}
}

func TestWaitlistService_InvalidTransition(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	seedEntry(mocks, "e1", model.EntryStatusSeated)

	_, err := svc.MarkReady(context.Background(), "venue-1", "e1", nil, "staff-1", testNow)
	if !errors.Is(err, ErrInvalidEntryTransition) {
		t.Fatalf("seated → ready 应被拒绝，实际 %v", err)
	}
	if pkgerrors.Kind(err) != pkgerrors.ErrInvalidTransition {
		t.Error("应归类为状态流转错误")
	}

	seedEntry(mocks, "e2", model.EntryStatusWaiting)
	if _, err := svc.Seat(context.Background(), "venue-1", "e2", "staff-1", testNow); !errors.Is(err, ErrInvalidEntryTransition) {
		t.Errorf("waiting → seated 应被拒绝，实际 %v", err)
	}
}

func TestWaitlistService_Seat(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	seedEntry(mocks, "e1", model.EntryStatusReady)
	stored(mocks, "e1").AwaitingMerchantConfirmation = true

	resp, err := svc.Seat(context.Background(), "venue-1", "e1", "staff-1", testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("Seat 应成功: %v", err)
	}
	if resp.Status != model.EntryStatusSeated || resp.ReadyDeadline != nil || resp.AwaitingMerchantConfirmation {
		t.Errorf("入座后应清空截止时间与到店待确认: %+v", resp)
	}
	if resp.Position != nil {
		t.Error("终态记录不应有位次")
	}
}

func TestWaitlistService_Cancel_ReasonRequired(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	seedEntry(mocks, "e1", model.EntryStatusWaiting)

	if _, err := svc.Cancel(context.Background(), "venue-1", "e1", "  ", "staff-1", testNow); !errors.Is(err, ErrCancelReasonRequired) {
		t.Fatalf("取消原因为空应被拒绝，实际 %v", err)
	}
	if _, err := svc.MarkNoShow(context.Background(), "venue-1", "e1", "", "staff-1", testNow); !errors.Is(err, ErrNoShowReasonRequired) {
		t.Fatalf("未到店原因为空应被拒绝，实际 %v", err)
	}
	if stored(mocks, "e1").Status != model.EntryStatusWaiting {
		t.Error("校验失败不应修改记录")
	}
}

func TestWaitlistService_Cancel_Linked(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	linked := "linked-1"
	a := seedEntry(mocks, "e1", model.EntryStatusWaiting)
	b := seedEntry(mocks, "e2", model.EntryStatusWaiting)
	c := seedEntry(mocks, "e3", model.EntryStatusSeated)
	a.LinkedReservationID, b.LinkedReservationID, c.LinkedReservationID = &linked, &linked, &linked

	resp, err := svc.Cancel(context.Background(), "venue-1", "e1", "客人改期", "staff-1", testNow)
	if err != nil {
		t.Fatalf("Cancel 应成功: %v", err)
	}
	if resp.CancellationReason != "关联预订已取消: 客人改期" || resp.CancelledBy == nil || *resp.CancelledBy != model.CancelledByVenue {
		t.Errorf("发起取消的记录也应记录为关联取消: %+v", resp)
	}

	sibling := stored(mocks, "e2")
	if sibling.Status != model.EntryStatusCancelled || sibling.CancellationReason != "关联预订已取消: 客人改期" {
		t.Errorf("关联记录应一并取消: %+v", sibling)
	}
	if stored(mocks, "e3").Status != model.EntryStatusSeated {
		t.Error("已终结的关联记录不应被修改")
	}
}

func TestWaitlistService_MarkNoShow(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	seedEntry(mocks, "e1", model.EntryStatusReady)

	resp, err := svc.MarkNoShow(context.Background(), "venue-1", "e1", "电话联系不上", "staff-1", testNow)
	if err != nil {
		t.Fatalf("MarkNoShow 应成功: %v", err)
	}
	if resp.Status != model.EntryStatusNoShow || resp.ReadyDeadline != nil {
		t.Errorf("未到店应清空截止时间: %+v", resp)
	}
}

// ── 延长预计时间 ──

func TestWaitlistService_ExtendETA_Limit(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	seedEntry(mocks, "e1", model.EntryStatusWaiting)
	ctx := context.Background()
	extend := func(minutes int) error {
		_, err := svc.ExtendETA(ctx, "venue-1", "e1", &dto.ExtendETARequest{Minutes: minutes, Reason: "后厨繁忙"}, "staff-1", testNow)
		return err
	}

	if err := extend(30); err != nil {
		t.Fatalf("延长 30 分钟应成功: %v", err)
	}

	err := extend(20)
	var limitErr *ExtensionLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("累计 50 分钟应超限，实际 %v", err)
	}
	if limitErr.Remaining() != 15 {
		t.Errorf("剩余可延长应为 15 分钟，实际 %d", limitErr.Remaining())
	}
	if !errors.Is(err, ErrExtensionLimitExceeded) || !errors.Is(err, pkgerrors.ErrPolicyViolation) {
		t.Error("超限错误应可识别为 ErrExtensionLimitExceeded 与业务规则错误")
	}

	if err := extend(15); err != nil {
		t.Fatalf("延长 15 分钟应成功: %v", err)
	}
	err = extend(1)
	if !errors.As(err, &limitErr) || limitErr.Remaining() != 0 {
		t.Fatalf("额度用尽后应拒绝，实际 %v", err)
	}

	e := stored(mocks, "e1")
	if !e.OriginalETA.Equal(testNow.Add(20 * time.Minute)) {
		t.Errorf("original_eta 不应改变: %v", e.OriginalETA)
	}
	if !e.ETA.Equal(testNow.Add(65 * time.Minute)) {
		t.Errorf("eta 应为 original_eta + 45 分钟: %v", e.ETA)
	}
	if n := len(mocks.notes.notes); n != 2 {
		t.Errorf("成功的延长应各写入一条备注，实际 %d", n)
	}
}

func TestWaitlistService_ExtendETA_NotWaiting(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	seedEntry(mocks, "e1", model.EntryStatusReady)

	_, err := svc.ExtendETA(context.Background(), "venue-1", "e1", &dto.ExtendETARequest{Minutes: 5, Reason: "x"}, "staff-1", testNow)
	if !errors.Is(err, ErrExtensionNotWaiting) {
		t.Fatalf("ready 记录不允许延长，实际 %v", err)
	}
	if len(mocks.notes.notes) != 0 {
		t.Error("失败时不应写入备注")
	}
}

// ── 顾客操作 ──

func TestWaitlistService_PatronCancel_NeedsAcknowledgement(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	seedEntry(mocks, "e1", model.EntryStatusReady)
	ctx := context.Background()

	resp, err := svc.PatronCancel(ctx, "venue-1", "e1", "", testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("PatronCancel 应成功: %v", err)
	}
	if !resp.NeedsAcknowledgement || resp.CancellationReason != defaultPatronCancelReason {
		t.Fatalf("叫号后顾客取消需商家确认: %+v", resp)
	}

	queue, err := svc.ListQueue(ctx, "venue-1", testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("ListQueue 应成功: %v", err)
	}
	if len(queue.Active) != 0 || len(queue.PendingAcknowledgement) != 1 {
		t.Fatalf("记录应出现在待确认列表: %+v", queue)
	}

	resp, err = svc.AcknowledgeCancellation(ctx, "venue-1", "e1", "staff-1", testNow.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("AcknowledgeCancellation 应成功: %v", err)
	}
	if resp.NeedsAcknowledgement || resp.Status != model.EntryStatusCancelled {
		t.Errorf("确认后应不再需要确认，状态不变: %+v", resp)
	}

	if _, err := svc.AcknowledgeCancellation(ctx, "venue-1", "e1", "staff-1", testNow); !errors.Is(err, ErrNothingToAcknowledge) {
		t.Errorf("重复确认应返回 ErrNothingToAcknowledge，实际 %v", err)
	}
}

func TestWaitlistService_PatronCancel_BeforeReady(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	seedEntry(mocks, "e1", model.EntryStatusWaiting)

	resp, err := svc.PatronCancel(context.Background(), "venue-1", "e1", "临时有事", testNow)
	if err != nil {
		t.Fatalf("PatronCancel 应成功: %v", err)
	}
	if resp.NeedsAcknowledgement {
		t.Error("未叫号的取消无需商家确认")
	}
}

func TestWaitlistService_PatronArrived_Idempotent(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	seedEntry(mocks, "e1", model.EntryStatusWaiting)
	later := seedEntry(mocks, "e2", model.EntryStatusWaiting)
	later.CreatedAt = testNow.Add(time.Minute)
	ctx := context.Background()

	if _, err := svc.PatronArrived(ctx, "venue-1", "e2", testNow); err != nil {
		t.Fatalf("PatronArrived 应成功: %v", err)
	}
	resp, err := svc.PatronArrived(ctx, "venue-1", "e2", testNow)
	if err != nil {
		t.Fatalf("重复到店声明应成功: %v", err)
	}
	if resp.Version != 2 {
		t.Errorf("重复声明不应再次写入，版本应为 2，实际 %d", resp.Version)
	}

	queue, _ := svc.ListQueue(ctx, "venue-1", testNow)
	if len(queue.Active) != 2 || queue.Active[0].ID != "e2" {
		t.Fatalf("到店待确认的记录应排在队首: %+v", queue.Active)
	}
	if queue.Active[0].Position == nil || *queue.Active[0].Position != 0 {
		t.Error("队首位次应为 0")
	}
}

func TestWaitlistService_RequestDelay(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	seedEntry(mocks, "e1", model.EntryStatusReady)
	seedEntry(mocks, "e2", model.EntryStatusWaiting)
	ctx := context.Background()

	if _, err := svc.RequestDelay(ctx, "venue-1", "e1", 20, testNow); !errors.Is(err, ErrInvalidDelay) {
		t.Fatalf("超过 15 分钟应被拒绝，实际 %v", err)
	}
	if _, err := svc.RequestDelay(ctx, "venue-1", "e2", 5, testNow); !errors.Is(err, ErrDelayNotReady) {
		t.Fatalf("未叫号不能申请延迟，实际 %v", err)
	}

	resp, err := svc.RequestDelay(ctx, "venue-1", "e1", 10, testNow)
	if err != nil {
		t.Fatalf("RequestDelay 应成功: %v", err)
	}
	if !resp.PatronDelayed {
		t.Error("应标记顾客已申请延迟")
	}
	e := stored(mocks, "e1")
	if !e.ReadyDeadline.Equal(testNow.Add(15 * time.Minute)) {
		t.Errorf("截止时间应顺延 10 分钟: %v", e.ReadyDeadline)
	}
	if len(mocks.notes.notes) != 1 || mocks.notes.notes[0].Kind != model.NoteKindPatronDelay {
		t.Error("应写入一条延迟备注")
	}

	if _, err := svc.RequestDelay(ctx, "venue-1", "e1", 5, testNow); !errors.Is(err, ErrDelayAlreadyRequested) {
		t.Errorf("重复申请应被拒绝，实际 %v", err)
	}
}

func TestWaitlistService_GetEntry_OtherVenue(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	seedEntry(mocks, "e1", model.EntryStatusWaiting)
	stored(mocks, "e1").VenueID = "venue-2"

	if _, err := svc.GetEntry(context.Background(), "venue-1", "e1", testNow); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("跨门店读取应返回 ErrEntryNotFound，实际 %v", err)
	}
}

// ── 并发 ──

func TestWaitlistService_ConflictRetriedOnce(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	seedEntry(mocks, "e1", model.EntryStatusWaiting)

	// 第一次写入前模拟其他操作修改了记录（状态不变）
	interfered := false
	mocks.entries.beforeWrite = func(id string) {
		if !interfered {
			interfered = true
			mocks.entries.entries[id].Version++
		}
	}

	resp, err := svc.MarkReady(context.Background(), "venue-1", "e1", nil, "staff-1", testNow)
	if err != nil {
		t.Fatalf("重试后 MarkReady 应成功: %v", err)
	}
	if mocks.entries.writes != 2 || resp.Version != 3 {
		t.Errorf("应重试一次: writes=%d version=%d", mocks.entries.writes, resp.Version)
	}
}

func TestWaitlistService_ConflictPersistent(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	seedEntry(mocks, "e1", model.EntryStatusWaiting)
	mocks.entries.beforeWrite = func(id string) {
		mocks.entries.entries[id].Version++
	}

	_, err := svc.MarkReady(context.Background(), "venue-1", "e1", nil, "staff-1", testNow)
	if !errors.Is(err, ErrEntryConflict) || pkgerrors.Kind(err) != pkgerrors.ErrConcurrencyConflict {
		t.Fatalf("持续冲突应返回 ErrEntryConflict，实际 %v", err)
	}
}

func TestWaitlistService_ConflictStatusAdvanced(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	seedEntry(mocks, "e1", model.EntryStatusReady)

	// 商家写入前，记录已被过期清理推进为 no_show
	mocks.entries.beforeWrite = func(id string) {
		e := mocks.entries.entries[id]
		if e.Status == model.EntryStatusReady {
			e.Status = model.EntryStatusNoShow
			e.Version++
		}
	}

	_, err := svc.Seat(context.Background(), "venue-1", "e1", "staff-1", testNow)
	if !errors.Is(err, ErrInvalidEntryTransition) {
		t.Fatalf("重新读取后应发现状态已终结，实际 %v", err)
	}
}

// ── 过期清理 ──

func TestWaitlistService_SweepExpired(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	for _, id := range []string{"e1", "e2", "e3"} {
		seedEntry(mocks, id, model.EntryStatusReady)
	}
	seedEntry(mocks, "e4", model.EntryStatusWaiting)
	deadline := testNow.Add(5 * time.Minute)
	ctx := context.Background()

	res, err := svc.SweepExpired(ctx, deadline)
	if err != nil {
		t.Fatalf("SweepExpired 应成功: %v", err)
	}
	if res.Expired != 0 {
		t.Fatalf("截止时刻本身不应过期，实际 %d", res.Expired)
	}

	res, err = svc.SweepExpired(ctx, deadline.Add(time.Second))
	if err != nil {
		t.Fatalf("SweepExpired 应成功: %v", err)
	}
	if res.Expired != 3 || res.Failed != 0 {
		t.Fatalf("应分批标记 3 条记录: %+v", res)
	}
	e := stored(mocks, "e1")
	if e.Status != model.EntryStatusNoShow || e.CancelledBy == nil || *e.CancelledBy != model.CancelledBySystem {
		t.Errorf("过期记录应由系统标记为 no_show: %+v", e)
	}
	if e.ReadyDeadline != nil || e.CancellationReason == "" {
		t.Errorf("应清空截止时间并记录原因: %+v", e)
	}
	if stored(mocks, "e4").Status != model.EntryStatusWaiting {
		t.Error("waiting 记录不应受影响")
	}

	res, err = svc.SweepExpired(ctx, deadline.Add(time.Minute))
	if err != nil || res.Expired != 0 || res.Scanned != 0 {
		t.Fatalf("重复清理应为空操作: %+v, %v", res, err)
	}
}

func TestWaitlistService_SweepRespectsDelay(t *testing.T) {
	svc, mocks, _ := setupTestWaitlistService()
	seedEntry(mocks, "e1", model.EntryStatusReady)
	ctx := context.Background()

	if _, err := svc.RequestDelay(ctx, "venue-1", "e1", 10, testNow); err != nil {
		t.Fatalf("RequestDelay 应成功: %v", err)
	}
	res, _ := svc.SweepExpired(ctx, testNow.Add(6*time.Minute))
	if res.Expired != 0 {
		t.Fatal("延迟后的截止时间之前不应过期")
	}
	res, _ = svc.SweepExpired(ctx, testNow.Add(16*time.Minute))
	if res.Expired != 1 {
		t.Fatal("延迟截止之后应过期")
	}
}
