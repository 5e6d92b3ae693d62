package service

import (
	"fmt"
	"sort"
	"time"

	"tableready/internal/model"
	pkgerrors "tableready/pkg/errors"
)

// ── 排队记录状态机 ──────────────────────────────────────────
//
//   waiting ──► ready ──► seated
//      │          │
//      │          ├──► no_show   （叫号后未到店，人工或过期清理）
//      ▼          ▼
//   cancelled  cancelled
//
// 终态（seated / cancelled / no_show）没有出边。
// 离开 ready 的转换一律清空 ready_deadline。
// ─────────────────────────────────────────────────────────────

var entryTransitions = map[string][]string{
	model.EntryStatusWaiting: {model.EntryStatusReady, model.EntryStatusCancelled},
	model.EntryStatusReady:   {model.EntryStatusSeated, model.EntryStatusCancelled, model.EntryStatusNoShow},
}

// ErrExtensionLimitExceeded 延长时间超过门店上限（具体额度见 ExtensionLimitError）
var ErrExtensionLimitExceeded = pkgerrors.New(pkgerrors.ErrPolicyViolation, "已达到最大延长时间")

// ExtensionLimitError 延长时间超限，携带剩余可延长分钟数
type ExtensionLimitError struct {
	MaxMinutes       int
	UsedMinutes      int
	RequestedMinutes int
}

// Remaining 剩余可延长分钟数
func (e *ExtensionLimitError) Remaining() int {
	if r := e.MaxMinutes - e.UsedMinutes; r > 0 {
		return r
	}
	return 0
}

func (e *ExtensionLimitError) Error() string {
	if e.Remaining() == 0 {
		return ErrExtensionLimitExceeded.Error()
	}
	return fmt.Sprintf("%s，最多还可延长 %d 分钟", ErrExtensionLimitExceeded.Error(), e.Remaining())
}

// Is 使 errors.Is(err, ErrExtensionLimitExceeded) 成立
func (e *ExtensionLimitError) Is(target error) bool { return target == ErrExtensionLimitExceeded }

func (e *ExtensionLimitError) Unwrap() error { return pkgerrors.ErrPolicyViolation }

// CanTransition 状态转换是否合法
func CanTransition(from, to string) bool {
	for _, s := range entryTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ── 状态转换（只修改内存中的副本，由调用方负责条件写入） ──

func applyReady(e *model.WaitlistEntry, now time.Time, grace time.Duration) error {
	if !CanTransition(e.Status, model.EntryStatusReady) {
		return ErrInvalidEntryTransition
	}
	deadline := now.Add(grace)
	e.Status = model.EntryStatusReady
	e.ReadyAt = &now
	e.ReadyDeadline = &deadline
	e.PatronDelayed = false
	e.DelayedUntil = nil
	// AwaitingMerchantConfirmation 保持不变
	return nil
}

func applySeat(e *model.WaitlistEntry, now time.Time) error {
	if !CanTransition(e.Status, model.EntryStatusSeated) {
		return ErrInvalidEntryTransition
	}
	e.Status = model.EntryStatusSeated
	e.SeatedAt = &now
	e.ReadyDeadline = nil
	e.AwaitingMerchantConfirmation = false
	return nil
}

func applyCancel(e *model.WaitlistEntry, reason, by string) error {
	if reason == "" {
		return ErrCancelReasonRequired
	}
	if !CanTransition(e.Status, model.EntryStatusCancelled) {
		return ErrInvalidEntryTransition
	}
	e.Status = model.EntryStatusCancelled
	e.CancellationReason = reason
	e.CancelledBy = &by
	e.ReadyDeadline = nil
	return nil
}

func applyNoShow(e *model.WaitlistEntry, reason, by string) error {
	if reason == "" {
		return ErrNoShowReasonRequired
	}
	if !CanTransition(e.Status, model.EntryStatusNoShow) {
		return ErrInvalidEntryTransition
	}
	e.Status = model.EntryStatusNoShow
	e.CancellationReason = reason
	e.CancelledBy = &by
	e.ReadyDeadline = nil
	return nil
}

// applyExtension 以 original_eta 为基准累计延长时间，超限时不修改记录
func applyExtension(e *model.WaitlistEntry, minutes, maxMinutes int) error {
	if e.Status != model.EntryStatusWaiting {
		return ErrExtensionNotWaiting
	}
	used := ExtensionUsedMinutes(e)
	if used+minutes > maxMinutes {
		return &ExtensionLimitError{MaxMinutes: maxMinutes, UsedMinutes: used, RequestedMinutes: minutes}
	}
	e.ETA = e.ETA.Add(time.Duration(minutes) * time.Minute)
	return nil
}

func applyDelay(e *model.WaitlistEntry, minutes int) error {
	if e.Status != model.EntryStatusReady || e.ReadyDeadline == nil {
		return ErrDelayNotReady
	}
	if e.PatronDelayed {
		return ErrDelayAlreadyRequested
	}
	until := e.ReadyDeadline.Add(time.Duration(minutes) * time.Minute)
	e.PatronDelayed = true
	e.DelayedUntil = &until
	e.ReadyDeadline = &until
	return nil
}

func applyArrived(e *model.WaitlistEntry) error {
	if e.IsTerminal() {
		return ErrInvalidEntryTransition
	}
	e.AwaitingMerchantConfirmation = true
	return nil
}

func applyAcknowledge(e *model.WaitlistEntry, now time.Time) error {
	if !e.NeedsAcknowledgement() {
		return ErrNothingToAcknowledge
	}
	e.CancellationAcknowledgedAt = &now
	return nil
}

// ExtensionUsedMinutes 已累计延长的分钟数
func ExtensionUsedMinutes(e *model.WaitlistEntry) int {
	used := int(e.ETA.Sub(e.OriginalETA) / time.Minute)
	if used < 0 {
		return 0
	}
	return used
}

// SortQueue 队列顺序：待商家确认优先，其次 ready，再按创建时间，最后按 id
func SortQueue(entries []model.WaitlistEntry) {
	rank := func(e *model.WaitlistEntry) int {
		switch {
		case e.AwaitingMerchantConfirmation:
			return 0
		case e.Status == model.EntryStatusReady:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := &entries[i], &entries[j]
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra < rb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.EntryID < b.EntryID
	})
}
