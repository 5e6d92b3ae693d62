package service

import (
	"math/bits"
	"sort"
	"time"

	"tableready/internal/model"
	pkgerrors "tableready/pkg/errors"
)

// ── 桌位匹配 ──────────────────────────────────────────────────
//
// 单桌：容量 >= 人数的空闲桌中取容量最小者，容量相同按 table_id 升序。
// 拼桌：仅当人数超过所有单桌容量时触发，穷举空闲桌子集，
//       按 (空座数, 桌数, table_id 序列) 升序取最优。
// 穷举规模为 2^n，空闲桌数超过上限时直接判定为不可分配。
// ─────────────────────────────────────────────────────────────

// OccupancyBuffer 预订占桌的前后缓冲（翻台时间）
const OccupancyBuffer = 30 * time.Minute

const lowUtilizationThreshold = 0.5

// LookaheadOffsets 无可用桌位时向后试探的偏移
var LookaheadOffsets = []time.Duration{
	15 * time.Minute,
	30 * time.Minute,
	45 * time.Minute,
	60 * time.Minute,
	90 * time.Minute,
	120 * time.Minute,
}

var (
	ErrNoTableConfiguration = pkgerrors.New(pkgerrors.ErrPolicyViolation, "门店尚未配置桌位")
	ErrPartyTooLarge        = pkgerrors.New(pkgerrors.ErrPolicyViolation, "就餐人数超过门店总容量")
	ErrNoTableAvailable     = pkgerrors.New(pkgerrors.ErrResourceUnavailable, "暂无可用桌位")
	ErrCombinationTooLarge  = pkgerrors.New(pkgerrors.ErrResourceUnavailable, "空闲桌位过多，无法在限定范围内完成拼桌计算")
)

// MatchRequest 匹配输入
type MatchRequest struct {
	PartySize int
	Tables    []model.TableConfig // 门店全部启用桌位
	Occupied  map[string]bool     // 当前时间窗口已被占用的 table_id
	// 拼桌穷举允许的最大空闲桌数，<=0 时不限制
	MaxCombinationTables int
}

// MatchResult 匹配结果
type MatchResult struct {
	Tables         []model.TableConfig
	Combined       bool
	TotalCapacity  int
	WastedSeats    int
	Utilization    float64
	LowUtilization bool
}

// MatchTables 为一桌客人分配桌位
func MatchTables(req MatchRequest) (*MatchResult, error) {
	if len(req.Tables) == 0 {
		return nil, ErrNoTableConfiguration
	}

	total, largest := 0, 0
	for _, t := range req.Tables {
		total += t.Capacity
		if t.Capacity > largest {
			largest = t.Capacity
		}
	}
	if total < req.PartySize {
		return nil, ErrPartyTooLarge
	}

	free := freeTables(req.Tables, req.Occupied)

	if req.PartySize <= largest {
		t, ok := FindSingleTable(free, req.PartySize)
		if !ok {
			return nil, ErrNoTableAvailable
		}
		return newMatchResult([]model.TableConfig{t}, req.PartySize), nil
	}

	combo, err := FindCombination(free, req.PartySize, req.MaxCombinationTables)
	if err != nil {
		return nil, err
	}
	return newMatchResult(combo, req.PartySize), nil
}

// FindSingleTable 容量足够的最小桌，容量相同按 table_id 升序
func FindSingleTable(tables []model.TableConfig, partySize int) (model.TableConfig, bool) {
	var best *model.TableConfig
	for i := range tables {
		t := &tables[i]
		if t.Capacity < partySize {
			continue
		}
		if best == nil ||
			t.Capacity < best.Capacity ||
			(t.Capacity == best.Capacity && t.TableID < best.TableID) {
			best = t
		}
	}
	if best == nil {
		return model.TableConfig{}, false
	}
	return *best, true
}

// FindCombination 穷举 tables 的全部非空子集，返回总容量覆盖 partySize 的最优组合
func FindCombination(tables []model.TableConfig, partySize, maxTables int) ([]model.TableConfig, error) {
	n := len(tables)
	if n == 0 {
		return nil, ErrNoTableAvailable
	}
	if maxTables > 0 && n > maxTables {
		return nil, ErrCombinationTooLarge
	}
	if n > 62 {
		return nil, ErrCombinationTooLarge
	}

	sorted := make([]model.TableConfig, n)
	copy(sorted, tables)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TableID < sorted[j].TableID })

	var (
		found     bool
		bestMask  uint64
		bestWaste int
		bestCount int
	)
	limit := uint64(1) << uint(n)
	for mask := uint64(1); mask < limit; mask++ {
		sum := 0
		for m := mask; m != 0; m &= m - 1 {
			sum += sorted[bits.TrailingZeros64(m)].Capacity
		}
		if sum < partySize {
			continue
		}
		waste := sum - partySize
		count := bits.OnesCount64(mask)
		if !found ||
			waste < bestWaste ||
			(waste == bestWaste && count < bestCount) ||
			(waste == bestWaste && count == bestCount && lessByIDs(mask, bestMask)) {
			found = true
			bestMask, bestWaste, bestCount = mask, waste, count
		}
	}
	if !found {
		return nil, ErrNoTableAvailable
	}

	combo := make([]model.TableConfig, 0, bestCount)
	for m := bestMask; m != 0; m &= m - 1 {
		combo = append(combo, sorted[bits.TrailingZeros64(m)])
	}
	return combo, nil
}

// lessByIDs 两个组合大小相同时比较 table_id 升序序列；
// 桌位已按 id 排序，最低的不同位属于 a 时 a 的序列更小
func lessByIDs(a, b uint64) bool {
	diff := a ^ b
	if diff == 0 {
		return false
	}
	low := diff & -diff
	return a&low != 0
}

// OccupiedTableIDs 计算 at 时刻被占用的桌位：
// 已分配桌位、未取消的预订，且预订时间与 at 相差不超过缓冲
func OccupiedTableIDs(reservations []model.WaitlistEntry, at time.Time) map[string]bool {
	occupied := make(map[string]bool)
	for _, e := range reservations {
		if e.AssignedTableID == nil || e.ReservationTime == nil {
			continue
		}
		switch e.Status {
		case model.EntryStatusWaiting, model.EntryStatusReady, model.EntryStatusSeated:
		default:
			continue
		}
		d := e.ReservationTime.Sub(at)
		if d < 0 {
			d = -d
		}
		if d <= OccupancyBuffer {
			occupied[*e.AssignedTableID] = true
		}
	}
	return occupied
}

// SplitParty 按桌位容量拆分人数，前面的桌坐满，余数落在最后一桌
func SplitParty(tables []model.TableConfig, partySize int) []int {
	sizes := make([]int, len(tables))
	remaining := partySize
	for i, t := range tables {
		n := t.Capacity
		if n > remaining {
			n = remaining
		}
		sizes[i] = n
		remaining -= n
	}
	return sizes
}

func freeTables(tables []model.TableConfig, occupied map[string]bool) []model.TableConfig {
	free := make([]model.TableConfig, 0, len(tables))
	for _, t := range tables {
		if !occupied[t.TableID] {
			free = append(free, t)
		}
	}
	return free
}

func newMatchResult(tables []model.TableConfig, partySize int) *MatchResult {
	total := 0
	for _, t := range tables {
		total += t.Capacity
	}
	util := float64(partySize) / float64(total)
	return &MatchResult{
		Tables:         tables,
		Combined:       len(tables) > 1,
		TotalCapacity:  total,
		WastedSeats:    total - partySize,
		Utilization:    util,
		LowUtilization: util < lowUtilizationThreshold,
	}
}

