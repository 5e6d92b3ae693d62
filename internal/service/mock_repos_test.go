package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"tableready/internal/model"
	"tableready/internal/repository"
	pkgerrors "tableready/pkg/errors"
)

// ── Mock WaitlistEntryRepository ──
// 条件写入与真实实现一致：version 与 status 同时匹配才生效

type mockEntryRepo struct {
	entries map[string]*model.WaitlistEntry
	notes   *mockNoteRepo
	seq     int

	// beforeWrite 在条件判断前调用，用于模拟并发写入
	beforeWrite func(id string)
	writes      int
}

func newMockEntryRepo(notes *mockNoteRepo) *mockEntryRepo {
	return &mockEntryRepo{entries: make(map[string]*model.WaitlistEntry), notes: notes}
}

func (m *mockEntryRepo) Create(_ context.Context, entry *model.WaitlistEntry) error {
	if entry.EntryID == "" {
		m.seq++
		entry.EntryID = fmt.Sprintf("entry-%03d", m.seq)
	}
	if entry.Version == 0 {
		entry.Version = 1
	}
	cp := *entry
	m.entries[entry.EntryID] = &cp
	return nil
}

func (m *mockEntryRepo) BatchCreate(ctx context.Context, entries []model.WaitlistEntry) error {
	for i := range entries {
		if err := m.Create(ctx, &entries[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockEntryRepo) GetByID(_ context.Context, id string) (*model.WaitlistEntry, error) {
	if e, ok := m.entries[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockEntryRepo) ListActiveByVenue(_ context.Context, venueID string, now time.Time) ([]model.WaitlistEntry, error) {
	var result []model.WaitlistEntry
	for _, e := range m.entries {
		if e.VenueID == venueID && e.InQueue(now) {
			result = append(result, *e)
		}
	}
	SortQueue(result)
	return result, nil
}

func (m *mockEntryRepo) ListUpcomingReservations(_ context.Context, venueID string, now time.Time) ([]model.WaitlistEntry, error) {
	var result []model.WaitlistEntry
	for _, e := range m.entries {
		if e.VenueID != venueID || e.ReservationType != model.ReservationTypeReservation || e.Status != model.EntryStatusWaiting {
			continue
		}
		if e.ReservationTime != nil && e.ReservationTime.After(now) {
			result = append(result, *e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ReservationTime.Equal(*result[j].ReservationTime) {
			return result[i].ReservationTime.Before(*result[j].ReservationTime)
		}
		return result[i].EntryID < result[j].EntryID
	})
	return result, nil
}

func (m *mockEntryRepo) ListPendingAcknowledgement(_ context.Context, venueID string) ([]model.WaitlistEntry, error) {
	var result []model.WaitlistEntry
	for _, e := range m.entries {
		if e.VenueID == venueID && e.NeedsAcknowledgement() {
			result = append(result, *e)
		}
	}
	return result, nil
}

func (m *mockEntryRepo) ListByLinkedReservation(_ context.Context, linkedID string) ([]model.WaitlistEntry, error) {
	var result []model.WaitlistEntry
	for _, e := range m.entries {
		if e.LinkedReservationID != nil && *e.LinkedReservationID == linkedID {
			result = append(result, *e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EntryID < result[j].EntryID })
	return result, nil
}

func (m *mockEntryRepo) ListReservationsBetween(_ context.Context, venueID string, from, to time.Time) ([]model.WaitlistEntry, error) {
	var result []model.WaitlistEntry
	for _, e := range m.entries {
		if e.VenueID != venueID || e.ReservationType != model.ReservationTypeReservation {
			continue
		}
		if e.AssignedTableID == nil || e.ReservationTime == nil {
			continue
		}
		if e.Status == model.EntryStatusCancelled || e.Status == model.EntryStatusNoShow {
			continue
		}
		if e.ReservationTime.Before(from) || e.ReservationTime.After(to) {
			continue
		}
		result = append(result, *e)
	}
	return result, nil
}

func (m *mockEntryRepo) ListExpiredReady(_ context.Context, now time.Time, limit int) ([]model.WaitlistEntry, error) {
	var result []model.WaitlistEntry
	for _, e := range m.entries {
		if e.Status == model.EntryStatusReady && e.ReadyDeadline != nil && e.ReadyDeadline.Before(now) {
			result = append(result, *e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ReadyDeadline.Before(*result[j].ReadyDeadline) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockEntryRepo) CountActiveByVenue(ctx context.Context, venueID string, now time.Time) (int64, error) {
	active, _ := m.ListActiveByVenue(ctx, venueID, now)
	return int64(len(active)), nil
}

func (m *mockEntryRepo) Update(_ context.Context, entry *model.WaitlistEntry, expectedStatus string) error {
	return m.conditionedUpdate(entry, expectedStatus)
}

func (m *mockEntryRepo) UpdateWithNote(ctx context.Context, entry *model.WaitlistEntry, expectedStatus string, note *model.EntryNote) error {
	if err := m.conditionedUpdate(entry, expectedStatus); err != nil {
		return err
	}
	return m.notes.Create(ctx, note)
}

func (m *mockEntryRepo) CancelWithLinked(_ context.Context, entry *model.WaitlistEntry, expectedStatus, linkedReason string) (int64, error) {
	if err := m.conditionedUpdate(entry, expectedStatus); err != nil {
		return 0, err
	}
	if entry.LinkedReservationID == nil {
		return 0, nil
	}
	var linked int64
	for id, e := range m.entries {
		if id == entry.EntryID || e.LinkedReservationID == nil || *e.LinkedReservationID != *entry.LinkedReservationID {
			continue
		}
		if e.IsTerminal() {
			continue
		}
		e.Status = model.EntryStatusCancelled
		e.CancellationReason = linkedReason
		e.CancelledBy = entry.CancelledBy
		e.ReadyDeadline = nil
		e.UpdatedAt = entry.UpdatedAt
		e.Version++
		linked++
	}
	return linked, nil
}

func (m *mockEntryRepo) ExpireReady(_ context.Context, id string, now time.Time, reason string) (bool, error) {
	e, ok := m.entries[id]
	if !ok || e.Status != model.EntryStatusReady || e.ReadyDeadline == nil || !e.ReadyDeadline.Before(now) {
		return false, nil
	}
	by := model.CancelledBySystem
	e.Status = model.EntryStatusNoShow
	e.CancellationReason = reason
	e.CancelledBy = &by
	e.ReadyDeadline = nil
	e.UpdatedAt = now
	e.Version++
	return true, nil
}

func (m *mockEntryRepo) conditionedUpdate(entry *model.WaitlistEntry, expectedStatus string) error {
	if m.beforeWrite != nil {
		m.beforeWrite(entry.EntryID)
	}
	m.writes++
	stored, ok := m.entries[entry.EntryID]
	if !ok || stored.Version != entry.Version || stored.Status != expectedStatus {
		return pkgerrors.ErrOptimisticLock
	}
	entry.Version++
	cp := *entry
	m.entries[entry.EntryID] = &cp
	return nil
}

// ── Mock EntryNoteRepository ──

type mockNoteRepo struct {
	notes []model.EntryNote
}

func newMockNoteRepo() *mockNoteRepo {
	return &mockNoteRepo{}
}

func (m *mockNoteRepo) Create(_ context.Context, note *model.EntryNote) error {
	if note.NoteID == "" {
		note.NoteID = fmt.Sprintf("note-%03d", len(m.notes)+1)
	}
	m.notes = append(m.notes, *note)
	return nil
}

func (m *mockNoteRepo) ListByEntry(_ context.Context, entryID string) ([]model.EntryNote, error) {
	var result []model.EntryNote
	for _, n := range m.notes {
		if n.EntryID == entryID {
			result = append(result, n)
		}
	}
	return result, nil
}

// ── Mock TableConfigRepository ──

type mockTableRepo struct {
	tables map[string]*model.TableConfig
}

func newMockTableRepo() *mockTableRepo {
	return &mockTableRepo{tables: make(map[string]*model.TableConfig)}
}

func (m *mockTableRepo) Create(_ context.Context, table *model.TableConfig) error {
	if table.TableID == "" {
		table.TableID = "table-" + table.Name
	}
	if table.Version == 0 {
		table.Version = 1
	}
	cp := *table
	m.tables[table.TableID] = &cp
	return nil
}

func (m *mockTableRepo) GetByID(_ context.Context, id string) (*model.TableConfig, error) {
	if t, ok := m.tables[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockTableRepo) ListByVenue(_ context.Context, venueID string, activeOnly bool) ([]model.TableConfig, error) {
	var result []model.TableConfig
	for _, t := range m.tables {
		if t.VenueID != venueID || (activeOnly && !t.IsActive) {
			continue
		}
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TableID < result[j].TableID })
	return result, nil
}

func (m *mockTableRepo) Update(_ context.Context, table *model.TableConfig) error {
	stored, ok := m.tables[table.TableID]
	if !ok || stored.Version != table.Version {
		return pkgerrors.ErrOptimisticLock
	}
	table.Version++
	cp := *table
	m.tables[table.TableID] = &cp
	return nil
}

func (m *mockTableRepo) Delete(_ context.Context, id string) error {
	delete(m.tables, id)
	return nil
}

func (m *mockTableRepo) ExistsByName(_ context.Context, venueID, name string, excludeID string) (bool, error) {
	for _, t := range m.tables {
		if t.VenueID == venueID && t.Name == name && t.TableID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

// ── Mock VenueRepository ──

type mockVenueRepo struct {
	venues map[string]*model.Venue
}

func newMockVenueRepo() *mockVenueRepo {
	return &mockVenueRepo{venues: make(map[string]*model.Venue)}
}

func (m *mockVenueRepo) Create(_ context.Context, venue *model.Venue) error {
	if venue.VenueID == "" {
		venue.VenueID = "venue-" + venue.Name
	}
	if venue.Version == 0 {
		venue.Version = 1
	}
	cp := *venue
	m.venues[venue.VenueID] = &cp
	return nil
}

func (m *mockVenueRepo) GetByID(_ context.Context, id string) (*model.Venue, error) {
	if v, ok := m.venues[id]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockVenueRepo) Update(_ context.Context, venue *model.Venue) error {
	stored, ok := m.venues[venue.VenueID]
	if !ok || stored.Version != venue.Version {
		return pkgerrors.ErrOptimisticLock
	}
	venue.Version++
	cp := *venue
	m.venues[venue.VenueID] = &cp
	return nil
}

// ── Mock HolidayRepository ──

type mockHolidayRepo struct {
	holidays []model.HolidayClosure
}

func newMockHolidayRepo() *mockHolidayRepo {
	return &mockHolidayRepo{}
}

func (m *mockHolidayRepo) ListByVenueBetween(_ context.Context, venueID, fromDate, toDate string) ([]model.HolidayClosure, error) {
	var result []model.HolidayClosure
	for _, h := range m.holidays {
		if h.VenueID == venueID && h.Date >= fromDate && h.Date <= toDate {
			result = append(result, h)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date < result[j].Date })
	return result, nil
}

func (m *mockHolidayRepo) Upsert(_ context.Context, holidays []model.HolidayClosure) error {
	for _, h := range holidays {
		replaced := false
		for i := range m.holidays {
			if m.holidays[i].VenueID == h.VenueID && m.holidays[i].Date == h.Date {
				h.HolidayID = m.holidays[i].HolidayID
				m.holidays[i] = h
				replaced = true
				break
			}
		}
		if !replaced {
			if h.HolidayID == "" {
				h.HolidayID = "holiday-" + h.Date
			}
			m.holidays = append(m.holidays, h)
		}
	}
	return nil
}

func (m *mockHolidayRepo) Delete(_ context.Context, venueID, holidayID string) (bool, error) {
	for i, h := range m.holidays {
		if h.VenueID == venueID && h.HolidayID == holidayID {
			m.holidays = append(m.holidays[:i], m.holidays[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// ── Mock WaitTimeStatRepository ──

type mockWaitTimeStatRepo struct {
	stats map[string]*model.WaitTimeStat
}

func newMockWaitTimeStatRepo() *mockWaitTimeStatRepo {
	return &mockWaitTimeStatRepo{stats: make(map[string]*model.WaitTimeStat)}
}

func statKey(venueID, kind string, dow, hour int) string {
	return fmt.Sprintf("%s/%s/%d/%d", venueID, kind, dow, hour)
}

func (m *mockWaitTimeStatRepo) put(stat model.WaitTimeStat) {
	m.stats[statKey(stat.VenueID, stat.Kind, stat.DayOfWeek, stat.HourOfDay)] = &stat
}

func (m *mockWaitTimeStatRepo) GetBucket(_ context.Context, venueID, kind string, dayOfWeek, hourOfDay int) (*model.WaitTimeStat, error) {
	if s, ok := m.stats[statKey(venueID, kind, dayOfWeek, hourOfDay)]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

// ── Mock CapacitySignal ──

type mockSignal struct {
	busy map[string]bool
	err  error
}

func newMockSignal() *mockSignal {
	return &mockSignal{busy: make(map[string]bool)}
}

func (m *mockSignal) IsBusy(_ context.Context, venueID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.busy[venueID], nil
}

func (m *mockSignal) SetBusy(_ context.Context, venueID string, busy bool, _ time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.busy[venueID] = busy
	return nil
}

// ── 测试仓储聚合 ──

type mockRepos struct {
	entries  *mockEntryRepo
	notes    *mockNoteRepo
	tables   *mockTableRepo
	venues   *mockVenueRepo
	holidays *mockHolidayRepo
	stats    *mockWaitTimeStatRepo
}

func newMockRepos() (*repository.Repository, *mockRepos) {
	notes := newMockNoteRepo()
	m := &mockRepos{
		entries:  newMockEntryRepo(notes),
		notes:    notes,
		tables:   newMockTableRepo(),
		venues:   newMockVenueRepo(),
		holidays: newMockHolidayRepo(),
		stats:    newMockWaitTimeStatRepo(),
	}
	repo := &repository.Repository{
		Entry:        m.entries,
		Note:         m.notes,
		Table:        m.tables,
		Venue:        m.venues,
		Holiday:      m.holidays,
		WaitTimeStat: m.stats,
	}
	return repo, m
}
