package model

import "time"

// 排队记录状态
const (
	EntryStatusWaiting   = "waiting"
	EntryStatusReady     = "ready"
	EntryStatusSeated    = "seated"
	EntryStatusCancelled = "cancelled"
	EntryStatusNoShow    = "no_show"
)

// 记录类型
const (
	ReservationTypeWaitlist    = "waitlist"
	ReservationTypeReservation = "reservation"
)

// 取消发起方
const (
	CancelledByPatron = "patron"
	CancelledByVenue  = "venue"
	CancelledBySystem = "system"
)

// WaitlistEntry 排队/预订记录 对应 waitlist_entries
// 终态记录（seated / cancelled / no_show）保留用于统计，不做删除。
type WaitlistEntry struct {
	EntryID         string      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"entry_id"`
	VenueID         string      `gorm:"type:uuid;not null;index"                       json:"venue_id"`
	CustomerName    string      `gorm:"type:varchar(100);not null"                     json:"customer_name"`
	PartySize       int         `gorm:"type:smallint;not null"                         json:"party_size"`
	Preferences     StringArray `gorm:"type:text[]"                                    json:"preferences"`
	ReservationType string      `gorm:"type:varchar(20);not null;default:'waitlist'"   json:"reservation_type"` // waitlist | reservation
	ReservationTime *time.Time  `json:"reservation_time,omitempty"`

	ETA           time.Time  `gorm:"column:eta;not null"          json:"eta"`
	OriginalETA   time.Time  `gorm:"column:original_eta;not null" json:"original_eta"` // 创建后不可变，延时额度以此为基准
	ReadyAt       *time.Time `json:"ready_at,omitempty"`
	ReadyDeadline *time.Time `json:"ready_deadline,omitempty"` // 仅 ready 状态有意义
	SeatedAt      *time.Time `json:"seated_at,omitempty"`

	Status                       string     `gorm:"type:varchar(20);not null;default:'waiting'" json:"status"` // waiting | ready | seated | cancelled | no_show
	AwaitingMerchantConfirmation bool       `gorm:"not null;default:false"                      json:"awaiting_merchant_confirmation"`
	PatronDelayed                bool       `gorm:"not null;default:false"                      json:"patron_delayed"`
	DelayedUntil                 *time.Time `json:"delayed_until,omitempty"`

	CancellationReason         string     `gorm:"type:varchar(500)" json:"cancellation_reason,omitempty"`
	CancelledBy                *string    `gorm:"type:varchar(20)"  json:"cancelled_by,omitempty"` // patron | venue | system
	CancellationAcknowledgedAt *time.Time `json:"cancellation_acknowledged_at,omitempty"`

	AssignedTableID     *string `gorm:"type:uuid"       json:"assigned_table_id,omitempty"`
	LinkedReservationID *string `gorm:"type:uuid;index" json:"linked_reservation_id,omitempty"`
	VersionedModel
}

// TableName 指定表名
func (WaitlistEntry) TableName() string { return "waitlist_entries" }

// IsTerminal 是否已处于终态
func (e *WaitlistEntry) IsTerminal() bool {
	switch e.Status {
	case EntryStatusSeated, EntryStatusCancelled, EntryStatusNoShow:
		return true
	}
	return false
}

// InQueue 是否计入当前排队：排队记录，已叫号的记录，以及到店时间已到的预订。
// 未到时间的预订不占位次，也不计入等待负载。
func (e *WaitlistEntry) InQueue(now time.Time) bool {
	if e.Status != EntryStatusWaiting && e.Status != EntryStatusReady {
		return false
	}
	if e.ReservationType != ReservationTypeReservation || e.Status == EntryStatusReady {
		return true
	}
	return e.ReservationTime != nil && !e.ReservationTime.After(now)
}

// NeedsAcknowledgement 顾客在叫号后自行取消，商家需确认后才从看板移除。
// 该标记由字段推导，不是独立状态。
func (e *WaitlistEntry) NeedsAcknowledgement() bool {
	return e.Status == EntryStatusCancelled &&
		e.CancelledBy != nil && *e.CancelledBy == CancelledByPatron &&
		e.ReadyAt != nil &&
		e.CancellationAcknowledgedAt == nil
}

// EntryNote 排队记录备注（商家可见），对应 entry_notes
type EntryNote struct {
	NoteID    string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"note_id"`
	EntryID   string    `gorm:"type:uuid;not null;index"                       json:"entry_id"`
	Kind      string    `gorm:"type:varchar(30);not null"                      json:"kind"` // eta_extension | patron_delay
	Minutes   int       `gorm:"not null;default:0"                             json:"minutes"`
	Content   string    `gorm:"type:varchar(500);not null"                     json:"content"`
	AuthorID  string    `gorm:"type:varchar(64);not null"                      json:"author_id"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"created_at"`
}

// TableName 指定表名
func (EntryNote) TableName() string { return "entry_notes" }

// 备注类型
const (
	NoteKindETAExtension = "eta_extension"
	NoteKindPatronDelay  = "patron_delay"
)
