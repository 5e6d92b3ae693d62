package repository

import "gorm.io/gorm"

// Repository 所有 Repository 的聚合入口
type Repository struct {
	Entry        WaitlistEntryRepository
	Note         EntryNoteRepository
	Table        TableConfigRepository
	Venue        VenueRepository
	Holiday      HolidayRepository
	WaitTimeStat WaitTimeStatRepository
}

// NewRepository 创建 Repository 聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		Entry:        NewWaitlistEntryRepo(db),
		Note:         NewEntryNoteRepo(db),
		Table:        NewTableConfigRepo(db),
		Venue:        NewVenueRepo(db),
		Holiday:      NewHolidayRepo(db),
		WaitTimeStat: NewWaitTimeStatRepo(db),
	}
}
