package models

import "time"

// ReviewRecord tracks the optional human-review workflow for a certificate
// document. Created lazily on first submission; at most one per document.
type ReviewRecord struct {
	ReviewID   uint64 `gorm:"primaryKey;autoIncrement"`
	DocumentID string `gorm:"type:char(36);uniqueIndex;not null"`
	Status     string `gorm:"size:24;not null;default:unsubmitted"`
	ReviewerID string `gorm:"size:64"`
	Notes      string `gorm:"size:2048"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Events     []ReviewEvent `gorm:"foreignKey:ReviewID"`
}

// ReviewEvent is one entry in the review history log.
type ReviewEvent struct {
	EventID   uint64 `gorm:"primaryKey;autoIncrement"`
	ReviewID  uint64 `gorm:"not null;index"`
	Action    string `gorm:"size:24;not null"`
	ActorID   string `gorm:"size:64"`
	Notes     string `gorm:"size:2048"`
	CreatedAt time.Time
}

// TableName overrides the table name for ReviewRecord
func (ReviewRecord) TableName() string {
	return "review_records"
}

// TableName overrides the table name for ReviewEvent
func (ReviewEvent) TableName() string {
	return "review_events"
}
