package models

import "time"

// LineageEdge links a child document to the document it amends or reissues.
// The unique index on ChildID enforces the at-most-one-parent invariant;
// a parent may accumulate any number of children.
type LineageEdge struct {
	EdgeID    uint64 `gorm:"primaryKey;autoIncrement"`
	ChildID   string `gorm:"type:char(36);uniqueIndex;not null"`
	ParentID  string `gorm:"type:char(36);not null;index:idx_lineage_parent"`
	Kind      string `gorm:"size:8;not null"`
	Reason    string `gorm:"size:512"`
	CreatedAt time.Time
}

// ActionRecord stores the outcome of an idempotent branch operation
// (amend/reissue) so a retried call returns the original result instead of
// spawning a duplicate document and edge.
type ActionRecord struct {
	ActionID       uint64 `gorm:"primaryKey;autoIncrement"`
	DocumentID     string `gorm:"type:char(36);not null;index:idx_action_key,unique"`
	Endpoint       string `gorm:"size:32;not null;index:idx_action_key,unique"`
	IdempotencyKey string `gorm:"size:64;not null;index:idx_action_key,unique"`
	ResultID       string `gorm:"type:char(36);not null"`
	CreatedAt      time.Time
}

// TableName overrides the table name for LineageEdge
func (LineageEdge) TableName() string {
	return "lineage_edges"
}

// TableName overrides the table name for ActionRecord
func (ActionRecord) TableName() string {
	return "action_records"
}
