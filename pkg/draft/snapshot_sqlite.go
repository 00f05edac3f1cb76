package draft

import (
	"context"
	"encoding/json"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// draftSnapshot is the sqlite row backing one snapshot.
type draftSnapshot struct {
	DocumentID   string `gorm:"type:char(36);primaryKey"`
	Data         []byte
	BaseRevision uint64
	SavedAt      time.Time
}

func (draftSnapshot) TableName() string {
	return "draft_snapshots"
}

// SQLiteSnapshotStore persists snapshots in a local sqlite file, the usual
// choice for a field engineer's laptop or tablet working offline.
type SQLiteSnapshotStore struct {
	db *gorm.DB
}

// NewSQLiteSnapshotStore opens (and migrates) the snapshot database at path.
// Use ":memory:" for an ephemeral store.
func NewSQLiteSnapshotStore(path string) (*SQLiteSnapshotStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&draftSnapshot{}); err != nil {
		return nil, err
	}
	return &SQLiteSnapshotStore{db: db}, nil
}

func (s *SQLiteSnapshotStore) Put(ctx context.Context, snap *Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	row := draftSnapshot{
		DocumentID:   snap.DocumentID,
		Data:         raw,
		BaseRevision: snap.BaseRevision,
		SavedAt:      snap.SavedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *SQLiteSnapshotStore) Get(ctx context.Context, documentID string) (*Snapshot, error) {
	var row draftSnapshot
	err := s.db.WithContext(ctx).Where("document_id = ?", documentID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(row.Data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *SQLiteSnapshotStore) Delete(ctx context.Context, documentID string) error {
	return s.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&draftSnapshot{}).Error
}
