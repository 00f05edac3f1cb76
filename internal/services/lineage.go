package services

import (
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/hints"

	"github.com/localnerve/ampline-certsvc/internal/models"
)

// Lineage edge kinds.
const (
	LineageAmend   = "amend"
	LineageReissue = "reissue"
)

// DocumentRef is a lightweight reference to a related certificate.
type DocumentRef struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Status   string `json:"status"`
	Number   string `json:"number,omitempty"`
	Relation string `json:"relation"`
	Reason   string `json:"reason,omitempty"`
}

// LineageView is the lineage of one document: its parent (if it amends or
// reissues another certificate) and its children in creation order.
type LineageView struct {
	Amends     *DocumentRef  `json:"amends"`
	Amendments []DocumentRef `json:"amendments"`
}

// RecordEdge stores a lineage link. The unique child index makes a
// duplicate insert fail rather than fork the lineage.
func RecordEdge(tx *gorm.DB, childID, parentID, kind, reason string) error {
	return tx.Create(&models.LineageEdge{
		ChildID:  childID,
		ParentID: parentID,
		Kind:     kind,
		Reason:   reason,
	}).Error
}

// Lineage answers both directions from the single edge table, so the
// amends/amendedBy relationship cannot drift apart.
func Lineage(db *gorm.DB, id string) (*LineageView, error) {
	var count int64
	if err := db.Model(&models.CertificateDocument{}).
		Where("document_id = ?", id).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNotFound
	}

	view := &LineageView{Amendments: []DocumentRef{}}

	var parentEdge models.LineageEdge
	err := db.Session(&gorm.Session{Logger: db.Logger.LogMode(logger.Silent)}).
		Where("child_id = ?", id).First(&parentEdge).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, err
	}
	if err == nil {
		ref, err := refOf(db, parentEdge.ParentID, parentEdge.Kind, parentEdge.Reason)
		if err != nil {
			return nil, err
		}
		view.Amends = ref
	}

	childQuery := db.Model(&models.LineageEdge{}).
		Where("parent_id = ?", id).Order("created_at")
	if db.Dialector.Name() == "mysql" {
		childQuery = childQuery.Clauses(hints.UseIndex("idx_lineage_parent"))
	}
	var childEdges []models.LineageEdge
	if err := childQuery.Find(&childEdges).Error; err != nil {
		return nil, err
	}
	for _, edge := range childEdges {
		ref, err := refOf(db, edge.ChildID, edge.Kind, edge.Reason)
		if err != nil {
			return nil, err
		}
		view.Amendments = append(view.Amendments, *ref)
	}
	return view, nil
}

func refOf(db *gorm.DB, id, relation, reason string) (*DocumentRef, error) {
	var doc models.CertificateDocument
	if err := db.Session(&gorm.Session{Logger: db.Logger.LogMode(logger.Silent)}).
		Select("document_id", "kind", "status", "number").
		Where("document_id = ?", id).First(&doc).Error; err != nil {
		return nil, err
	}
	ref := &DocumentRef{
		ID:       doc.DocumentID,
		Kind:     doc.Kind,
		Status:   doc.Status,
		Relation: relation,
		Reason:   reason,
	}
	if doc.Number != nil {
		ref.Number = *doc.Number
	}
	return ref, nil
}
