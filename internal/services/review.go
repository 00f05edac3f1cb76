package services

import (
	"log"

	"github.com/localnerve/ampline-certsvc/internal/certificate"
	"github.com/localnerve/ampline-certsvc/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Review statuses. Submission is tracked separately from the pending
// decision: unsubmitted means the engineer has not yet sent the document
// for review, pending means a reviewer has it. The completion gate treats
// anything other than approved as blocking.
const (
	ReviewNotRequired = "not_required"
	ReviewUnsubmitted = "unsubmitted"
	ReviewPending     = "pending"
	ReviewApproved    = "approved"
	ReviewRejected    = "rejected"
)

// Review event actions.
const (
	ReviewActionSubmitted = "submitted"
	ReviewActionApproved  = "approved"
	ReviewActionRejected  = "rejected"
)

// ReviewView is the API shape of a document's review state.
type ReviewView struct {
	Required bool              `json:"required"`
	Status   string            `json:"status"`
	Reviewer string            `json:"reviewer,omitempty"`
	Notes    string            `json:"notes,omitempty"`
	History  []ReviewEventView `json:"history,omitempty"`
}

// ReviewEventView is one entry of the review history log.
type ReviewEventView struct {
	Action string `json:"action"`
	Actor  string `json:"actor,omitempty"`
	Notes  string `json:"notes,omitempty"`
	At     string `json:"at"`
}

// GetReview returns the review state of a document. Kinds without a review
// policy report not_required; kinds with one report unsubmitted until the
// record exists.
func GetReview(db *gorm.DB, id string) (*ReviewView, error) {
	var doc models.CertificateDocument
	if err := db.Session(&gorm.Session{Logger: db.Logger.LogMode(logger.Silent)}).
		Where("document_id = ?", id).First(&doc).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	kind, ok := certificate.KindOf(doc.Kind)
	if !ok {
		return nil, ErrUnknownKind
	}
	if !kind.RequiresReview() {
		return &ReviewView{Required: false, Status: ReviewNotRequired}, nil
	}

	var record models.ReviewRecord
	err := db.Session(&gorm.Session{Logger: db.Logger.LogMode(logger.Silent)}).
		Preload("Events", func(db *gorm.DB) *gorm.DB { return db.Order("created_at") }).
		Where("document_id = ?", id).First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return &ReviewView{Required: true, Status: ReviewUnsubmitted}, nil
	}
	if err != nil {
		return nil, err
	}

	view := &ReviewView{
		Required: true,
		Status:   record.Status,
		Reviewer: record.ReviewerID,
		Notes:    record.Notes,
	}
	for _, event := range record.Events {
		view.History = append(view.History, ReviewEventView{
			Action: event.Action,
			Actor:  event.ActorID,
			Notes:  event.Notes,
			At:     event.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return view, nil
}

// SubmitForReview advances the review record to pending and notifies the
// reviewer endpoint. Legal only for drafts of kinds with a review policy
// that are not already pending. The document status itself never changes
// here.
func SubmitForReview(db *gorm.DB, id, actor, notifyURL string) (*ReviewView, error) {
	err := db.Transaction(func(tx *gorm.DB) error {
		doc, err := lockDocument(tx, id)
		if err != nil {
			return err
		}
		kind, ok := certificate.KindOf(doc.Kind)
		if !ok {
			return ErrUnknownKind
		}
		if !kind.RequiresReview() {
			return ErrInvalidTransition
		}
		if doc.Status != certificate.StatusDraft {
			return ErrInvalidTransition
		}

		var record models.ReviewRecord
		err = tx.Where("document_id = ?", id).First(&record).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			record = models.ReviewRecord{DocumentID: id, Status: ReviewPending}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		case record.Status == ReviewPending:
			return ErrInvalidTransition
		default:
			if err := tx.Model(&record).Update("status", ReviewPending).Error; err != nil {
				return err
			}
		}

		return tx.Create(&models.ReviewEvent{
			ReviewID: record.ReviewID,
			Action:   ReviewActionSubmitted,
			ActorID:  actor,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	if notifyURL != "" {
		go notifyReviewer(notifyURL, id)
	}
	return GetReview(db, id)
}

// RecordReviewDecision applies an external reviewer's decision. Legal only
// while the record is pending.
func RecordReviewDecision(db *gorm.DB, id, decision, reviewer, notes string) (*ReviewView, error) {
	var action string
	switch decision {
	case ReviewApproved:
		action = ReviewActionApproved
	case ReviewRejected:
		action = ReviewActionRejected
	default:
		return nil, ErrInvalidTransition
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		var record models.ReviewRecord
		if err := tx.Where("document_id = ?", id).First(&record).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return err
		}
		if record.Status != ReviewPending {
			return ErrInvalidTransition
		}

		if err := tx.Model(&record).Updates(map[string]any{
			"status":      decision,
			"reviewer_id": reviewer,
			"notes":       notes,
		}).Error; err != nil {
			return err
		}
		return tx.Create(&models.ReviewEvent{
			ReviewID: record.ReviewID,
			Action:   action,
			ActorID:  reviewer,
			Notes:    notes,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return GetReview(db, id)
}

// reviewBlocks reports whether the review gate blocks completion: the kind
// requires review and no approved record exists.
func reviewBlocks(tx *gorm.DB, kind certificate.KindSpec, id string) (bool, error) {
	if !kind.RequiresReview() {
		return false, nil
	}
	var record models.ReviewRecord
	err := tx.Session(&gorm.Session{Logger: tx.Logger.LogMode(logger.Silent)}).
		Where("document_id = ?", id).First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return record.Status != ReviewApproved, nil
}

// notifyReviewer pings the reviewer notification endpoint. Best-effort.
func notifyReviewer(notifyURL, documentID string) {
	if err := postJSON(notifyURL, map[string]string{"documentId": documentID}); err != nil {
		log.Printf("Reviewer notification failed for %s: %v", documentID, err)
	}
}
