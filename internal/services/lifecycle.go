// lifecycle.go
//
// Certificate lifecycle and draft reconciliation engine for the ampline job-management platform
// Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC
//
// This file is part of ampline-certsvc.
// ampline-certsvc is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// ampline-certsvc is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with ampline-certsvc.
// If not, see <https://www.gnu.org/licenses/>.
// Additional terms under GNU AGPL version 3 section 7:
// a) The reasonable legal notice of original copyright and author attribution must be preserved
//    by including the string: "Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC"
//    in this material, copies, or source code of derived works.

package services

import (
	"fmt"
	"time"

	"github.com/localnerve/ampline-certsvc/internal/certificate"
	"github.com/localnerve/ampline-certsvc/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// The authoritative status transitions:
//
//	draft -> completed -> issued
//	draft|completed -> void (terminal)
//	issued -> amend -> new draft (source unchanged)
//	any    -> reissue -> new draft (source stamped superseded_by)
//
// Each transition runs in one transaction with the document row locked, so
// the status change is durably committed together with the lineage edge or
// review state that depends on it.

// Complete transitions a draft to completed. Guarded by the readiness
// evaluator and, for kinds that require it, the review gate.
func Complete(db *gorm.DB, id string) (*DocumentView, error) {
	err := db.Transaction(func(tx *gorm.DB) error {
		doc, err := lockDocument(tx, id)
		if err != nil {
			return err
		}
		if doc.Status != certificate.StatusDraft {
			return ErrInvalidTransition
		}

		kind, ok := certificate.KindOf(doc.Kind)
		if !ok {
			return ErrUnknownKind
		}
		payload, err := certificate.ParsePayload(doc.Payload.JSON)
		if err != nil {
			return err
		}
		if ready := certificate.Evaluate(kind, payload); !ready.OK {
			return &NotReadyError{Missing: ready.Missing}
		}
		if blocked, err := reviewBlocks(tx, kind, doc.DocumentID); err != nil {
			return err
		} else if blocked {
			return ErrReviewBlocked
		}

		now := time.Now().UTC()
		return advanceStatus(tx, doc, certificate.StatusCompleted, map[string]any{
			"completed_at": now,
		})
	})
	if err != nil {
		return nil, err
	}
	return GetCertificate(db, id)
}

// Issue transitions a completed certificate to issued, assigns its
// certificate number and fires the PDF render. The render is best-effort;
// only the transition itself is validated.
func Issue(db *gorm.DB, id, renderURL string) (*DocumentView, error) {
	err := db.Transaction(func(tx *gorm.DB) error {
		doc, err := lockDocument(tx, id)
		if err != nil {
			return err
		}
		if doc.Status != certificate.StatusCompleted {
			return ErrInvalidTransition
		}

		kind, ok := certificate.KindOf(doc.Kind)
		if !ok {
			return ErrUnknownKind
		}
		number, err := nextCertificateNumber(tx, kind, time.Now().UTC())
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		return advanceStatus(tx, doc, certificate.StatusIssued, map[string]any{
			"issued_at": now,
			"number":    number,
		})
	})
	if err != nil {
		return nil, err
	}

	if renderURL != "" {
		go TriggerRender(renderURL, id)
	}
	return GetCertificate(db, id)
}

// Void transitions a draft or completed certificate to void. Terminal.
func Void(db *gorm.DB, id string) (*DocumentView, error) {
	err := db.Transaction(func(tx *gorm.DB) error {
		doc, err := lockDocument(tx, id)
		if err != nil {
			return err
		}
		if !certificate.Voidable(doc.Status) {
			return ErrInvalidTransition
		}
		return advanceStatus(tx, doc, certificate.StatusVoid, nil)
	})
	if err != nil {
		return nil, err
	}
	return GetCertificate(db, id)
}

// Amend branches a new draft off an issued certificate, copying payload,
// provenance and rows, and records the lineage edge. The source stays
// issued and untouched. Idempotent on idemKey: a retried call returns the
// draft created by the first call.
func Amend(db *gorm.DB, id, idemKey string) (*DocumentView, error) {
	var newID string
	err := db.Transaction(func(tx *gorm.DB) error {
		if existing, found, err := replayAction(tx, id, "amend", idemKey); err != nil {
			return err
		} else if found {
			newID = existing
			return nil
		}

		doc, err := lockDocument(tx, id)
		if err != nil {
			return err
		}
		if doc.Status != certificate.StatusIssued {
			return ErrInvalidTransition
		}

		child, err := branchDocument(tx, doc, LineageAmend, "")
		if err != nil {
			return err
		}
		newID = child.DocumentID
		return saveAction(tx, id, "amend", idemKey, newID)
	})
	if err != nil {
		return nil, err
	}
	return GetCertificate(db, newID)
}

// Reissue branches a new draft off any certificate, recording the lineage
// edge with the caller's reason. The source is stamped superseded_by so
// two live certificates never silently describe the same inspection.
// Idempotent on idemKey.
func Reissue(db *gorm.DB, id, reason, idemKey string) (*DocumentView, error) {
	var newID string
	err := db.Transaction(func(tx *gorm.DB) error {
		if existing, found, err := replayAction(tx, id, "reissue", idemKey); err != nil {
			return err
		} else if found {
			newID = existing
			return nil
		}

		doc, err := lockDocument(tx, id)
		if err != nil {
			return err
		}

		child, err := branchDocument(tx, doc, LineageReissue, reason)
		if err != nil {
			return err
		}
		newID = child.DocumentID

		if err := tx.Model(&models.CertificateDocument{}).
			Where("document_id = ?", doc.DocumentID).
			Update("superseded_by", newID).Error; err != nil {
			return err
		}
		return saveAction(tx, id, "reissue", idemKey, newID)
	})
	if err != nil {
		return nil, err
	}
	return GetCertificate(db, newID)
}

// lockDocument loads a document FOR UPDATE inside a transaction.
func lockDocument(tx *gorm.DB, id string) (*models.CertificateDocument, error) {
	var doc models.CertificateDocument
	err := tx.Session(&gorm.Session{Logger: tx.Logger.LogMode(logger.Silent)}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("document_id = ?", id).
		First(&doc).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// advanceStatus writes the new status plus extra columns under the
// document's current revision; a concurrent writer surfaces as ErrRevision.
func advanceStatus(tx *gorm.DB, doc *models.CertificateDocument, status string, extra map[string]any) error {
	updates := map[string]any{
		"status":   status,
		"revision": doc.Revision + 1,
	}
	for k, v := range extra {
		updates[k] = v
	}
	result := tx.Model(&models.CertificateDocument{}).
		Where("document_id = ? AND revision = ?", doc.DocumentID, doc.Revision).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRevision
	}
	return nil
}

// branchDocument copies a document into a fresh draft and records the
// lineage edge in the same transaction, after the copy is created.
func branchDocument(tx *gorm.DB, src *models.CertificateDocument, edgeKind, reason string) (*models.CertificateDocument, error) {
	child := models.CertificateDocument{
		Kind:        src.Kind,
		Status:      certificate.StatusDraft,
		Payload:     src.Payload,
		Provenance:  src.Provenance,
		DataVersion: src.DataVersion,
		JobID:       src.JobID,
		ClientID:    src.ClientID,
	}
	if err := tx.Create(&child).Error; err != nil {
		return nil, err
	}

	var rows []models.TestResultRow
	if err := tx.Where("document_id = ?", src.DocumentID).Order("position").Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		copyRow := models.TestResultRow{
			DocumentID: child.DocumentID,
			Position:   row.Position,
			Values:     row.Values,
		}
		if err := tx.Create(&copyRow).Error; err != nil {
			return nil, err
		}
	}

	if err := RecordEdge(tx, child.DocumentID, src.DocumentID, edgeKind, reason); err != nil {
		return nil, err
	}
	return &child, nil
}

// nextCertificateNumber hands out the next number for the kind and year
// under a row lock.
func nextCertificateNumber(tx *gorm.DB, kind certificate.KindSpec, now time.Time) (string, error) {
	year := now.Year()
	var seq models.CertificateSequence
	err := tx.Session(&gorm.Session{Logger: tx.Logger.LogMode(logger.Silent)}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("kind = ? AND year = ?", kind.Tag, year).
		First(&seq).Error
	if err == gorm.ErrRecordNotFound {
		seq = models.CertificateSequence{Kind: kind.Tag, Year: year, Next: 1}
		if err := tx.Create(&seq).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}

	number := fmt.Sprintf("%s-%d-%06d", kind.NumberPrefix, year, seq.Next)
	if err := tx.Model(&seq).Update("next", seq.Next+1).Error; err != nil {
		return "", err
	}
	return number, nil
}

// replayAction returns the stored result of a previously executed branch
// operation for the same idempotency key.
func replayAction(tx *gorm.DB, docID, endpoint, key string) (string, bool, error) {
	if key == "" {
		return "", false, nil
	}
	var record models.ActionRecord
	err := tx.Session(&gorm.Session{Logger: tx.Logger.LogMode(logger.Silent)}).
		Where("document_id = ? AND endpoint = ? AND idempotency_key = ?", docID, endpoint, key).
		First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return record.ResultID, true, nil
}

// saveAction records the result of a branch operation for later replay.
func saveAction(tx *gorm.DB, docID, endpoint, key, resultID string) error {
	if key == "" {
		return nil
	}
	return tx.Create(&models.ActionRecord{
		DocumentID:     docID,
		Endpoint:       endpoint,
		IdempotencyKey: key,
		ResultID:       resultID,
	}).Error
}
