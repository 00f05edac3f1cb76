// document.go
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
	"encoding/json"
	"time"

	"github.com/localnerve/ampline-certsvc/internal/certificate"
	"github.com/localnerve/ampline-certsvc/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DocumentView is the API shape of a certificate document, rows included.
type DocumentView struct {
	ID           string                                 `json:"id"`
	Kind         string                                 `json:"kind"`
	Status       string                                 `json:"status"`
	Number       string                                 `json:"number,omitempty"`
	Revision     uint64                                 `json:"revision"`
	DataVersion  int                                    `json:"dataVersion"`
	Payload      map[string]any                         `json:"payload"`
	Provenance   map[string]certificate.ProvenanceEntry `json:"provenance,omitempty"`
	Rows         []RowView                              `json:"rows"`
	JobID        string                                 `json:"jobId,omitempty"`
	ClientID     string                                 `json:"clientId,omitempty"`
	SupersededBy string                                 `json:"supersededBy,omitempty"`
	CompletedAt  *time.Time                             `json:"completedAt,omitempty"`
	IssuedAt     *time.Time                             `json:"issuedAt,omitempty"`
	CreatedAt    time.Time                              `json:"createdAt"`
	UpdatedAt    time.Time                              `json:"updatedAt"`
	// LockedPaths is set on PATCH responses when locked prefilled fields
	// rejected an incoming edit and kept their stored value.
	LockedPaths []string `json:"lockedPaths,omitempty"`
}

// RowView is one test-result row in API shape.
type RowView struct {
	Position int            `json:"position"`
	Values   map[string]any `json:"values"`
}

// PrefillField is one upstream value applied at creation time.
type PrefillField struct {
	Path   string `json:"path"`
	Value  any    `json:"value"`
	Source string `json:"source"`
	Locked bool   `json:"locked"`
}

// CreateInput describes a new draft certificate.
type CreateInput struct {
	Kind     string         `json:"kind"`
	JobID    string         `json:"jobId"`
	ClientID string         `json:"clientId"`
	Prefill  []PrefillField `json:"prefill"`
}

// GetCertificate loads a document with its rows. Legacy signature data is
// presented in the migrated dual shape without persisting the migration.
func GetCertificate(db *gorm.DB, id string) (*DocumentView, error) {
	var doc models.CertificateDocument
	err := db.Session(&gorm.Session{Logger: db.Logger.LogMode(logger.Silent)}).
		Preload("Rows", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("document_id = ?", id).
		First(&doc).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return viewOf(&doc)
}

// CreateCertificate creates a draft document of the given kind, applying
// upstream prefill values and recording their provenance.
func CreateCertificate(db *gorm.DB, in CreateInput) (*DocumentView, error) {
	kind, ok := certificate.KindOf(in.Kind)
	if !ok {
		return nil, ErrUnknownKind
	}

	payload := certificate.Payload{}
	prov := certificate.ProvenanceMap{}
	for _, field := range in.Prefill {
		payload.SetPath(field.Path, field.Value)
		source := field.Source
		if source == "" {
			source = certificate.SourceManual
		}
		prov.RecordPrefill(field.Path, source, field.Locked)
	}

	rawPayload, err := payload.Marshal()
	if err != nil {
		return nil, err
	}
	rawProv, err := prov.Marshal()
	if err != nil {
		return nil, err
	}

	doc := models.CertificateDocument{
		Kind:        kind.Tag,
		Status:      certificate.StatusDraft,
		Payload:     jsonColumn(rawPayload),
		Provenance:  jsonColumn(rawProv),
		DataVersion: certificate.CurrentDataVersion,
		JobID:       in.JobID,
		ClientID:    in.ClientID,
	}
	if err := db.Create(&doc).Error; err != nil {
		return nil, err
	}

	return GetCertificate(db, doc.DocumentID)
}

// PatchCertificate replaces the payload and rows of a draft document under
// optimistic revision checking. Locked prefilled fields keep their stored
// value; their paths are reported in the returned view. The unlock list
// releases locks before enforcement (the explicit unlock action).
func PatchCertificate(db *gorm.DB, id string, revision uint64, payload map[string]any, rows []map[string]any, unlock []string) (*DocumentView, error) {
	var lockedPaths []string

	err := db.Transaction(func(tx *gorm.DB) error {
		var doc models.CertificateDocument
		if err := tx.Session(&gorm.Session{Logger: tx.Logger.LogMode(logger.Silent)}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("document_id = ?", id).
			First(&doc).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return err
		}

		if !certificate.Editable(doc.Status) {
			return ErrImmutable
		}
		if doc.Revision != revision {
			return ErrRevision
		}

		stored, err := certificate.ParsePayload(doc.Payload.JSON)
		if err != nil {
			return err
		}
		prov, err := certificate.ParseProvenance(doc.Provenance.JSON)
		if err != nil {
			return err
		}

		incoming := certificate.Payload(payload)
		if incoming == nil {
			incoming = certificate.Payload{}
		}
		certificate.MigrateSignatures(incoming)

		for _, path := range unlock {
			prov.Unlock(path)
		}

		// Locked non-manual fields reject the edit: the stored value wins.
		for path := range prov {
			if !prov.IsLocked(path) {
				continue
			}
			storedValue := stored.GetPath(path)
			if !equalJSON(storedValue, incoming.GetPath(path)) {
				incoming.SetPath(path, storedValue)
				lockedPaths = append(lockedPaths, path)
			}
		}

		var oldRows []models.TestResultRow
		if err := tx.Where("document_id = ?", id).Order("position").Find(&oldRows).Error; err != nil {
			return err
		}

		payloadChanged := len(certificate.DiffPaths(stored, incoming)) > 0 ||
			doc.DataVersion != certificate.CurrentDataVersion
		rowsChanged, err := rowsDiffer(oldRows, rows)
		if err != nil {
			return err
		}
		if !payloadChanged && !rowsChanged && len(unlock) == 0 {
			return nil
		}

		if rowsChanged {
			if err := tx.Where("document_id = ?", id).Delete(&models.TestResultRow{}).Error; err != nil {
				return err
			}
			for i, values := range rows {
				raw, err := json.Marshal(values)
				if err != nil {
					return err
				}
				row := models.TestResultRow{
					DocumentID: id,
					Position:   i,
					Values:     jsonColumn(raw),
				}
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
			}
		}

		rawPayload, err := incoming.Marshal()
		if err != nil {
			return err
		}
		rawProv, err := prov.Marshal()
		if err != nil {
			return err
		}

		result := tx.Model(&models.CertificateDocument{}).
			Where("document_id = ? AND revision = ?", id, doc.Revision).
			Updates(map[string]any{
				"payload":      jsonColumn(rawPayload),
				"provenance":   jsonColumn(rawProv),
				"data_version": certificate.CurrentDataVersion,
				"revision":     doc.Revision + 1,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrRevision
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	view, err := GetCertificate(db, id)
	if err != nil {
		return nil, err
	}
	view.LockedPaths = lockedPaths
	return view, nil
}

// viewOf converts a loaded model into the API shape.
func viewOf(doc *models.CertificateDocument) (*DocumentView, error) {
	payload, err := certificate.ParsePayload(doc.Payload.JSON)
	if err != nil {
		return nil, err
	}
	if doc.DataVersion < certificate.CurrentDataVersion {
		certificate.MigrateSignatures(payload)
	}
	prov, err := certificate.ParseProvenance(doc.Provenance.JSON)
	if err != nil {
		return nil, err
	}

	view := &DocumentView{
		ID:          doc.DocumentID,
		Kind:        doc.Kind,
		Status:      doc.Status,
		Revision:    doc.Revision,
		DataVersion: doc.DataVersion,
		Payload:     payload,
		Provenance:  prov,
		Rows:        make([]RowView, 0, len(doc.Rows)),
		JobID:       doc.JobID,
		ClientID:    doc.ClientID,
		CompletedAt: doc.CompletedAt,
		IssuedAt:    doc.IssuedAt,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	if doc.Number != nil {
		view.Number = *doc.Number
	}
	if doc.SupersededBy != nil {
		view.SupersededBy = *doc.SupersededBy
	}
	for _, row := range doc.Rows {
		var values map[string]any
		if len(row.Values.JSON) > 0 {
			if err := json.Unmarshal(row.Values.JSON, &values); err != nil {
				return nil, err
			}
		}
		view.Rows = append(view.Rows, RowView{Position: row.Position, Values: values})
	}
	return view, nil
}

func jsonColumn(raw []byte) models.JSON {
	col := models.JSON{}
	_ = col.Scan(raw)
	return col
}

func equalJSON(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ra) == string(rb)
}

func rowsDiffer(old []models.TestResultRow, incoming []map[string]any) (bool, error) {
	if len(old) != len(incoming) {
		return true, nil
	}
	for i, row := range old {
		raw, err := json.Marshal(incoming[i])
		if err != nil {
			return false, err
		}
		var stored map[string]any
		if len(row.Values.JSON) > 0 {
			if err := json.Unmarshal(row.Values.JSON, &stored); err != nil {
				return false, err
			}
		}
		rawStored, err := json.Marshal(stored)
		if err != nil {
			return false, err
		}
		if string(raw) != string(rawStored) {
			return true, nil
		}
	}
	return false, nil
}
