// certificate.go
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

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CertificateDocument is the central compliance record (EIC, EICR or MWC).
// Payload holds the nested form sections as JSON; Provenance maps dotted
// field paths to their prefill source and lock state. Revision implements
// optimistic concurrency for the PATCH save path.
type CertificateDocument struct {
	DocumentID   string  `gorm:"type:char(36);primaryKey"`
	Kind         string  `gorm:"size:8;not null;index"`
	Status       string  `gorm:"size:16;not null;default:draft;index"`
	Number       *string `gorm:"size:32;uniqueIndex"`
	Payload      JSON    `gorm:"type:json"`
	Provenance   JSON    `gorm:"type:json"`
	DataVersion  int     `gorm:"not null;default:2"`
	Revision     uint64  `gorm:"not null;default:0"`
	JobID        string  `gorm:"type:char(36);index"`
	ClientID     string  `gorm:"type:char(36)"`
	SupersededBy *string `gorm:"type:char(36)"`
	CompletedAt  *time.Time
	IssuedAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Rows         []TestResultRow `gorm:"foreignKey:DocumentID;references:DocumentID"`
}

// TestResultRow is one free-form circuit test result row belonging to a
// certificate document. Rows are replaced wholesale on every save.
type TestResultRow struct {
	RowID      uint64 `gorm:"primaryKey;autoIncrement"`
	DocumentID string `gorm:"type:char(36);not null;index"`
	Position   int    `gorm:"not null"`
	Values     JSON   `gorm:"type:json"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CertificateSequence hands out per-kind, per-year certificate numbers at
// issue time. Rows are locked FOR UPDATE inside the issue transaction.
type CertificateSequence struct {
	SequenceID uint64 `gorm:"primaryKey;autoIncrement"`
	Kind       string `gorm:"size:8;not null;index:idx_sequence_kind_year,unique"`
	Year       int    `gorm:"not null;index:idx_sequence_kind_year,unique"`
	Next       uint64 `gorm:"not null;default:1"`
}

// BeforeCreate assigns the document id when the caller did not.
func (d *CertificateDocument) BeforeCreate(tx *gorm.DB) error {
	if d.DocumentID == "" {
		d.DocumentID = uuid.NewString()
	}
	return nil
}

// TableName overrides the table name for CertificateDocument
func (CertificateDocument) TableName() string {
	return "certificate_documents"
}

// TableName overrides the table name for TestResultRow
func (TestResultRow) TableName() string {
	return "test_result_rows"
}

// TableName overrides the table name for CertificateSequence
func (CertificateSequence) TableName() string {
	return "certificate_sequences"
}
