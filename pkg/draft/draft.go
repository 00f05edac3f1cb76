// Package draft is the client-side draft reconciliation layer for the
// certificate service. A Session mirrors one draft certificate: edits are
// debounced into background saves, a local snapshot survives crashes and
// offline periods, and lifecycle actions are gated until the mirror and the
// server agree.
package draft

import (
	"context"
	"time"
)

// Document is the client-side shape of a certificate document.
type Document struct {
	ID           string         `json:"id"`
	Kind         string         `json:"kind"`
	Status       string         `json:"status"`
	Number       string         `json:"number,omitempty"`
	Revision     uint64         `json:"revision"`
	DataVersion  int            `json:"dataVersion"`
	Payload      map[string]any `json:"payload"`
	Rows         []Row          `json:"rows,omitempty"`
	JobID        string         `json:"jobId,omitempty"`
	ClientID     string         `json:"clientId,omitempty"`
	SupersededBy string         `json:"supersededBy,omitempty"`
	LockedPaths  []string       `json:"lockedPaths,omitempty"`
}

// Row is one test-result row as served by the API.
type Row struct {
	Position int            `json:"position"`
	Values   map[string]any `json:"values"`
}

// Store is the server side of a Session. Client is the production
// implementation; tests substitute in-process fakes.
type Store interface {
	Get(ctx context.Context, id string) (*Document, error)
	Save(ctx context.Context, id string, revision uint64, payload map[string]any, rows []map[string]any, unlock []string) (*Document, error)
	Complete(ctx context.Context, id string) (*Document, error)
	Issue(ctx context.Context, id string) (*Document, error)
}

// Snapshot is a locally persisted copy of unsaved draft state.
type Snapshot struct {
	DocumentID   string           `json:"documentId"`
	Payload      map[string]any   `json:"payload"`
	Rows         []map[string]any `json:"rows,omitempty"`
	BaseRevision uint64           `json:"baseRevision"`
	SavedAt      time.Time        `json:"savedAt"`
}

// SnapshotStore persists snapshots between sessions. Get returns (nil, nil)
// when no snapshot exists for the document.
type SnapshotStore interface {
	Put(ctx context.Context, snap *Snapshot) error
	Get(ctx context.Context, documentID string) (*Snapshot, error)
	Delete(ctx context.Context, documentID string) error
}
