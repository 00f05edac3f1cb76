// session.go
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

package draft

import (
	"context"
	"log"
	"reflect"
	"sync"
	"time"

	"github.com/localnerve/ampline-certsvc/internal/certificate"
)

// DefaultDebounce is the pause after the last edit before an automatic save.
const DefaultDebounce = 900 * time.Millisecond

// Session states reported by State.
const (
	StateIdle       = "idle"
	StateEditing    = "editing"
	StateSaving     = "saving"
	StateSaveFailed = "saveFailed"
)

// Options configures a Session.
type Options struct {
	// Debounce overrides DefaultDebounce when positive.
	Debounce time.Duration
}

// LoadResult describes how Open hydrated the session.
type LoadResult struct {
	// UsedSnapshot is true when a local snapshot with unsaved edits was
	// adopted over the server document.
	UsedSnapshot bool
	// Conflict is true when a snapshot existed but the server document
	// had moved past its base revision (or left draft status). The
	// session adopts the server document; the stale snapshot is kept in
	// the store until DiscardSnapshot.
	Conflict bool
	// Discarded holds the stale snapshot when Conflict is set.
	Discarded *Snapshot
}

// Session reconciles one draft certificate between an editor and the server.
// Edits are applied locally, snapshotted synchronously, and pushed by a
// debounced single-flight save. All methods are safe for concurrent use.
type Session struct {
	store    Store
	snaps    SnapshotStore
	id       string
	debounce time.Duration

	mu         sync.Mutex
	doc        *Document
	payload    certificate.Payload
	rows       []map[string]any
	revision   uint64
	unlock     []string
	dirty      bool
	saving     bool
	saveFailed bool
	skipOnce   bool
	closed     bool
	lastErr    error
	timer      *time.Timer
	saveDone   chan struct{}
}

// Open loads the server document and reconciles it with any local snapshot.
// The snapshot wins only while the document is still a draft and the
// snapshot's base revision is not behind the server; otherwise the server
// document is adopted and a conflict is reported.
func Open(ctx context.Context, store Store, snaps SnapshotStore, id string, opts Options) (*Session, *LoadResult, error) {
	doc, err := store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	s := &Session{
		store:    store,
		snaps:    snaps,
		id:       id,
		debounce: opts.Debounce,
	}
	if s.debounce <= 0 {
		s.debounce = DefaultDebounce
	}
	s.adoptLocked(doc)

	result := &LoadResult{}
	// A broken local store degrades to the server document.
	snap, err := snaps.Get(ctx, id)
	if err != nil {
		log.Printf("draft: snapshot read failed for %s: %v", id, err)
	}
	if snap != nil {
		if doc.Status == certificate.StatusDraft && snap.BaseRevision >= doc.Revision {
			s.payload = certificate.Payload(snap.Payload).Clone()
			s.rows = cloneRows(snap.Rows)
			s.dirty = true
			result.UsedSnapshot = true
			s.scheduleLocked()
		} else {
			result.Conflict = true
			result.Discarded = snap
		}
	}

	return s, result, nil
}

// SetField applies one edit to a dotted payload path. Setting a path to its
// current value is a no-op; the first such echo after hydration clears the
// skip-once guard without scheduling a save.
func (s *Session) SetField(ctx context.Context, path string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	if s.skipOnce {
		s.skipOnce = false
		if reflect.DeepEqual(s.payload.GetPath(path), value) {
			return nil
		}
	} else if reflect.DeepEqual(s.payload.GetPath(path), value) {
		return nil
	}
	s.payload.SetPath(path, value)
	return s.editedLocked(ctx)
}

// SetRows replaces the test-result rows wholesale.
func (s *Session) SetRows(ctx context.Context, rows []map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	s.skipOnce = false
	if reflect.DeepEqual(s.rows, rows) {
		return nil
	}
	s.rows = cloneRows(rows)
	return s.editedLocked(ctx)
}

// Sign records a signature for a role in both the legacy and current
// payload shapes.
func (s *Session) Sign(ctx context.Context, role string, in certificate.SignatureInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	s.skipOnce = false
	certificate.WriteSignature(s.payload, role, in, time.Now().UTC())
	return s.editedLocked(ctx)
}

// Unlock marks a prefilled field path for unlocking on the next save, then
// edits to it are accepted by the server.
func (s *Session) Unlock(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	for _, p := range s.unlock {
		if p == path {
			return nil
		}
	}
	s.unlock = append(s.unlock, path)
	return s.editedLocked(ctx)
}

// Save pushes unsaved edits now, waiting out any in-flight save first. It
// returns the first save error; automatic retries resume on the next edit.
func (s *Session) Save(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		s.stopTimerLocked()
		if s.saving {
			done := s.saveDone
			s.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if !s.dirty {
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		if err := s.runSave(ctx); err != nil {
			return err
		}
	}
}

// Complete asks the server to transition the draft to completed. It refuses
// while the session is out of sync with the server.
func (s *Session) Complete(ctx context.Context) (*Document, error) {
	return s.transition(ctx, s.store.Complete)
}

// Issue asks the server to transition the completed certificate to issued.
func (s *Session) Issue(ctx context.Context) (*Document, error) {
	return s.transition(ctx, s.store.Issue)
}

// Readiness evaluates the required fields of the working payload.
func (s *Session) Readiness() certificate.Readiness {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind, ok := certificate.KindOf(s.doc.Kind)
	if !ok {
		return certificate.Readiness{}
	}
	return certificate.Evaluate(kind, s.payload)
}

// CanComplete reports whether the session is in sync and the payload is
// ready, so a Complete call is expected to succeed.
func (s *Session) CanComplete() bool {
	if !s.inSync() {
		return false
	}
	return s.Readiness().OK
}

// State reports the reconciliation state of the session.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.saving:
		return StateSaving
	case s.saveFailed:
		return StateSaveFailed
	case s.dirty:
		return StateEditing
	default:
		return StateIdle
	}
}

// Document returns a copy of the working document, local edits included.
func (s *Session) Document() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := *s.doc
	doc.Revision = s.revision
	doc.Payload = map[string]any(s.payload.Clone())
	doc.Rows = make([]Row, len(s.rows))
	for i, values := range cloneRows(s.rows) {
		doc.Rows[i] = Row{Position: i, Values: values}
	}
	return &doc
}

// LastError returns the error from the most recent failed save, nil after a
// successful one.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// DiscardSnapshot removes the local snapshot without saving it.
func (s *Session) DiscardSnapshot(ctx context.Context) error {
	return s.snaps.Delete(ctx, s.id)
}

// Close stops the autosave timer. An in-flight save is left to finish on its
// own; unsaved edits remain in the snapshot store.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.stopTimerLocked()
	return nil
}

func (s *Session) transition(ctx context.Context, op func(context.Context, string) (*Document, error)) (*Document, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.dirty || s.saving || s.saveFailed {
		s.mu.Unlock()
		return nil, ErrOutOfSync
	}
	s.mu.Unlock()

	doc, err := op(ctx, s.id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.adoptLocked(doc)
	s.mu.Unlock()
	return doc, nil
}

func (s *Session) inSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dirty && !s.saving && !s.saveFailed
}

func (s *Session) editableLocked() error {
	if s.closed {
		return ErrClosed
	}
	if s.doc.Status != certificate.StatusDraft {
		return ErrNotEditable
	}
	return nil
}

// editedLocked is the common tail of every edit: snapshot synchronously,
// mark dirty, restart the debounce timer. The snapshot write is best
// effort; a full or broken local store must not stop editing or saving.
func (s *Session) editedLocked(ctx context.Context) error {
	s.dirty = true
	s.writeSnapshotLocked(ctx)
	s.scheduleLocked()
	return nil
}

func (s *Session) writeSnapshotLocked(ctx context.Context) {
	err := s.snaps.Put(ctx, &Snapshot{
		DocumentID:   s.id,
		Payload:      map[string]any(s.payload.Clone()),
		Rows:         cloneRows(s.rows),
		BaseRevision: s.revision,
		SavedAt:      time.Now().UTC(),
	})
	if err != nil {
		log.Printf("draft: snapshot write failed for %s: %v", s.id, err)
	}
}

func (s *Session) scheduleLocked() {
	s.stopTimerLocked()
	s.timer = time.AfterFunc(s.debounce, s.autoSave)
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) autoSave() {
	s.mu.Lock()
	if s.closed || !s.dirty || s.saving {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	// Errors are kept in lastErr; a manual Save surfaces them.
	_ = s.runSave(context.Background())
}

// runSave performs one single-flight save of the current working state. Edits
// arriving during the flight keep the session dirty; the completion adopts
// only the new revision and reschedules.
func (s *Session) runSave(ctx context.Context) error {
	s.mu.Lock()
	if s.saving || !s.dirty || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.saving = true
	s.dirty = false
	done := make(chan struct{})
	s.saveDone = done
	payload := s.payload.Clone()
	rows := cloneRows(s.rows)
	revision := s.revision
	unlock := s.unlock
	s.unlock = nil
	s.mu.Unlock()

	doc, err := s.store.Save(ctx, s.id, revision, map[string]any(payload), rows, unlock)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	s.saveDone = nil
	close(done)

	if err != nil {
		s.dirty = true
		s.saveFailed = true
		s.lastErr = err
		s.unlock = append(unlock, s.unlock...)
		return err
	}

	s.saveFailed = false
	s.lastErr = nil
	s.revision = doc.Revision
	if s.dirty {
		// Edits landed mid-flight. Keep the local state, rebase the
		// snapshot, and go around again.
		s.writeSnapshotLocked(ctx)
		if !s.closed {
			s.scheduleLocked()
		}
		return nil
	}

	s.adoptLocked(doc)
	if err := s.snaps.Delete(ctx, s.id); err != nil {
		log.Printf("draft: snapshot delete failed for %s: %v", s.id, err)
	}
	return nil
}

// adoptLocked replaces the working state with a server document.
func (s *Session) adoptLocked(doc *Document) {
	s.doc = doc
	s.revision = doc.Revision
	s.payload = certificate.Payload(doc.Payload).Clone()
	s.rows = make([]map[string]any, len(doc.Rows))
	for i, row := range doc.Rows {
		s.rows[i] = map[string]any(certificate.Payload(row.Values).Clone())
	}
	s.skipOnce = true
}

func cloneRows(rows []map[string]any) []map[string]any {
	if rows == nil {
		return nil
	}
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = map[string]any(certificate.Payload(row).Clone())
	}
	return out
}
