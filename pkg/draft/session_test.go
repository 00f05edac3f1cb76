package draft

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/localnerve/ampline-certsvc/internal/certificate"
)

// fakeStore is an in-process Store with failure injection and save delay.
type fakeStore struct {
	mu        sync.Mutex
	doc       *Document
	failSave  bool
	saveDelay time.Duration
	saveCount int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		doc: &Document{
			ID:       "doc-1",
			Kind:     "EIC",
			Status:   certificate.StatusDraft,
			Revision: 0,
			Payload:  map[string]any{},
		},
	}
}

func (f *fakeStore) Get(_ context.Context, _ string) (*Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := *f.doc
	doc.Payload = map[string]any(certificate.Payload(f.doc.Payload).Clone())
	return &doc, nil
}

func (f *fakeStore) Save(_ context.Context, _ string, revision uint64, payload map[string]any, rows []map[string]any, _ []string) (*Document, error) {
	f.mu.Lock()
	delay := f.saveDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCount++
	if f.failSave {
		return nil, &APIError{StatusCode: 503, Message: "unavailable"}
	}
	if revision != f.doc.Revision {
		return nil, &APIError{StatusCode: 409, Type: "revision", RevisionError: true}
	}
	f.doc.Revision++
	f.doc.Payload = map[string]any(certificate.Payload(payload).Clone())
	f.doc.Rows = make([]Row, len(rows))
	for i, values := range rows {
		f.doc.Rows[i] = Row{Position: i, Values: values}
	}
	doc := *f.doc
	doc.Payload = map[string]any(certificate.Payload(f.doc.Payload).Clone())
	return &doc, nil
}

func (f *fakeStore) Complete(_ context.Context, _ string) (*Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc.Status = certificate.StatusCompleted
	f.doc.Revision++
	doc := *f.doc
	return &doc, nil
}

func (f *fakeStore) Issue(_ context.Context, _ string) (*Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc.Status = certificate.StatusIssued
	f.doc.Revision++
	doc := *f.doc
	return &doc, nil
}

func (f *fakeStore) saves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveCount
}

func openSession(t *testing.T, store *fakeStore, snaps SnapshotStore, debounce time.Duration) *Session {
	s, _, err := Open(context.Background(), store, snaps, "doc-1", Options{Debounce: debounce})
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	return s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func TestDebouncedAutosave(t *testing.T) {
	store := newFakeStore()
	snaps := NewMemorySnapshotStore()
	s := openSession(t, store, snaps, 20*time.Millisecond)
	defer s.Close()

	ctx := context.Background()
	if err := s.SetField(ctx, "overview.description", "a"); err != nil {
		t.Fatalf("Failed to edit: %v", err)
	}
	if s.State() != StateEditing {
		t.Errorf("Expected editing state, got %s", s.State())
	}

	waitFor(t, time.Second, func() bool { return s.State() == StateIdle })

	if store.saves() != 1 {
		t.Errorf("Expected 1 save, got %d", store.saves())
	}
	doc := s.Document()
	if doc.Revision != 1 {
		t.Errorf("Expected revision 1 after autosave, got %d", doc.Revision)
	}
	// Snapshot cleared on success
	snap, _ := snaps.Get(ctx, "doc-1")
	if snap != nil {
		t.Error("Expected snapshot cleared after successful save")
	}
}

func TestRapidEditsCoalesceIntoOneSave(t *testing.T) {
	store := newFakeStore()
	s := openSession(t, store, NewMemorySnapshotStore(), 30*time.Millisecond)
	defer s.Close()

	ctx := context.Background()
	for _, v := range []string{"a", "ab", "abc", "abcd"} {
		if err := s.SetField(ctx, "overview.description", v); err != nil {
			t.Fatalf("Failed to edit: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, time.Second, func() bool { return s.State() == StateIdle })

	if store.saves() != 1 {
		t.Errorf("Expected edits within the debounce window to coalesce into 1 save, got %d", store.saves())
	}
	if got := certificate.Payload(s.Document().Payload).GetPath("overview.description"); got != "abcd" {
		t.Errorf("Expected final value saved, got %v", got)
	}
}

func TestEditDuringSaveReschedules(t *testing.T) {
	store := newFakeStore()
	store.saveDelay = 50 * time.Millisecond
	s := openSession(t, store, NewMemorySnapshotStore(), 10*time.Millisecond)
	defer s.Close()

	ctx := context.Background()
	if err := s.SetField(ctx, "overview.description", "first"); err != nil {
		t.Fatalf("Failed to edit: %v", err)
	}
	waitFor(t, time.Second, func() bool { return s.State() == StateSaving })

	// Edit lands while the first save is in flight
	if err := s.SetField(ctx, "overview.description", "second"); err != nil {
		t.Fatalf("Failed to edit mid-flight: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return s.State() == StateIdle && store.saves() == 2 })

	store.mu.Lock()
	final := certificate.Payload(store.doc.Payload).GetPath("overview.description")
	store.mu.Unlock()
	if final != "second" {
		t.Errorf("Expected second save to carry the mid-flight edit, got %v", final)
	}
}

func TestSaveFailureKeepsSnapshotAndBlocksLifecycle(t *testing.T) {
	store := newFakeStore()
	store.failSave = true
	snaps := NewMemorySnapshotStore()
	s := openSession(t, store, snaps, 10*time.Millisecond)
	defer s.Close()

	ctx := context.Background()
	if err := s.SetField(ctx, "overview.description", "edit"); err != nil {
		t.Fatalf("Failed to edit: %v", err)
	}
	waitFor(t, time.Second, func() bool { return s.State() == StateSaveFailed })

	// Snapshot survives the failed save
	snap, _ := snaps.Get(ctx, "doc-1")
	if snap == nil {
		t.Fatal("Expected snapshot kept after failed save")
	}
	if got := certificate.Payload(snap.Payload).GetPath("overview.description"); got != "edit" {
		t.Errorf("Expected snapshot to hold the edit, got %v", got)
	}

	// Lifecycle actions refuse while out of sync
	if _, err := s.Complete(ctx); !errors.Is(err, ErrOutOfSync) {
		t.Errorf("Expected ErrOutOfSync, got %v", err)
	}
	if s.CanComplete() {
		t.Error("Expected CanComplete false while save failed")
	}

	// Manual save surfaces the transport error
	err := s.Save(ctx)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 503 {
		t.Errorf("Expected the 503 APIError, got %v", err)
	}

	// Backend recovers; manual save succeeds and clears the flag
	store.mu.Lock()
	store.failSave = false
	store.mu.Unlock()
	if err := s.Save(ctx); err != nil {
		t.Fatalf("Failed to save after recovery: %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("Expected idle after recovery, got %s", s.State())
	}
	if snap, _ := snaps.Get(ctx, "doc-1"); snap != nil {
		t.Error("Expected snapshot cleared after recovered save")
	}
}

func TestManualSaveWaitsForInFlight(t *testing.T) {
	store := newFakeStore()
	store.saveDelay = 50 * time.Millisecond
	s := openSession(t, store, NewMemorySnapshotStore(), 10*time.Millisecond)
	defer s.Close()

	ctx := context.Background()
	if err := s.SetField(ctx, "overview.description", "edit"); err != nil {
		t.Fatalf("Failed to edit: %v", err)
	}
	waitFor(t, time.Second, func() bool { return s.State() == StateSaving })

	if err := s.Save(ctx); err != nil {
		t.Fatalf("Failed manual save: %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("Expected idle after manual save, got %s", s.State())
	}
}

func TestOpenPrefersSnapshotWithUnsavedEdits(t *testing.T) {
	store := newFakeStore()
	snaps := NewMemorySnapshotStore()
	ctx := context.Background()

	// A previous session crashed with unsaved edits at the server revision
	_ = snaps.Put(ctx, &Snapshot{
		DocumentID:   "doc-1",
		Payload:      map[string]any{"overview": map[string]any{"description": "offline edit"}},
		BaseRevision: 0,
		SavedAt:      time.Now(),
	})

	s, result, err := Open(ctx, store, snaps, "doc-1", Options{Debounce: time.Hour})
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	defer s.Close()

	if !result.UsedSnapshot || result.Conflict {
		t.Errorf("Expected snapshot adopted, got %+v", result)
	}
	if got := certificate.Payload(s.Document().Payload).GetPath("overview.description"); got != "offline edit" {
		t.Errorf("Expected snapshot payload adopted, got %v", got)
	}
	if s.State() != StateEditing {
		t.Errorf("Expected editing state with unsaved snapshot, got %s", s.State())
	}
}

func TestOpenReportsStaleSnapshotConflict(t *testing.T) {
	store := newFakeStore()
	store.doc.Revision = 5
	store.doc.Payload = map[string]any{"overview": map[string]any{"description": "server"}}
	snaps := NewMemorySnapshotStore()
	ctx := context.Background()

	_ = snaps.Put(ctx, &Snapshot{
		DocumentID:   "doc-1",
		Payload:      map[string]any{"overview": map[string]any{"description": "stale"}},
		BaseRevision: 2,
		SavedAt:      time.Now(),
	})

	s, result, err := Open(ctx, store, snaps, "doc-1", Options{})
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	defer s.Close()

	if !result.Conflict || result.UsedSnapshot {
		t.Errorf("Expected conflict, got %+v", result)
	}
	if result.Discarded == nil || result.Discarded.BaseRevision != 2 {
		t.Errorf("Expected stale snapshot surfaced, got %+v", result.Discarded)
	}
	// Server state adopted
	if got := certificate.Payload(s.Document().Payload).GetPath("overview.description"); got != "server" {
		t.Errorf("Expected server payload adopted, got %v", got)
	}

	// The caller resolves the conflict by discarding
	if err := s.DiscardSnapshot(ctx); err != nil {
		t.Fatalf("Failed to discard: %v", err)
	}
	if snap, _ := snaps.Get(ctx, "doc-1"); snap != nil {
		t.Error("Expected snapshot removed")
	}
}

func TestOpenIgnoresSnapshotForNonDraft(t *testing.T) {
	store := newFakeStore()
	store.doc.Status = certificate.StatusIssued
	snaps := NewMemorySnapshotStore()
	ctx := context.Background()

	_ = snaps.Put(ctx, &Snapshot{DocumentID: "doc-1", Payload: map[string]any{"a": "b"}, BaseRevision: 0})

	s, result, err := Open(ctx, store, snaps, "doc-1", Options{})
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	defer s.Close()

	if result.UsedSnapshot || !result.Conflict {
		t.Errorf("Expected snapshot refused for issued document, got %+v", result)
	}
	// Issued documents refuse edits outright
	if err := s.SetField(ctx, "a", "c"); !errors.Is(err, ErrNotEditable) {
		t.Errorf("Expected ErrNotEditable, got %v", err)
	}
}

func TestSkipOnceEchoDoesNotDirty(t *testing.T) {
	store := newFakeStore()
	store.doc.Payload = map[string]any{"overview": map[string]any{"description": "loaded"}}
	s := openSession(t, store, NewMemorySnapshotStore(), time.Hour)
	defer s.Close()

	ctx := context.Background()
	// The form binding echoes the loaded value back on hydration
	if err := s.SetField(ctx, "overview.description", "loaded"); err != nil {
		t.Fatalf("Failed echo set: %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("Expected hydration echo to leave the session clean, got %s", s.State())
	}

	// A real edit dirties as usual
	if err := s.SetField(ctx, "overview.description", "changed"); err != nil {
		t.Fatalf("Failed edit: %v", err)
	}
	if s.State() != StateEditing {
		t.Errorf("Expected editing after real edit, got %s", s.State())
	}
}

func TestCompleteAndIssueWhenInSync(t *testing.T) {
	store := newFakeStore()
	s := openSession(t, store, NewMemorySnapshotStore(), time.Hour)
	defer s.Close()

	ctx := context.Background()
	doc, err := s.Complete(ctx)
	if err != nil {
		t.Fatalf("Failed to complete: %v", err)
	}
	if doc.Status != certificate.StatusCompleted {
		t.Errorf("Expected completed, got %s", doc.Status)
	}

	doc, err = s.Issue(ctx)
	if err != nil {
		t.Fatalf("Failed to issue: %v", err)
	}
	if doc.Status != certificate.StatusIssued {
		t.Errorf("Expected issued, got %s", doc.Status)
	}

	// Session adopted the new status; edits now refuse
	if err := s.SetField(ctx, "a", "b"); !errors.Is(err, ErrNotEditable) {
		t.Errorf("Expected ErrNotEditable after issue, got %v", err)
	}
}

func TestSignWritesBothRepresentations(t *testing.T) {
	store := newFakeStore()
	s := openSession(t, store, NewMemorySnapshotStore(), time.Hour)
	defer s.Close()

	ctx := context.Background()
	if err := s.Sign(ctx, certificate.RoleEngineer, certificate.SignatureInput{SignedBy: "J. Sparks"}); err != nil {
		t.Fatalf("Failed to sign: %v", err)
	}

	p := certificate.Payload(s.Document().Payload)
	if !certificate.IsSigned(p, certificate.RoleEngineer) {
		t.Error("Expected engineer signed")
	}
	if p.GetPath("signatures.engineer.signedAtISO") == nil {
		t.Error("Expected legacy representation written")
	}
	if p.GetPath("signatures.engineer.v2.signedAtISO") == nil {
		t.Error("Expected structured representation written")
	}
}

// brokenSnapshotStore models a local cache that is out of quota.
type brokenSnapshotStore struct{}

func (brokenSnapshotStore) Put(context.Context, *Snapshot) error { return errors.New("quota exceeded") }
func (brokenSnapshotStore) Get(context.Context, string) (*Snapshot, error) {
	return nil, errors.New("quota exceeded")
}
func (brokenSnapshotStore) Delete(context.Context, string) error { return errors.New("quota exceeded") }

func TestBrokenSnapshotStoreDoesNotStopEditing(t *testing.T) {
	store := newFakeStore()
	s, result, err := Open(context.Background(), store, brokenSnapshotStore{}, "doc-1", Options{Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("Expected open to degrade to the server document, got %v", err)
	}
	defer s.Close()
	if result.UsedSnapshot || result.Conflict {
		t.Errorf("Expected no snapshot influence, got %+v", result)
	}

	ctx := context.Background()
	if err := s.SetField(ctx, "overview.description", "no safety net"); err != nil {
		t.Fatalf("Expected editing to continue without a snapshot, got %v", err)
	}

	// The debounced autosave still reaches the server
	waitFor(t, time.Second, func() bool { return s.State() == StateIdle })
	if store.saves() != 1 {
		t.Errorf("Expected the save to go out, got %d saves", store.saves())
	}
	store.mu.Lock()
	got := certificate.Payload(store.doc.Payload).GetPath("overview.description")
	store.mu.Unlock()
	if got != "no safety net" {
		t.Errorf("Expected the edit persisted server-side, got %v", got)
	}
	if err := s.LastError(); err != nil {
		t.Errorf("Expected no save error recorded, got %v", err)
	}
}

func TestCloseStopsAutosave(t *testing.T) {
	store := newFakeStore()
	s := openSession(t, store, NewMemorySnapshotStore(), 20*time.Millisecond)

	ctx := context.Background()
	if err := s.SetField(ctx, "overview.description", "edit"); err != nil {
		t.Fatalf("Failed to edit: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if store.saves() != 0 {
		t.Errorf("Expected no save after close, got %d", store.saves())
	}
	if err := s.SetField(ctx, "a", "b"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
