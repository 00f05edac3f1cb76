package services_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/localnerve/ampline-certsvc/internal/certificate"
	"github.com/localnerve/ampline-certsvc/internal/services"
)

func TestCompleteRequiresReadiness(t *testing.T) {
	db := setupTestDB(t)
	view := createDraft(t, db, "EIC", nil)

	_, err := services.Complete(db, view.ID)
	var notReady *services.NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("Expected NotReadyError, got %v", err)
	}
	if len(notReady.Missing) == 0 {
		t.Error("Expected missing fields listed")
	}

	// Status unchanged on a refused completion
	got, _ := services.GetCertificate(db, view.ID)
	if got.Status != certificate.StatusDraft {
		t.Errorf("Expected draft after refused completion, got %s", got.Status)
	}
}

func TestCompleteThenIssue(t *testing.T) {
	db := setupTestDB(t)
	view := createDraft(t, db, "EIC", nil)

	if _, err := services.PatchCertificate(db, view.ID, 0, readyPayload(), nil, nil); err != nil {
		t.Fatalf("Failed to fill: %v", err)
	}

	completed, err := services.Complete(db, view.ID)
	if err != nil {
		t.Fatalf("Failed to complete: %v", err)
	}
	if completed.Status != certificate.StatusCompleted {
		t.Errorf("Expected completed, got %s", completed.Status)
	}
	if completed.CompletedAt == nil {
		t.Error("Expected completed_at set")
	}
	if completed.Number != "" {
		t.Error("Expected no number before issue")
	}

	issued, err := services.Issue(db, view.ID, "")
	if err != nil {
		t.Fatalf("Failed to issue: %v", err)
	}
	if issued.Status != certificate.StatusIssued {
		t.Errorf("Expected issued, got %s", issued.Status)
	}
	if issued.IssuedAt == nil {
		t.Error("Expected issued_at set")
	}
	if !strings.HasPrefix(issued.Number, "EIC-") {
		t.Errorf("Expected EIC-prefixed number, got %s", issued.Number)
	}
}

func TestIssueRequiresCompleted(t *testing.T) {
	db := setupTestDB(t)
	view := createDraft(t, db, "EIC", nil)

	_, err := services.Issue(db, view.ID, "")
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for draft issue, got %v", err)
	}
}

func TestCompleteTwiceRefused(t *testing.T) {
	db := setupTestDB(t)
	view := createDraft(t, db, "EIC", nil)
	if _, err := services.PatchCertificate(db, view.ID, 0, readyPayload(), nil, nil); err != nil {
		t.Fatalf("Failed to fill: %v", err)
	}
	if _, err := services.Complete(db, view.ID); err != nil {
		t.Fatalf("Failed to complete: %v", err)
	}

	_, err := services.Complete(db, view.ID)
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition on second complete, got %v", err)
	}
}

func TestCertificateNumbersSequencePerKind(t *testing.T) {
	db := setupTestDB(t)

	first := createDraft(t, db, "EIC", nil)
	second := createDraft(t, db, "EIC", nil)

	a := completeAndIssue(t, db, first.ID)
	b := completeAndIssue(t, db, second.ID)

	if a.Number == b.Number {
		t.Fatalf("Expected distinct numbers, both got %s", a.Number)
	}
	if !strings.HasSuffix(a.Number, "-000001") || !strings.HasSuffix(b.Number, "-000002") {
		t.Errorf("Expected sequential numbers, got %s then %s", a.Number, b.Number)
	}
}

func TestVoidFromDraftAndCompleted(t *testing.T) {
	db := setupTestDB(t)

	draft := createDraft(t, db, "MWC", nil)
	voided, err := services.Void(db, draft.ID)
	if err != nil {
		t.Fatalf("Failed to void draft: %v", err)
	}
	if voided.Status != certificate.StatusVoid {
		t.Errorf("Expected void, got %s", voided.Status)
	}

	// Void is terminal
	_, err = services.Void(db, draft.ID)
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition voiding a void document, got %v", err)
	}
}

func TestVoidIssuedRefused(t *testing.T) {
	db := setupTestDB(t)
	view := createDraft(t, db, "EIC", nil)
	completeAndIssue(t, db, view.ID)

	_, err := services.Void(db, view.ID)
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition voiding issued, got %v", err)
	}
}

func TestAmendBranchesFromIssued(t *testing.T) {
	db := setupTestDB(t)
	view := createDraft(t, db, "EIC", nil)
	issued := completeAndIssue(t, db, view.ID)

	branch, err := services.Amend(db, view.ID, "")
	if err != nil {
		t.Fatalf("Failed to amend: %v", err)
	}
	if branch.ID == view.ID {
		t.Fatal("Expected a new document")
	}
	if branch.Status != certificate.StatusDraft {
		t.Errorf("Expected draft branch, got %s", branch.Status)
	}
	if branch.Number != "" {
		t.Error("Expected branch to carry no number")
	}
	// Payload copied
	if got := certificate.Payload(branch.Payload).GetPath("overview.jobReference"); got != "JOB-1" {
		t.Errorf("Expected copied payload, got %v", got)
	}

	// Source unchanged
	source, _ := services.GetCertificate(db, view.ID)
	if source.Status != certificate.StatusIssued || source.Number != issued.Number {
		t.Errorf("Expected source untouched, got %s %s", source.Status, source.Number)
	}
	if source.SupersededBy != "" {
		t.Error("Expected amend to leave superseded_by unset")
	}

	// Lineage records the edge in both directions
	lineage, err := services.Lineage(db, branch.ID)
	if err != nil {
		t.Fatalf("Failed to get lineage: %v", err)
	}
	if lineage.Amends == nil || lineage.Amends.ID != view.ID {
		t.Errorf("Expected branch lineage to point at source, got %+v", lineage.Amends)
	}
	parentLineage, err := services.Lineage(db, view.ID)
	if err != nil {
		t.Fatalf("Failed to get parent lineage: %v", err)
	}
	if len(parentLineage.Amendments) != 1 || parentLineage.Amendments[0].ID != branch.ID {
		t.Errorf("Expected source to list the branch, got %+v", parentLineage.Amendments)
	}
}

func TestAmendRequiresIssued(t *testing.T) {
	db := setupTestDB(t)
	view := createDraft(t, db, "EIC", nil)

	_, err := services.Amend(db, view.ID, "")
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition amending a draft, got %v", err)
	}
}

func TestAmendIdempotent(t *testing.T) {
	db := setupTestDB(t)
	view := createDraft(t, db, "EIC", nil)
	completeAndIssue(t, db, view.ID)

	first, err := services.Amend(db, view.ID, "retry-key-1")
	if err != nil {
		t.Fatalf("Failed first amend: %v", err)
	}
	second, err := services.Amend(db, view.ID, "retry-key-1")
	if err != nil {
		t.Fatalf("Failed retried amend: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("Expected retried amend to return the same branch, got %s and %s", first.ID, second.ID)
	}

	// A different key creates a new branch
	third, err := services.Amend(db, view.ID, "retry-key-2")
	if err != nil {
		t.Fatalf("Failed amend with new key: %v", err)
	}
	if third.ID == first.ID {
		t.Error("Expected a distinct branch for a distinct key")
	}
}

func TestReissueStampsSuperseded(t *testing.T) {
	db := setupTestDB(t)
	view := createDraft(t, db, "EIC", nil)
	completeAndIssue(t, db, view.ID)

	branch, err := services.Reissue(db, view.ID, "wrong address", "")
	if err != nil {
		t.Fatalf("Failed to reissue: %v", err)
	}
	if branch.Status != certificate.StatusDraft {
		t.Errorf("Expected draft branch, got %s", branch.Status)
	}

	source, _ := services.GetCertificate(db, view.ID)
	if source.SupersededBy != branch.ID {
		t.Errorf("Expected source superseded by %s, got %s", branch.ID, source.SupersededBy)
	}

	lineage, _ := services.Lineage(db, branch.ID)
	if lineage.Amends == nil || lineage.Amends.Relation != services.LineageReissue {
		t.Errorf("Expected reissue relation, got %+v", lineage.Amends)
	}
	if lineage.Amends.Reason != "wrong address" {
		t.Errorf("Expected reason preserved, got %q", lineage.Amends.Reason)
	}
}

func TestReissueFromDraft(t *testing.T) {
	db := setupTestDB(t)
	view := createDraft(t, db, "MWC", nil)

	branch, err := services.Reissue(db, view.ID, "", "")
	if err != nil {
		t.Fatalf("Failed to reissue a draft: %v", err)
	}
	if branch.ID == view.ID {
		t.Fatal("Expected a new document")
	}
}

func TestLineageNotFound(t *testing.T) {
	db := setupTestDB(t)
	_, err := services.Lineage(db, "missing-id")
	if !errors.Is(err, services.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestLineageEmpty(t *testing.T) {
	db := setupTestDB(t)
	view := createDraft(t, db, "EIC", nil)

	lineage, err := services.Lineage(db, view.ID)
	if err != nil {
		t.Fatalf("Failed to get lineage: %v", err)
	}
	if lineage.Amends != nil || len(lineage.Amendments) != 0 {
		t.Errorf("Expected empty lineage, got %+v", lineage)
	}
}
