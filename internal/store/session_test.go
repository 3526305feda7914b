package store

import (
	"context"
	"errors"
	"testing"

	"github.com/gfranca/notastream/internal/receipt"
)

func seedProcessed(t *testing.T) (*Store, *Manager) {
	t.Helper()
	s := newTestStore(t)
	rec := processed("r1", 10500)
	rec.Items = []receipt.LineItem{
		{Key: "item-1", Code: "SV001", Name: "Serviço 1", Quantity: 2, UnitPriceInCents: 5250},
	}
	s.Upsert(receipt.Event{Kind: receipt.EventRecordProcessed, Record: &rec})
	return s, NewManager(s)
}

func TestSessionCommit(t *testing.T) {
	s, m := seedProcessed(t)
	sess := m.Session("r1", "receiptNumber")

	if sess.State() != Viewing {
		t.Fatalf("initial state = %s, want viewing", sess.State())
	}
	if err := sess.BeginEdit(); err != nil {
		t.Fatalf("BeginEdit() error = %v", err)
	}
	if sess.Draft() != "000042" {
		t.Errorf("draft initialized to %q, want current raw value %q", sess.Draft(), "000042")
	}

	sess.UpdateDraft("000099")
	if err := sess.Commit(context.Background()); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if sess.State() != Viewing {
		t.Errorf("state after commit = %s, want viewing", sess.State())
	}

	rec, _ := s.Get("r1")
	if rec.ReceiptNumber != "000099" {
		t.Errorf("receiptNumber = %q, want committed draft", rec.ReceiptNumber)
	}
}

func TestSessionCancelDiscardsDraft(t *testing.T) {
	s, m := seedProcessed(t)
	sess := m.Session("r1", "receiptNumber")

	sess.BeginEdit()
	sess.UpdateDraft("junk")
	sess.Cancel()

	if sess.State() != Viewing {
		t.Errorf("state after cancel = %s, want viewing", sess.State())
	}
	rec, _ := s.Get("r1")
	if rec.ReceiptNumber != "000042" {
		t.Errorf("receiptNumber = %q, cancel must not touch the store", rec.ReceiptNumber)
	}
	if rec.Version != 0 {
		t.Errorf("version = %d, cancel must not count as a mutation", rec.Version)
	}
}

func TestSessionConflictThenRebase(t *testing.T) {
	s, m := seedProcessed(t)
	sess := m.Session("r1", "receiptNumber")

	sess.BeginEdit()
	sess.UpdateDraft("1234")

	// A background update lands between begin and commit.
	updated := processed("r1", 99999)
	updated.ReceiptNumber = "777777"
	s.Upsert(receipt.Event{Kind: receipt.EventRecordProcessed, Record: &updated})

	err := sess.Commit(context.Background())
	if !errors.Is(err, ErrEditConflict) {
		t.Fatalf("Commit() error = %v, want ErrEditConflict", err)
	}
	if sess.State() != ConflictPending {
		t.Fatalf("state = %s, want conflict-pending", sess.State())
	}
	// Both sides are presented; neither wins silently.
	if sess.Draft() != "1234" {
		t.Errorf("draft = %q, conflict must keep the user's value", sess.Draft())
	}
	if sess.LiveValue() != "777777" {
		t.Errorf("live value = %q, want the store's fresh value", sess.LiveValue())
	}

	rec, _ := s.Get("r1")
	if rec.ReceiptNumber != "777777" {
		t.Error("conflicted commit must not reach the store")
	}

	// The user chooses their value: rebase onto the fresh version and retry.
	if err := sess.Rebase(); err != nil {
		t.Fatalf("Rebase() error = %v", err)
	}
	if err := sess.Commit(context.Background()); err != nil {
		t.Fatalf("Commit() after rebase error = %v", err)
	}
	rec, _ = s.Get("r1")
	if rec.ReceiptNumber != "1234" {
		t.Errorf("receiptNumber = %q, want rebased draft", rec.ReceiptNumber)
	}
}

func TestSessionRecordVanished(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s)
	s.Upsert(receipt.Event{Kind: receipt.EventRecordProcessed, Record: ptr(processed("r1", 100))})

	sess := m.Session("ghost", "receiptNumber")
	if err := sess.BeginEdit(); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("BeginEdit() error = %v, want ErrRecordNotFound", err)
	}
	if sess.State() != Viewing {
		t.Errorf("state = %s, want viewing with no draft", sess.State())
	}
}

func TestSessionCancelledContext(t *testing.T) {
	s, m := seedProcessed(t)
	sess := m.Session("r1", "receiptNumber")
	sess.BeginEdit()
	sess.UpdateDraft("1234")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sess.Commit(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Commit() error = %v, want context.Canceled", err)
	}
	rec, _ := s.Get("r1")
	if rec.ReceiptNumber != "000042" || rec.Version != 0 {
		t.Error("cancelled commit must not apply a partial edit")
	}
	if sess.State() != Viewing {
		t.Errorf("state = %s, want viewing", sess.State())
	}
}

func TestSessionValidationFailureKeepsDraft(t *testing.T) {
	_, m := seedProcessed(t)
	sess := m.Session("r1", "receiptValueInCents")
	sess.BeginEdit()
	sess.UpdateDraft("not-a-number")

	if err := sess.Commit(context.Background()); err == nil {
		t.Fatal("Commit() accepted an invalid amount")
	}
	if sess.State() != Editing {
		t.Errorf("state = %s, want editing so the user can correct the draft", sess.State())
	}
	if sess.Draft() != "not-a-number" {
		t.Errorf("draft = %q, validation failure must keep it", sess.Draft())
	}
}

// TestLineItemEditSurvivesCollapse covers the expansion contract: collapsing a
// row is presentation state only, so a committed line-item value persists and
// an uncommitted draft does not.
func TestLineItemEditSurvivesCollapse(t *testing.T) {
	s, m := seedProcessed(t)

	m.Expand("r1")
	sess := m.ItemSession("r1", "item-1", "quantity")
	sess.BeginEdit()
	if sess.Draft() != "2" {
		t.Fatalf("draft = %q, want current quantity", sess.Draft())
	}
	sess.UpdateDraft("7")
	if err := sess.Commit(context.Background()); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	// Stage another draft and abandon it.
	nameSess := m.ItemSession("r1", "item-1", "name")
	nameSess.BeginEdit()
	nameSess.UpdateDraft("uncommitted")
	nameSess.Cancel()

	m.Collapse("r1")
	if m.Expanded("r1") {
		t.Error("row still expanded after collapse")
	}
	m.Expand("r1")

	rec, _ := s.Get("r1")
	if rec.Items[0].Quantity != 7 {
		t.Errorf("quantity = %d, committed value must survive collapse", rec.Items[0].Quantity)
	}
	if rec.Items[0].Name != "Serviço 1" {
		t.Errorf("name = %q, uncommitted draft must not persist", rec.Items[0].Name)
	}
	if got := m.ItemSession("r1", "item-1", "quantity"); got != sess {
		t.Error("re-expanding created a fresh session, edit state was reset")
	}
}

func TestManagerDiscardAll(t *testing.T) {
	s, m := seedProcessed(t)
	sess := m.Session("r1", "receiptNumber")
	sess.BeginEdit()
	sess.UpdateDraft("staged")

	m.Expand("r1")
	m.DiscardAll()

	if m.Expanded("r1") {
		t.Error("expansion state survived teardown")
	}
	rec, _ := s.Get("r1")
	if rec.ReceiptNumber != "000042" || rec.Version != 0 {
		t.Error("teardown applied a draft")
	}
}

func TestSessionStateStrings(t *testing.T) {
	tests := []struct {
		state SessionState
		want  string
	}{
		{Viewing, "viewing"},
		{Editing, "editing"},
		{Committing, "committing"},
		{ConflictPending, "conflict-pending"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", tt.state, got, tt.want)
		}
	}
}
