package process

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gfranca/notastream/internal/receipt"
)

var testConfig = Config{
	MaxConcurrent: 2,
	MaxFileSize:   1 << 20,
	Timeout:       30 * time.Second,
}

func pdf(content string) []byte {
	return []byte("%PDF-1.4\n" + content)
}

// collect drains a subscription until the batch completes.
func collect(t *testing.T, events <-chan receipt.Event) []receipt.Event {
	t.Helper()
	var out []receipt.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out waiting for batch to complete")
		}
	}
}

func TestStartBatchEmitsFullEventSequence(t *testing.T) {
	s := NewService(testConfig, &DemoExtractor{})

	files := []UploadedFile{
		{Name: "nota-01.pdf", Data: pdf("first")},
		{Name: "nota-02.pdf", Data: pdf("second")},
	}
	batchID, err := s.StartBatch(context.Background(), files)
	if err != nil {
		t.Fatalf("StartBatch() error = %v", err)
	}

	events, err := s.Subscribe(batchID)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	all := collect(t, events)

	if len(all) != 5 {
		t.Fatalf("got %d events, want 5 (1 batch-submitted + 2 per file)", len(all))
	}

	first := all[0]
	if first.Kind != receipt.EventBatchSubmitted {
		t.Fatalf("first event = %s, want batch-submitted", first.Kind)
	}
	if len(first.Records) != 2 {
		t.Fatalf("batch-submitted carries %d records, want 2", len(first.Records))
	}
	for i, rec := range first.Records {
		if rec.ID == "" {
			t.Errorf("placeholder %d has no identity", i)
		}
		if rec.Status != receipt.StatusUploading {
			t.Errorf("placeholder %d status = %q, want uploading", i, rec.Status)
		}
		if rec.FileName != files[i].Name {
			t.Errorf("placeholder %d file = %q, want submission order preserved", i, rec.FileName)
		}
		if rec.Supplier != "" || rec.ReceiptValueInCents != nil {
			t.Errorf("placeholder %d carries extracted fields", i)
		}
	}

	// Per identity: processing strictly before done, done carries the result.
	lastStatus := make(map[string]receipt.Status)
	for _, ev := range all[1:] {
		if ev.Kind != receipt.EventRecordProcessed || ev.Record == nil {
			t.Fatalf("unexpected event %+v", ev)
		}
		rec := ev.Record
		switch rec.Status {
		case receipt.StatusProcessing:
			if _, seen := lastStatus[rec.ID]; seen {
				t.Errorf("record %s: processing event after %q", rec.ID, lastStatus[rec.ID])
			}
		case receipt.StatusDone:
			if lastStatus[rec.ID] != receipt.StatusProcessing {
				t.Errorf("record %s: done before processing", rec.ID)
			}
			if rec.ReceiptValueInCents == nil || len(rec.Items) == 0 || rec.Supplier == "" {
				t.Errorf("record %s: done without extracted fields", rec.ID)
			}
		default:
			t.Errorf("record %s: unexpected status %q", rec.ID, rec.Status)
		}
		lastStatus[rec.ID] = rec.Status
	}
	for id, st := range lastStatus {
		if st != receipt.StatusDone {
			t.Errorf("record %s finished as %q, want done", id, st)
		}
	}
}

func TestStartBatchValidation(t *testing.T) {
	s := NewService(testConfig, &DemoExtractor{})

	tests := []struct {
		name  string
		files []UploadedFile
	}{
		{name: "empty batch", files: nil},
		{name: "not a pdf", files: []UploadedFile{{Name: "x.csv", Data: []byte("a,b,c")}}},
		{name: "truncated header", files: []UploadedFile{{Name: "x.pdf", Data: []byte("%P")}}},
		{
			name: "oversized file",
			files: []UploadedFile{
				{Name: "big.pdf", Data: append(pdf(""), make([]byte, 2<<20)...)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.StartBatch(context.Background(), tt.files); err == nil {
				t.Error("StartBatch() accepted an invalid batch")
			}
		})
	}
}

func TestSubscribeUnknownBatch(t *testing.T) {
	s := NewService(testConfig, &DemoExtractor{})
	if _, err := s.Subscribe("no-such-batch"); err == nil {
		t.Error("Subscribe() succeeded for unknown batch")
	}
}

func TestLateSubscriberGetsReplay(t *testing.T) {
	s := NewService(testConfig, &DemoExtractor{})

	batchID, err := s.StartBatch(context.Background(), []UploadedFile{{Name: "a.pdf", Data: pdf("a")}})
	if err != nil {
		t.Fatalf("StartBatch() error = %v", err)
	}

	// Drain a live subscription to completion first.
	live, _ := s.Subscribe(batchID)
	collect(t, live)

	// A subscriber joining after the batch finished still sees everything,
	// batch-submitted first.
	late, err := s.Subscribe(batchID)
	if err != nil {
		t.Fatalf("Subscribe() after completion error = %v", err)
	}
	all := collect(t, late)
	if len(all) != 3 {
		t.Fatalf("late subscriber got %d events, want 3", len(all))
	}
	if all[0].Kind != receipt.EventBatchSubmitted {
		t.Errorf("late subscriber first event = %s, want batch-submitted", all[0].Kind)
	}
}

type failingExtractor struct{}

func (failingExtractor) Extract(context.Context, string, []byte) (receipt.Receipt, error) {
	return receipt.Receipt{}, errors.New("unreadable document")
}

func TestExtractionFailureMarksRecordError(t *testing.T) {
	s := NewService(testConfig, failingExtractor{})

	batchID, err := s.StartBatch(context.Background(), []UploadedFile{{Name: "bad.pdf", Data: pdf("x")}})
	if err != nil {
		t.Fatalf("StartBatch() error = %v", err)
	}

	events, _ := s.Subscribe(batchID)
	all := collect(t, events)

	last := all[len(all)-1]
	if last.Kind != receipt.EventRecordProcessed || last.Record.Status != receipt.StatusError {
		t.Fatalf("terminal event = %+v, want record-processed with status error", last)
	}
	if last.Record.ID == "" {
		t.Error("error record lost its identity")
	}
}

func TestDemoExtractorDeterministic(t *testing.T) {
	e := &DemoExtractor{}
	data := pdf("same bytes")

	a, err := e.Extract(context.Background(), "nota.pdf", data)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	b, _ := e.Extract(context.Background(), "nota.pdf", data)

	if a.Supplier != b.Supplier || *a.ReceiptValueInCents != *b.ReceiptValueInCents || a.IssueDate != b.IssueDate {
		t.Error("same document produced different fields")
	}
	if len(a.Supplier) != 14 || len(a.Customer) != 14 {
		t.Errorf("tax ids = %q/%q, want 14 digits each", a.Supplier, a.Customer)
	}
	if _, err := time.Parse("2006-01-02", a.IssueDate); err != nil {
		t.Errorf("issue date %q is not ISO formatted", a.IssueDate)
	}
	if strings.TrimSpace(a.ReceiptNumber) == "" {
		t.Error("receipt number missing")
	}
}
