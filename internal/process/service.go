// Package process implements the backend side of the batch protocol: it
// accepts a batch of PDF documents, assigns record identities, and streams
// upsert events as extraction completes. Extraction itself sits behind the
// Extractor interface; the shipped implementation stands in for the fiscal
// OCR service, which is an external collaborator.
package process

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gfranca/notastream/internal/receipt"
)

// pdfMagic is the required prefix of every uploaded document.
var pdfMagic = []byte("%PDF")

// UploadedFile is one document received in a batch submission.
type UploadedFile struct {
	Name string
	Data []byte
}

// Config bounds batch processing.
type Config struct {
	// MaxConcurrent caps parallel extractions per batch.
	MaxConcurrent int
	// MaxFileSize rejects oversized documents, in bytes.
	MaxFileSize int64
	// Timeout aborts a batch that runs too long. Zero means no timeout.
	Timeout time.Duration
}

// Service owns the active batches. One Service is created per server process
// and shared by the HTTP handlers.
type Service struct {
	cfg       Config
	extractor Extractor

	mu      sync.RWMutex
	batches map[string]*batch
}

// batch tracks one submitted batch: its event log and its subscribers. The
// log is replayed to late subscribers so no listener misses the opening
// batch-submitted event.
type batch struct {
	id       string
	capacity int // max events this batch will ever emit

	mu        sync.Mutex
	events    []receipt.Event
	listeners []chan receipt.Event
	done      bool
}

// NewService creates a batch service using the given extractor.
func NewService(cfg Config, extractor Extractor) *Service {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return &Service{
		cfg:       cfg,
		extractor: extractor,
		batches:   make(map[string]*batch),
	}
}

// StartBatch validates and registers a batch, emits its batch-submitted event
// and begins extracting files in the background. It returns the batch ID
// immediately; events are delivered through Subscribe.
func (s *Service) StartBatch(ctx context.Context, files []UploadedFile) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("empty batch")
	}
	for _, f := range files {
		if s.cfg.MaxFileSize > 0 && int64(len(f.Data)) > s.cfg.MaxFileSize {
			return "", fmt.Errorf("file %s exceeds %d bytes", f.Name, s.cfg.MaxFileSize)
		}
		if len(f.Data) < len(pdfMagic) || string(f.Data[:len(pdfMagic)]) != string(pdfMagic) {
			return "", fmt.Errorf("file %s is not a PDF document", f.Name)
		}
	}

	batchID := uuid.New().String()

	// Placeholder records in submission order; all scalars absent.
	placeholders := make([]receipt.Receipt, len(files))
	for i, f := range files {
		placeholders[i] = receipt.Receipt{
			ID:       uuid.New().String(),
			Status:   receipt.StatusUploading,
			FileName: f.Name,
		}
	}

	// One batch-submitted event, then processing + terminal events per file.
	b := &batch{
		id:       batchID,
		capacity: 1 + 2*len(files),
	}

	s.mu.Lock()
	s.batches[batchID] = b
	s.mu.Unlock()

	b.emit(receipt.Event{Kind: receipt.EventBatchSubmitted, Records: placeholders})

	procCtx := context.Background()
	var cancel context.CancelFunc = func() {}
	if s.cfg.Timeout > 0 {
		procCtx, cancel = context.WithTimeout(procCtx, s.cfg.Timeout)
	}

	go func() {
		defer cancel()
		s.processBatch(procCtx, b, files, placeholders)
	}()

	return batchID, nil
}

// processBatch extracts every file concurrently and closes the batch when the
// last result has been emitted.
func (s *Service) processBatch(ctx context.Context, b *batch, files []UploadedFile, placeholders []receipt.Receipt) {
	logger := slog.Default().With("batch_id", b.id)
	logger.Info("batch processing started", "files", len(files))
	start := time.Now()

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.MaxConcurrent)

	for i := range files {
		file := files[i]
		placeholder := placeholders[i]
		group.Go(func() error {
			working := placeholder
			working.Status = receipt.StatusProcessing
			b.emit(receipt.Event{Kind: receipt.EventRecordProcessed, Record: &working})

			rec, err := s.extractor.Extract(ctx, file.Name, file.Data)
			if err != nil {
				logger.Warn("extraction failed", "file", file.Name, "error", err)
				failed := placeholder
				failed.Status = receipt.StatusError
				b.emit(receipt.Event{Kind: receipt.EventRecordProcessed, Record: &failed})
				return nil // one bad file does not abort the batch
			}

			rec.ID = placeholder.ID
			rec.FileName = file.Name
			rec.Status = receipt.StatusDone
			b.emit(receipt.Event{Kind: receipt.EventRecordProcessed, Record: &rec})
			return nil
		})
	}

	group.Wait()
	b.finish()
	logger.Info("batch processing finished", "duration_ms", time.Since(start).Milliseconds())
}

// Subscribe returns a channel of the batch's events. Already-emitted events
// are replayed first, so subscribers joining after submission still observe
// the batch-submitted event before any record-processed. The channel is
// closed once the batch completes.
func (s *Service) Subscribe(batchID string) (<-chan receipt.Event, error) {
	s.mu.RLock()
	b, ok := s.batches[batchID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("batch not found: %s", batchID)
	}
	return b.subscribe(), nil
}

func (b *batch) emit(ev receipt.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	for _, ch := range b.listeners {
		ch <- ev // capacity covers every event the batch can emit
	}
}

func (b *batch) subscribe() <-chan receipt.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan receipt.Event, b.capacity)
	for _, ev := range b.events {
		ch <- ev
	}
	if b.done {
		close(ch)
		return ch
	}
	b.listeners = append(b.listeners, ch)
	return ch
}

func (b *batch) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done = true
	for _, ch := range b.listeners {
		close(ch)
	}
	b.listeners = nil
}
