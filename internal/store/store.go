// Package store implements the record reconciliation core: the canonical
// ordered set of receipts, merged from two independent update sources
// (background processing events and user edit commits) by identity, with a
// per-record version counter that detects stale edits instead of silently
// overwriting either side.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gfranca/notastream/internal/receipt"
)

// EditIntent is a user-authored single-field change staged by an edit session.
// ItemKey is empty for record-level fields and names a line item otherwise.
// BaseVersion is the record version captured when the edit began; ApplyEdit
// rejects the intent if the record has moved past it.
type EditIntent struct {
	RecordID    string
	ItemKey     string
	Field       string
	Value       string
	BaseVersion int64
}

// Store holds the ordered receipt collection. Mutations arrive from exactly
// two call paths, Upsert and ApplyEdit, and are serialized internally; all
// reads go through Snapshot or Get, which return copies.
type Store struct {
	tasks   chan func()
	done    chan struct{}
	records []receipt.Receipt
	index   map[string]int // id -> position in records
}

// New creates an empty store and starts its dispatch loop. The loop is the
// single owner of the record collection: every mutation and read runs as a
// discrete task on it, so two mutations never interleave. Close releases it.
func New() *Store {
	s := &Store{
		tasks: make(chan func()),
		done:  make(chan struct{}),
		index: make(map[string]int),
	}
	go s.dispatch()
	return s
}

// Close stops the dispatch loop. The store must not be used after Close.
func (s *Store) Close() {
	close(s.tasks)
	<-s.done
}

func (s *Store) dispatch() {
	defer close(s.done)
	for task := range s.tasks {
		task()
	}
}

// run executes fn on the dispatch loop and waits for it to finish.
func (s *Store) run(fn func()) {
	doneCh := make(chan struct{})
	s.tasks <- func() {
		fn()
		close(doneCh)
	}
	<-doneCh
}

// Upsert applies one background event.
//
// A batch-submitted event inserts one placeholder per record in submission
// order, skipping identities already present. A record-processed event
// replaces all scalar fields, items and status of an existing record in place
// (the record keeps its position) and increments its version; an unseen
// identity is appended. A malformed event (missing ID, unknown kind, invalid
// status) is rejected with ErrMalformedEvent and nothing is applied.
func (s *Store) Upsert(ev receipt.Event) error {
	var err error
	s.run(func() { err = s.upsert(ev) })
	return err
}

func (s *Store) upsert(ev receipt.Event) error {
	switch ev.Kind {
	case receipt.EventBatchSubmitted:
		// Validate the whole batch before touching state so a malformed
		// event leaves the store unaffected.
		for _, rec := range ev.Records {
			if rec.ID == "" {
				return fmt.Errorf("%w: %s record without id", ErrMalformedEvent, ev.Kind)
			}
			if !rec.Status.Valid() {
				return fmt.Errorf("%w: invalid status %q", ErrMalformedEvent, rec.Status)
			}
		}
		for _, rec := range ev.Records {
			if _, exists := s.index[rec.ID]; exists {
				continue
			}
			s.insert(rec)
		}
		return nil

	case receipt.EventRecordProcessed:
		if ev.Record == nil || ev.Record.ID == "" {
			return fmt.Errorf("%w: %s without id", ErrMalformedEvent, ev.Kind)
		}
		if !ev.Record.Status.Valid() {
			return fmt.Errorf("%w: invalid status %q", ErrMalformedEvent, ev.Record.Status)
		}
		pos, exists := s.index[ev.Record.ID]
		if !exists {
			s.insert(*ev.Record)
			return nil
		}
		next := ev.Record.Clone()
		next.Version = s.records[pos].Version + 1
		s.records[pos] = next
		return nil

	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, ev.Kind)
	}
}

// insert appends a record at the end of the ordered collection. Version starts
// at zero; it counts mutations applied after creation.
func (s *Store) insert(rec receipt.Receipt) {
	clone := rec.Clone()
	clone.Version = 0
	s.index[clone.ID] = len(s.records)
	s.records = append(s.records, clone)
}

// ApplyEdit commits a staged edit. It fails with ErrRecordNotFound if the
// identity vanished, with a *ConflictError if the record's version moved past
// the intent's base, and with ErrUnknownField for a field outside the editable
// set. On success exactly the named field is replaced, the version increments
// and the status is unchanged. The store never resolves a conflict itself.
func (s *Store) ApplyEdit(intent EditIntent) error {
	var err error
	s.run(func() { err = s.applyEdit(intent) })
	return err
}

func (s *Store) applyEdit(intent EditIntent) error {
	pos, exists := s.index[intent.RecordID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, intent.RecordID)
	}

	current := &s.records[pos]
	if current.Version != intent.BaseVersion {
		return &ConflictError{
			RecordID:       intent.RecordID,
			ItemKey:        intent.ItemKey,
			Field:          intent.Field,
			BaseVersion:    intent.BaseVersion,
			CurrentVersion: current.Version,
		}
	}

	// Mutate a copy so a failed setter cannot leave a half-applied record.
	next := current.Clone()
	if intent.ItemKey == "" {
		spec, ok := receipt.FieldByName(intent.Field)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, intent.Field)
		}
		if err := spec.Set(&next, intent.Value); err != nil {
			return err
		}
	} else {
		spec, ok := receipt.ItemFieldByName(intent.Field)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, intent.Field)
		}
		item := next.Item(intent.ItemKey)
		if item == nil {
			return fmt.Errorf("%w: line item %q of %s", ErrRecordNotFound, intent.ItemKey, intent.RecordID)
		}
		if err := spec.Set(item, intent.Value); err != nil {
			return err
		}
	}

	next.Version = current.Version + 1
	s.records[pos] = next
	return nil
}

// Snapshot returns the ordered records as deep copies. Mutating the returned
// slice or its items never affects the store.
func (s *Store) Snapshot() []receipt.Receipt {
	var out []receipt.Receipt
	s.run(func() {
		out = make([]receipt.Receipt, len(s.records))
		for i, rec := range s.records {
			out[i] = rec.Clone()
		}
	})
	return out
}

// Get returns a copy of the record with the given ID.
func (s *Store) Get(id string) (receipt.Receipt, bool) {
	var (
		rec receipt.Receipt
		ok  bool
	)
	s.run(func() {
		var pos int
		if pos, ok = s.index[id]; ok {
			rec = s.records[pos].Clone()
		}
	})
	return rec, ok
}

// Len returns the number of records in the store.
func (s *Store) Len() int {
	var n int
	s.run(func() { n = len(s.records) })
	return n
}

// Consume drains events into the store until the channel closes or ctx is
// cancelled. Malformed events are dropped and logged; they never stop the
// stream or corrupt existing state.
func (s *Store) Consume(ctx context.Context, events <-chan receipt.Event) {
	logger := slog.Default()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.Upsert(ev); err != nil {
				logger.Warn("dropped event", "kind", ev.Kind, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
