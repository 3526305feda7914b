package store

// session.go implements the per-cell edit state machine. A session stages a
// local draft against a captured record version; committing goes through
// Store.ApplyEdit, which detects whether the record moved underneath the edit.
// Line-item cells use the same machinery addressed by (record, item, field).

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gfranca/notastream/internal/receipt"
)

// SessionState is the lifecycle state of one cell's edit session.
type SessionState int

const (
	// Viewing shows the store's current value; no draft exists.
	Viewing SessionState = iota
	// Editing holds a local draft; the store is untouched.
	Editing
	// Committing is the transient state while ApplyEdit runs.
	Committing
	// ConflictPending means the commit was rejected as stale: the session
	// holds both the user's draft and the store's fresh value, and the
	// caller decides which wins.
	ConflictPending
)

func (s SessionState) String() string {
	switch s {
	case Editing:
		return "editing"
	case Committing:
		return "committing"
	case ConflictPending:
		return "conflict-pending"
	default:
		return "viewing"
	}
}

// Session is the edit state machine for a single cell. Sessions are created
// through a Manager and are not safe for concurrent use from multiple
// goroutines; the UI dispatches into them from one event context.
type Session struct {
	store    *Store
	recordID string
	itemKey  string // empty for record-level cells
	field    string

	state       SessionState
	draft       string
	baseVersion int64
	liveValue   string // store's value at conflict time
}

// State returns the current machine state.
func (s *Session) State() SessionState { return s.state }

// Draft returns the staged value. Only meaningful in Editing, Committing and
// ConflictPending.
func (s *Session) Draft() string { return s.draft }

// LiveValue returns the store's value re-read when a commit conflicted. The
// contract is to present it alongside the draft, never to pick one silently.
func (s *Session) LiveValue() string { return s.liveValue }

// BeginEdit enters Editing, capturing the record's current version and raw
// value as the initial draft. It fails if the record (or addressed line item)
// is gone, or if the session already holds a draft.
func (s *Session) BeginEdit() error {
	if s.state != Viewing {
		return fmt.Errorf("begin edit: session is %s", s.state)
	}

	rec, ok := s.store.Get(s.recordID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, s.recordID)
	}

	raw, err := s.currentValue(&rec)
	if err != nil {
		return err
	}

	s.baseVersion = rec.Version
	s.draft = raw
	s.state = Editing
	return nil
}

// UpdateDraft replaces the staged value. It touches only the session.
func (s *Session) UpdateDraft(value string) error {
	if s.state != Editing {
		return fmt.Errorf("update draft: session is %s", s.state)
	}
	s.draft = value
	return nil
}

// Commit pushes the draft into the store against the captured base version.
// Blur and confirmation-keystroke triggers both call this one path.
//
// On success the session returns to Viewing. On a stale base it moves to
// ConflictPending with the store's fresh value re-read into LiveValue. If the
// record vanished the draft is dropped and the session returns to Viewing. A
// cancelled ctx discards the attempt without applying anything.
func (s *Session) Commit(ctx context.Context) error {
	if s.state != Editing {
		return fmt.Errorf("commit: session is %s", s.state)
	}
	s.state = Committing

	if err := ctx.Err(); err != nil {
		s.reset()
		return err
	}

	err := s.store.ApplyEdit(EditIntent{
		RecordID:    s.recordID,
		ItemKey:     s.itemKey,
		Field:       s.field,
		Value:       s.draft,
		BaseVersion: s.baseVersion,
	})

	switch {
	case err == nil:
		s.reset()
		return nil

	case errors.Is(err, ErrEditConflict):
		s.state = ConflictPending
		if rec, ok := s.store.Get(s.recordID); ok {
			if live, lerr := s.currentValue(&rec); lerr == nil {
				s.liveValue = live
				s.baseVersion = rec.Version
			}
		}
		return err

	case errors.Is(err, ErrRecordNotFound):
		s.reset()
		return err

	default:
		// Validation failure: keep the draft so the user can fix it.
		s.state = Editing
		return err
	}
}

// Rebase re-enters Editing from ConflictPending, keeping the user's draft but
// adopting the store's current version as the new base. A following Commit
// then applies the draft over the fresh value.
func (s *Session) Rebase() error {
	if s.state != ConflictPending {
		return fmt.Errorf("rebase: session is %s", s.state)
	}
	s.state = Editing
	return nil
}

// Cancel discards the draft and returns to Viewing without touching the store.
func (s *Session) Cancel() {
	s.reset()
}

func (s *Session) reset() {
	s.state = Viewing
	s.draft = ""
	s.liveValue = ""
	s.baseVersion = 0
}

// currentValue reads the raw value of the addressed cell from a record copy.
func (s *Session) currentValue(rec *receipt.Receipt) (string, error) {
	if s.itemKey == "" {
		spec, ok := receipt.FieldByName(s.field)
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnknownField, s.field)
		}
		return spec.Get(rec), nil
	}

	spec, ok := receipt.ItemFieldByName(s.field)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, s.field)
	}
	item := rec.Item(s.itemKey)
	if item == nil {
		return "", fmt.Errorf("%w: line item %q of %s", ErrRecordNotFound, s.itemKey, s.recordID)
	}
	return spec.Get(item), nil
}

// sessionKey addresses one editable cell.
type sessionKey struct {
	recordID string
	itemKey  string
	field    string
}

// Manager owns the edit sessions and the row expansion state for one store.
// It is created once per active session and torn down with it; nothing here is
// a package-level singleton.
type Manager struct {
	mu       sync.Mutex
	store    *Store
	sessions map[sessionKey]*Session
	expanded map[string]bool
}

// NewManager creates a session manager bound to a store.
func NewManager(st *Store) *Manager {
	return &Manager{
		store:    st,
		sessions: make(map[sessionKey]*Session),
		expanded: make(map[string]bool),
	}
}

// Session returns the edit session for a record-level cell, creating it on
// first use.
func (m *Manager) Session(recordID, field string) *Session {
	return m.session(sessionKey{recordID: recordID, field: field})
}

// ItemSession returns the edit session for a line-item cell.
func (m *Manager) ItemSession(recordID, itemKey, field string) *Session {
	return m.session(sessionKey{recordID: recordID, itemKey: itemKey, field: field})
}

func (m *Manager) session(key sessionKey) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		return s
	}
	s := &Session{
		store:    m.store,
		recordID: key.recordID,
		itemKey:  key.itemKey,
		field:    key.field,
	}
	m.sessions[key] = s
	return s
}

// Expand marks a record's row as expanded. Expansion is presentation state
// only: it never touches the store or any session.
func (m *Manager) Expand(recordID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expanded[recordID] = true
}

// Collapse clears the expansion flag. Sessions under the row are kept, so
// collapsing and re-expanding neither re-fetches nor resets line-item edit
// state.
func (m *Manager) Collapse(recordID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.expanded, recordID)
}

// Expanded reports whether a record's row is expanded.
func (m *Manager) Expanded(recordID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expanded[recordID]
}

// DiscardAll cancels every in-flight session without applying drafts. Called
// when the view is torn down.
func (m *Manager) DiscardAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		s.reset()
	}
	m.sessions = make(map[sessionKey]*Session)
	m.expanded = make(map[string]bool)
}
