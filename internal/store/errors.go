package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure states the store can return. The store never
// panics on valid-shaped input; every failure is an explicit result and the
// caller decides the user-visible behavior.
var (
	// ErrMalformedEvent marks a wire event the store refuses to apply
	// (missing record ID, unknown kind, invalid status). The store is left
	// untouched.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrRecordNotFound marks an edit that targets an identity no longer in
	// the store.
	ErrRecordNotFound = errors.New("record not found")

	// ErrEditConflict marks a stale edit: the record's version advanced
	// after the edit session captured its base. Matched by errors.Is against
	// the *ConflictError returned from ApplyEdit.
	ErrEditConflict = errors.New("edit conflict")

	// ErrUnknownField marks an edit naming a field outside the closed
	// editable set.
	ErrUnknownField = errors.New("unknown editable field")
)

// ConflictError reports a stale edit. It carries both versions so the caller
// can surface a merge prompt; the store never auto-resolves.
type ConflictError struct {
	RecordID       string
	ItemKey        string
	Field          string
	BaseVersion    int64
	CurrentVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("edit conflict on %s.%s: base version %d, current %d",
		e.RecordID, e.Field, e.BaseVersion, e.CurrentVersion)
}

// Is lets errors.Is(err, ErrEditConflict) match a *ConflictError.
func (e *ConflictError) Is(target error) bool {
	return target == ErrEditConflict
}
