// Package receipt defines the domain model for fiscal receipts extracted from
// uploaded PDF documents: the record and line-item types, the processing status
// lifecycle, the wire envelope exchanged with the processing backend, and the
// closed registry of editable fields.
//
// This package has no transport or storage dependencies and can be used by any
// frontend.
package receipt

import (
	"encoding/json"
	"fmt"
)

// Status is the processing state of a receipt.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusUploading, StatusProcessing, StatusDone, StatusError:
		return true
	}
	return false
}

// Label returns the Portuguese display label for s.
func (s Status) Label() string {
	switch s {
	case StatusProcessing:
		return "Processando"
	case StatusDone:
		return "Pronto"
	case StatusError:
		return "Erro"
	default:
		return "Enviando"
	}
}

// Receipt is a document-derived record. ID is assigned by the backend and is
// immutable once set. All scalar fields except ID and Status are unknown until
// processing completes; pointer and empty-string fields encode absence so the
// presentation layer can render a placeholder instead of a default value.
type Receipt struct {
	ID     string `json:"id"`
	Status Status `json:"status"`

	// FileName is the name of the uploaded source document.
	FileName string `json:"fileName,omitempty"`

	Supplier            string `json:"supplier,omitempty"`
	Customer            string `json:"customer,omitempty"`
	ReceiptNumber       string `json:"receiptNumber,omitempty"`
	ReceiptValueInCents *int64 `json:"receiptValueInCents,omitempty"`
	ISSValueInCents     *int64 `json:"issValueInCents,omitempty"`
	DocumentType        *int   `json:"documentType,omitempty"`
	OperationCode       *int   `json:"operationCode,omitempty"`
	IssueDate           string `json:"issueDate,omitempty"`
	AccrualDate         string `json:"accrualDate,omitempty"`

	Items []LineItem `json:"items,omitempty"`

	// Version counts accepted mutations applied by the reconciliation store.
	// It is store-owned: values arriving on the wire are ignored.
	Version int64 `json:"version,omitempty"`
}

// LineItem is a sub-line of a receipt. Key is unique within the parent
// receipt only; items have no lifecycle outside their parent.
type LineItem struct {
	Key              string `json:"key"`
	Code             string `json:"code,omitempty"`
	Name             string `json:"name,omitempty"`
	Purpose          int    `json:"purpose,omitempty"`
	CostCenter       int    `json:"costCenter,omitempty"`
	Activity         int    `json:"activity,omitempty"`
	Quantity         int64  `json:"quantity,omitempty"`
	UnitPriceInCents int64  `json:"unitPriceInCents,omitempty"`
}

// Clone returns a deep copy of r. The items slice is copied so callers can
// mutate the clone without affecting the original.
func (r Receipt) Clone() Receipt {
	out := r
	if r.ReceiptValueInCents != nil {
		v := *r.ReceiptValueInCents
		out.ReceiptValueInCents = &v
	}
	if r.ISSValueInCents != nil {
		v := *r.ISSValueInCents
		out.ISSValueInCents = &v
	}
	if r.DocumentType != nil {
		v := *r.DocumentType
		out.DocumentType = &v
	}
	if r.OperationCode != nil {
		v := *r.OperationCode
		out.OperationCode = &v
	}
	if r.Items != nil {
		out.Items = make([]LineItem, len(r.Items))
		copy(out.Items, r.Items)
	}
	return out
}

// Item returns a pointer to the line item with the given key, or nil.
func (r *Receipt) Item(key string) *LineItem {
	for i := range r.Items {
		if r.Items[i].Key == key {
			return &r.Items[i]
		}
	}
	return nil
}

// EventKind discriminates the two wire event shapes.
type EventKind string

const (
	// EventBatchSubmitted announces the placeholder records for a submitted
	// batch, in submission order.
	EventBatchSubmitted EventKind = "batch-submitted"
	// EventRecordProcessed carries the full extraction result for one record.
	EventRecordProcessed EventKind = "record-processed"
)

// Event is one logical update produced by the processing backend. Exactly one
// of Records (batch-submitted) or Record (record-processed) is populated.
type Event struct {
	Kind    EventKind
	Records []Receipt
	Record  *Receipt
}

// Envelope is the wire form of an Event: {"kind": ..., "data": ...} where data
// is a record array for batch-submitted and a single record otherwise.
type Envelope struct {
	Kind EventKind       `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodeEvent marshals ev into its wire envelope.
func EncodeEvent(ev Event) ([]byte, error) {
	var data any
	switch ev.Kind {
	case EventBatchSubmitted:
		data = ev.Records
	case EventRecordProcessed:
		data = ev.Record
	default:
		return nil, fmt.Errorf("encode event: unknown kind %q", ev.Kind)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return json.Marshal(Envelope{Kind: ev.Kind, Data: raw})
}

// DecodeEvent parses a wire envelope into a typed Event. An unknown kind or an
// undecodable payload is an error; the caller decides whether that terminates
// the stream.
func DecodeEvent(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	switch env.Kind {
	case EventBatchSubmitted:
		var records []Receipt
		if err := json.Unmarshal(env.Data, &records); err != nil {
			return Event{}, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
		return Event{Kind: env.Kind, Records: records}, nil
	case EventRecordProcessed:
		var rec Receipt
		if err := json.Unmarshal(env.Data, &rec); err != nil {
			return Event{}, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
		return Event{Kind: env.Kind, Record: &rec}, nil
	default:
		return Event{}, fmt.Errorf("decode event: unknown kind %q", env.Kind)
	}
}
