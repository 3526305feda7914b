package receipt

// fields.go defines the closed set of editable fields. Every user edit goes
// through a FieldSpec: a typed getter and setter pair keyed by the wire field
// name. There are no string-keyed dynamic property writes; a field name outside
// this registry is not editable.

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gfranca/notastream/internal/receipt/format"
)

// FieldKind describes how a field value is rendered and validated.
type FieldKind int

const (
	KindText FieldKind = iota
	KindTaxID
	KindCurrency
	KindDate
	KindCode // small integer classification codes
	KindInt
)

// FieldSpec is one editable receipt field: its wire name, display kind and
// typed accessors. Get returns the raw draft value ("" when the field is
// absent); Set parses and validates a draft before assigning it.
type FieldSpec struct {
	Name string
	Kind FieldKind
	Get  func(*Receipt) string
	Set  func(*Receipt, string) error
}

// ItemFieldSpec is the line-item counterpart of FieldSpec.
type ItemFieldSpec struct {
	Name string
	Kind FieldKind
	Get  func(*LineItem) string
	Set  func(*LineItem, string) error
}

var recordFields = []FieldSpec{
	{
		Name: "supplier",
		Kind: KindTaxID,
		Get:  func(r *Receipt) string { return r.Supplier },
		Set:  func(r *Receipt, v string) error { return setTaxID(&r.Supplier, v) },
	},
	{
		Name: "customer",
		Kind: KindTaxID,
		Get:  func(r *Receipt) string { return r.Customer },
		Set:  func(r *Receipt, v string) error { return setTaxID(&r.Customer, v) },
	},
	{
		Name: "receiptNumber",
		Kind: KindText,
		Get:  func(r *Receipt) string { return r.ReceiptNumber },
		Set: func(r *Receipt, v string) error {
			r.ReceiptNumber = strings.TrimSpace(v)
			return nil
		},
	},
	{
		Name: "receiptValueInCents",
		Kind: KindCurrency,
		Get:  func(r *Receipt) string { return centsString(r.ReceiptValueInCents) },
		Set:  func(r *Receipt, v string) error { return setCents(&r.ReceiptValueInCents, v) },
	},
	{
		Name: "issValueInCents",
		Kind: KindCurrency,
		Get:  func(r *Receipt) string { return centsString(r.ISSValueInCents) },
		Set:  func(r *Receipt, v string) error { return setCents(&r.ISSValueInCents, v) },
	},
	{
		Name: "issueDate",
		Kind: KindDate,
		Get:  func(r *Receipt) string { return r.IssueDate },
		Set:  func(r *Receipt, v string) error { return setDate(&r.IssueDate, v) },
	},
	{
		Name: "accrualDate",
		Kind: KindDate,
		Get:  func(r *Receipt) string { return r.AccrualDate },
		Set:  func(r *Receipt, v string) error { return setDate(&r.AccrualDate, v) },
	},
}

var itemFields = []ItemFieldSpec{
	{
		Name: "code",
		Kind: KindText,
		Get:  func(it *LineItem) string { return it.Code },
		Set: func(it *LineItem, v string) error {
			it.Code = strings.TrimSpace(v)
			return nil
		},
	},
	{
		Name: "name",
		Kind: KindText,
		Get:  func(it *LineItem) string { return it.Name },
		Set: func(it *LineItem, v string) error {
			it.Name = strings.TrimSpace(v)
			return nil
		},
	},
	{
		Name: "purpose",
		Kind: KindCode,
		Get:  func(it *LineItem) string { return strconv.Itoa(it.Purpose) },
		Set:  func(it *LineItem, v string) error { return setCode(&it.Purpose, v) },
	},
	{
		Name: "costCenter",
		Kind: KindCode,
		Get:  func(it *LineItem) string { return strconv.Itoa(it.CostCenter) },
		Set:  func(it *LineItem, v string) error { return setCode(&it.CostCenter, v) },
	},
	{
		Name: "activity",
		Kind: KindCode,
		Get:  func(it *LineItem) string { return strconv.Itoa(it.Activity) },
		Set:  func(it *LineItem, v string) error { return setCode(&it.Activity, v) },
	},
	{
		Name: "quantity",
		Kind: KindInt,
		Get:  func(it *LineItem) string { return strconv.FormatInt(it.Quantity, 10) },
		Set: func(it *LineItem, v string) error {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid quantity: %q", v)
			}
			it.Quantity = n
			return nil
		},
	},
	{
		Name: "unitPriceInCents",
		Kind: KindCurrency,
		Get:  func(it *LineItem) string { return strconv.FormatInt(it.UnitPriceInCents, 10) },
		Set: func(it *LineItem, v string) error {
			n, err := parseCents(v)
			if err != nil {
				return err
			}
			it.UnitPriceInCents = n
			return nil
		},
	},
}

// FieldByName returns the editable record field spec for a wire field name.
func FieldByName(name string) (FieldSpec, bool) {
	for _, f := range recordFields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// ItemFieldByName returns the editable line-item field spec for a wire name.
func ItemFieldByName(name string) (ItemFieldSpec, bool) {
	for _, f := range itemFields {
		if f.Name == name {
			return f, true
		}
	}
	return ItemFieldSpec{}, false
}

// Fields returns all editable record fields in display order.
func Fields() []FieldSpec {
	out := make([]FieldSpec, len(recordFields))
	copy(out, recordFields)
	return out
}

// ItemFields returns all editable line-item fields in display order.
func ItemFields() []ItemFieldSpec {
	out := make([]ItemFieldSpec, len(itemFields))
	copy(out, itemFields)
	return out
}

func setTaxID(dst *string, v string) error {
	var digits strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) != 14 {
		return fmt.Errorf("tax id must contain 14 digits, got %d", len(d))
	}
	*dst = d
	return nil
}

func centsString(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func parseCents(v string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid amount in cents: %q", v)
	}
	return n, nil
}

func setCents(dst **int64, v string) error {
	n, err := parseCents(v)
	if err != nil {
		return err
	}
	*dst = &n
	return nil
}

func setDate(dst *string, v string) error {
	t, err := format.ParseDate(strings.TrimSpace(v))
	if err != nil {
		return err
	}
	// Dates are stored in ISO form regardless of the draft layout.
	*dst = t.Format("2006-01-02")
	return nil
}

func setCode(dst *int, v string) error {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return fmt.Errorf("invalid code: %q", v)
	}
	*dst = n
	return nil
}
