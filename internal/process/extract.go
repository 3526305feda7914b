package process

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/gfranca/notastream/internal/receipt"
)

// Extractor turns a source document into a structured receipt. The production
// deployment points this at the fiscal OCR service; everything else in the
// pipeline is agnostic to where the fields come from.
type Extractor interface {
	Extract(ctx context.Context, fileName string, data []byte) (receipt.Receipt, error)
}

// DemoExtractor derives deterministic receipt data from the document bytes.
// It exists so the server runs end to end without the OCR collaborator: the
// same file always yields the same fields, which also makes it convenient in
// tests. Delay simulates per-document OCR latency.
type DemoExtractor struct {
	Delay time.Duration
}

func (e *DemoExtractor) Extract(ctx context.Context, fileName string, data []byte) (receipt.Receipt, error) {
	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return receipt.Receipt{}, ctx.Err()
		}
	}

	h := fnv.New64a()
	h.Write([]byte(fileName))
	h.Write(data)
	seed := h.Sum64()

	value := int64(10000 + seed%990000) // R$ 100,00 .. R$ 10.000,00
	iss := value * 5 / 100
	docType := 77
	opCode := 1079

	issue := time.Date(2024, time.August, 9, 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, int(seed%120))

	itemCount := int(1 + seed%3)
	items := make([]receipt.LineItem, itemCount)
	for i := range items {
		itemSeed := seed>>uint(8*i) | uint64(i+1)
		items[i] = receipt.LineItem{
			Key:              fmt.Sprintf("item-%d", i+1),
			Code:             fmt.Sprintf("SV%03d", itemSeed%1000),
			Name:             fmt.Sprintf("Serviço %d", i+1),
			Purpose:          int(itemSeed % 9),
			CostCenter:       int(100 + itemSeed%900),
			Activity:         int(1 + itemSeed%50),
			Quantity:         int64(1 + itemSeed%10),
			UnitPriceInCents: value / int64(itemCount),
		}
	}

	return receipt.Receipt{
		Supplier:            digits(seed, 14),
		Customer:            digits(seed>>7, 14),
		ReceiptNumber:       fmt.Sprintf("%06d", seed%1000000),
		ReceiptValueInCents: &value,
		ISSValueInCents:     &iss,
		DocumentType:        &docType,
		OperationCode:       &opCode,
		IssueDate:           issue.Format("2006-01-02"),
		AccrualDate:         issue.Format("2006-01-02"),
		Items:               items,
	}, nil
}

// digits renders n pseudo-random decimal digits from a seed.
func digits(seed uint64, n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte('0' + seed%10)
		seed = seed/10 + seed*31
	}
	return string(out)
}
