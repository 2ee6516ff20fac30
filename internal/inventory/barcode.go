package inventory

import (
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// GS1 application identifiers used on batch labels.
const (
	aiProduct = "01"
	aiBatch   = "10"
	aiExpiry  = "17"
	aiSerial  = "21"

	expiryLayout = "060102"
)

// Barcode renders the human-readable GS1 element string for a batch:
// (01)product(10)batch(17)YYMMDD(21)serial. Empty fields are omitted and
// parentheses inside values are dropped so the string always parses back.
func Barcode(productCode, batchNumber string, expiry *time.Time, serial *string) string {
	var b strings.Builder
	writeElement(&b, aiProduct, productCode)
	writeElement(&b, aiBatch, strings.TrimSpace(batchNumber))
	if expiry != nil {
		writeElement(&b, aiExpiry, expiry.UTC().Format(expiryLayout))
	}
	if serial != nil {
		writeElement(&b, aiSerial, strings.TrimSpace(*serial))
	}
	return b.String()
}

func writeElement(b *strings.Builder, ai, value string) {
	value = strings.NewReplacer("(", "", ")", "").Replace(value)
	if value == "" {
		return
	}
	b.WriteString("(")
	b.WriteString(ai)
	b.WriteString(")")
	b.WriteString(value)
}

// BarcodeData is a parsed element string.
type BarcodeData struct {
	ProductCode  string     `json:"product_code"`
	BatchNumber  string     `json:"batch_number"`
	ExpiryDate   *time.Time `json:"expiry_date,omitempty"`
	SerialNumber *string    `json:"serial_number,omitempty"`
}

// Matches reports whether batch carries the scanned batch identity.
func (d BarcodeData) Matches(batch Batch) bool {
	if batch.BatchNumber != d.BatchNumber {
		return false
	}
	if (d.ExpiryDate == nil) != (batch.ExpiryDate == nil) {
		return false
	}
	if d.ExpiryDate != nil && !truncateDay(*d.ExpiryDate).Equal(truncateDay(*batch.ExpiryDate)) {
		return false
	}
	return serialValue(d.SerialNumber) == serialValue(batch.SerialNumber)
}

// ParseBarcode is the inverse of Barcode.
func ParseBarcode(raw string) (BarcodeData, error) {
	raw = strings.TrimSpace(raw)
	invalid := func(detail string) error {
		return shared.NewError(shared.ErrValidation, "barcode", raw, detail)
	}
	var data BarcodeData
	rest := raw
	for rest != "" {
		if rest[0] != '(' {
			return BarcodeData{}, invalid("expected application identifier")
		}
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return BarcodeData{}, invalid("unterminated application identifier")
		}
		ai := rest[1:end]
		rest = rest[end+1:]
		next := strings.IndexByte(rest, '(')
		if next < 0 {
			next = len(rest)
		}
		value := rest[:next]
		rest = rest[next:]
		switch ai {
		case aiProduct:
			data.ProductCode = value
		case aiBatch:
			data.BatchNumber = value
		case aiExpiry:
			t, err := time.Parse(expiryLayout, value)
			if err != nil {
				return BarcodeData{}, invalid("expiry must be YYMMDD")
			}
			data.ExpiryDate = &t
		case aiSerial:
			serial := value
			data.SerialNumber = &serial
		default:
			return BarcodeData{}, invalid("unsupported application identifier " + ai)
		}
	}
	if data.ProductCode == "" {
		return BarcodeData{}, invalid("product code (01) required")
	}
	return data, nil
}
