package shared

import (
	"fmt"
	"time"
)

// Sequence scopes and document prefixes.
const (
	ScopeInvoice    = "FAC"
	ScopePayment    = "REG"
	ScopeCreditNote = "AVO"
	ScopeQuote      = "DEV"
	ScopeCounter    = "CPT"
	ScopeReturn     = "RET"
	ScopeArticle    = "ART"
	ScopeClient     = "CLI"
	ScopeSupplier   = "FRS"
)

// YearlyNumber formats PREFIX-YYYY-NNN.
func YearlyNumber(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%03d", prefix, year, seq)
}

// CodeNumber formats PREFIX-NNNN for master data codes.
func CodeNumber(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%04d", prefix, seq)
}

// StampedNumber formats PREFIX-YYYYMMDDHHMMSS-NNN for counter documents.
func StampedNumber(prefix string, at time.Time, seq int64) string {
	return fmt.Sprintf("%s-%s-%03d", prefix, at.Format("20060102150405"), seq)
}
