package masterdata

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var upper = cases.Upper(language.Und)

// NormalizeSKU folds compatibility forms, trims, and upper-cases a SKU.
func NormalizeSKU(sku string) string {
	return upper.String(strings.TrimSpace(norm.NFKC.String(sku)))
}

// NormalizeName composes characters and collapses runs of whitespace.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(norm.NFC.String(name)), " ")
}
