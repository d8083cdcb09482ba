package textutil

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// CanonicalField prepares a free-form text field for hashing or comparison:
// Unicode NFKC normalization, case folding, and collapsing runs of whitespace
// to a single space. Two inputs that differ only in casing, width variants, or
// spacing canonicalize to the same string.
//
// A fresh Caser is built per call because cases.Caser values are stateful and
// must not be shared across goroutines.
func CanonicalField(value string) string {
	folded := cases.Fold().String(norm.NFKC.String(value))
	return strings.Join(strings.Fields(folded), " ")
}
