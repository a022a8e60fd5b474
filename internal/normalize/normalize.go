// Package normalize standardizes brand and product names for matching,
// caching, and in-flight deduplication.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes lists common legal entity suffixes to strip during brand
// normalization so "Nestlé S.A." and "nestle" collide.
var legalSuffixes = []string{
	" SA", " S.A.", " S.A",
	" AG", " A.G.",
	" NV", " N.V.",
	" SE",
	" GMBH",
	" LLC", " L.L.C.",
	" INC", " INC.", " INCORPORATED",
	" CORP", " CORP.", " CORPORATION",
	" LTD", " LTD.", " LIMITED",
	" PLC", " P.L.C.",
	" CO", " CO.",
	" GROUP", " HOLDINGS", " HOLDING",
}

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// stripDiacritics removes combining marks after NFD decomposition, so
// accented characters fold to their ASCII base.
var stripDiacritics = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Brand standardizes a brand or entity name for matching by:
//  1. Trimming whitespace and folding diacritics
//  2. Converting to uppercase
//  3. Removing common legal suffixes (SA, Inc, GmbH, etc.)
//  4. Stripping punctuation
//  5. Collapsing multiple spaces
func Brand(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	if folded, _, err := transform.String(stripDiacritics, name); err == nil {
		name = folded
	}

	name = strings.ToUpper(name)

	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	name = strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"&", "AND",
		"-", " ",
		"!", "",
		"®", "",
		"™", "",
	).Replace(name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// Barcode strips everything but digits from a barcode string.
func Barcode(code string) string {
	var b strings.Builder
	for _, r := range code {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Fingerprint derives the dedup/cache key for a query. A barcode alone
// identifies a product exactly; otherwise the normalized brand and
// product name are joined. The fingerprint is stable across input
// casing, punctuation, and accents.
func Fingerprint(brand, productName, barcode string) string {
	if bc := Barcode(barcode); bc != "" {
		return "bc:" + bc
	}
	key := Brand(brand)
	if p := Brand(productName); p != "" {
		if key != "" {
			key += "|"
		}
		key += p
	}
	return "np:" + key
}
