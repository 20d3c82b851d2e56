package fashion

import (
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeType returns the canonical key for a product type: trimmed,
// NFC-normalized and case-folded, so "Hat", " hat" and a decomposed
// "Hât" variant all name the same markup.
func NormalizeType(productType string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(productType)))
}

// Catalog is the replicated business data: a markup per product type.
type Catalog struct {
	Markups map[string]float64 `json:"markups"`
}

// Markup returns the markup for productType, zero if none is set.
func (c Catalog) Markup(productType string) float64 {
	return c.Markups[NormalizeType(productType)]
}

// MarkupUpdate sets or, with Remove, clears the markup of one product type.
type MarkupUpdate struct {
	ProductType string  `json:"productType" yaml:"productType"`
	Markup      float64 `json:"markup" yaml:"markup"`
	Remove      bool    `json:"remove,omitempty" yaml:"remove,omitempty"`
}

// CatalogDomain folds MarkupUpdate values into a Catalog.
type CatalogDomain struct{}

// CreateEmpty returns a catalog with no markups.
func (CatalogDomain) CreateEmpty() Catalog {
	return Catalog{Markups: map[string]float64{}}
}

// Apply returns a new catalog with u applied; cur is not modified.
func (CatalogDomain) Apply(cur Catalog, u MarkupUpdate) Catalog {
	next := Catalog{Markups: make(map[string]float64, len(cur.Markups)+1)}
	for k, v := range cur.Markups {
		next.Markups[k] = v
	}
	key := NormalizeType(u.ProductType)
	if u.Remove {
		delete(next.Markups, key)
	} else {
		next.Markups[key] = u.Markup
	}
	return next
}

// roundCents rounds a price to two decimals.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
