package fashion

import (
	"strings"

	"github.com/roach88/replicant/internal/pipeline"
	"github.com/roach88/replicant/internal/scatter"
)

// SearchQuery asks for one product type in one size.
type SearchQuery struct {
	ProductType string `json:"productType"`
	Size        int    `json:"size"`
}

// Item is one offer from one provider.
type Item struct {
	ID          string  `json:"id" yaml:"id"`
	Provider    string  `json:"provider" yaml:"-"`
	ProductType string  `json:"productType" yaml:"type"`
	Size        int     `json:"size" yaml:"size"`
	Price       float64 `json:"price" yaml:"price"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
}

// Matches reports whether the item answers q.
func (it Item) Matches(q SearchQuery) bool {
	return it.Size == q.Size && NormalizeType(it.ProductType) == NormalizeType(q.ProductType)
}

// Ctx is the pipeline context for fashion searches.
type Ctx = pipeline.Context[Catalog, SearchQuery]

// MatchesQuery drops replies that do not answer the request. Providers
// filter too; this guards against ones that do not.
var MatchesQuery = pipeline.Predicate[Ctx, Item]{
	Name:    "matches-query",
	Matches: func(c Ctx, it Item) bool { return it.Matches(c.Request) },
}

// ApplyMarkup adds the catalog markup for the item's type to its price.
var ApplyMarkup = pipeline.Projection[Ctx, Item]{
	Name: "apply-markup",
	Map: func(c Ctx, it Item) Item {
		it.Price = roundCents(it.Price + c.BusinessData.Payload.Markup(it.ProductType))
		return it
	},
}

// CheapestPerItem keeps the lowest-priced offer per item ID. On equal
// price the lexically smaller provider wins so the outcome does not
// depend on arrival order.
var CheapestPerItem = pipeline.BetterMatch[Ctx, Item]{
	Name: "cheapest-per-item",
	Key:  func(it Item) string { return it.ID },
	Compare: func(_ Ctx, cand, kept Item) pipeline.ComparisonResult {
		if cand.ID != kept.ID {
			return pipeline.NotComparable
		}
		if cand.Price < kept.Price || (cand.Price == kept.Price && cand.Provider < kept.Provider) {
			return pipeline.BetterAlternative
		}
		return pipeline.NotBetterAlternative
	},
}

// ByPrice orders results cheapest first, then by ID.
var ByPrice = pipeline.Order[Ctx, Item]{
	Name: "by-price",
	Less: func(a, b Item) bool {
		if a.Price != b.Price {
			return a.Price < b.Price
		}
		return strings.Compare(a.ID, b.ID) < 0
	},
}

// LiveSteps run on each reply as it arrives.
func LiveSteps() scatter.Steps[Catalog, SearchQuery, Item] {
	return scatter.Steps[Catalog, SearchQuery, Item]{MatchesQuery, ApplyMarkup, CheapestPerItem}
}

// FinalSteps run once after the deadline.
func FinalSteps() scatter.Steps[Catalog, SearchQuery, Item] {
	return scatter.Steps[Catalog, SearchQuery, Item]{ByPrice}
}
