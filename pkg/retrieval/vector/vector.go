// Package vector defines the search surface over the property index.
package vector

import "context"

// Hit is one scored document from the index.
type Hit struct {
	ID       string
	Text     string
	Metadata map[string]any
	Score    float32
}

// Filter narrows a search with exact structured constraints. Nil pointer
// fields are unconstrained.
type Filter struct {
	City     string
	Beds     *int     // minimum
	PriceMin *float64 // inclusive
	PriceMax *float64 // inclusive
}

func (f *Filter) Empty() bool {
	return f == nil || (f.City == "" && f.Beds == nil && f.PriceMin == nil && f.PriceMax == nil)
}

// Searcher is implemented by the qdrant store and by test fakes.
type Searcher interface {
	Search(ctx context.Context, vector []float32, filter *Filter, limit int) ([]Hit, error)
	Close() error
}
