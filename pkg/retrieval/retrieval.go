// Package retrieval embeds a query and searches the property index.
// Retrieval is advisory context for the assistant, never a hard dependency
// of a reply, so failures degrade to an empty result set.
package retrieval

import (
	"context"
	"log/slog"

	"github.com/casavox/casavox/pkg/retrieval/embed"
	"github.com/casavox/casavox/pkg/retrieval/vector"
)

const DefaultK = 8

type Retriever struct {
	embedder embed.Embedder
	searcher vector.Searcher
	log      *slog.Logger
}

func New(embedder embed.Embedder, searcher vector.Searcher, log *slog.Logger) *Retriever {
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{embedder: embedder, searcher: searcher, log: log}
}

// Retrieve returns up to k hits for the query. Any failure along the way is
// logged and reported as zero hits; callers always get a usable slice. A nil
// Retriever retrieves nothing, so callers can run without a vector index.
func (r *Retriever) Retrieve(ctx context.Context, query string, filter *vector.Filter, k int) []vector.Hit {
	if r == nil {
		return []vector.Hit{}
	}
	if k <= 0 {
		k = DefaultK
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.log.Warn("retrieval embed failed", "error", err)
		return []vector.Hit{}
	}
	hits, err := r.searcher.Search(ctx, vec, filter, k)
	if err != nil {
		r.log.Warn("retrieval search failed", "error", err)
		return []vector.Hit{}
	}
	if hits == nil {
		hits = []vector.Hit{}
	}
	return hits
}
