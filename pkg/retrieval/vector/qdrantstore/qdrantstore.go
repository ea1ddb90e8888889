// Package qdrantstore backs vector.Searcher with a Qdrant collection.
package qdrantstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"

	"github.com/casavox/casavox/pkg/retrieval/vector"
)

// Low-similarity hits add noise to the assistant's context, so anything under
// the threshold is cut server-side. The ef value is tuned for k <= 12.
const (
	scoreThreshold float32 = 0.2
	hnswEf         uint64  = 128
)

type Config struct {
	// URL is the Qdrant server address (e.g. "https://host:6334").
	URL            string
	APIKey         string
	CollectionName string
	Logger         *slog.Logger
}

// Store searches one Qdrant collection. On first use it resolves the
// collection's vector spec (dimension, named vs unnamed vectors) and caches
// it; queries with a mismatched embedding dimension fail fast instead of
// producing a confusing upstream error.
type Store struct {
	client     *qdrant.Client
	collection string
	log        *slog.Logger

	specOnce sync.Once
	specErr  error
	dim      uint64
	using    string // named vector, empty for the default unnamed vector
}

func New(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("qdrant collection name is required")
	}

	parsed := cfg.URL
	if !strings.HasPrefix(parsed, "http://") && !strings.HasPrefix(parsed, "https://") {
		parsed = "https://" + parsed
	}
	u, err := url.Parse(parsed)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant url: %w", err)
	}
	host := u.Hostname()
	port := 6334
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid qdrant port: %w", err)
		}
		port = p
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Store{client: client, collection: cfg.CollectionName, log: log}, nil
}

func (s *Store) resolveSpec(ctx context.Context) error {
	s.specOnce.Do(func() {
		info, err := s.client.GetCollectionInfo(ctx, s.collection)
		if err != nil {
			s.log.Error("qdrant collection info failed", "collection", s.collection, "error", err)
			s.specErr = fmt.Errorf("collection info for %q: %w", s.collection, err)
			return
		}
		cfg := info.GetConfig().GetParams().GetVectorsConfig()
		if params := cfg.GetParams(); params != nil {
			s.dim = params.GetSize()
			return
		}
		if pm := cfg.GetParamsMap(); pm != nil {
			// Named vectors: prefer "default", otherwise take the sole entry.
			byName := pm.GetMap()
			if p, ok := byName["default"]; ok {
				s.using = "default"
				s.dim = p.GetSize()
				return
			}
			if len(byName) == 1 {
				for name, p := range byName {
					s.using = name
					s.dim = p.GetSize()
				}
				return
			}
			s.specErr = fmt.Errorf("collection %q has %d named vectors and none called default", s.collection, len(byName))
			return
		}
		s.specErr = fmt.Errorf("collection %q reports no vector config", s.collection)
	})
	return s.specErr
}

func (s *Store) Search(ctx context.Context, vec []float32, filter *vector.Filter, limit int) ([]vector.Hit, error) {
	if err := s.resolveSpec(ctx); err != nil {
		return nil, err
	}
	if uint64(len(vec)) != s.dim {
		return nil, fmt.Errorf("embedding dimension %d does not match collection %q (%d)", len(vec), s.collection, s.dim)
	}

	points, err := s.client.Query(ctx, s.newQuery(vec, filter, limit))
	if err != nil {
		s.log.Error("qdrant query failed", "collection", s.collection, "limit", limit, "error", err)
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	hits := make([]vector.Hit, 0, len(points))
	for _, point := range points {
		hit := vector.Hit{
			Score:    point.Score,
			Metadata: make(map[string]any),
		}
		if point.Id != nil {
			if uuid := point.Id.GetUuid(); uuid != "" {
				hit.ID = uuid
			} else {
				hit.ID = fmt.Sprintf("%d", point.Id.GetNum())
			}
		}
		for k, v := range point.Payload {
			if k == "text" || k == "content" {
				if str := v.GetStringValue(); str != "" {
					hit.Text = str
					continue
				}
			}
			hit.Metadata[k] = extractValue(v)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *Store) newQuery(vec []float32, filter *vector.Filter, limit int) *qdrant.QueryPoints {
	lim := uint64(limit)
	threshold := scoreThreshold
	ef := hnswEf
	query := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &lim,
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
		ScoreThreshold: &threshold,
		Params:         &qdrant.SearchParams{HnswEf: &ef},
	}
	if s.using != "" {
		query.Using = &s.using
	}
	return query
}

func (s *Store) Close() error { return s.client.Close() }

func buildFilter(f *vector.Filter) *qdrant.Filter {
	if f.Empty() {
		return nil
	}
	var conditions []*qdrant.Condition

	if f.City != "" {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "city",
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: strings.ToLower(f.City)}},
				},
			},
		})
	}
	if f.Beds != nil {
		beds := float64(*f.Beds)
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "beds",
					Range: &qdrant.Range{Gte: &beds},
				},
			},
		})
	}
	if f.PriceMin != nil || f.PriceMax != nil {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "price",
					Range: &qdrant.Range{Gte: f.PriceMin, Lte: f.PriceMax},
				},
			},
		})
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

func extractValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch val := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_ListValue:
		items := val.ListValue.GetValues()
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, extractValue(item))
		}
		return out
	default:
		return nil
	}
}

var _ vector.Searcher = (*Store)(nil)
