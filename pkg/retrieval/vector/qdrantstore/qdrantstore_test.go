package qdrantstore

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"

	"github.com/casavox/casavox/pkg/retrieval/vector"
)

func TestNewDefaultsLogger(t *testing.T) {
	s, err := New(Config{URL: "localhost:6334", CollectionName: "properties"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if s.log == nil {
		t.Fatal("store logger not set")
	}
}

func TestQueryCutsLowScoresAndTunesSearch(t *testing.T) {
	s := &Store{collection: "properties"}
	q := s.newQuery([]float32{0.1, 0.2}, nil, 8)

	if q.CollectionName != "properties" {
		t.Fatalf("collection = %q", q.CollectionName)
	}
	if q.Limit == nil || *q.Limit != 8 {
		t.Fatalf("limit = %v", q.Limit)
	}
	if q.ScoreThreshold == nil || *q.ScoreThreshold != 0.2 {
		t.Fatalf("score threshold = %v, want 0.2", q.ScoreThreshold)
	}
	if q.Params == nil || q.Params.HnswEf == nil || *q.Params.HnswEf != 128 {
		t.Fatalf("search params = %v, want hnsw ef 128", q.Params)
	}
	if q.Using != nil {
		t.Fatalf("using = %v, want unnamed vector", q.Using)
	}

	s.using = "default"
	q = s.newQuery([]float32{0.1, 0.2}, nil, 8)
	if q.Using == nil || *q.Using != "default" {
		t.Fatalf("using = %v, want default", q.Using)
	}
}

func TestBuildFilterEmpty(t *testing.T) {
	if got := buildFilter(nil); got != nil {
		t.Fatalf("buildFilter(nil) = %v, want nil", got)
	}
	if got := buildFilter(&vector.Filter{}); got != nil {
		t.Fatalf("buildFilter(empty) = %v, want nil", got)
	}
}

func TestBuildFilterCityLowercased(t *testing.T) {
	f := buildFilter(&vector.Filter{City: "Austin"})
	if f == nil || len(f.Must) != 1 {
		t.Fatalf("filter = %v", f)
	}
	field := f.Must[0].GetField()
	if field.Key != "city" {
		t.Fatalf("key = %s", field.Key)
	}
	if got := field.Match.GetKeyword(); got != "austin" {
		t.Fatalf("city keyword = %q, want lowercased austin", got)
	}
}

func TestBuildFilterRanges(t *testing.T) {
	beds := 3
	min, max := 200000.0, 450000.0
	f := buildFilter(&vector.Filter{Beds: &beds, PriceMin: &min, PriceMax: &max})
	if f == nil || len(f.Must) != 2 {
		t.Fatalf("filter = %v", f)
	}

	var bedsCond, priceCond *qdrant.FieldCondition
	for _, c := range f.Must {
		field := c.GetField()
		switch field.Key {
		case "beds":
			bedsCond = field
		case "price":
			priceCond = field
		}
	}
	if bedsCond == nil || bedsCond.Range == nil || bedsCond.Range.Gte == nil || *bedsCond.Range.Gte != 3 {
		t.Fatalf("beds condition = %v", bedsCond)
	}
	if bedsCond.Range.Lte != nil {
		t.Fatalf("beds should have no upper bound: %v", bedsCond.Range)
	}
	if priceCond == nil || priceCond.Range == nil {
		t.Fatalf("price condition = %v", priceCond)
	}
	if *priceCond.Range.Gte != min || *priceCond.Range.Lte != max {
		t.Fatalf("price range = [%v, %v]", priceCond.Range.Gte, priceCond.Range.Lte)
	}
}

func TestBuildFilterPriceMinOnly(t *testing.T) {
	min := 100000.0
	f := buildFilter(&vector.Filter{PriceMin: &min})
	field := f.Must[0].GetField()
	if field.Key != "price" || field.Range.Gte == nil || field.Range.Lte != nil {
		t.Fatalf("condition = %v", field)
	}
}
