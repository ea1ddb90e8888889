package tools

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/casavox/casavox/pkg/retrieval/vector"
)

const (
	searchK   = 12
	searchTop = 6
)

// Property is one normalized listing ready for rendering. Listing metadata
// in the index is messy (many feeds, many key spellings), so every field is
// resolved through an ordered fallback chain.
type Property struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Address        string  `json:"address"`
	City           string  `json:"city,omitempty"`
	State          string  `json:"state,omitempty"`
	Price          int     `json:"price,omitempty"`
	Beds           int     `json:"beds,omitempty"`
	Baths          int     `json:"baths,omitempty"`
	LivingAreaSqft int     `json:"living_area_sqft,omitempty"`
	ImageURL       string  `json:"image,omitempty"`
	URL            string  `json:"url"`
	Score          float32 `json:"score,omitempty"`
}

// retriever is the slice of retrieval.Retriever this package needs.
type retriever interface {
	Retrieve(ctx context.Context, query string, filter *vector.Filter, k int) []vector.Hit
}

type PropertySearch struct {
	retriever retriever
}

func NewPropertySearch(r retriever) *PropertySearch {
	return &PropertySearch{retriever: r}
}

// Search retrieves candidates for the extracted entities and normalizes the
// top hits. Retrieval failures surface as zero results, never as errors.
func (s *PropertySearch) Search(ctx context.Context, e Entities) []Property {
	query := synthQuery(e)
	filter := entityFilter(e)
	hits := s.retriever.Retrieve(ctx, query, filter, searchK)
	if len(hits) > searchTop {
		hits = hits[:searchTop]
	}
	out := make([]Property, 0, len(hits))
	for _, h := range hits {
		out = append(out, Normalize(h))
	}
	return out
}

func synthQuery(e Entities) string {
	beds := ""
	if e.Beds > 0 {
		beds = fmt.Sprintf("%d", e.Beds)
	}
	priceMax := ""
	if e.PriceMax > 0 {
		priceMax = fmt.Sprintf("%.0f", e.PriceMax)
	}
	return fmt.Sprintf("%s beds under %s in %s", beds, priceMax, e.City)
}

func entityFilter(e Entities) *vector.Filter {
	f := &vector.Filter{City: e.City}
	if e.Beds > 0 {
		beds := e.Beds
		f.Beds = &beds
	}
	if e.PriceMin > 0 {
		min := e.PriceMin
		f.PriceMin = &min
	}
	if e.PriceMax > 0 {
		max := e.PriceMax
		f.PriceMax = &max
	}
	if f.Empty() {
		return nil
	}
	return f
}

// Ordered fallback chains, one per field. Order matters: feeds disagree and
// the earliest present key wins.
var (
	idKeys    = []string{"id", "listing_key", "listingId", "mlsid", "mls_id", "key"}
	priceKeys = []string{"price", "list_price", "asking_price", "listPrice"}
	bedsKeys  = []string{"beds", "bedrooms", "num_beds", "bed_rooms"}
	bathsKeys = []string{"baths", "bathrooms", "num_baths", "bath_rooms"}
	areaKeys  = []string{
		"living_area_sqft", "living_area", "livingArea", "size_sqft", "sqft",
		"building_area_total", "total_livable_area", "gla",
		"above_grade_finished_area", "buildingAreaTotal",
	}
	imageKeys = []string{"image_url", "hero_image_url", "main_image_url", "primary_image_url", "image"}
	line1Keys = []string{"address", "formatted_address", "unparsed_address"}
	cityKeys  = []string{"city", "city_name", "locality"}
	stateKeys = []string{"state", "state_code", "region", "province"}
	titleKeys = []string{"title", "seo_title", "h1_heading"}
)

// Normalize maps one raw hit to a Property via the fallback chains.
func Normalize(h vector.Hit) Property {
	meta := h.Metadata

	id := firstString(meta, idKeys...)
	line1 := firstString(meta, line1Keys...)
	if line1 == "" {
		parts := []string{firstString(meta, "street_number"), firstString(meta, "street_name")}
		line1 = strings.TrimSpace(strings.Join(nonEmpty(parts), " "))
	}
	if line1 == "" {
		line1 = firstString(meta, "addr")
	}
	city := firstString(meta, cityKeys...)
	state := firstString(meta, stateKeys...)
	addressLine := strings.Join(nonEmpty([]string{line1, city, state}), ", ")

	title := firstString(meta, titleKeys...)
	if title == "" {
		title = addressLine
	}
	if title == "" {
		title = strings.TrimSpace("Property " + id)
	}
	address := addressLine
	if address == "" {
		address = title
	}

	slug := firstString(meta, "slug")
	if slug == "" {
		slug = Slugify(address)
	}
	url := "/properties"
	switch {
	case slug != "" && id != "":
		url = "/properties/" + slug + "/" + id
	case id != "":
		url = "/properties/" + id
	}

	return Property{
		ID:             id,
		Title:          title,
		Address:        address,
		City:           city,
		State:          state,
		Price:          coerceInt(firstRaw(meta, priceKeys...)),
		Beds:           coerceInt(firstRaw(meta, bedsKeys...)),
		Baths:          coerceInt(firstRaw(meta, bathsKeys...)),
		LivingAreaSqft: coerceInt(firstRaw(meta, areaKeys...)),
		ImageURL:       resolveImage(meta),
		URL:            url,
		Score:          h.Score,
	}
}

func resolveImage(meta map[string]any) string {
	if img := firstString(meta, imageKeys...); img != "" {
		return img
	}
	if list, ok := meta["images"].([]any); ok && len(list) > 0 {
		if s, ok := list[0].(string); ok {
			return s
		}
	}
	return ""
}

func firstRaw(meta map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := meta[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(meta map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := meta[k]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if strings.TrimSpace(s) != "" {
				return s
			}
		default:
			out := strings.TrimSpace(fmt.Sprintf("%v", v))
			if out != "" {
				return out
			}
		}
	}
	return ""
}

var nonNumeric = regexp.MustCompile(`[^\d.]`)

// coerceInt accepts numbers and numeric-ish strings ("1,250 sqft" → 1250).
func coerceInt(v any) int {
	switch n := v.(type) {
	case nil:
		return 0
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return int(math.Round(n))
	case float32:
		return int(math.Round(float64(n)))
	case string:
		cleaned := nonNumeric.ReplaceAllString(n, "")
		if cleaned == "" {
			return 0
		}
		var f float64
		if _, err := fmt.Sscanf(cleaned, "%g", &f); err != nil {
			return 0
		}
		return int(math.Round(f))
	default:
		return 0
	}
}

var (
	slugStrip    = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpaces   = regexp.MustCompile(`\s+`)
	slugCollapse = regexp.MustCompile(`-+`)
)

func Slugify(s string) string {
	out := strings.ToLower(s)
	out = slugStrip.ReplaceAllString(out, "")
	out = slugSpaces.ReplaceAllString(out, "-")
	out = slugCollapse.ReplaceAllString(out, "-")
	return strings.Trim(out, "-")
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
