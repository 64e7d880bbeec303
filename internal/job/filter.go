package job

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/posterforge/posterforge/internal/media"
)

// yearRange is one inclusive span parsed from a year expression.
type yearRange struct {
	from int
	to   int
}

func (r yearRange) contains(year int) bool {
	return year >= r.from && year <= r.to
}

// parseYearExpr parses expressions like "2005", "2000-2010" and
// "2000-2010,2020" into a set of inclusive ranges.
func parseYearExpr(expr string) ([]yearRange, error) {
	var ranges []yearRange
	for _, token := range strings.Split(expr, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if from, to, ok := strings.Cut(token, "-"); ok {
			lo, err := strconv.Atoi(strings.TrimSpace(from))
			if err != nil {
				return nil, fmt.Errorf("invalid year %q in %q", from, expr)
			}
			hi, err := strconv.Atoi(strings.TrimSpace(to))
			if err != nil {
				return nil, fmt.Errorf("invalid year %q in %q", to, expr)
			}
			if hi < lo {
				lo, hi = hi, lo
			}
			ranges = append(ranges, yearRange{from: lo, to: hi})
			continue
		}
		y, err := strconv.Atoi(token)
		if err != nil {
			return nil, fmt.Errorf("invalid year %q in %q", token, expr)
		}
		ranges = append(ranges, yearRange{from: y, to: y})
	}
	return ranges, nil
}

// applyFilters runs the filter chain in its fixed order: media type, year
// expression, allow-lists, then the result-count limit. The returned
// counters name every exclusion for diagnostics.
func applyFilters(items []media.Item, opts Options) ([]media.Item, map[string]int, error) {
	counters := map[string]int{}

	var years []yearRange
	if opts.Years != "" {
		parsed, err := parseYearExpr(opts.Years)
		if err != nil {
			return nil, counters, err
		}
		years = parsed
	}

	genres := lowerSet(opts.Genres)
	ratings := lowerSet(opts.Ratings)
	qualities := lowerSet(opts.Qualities)

	kept := make([]media.Item, 0, len(items))
	for _, it := range items {
		if opts.MediaType != "" && string(it.Type) != opts.MediaType {
			counters["excluded_media_type"]++
			continue
		}
		if len(years) > 0 && !yearMatches(years, it.Year) {
			counters["excluded_year"]++
			continue
		}
		if len(genres) > 0 && !genreMatches(genres, it.Genres) {
			counters["excluded_genre"]++
			continue
		}
		if len(ratings) > 0 {
			if _, ok := ratings[strings.ToLower(it.Rating)]; !ok {
				counters["excluded_rating"]++
				continue
			}
		}
		if len(qualities) > 0 {
			if _, ok := qualities[strings.ToLower(it.Quality)]; !ok {
				counters["excluded_quality"]++
				continue
			}
		}
		kept = append(kept, it)
	}

	if opts.Limit > 0 && len(kept) > opts.Limit {
		counters["excluded_limit"] = len(kept) - opts.Limit
		kept = kept[:opts.Limit]
	}
	return kept, counters, nil
}

func yearMatches(ranges []yearRange, year int) bool {
	for _, r := range ranges {
		if r.contains(year) {
			return true
		}
	}
	return false
}

func genreMatches(allowed map[string]struct{}, genres []string) bool {
	for _, g := range genres {
		if _, ok := allowed[strings.ToLower(g)]; ok {
			return true
		}
	}
	return false
}

func lowerSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return set
}
