package engine

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"tabular/internal/query"
)

// parseListParams reads the list query string into transport-independent
// pager parameters. Nothing here errors: unknown or stale sort/filter fields
// are dropped later by the builder, and malformed numbers fall back to
// defaults.
//
//	sort=-created_at,name
//	filter[status]=open or filter[total.gte]=100
//	q=<global search>
//	page=2&per_page=50
func parseListParams(c *fiber.Ctx) query.Params {
	var p query.Params

	if sortParam := c.Query("sort"); sortParam != "" {
		for _, part := range strings.Split(sortParam, ",") {
			part = strings.TrimSpace(part)
			if part == "" || part == "-" {
				continue
			}
			o := query.Order{Field: part}
			if strings.HasPrefix(part, "-") {
				o = query.Order{Field: part[1:], Desc: true}
			}
			p.Sort = append(p.Sort, o)
		}
	}

	for key, val := range c.Queries() {
		if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") {
			continue
		}
		inner := key[7 : len(key)-1]
		field, op := parseFilterKey(inner)
		if field == "" {
			continue
		}
		p.Filters = append(p.Filters, query.Filter{Field: field, Operator: op, Value: val})
	}

	p.Search = c.Query("q")

	if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(c.Query("per_page")); err == nil && v > 0 {
		p.PerPage = v
	}

	return p
}

// parseFilterKey splits "total.gte" into ("total", "gte"), defaulting the
// operator to eq.
func parseFilterKey(key string) (string, string) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return key, "eq"
}
