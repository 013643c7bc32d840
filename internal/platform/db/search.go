package db

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// FilterType controls how a query parameter is turned into a WHERE clause.
type FilterType int

const (
	FilterExact FilterType = iota // column = value
	FilterUpper                   // column = UPPER(value), for enum columns
	FilterText                    // case-insensitive substring match
	FilterBool                    // "true"/"false"; anything else is ignored
	FilterUUID                    // exact match; invalid UUIDs match nothing
)

// Filter maps a search parameter to its column.
type Filter struct {
	Type   FilterType
	Column string
}

// SearchQuery builds the count and page queries for a list endpoint.
type SearchQuery struct {
	from    string
	cols    string
	where   string
	args    []interface{}
	orderBy string
}

// NewSearchQuery starts a query over from, which may include joins.
func NewSearchQuery(from, cols string) *SearchQuery {
	return &SearchQuery{from: from, cols: cols}
}

// Idx returns the placeholder number the next argument will get.
func (q *SearchQuery) Idx() int { return len(q.args) + 1 }

// Add appends a raw clause. Placeholders in clause must start at Idx().
func (q *SearchQuery) Add(clause string, args ...interface{}) {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
}

// AddEq appends "column = $n".
func (q *SearchQuery) AddEq(column string, value interface{}) {
	q.Add(fmt.Sprintf("%s = $%d", column, q.Idx()), value)
}

// ApplyParam adds the clause for one filter.
func (q *SearchQuery) ApplyParam(f Filter, value string) {
	switch f.Type {
	case FilterExact:
		q.AddEq(f.Column, value)
	case FilterUpper:
		q.AddEq(f.Column, strings.ToUpper(value))
	case FilterText:
		q.Add(fmt.Sprintf("%s ILIKE $%d", f.Column, q.Idx()), "%"+value+"%")
	case FilterBool:
		if b, err := strconv.ParseBool(value); err == nil {
			q.AddEq(f.Column, b)
		}
	case FilterUUID:
		id, err := uuid.Parse(value)
		if err != nil {
			q.Add("FALSE")
			return
		}
		q.AddEq(f.Column, id)
	}
}

// ApplyParams applies every param that has a filter, in key order so the
// generated SQL is stable.
func (q *SearchQuery) ApplyParams(params map[string]string, filters map[string]Filter) {
	keys := make([]string, 0, len(params))
	for k := range params {
		if _, ok := filters[k]; ok && params[k] != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.ApplyParam(filters[k], params[k])
	}
}

func (q *SearchQuery) OrderBy(orderBy string) { q.orderBy = orderBy }

func (q *SearchQuery) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.from, q.where)
}

func (q *SearchQuery) CountArgs() []interface{} { return q.args }

func (q *SearchQuery) DataSQL(limit, offset int) string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.from, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	n := len(q.args)
	sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", n+1, n+2)
	return sql
}

func (q *SearchQuery) DataArgs(limit, offset int) []interface{} {
	out := make([]interface{}, len(q.args), len(q.args)+2)
	copy(out, q.args)
	return append(out, limit, offset)
}

// ExtractSearchParams returns the first value of every query parameter
// except the pagination controls.
func ExtractSearchParams(c echo.Context) map[string]string {
	params := map[string]string{}
	for k, v := range c.QueryParams() {
		if len(v) == 0 || k == "limit" || k == "offset" {
			continue
		}
		params[k] = v[0]
	}
	return params
}
