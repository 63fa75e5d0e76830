package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// rebindPostgres rewrites '?' placeholders as $1, $2, ... for lib/pq.
func rebindPostgres(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// rebindNoop leaves '?' placeholders untouched (SQLite).
func rebindNoop(query string) string {
	return query
}

// missingColumns returns the keys of values not present in columns, sorted so
// the header grows deterministically.
func missingColumns(columns []string, values map[string]string) []string {
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}
	var out []string
	for k := range values {
		if k != "" && !known[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// decodeRowData decodes the JSON object stored for a row.
func decodeRowData(b []byte) (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode row data: %w", err)
	}
	return m, nil
}
