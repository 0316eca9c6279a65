package database

import (
	"fmt"
	"strings"
)

// Dialects understood by the placeholder rewriter.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// rewriteNamed turns :name placeholders into the driver's positional form
// and returns the parameter name for each bound argument. Quoted literals,
// quoted identifiers and :: casts are left alone. Postgres reuses $n for a
// repeated name; sqlite binds one ? per occurrence.
func rewriteNamed(query, dialect string) (string, []string, error) {
	if dialect != DialectPostgres && dialect != DialectSQLite {
		return "", nil, fmt.Errorf("unsupported dialect '%s'", dialect)
	}
	var out strings.Builder
	var names []string
	index := make(map[string]int)

	n := len(query)
	for i := 0; i < n; i++ {
		c := query[i]
		switch {
		case c == '\'' || c == '"':
			end := closingQuote(query, i)
			if end < 0 {
				return "", nil, fmt.Errorf("unterminated quote at offset %d", i)
			}
			out.WriteString(query[i : end+1])
			i = end
		case c == ':' && i+1 < n && query[i+1] == ':':
			out.WriteString("::")
			i++
		case c == ':' && i+1 < n && isIdentStart(query[i+1]):
			j := i + 1
			for j < n && isIdentPart(query[j]) {
				j++
			}
			name := query[i+1 : j]
			if dialect == DialectPostgres {
				pos, seen := index[name]
				if !seen {
					names = append(names, name)
					pos = len(names)
					index[name] = pos
				}
				fmt.Fprintf(&out, "$%d", pos)
			} else {
				names = append(names, name)
				out.WriteByte('?')
			}
			i = j - 1
		default:
			out.WriteByte(c)
		}
	}
	return out.String(), names, nil
}

// closingQuote finds the quote closing the one at start; a doubled quote
// is an escape.
func closingQuote(s string, start int) int {
	q := s[start]
	for i := start + 1; i < len(s); i++ {
		if s[i] != q {
			continue
		}
		if i+1 < len(s) && s[i+1] == q {
			i++
			continue
		}
		return i
	}
	return -1
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
