// Package sqlfrag assembles SQL statements from typed fragments so that
// identifiers coming from configuration (table and index names) are always
// quoted, and placeholder lists are generated rather than concatenated by
// hand. User values never appear in statement text; they travel as bind
// parameters.
package sqlfrag

import "strings"

// Fragment is one composable piece of a statement.
type Fragment interface {
	String() string
}

// SQL is trusted, literal statement text.
type SQL string

func (s SQL) String() string { return string(s) }

// Ident is a table, column, or index name. It renders backtick-quoted with
// embedded backticks doubled, so configured names cannot break out of
// identifier position.
type Ident string

func (i Ident) String() string {
	return "`" + strings.ReplaceAll(string(i), "`", "``") + "`"
}

// Placeholders renders n comma-separated bind markers: "?, ?, ?".
type Placeholders int

func (p Placeholders) String() string {
	if p <= 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(int(p) * 3)
	for i := 0; i < int(p); i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('?')
	}
	return b.String()
}

// Compose joins fragments with single spaces into a final statement.
func Compose(parts ...Fragment) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = p.String()
	}
	return strings.Join(out, " ")
}
