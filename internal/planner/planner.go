// Package planner builds the SQL for count preloading: correlated COUNT(*)
// subqueries for one-to-many relationships, the parent query they are appended
// to, and the per-row relation query used when a count was not preloaded.
package planner

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"preloadcounts/internal/sqlutil"
)

// SQLQuery is a rendered statement with positional "?" arguments.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

// Inline renders the statement with every argument substituted as a literal.
// The result is meant for explain output and logs, never for execution.
func (q SQLQuery) Inline() string {
	var b strings.Builder
	b.Grow(len(q.SQL))

	argIdx := 0
	var quote byte
	for i := 0; i < len(q.SQL); i++ {
		c := q.SQL[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			b.WriteByte(c)
		case c == '\'' || c == '`' || c == '"':
			quote = c
			b.WriteByte(c)
		case c == '?' && argIdx < len(q.Args):
			b.WriteString(literal(q.Args[argIdx]))
			argIdx++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func literal(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return sqlutil.QuoteString(val)
	case []byte:
		return sqlutil.QuoteString(string(val))
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32, int16, int8, uint, uint64, uint32, uint16, uint8:
		return fmt.Sprintf("%d", val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case time.Time:
		return sqlutil.QuoteString(val.Format("2006-01-02 15:04:05.999999"))
	default:
		return sqlutil.QuoteString(fmt.Sprint(val))
	}
}
