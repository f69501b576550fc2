package cache

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Key namespaces used by the facade and its callers
const (
	tagIndexPrefix = "tag:"
	schemaPrefix   = "schema:"
	queryPrefix    = "query:"
)

// SchemaKey returns the cache key for a table's schema snapshot
func SchemaKey(table string) string {
	return schemaPrefix + table
}

// TagKey returns the cache key of a tag's index entry
func TagKey(tag string) string {
	return tagIndexPrefix + tag
}

// QueryKey derives a stable cache key for a parameterized statement.
// The key embeds the table name so that keys stay readable in redis-cli.
func QueryKey(table, sqlText string, args []interface{}) string {
	d := xxhash.New()
	_, _ = d.WriteString(sqlText)
	for _, arg := range args {
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(argString(arg))
	}
	return queryPrefix + table + ":" + strconv.FormatUint(d.Sum64(), 16)
}

func argString(arg interface{}) string {
	switch v := arg.(type) {
	case nil:
		return "nil"
	case string:
		return "s:" + v
	case []byte:
		return "b:" + string(v)
	case time.Time:
		return "t:" + v.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return fmt.Sprintf("%T:%s", v, v.String())
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}
