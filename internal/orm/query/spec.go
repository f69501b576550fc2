// Package query turns structured read descriptions into parameterized
// PostgreSQL text, validating identifiers against the table schema.
package query

// JoinType represents the type of SQL join
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftJoin
	RightJoin
	FullJoin
)

// String returns the SQL keyword of the join type
func (j JoinType) String() string {
	switch j {
	case LeftJoin:
		return "LEFT"
	case RightJoin:
		return "RIGHT"
	case FullJoin:
		return "FULL"
	default:
		return "INNER"
	}
}

// Join represents a JOIN clause. On is caller text and may carry ? placeholders bound from Args.
type Join struct {
	Type  JoinType
	Table string
	Alias string
	On    string
	Args  []interface{}
}

// Fragment is a raw WHERE expression with ? placeholders. ?? writes a
// literal ?, so the jsonb operators ?, ?| and ?& are spelled ??, ??| and ??&.
type Fragment struct {
	SQL  string
	Args []interface{}
}

// Raw creates a Fragment
func Raw(sql string, args ...interface{}) Fragment {
	return Fragment{SQL: sql, Args: args}
}

// QuerySpec describes a single read. It is built per call and consumed once.
type QuerySpec struct {
	// Select is the projection text, "*" when empty. ? placeholders bind SelectArgs.
	Select     string
	SelectArgs []interface{}
	Distinct   bool

	Table string
	Alias string
	Joins []Join

	// Where maps columns to values: scalars compare for equality, slices
	// become IN and nil becomes IS NULL
	Where      map[string]interface{}
	Predicates []Predicate
	Raw        []Fragment

	GroupBy    string
	Having     string
	HavingArgs []interface{}
	OrderBy    string

	// Limit and Offset are emitted when positive
	Limit  int
	Offset int

	IncludeSoftDeleted bool
}

// Clone returns a copy that can be modified without touching s
func (s *QuerySpec) Clone() *QuerySpec {
	clone := *s
	clone.Joins = append([]Join(nil), s.Joins...)
	clone.Predicates = append([]Predicate(nil), s.Predicates...)
	clone.Raw = append([]Fragment(nil), s.Raw...)
	if s.Where != nil {
		clone.Where = make(map[string]interface{}, len(s.Where))
		for k, v := range s.Where {
			clone.Where[k] = v
		}
	}
	return &clone
}

// Tables returns the base table followed by every joined table
func (s *QuerySpec) Tables() []string {
	tables := []string{s.Table}
	for _, join := range s.Joins {
		tables = append(tables, join.Table)
	}
	return tables
}
