package query

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/querycache/internal/orm/schema"
)

var aggregateFuncs = map[string]bool{
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true,
}

var windowFuncs = map[string]bool{
	"ROW_NUMBER": true, "RANK": true, "DENSE_RANK": true, "PERCENT_RANK": true,
	"NTILE": true, "LAG": true, "LEAD": true, "FIRST_VALUE": true, "LAST_VALUE": true,
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true,
}

// Aggregate is one aggregate expression, e.g. SUM(amount) AS total
type Aggregate struct {
	Func     string
	Column   string // "*" or empty for COUNT(*)
	Alias    string
	Distinct bool
}

// AggregateSpec describes a grouped aggregate read
type AggregateSpec struct {
	Table      string
	Aggregates []Aggregate
	GroupBy    []string
	Where      map[string]interface{}
	Predicates []Predicate
	Having     string
	HavingArgs []interface{}
	OrderBy    string
	Limit      int

	IncludeSoftDeleted bool
}

// QuerySpec lowers the aggregate description to a plain QuerySpec
func (a *AggregateSpec) QuerySpec(ts *schema.TableSchema) (*QuerySpec, error) {
	if len(a.Aggregates) == 0 {
		return nil, fmt.Errorf("aggregate on %s: at least one aggregate is required", a.Table)
	}

	groupCols, err := structuredColumns(a.GroupBy, ts)
	if err != nil {
		return nil, err
	}

	projection := append([]string(nil), groupCols...)
	for _, agg := range a.Aggregates {
		expr, err := aggregateExpr(agg, ts)
		if err != nil {
			return nil, err
		}
		projection = append(projection, expr)
	}

	return &QuerySpec{
		Select:             strings.Join(projection, ", "),
		Table:              a.Table,
		Where:              a.Where,
		Predicates:         a.Predicates,
		GroupBy:            strings.Join(groupCols, ", "),
		Having:             a.Having,
		HavingArgs:         a.HavingArgs,
		OrderBy:            a.OrderBy,
		Limit:              a.Limit,
		IncludeSoftDeleted: a.IncludeSoftDeleted,
	}, nil
}

func aggregateExpr(agg Aggregate, ts *schema.TableSchema) (string, error) {
	fn := strings.ToUpper(agg.Func)
	if !aggregateFuncs[fn] {
		return "", fmt.Errorf("%w: unsupported aggregate %q", ErrUnsafeFragment, agg.Func)
	}

	arg := "*"
	if agg.Column != "" && agg.Column != "*" {
		cols, err := structuredColumns([]string{agg.Column}, ts)
		if err != nil {
			return "", err
		}
		arg = cols[0]
		if agg.Distinct {
			arg = "DISTINCT " + arg
		}
	} else if fn != "COUNT" {
		return "", fmt.Errorf("aggregate %s requires a column", fn)
	}

	alias := agg.Alias
	if alias == "" {
		alias = strings.ToLower(fn)
		if agg.Column != "" && agg.Column != "*" {
			alias += "_" + strings.ReplaceAll(agg.Column, ".", "_")
		}
	}
	if !schema.IsIdentifier(alias) {
		return "", fmt.Errorf("%w: alias %q", ErrInvalidIdentifier, alias)
	}

	return fmt.Sprintf("%s(%s) AS %s", fn, arg, QuoteIdentifier(alias)), nil
}

// WindowFunction is one window expression: FUNC(args) OVER (PARTITION BY ... ORDER BY ...)
type WindowFunction struct {
	Func        string
	Column      string
	Args        []interface{}
	PartitionBy []string
	OrderBy     string
	Alias       string
}

// WindowSpec describes a read that adds window-function columns to each row
type WindowSpec struct {
	Table      string
	Columns    []string
	Functions  []WindowFunction
	Where      map[string]interface{}
	Predicates []Predicate
	OrderBy    string
	Limit      int
	Offset     int

	IncludeSoftDeleted bool
}

// QuerySpec lowers the window description to a plain QuerySpec
func (w *WindowSpec) QuerySpec(ts *schema.TableSchema) (*QuerySpec, error) {
	if len(w.Functions) == 0 {
		return nil, fmt.Errorf("window on %s: at least one function is required", w.Table)
	}

	projection := []string{"*"}
	if len(w.Columns) > 0 {
		cols, err := structuredColumns(w.Columns, ts)
		if err != nil {
			return nil, err
		}
		projection = cols
	}

	var args []interface{}
	for _, fn := range w.Functions {
		expr, err := windowExpr(fn, ts)
		if err != nil {
			return nil, err
		}
		projection = append(projection, expr)
		args = append(args, fn.Args...)
	}

	return &QuerySpec{
		Select:             strings.Join(projection, ", "),
		SelectArgs:         args,
		Table:              w.Table,
		Where:              w.Where,
		Predicates:         w.Predicates,
		OrderBy:            w.OrderBy,
		Limit:              w.Limit,
		Offset:             w.Offset,
		IncludeSoftDeleted: w.IncludeSoftDeleted,
	}, nil
}

func windowExpr(fn WindowFunction, ts *schema.TableSchema) (string, error) {
	name := strings.ToUpper(fn.Func)
	if !windowFuncs[name] {
		return "", fmt.Errorf("%w: unsupported window function %q", ErrUnsafeFragment, fn.Func)
	}
	if fn.Alias == "" || !schema.IsIdentifier(fn.Alias) {
		return "", fmt.Errorf("%w: window alias %q", ErrInvalidIdentifier, fn.Alias)
	}

	var callArgs []string
	if fn.Column != "" {
		cols, err := structuredColumns([]string{fn.Column}, ts)
		if err != nil {
			return "", err
		}
		callArgs = append(callArgs, cols[0])
	}
	for range fn.Args {
		callArgs = append(callArgs, "?")
	}

	var over []string
	if len(fn.PartitionBy) > 0 {
		cols, err := structuredColumns(fn.PartitionBy, ts)
		if err != nil {
			return "", err
		}
		over = append(over, "PARTITION BY "+strings.Join(cols, ", "))
	}
	if orderBy := strings.TrimSpace(fn.OrderBy); orderBy != "" {
		if err := CheckFragment(orderBy); err != nil {
			return "", fmt.Errorf("window order by: %w", err)
		}
		over = append(over, "ORDER BY "+orderBy)
	}

	return fmt.Sprintf("%s(%s) OVER (%s) AS %s",
		name, strings.Join(callArgs, ", "), strings.Join(over, " "), QuoteIdentifier(fn.Alias)), nil
}

// RangeSpec restricts a column to [From, To]. A nil bound leaves that side
// open; Exclusive makes both bounds strict.
type RangeSpec struct {
	Table     string
	Column    string
	From      interface{}
	To        interface{}
	Exclusive bool

	Where   map[string]interface{}
	OrderBy string
	Limit   int
	Offset  int

	IncludeSoftDeleted bool
}

// QuerySpec lowers the range description to a plain QuerySpec
func (r *RangeSpec) QuerySpec(ts *schema.TableSchema) (*QuerySpec, error) {
	if err := requireColumn(r.Column, ts); err != nil {
		return nil, err
	}

	var preds []Predicate
	switch {
	case r.From != nil && r.To != nil && !r.Exclusive:
		preds = append(preds, Predicate{Column: r.Column, Operator: OpBetween, Value: []interface{}{r.From, r.To}})
	default:
		lower, upper := OpGreaterThanOrEqual, OpLessThanOrEqual
		if r.Exclusive {
			lower, upper = OpGreaterThan, OpLessThan
		}
		if r.From != nil {
			preds = append(preds, Predicate{Column: r.Column, Operator: lower, Value: r.From})
		}
		if r.To != nil {
			preds = append(preds, Predicate{Column: r.Column, Operator: upper, Value: r.To})
		}
	}

	orderBy := r.OrderBy
	if orderBy == "" {
		orderBy = r.Column + " ASC"
	}

	return &QuerySpec{
		Table:              r.Table,
		Where:              r.Where,
		Predicates:         preds,
		OrderBy:            orderBy,
		Limit:              r.Limit,
		Offset:             r.Offset,
		IncludeSoftDeleted: r.IncludeSoftDeleted,
	}, nil
}

// FullTextSpec matches rows whose columns contain the search terms using
// PostgreSQL text search, ranking matches when Rank is set.
type FullTextSpec struct {
	Table    string
	Columns  []string
	Query    string
	Language string
	Rank     bool

	Where  map[string]interface{}
	Limit  int
	Offset int

	IncludeSoftDeleted bool
}

// QuerySpec lowers the text search description to a plain QuerySpec
func (f *FullTextSpec) QuerySpec(ts *schema.TableSchema) (*QuerySpec, error) {
	if len(f.Columns) == 0 {
		return nil, fmt.Errorf("full-text search on %s: at least one column is required", f.Table)
	}
	for _, col := range f.Columns {
		if err := requireColumn(col, ts); err != nil {
			return nil, err
		}
	}
	cols, err := structuredColumns(f.Columns, ts)
	if err != nil {
		return nil, err
	}

	language := f.Language
	if language == "" {
		language = "english"
	}

	coalesced := make([]string, len(cols))
	for i, col := range cols {
		coalesced[i] = fmt.Sprintf("COALESCE(%s::text, '')", col)
	}
	document := fmt.Sprintf("to_tsvector(?::regconfig, %s)", strings.Join(coalesced, " || ' ' || "))
	tsQuery := "plainto_tsquery(?::regconfig, ?)"

	spec := &QuerySpec{
		Table:              f.Table,
		Where:              f.Where,
		Raw:                []Fragment{Raw(document+" @@ "+tsQuery, language, language, f.Query)},
		Limit:              f.Limit,
		Offset:             f.Offset,
		IncludeSoftDeleted: f.IncludeSoftDeleted,
	}

	if f.Rank {
		spec.Select = fmt.Sprintf("*, ts_rank(%s, %s) AS rank", document, tsQuery)
		spec.SelectArgs = []interface{}{language, language, f.Query}
		spec.OrderBy = "rank DESC"
	}

	return spec, nil
}

// structuredColumns validates and quotes columns named in structured specs.
// Unqualified names must exist in the schema.
func structuredColumns(columns []string, ts *schema.TableSchema) ([]string, error) {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		if err := schema.ValidateIdentifier(col); err != nil {
			return nil, err
		}
		if !strings.Contains(col, ".") {
			if err := requireColumn(col, ts); err != nil {
				return nil, err
			}
		}
		quoted[i] = QuoteQualified(col)
	}
	return quoted, nil
}

func requireColumn(col string, ts *schema.TableSchema) error {
	if err := schema.ValidateIdentifier(col); err != nil {
		return err
	}
	if ts != nil && !strings.Contains(col, ".") && !ts.HasColumn(col) {
		return fmt.Errorf("%w: column %s on %s", schema.ErrColumnNotFound, col, ts.TableName)
	}
	return nil
}
