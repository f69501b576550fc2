package query

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/querycache/internal/orm/schema"
)

var projectionAlias = regexp.MustCompile(`(?i)\bAS\s+"?([A-Za-z_][A-Za-z0-9_]*)"?`)

// Builder assembles SELECT statements from a QuerySpec
type Builder struct {
	logger *zap.Logger
}

// NewBuilder creates a builder. logger may be nil.
func NewBuilder(logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{logger: logger.Named("query")}
}

// Build generates the SQL text and positional arguments for spec. ts may be
// nil when the table cannot be introspected; column checks are then skipped.
func (b *Builder) Build(spec *QuerySpec, ts *schema.TableSchema) (string, []interface{}, error) {
	p := &Params{}
	base, err := b.base(spec, ts, p)
	if err != nil {
		return "", nil, err
	}

	var sql strings.Builder
	sql.WriteString(base)

	if orderBy := b.orderBy(spec, ts); orderBy != "" {
		sql.WriteString(" ORDER BY ")
		sql.WriteString(orderBy)
	}
	if spec.Limit > 0 {
		fmt.Fprintf(&sql, " LIMIT %d", spec.Limit)
	}
	if spec.Offset > 0 {
		fmt.Fprintf(&sql, " OFFSET %d", spec.Offset)
	}

	return sql.String(), p.Args(), nil
}

// BuildCount wraps the unordered, unlimited query under COUNT(*)
func (b *Builder) BuildCount(spec *QuerySpec, ts *schema.TableSchema) (string, []interface{}, error) {
	p := &Params{}
	base, err := b.base(spec, ts, p)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS counted", base), p.Args(), nil
}

// base emits SELECT through HAVING
func (b *Builder) base(spec *QuerySpec, ts *schema.TableSchema, p *Params) (string, error) {
	if spec == nil {
		return "", fmt.Errorf("query: nil spec")
	}
	if err := schema.ValidateIdentifier(spec.Table); err != nil {
		return "", err
	}
	if spec.Alias != "" && !schema.IsIdentifier(spec.Alias) {
		return "", fmt.Errorf("%w: alias %q", ErrInvalidIdentifier, spec.Alias)
	}

	var sql strings.Builder

	projection := strings.TrimSpace(spec.Select)
	if projection == "" {
		projection = "*"
	}
	if err := CheckFragment(projection); err != nil {
		return "", fmt.Errorf("select: %w", err)
	}
	projection, err := p.Expand(projection, spec.SelectArgs)
	if err != nil {
		return "", fmt.Errorf("select: %w", err)
	}

	sql.WriteString("SELECT ")
	if spec.Distinct {
		sql.WriteString("DISTINCT ")
	}
	sql.WriteString(projection)
	sql.WriteString(" FROM ")
	sql.WriteString(QuoteQualified(spec.Table))
	if spec.Alias != "" {
		sql.WriteString(" AS ")
		sql.WriteString(QuoteIdentifier(spec.Alias))
	}

	for _, join := range spec.Joins {
		clause, err := b.join(join, p)
		if err != nil {
			return "", err
		}
		sql.WriteString(clause)
	}

	conditions, err := b.conditions(spec, ts, p)
	if err != nil {
		return "", err
	}
	if len(conditions) > 0 {
		sql.WriteString(" WHERE ")
		sql.WriteString(strings.Join(conditions, " AND "))
	}

	if groupBy := strings.TrimSpace(spec.GroupBy); groupBy != "" {
		if err := CheckFragment(groupBy); err != nil {
			return "", fmt.Errorf("group by: %w", err)
		}
		sql.WriteString(" GROUP BY ")
		sql.WriteString(groupBy)
	}

	if having := strings.TrimSpace(spec.Having); having != "" {
		if err := CheckFragment(having); err != nil {
			return "", fmt.Errorf("having: %w", err)
		}
		having, err := p.Expand(having, spec.HavingArgs)
		if err != nil {
			return "", fmt.Errorf("having: %w", err)
		}
		sql.WriteString(" HAVING ")
		sql.WriteString(having)
	}

	return sql.String(), nil
}

func (b *Builder) join(join Join, p *Params) (string, error) {
	if err := schema.ValidateIdentifier(join.Table); err != nil {
		return "", err
	}
	if join.Alias != "" && !schema.IsIdentifier(join.Alias) {
		return "", fmt.Errorf("%w: alias %q", ErrInvalidIdentifier, join.Alias)
	}
	on := strings.TrimSpace(join.On)
	if on == "" {
		return "", fmt.Errorf("join %s: missing ON condition", join.Table)
	}
	if err := CheckFragment(on); err != nil {
		return "", fmt.Errorf("join %s: %w", join.Table, err)
	}
	on, err := p.Expand(on, join.Args)
	if err != nil {
		return "", fmt.Errorf("join %s: %w", join.Table, err)
	}

	target := QuoteQualified(join.Table)
	if join.Alias != "" {
		target += " AS " + QuoteIdentifier(join.Alias)
	}
	return fmt.Sprintf(" %s JOIN %s ON %s", join.Type, target, on), nil
}

// conditions renders Where (sorted by column), Predicates, Raw and the soft-delete filter
func (b *Builder) conditions(spec *QuerySpec, ts *schema.TableSchema, p *Params) ([]string, error) {
	ref := tableRef(spec)
	var conditions []string

	columns := make([]string, 0, len(spec.Where))
	for col := range spec.Where {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	for _, col := range columns {
		quoted, ok, err := b.resolveColumn(col, ref, spec.Table, ts)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		conditions = append(conditions, Condition(quoted, spec.Where[col], p))
	}

	for _, pred := range spec.Predicates {
		quoted, ok, err := b.resolveColumn(pred.Column, ref, spec.Table, ts)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		cond, err := predicateSQL(quoted, pred, p)
		if err != nil {
			return nil, fmt.Errorf("predicate on %s: %w", pred.Column, err)
		}
		conditions = append(conditions, cond)
	}

	for _, raw := range spec.Raw {
		if err := CheckFragment(raw.SQL); err != nil {
			return nil, fmt.Errorf("where: %w", err)
		}
		expr, err := p.Expand(raw.SQL, raw.Args)
		if err != nil {
			return nil, fmt.Errorf("where: %w", err)
		}
		conditions = append(conditions, "("+expr+")")
	}

	if ts != nil && ts.HasDeletedAt && !spec.IncludeSoftDeleted {
		col := ref + "." + QuoteIdentifier(schema.ColumnDeletedAt)
		conditions = append(conditions, fmt.Sprintf("(%s IS NULL OR %s > NOW())", col, col))
	}

	return conditions, nil
}

// resolveColumn quotes a filter column. Unknown unqualified columns are
// dropped (ok=false); malformed names are an error.
func (b *Builder) resolveColumn(col, ref, table string, ts *schema.TableSchema) (string, bool, error) {
	if strings.Contains(col, ".") {
		if err := schema.ValidateIdentifier(col); err != nil {
			return "", false, err
		}
		b.logger.Warn("qualified column bypasses schema validation",
			zap.String("table", table), zap.String("column", col))
		return QuoteQualified(col), true, nil
	}

	if ts != nil && !ts.HasColumn(col) {
		b.logger.Warn("dropping filter on unknown column",
			zap.String("table", table), zap.String("column", col))
		return "", false, nil
	}
	if !schema.IsIdentifier(col) {
		return "", false, fmt.Errorf("%w: %q", ErrInvalidIdentifier, col)
	}
	return ref + "." + QuoteIdentifier(col), true, nil
}

// orderBy returns the ORDER BY text or "" when its leading column is unknown
func (b *Builder) orderBy(spec *QuerySpec, ts *schema.TableSchema) string {
	orderBy := strings.TrimSpace(spec.OrderBy)
	if orderBy == "" {
		return ""
	}
	if err := CheckFragment(orderBy); err != nil {
		b.logger.Warn("dropping unsafe order by", zap.String("table", spec.Table), zap.Error(err))
		return ""
	}
	if ts == nil {
		return orderBy
	}

	lead := leadingColumn(orderBy)
	if strings.Contains(lead, ".") || ts.HasColumn(lead) || hasProjectionAlias(spec.Select, lead) {
		return orderBy
	}

	b.logger.Warn("dropping order by on unknown column",
		zap.String("table", spec.Table), zap.String("column", lead))
	return ""
}

func leadingColumn(orderBy string) string {
	first := strings.TrimSpace(strings.SplitN(orderBy, ",", 2)[0])
	if fields := strings.Fields(first); len(fields) > 0 {
		first = fields[0]
	}
	return strings.Trim(first, `"`)
}

func hasProjectionAlias(projection, name string) bool {
	for _, match := range projectionAlias.FindAllStringSubmatch(projection, -1) {
		if match[1] == name {
			return true
		}
	}
	return false
}

func tableRef(spec *QuerySpec) string {
	if spec.Alias != "" {
		return QuoteIdentifier(spec.Alias)
	}
	return QuoteQualified(spec.Table)
}
