package query

import (
	"fmt"
	"reflect"
	"strings"
)

// Operator represents a comparison operator
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpIn
	OpNotIn
	OpLike
	OpILike
	OpIsNull
	OpIsNotNull
	OpBetween
)

var operatorText = map[Operator]string{
	OpEqual:              "=",
	OpNotEqual:           "!=",
	OpGreaterThan:        ">",
	OpGreaterThanOrEqual: ">=",
	OpLessThan:           "<",
	OpLessThanOrEqual:    "<=",
	OpIn:                 "IN",
	OpNotIn:              "NOT IN",
	OpLike:               "LIKE",
	OpILike:              "ILIKE",
	OpIsNull:             "IS NULL",
	OpIsNotNull:          "IS NOT NULL",
	OpBetween:            "BETWEEN",
}

// String returns the SQL text of the operator
func (o Operator) String() string {
	if s, ok := operatorText[o]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParseOperator converts operator text ("=", "<>", "not in", "ilike", ...) to an Operator
func ParseOperator(s string) (Operator, error) {
	switch strings.ToUpper(strings.Join(strings.Fields(s), " ")) {
	case "=", "==", "EQ":
		return OpEqual, nil
	case "!=", "<>", "NE":
		return OpNotEqual, nil
	case ">", "GT":
		return OpGreaterThan, nil
	case ">=", "GTE":
		return OpGreaterThanOrEqual, nil
	case "<", "LT":
		return OpLessThan, nil
	case "<=", "LTE":
		return OpLessThanOrEqual, nil
	case "IN":
		return OpIn, nil
	case "NOT IN", "NIN":
		return OpNotIn, nil
	case "LIKE":
		return OpLike, nil
	case "ILIKE":
		return OpILike, nil
	case "IS NULL":
		return OpIsNull, nil
	case "IS NOT NULL":
		return OpIsNotNull, nil
	case "BETWEEN":
		return OpBetween, nil
	default:
		return OpEqual, fmt.Errorf("unknown operator: %s", s)
	}
}

// Predicate is a single column comparison
type Predicate struct {
	Column   string
	Operator Operator
	Value    interface{}
}

// Condition renders the Where-map form of a comparison: a slice value becomes
// IN, nil becomes IS NULL, anything else equality
func Condition(column string, value interface{}, p *Params) string {
	if value == nil {
		return column + " IS NULL"
	}
	if values, ok := asSlice(value); ok {
		return inList(column, "IN", values, p)
	}
	return fmt.Sprintf("%s = %s", column, p.Bind(value))
}

// predicateSQL renders a predicate against an already quoted column
func predicateSQL(column string, pred Predicate, p *Params) (string, error) {
	switch pred.Operator {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterThanOrEqual,
		OpLessThan, OpLessThanOrEqual, OpLike, OpILike:
		if pred.Value == nil {
			if pred.Operator == OpEqual {
				return column + " IS NULL", nil
			}
			if pred.Operator == OpNotEqual {
				return column + " IS NOT NULL", nil
			}
			return "", fmt.Errorf("operator %s requires a value", pred.Operator)
		}
		return fmt.Sprintf("%s %s %s", column, pred.Operator, p.Bind(pred.Value)), nil

	case OpIn, OpNotIn:
		values, ok := asSlice(pred.Value)
		if !ok {
			return "", fmt.Errorf("%s operator requires a slice value", pred.Operator)
		}
		return inList(column, pred.Operator.String(), values, p), nil

	case OpIsNull:
		return column + " IS NULL", nil

	case OpIsNotNull:
		return column + " IS NOT NULL", nil

	case OpBetween:
		values, ok := asSlice(pred.Value)
		if !ok || len(values) != 2 {
			return "", fmt.Errorf("BETWEEN operator requires [min, max] values")
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", column, p.Bind(values[0]), p.Bind(values[1])), nil

	default:
		return "", fmt.Errorf("unsupported operator: %v", pred.Operator)
	}
}

func inList(column, op string, values []interface{}, p *Params) string {
	if len(values) == 0 {
		// IN () matches nothing, NOT IN () matches everything
		if op == "IN" {
			return "FALSE"
		}
		return "TRUE"
	}

	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = p.Bind(v)
	}
	return fmt.Sprintf("%s %s (%s)", column, op, strings.Join(placeholders, ", "))
}

// asSlice expands any slice or array except []byte into []interface{}
func asSlice(value interface{}) ([]interface{}, bool) {
	if values, ok := value.([]interface{}); ok {
		return values, true
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}

	values := make([]interface{}, rv.Len())
	for i := range values {
		values[i] = rv.Index(i).Interface()
	}
	return values, true
}
