package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/scenebridge/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Ops      []string // Full sink trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Ops) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, op := range e.Ops {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, op)
		}
	}

	return buf.String()
}

// assertSinkContains checks that the trace holds the exact operation.
func assertSinkContains(ops []string, assertion Assertion) error {
	if indexOf(ops, assertion.Op, 0) >= 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertSinkContains,
		Expected: fmt.Sprintf("operation %q", assertion.Op),
		Actual:   "not found in trace",
		Ops:      ops,
	}
}

// assertSinkAbsent checks that the trace never holds the operation.
func assertSinkAbsent(ops []string, assertion Assertion) error {
	i := indexOf(ops, assertion.Op, 0)
	if i < 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertSinkAbsent,
		Expected: fmt.Sprintf("no operation %q", assertion.Op),
		Actual:   fmt.Sprintf("found at position %d", i+1),
		Ops:      ops,
	}
}

// assertSinkOrder checks that operations appear in the specified order.
// They don't need to be consecutive; each is matched after the previous one,
// so repeated operations are allowed.
func assertSinkOrder(ops []string, assertion Assertion) error {
	from := 0
	for n, want := range assertion.Ops {
		i := indexOf(ops, want, from)
		if i < 0 {
			actual := fmt.Sprintf("missing operation: %s", want)
			if n > 0 && indexOf(ops, want, 0) >= 0 {
				actual = fmt.Sprintf("%s appears before %s", want, assertion.Ops[n-1])
			}
			return &AssertionError{
				Type:     AssertSinkOrder,
				Expected: fmt.Sprintf("operations in order: %v", assertion.Ops),
				Actual:   actual,
				Ops:      ops,
			}
		}
		from = i + 1
	}
	return nil
}

// assertSinkCount checks that exactly Count operations start with Prefix.
func assertSinkCount(ops []string, assertion Assertion) error {
	count := 0
	for _, op := range ops {
		if strings.HasPrefix(op, assertion.Prefix) {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertSinkCount,
			Expected: fmt.Sprintf("%d operations starting with %q", assertion.Count, assertion.Prefix),
			Actual:   fmt.Sprintf("%d operations", count),
			Ops:      ops,
		}
	}
	return nil
}

func indexOf(ops []string, op string, from int) int {
	for i := from; i < len(ops); i++ {
		if ops[i] == op {
			return i
		}
	}
	return -1
}

// assertRenderState checks the state the session ended in.
func assertRenderState(result *Result, assertion Assertion) error {
	if result.State == assertion.State {
		return nil
	}
	return &AssertionError{
		Type:     AssertRenderState,
		Expected: fmt.Sprintf("state %s", assertion.State),
		Actual:   fmt.Sprintf("state %s", result.State),
		Ops:      result.Ops,
	}
}

// assertErrorContains checks the session-fatal error text.
func assertErrorContains(result *Result, assertion Assertion) error {
	if result.Error != "" && strings.Contains(result.Error, assertion.Text) {
		return nil
	}
	actual := "no session error"
	if result.Error != "" {
		actual = fmt.Sprintf("error %q", result.Error)
	}
	return &AssertionError{
		Type:     AssertErrorContains,
		Expected: fmt.Sprintf("session error containing %q", assertion.Text),
		Actual:   actual,
		Ops:      result.Ops,
	}
}

// assertFinalState checks if a ledger table contains expected values.
// Queries the table with parameterized SQL and validates expected values
// using subset semantics.
//
// Security: Table and column names are validated against a whitelist pattern
// to prevent SQL injection via identifier interpolation.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	// Values are never interpolated.
	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.DB().QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	// Subset semantics: only fields in Expect are checked.
	for _, key := range sortedKeys(assertion.Expect) {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

// buildWhereClause constructs a parameterized WHERE clause. A nil value
// matches NULL. Keys are sorted for determinism.
//
// Security: Column names are validated against a whitelist pattern to prevent
// SQL injection via identifier interpolation.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	clauses := make([]string, 0, len(where))
	args := make([]any, 0, len(where))
	for _, key := range sortedKeys(where) {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		if where[key] == nil {
			clauses = append(clauses, key+" IS NULL")
			continue
		}
		clauses = append(clauses, key+" = ?")
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML value to a SQL-compatible value.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, float64, bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stateValuesEqual compares expected and actual values from ledger tables.
// Handles type coercion for SQLite values which may be returned as different types.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}

	switch exp := expected.(type) {
	case string:
		switch a := actual.(type) {
		case string:
			return exp == a
		case []byte:
			return exp == string(a)
		}
		return false
	case int:
		return numberEqual(float64(exp), actual)
	case int64:
		return numberEqual(float64(exp), actual)
	case float64:
		return numberEqual(exp, actual)
	case bool:
		if a, ok := actual.(bool); ok {
			return exp == a
		}
		// SQLite stores booleans as integers
		if a, ok := actual.(int64); ok {
			return exp == (a != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

// numberEqual compares across SQLite's INTEGER and REAL storage classes.
func numberEqual(expected float64, actual any) bool {
	switch a := actual.(type) {
	case int64:
		return expected == float64(a)
	case int:
		return expected == float64(a)
	case float64:
		return expected == a
	}
	return false
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertSinkContains:
			err = assertSinkContains(result.Ops, assertion)
		case AssertSinkAbsent:
			err = assertSinkAbsent(result.Ops, assertion)
		case AssertSinkOrder:
			err = assertSinkOrder(result.Ops, assertion)
		case AssertSinkCount:
			err = assertSinkCount(result.Ops, assertion)
		case AssertRenderState:
			err = assertRenderState(result, assertion)
		case AssertErrorContains:
			err = assertErrorContains(result, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
