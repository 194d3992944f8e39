package access

import (
	"strconv"
	"strings"
)

// Filter accumulates a WHERE clause with pgx positional arguments.
// It always starts from the tenant predicate and the scope's owner predicate.
type Filter struct {
	clauses []string
	args    []any
}

// NewFilter starts a filter for scope. tenantCol and ownerCol are trusted column names.
func NewFilter(scope Scope, tenantCol, ownerCol string) *Filter {
	f := &Filter{}
	if scope.TenantID <= 0 {
		f.clauses = append(f.clauses, "1 = 0")
		return f
	}
	f.And(tenantCol+" = ?", scope.TenantID)
	if scope.Unrestricted() {
		return f
	}
	switch {
	case len(scope.Owner.IDs) == 0:
		f.clauses = append(f.clauses, "1 = 0")
	case scope.Owner.Op == OpEq && len(scope.Owner.IDs) == 1:
		f.And(ownerCol+" = ?", scope.Owner.IDs[0])
	default:
		f.And(ownerCol+" = ANY(?)", scope.Owner.IDs)
	}
	return f
}

// And appends expr, replacing its single ? with the next placeholder.
func (f *Filter) And(expr string, arg any) *Filter {
	f.args = append(f.args, arg)
	placeholder := "$" + strconv.Itoa(len(f.args))
	f.clauses = append(f.clauses, strings.Replace(expr, "?", placeholder, 1))
	return f
}

// Arg appends a bare argument, for LIMIT/OFFSET, and returns its placeholder.
func (f *Filter) Arg(arg any) string {
	f.args = append(f.args, arg)
	return "$" + strconv.Itoa(len(f.args))
}

// Where renders the accumulated clause including the WHERE keyword.
func (f *Filter) Where() string {
	return "WHERE " + strings.Join(f.clauses, " AND ")
}

// Args returns the positional arguments in placeholder order.
func (f *Filter) Args() []any {
	return f.args
}
