package predicate

import (
	"fmt"
	"strings"
)

// SQL renders a predicate tree into a parameterized Postgres condition with
// $N placeholders, returning the bound values in placeholder order. The
// distance rule relies on levenshtein_less_equal from the fuzzystrmatch
// extension.
func SQL(n Node) (string, []any) {
	r := &renderer{}
	clause := r.render(n)
	return clause, r.args
}

type renderer struct {
	args []any
}

func (r *renderer) bind(v any) string {
	r.args = append(r.args, v)
	return fmt.Sprintf("$%d", len(r.args))
}

func (r *renderer) render(n Node) string {
	switch p := n.(type) {
	case Exact:
		return column(p.Column, p.Fold, p.Alphanum) + " = " + r.bind(p.Value)
	case Distance:
		return fmt.Sprintf("levenshtein_less_equal(%s, %s, %d) < %d",
			column(p.Column, p.Fold, p.Alphanum), r.bind(p.Value), p.Threshold, p.Threshold+1)
	case Substr:
		return fmt.Sprintf("substr(%s, %d, %d) = %s",
			column(p.Column, p.Fold, p.Alphanum), p.Offset, p.Length, r.bind(p.Value))
	case And:
		return r.join(p.Nodes, " AND ")
	case Or:
		return r.join(p.Nodes, " OR ")
	}
	return "FALSE"
}

func (r *renderer) join(nodes []Node, sep string) string {
	if len(nodes) == 0 {
		return "FALSE"
	}
	if len(nodes) == 1 {
		return r.render(nodes[0])
	}
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		parts = append(parts, r.render(n))
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// column wraps a column reference in the configured comparison transforms:
// alphanumeric stripping innermost, case folding outermost.
func column(col string, fold, alphanum bool) string {
	expr := col
	if alphanum {
		expr = "regexp_replace(" + expr + ", '[^A-Za-z0-9]', '', 'g')"
	}
	if fold {
		expr = "lower(" + expr + ")"
	}
	return expr
}
