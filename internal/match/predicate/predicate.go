// Package predicate models search conditions as a small tagged tree instead
// of spliced SQL strings. One renderer turns a tree into a parameterized
// Postgres WHERE clause; one evaluator applies the same semantics to
// in-memory rows so the memory registry store behaves like the real one.
package predicate

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Node is one search condition. Bound values inside leaf nodes are already
// normalized (case-folded, alphanum-stripped) by the query builder; the Fold
// and Alphanum flags describe how the stored column side is transformed.
type Node interface {
	isNode()
}

// Exact matches when the (transformed) column equals the bound value.
type Exact struct {
	Column   string
	Value    string
	Fold     bool
	Alphanum bool
}

// Distance matches when the edit distance between the (transformed) column
// and the bound value is at most Threshold.
type Distance struct {
	Column    string
	Value     string
	Fold      bool
	Alphanum  bool
	Threshold int
}

// Substr matches when a fixed window of the (transformed) column equals the
// bound value, which is already windowed. Offset is 1-based.
type Substr struct {
	Column   string
	Value    string
	Fold     bool
	Alphanum bool
	Offset   int
	Length   int
}

// And matches when every child matches.
type And struct {
	Nodes []Node
}

// Or matches when any child matches.
type Or struct {
	Nodes []Node
}

func (Exact) isNode()    {}
func (Distance) isNode() {}
func (Substr) isNode()   {}
func (And) isNode()      {}
func (Or) isNode()       {}

// Normalize applies the bound-value side of the column transforms: case
// folding and alphanumeric stripping, in that order.
func Normalize(s string, fold, alphanum bool) string {
	if fold {
		s = strings.ToLower(s)
	}
	if alphanum {
		s = stripNonAlphanum(s)
	}
	return s
}

// Window cuts the 1-based [offset, offset+length) character window out of s,
// mirroring SQL substr semantics.
func Window(s string, offset, length int) string {
	runes := []rune(s)
	start := offset - 1
	if start < 0 || start >= len(runes) {
		return ""
	}
	end := start + length
	if end > len(runes) {
		end = len(runes)
	}
	return string(runes[start:end])
}

func stripNonAlphanum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Eval applies a predicate to an in-memory row. columns returns the stored
// value for a column and whether it is set; unset columns never match.
func Eval(n Node, columns func(string) (string, bool)) bool {
	switch p := n.(type) {
	case Exact:
		v, ok := columns(p.Column)
		return ok && Normalize(v, p.Fold, p.Alphanum) == p.Value
	case Distance:
		v, ok := columns(p.Column)
		if !ok {
			return false
		}
		return levenshtein.ComputeDistance(Normalize(v, p.Fold, p.Alphanum), p.Value) <= p.Threshold
	case Substr:
		v, ok := columns(p.Column)
		if !ok {
			return false
		}
		return Window(Normalize(v, p.Fold, p.Alphanum), p.Offset, p.Length) == p.Value
	case And:
		for _, child := range p.Nodes {
			if !Eval(child, columns) {
				return false
			}
		}
		return true
	case Or:
		for _, child := range p.Nodes {
			if Eval(child, columns) {
				return true
			}
		}
		return false
	}
	return false
}
