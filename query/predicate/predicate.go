/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package predicate is the typed filter-expression tree shared by the
// pruner chain and row-level evaluation, kept as its own leaf package so
// neither depends on the other. Grounded on storage/scan.go's boundary
// extraction, which only ever recognizes a flat set of comparison ops
// against column values; generalized here into a proper AND/OR/NOT tree
// per §4.5's "filter expression tree".
package predicate

import "github.com/shardline/eventcore/value"

// Op is one comparison a leaf Clause can apply.
type Op int

const (
	Eq Op = iota
	Neq
	Lt
	Lte
	Gt
	Gte
	In
)

func (o Op) String() string {
	switch o {
	case Eq:
		return "eq"
	case Neq:
		return "neq"
	case Lt:
		return "lt"
	case Lte:
		return "lte"
	case Gt:
		return "gt"
	case Gte:
		return "gte"
	case In:
		return "in"
	default:
		return "unknown"
	}
}

// Clause is one leaf comparison: field <op> value (or field IN values).
type Clause struct {
	Field  string
	Op     Op
	Value  value.Value
	Values []value.Value // only populated for In
}

// Matches evaluates the clause against one observed value, the same
// comparison row-level evaluation and (where typed) pruning both use.
func (c Clause) Matches(v value.Value) bool {
	switch c.Op {
	case Eq:
		return value.Equal(v, c.Value)
	case Neq:
		return !value.Equal(v, c.Value)
	case Lt:
		return value.Less(v, c.Value)
	case Lte:
		return value.Less(v, c.Value) || value.Equal(v, c.Value)
	case Gt:
		return value.Less(c.Value, v)
	case Gte:
		return value.Less(c.Value, v) || value.Equal(v, c.Value)
	case In:
		for _, want := range c.Values {
			if value.Equal(v, want) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Kind tags a Predicate node as a leaf clause or a boolean combinator.
type Kind int

const (
	KindLeaf Kind = iota
	KindAnd
	KindOr
	KindNot
)

// Predicate is the filter expression tree: either a leaf Clause or an
// And/Or/Not combination of child predicates. A zero-value Predicate
// (Kind == KindAnd, no children) is the "always true" / unconstrained
// filter used when a query has no where-clause.
type Predicate struct {
	Kind     Kind
	Clause   Clause
	Children []Predicate
}

// Leaf builds a single-clause predicate.
func Leaf(c Clause) Predicate { return Predicate{Kind: KindLeaf, Clause: c} }

// And combines predicates conjunctively. And() with no arguments is the
// unconstrained "match everything" predicate.
func And(children ...Predicate) Predicate { return Predicate{Kind: KindAnd, Children: children} }

// Or combines predicates disjunctively.
func Or(children ...Predicate) Predicate { return Predicate{Kind: KindOr, Children: children} }

// Not negates a single child predicate.
func Not(child Predicate) Predicate { return Predicate{Kind: KindNot, Children: []Predicate{child}} }

// IsUnconstrained reports whether p matches every row (the empty filter).
func (p Predicate) IsUnconstrained() bool {
	return p.Kind == KindAnd && len(p.Children) == 0
}

// Evaluate walks the tree against row, a field accessor for the current
// row, and reports whether the row matches.
func (p Predicate) Evaluate(row func(field string) value.Value) bool {
	switch p.Kind {
	case KindLeaf:
		return p.Clause.Matches(row(p.Clause.Field))
	case KindAnd:
		for _, c := range p.Children {
			if !c.Evaluate(row) {
				return false
			}
		}
		return true
	case KindOr:
		if len(p.Children) == 0 {
			return true
		}
		for _, c := range p.Children {
			if c.Evaluate(row) {
				return true
			}
		}
		return false
	case KindNot:
		return !p.Children[0].Evaluate(row)
	default:
		return true
	}
}

// AllFields returns every field name referenced anywhere in the tree
// (including inside Or/Not subtrees), used to decide which columns a
// source must decode to evaluate the predicate at row level.
func (p Predicate) AllFields() []string {
	seen := make(map[string]struct{})
	var out []string
	var walk func(Predicate)
	walk = func(n Predicate) {
		if n.Kind == KindLeaf {
			if _, ok := seen[n.Clause.Field]; !ok {
				seen[n.Clause.Field] = struct{}{}
				out = append(out, n.Clause.Field)
			}
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(p)
	return out
}

// TopLevelClauses flattens the conjunctive top-level clauses of p: every
// leaf reachable by descending only through And nodes. Or/Not subtrees are
// opaque to this walk since the pruner chain can only safely narrow on
// clauses that every surviving row must satisfy (§4.6's "pruners must
// never drop a zone that could contain a matching row").
func (p Predicate) TopLevelClauses() []Clause {
	var out []Clause
	var walk func(Predicate)
	walk = func(n Predicate) {
		switch n.Kind {
		case KindLeaf:
			out = append(out, n.Clause)
		case KindAnd:
			for _, c := range n.Children {
				walk(c)
			}
		}
	}
	walk(p)
	return out
}
