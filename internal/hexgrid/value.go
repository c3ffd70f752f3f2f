// Package hexgrid rasterizes vector and raster data onto the H3 hexagonal
// grid and aggregates per-cell values under selectable reduction methods.
package hexgrid

import (
	"strconv"
)

// Kind discriminates the payload of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindCategory
)

// Value is one cell attribute: null, a number, or a category label. The
// explicit null variant replaces NaN and sentinel strings so reducers can
// switch on the kind instead of sniffing payloads.
type Value struct {
	kind Kind
	num  float64
	cat  string
}

// Null returns the absent value. It is also the zero Value.
func Null() Value { return Value{} }

// Number wraps a numeric payload.
func Number(v float64) Value { return Value{kind: KindNumber, num: v} }

// Category wraps a categorical label.
func Category(s string) Value { return Value{kind: KindCategory, cat: s} }

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the absent value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Number unwraps the numeric payload; ok is false for other kinds.
func (v Value) Number() (float64, bool) { return v.num, v.kind == KindNumber }

// Category unwraps the label payload; ok is false for other kinds.
func (v Value) Category() (string, bool) { return v.cat, v.kind == KindCategory }

// Equal reports whether two values hold the same kind and payload.
func (v Value) Equal(o Value) bool { return v == o }

// String renders the payload for logs and feature properties.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindCategory:
		return v.cat
	default:
		return "null"
	}
}

// less orders values without a categorical rank: numbers ascending before
// categories in lexicographic order. Nulls are filtered out upstream.
func (v Value) less(o Value) bool {
	if v.kind != o.kind {
		return v.kind < o.kind
	}
	switch v.kind {
	case KindNumber:
		return v.num < o.num
	case KindCategory:
		return v.cat < o.cat
	default:
		return false
	}
}

// Rank is a categorical priority: position 0 is the head of the order. The
// zero value is unassigned and sorts after every assigned rank, so values
// missing from a priority order lose min contests and win max contests
// (where they then decode back to null).
type Rank struct {
	pos      int
	assigned bool
}

// Unassigned is the rank of values missing from a priority order.
var Unassigned = Rank{}

// RankOf returns the rank at a position in a priority order.
func RankOf(pos int) Rank { return Rank{pos: pos, assigned: true} }

// Assigned reports whether the rank maps back to an order position.
func (r Rank) Assigned() bool { return r.assigned }

// Less orders ranks by position, with unassigned after all assigned.
func (r Rank) Less(o Rank) bool {
	if r.assigned != o.assigned {
		return r.assigned
	}
	return r.assigned && r.pos < o.pos
}

// rankFor finds v's position in a priority order.
func rankFor(order []Value, v Value) Rank {
	for i, o := range order {
		if v.Equal(o) {
			return RankOf(i)
		}
	}
	return Unassigned
}
