package models

import "fmt"

// Pos is a position in the unit square.
type Pos struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Tagged is a payload of any type pinned to a position. It satisfies quadtree.Item,
// so tagged integers, floats, strings and booleans can share a leaf.
type Tagged[T any] struct {
	ID    int64
	Value T
	Pos   Pos
}

func (t Tagged[T]) X() float64 { return t.Pos.X }
func (t Tagged[T]) Y() float64 { return t.Pos.Y }

// RecordID returns the ID of the stored point the item was built from.
func (t Tagged[T]) RecordID() int64 { return t.ID }

func (t Tagged[T]) String() string {
	if t.ID != 0 {
		return fmt.Sprintf("#%d %T(%v)", t.ID, t.Value, t.Value)
	}
	return fmt.Sprintf("%T(%v)", t.Value, t.Value)
}

// Integer tags an int with a position.
func Integer(v int, x, y float64) Tagged[int] {
	return Tagged[int]{Value: v, Pos: Pos{x, y}}
}

// Float tags a float64 with a position.
func Float(v, x, y float64) Tagged[float64] {
	return Tagged[float64]{Value: v, Pos: Pos{x, y}}
}

// String tags a string with a position.
func String(v string, x, y float64) Tagged[string] {
	return Tagged[string]{Value: v, Pos: Pos{x, y}}
}

// Bool tags a bool with a position.
func Bool(v bool, x, y float64) Tagged[bool] {
	return Tagged[bool]{Value: v, Pos: Pos{x, y}}
}

// Identified is implemented by items that came from a stored record.
type Identified interface {
	RecordID() int64
}
