// Package mutation provides the field-mutation algebra used wherever a
// document field is updated.
//
// A Mutation is a sealed tagged union: Set, Delete, Increment, AppendUnique
// and Remove. The document store resolves mutations against a current
// snapshot with Apply before merging; nothing downstream inspects raw values
// to guess whether they were meant as sentinels.
//
// Field paths may address nested maps with dots ("address.city").
package mutation

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/archivist/internal/errs"
)

// Kind tags a Mutation variant.
type Kind string

const (
	KindSet          Kind = "set"
	KindDelete       Kind = "delete"
	KindIncrement    Kind = "increment"
	KindAppendUnique Kind = "appendUnique"
	KindRemove       Kind = "remove"
)

// Mutation is a sealed interface. Only the variants in this package
// implement it.
type Mutation interface {
	Kind() Kind
	// resolve returns the new value and whether the field remains present.
	resolve(current any, present bool) (any, bool, error)
}

// Updates maps field paths to the mutation applied to each.
type Updates map[string]Mutation

// SetAll builds Updates that Set every entry of values.
func SetAll(values map[string]any) Updates {
	u := make(Updates, len(values))
	for k, v := range values {
		u[k] = Set(v)
	}
	return u
}

// Paths returns the field paths of u in sorted order.
func (u Updates) Paths() []string {
	paths := make([]string, 0, len(u))
	for p := range u {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

type setOp struct{ value any }

// Set replaces the field with v.
func Set(v any) Mutation { return setOp{value: v} }

func (setOp) Kind() Kind { return KindSet }

func (m setOp) resolve(any, bool) (any, bool, error) { return m.value, true, nil }

type deleteOp struct{}

// Delete removes the field.
func Delete() Mutation { return deleteOp{} }

func (deleteOp) Kind() Kind { return KindDelete }

func (deleteOp) resolve(any, bool) (any, bool, error) { return nil, false, nil }

type incrementOp struct{ delta float64 }

// Increment adds delta to a numeric field. An absent field counts as zero.
// Integral operands produce an int64 result.
func Increment(delta float64) Mutation { return incrementOp{delta: delta} }

func (incrementOp) Kind() Kind { return KindIncrement }

func (m incrementOp) resolve(current any, present bool) (any, bool, error) {
	base := 0.0
	if present && current != nil {
		n, ok := toFloat(current)
		if !ok {
			return nil, false, errs.Validation("increment: field holds %T, not a number", current)
		}
		base = n
	}
	sum := base + m.delta
	if sum == math.Trunc(sum) && math.Abs(sum) < 1<<53 {
		return int64(sum), true, nil
	}
	return sum, true, nil
}

type appendUniqueOp struct{ values []any }

// AppendUnique appends each value not already present in an array field.
// An absent field counts as an empty array.
func AppendUnique(values ...any) Mutation { return appendUniqueOp{values: values} }

func (appendUniqueOp) Kind() Kind { return KindAppendUnique }

func (m appendUniqueOp) resolve(current any, present bool) (any, bool, error) {
	arr, err := asArray(current, present)
	if err != nil {
		return nil, false, fmt.Errorf("appendUnique: %w", err)
	}
	out := append([]any{}, arr...)
	for _, v := range m.values {
		if !contains(out, v) {
			out = append(out, v)
		}
	}
	return out, true, nil
}

type removeOp struct{ values []any }

// Remove drops every element equal to one of values from an array field.
func Remove(values ...any) Mutation { return removeOp{values: values} }

func (removeOp) Kind() Kind { return KindRemove }

func (m removeOp) resolve(current any, present bool) (any, bool, error) {
	arr, err := asArray(current, present)
	if err != nil {
		return nil, false, fmt.Errorf("remove: %w", err)
	}
	out := make([]any, 0, len(arr))
	for _, el := range arr {
		if !contains(m.values, el) {
			out = append(out, el)
		}
	}
	return out, true, nil
}

// Apply resolves updates against fields and returns the merged result.
// fields is not modified. Paths are applied in sorted order so the result
// is deterministic when one path is a prefix of another.
func Apply(fields map[string]any, updates Updates) (map[string]any, error) {
	out := cloneMap(fields)
	for _, path := range updates.Paths() {
		m := updates[path]
		if m == nil {
			return nil, errs.Validation("field %q: nil mutation", path)
		}
		if err := applyPath(out, path, m); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func applyPath(root map[string]any, path string, m Mutation) error {
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return errs.Validation("field path %q has an empty segment", path)
		}
	}

	parent := root
	for _, p := range parts[:len(parts)-1] {
		next, ok := parent[p]
		if !ok || next == nil {
			if m.Kind() == KindDelete {
				return nil
			}
			child := map[string]any{}
			parent[p] = child
			parent = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return errs.Validation("field path %q crosses non-object %q", path, p)
		}
		child = cloneMap(child)
		parent[p] = child
		parent = child
	}

	leaf := parts[len(parts)-1]
	current, present := parent[leaf]
	value, keep, err := m.resolve(current, present)
	if err != nil {
		return fmt.Errorf("field %q: %w", path, err)
	}
	if keep {
		parent[leaf] = value
	} else {
		delete(parent, leaf)
	}
	return nil
}

func asArray(current any, present bool) ([]any, error) {
	if !present || current == nil {
		return nil, nil
	}
	switch v := current.(type) {
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	}
	return nil, errs.Validation("field holds %T, not an array", current)
}

func contains(arr []any, v any) bool {
	for _, el := range arr {
		if Equal(el, v) {
			return true
		}
	}
	return false
}

// Equal compares two field values. Numbers compare by value regardless of
// their Go type, so an int seed equals the float64 decoded from storage.
func Equal(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
