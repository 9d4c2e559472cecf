// Package rowset holds the columnar data passed between plan nodes.
//
// A Batch is an immutable set of columns sharing one physical row count. A
// RowSet is a Batch plus an optional index view that selects and orders the
// active rows, so filters and sorts never copy column data.
package rowset

import (
	"fmt"
	"maps"
	"slices"
)

// Batch is an immutable columnar row batch. Every row has an int64 id; other
// columns are keyed and carry a validity mask.
type Batch struct {
	ids     []int64
	floats  map[string]floatColumn
	strings map[string]stringColumn
}

type floatColumn struct {
	values []float64
	valid  []bool
}

type stringColumn struct {
	values []string
	valid  []bool
}

// NewBatch creates a batch from ids. The slice is owned by the batch.
func NewBatch(ids []int64) *Batch {
	return &Batch{ids: ids}
}

// SequentialBatch creates n rows with ids 1..n.
func SequentialBatch(n int) *Batch {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return NewBatch(ids)
}

// Len returns the physical row count.
func (b *Batch) Len() int { return len(b.ids) }

// ID returns the id of physical row i.
func (b *Batch) ID(i int) int64 { return b.ids[i] }

// Keys returns all column keys in sorted order.
func (b *Batch) Keys() []string {
	keys := make([]string, 0, len(b.floats)+len(b.strings))
	keys = slices.AppendSeq(keys, maps.Keys(b.floats))
	keys = slices.AppendSeq(keys, maps.Keys(b.strings))
	slices.Sort(keys)
	return keys
}

// FloatKeys returns the keys of float columns in sorted order.
func (b *Batch) FloatKeys() []string {
	return slices.Sorted(maps.Keys(b.floats))
}

// StringKeys returns the keys of string columns in sorted order.
func (b *Batch) StringKeys() []string {
	return slices.Sorted(maps.Keys(b.strings))
}

// Float returns the float value of key at physical row i.
func (b *Batch) Float(key string, i int) (float64, bool) {
	col, ok := b.floats[key]
	if !ok || !col.valid[i] {
		return 0, false
	}
	return col.values[i], true
}

// String returns the string value of key at physical row i.
func (b *Batch) String(key string, i int) (string, bool) {
	col, ok := b.strings[key]
	if !ok || !col.valid[i] {
		return "", false
	}
	return col.values[i], true
}

// Value returns the value of key at row i as float64, string or nil.
func (b *Batch) Value(key string, i int) any {
	if v, ok := b.Float(key, i); ok {
		return v
	}
	if v, ok := b.String(key, i); ok {
		return v
	}
	return nil
}

// HasKey reports whether a column named key exists.
func (b *Batch) HasKey(key string) bool {
	_, f := b.floats[key]
	_, s := b.strings[key]
	return f || s
}

// WithFloat returns a copy of the batch with a float column set. values and
// valid must have Len() entries.
func (b *Batch) WithFloat(key string, values []float64, valid []bool) *Batch {
	mustLen(b, key, len(values), len(valid))
	nb := b.shallowCopy()
	delete(nb.strings, key)
	nb.floats[key] = floatColumn{values: values, valid: valid}
	return nb
}

// WithString returns a copy of the batch with a string column set.
func (b *Batch) WithString(key string, values []string, valid []bool) *Batch {
	mustLen(b, key, len(values), len(valid))
	nb := b.shallowCopy()
	delete(nb.floats, key)
	nb.strings[key] = stringColumn{values: values, valid: valid}
	return nb
}

// Gather builds a new dense batch from the given physical rows, copying
// every column.
func (b *Batch) Gather(rows []int) *Batch {
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = b.ids[r]
	}
	nb := &Batch{ids: ids, floats: make(map[string]floatColumn, len(b.floats)), strings: make(map[string]stringColumn, len(b.strings))}
	for k, col := range b.floats {
		vals, valid := make([]float64, len(rows)), make([]bool, len(rows))
		for i, r := range rows {
			vals[i], valid[i] = col.values[r], col.valid[r]
		}
		nb.floats[k] = floatColumn{values: vals, valid: valid}
	}
	for k, col := range b.strings {
		vals, valid := make([]string, len(rows)), make([]bool, len(rows))
		for i, r := range rows {
			vals[i], valid[i] = col.values[r], col.valid[r]
		}
		nb.strings[k] = stringColumn{values: vals, valid: valid}
	}
	return nb
}

// AllValid returns a validity mask of n true entries.
func AllValid(n int) []bool {
	valid := make([]bool, n)
	for i := range valid {
		valid[i] = true
	}
	return valid
}

func (b *Batch) shallowCopy() *Batch {
	nb := &Batch{ids: b.ids, floats: make(map[string]floatColumn, len(b.floats)+1), strings: make(map[string]stringColumn, len(b.strings)+1)}
	maps.Copy(nb.floats, b.floats)
	maps.Copy(nb.strings, b.strings)
	return nb
}

func mustLen(b *Batch, key string, n, m int) {
	if n != b.Len() || m != b.Len() {
		panic(fmt.Sprintf("rowset: column %q has %d values/%d validity entries, batch has %d rows", key, n, m, b.Len()))
	}
}
