package rowset

import "slices"

// RowSet is a view over a Batch. A nil index view means every physical row
// is active, in physical order.
type RowSet struct {
	batch *Batch
	index []int
}

// New wraps a batch with every row active.
func New(b *Batch) *RowSet {
	return &RowSet{batch: b}
}

// WithIndex wraps a batch with an explicit index view. The slice is owned by
// the returned RowSet.
func WithIndex(b *Batch, index []int) *RowSet {
	return &RowSet{batch: b, index: index}
}

// Batch returns the underlying batch.
func (r *RowSet) Batch() *Batch { return r.batch }

// Len returns the number of active rows.
func (r *RowSet) Len() int {
	if r.index == nil {
		return r.batch.Len()
	}
	return len(r.index)
}

// Active returns the active physical row indices in logical order. The
// returned slice is a fresh copy.
func (r *RowSet) Active() []int {
	if r.index == nil {
		out := make([]int, r.batch.Len())
		for i := range out {
			out[i] = i
		}
		return out
	}
	return slices.Clone(r.index)
}

// IsDense reports whether the active rows are exactly 0..Len()-1 of the
// batch and cover all of it.
func (r *RowSet) IsDense() bool {
	if r.index == nil {
		return true
	}
	if len(r.index) != r.batch.Len() {
		return false
	}
	for i, v := range r.index {
		if v != i {
			return false
		}
	}
	return true
}

// IDs returns the ids of the active rows in logical order.
func (r *RowSet) IDs() []int64 {
	active := r.Active()
	ids := make([]int64, len(active))
	for i, row := range active {
		ids[i] = r.batch.ID(row)
	}
	return ids
}

// Keys returns the column keys of the underlying batch.
func (r *RowSet) Keys() []string { return r.batch.Keys() }

// Row is a materialized active row used for responses.
type Row struct {
	ID     int64          `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Rows materializes the active rows with all their valid fields.
func (r *RowSet) Rows() []Row {
	keys := r.batch.Keys()
	active := r.Active()
	out := make([]Row, len(active))
	for i, row := range active {
		fields := make(map[string]any, len(keys))
		for _, k := range keys {
			if v := r.batch.Value(k, row); v != nil {
				fields[k] = v
			}
		}
		out[i] = Row{ID: r.batch.ID(row), Fields: fields}
	}
	return out
}
