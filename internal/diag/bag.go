package diag

import "sort"

// Bag accumulates diagnostics up to an optional limit.
// A Bag is not safe for concurrent use.
type Bag struct {
	items []Diagnostic
	max   int
}

// NewBag creates a bag. max <= 0 means unlimited.
func NewBag(max int) *Bag {
	capHint := max
	if capHint <= 0 || capHint > 64 {
		capHint = 8
	}
	return &Bag{
		items: make([]Diagnostic, 0, capHint),
		max:   max,
	}
}

// Add appends d unless the limit is reached.
// Returns false if the diagnostic was dropped.
func (b *Bag) Add(d Diagnostic) bool {
	if b.max > 0 && len(b.items) >= b.max {
		return false
	}
	b.items = append(b.items, d)
	return true
}

func (b *Bag) Len() int {
	if b == nil {
		return 0
	}
	return len(b.items)
}

// Items returns the backing slice. Callers must not modify it.
func (b *Bag) Items() []Diagnostic {
	if b == nil {
		return nil
	}
	return b.items
}

// Sort orders diagnostics by category, name, then payload
// so output is stable across runs.
func (b *Bag) Sort() {
	sort.SliceStable(b.items, func(i, j int) bool {
		di, dj := b.items[i], b.items[j]
		if di.Category != dj.Category {
			return di.Category < dj.Category
		}
		if di.Name != dj.Name {
			return di.Name < dj.Name
		}
		return di.Key() < dj.Key()
	})
}

// Dedup drops diagnostics with an identical Key, keeping the first.
func (b *Bag) Dedup() {
	seen := make(map[string]struct{}, len(b.items))
	out := make([]Diagnostic, 0, len(b.items))
	for _, d := range b.items {
		key := d.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	b.items = out
}
