package store

import (
	"cmp"
	"slices"
	"sync"

	"github.com/matheus3301/feedmirror/internal/model"
)

// Predicate selects the records a view holds.
type Predicate func(*model.Conversation) bool

// Order compares two records; a negative result places a first.
type Order func(a, b *model.Conversation) int

// Pinned and Unpinned partition the mirror on the pinned flag.
func Pinned(c *model.Conversation) bool   { return c.Pinned }
func Unpinned(c *model.Conversation) bool { return !c.Pinned }

// ByLastActivity orders newest first, ties broken by id.
func ByLastActivity(a, b *model.Conversation) int {
	if c := cmp.Compare(b.LastActivity(), a.LastActivity()); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Diff lists row indices touched by one store mutation. Deleted indices refer
// to the previous contents; Inserted and Modified refer to the new contents.
// A record whose position changed is reported as deleted and inserted.
type Diff struct {
	Deleted  []int
	Inserted []int
	Modified []int
}

// Empty reports whether the diff carries no change.
func (d Diff) Empty() bool {
	return len(d.Deleted) == 0 && len(d.Inserted) == 0 && len(d.Modified) == 0
}

// ViewUpdate is delivered to observers: once with Initial set on Observe,
// then after every mutation that changes the view.
type ViewUpdate struct {
	Initial bool
	Items   []model.Conversation
	Diff    Diff
}

// LiveView is a filtered, sorted projection kept current by the store.
// Observers run on the mutating goroutine with the store locked, so they
// must not call back into DB mutators.
type LiveView struct {
	db    *DB
	pred  Predicate
	order Order

	items     []record
	observers map[int]func(ViewUpdate)
	nextID    int
	closed    bool
}

// View opens a live view over the records matching pred, sorted by order.
func (db *DB) View(pred Predicate, order Order) (*LiveView, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.listRows()
	if err != nil {
		return nil, err
	}
	v := &LiveView{
		db:        db,
		pred:      pred,
		order:     order,
		observers: make(map[int]func(ViewUpdate)),
	}
	v.items = v.project(rows)
	db.views[v] = struct{}{}
	return v, nil
}

// Observe registers fn and immediately delivers the initial contents.
// The returned cancel is idempotent.
func (v *LiveView) Observe(fn func(ViewUpdate)) (cancel func()) {
	v.db.mu.Lock()
	defer v.db.mu.Unlock()

	id := v.nextID
	v.nextID++
	if !v.closed {
		v.observers[id] = fn
		fn(ViewUpdate{Initial: true, Items: v.snapshot()})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			v.db.mu.Lock()
			delete(v.observers, id)
			v.db.mu.Unlock()
		})
	}
}

// Items returns a copy of the current contents.
func (v *LiveView) Items() []model.Conversation {
	v.db.mu.Lock()
	defer v.db.mu.Unlock()
	return v.snapshot()
}

// Len returns the number of records in the view.
func (v *LiveView) Len() int {
	v.db.mu.Lock()
	defer v.db.mu.Unlock()
	return len(v.items)
}

// Close detaches the view from the store and drops its observers.
func (v *LiveView) Close() {
	v.db.mu.Lock()
	defer v.db.mu.Unlock()
	v.closed = true
	clear(v.observers)
	delete(v.db.views, v)
}

func (v *LiveView) snapshot() []model.Conversation {
	out := make([]model.Conversation, len(v.items))
	for i, r := range v.items {
		out[i] = *r.Conversation
	}
	return out
}

func (v *LiveView) project(rows []record) []record {
	var out []record
	for _, r := range rows {
		if v.pred == nil || v.pred(r.Conversation) {
			out = append(out, r)
		}
	}
	if v.order != nil {
		slices.SortStableFunc(out, func(a, b record) int {
			return v.order(a.Conversation, b.Conversation)
		})
	}
	return out
}

// refreshLocked recomputes every open view and notifies observers of the
// ones that changed. A failed reload leaves the views as they were until
// the next mutation.
func (db *DB) refreshLocked() {
	if len(db.views) == 0 {
		return
	}
	rows, err := db.listRows()
	if err != nil {
		return
	}
	for v := range db.views {
		next := v.project(rows)
		d := diffRecords(v.items, next)
		v.items = next
		if d.Empty() {
			continue
		}
		u := ViewUpdate{Items: v.snapshot(), Diff: d}
		for _, fn := range v.observers {
			fn(u)
		}
	}
}

func diffRecords(prev, next []record) Diff {
	var d Diff
	nextIdx := make(map[string]int, len(next))
	for j, r := range next {
		nextIdx[r.ID] = j
	}
	prevIdx := make(map[string]int, len(prev))

	// Positions in next of the surviving records, in their previous order.
	var seq, seqPrev []int
	for i, r := range prev {
		prevIdx[r.ID] = i
		j, ok := nextIdx[r.ID]
		if !ok {
			d.Deleted = append(d.Deleted, i)
			continue
		}
		seq = append(seq, j)
		seqPrev = append(seqPrev, i)
	}
	for j, r := range next {
		if _, ok := prevIdx[r.ID]; !ok {
			d.Inserted = append(d.Inserted, j)
		}
	}

	stay := longestIncreasing(seq)
	for k, j := range seq {
		i := seqPrev[k]
		if !stay[k] {
			d.Deleted = append(d.Deleted, i)
			d.Inserted = append(d.Inserted, j)
			continue
		}
		if prev[i].rev != next[j].rev {
			d.Modified = append(d.Modified, j)
		}
	}
	slices.Sort(d.Deleted)
	slices.Sort(d.Inserted)
	slices.Sort(d.Modified)
	return d
}

// longestIncreasing marks the members of one longest strictly increasing
// subsequence of seq.
func longestIncreasing(seq []int) []bool {
	keep := make([]bool, len(seq))
	if len(seq) == 0 {
		return keep
	}
	var tails []int // index into seq of the smallest tail per length
	parent := make([]int, len(seq))
	for k, x := range seq {
		pos, _ := slices.BinarySearchFunc(tails, x, func(t, x int) int { return cmp.Compare(seq[t], x) })
		if pos > 0 {
			parent[k] = tails[pos-1]
		} else {
			parent[k] = -1
		}
		if pos == len(tails) {
			tails = append(tails, k)
		} else {
			tails[pos] = k
		}
	}
	for k := tails[len(tails)-1]; k >= 0; k = parent[k] {
		keep[k] = true
	}
	return keep
}
