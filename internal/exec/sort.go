package exec

import (
	"container/heap"
	"sort"

	"diskdb/internal/expr"
	"diskdb/internal/page"
	"diskdb/internal/plan"
	"diskdb/internal/types"
)

// compareRows applies keys' ordered (direction, expression) list against
// two evaluated rows, returning the standard lexicographic tie-break
// result: negative if a < b, positive if a > b, zero if all keys tie.
func compareRows(keys []plan.SortKey, a, b expr.Tuple) (int, error) {
	for _, k := range keys {
		av, err := k.Expr.Evaluate(a)
		if err != nil {
			return 0, err
		}
		bv, err := k.Expr.Evaluate(b)
		if err != nil {
			return 0, err
		}
		c, err := types.Compare(av, bv)
		if err != nil {
			return 0, err
		}
		if k.Desc {
			c = -c
		}
		if c != 0 {
			return c, nil
		}
	}
	return 0, nil
}

// Sort materializes every row of Input, then stably sorts by Keys.
type Sort struct {
	input Executor
	keys  []plan.SortKey

	rows []expr.Tuple
	idx  int
	err  error
}

func NewSort(input Executor, keys []plan.SortKey) *Sort {
	return &Sort{input: input, keys: keys}
}

func (s *Sort) Init() error {
	if err := s.input.Init(); err != nil {
		return err
	}
	s.rows = nil
	s.idx = 0
	s.err = nil

	var row expr.Tuple
	var rid page.RID
	for {
		ok, err := s.input.Next(&row, &rid)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		s.rows = append(s.rows, append(expr.Tuple(nil), row...))
	}

	sort.SliceStable(s.rows, func(i, j int) bool {
		c, err := compareRows(s.keys, s.rows[i], s.rows[j])
		if err != nil {
			s.err = err
			return false
		}
		return c < 0
	})
	return s.err
}

func (s *Sort) OutputSchema() types.Schema { return s.input.OutputSchema() }

func (s *Sort) Next(tup *expr.Tuple, rid *page.RID) (bool, error) {
	if s.idx >= len(s.rows) {
		return false, nil
	}
	*tup = s.rows[s.idx]
	*rid = page.RID{}
	s.idx++
	return true, nil
}

// topNHeap is a bounded max-heap (under the *inverted* comparator, so
// the root is the current worst of the best-N-so-far) keyed by
// compareRows.
type topNHeap struct {
	keys []plan.SortKey
	rows []expr.Tuple
	err  error
}

func (h *topNHeap) Len() int { return len(h.rows) }
func (h *topNHeap) Less(i, j int) bool {
	c, err := compareRows(h.keys, h.rows[i], h.rows[j])
	if err != nil {
		h.err = err
		return false
	}
	// Max-heap on the inverted order: the root is the worst-ranked row
	// among the current best-N, so a full heap can cheaply evict it.
	return c > 0
}
func (h *topNHeap) Swap(i, j int) { h.rows[i], h.rows[j] = h.rows[j], h.rows[i] }
func (h *topNHeap) Push(x any)    { h.rows = append(h.rows, x.(expr.Tuple)) }
func (h *topNHeap) Pop() any {
	old := h.rows
	n := len(old)
	v := old[n-1]
	h.rows = old[:n-1]
	return v
}

// TopN maintains a bounded priority queue of size Count under the
// inverted comparator, restoring sort order on emission. This is the optimizer's fused Sort+Limit rewrite: it avoids
// sorting the whole input when only the best Count rows are wanted.
type TopN struct {
	input Executor
	keys  []plan.SortKey
	count int

	out []expr.Tuple
	idx int
}

func NewTopN(input Executor, keys []plan.SortKey, count int) *TopN {
	return &TopN{input: input, keys: keys, count: count}
}

func (t *TopN) Init() error {
	if err := t.input.Init(); err != nil {
		return err
	}
	h := &topNHeap{keys: t.keys}
	heap.Init(h)

	var row expr.Tuple
	var rid page.RID
	for {
		ok, err := t.input.Next(&row, &rid)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if t.count <= 0 {
			continue
		}
		cp := append(expr.Tuple(nil), row...)
		if h.Len() < t.count {
			heap.Push(h, cp)
		} else if h.Len() > 0 {
			c, err := compareRows(t.keys, cp, h.rows[0])
			if err != nil {
				return err
			}
			if c < 0 {
				heap.Pop(h)
				heap.Push(h, cp)
			}
		}
		if h.err != nil {
			return h.err
		}
	}

	t.out = append([]expr.Tuple(nil), h.rows...)
	sort.SliceStable(t.out, func(i, j int) bool {
		c, err := compareRows(t.keys, t.out[i], t.out[j])
		if err != nil {
			h.err = err
			return false
		}
		return c < 0
	})
	t.idx = 0
	return h.err
}

func (t *TopN) OutputSchema() types.Schema { return t.input.OutputSchema() }

func (t *TopN) Next(tup *expr.Tuple, rid *page.RID) (bool, error) {
	if t.idx >= len(t.out) {
		return false, nil
	}
	*tup = t.out[t.idx]
	*rid = page.RID{}
	t.idx++
	return true, nil
}
