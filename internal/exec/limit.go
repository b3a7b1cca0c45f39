package exec

import (
	"diskdb/internal/expr"
	"diskdb/internal/page"
	"diskdb/internal/types"
)

// Limit skips Offset rows of Input, then emits up to Count rows.
type Limit struct {
	input  Executor
	offset int
	count  int

	skipped int
	emitted int
}

func NewLimit(input Executor, offset, count int) *Limit {
	return &Limit{input: input, offset: offset, count: count}
}

func (l *Limit) Init() error {
	l.skipped = 0
	l.emitted = 0
	return l.input.Init()
}

func (l *Limit) OutputSchema() types.Schema { return l.input.OutputSchema() }

func (l *Limit) Next(tup *expr.Tuple, rid *page.RID) (bool, error) {
	if l.emitted >= l.count {
		return false, nil
	}
	for l.skipped < l.offset {
		var row expr.Tuple
		var r page.RID
		ok, err := l.input.Next(&row, &r)
		if err != nil || !ok {
			return false, err
		}
		l.skipped++
	}
	ok, err := l.input.Next(tup, rid)
	if err != nil || !ok {
		return false, err
	}
	l.emitted++
	return true, nil
}
