package optimizer

import (
	"diskdb/internal/catalog"
	"diskdb/internal/expr"
	"diskdb/internal/plan"
)

// orderByToIndexScan is rule 10: when the ORDER BY
// is a single ascending reference to a column carrying an index,
// scanning that index directly already yields the rows in the requested
// order, so the Sort (and the scan beneath it) is replaced by a single
// ascending IndexScan. Only an exactly-matching single key is eligible
// since this catalog doesn't model composite indexes (a longer order-by
// would lose its tie-break keys); descending sorts aren't eligible
// since the B+Tree iterator only walks forward.
func orderByToIndexScan(cat *catalog.Catalog, input plan.Node, keys []plan.SortKey) plan.Node {
	if len(keys) != 1 || keys[0].Desc {
		return nil
	}
	col, ok := keys[0].Expr.(expr.ColumnRef)
	if !ok {
		return nil
	}

	var table catalog.OID
	var pred expr.Expr
	switch v := input.(type) {
	case *plan.SeqScan:
		table, pred = v.Table, v.Predicate
	default:
		return nil
	}

	info, err := cat.TableByOID(table)
	if err != nil {
		return nil
	}
	allOIDs := append(append([]catalog.OID(nil), info.SecondaryOIDs...), info.PrimaryOID)
	for _, oid := range allOIDs {
		if oid == 0 {
			continue
		}
		idxInfo, err := cat.Index(oid)
		if err != nil {
			continue
		}
		if info.Schema.IndexOf(idxInfo.Column) == col.Index {
			return &plan.IndexScan{Table: table, Index: oid, Predicate: pred}
		}
	}
	return nil
}
