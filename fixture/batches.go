package fixture

import "github.com/samber/lo"

// Batch is one group of rows written with a single statement
type Batch struct {
	Index  int
	Offset int
	Size   int
}

// PlanBatches splits records into batches of batchSize.
// Only full batches are planned unless includeRemainder is set, so 3500 records in batches
// of 1000 plan 3000 rows and 500 in batches of 1000 plan none.
func PlanBatches(records, batchSize int, includeRemainder bool) []Batch {
	if records <= 0 || batchSize <= 0 {
		return nil
	}

	plan := lo.Times(records/batchSize, func(i int) Batch {
		return Batch{Index: i, Offset: i * batchSize, Size: batchSize}
	})

	if remainder := records % batchSize; includeRemainder && remainder > 0 {
		plan = append(plan, Batch{Index: len(plan), Offset: len(plan) * batchSize, Size: remainder})
	}
	return plan
}

// PlannedRows returns the number of rows a plan inserts
func PlannedRows(plan []Batch) int {
	return lo.SumBy(plan, func(b Batch) int { return b.Size })
}
