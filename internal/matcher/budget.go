package matcher

// Budget tracks how many indexed items may still be absent from the
// transaction along one recursive path. It is a value type: every branch of
// the recursion receives its own copy, so siblings never observe each other's
// consumption.
type Budget struct {
	used    int
	allowed int
}

func NewBudget(allowed int) Budget {
	return Budget{allowed: allowed}
}

func (b Budget) Used() int { return b.used }

func (b Budget) Allowed() int { return b.allowed }

// Remaining reports whether the path is still within budget. A path with
// used == allowed is still within budget; only the next mismatch exceeds it.
func (b Budget) Remaining() bool {
	return b.used <= b.allowed
}

// Record returns a copy of b with one more mismatch recorded and whether that
// copy is still within budget. The receiver is left untouched.
func (b Budget) Record() (Budget, bool) {
	b.used++
	return b, b.Remaining()
}
