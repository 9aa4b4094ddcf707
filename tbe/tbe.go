// Package tbe splits a controller's transaction buffer entries between
// requests and replacements.
package tbe

import (
	"math/bits"
	"strconv"
	"strings"

	"github.com/sarchlab/chifabric/errs"
)

// Ratio is the request-to-replacement weighting "k1-k2".
type Ratio struct {
	Req  int
	Repl int
}

func (r Ratio) String() string {
	return strconv.Itoa(r.Req) + "-" + strconv.Itoa(r.Repl)
}

// ParseRatio parses a ratio string such as "3-1".
func ParseRatio(s string) (Ratio, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return Ratio{}, errs.Config(errs.BadRatio,
			"ratio %q must have the form k1-k2", s)
	}

	k1, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	k2, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return Ratio{}, errs.Config(errs.BadRatio,
			"ratio %q must hold two integers", s)
	}

	if k1 < 1 || k2 < 1 {
		return Ratio{}, errs.Config(errs.BadRatio,
			"ratio %q must have both weights of at least 1", s)
	}

	return Ratio{Req: k1, Repl: k2}, nil
}

// Pools holds the sizes of the two TBE pools of a controller. When Unified
// is set, both sizes equal the full budget and the entries are shared.
type Pools struct {
	Req     int
	Repl    int
	Unified bool
}

// Split divides budget entries by the ratio. Each pool keeps at least one
// entry, even when rounding would leave it empty.
func Split(budget int, ratio Ratio, unify bool) (Pools, error) {
	if budget < 1 {
		return Pools{}, errs.Config(errs.ZeroPool,
			"TBE budget must be at least 1, got %d", budget)
	}

	if ratio.Req < 1 || ratio.Repl < 1 {
		return Pools{}, errs.Config(errs.BadRatio,
			"ratio %s must have both weights of at least 1", ratio)
	}

	if unify {
		return Pools{Req: budget, Repl: budget, Unified: true}, nil
	}

	total := uint64(ratio.Req) + uint64(ratio.Repl)

	return Pools{
		Req:  max(1, share(budget, ratio.Req, total)),
		Repl: max(1, share(budget, ratio.Repl, total)),
	}, nil
}

// share computes floor(budget*weight/total) on 128 bits. The result never
// exceeds budget because weight < total.
func share(budget, weight int, total uint64) int {
	hi, lo := bits.Mul64(uint64(budget), uint64(weight))
	q, _ := bits.Div64(hi, lo, total)

	return int(q)
}

// Partition parses the ratio string and splits the budget.
func Partition(budget int, ratio string, unify bool) (Pools, error) {
	r, err := ParseRatio(ratio)
	if err != nil {
		return Pools{}, err
	}

	return Split(budget, r, unify)
}
