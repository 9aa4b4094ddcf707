package topology

import (
	"github.com/sarchlab/chifabric/catalog"
	"github.com/sarchlab/chifabric/errs"
)

// AnyDie is the die key of a placement entry that applies to every die
// without an entry of its own.
const AnyDie = -1

// Placement binds the nodes of each role to routers of the die's mesh. The
// k-th node of a role on a die sits on router list[k % len(list)], where the
// router id is local to the die.
type Placement map[catalog.Role]map[int][]int

// DefaultPlacement spreads request and home nodes over every router and pins
// the other roles to fixed routers, folded into the mesh size.
func DefaultPlacement(numRouters int) Placement {
	all := make([]int, numRouters)
	for i := range all {
		all[i] = i
	}

	fixed := func(routers ...int) map[int][]int {
		list := make([]int, len(routers))
		for i, r := range routers {
			list[i] = r % numRouters
		}

		return map[int][]int{AnyDie: list}
	}

	return Placement{
		catalog.RequestCache:  {AnyDie: all},
		catalog.HomeDirectory: {AnyDie: all},
		catalog.HomeAgent:     fixed(5),
		catalog.MemoryFront:   fixed(3),
		catalog.Misc:          fixed(11),
		catalog.DieBridge:     fixed(7, 14),
	}
}

// Routers returns the router list of a role on a die.
func (p Placement) Routers(role catalog.Role, die int) ([]int, bool) {
	byDie, ok := p[role]
	if !ok {
		return nil, false
	}

	if list, ok := byDie[die]; ok && len(list) > 0 {
		return list, true
	}

	list, ok := byDie[AnyDie]
	if !ok || len(list) == 0 {
		return nil, false
	}

	return list, true
}

// Router returns the local router of the k-th node of a role on a die.
func (p Placement) Router(role catalog.Role, die, k int) (int, error) {
	list, ok := p.Routers(role, die)
	if !ok {
		return 0, errs.Config(errs.Invalid,
			"no router placement for %s nodes on %s",
			role.Short(), catalog.DieName(die))
	}

	return list[k%len(list)], nil
}

func (p Placement) validate(numRouters int) error {
	for role, byDie := range p {
		for die, list := range byDie {
			for _, r := range list {
				if r < 0 || r >= numRouters {
					return errs.Config(errs.Invalid,
						"%s placement on die %d uses router %d outside the %d-router mesh",
						role.Short(), die, r, numRouters)
				}
			}
		}
	}

	return nil
}
