// Package symmetry implements the dihedral symmetry group of the event
// window and the site-index permutations it induces.
package symmetry

import "sort"

// Symmetry is a bitset: individual dihedral transforms are single bits, and
// a "symmetry set" is any non-empty combination of them.
type Symmetry uint8

const (
	R000L Symmetry = 1 << 0
	R090L Symmetry = 1 << 1
	R180L Symmetry = 1 << 2
	R270L Symmetry = 1 << 3
	R000R Symmetry = 1 << 4
	R090R Symmetry = 1 << 5
	R180R Symmetry = 1 << 6
	R270R Symmetry = 1 << 7

	None Symmetry = 0
	All  Symmetry = 0xFF
)

var names = []struct {
	sym  Symmetry
	name string
}{
	{R000L, "R000L"}, {R090L, "R090L"}, {R180L, "R180L"}, {R270L, "R270L"},
	{R000R, "R000R"}, {R090R, "R090R"}, {R180R, "R180R"}, {R270R, "R270R"},
}

// Parse resolves a `.symmetries` directive value (a single name or "ALL")
// to a Symmetry set.
func Parse(s string) (Symmetry, bool) {
	if s == "ALL" {
		return All, true
	}
	for _, n := range names {
		if n.name == s {
			return n.sym, true
		}
	}
	return None, false
}

func (s Symmetry) String() string {
	if s == All {
		return "ALL"
	}
	for _, n := range names {
		if s == n.sym {
			return n.name
		}
	}
	return "SET"
}

// Contains reports whether x is one of the bits set in s.
func (s Symmetry) Contains(x Symmetry) bool { return s&x != 0 }

// Elements returns the individual single-bit transforms present in s, in a
// stable order.
func (s Symmetry) Elements() []Symmetry {
	var out []Symmetry
	for _, n := range names {
		if s.Contains(n.sym) {
			out = append(out, n.sym)
		}
	}
	return out
}

// coord is a lattice offset (dx, dy) from the origin.
type coord struct{ dx, dy int }

// coords is the fixed Manhattan-ball radius-4 geometry of the 41-site event
// window: every lattice point with |dx|+|dy| <= 4, site 0 = (0,0), ordered
// by ascending Manhattan distance and then lexicographically by (dy, dx)
// within a ring so the table is deterministic and reproducible.
var coords [41]coord

func init() {
	var pts []coord
	for dx := -4; dx <= 4; dx++ {
		for dy := -4; dy <= 4; dy++ {
			if abs(dx)+abs(dy) <= 4 {
				pts = append(pts, coord{dx, dy})
			}
		}
	}
	sort.Slice(pts, func(i, j int) bool {
		di, dj := abs(pts[i].dx)+abs(pts[i].dy), abs(pts[j].dx)+abs(pts[j].dy)
		if di != dj {
			return di < dj
		}
		if pts[i].dy != pts[j].dy {
			return pts[i].dy < pts[j].dy
		}
		return pts[i].dx < pts[j].dx
	})
	if len(pts) != 41 {
		panic("symmetry: Manhattan-ball radius-4 geometry must have exactly 41 points")
	}
	copy(coords[:], pts)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func indexOf(c coord) int {
	for i, p := range coords {
		if p == c {
			return i
		}
	}
	panic("symmetry: transformed coordinate outside the 41-site window")
}

// transform applies one of the 8 dihedral transforms (4 rotations, composed
// with an optional reflection) to a lattice offset.
func transform(sym Symmetry, c coord) coord {
	switch sym {
	case R000L:
		return c
	case R090L:
		return coord{-c.dy, c.dx}
	case R180L:
		return coord{-c.dx, -c.dy}
	case R270L:
		return coord{c.dy, -c.dx}
	case R000R:
		return coord{c.dx, -c.dy}
	case R090R:
		return coord{-c.dy, -c.dx}
	case R180R:
		return coord{-c.dx, c.dy}
	case R270R:
		return coord{c.dy, c.dx}
	default:
		panic("symmetry: transform requires a single-bit symmetry")
	}
}

var permTable = map[Symmetry][41]uint8{}

func init() {
	for _, n := range names {
		var perm [41]uint8
		for s, c := range coords {
			perm[s] = uint8(indexOf(transform(n.sym, c)))
		}
		permTable[n.sym] = perm
	}
}

// Permute returns the site index that, under the single transform sym,
// takes the place of canonical site s. Site 0 always maps to 0.
func Permute(sym Symmetry, s int) int {
	perm, ok := permTable[sym]
	if !ok {
		panic("symmetry: Permute requires a single-bit symmetry")
	}
	return int(perm[s])
}

// SiteCount is the number of sites in the event window.
const SiteCount = 41
