package morphology

// grid is a read-only view of a single channel image where nonzero means set.
// Pixels outside the bounds read as unset.
type grid struct {
	w, h int
	pix  []byte
}

// ring lists the 8-neighbourhood clockwise starting north, so even indices are the
// 4-neighbours.
var ring = [8][2]int{
	{0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1},
}

func (g grid) on(x, y int) bool {
	if x < 0 || y < 0 || x >= g.w || y >= g.h {
		return false
	}
	return g.pix[y*g.w+x] != 0
}

// neighbourhood returns how many of the 8 neighbours are set and the crossing
// number: the count of unset to set transitions walking once around the ring.
func (g grid) neighbourhood(x, y int) (count, crossings int) {
	var bits [8]bool
	for i, d := range ring {
		bits[i] = g.on(x+d[0], y+d[1])
		if bits[i] {
			count++
		}
	}
	for i := range bits {
		if !bits[i] && bits[(i+1)%8] {
			crossings++
		}
	}
	return count, crossings
}

// isTip: a lone neighbour, or two neighbours touching each other as on the end of
// a staircase line.
func (g grid) isTip(x, y int) bool {
	if !g.on(x, y) {
		return false
	}
	count, crossings := g.neighbourhood(x, y)
	return count == 1 || (count == 2 && crossings == 1)
}

func (g grid) isBranch(x, y int) bool {
	if !g.on(x, y) {
		return false
	}
	_, crossings := g.neighbourhood(x, y)
	return crossings >= 3
}

// prune walks from every tip towards the skeleton's interior and erases the walk
// when it reaches a branch point in fewer than size pixels. The branch point itself
// stays. Segments that end in another tip are left alone. Tips and branch points
// are taken from the input, so one call is a single pass.
func prune(g grid, size int) []byte {
	branch := make([]bool, len(g.pix))
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			branch[y*g.w+x] = g.isBranch(x, y)
		}
	}

	erase := make([]bool, len(g.pix))
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			if !g.isTip(x, y) {
				continue
			}
			path, reachedBranch := g.walk(x, y, branch, size)
			if reachedBranch && len(path) < size {
				for _, idx := range path {
					erase[idx] = true
				}
			}
		}
	}

	out := make([]byte, len(g.pix))
	for i, v := range g.pix {
		if v != 0 && !erase[i] {
			out[i] = 255
		}
	}
	return out
}

// walk follows the line starting at (x, y) for at most limit pixels. It stops
// short of a branch point, preferring one when several neighbours are open, and
// otherwise prefers 4-neighbours over diagonals so staircases are not cut.
func (g grid) walk(x, y int, branch []bool, limit int) ([]int, bool) {
	start := y*g.w + x
	path := []int{start}
	visited := map[int]bool{start: true}

	for len(path) < limit {
		next, nextIsFour := -1, false
		for i, d := range ring {
			nx, ny := x+d[0], y+d[1]
			if !g.on(nx, ny) {
				continue
			}
			idx := ny*g.w + nx
			if visited[idx] {
				continue
			}
			if branch[idx] {
				return path, true
			}
			isFour := i%2 == 0
			if next == -1 || (isFour && !nextIsFour) {
				next, nextIsFour = idx, isFour
			}
		}
		if next == -1 {
			return path, false
		}
		path = append(path, next)
		visited[next] = true
		x, y = next%g.w, next/g.w
	}

	return path, false
}
