package morphology

import "gocv.io/x/gocv"

// template is a 3x3 hit-or-miss pattern: 1 must be set, -1 must be unset and
// 0 matches either.
type template [3][3]int

// rotate turns t a quarter counterclockwise.
func (t template) rotate() template {
	var r template
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			r[y][x] = t[x][2-y]
		}
	}
	return r
}

func (t template) kernel() gocv.Mat {
	k := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32S)
	for y, row := range t {
		for x, v := range row {
			k.SetIntAt(y, x, int32(v))
		}
	}
	return k
}

// rotations expands every base into its four quarter turns.
func rotations(bases ...template) []template {
	out := make([]template, 0, 4*len(bases))
	for _, t := range bases {
		for i := 0; i < 4; i++ {
			out = append(out, t)
			t = t.rotate()
		}
	}
	return out
}

var (
	// a line ending straight or diagonally
	tipTemplates = rotations(
		template{
			{-1, -1, -1},
			{-1, 1, -1},
			{0, 1, 0},
		},
		template{
			{-1, -1, -1},
			{-1, 1, 0},
			{-1, 0, 1},
		},
	)

	// T shaped and Y shaped junctions, each upright and diagonal
	branchTemplates = rotations(
		template{
			{-1, 1, -1},
			{1, 1, 1},
			{-1, -1, -1},
		},
		template{
			{1, -1, 1},
			{-1, 1, -1},
			{1, -1, -1},
		},
		template{
			{1, -1, 1},
			{0, 1, 0},
			{0, 1, 0},
		},
		template{
			{-1, 1, -1},
			{1, 1, 0},
			{-1, 0, 1},
		},
	)
)
