package solver

import (
	"github.com/kmrl/induction/internal/scoring"
)

// tableau is a dense Big-M simplex tableau. Rows are, in order: the
// minService ≥ row (with a surplus and an artificial variable), the
// maxMaintenance ≤ row, the near-expiry ≤ row (flagged trainsets, capped
// at maxExpiry), then one xi≤1 row per
// decision variable. Columns are [x_1..x_N | surplus | slack_maint |
// slack_expiry | slack_box_1..N | artificial | RHS].
type tableau struct {
	rows    [][]float64 // each row has len(cols)+1 (RHS last)
	basis   []int       // basic variable column index per row
	numVars int         // N decision variables
	numCols int         // total columns excluding RHS
	objRow  []float64   // length numCols+1, reduced-cost row c_j - z_j, kept in maximization form
	artCol  int
	origCoeffs []float64 // original Σci·xi coefficients, indexed by column, for objectiveValue
}

func buildTableau(order []string, coeffs scoring.Coefficients, maintFlag, expiryFlag []float64, minService, maxMaintenance, maxExpiry float64) *tableau {
	n := len(order)
	// columns: x(n) + surplus(1) + slackMaint(1) + slackExpiry(1) + slackBox(n) + artificial(1)
	numCols := n + 1 + 1 + 1 + n + 1
	surplusCol := n
	slackMaintCol := n + 1
	slackExpiryCol := n + 2
	slackBoxStart := n + 3
	artCol := numCols - 1

	numRows := 3 + n
	rows := make([][]float64, numRows)
	for r := range rows {
		rows[r] = make([]float64, numCols+1)
	}

	// Row 0: Σxi - surplus + artificial = minService
	for i := 0; i < n; i++ {
		rows[0][i] = 1
	}
	rows[0][surplusCol] = -1
	rows[0][artCol] = 1
	rows[0][numCols] = minService

	// Row 1: Σmaintflag·xi + slackMaint = maxMaintenance
	for i := 0; i < n; i++ {
		rows[1][i] = maintFlag[i]
	}
	rows[1][slackMaintCol] = 1
	rows[1][numCols] = maxMaintenance

	// Row 2: Σexpiryflag·xi + slackExpiry = maxExpiry
	for i := 0; i < n; i++ {
		rows[2][i] = expiryFlag[i]
	}
	rows[2][slackExpiryCol] = 1
	rows[2][numCols] = maxExpiry

	// Box rows: xi + slackBox_i = 1
	for i := 0; i < n; i++ {
		row := 3 + i
		rows[row][i] = 1
		rows[row][slackBoxStart+i] = 1
		rows[row][numCols] = 1
	}

	basis := make([]int, numRows)
	basis[0] = artCol
	basis[1] = slackMaintCol
	basis[2] = slackExpiryCol
	for i := 0; i < n; i++ {
		basis[3+i] = slackBoxStart + i
	}

	// Objective (maximize Σci·xi - M·artificial), reduced-cost row
	// stores c_j - z_j for a maximization tableau; we maintain it
	// directly rather than converting to a minimization form.
	objRow := make([]float64, numCols+1)
	origCoeffs := make([]float64, numCols+1)
	for i, id := range order {
		objRow[i] = coeffs[id]
		origCoeffs[i] = coeffs[id]
	}
	objRow[artCol] = -bigM

	tb := &tableau{rows: rows, basis: basis, numVars: n, numCols: numCols, objRow: objRow, artCol: artCol, origCoeffs: origCoeffs}
	tb.priceOutBasis()
	return tb
}

// priceOutBasis recomputes objRow so that basic variables have a
// zero reduced cost, as required after construction and after every
// pivot.
func (tb *tableau) priceOutBasis() {
	for r, basicCol := range tb.basis {
		coeff := tb.objRow[basicCol]
		if coeff == 0 {
			continue
		}
		for c := 0; c <= tb.numCols; c++ {
			tb.objRow[c] -= coeff * tb.rows[r][c]
		}
	}
}

// choosePivotColumn picks the most positive reduced cost (maximizing);
// returns false when optimal.
func (tb *tableau) choosePivotColumn() (int, bool) {
	best := -1
	bestVal := 1e-9
	for c := 0; c < tb.numCols; c++ {
		if tb.objRow[c] > bestVal {
			bestVal = tb.objRow[c]
			best = c
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// choosePivotRow applies the min-ratio test; returns false when the
// column is unbounded.
func (tb *tableau) choosePivotRow(col int) (int, bool) {
	best := -1
	bestRatio := ratioInfinity
	for r, row := range tb.rows {
		if row[col] <= 1e-9 {
			continue
		}
		ratio := row[tb.numCols] / row[col]
		if ratio < bestRatio {
			bestRatio = ratio
			best = r
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

const ratioInfinity = 1e18

func (tb *tableau) pivot(row, col int) {
	pv := tb.rows[row][col]
	for c := 0; c <= tb.numCols; c++ {
		tb.rows[row][c] /= pv
	}
	for r := range tb.rows {
		if r == row {
			continue
		}
		factor := tb.rows[r][col]
		if factor == 0 {
			continue
		}
		for c := 0; c <= tb.numCols; c++ {
			tb.rows[r][c] -= factor * tb.rows[row][c]
		}
	}
	tb.basis[row] = col
	tb.priceOutBasis()
}

// isFeasible reports whether the artificial variable is out of the
// basis (or, if still basic, pinned at zero).
func (tb *tableau) isFeasible() bool {
	for r, basicCol := range tb.basis {
		if basicCol == tb.artCol && tb.rows[r][tb.numCols] > 1e-6 {
			return false
		}
	}
	for _, row := range tb.rows {
		if row[tb.numCols] < -1e-6 {
			return false
		}
	}
	return true
}

// objectiveValue returns Σci·xi for the current basic solution
// (excluding the Big-M artificial term, which is ~0 whenever feasible).
func (tb *tableau) objectiveValue() float64 {
	sum := 0.0
	for r, basicCol := range tb.basis {
		if basicCol < tb.numVars {
			sum += tb.origCoeffs[basicCol] * tb.rows[r][tb.numCols]
		}
	}
	return sum
}

func (tb *tableau) solutionVector(n int) []float64 {
	x := make([]float64, n)
	for r, basicCol := range tb.basis {
		if basicCol < n {
			x[basicCol] = tb.rows[r][tb.numCols]
		}
	}
	return x
}

func (tb *tableau) clone() *tableau {
	rows := make([][]float64, len(tb.rows))
	for i, row := range tb.rows {
		rows[i] = append([]float64(nil), row...)
	}
	cp := &tableau{
		rows:       rows,
		basis:      append([]int(nil), tb.basis...),
		numVars:    tb.numVars,
		numCols:    tb.numCols,
		objRow:     append([]float64(nil), tb.objRow...),
		artCol:     tb.artCol,
		origCoeffs: tb.origCoeffs,
	}
	return cp
}
