// Package dice provides the randomness abstraction and dice-expression
// evaluation used by the pattern engine.
package dice

import "fmt"

// RollResult holds the full audit trail for a single dice roll evaluation.
//
// Postcondition: Total() == sum(Kept) combined with ModOp/Modifier.
type RollResult struct {
	Expression string // original expression string, e.g. "4d6k3+2"
	Rolls      []int  // every die rolled, in roll order
	Kept       []int  // dice counting toward the total; equals Rolls when no keep rule
	ModOp      string // "+", "-", "*", or "" when no flat modifier
	Modifier   int    // flat modifier operand
}

// Total returns the sum of the kept dice with the flat modifier applied.
//
// Postcondition: ModOp "" or "+" adds, "-" subtracts, "*" multiplies.
func (r RollResult) Total() int {
	total := 0
	for _, d := range r.Kept {
		total += d
	}
	switch r.ModOp {
	case "+":
		total += r.Modifier
	case "-":
		total -= r.Modifier
	case "*":
		total *= r.Modifier
	}
	return total
}

// String returns a human-readable audit string in the format:
//
//	"4d6k3+2 → [5 4 4] of [5 4 4 1] +2 = 15"
//
// Precondition: r.Expression is non-empty.
func (r RollResult) String() string {
	if r.Expression == "" {
		panic("dice: RollResult.String() precondition violated: Expression must be non-empty")
	}
	s := fmt.Sprintf("%s → %v", r.Expression, r.Kept)
	if len(r.Kept) != len(r.Rolls) {
		s += fmt.Sprintf(" of %v", r.Rolls)
	}
	if r.ModOp != "" {
		s += fmt.Sprintf(" %s%d", r.ModOp, r.Modifier)
	}
	return fmt.Sprintf("%s = %d", s, r.Total())
}

// Source is the randomness provider for dice rolls and weighted selection.
//
// Implementations MUST be safe for concurrent use.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int

	// Float64 returns a uniform random float64 in [0, 1).
	Float64() float64
}
