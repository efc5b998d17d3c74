package dice

import (
	"fmt"
	"strconv"
	"strings"
)

// Expression represents a parsed dice expression ready to be rolled.
// Precondition: Count >= 1, Sides >= 2 after successful Parse.
type Expression struct {
	Raw      string // original input string
	Count    int    // number of dice
	Sides    int    // faces per die
	Keep     int    // if > 0, keep only the N highest dice (e.g. 4d6k3)
	ModOp    string // "+", "-", "*", or "" when no flat modifier
	Modifier int    // flat modifier operand
}

// Parse parses a dice expression string into an Expression.
// Supported forms: "d20", "2d6", "2d6+3", "4d8-2", "4d6k3", "2d10*10"
// Precondition: expr must be a non-empty string.
// Postcondition: Returns a valid Expression or a descriptive error.
func Parse(expr string) (Expression, error) {
	if strings.TrimSpace(expr) == "" {
		return Expression{}, fmt.Errorf("dice: empty expression")
	}

	raw := expr
	s := strings.ToLower(strings.TrimSpace(expr))

	dIdx := strings.Index(s, "d")
	if dIdx < 0 {
		return Expression{}, fmt.Errorf("dice: missing 'd' in expression %q", raw)
	}

	// Parse count (the part before 'd'); defaults to 1 when omitted.
	count := 1
	if countStr := s[:dIdx]; countStr != "" {
		var err error
		count, err = strconv.Atoi(countStr)
		if err != nil {
			return Expression{}, fmt.Errorf("dice: invalid die count in %q: %w", raw, err)
		}
		if count <= 0 {
			return Expression{}, fmt.Errorf("dice: invalid die count in %q: must be >= 1", raw)
		}
	}

	rest := s[dIdx+1:]

	// Split off the flat modifier first: the earliest '+', '-', or '*'
	// not at position 0.
	modOp := ""
	modifier := 0
	for i := 1; i < len(rest); i++ {
		if c := rest[i]; c == '+' || c == '-' || c == '*' {
			modStr := rest[i+1:]
			m, err := strconv.Atoi(modStr)
			if err != nil {
				return Expression{}, fmt.Errorf("dice: invalid modifier in %q: %w", raw, err)
			}
			modOp = string(c)
			modifier = m
			rest = rest[:i]
			break
		}
	}

	// Extract the keep suffix ("k<N>").
	keep := 0
	if kIdx := strings.Index(rest, "k"); kIdx >= 0 {
		kStr := rest[kIdx+1:]
		rest = rest[:kIdx]
		k, err := strconv.Atoi(kStr)
		if err != nil {
			return Expression{}, fmt.Errorf("dice: invalid keep value in %q: %w", raw, err)
		}
		if k <= 0 || k > count {
			return Expression{}, fmt.Errorf("dice: keep value %d must be > 0 and <= count %d in %q", k, count, raw)
		}
		keep = k
	}

	sides, err := strconv.Atoi(rest)
	if err != nil {
		return Expression{}, fmt.Errorf("dice: invalid die sides in %q: %w", raw, err)
	}
	if sides < 2 {
		return Expression{}, fmt.Errorf("dice: invalid die sides in %q: must be >= 2", raw)
	}

	return Expression{
		Raw:      raw,
		Count:    count,
		Sides:    sides,
		Keep:     keep,
		ModOp:    modOp,
		Modifier: modifier,
	}, nil
}

// MustParse parses expr and panics on error. Useful for package-level constants.
//
// Precondition: expr must be a valid dice expression.
func MustParse(expr string) Expression {
	e, err := Parse(expr)
	if err != nil {
		panic("dice: MustParse failed for expression " + expr + ": " + err.Error())
	}
	return e
}
