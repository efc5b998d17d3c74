// Package mathexpr evaluates the arithmetic sub-expressions embedded in
// patterns ("math:" spans). The grammar is binary + - * / with the usual
// precedence, unary minus, parentheses, and decimal numbers. Placeholder
// and variable substitution happens before the string reaches Eval.
package mathexpr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Eval evaluates an arithmetic expression and returns its numeric value.
//
// Precondition: expr contains only numbers, + - * / ( ) and whitespace.
// Postcondition: Returns the evaluated value or a descriptive error;
// division by zero is an error, not an Inf result.
func Eval(expr string) (float64, error) {
	p := &parser{input: expr}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("mathexpr: unexpected %q at offset %d in %q", p.input[p.pos], p.pos, expr)
	}
	return v, nil
}

// Format renders a numeric result the way patterns expect: whole values
// without a decimal point, fractional values with their minimal form.
func Format(v float64) string {
	if v == math.Trunc(v) && !math.IsInf(v, 0) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type parser struct {
	input string
	pos   int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

// parseExpr := term (('+'|'-') term)*
func (p *parser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

// parseTerm := factor (('*'|'/') factor)*
func (p *parser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		op := p.peek()
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		if op == '*' {
			left *= right
		} else {
			if right == 0 {
				return 0, fmt.Errorf("mathexpr: division by zero in %q", p.input)
			}
			left /= right
		}
	}
}

// parseFactor := number | '-' factor | '(' expr ')'
func (p *parser) parseFactor() (float64, error) {
	p.skipSpace()
	switch {
	case p.peek() == '-':
		p.pos++
		v, err := p.parseFactor()
		return -v, err
	case p.peek() == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return 0, fmt.Errorf("mathexpr: missing ')' in %q", p.input)
		}
		p.pos++
		return v, nil
	default:
		return p.parseNumber()
	}
}

func (p *parser) parseNumber() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= '0' && c <= '9') || c == '.' {
			p.pos++
			continue
		}
		break
	}
	tok := p.input[start:p.pos]
	if tok == "" {
		if p.pos >= len(p.input) {
			return 0, fmt.Errorf("mathexpr: unexpected end of expression %q", p.input)
		}
		return 0, fmt.Errorf("mathexpr: unexpected %q at offset %d in %q", p.input[p.pos], p.pos, p.input)
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("mathexpr: invalid number %q in %q", tok, p.input)
	}
	return v, nil
}

// IsNumeric reports whether s parses as a plain decimal number after
// trimming whitespace. Used to validate substituted placeholder values.
func IsNumeric(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}
