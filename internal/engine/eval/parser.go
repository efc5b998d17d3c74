package eval

import (
	"strconv"
	"strings"
)

// Segment is one run of a pattern: literal text or the content of a
// {{...}} span.
type Segment struct {
	Text string
	Expr bool
}

// SplitPattern splits a pattern string into literal runs and expression
// spans. Spans nest: inner {{ }} pairs inside a span are kept verbatim
// in the span's content for the sub-evaluator to process.
//
// Postcondition: concatenating the segments (re-wrapping Expr segments
// in braces) reproduces the input.
func SplitPattern(pattern string) ([]Segment, error) {
	var segs []Segment
	rest := pattern
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			if rest != "" {
				segs = append(segs, Segment{Text: rest})
			}
			return segs, nil
		}
		if start > 0 {
			segs = append(segs, Segment{Text: rest[:start]})
		}

		// Find the matching close, counting nested opens.
		depth := 1
		i := start + 2
		for i < len(rest) && depth > 0 {
			switch {
			case strings.HasPrefix(rest[i:], "{{"):
				depth++
				i += 2
			case strings.HasPrefix(rest[i:], "}}"):
				depth--
				i += 2
			default:
				i++
			}
		}
		if depth != 0 {
			return nil, &ParseError{Expr: rest[start:], Msg: "unterminated {{ span"}
		}
		segs = append(segs, Segment{Text: rest[start+2 : i-2], Expr: true})
		rest = rest[i:]
	}
}

// ExprKind classifies an expression span into its sub-grammar.
type ExprKind int

const (
	KindReference ExprKind = iota
	KindDice
	KindMath
	KindCollect
	KindCapture
	KindVariable
	KindPlaceholder
	KindAgain
	KindConditional
)

// CondCase is one arm of a switch conditional.
type CondCase struct {
	Match   string
	Pattern string
}

// Expr is one classified expression span.
type Expr struct {
	Raw  string
	Kind ExprKind

	// Modifiers for reference-like kinds.
	Count  int // multi-roll repetitions; 1 when no N* prefix
	Unique bool

	// Reference parts: [Alias.]Name[#Instance][.@Props...]
	Alias    string
	Name     string
	Instance string
	Props    []string

	// Variable access: $VarName[.Index][.@VarProp]
	VarName string
	Index   int // -1 when no index accessor
	VarProp string

	// Capture: Inner >> $Capture
	Inner   string
	Capture string

	// Conditional.
	Subject    string
	Cases      []CondCase
	Default    string
	HasDefault bool

	// Dice or math body.
	Body string

	// Collect.
	CollectVar    string
	CollectProp   string
	CollectUnique bool
	Separator     string
}

// Classify parses one span's content and determines its sub-grammar,
// following the fixed priority order: conditional, dice, math, collect,
// capture, variable, placeholder, again, unique/count modifiers, plain
// reference.
func Classify(raw string) (*Expr, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return nil, &ParseError{Expr: raw, Msg: "empty expression"}
	}
	x := &Expr{Raw: content, Count: 1, Index: -1}

	switch {
	case strings.Contains(content, "switch["):
		return parseConditional(x, content)
	case strings.HasPrefix(content, "dice:"):
		x.Kind = KindDice
		x.Body = strings.TrimSpace(content[len("dice:"):])
		if x.Body == "" {
			return nil, &ParseError{Expr: content, Msg: "dice: requires an expression"}
		}
		return x, nil
	case strings.HasPrefix(content, "math:"):
		x.Kind = KindMath
		x.Body = strings.TrimSpace(content[len("math:"):])
		if x.Body == "" {
			return nil, &ParseError{Expr: content, Msg: "math: requires an expression"}
		}
		return x, nil
	case strings.HasPrefix(content, "collect:"):
		return parseCollect(x, content)
	}

	if idx := strings.Index(content, ">>"); idx >= 0 {
		right := strings.TrimSpace(content[idx+2:])
		if !strings.HasPrefix(right, "$") {
			return nil, &ParseError{Expr: content, Msg: "capture target must be a $variable"}
		}
		name := right[1:]
		if !isIdent(name) {
			return nil, &ParseError{Expr: content, Msg: "invalid capture variable name " + strconv.Quote(name)}
		}
		x.Kind = KindCapture
		x.Inner = strings.TrimSpace(content[:idx])
		x.Capture = name
		if x.Inner == "" {
			return nil, &ParseError{Expr: content, Msg: "capture requires a roll expression before >>"}
		}
		return x, nil
	}

	if strings.HasPrefix(content, "$") {
		return parseVariable(x, content)
	}
	if strings.HasPrefix(content, "@") {
		return parsePlaceholder(x, content)
	}

	// Strip count and uniqueness modifiers; they stack in either order.
	rest := content
	for {
		if strings.HasPrefix(rest, "unique:") {
			x.Unique = true
			rest = rest[len("unique:"):]
			continue
		}
		if n, after, ok := cutCountPrefix(rest); ok {
			if n < 1 {
				return nil, &ParseError{Expr: content, Msg: "multi-roll count must be >= 1"}
			}
			x.Count = n
			rest = after
			continue
		}
		break
	}

	if rest == "again" {
		x.Kind = KindAgain
		return x, nil
	}

	return parseReference(x, content, rest)
}

func parseReference(x *Expr, content, rest string) (*Expr, error) {
	x.Kind = KindReference

	base := rest
	if i := strings.Index(rest, ".@"); i >= 0 {
		base = rest[:i]
		for _, p := range strings.Split(rest[i+1:], ".") {
			if len(p) < 2 || p[0] != '@' {
				return nil, &ParseError{Expr: content, Msg: "property chain segments must be .@name"}
			}
			x.Props = append(x.Props, p[1:])
		}
	}

	if i := strings.Index(base, "#"); i >= 0 {
		x.Instance = base[i+1:]
		base = base[:i]
		if x.Instance == "" {
			return nil, &ParseError{Expr: content, Msg: "instance label must not be empty"}
		}
	}

	if i := strings.Index(base, "."); i >= 0 {
		x.Alias = base[:i]
		x.Name = base[i+1:]
		if x.Alias == "" || strings.Contains(x.Name, ".") {
			return nil, &ParseError{Expr: content, Msg: "reference must be name or alias.name"}
		}
	} else {
		x.Name = base
	}
	if x.Name == "" {
		return nil, &ParseError{Expr: content, Msg: "reference name must not be empty"}
	}
	return x, nil
}

func parseVariable(x *Expr, content string) (*Expr, error) {
	x.Kind = KindVariable
	parts := strings.Split(content[1:], ".")
	if parts[0] == "" || !isIdent(parts[0]) {
		return nil, &ParseError{Expr: content, Msg: "invalid variable name"}
	}
	x.VarName = parts[0]

	rest := parts[1:]
	if len(rest) > 0 && isDigits(rest[0]) {
		n, _ := strconv.Atoi(rest[0])
		x.Index = n
		rest = rest[1:]
	}
	if len(rest) > 0 {
		p := rest[0]
		if len(p) < 2 || p[0] != '@' || len(rest) > 1 {
			return nil, &ParseError{Expr: content, Msg: "variable accessor must be $name[.N][.@prop]"}
		}
		x.VarProp = p[1:]
	}
	return x, nil
}

func parsePlaceholder(x *Expr, content string) (*Expr, error) {
	x.Kind = KindPlaceholder
	parts := strings.Split(content[1:], ".")
	if parts[0] == "" {
		return nil, &ParseError{Expr: content, Msg: "placeholder name must not be empty"}
	}
	x.Name = parts[0]
	for _, p := range parts[1:] {
		if p == "" {
			return nil, &ParseError{Expr: content, Msg: "placeholder property must not be empty"}
		}
		x.Props = append(x.Props, strings.TrimPrefix(p, "@"))
	}
	return x, nil
}

// parseConditional parses switch[subject]match:pattern|match:pattern|default:pattern.
// Case separators and the match/pattern colon are recognized only outside
// nested {{ }} spans, so case patterns can contain expressions.
func parseConditional(x *Expr, content string) (*Expr, error) {
	if !strings.HasPrefix(content, "switch[") {
		return nil, &ParseError{Expr: content, Msg: "switch[ must start the expression"}
	}
	end := strings.Index(content, "]")
	if end < 0 {
		return nil, &ParseError{Expr: content, Msg: "switch[ missing closing ]"}
	}
	x.Kind = KindConditional
	x.Subject = strings.TrimSpace(content[len("switch["):end])
	if x.Subject == "" {
		return nil, &ParseError{Expr: content, Msg: "switch subject must not be empty"}
	}

	for _, arm := range splitTopLevel(content[end+1:], '|') {
		arm = strings.TrimSpace(arm)
		if arm == "" {
			continue
		}
		ci := indexTopLevel(arm, ':')
		if ci < 0 {
			return nil, &ParseError{Expr: content, Msg: "switch case must be match:pattern"}
		}
		match := strings.TrimSpace(arm[:ci])
		pattern := arm[ci+1:]
		if match == "default" {
			x.Default = pattern
			x.HasDefault = true
			continue
		}
		x.Cases = append(x.Cases, CondCase{Match: match, Pattern: pattern})
	}
	if len(x.Cases) == 0 && !x.HasDefault {
		return nil, &ParseError{Expr: content, Msg: "switch requires at least one case"}
	}
	return x, nil
}

func parseCollect(x *Expr, content string) (*Expr, error) {
	x.Kind = KindCollect
	x.Separator = ""
	body := content[len("collect:"):]
	if strings.HasPrefix(body, "unique:") {
		x.CollectUnique = true
		body = body[len("unique:"):]
	}
	if sepIdx := strings.Index(body, ":sep="); sepIdx >= 0 {
		x.Separator = body[sepIdx+len(":sep="):]
		body = body[:sepIdx]
	}
	if !strings.HasPrefix(body, "$") {
		return nil, &ParseError{Expr: content, Msg: "collect: requires a $variable"}
	}
	name, prop, hasProp := strings.Cut(body[1:], ".")
	if !isIdent(name) {
		return nil, &ParseError{Expr: content, Msg: "invalid collect variable name"}
	}
	x.CollectVar = name
	x.CollectProp = "value"
	if hasProp {
		if len(prop) < 2 || prop[0] != '@' {
			return nil, &ParseError{Expr: content, Msg: "collect accessor must be .@prop"}
		}
		x.CollectProp = prop[1:]
	}
	return x, nil
}

// cutCountPrefix strips a leading "N*" multi-roll count.
func cutCountPrefix(s string) (int, string, bool) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(s) || s[i] != '*' {
		return 0, s, false
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, s, false
	}
	return n, s[i+1:], true
}

// splitTopLevel splits s on sep, ignoring separators inside {{ }} spans.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	last := 0
	for i := 0; i < len(s); i++ {
		switch {
		case strings.HasPrefix(s[i:], "{{"):
			depth++
			i++
		case strings.HasPrefix(s[i:], "}}"):
			depth--
			i++
		case s[i] == sep && depth == 0:
			parts = append(parts, s[last:i])
			last = i + 1
		}
	}
	parts = append(parts, s[last:])
	return parts
}

// indexTopLevel returns the first index of sep outside {{ }} spans.
func indexTopLevel(s string, sep byte) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch {
		case strings.HasPrefix(s[i:], "{{"):
			depth++
			i++
		case strings.HasPrefix(s[i:], "}}"):
			depth--
			i++
		case s[i] == sep && depth == 0:
			return i
		}
	}
	return -1
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
