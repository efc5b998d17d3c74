package eval

import "fmt"

// ParseError reports malformed expression syntax inside a {{...}} span.
type ParseError struct {
	Expr string // the span content that failed to parse
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("eval: parse error in {{%s}}: %s", e.Expr, e.Msg)
}

// ReferenceError reports an unknown table, template, variable, property,
// or alias.
type ReferenceError struct {
	Ref        string // the reference that failed to resolve
	Collection string // collection id the lookup ran against, if any
	Msg        string
}

func (e *ReferenceError) Error() string {
	s := fmt.Sprintf("eval: unresolved reference %q", e.Ref)
	if e.Collection != "" {
		s += fmt.Sprintf(" in collection %q", e.Collection)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

// RecursionError reports evaluation aborted at the recursion depth limit,
// which is how data-driven reference cycles surface.
type RecursionError struct {
	Depth int
	Ref   string // the reference being entered when the limit tripped
}

func (e *RecursionError) Error() string {
	return fmt.Sprintf("eval: recursion depth limit %d exceeded at %q (reference cycle?)", e.Depth, e.Ref)
}
