// Package eval parses pattern strings into literal runs and expression
// spans and recursively evaluates them against loaded collections. It is
// the interpreter at the center of the engine: weighted selection, dice
// and math sub-expressions, placeholder and capture scoping, composite
// and collection tables, instances, and conditionals all meet here.
package eval

import (
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/dice"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/document"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/mathexpr"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/registry"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/scope"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/selector"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/trace"
)

// DefaultMaxDepth bounds recursive evaluation; table/template graphs are
// data-driven and can be cyclic.
const DefaultMaxDepth = 64

// Description surfaces one selected entry's description in the result.
type Description struct {
	TableID     string `json:"tableId"`
	TableName   string `json:"tableName"`
	RolledValue string `json:"rolledValue"`
	Description string `json:"description"`
}

// Outcome is the product of one top-level evaluation.
type Outcome struct {
	Text         string
	Captures     *scope.Captures
	Descriptions []Description
	Placeholders map[string]string

	// ScopePushes and ScopePops expose the scope accounting so the
	// balance invariant is assertable from tests.
	ScopePushes int
	ScopePops   int
}

// Evaluator evaluates patterns against a registry. It holds no per-call
// state: every top-level call allocates its own scope stack, capture
// store, and instance cache, so concurrent calls do not cross-talk.
type Evaluator struct {
	reg      *registry.Registry
	src      dice.Source
	logger   *zap.Logger
	maxDepth int
}

// New returns an Evaluator.
//
// Precondition: reg and src must be non-nil. A nil logger is replaced
// with zap.NewNop(); maxDepth <= 0 defaults to DefaultMaxDepth.
func New(reg *registry.Registry, src dice.Source, logger *zap.Logger, maxDepth int) *Evaluator {
	if reg == nil {
		panic("eval: New precondition violated: reg must be non-nil")
	}
	if src == nil {
		panic("eval: New precondition violated: src must be non-nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Evaluator{reg: reg, src: src, logger: logger, maxDepth: maxDepth}
}

// RollTable evaluates one top-level table roll. tb may be nil to run
// without tracing.
func (e *Evaluator) RollTable(collectionID, tableID string, tb *trace.Builder) (*Outcome, error) {
	col, ok := e.reg.Get(collectionID)
	if !ok {
		return nil, &ReferenceError{Ref: collectionID, Msg: "collection not loaded"}
	}
	t, ok := col.Document.Table(tableID)
	if !ok {
		return nil, &ReferenceError{Ref: tableID, Collection: collectionID, Msg: "no such table"}
	}

	r := e.newRun(tb)
	frame := r.scopes.Push()
	text, _, err := r.rollTable(t, col, nil)
	r.scopes.Pop()
	if err != nil {
		return nil, err
	}
	return r.outcome(text, frame), nil
}

// RollTemplate evaluates one top-level template roll. tb may be nil to
// run without tracing.
func (e *Evaluator) RollTemplate(collectionID, templateID string, tb *trace.Builder) (*Outcome, error) {
	col, ok := e.reg.Get(collectionID)
	if !ok {
		return nil, &ReferenceError{Ref: collectionID, Msg: "collection not loaded"}
	}
	tpl, ok := col.Document.Template(templateID)
	if !ok {
		return nil, &ReferenceError{Ref: templateID, Collection: collectionID, Msg: "no such template"}
	}

	r := e.newRun(tb)
	frame := r.scopes.Push()
	text, err := r.rollTemplate(tpl, col, trace.TypeTemplateRoll)
	r.scopes.Pop()
	if err != nil {
		return nil, err
	}
	return r.outcome(text, frame), nil
}

// run is the per-call evaluation state.
type run struct {
	ev        *Evaluator
	tb        *trace.Builder
	scopes    *scope.Stack
	caps      *scope.Captures
	instances map[string]string // "collection/name#label" -> rendered value
	descs     []Description
	depth     int
}

func (e *Evaluator) newRun(tb *trace.Builder) *run {
	return &run{
		ev:        e,
		tb:        tb,
		scopes:    scope.NewStack(),
		caps:      scope.NewCaptures(),
		instances: make(map[string]string),
	}
}

func (r *run) outcome(text string, frame *scope.Frame) *Outcome {
	return &Outcome{
		Text:         text,
		Captures:     r.caps,
		Descriptions: r.descs,
		Placeholders: frame.Snapshot(),
		ScopePushes:  r.scopes.Pushes(),
		ScopePops:    r.scopes.Pops(),
	}
}

func (r *run) enter(ref string) error {
	r.depth++
	if r.depth > r.ev.maxDepth {
		return &RecursionError{Depth: r.ev.maxDepth, Ref: ref}
	}
	return nil
}

func (r *run) exit() {
	r.depth--
}

// evalPattern renders a pattern string: literal segments pass through,
// expression segments are classified and evaluated. cur is the table
// whose entry is being rendered, for "again" references; nil elsewhere.
func (r *run) evalPattern(pattern string, col *registry.Collection, cur *document.Table) (string, error) {
	segs, err := SplitPattern(pattern)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, seg := range segs {
		if !seg.Expr {
			b.WriteString(seg.Text)
			continue
		}
		x, err := Classify(seg.Text)
		if err != nil {
			return "", err
		}
		node := r.tb.Begin(trace.TypeExpression, "", x.Raw)
		v, err := r.evalExpr(x, col, cur)
		r.tb.End(node, v, nil)
		if err != nil {
			return "", err
		}
		b.WriteString(v)
	}
	return b.String(), nil
}

func (r *run) evalExpr(x *Expr, col *registry.Collection, cur *document.Table) (string, error) {
	switch x.Kind {
	case KindDice:
		return r.evalDice(x)
	case KindMath:
		return r.evalMath(x, col)
	case KindCollect:
		return r.evalCollect(x)
	case KindCapture:
		return r.evalCapture(x, col, cur)
	case KindVariable:
		return r.evalVariable(x, col)
	case KindPlaceholder:
		return r.evalPlaceholder(x, col)
	case KindConditional:
		return r.evalConditional(x, col, cur)
	case KindAgain:
		if cur == nil {
			return "", &ParseError{Expr: x.Raw, Msg: "again is only valid inside a table entry"}
		}
		return r.evalMulti(x, cur, col)
	case KindReference:
		return r.evalReference(x, col)
	default:
		return "", &ParseError{Expr: x.Raw, Msg: "unclassifiable expression"}
	}
}

func (r *run) evalDice(x *Expr) (string, error) {
	node := r.tb.Begin(trace.TypeDiceRoll, x.Body, x.Raw)
	res, err := dice.RollExpr(x.Body, r.ev.src)
	if err != nil {
		r.tb.End(node, "", nil)
		return "", &ParseError{Expr: x.Raw, Msg: err.Error()}
	}
	out := strconv.Itoa(res.Total())
	r.tb.End(node, out, trace.DiceMeta{
		Expression: res.Expression,
		Rolls:      res.Rolls,
		Kept:       res.Kept,
		ModOp:      res.ModOp,
		Modifier:   res.Modifier,
	})
	return out, nil
}

func (r *run) evalMath(x *Expr, col *registry.Collection) (string, error) {
	node := r.tb.Begin(trace.TypeMathEval, x.Body, x.Raw)
	substituted, err := r.substituteMathRefs(x.Body, col)
	if err != nil {
		r.tb.End(node, "", nil)
		return "", err
	}
	v, err := mathexpr.Eval(substituted)
	if err != nil {
		r.tb.End(node, "", nil)
		return "", &ParseError{Expr: x.Raw, Msg: err.Error()}
	}
	out := mathexpr.Format(v)
	r.tb.End(node, out, trace.MathMeta{Substituted: substituted})
	return out, nil
}

// substituteMathRefs replaces @table.prop and $var tokens in a math body
// with their current values before arithmetic parsing. Substitution reads
// values as-is; dynamic table dispatch does not apply inside math.
func (r *run) substituteMathRefs(body string, col *registry.Collection) (string, error) {
	var b strings.Builder
	for i := 0; i < len(body); {
		c := body[i]
		if c != '@' && c != '$' {
			b.WriteByte(c)
			i++
			continue
		}
		j := i + 1
		for j < len(body) && isRefChar(body[j]) {
			j++
		}
		token := body[i:j]
		if len(token) == 1 {
			return "", &ParseError{Expr: body, Msg: "dangling " + string(c) + " in math expression"}
		}
		v, err := r.lookupMathToken(token, col)
		if err != nil {
			return "", err
		}
		if !mathexpr.IsNumeric(v) {
			return "", &ParseError{Expr: body, Msg: "substituted value " + strconv.Quote(v) + " for " + token + " is not numeric"}
		}
		b.WriteString(v)
		i = j
	}
	return b.String(), nil
}

func isRefChar(c byte) bool {
	return c == '.' || c == '_' || c == '-' || c == '@' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (r *run) lookupMathToken(token string, col *registry.Collection) (string, error) {
	if token[0] == '@' {
		name, prop, _ := strings.Cut(token[1:], ".")
		v, ok := r.scopes.Current().Get(name, strings.TrimPrefix(prop, "@"))
		if !ok {
			return "", &ReferenceError{Ref: token, Collection: col.ID, Msg: "placeholder not set in the active scope"}
		}
		return v, nil
	}
	name := strings.TrimPrefix(token, "$")
	if v, ok := r.caps.Get(name); ok {
		if len(v.Items) == 0 {
			return "", &ReferenceError{Ref: token, Msg: "capture variable is empty"}
		}
		return v.Items[0].Value, nil
	}
	if v, ok := col.Document.Variables[name]; ok {
		return v, nil
	}
	return "", &ReferenceError{Ref: token, Collection: col.ID, Msg: "unknown variable"}
}

func (r *run) evalCollect(x *Expr) (string, error) {
	node := r.tb.Begin(trace.TypeCollect, "$"+x.CollectVar, x.Raw)
	v, ok := r.caps.Get(x.CollectVar)
	if !ok {
		r.tb.End(node, "", nil)
		return "", &ReferenceError{Ref: "$" + x.CollectVar, Msg: "unknown capture variable"}
	}

	var values []string
	seen := make(map[string]bool)
	for i, item := range v.Items {
		val := item.Value
		if x.CollectProp != "value" {
			pv, ok := item.Sets[x.CollectProp]
			if !ok {
				r.tb.End(node, "", nil)
				return "", &ReferenceError{
					Ref: "$" + x.CollectVar + "." + strconv.Itoa(i) + ".@" + x.CollectProp,
					Msg: "captured item has no such property",
				}
			}
			val = pv
		}
		if x.CollectUnique {
			if seen[val] {
				continue
			}
			seen[val] = true
		}
		values = append(values, val)
	}

	sep := x.Separator
	if sep == "" {
		sep = scope.DefaultSeparator
	}
	out := strings.Join(values, sep)
	r.tb.End(node, out, trace.CollectMeta{
		Variable: x.CollectVar,
		Property: x.CollectProp,
		Unique:   x.CollectUnique,
		Items:    len(values),
	})
	return out, nil
}

func (r *run) evalCapture(x *Expr, col *registry.Collection, cur *document.Table) (string, error) {
	inner, err := Classify(x.Inner)
	if err != nil {
		return "", err
	}

	var target *document.Table
	targetCol := col
	switch inner.Kind {
	case KindAgain:
		if cur == nil {
			return "", &ParseError{Expr: x.Raw, Msg: "again is only valid inside a table entry"}
		}
		target = cur
	case KindReference:
		if len(inner.Props) > 0 || inner.Instance != "" {
			return "", &ParseError{Expr: x.Raw, Msg: "capture source must be a plain table reference"}
		}
		tbl, tpl, tc, err := r.resolveRef(inner, col)
		if err != nil {
			return "", err
		}
		if tpl != nil {
			return "", &ParseError{Expr: x.Raw, Msg: "capture source must be a table, not a template"}
		}
		target = tbl
		targetCol = tc
	default:
		return "", &ParseError{Expr: x.Raw, Msg: "capture source must be a table reference"}
	}

	node := r.tb.Begin(trace.TypeCaptureMultiRoll, "$"+x.Capture, x.Raw)

	// A capturing multi-roll evaluates in its own frame so its rolls do
	// not leak placeholders into the enclosing chain.
	r.scopes.Push()
	defer r.scopes.Pop()

	var excl selector.Exclusion
	if inner.Unique {
		excl = selector.Exclusion{}
	}

	var values []string
	for i := 0; i < inner.Count; i++ {
		text, sets, err := r.rollTable(target, targetCol, excl)
		if err != nil {
			if inner.Unique && isPoolExhausted(err) {
				break
			}
			r.tb.End(node, "", nil)
			return "", err
		}
		copied := make(map[string]string, len(sets))
		for k, v := range sets {
			copied[k] = v
		}
		r.caps.Add(x.Capture, scope.CaptureItem{Value: text, Sets: copied})
		values = append(values, text)
	}

	out := strings.Join(values, scope.DefaultSeparator)
	r.tb.End(node, out, trace.CaptureMeta{Variable: x.Capture, Items: len(values)})
	return out, nil
}

func (r *run) evalVariable(x *Expr, col *registry.Collection) (string, error) {
	if v, ok := r.caps.Get(x.VarName); ok {
		node := r.tb.Begin(trace.TypeCaptureAccess, "$"+x.VarName, x.Raw)
		out, err := r.captureAccess(x, v, col)
		r.tb.End(node, out, trace.VariableMeta{Variable: x.VarName, Index: x.Index, Property: x.VarProp})
		return out, err
	}

	node := r.tb.Begin(trace.TypeVariableAccess, "$"+x.VarName, x.Raw)
	v, ok := col.Document.Variables[x.VarName]
	if !ok {
		r.tb.End(node, "", nil)
		return "", &ReferenceError{Ref: "$" + x.VarName, Collection: col.ID, Msg: "unknown variable"}
	}
	if x.Index >= 0 || x.VarProp != "" {
		r.tb.End(node, "", nil)
		return "", &ReferenceError{Ref: x.Raw, Collection: col.ID, Msg: "static variables have no items or properties"}
	}
	r.tb.End(node, v, trace.VariableMeta{Variable: x.VarName, Index: -1})
	return v, nil
}

func (r *run) captureAccess(x *Expr, v *scope.CaptureVar, col *registry.Collection) (string, error) {
	if x.Index < 0 && x.VarProp == "" {
		return v.Join(), nil
	}

	idx := x.Index
	if idx < 0 {
		idx = 0
	}
	if idx >= len(v.Items) {
		return "", &ReferenceError{Ref: x.Raw, Msg: "capture index out of range"}
	}
	item := v.Items[idx]
	if x.VarProp == "" || x.VarProp == "value" {
		return item.Value, nil
	}
	pv, ok := item.Sets[x.VarProp]
	if !ok {
		return "", &ReferenceError{Ref: x.Raw, Msg: "captured item has no property " + strconv.Quote(x.VarProp)}
	}
	out, _, err := r.dispatchValue(pv, col)
	return out, err
}

func (r *run) evalPlaceholder(x *Expr, col *registry.Collection) (string, error) {
	node := r.tb.Begin(trace.TypePlaceholder, "@"+x.Name, x.Raw)
	frame := r.scopes.Current()

	prop := ""
	if len(x.Props) > 0 {
		prop = x.Props[0]
	}
	v, ok := frame.Get(x.Name, prop)
	if !ok {
		r.tb.End(node, "", nil)
		return "", &ReferenceError{Ref: x.Raw, Collection: col.ID, Msg: "placeholder not set in the active scope"}
	}

	out, dynamic, err := r.resolveChain(v, x.Props[min(1, len(x.Props)):], col)
	if err != nil {
		r.tb.End(node, "", nil)
		return "", err
	}
	r.tb.End(node, out, trace.PlaceholderMeta{Table: x.Name, Property: prop, Dynamic: dynamic})
	return out, nil
}

// resolveChain walks the remaining property chain of a resolved value.
// Each intermediate value must name a table whose fresh roll provides the
// next step's sets; the final value gets dynamic dispatch.
func (r *run) resolveChain(v string, rest []string, col *registry.Collection) (string, bool, error) {
	if len(rest) == 0 {
		return r.dispatchValue(v, col)
	}
	t, ok := col.Document.Table(v)
	if !ok {
		return "", false, &ReferenceError{Ref: v, Collection: col.ID, Msg: "property chain step does not name a table"}
	}
	_, sets, err := r.rollTable(t, col, nil)
	if err != nil {
		return "", false, err
	}
	next, ok := sets[rest[0]]
	if !ok {
		return "", false, &ReferenceError{Ref: "@" + rest[0], Collection: col.ID, Msg: "rolled entry does not set this property"}
	}
	out, _, err := r.resolveChain(next, rest[1:], col)
	return out, true, err
}

// dispatchValue applies dynamic table resolution: a value that names a
// table or template in col is itself evaluated as a fresh roll, applied
// recursively through that roll's own expressions.
func (r *run) dispatchValue(v string, col *registry.Collection) (string, bool, error) {
	if t, ok := col.Document.Table(v); ok {
		text, _, err := r.rollTable(t, col, nil)
		return text, true, err
	}
	if tpl, ok := col.Document.Template(v); ok {
		text, err := r.rollTemplate(tpl, col, trace.TypeTemplateRef)
		return text, true, err
	}
	return v, false, nil
}

func (r *run) evalConditional(x *Expr, col *registry.Collection, cur *document.Table) (string, error) {
	node := r.tb.Begin(trace.TypeConditional, x.Subject, x.Raw)

	subj, err := Classify(x.Subject)
	if err != nil {
		r.tb.End(node, "", nil)
		return "", err
	}
	val, err := r.evalExpr(subj, col, cur)
	if err != nil {
		r.tb.End(node, "", nil)
		return "", err
	}

	for _, c := range x.Cases {
		if c.Match != val {
			continue
		}
		out, err := r.evalPattern(c.Pattern, col, cur)
		if err != nil {
			r.tb.End(node, "", nil)
			return "", err
		}
		r.tb.End(node, out, trace.ConditionalMeta{Subject: val, Matched: c.Match})
		return out, nil
	}

	if x.HasDefault {
		out, err := r.evalPattern(x.Default, col, cur)
		if err != nil {
			r.tb.End(node, "", nil)
			return "", err
		}
		r.tb.End(node, out, trace.ConditionalMeta{Subject: val, Default: true})
		return out, nil
	}
	r.tb.End(node, "", trace.ConditionalMeta{Subject: val})
	return "", nil
}

func (r *run) evalReference(x *Expr, col *registry.Collection) (string, error) {
	tbl, tpl, targetCol, err := r.resolveRef(x, col)
	if err != nil {
		return "", err
	}

	if x.Instance != "" {
		return r.evalInstance(x, tbl, tpl, targetCol)
	}
	return r.evalResolvedRef(x, tbl, tpl, targetCol)
}

// evalInstance reuses a previously rolled value for the same #label
// within this top-level call; the cache dies with the call.
func (r *run) evalInstance(x *Expr, tbl *document.Table, tpl *document.Template, col *registry.Collection) (string, error) {
	key := col.ID + "/" + x.Name + "#" + x.Instance
	node := r.tb.Begin(trace.TypeInstance, x.Name+"#"+x.Instance, x.Raw)
	if cached, ok := r.instances[key]; ok {
		r.tb.End(node, cached, trace.InstanceMeta{Label: x.Instance, CacheHit: true})
		return cached, nil
	}
	out, err := r.evalResolvedRef(x, tbl, tpl, col)
	if err != nil {
		r.tb.End(node, "", nil)
		return "", err
	}
	r.instances[key] = out
	r.tb.End(node, out, trace.InstanceMeta{Label: x.Instance, CacheHit: false})
	return out, nil
}

func (r *run) evalResolvedRef(x *Expr, tbl *document.Table, tpl *document.Template, col *registry.Collection) (string, error) {
	if tpl != nil {
		if x.Count > 1 {
			var parts []string
			for i := 0; i < x.Count; i++ {
				v, err := r.rollTemplate(tpl, col, trace.TypeTemplateRef)
				if err != nil {
					return "", err
				}
				parts = append(parts, v)
			}
			return strings.Join(parts, scope.DefaultSeparator), nil
		}
		return r.rollTemplate(tpl, col, trace.TypeTemplateRef)
	}

	if x.Count > 1 || x.Unique {
		return r.evalMulti(x, tbl, col)
	}

	text, sets, err := r.rollTable(tbl, col, nil)
	if err != nil {
		return "", err
	}
	if len(x.Props) > 0 {
		return r.walkProps(x, sets, col)
	}
	return text, nil
}

func (r *run) walkProps(x *Expr, sets map[string]string, col *registry.Collection) (string, error) {
	v, ok := sets[x.Props[0]]
	if !ok {
		return "", &ReferenceError{Ref: x.Raw, Collection: col.ID, Msg: "rolled entry does not set property " + strconv.Quote(x.Props[0])}
	}
	out, _, err := r.resolveChain(v, x.Props[1:], col)
	return out, err
}

// evalMulti rolls a table Count times, joining results. A uniqueness
// constraint excludes already-chosen entries from subsequent draws; when
// it exhausts the pool the multi-roll truncates silently.
func (r *run) evalMulti(x *Expr, tbl *document.Table, col *registry.Collection) (string, error) {
	node := r.tb.Begin(trace.TypeMultiRoll, tbl.ID, x.Raw)

	var excl selector.Exclusion
	if x.Unique {
		excl = selector.Exclusion{}
	}

	truncated := false
	var parts []string
	for i := 0; i < x.Count; i++ {
		text, _, err := r.rollTable(tbl, col, excl)
		if err != nil {
			if x.Unique && isPoolExhausted(err) {
				truncated = true
				break
			}
			r.tb.End(node, "", nil)
			return "", err
		}
		parts = append(parts, text)
	}

	out := strings.Join(parts, scope.DefaultSeparator)
	r.tb.End(node, out, trace.MultiRollMeta{Count: x.Count, Unique: x.Unique, Truncated: truncated})
	return out, nil
}

func isPoolExhausted(err error) bool {
	var serr *selector.SelectionError
	return errors.As(err, &serr) && strings.Contains(serr.Reason, "uniqueness")
}

// resolveRef maps a reference to a table or template, following the
// import alias when present.
func (r *run) resolveRef(x *Expr, col *registry.Collection) (*document.Table, *document.Template, *registry.Collection, error) {
	target := col
	if x.Alias != "" {
		c, err := r.ev.reg.ResolveAlias(col, x.Alias)
		if err != nil {
			return nil, nil, nil, err
		}
		target = c
	}
	if t, ok := target.Document.Table(x.Name); ok {
		return t, nil, target, nil
	}
	if tpl, ok := target.Document.Template(x.Name); ok {
		return nil, tpl, target, nil
	}
	return nil, nil, nil, &ReferenceError{Ref: x.Raw, Collection: target.ID, Msg: "no such table or template"}
}

// resolveSource resolves a composite/collection source reference, which
// may cross an import boundary as alias.name.
func (r *run) resolveSource(ref string, col *registry.Collection) (*document.Table, *registry.Collection, error) {
	target := col
	name := ref
	if alias, rest, ok := strings.Cut(ref, "."); ok {
		c, err := r.ev.reg.ResolveAlias(col, alias)
		if err != nil {
			return nil, nil, err
		}
		target = c
		name = rest
	}
	t, ok := target.Document.Table(name)
	if !ok {
		return nil, nil, &ReferenceError{Ref: ref, Collection: target.ID, Msg: "no such source table"}
	}
	return t, target, nil
}
