// Package trace records the evaluation tree of a single roll: one node
// per evaluator step, mirroring recursion order, with per-node timing and
// aggregate statistics on the root.
package trace

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NodeType discriminates trace nodes and their metadata.
type NodeType string

const (
	TypeRoot             NodeType = "root"
	TypeTableRoll        NodeType = "table_roll"
	TypeTemplateRoll     NodeType = "template_roll"
	TypeTemplateRef      NodeType = "template_ref"
	TypeEntrySelect      NodeType = "entry_select"
	TypeExpression       NodeType = "expression"
	TypeDiceRoll         NodeType = "dice_roll"
	TypeMathEval         NodeType = "math_eval"
	TypeVariableAccess   NodeType = "variable_access"
	TypePlaceholder      NodeType = "placeholder_access"
	TypeConditional      NodeType = "conditional"
	TypeMultiRoll        NodeType = "multi_roll"
	TypeInstance         NodeType = "instance"
	TypeCompositeSelect  NodeType = "composite_select"
	TypeCollectionMerge  NodeType = "collection_merge"
	TypeCaptureMultiRoll NodeType = "capture_multi_roll"
	TypeCaptureAccess    NodeType = "capture_access"
	TypeCollect          NodeType = "collect"
)

// Node is one recorded evaluation step. The tree is created fresh per
// top-level call, owned by the roll result, and never mutated after the
// call returns.
type Node struct {
	ID       string        `json:"id"`
	Type     NodeType      `json:"type"`
	Label    string        `json:"label,omitempty"` // human-readable step name, e.g. the table id
	Input    string        `json:"input,omitempty"` // raw expression text that produced this step
	Output   string        `json:"output"`          // resolved value
	Meta     Metadata      `json:"meta,omitempty"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"durationNs"`
	Children []*Node       `json:"children,omitempty"`
}

// Stats aggregates a finished trace tree.
type Stats struct {
	Nodes             int `json:"nodes"`
	DiceRolled        int `json:"diceRolled"`
	TablesAccessed    int `json:"tablesAccessed"`
	VariablesAccessed int `json:"variablesAccessed"`
	MaxDepth          int `json:"maxDepth"`
}

// ComputeStats walks the tree once and returns its aggregate statistics.
func (n *Node) ComputeStats() Stats {
	var s Stats
	n.walk(1, &s)
	return s
}

func (n *Node) walk(depth int, s *Stats) {
	s.Nodes++
	if depth > s.MaxDepth {
		s.MaxDepth = depth
	}
	switch n.Type {
	case TypeDiceRoll:
		if m, ok := n.Meta.(DiceMeta); ok {
			s.DiceRolled += len(m.Rolls)
		}
	case TypeTableRoll:
		s.TablesAccessed++
	case TypeVariableAccess, TypeCaptureAccess:
		s.VariablesAccessed++
	}
	for _, c := range n.Children {
		c.walk(depth+1, s)
	}
}

// Render returns an indented textual form of the tree, one node per line.
func (n *Node) Render() string {
	var b strings.Builder
	n.render(&b, 0)
	return b.String()
}

func (n *Node) render(b *strings.Builder, indent int) {
	b.WriteString(strings.Repeat("  ", indent))
	b.WriteString(string(n.Type))
	if n.Label != "" {
		fmt.Fprintf(b, " %s", n.Label)
	}
	if n.Input != "" {
		fmt.Fprintf(b, " {{%s}}", n.Input)
	}
	if n.Output != "" {
		fmt.Fprintf(b, " → %q", n.Output)
	}
	b.WriteByte('\n')
	for _, c := range n.Children {
		c.render(b, indent+1)
	}
}

// Builder accumulates the trace tree during evaluation. A nil *Builder is
// valid and makes every method a no-op, so the evaluator runs with zero
// tracing overhead when tracing is disabled.
//
// Invariant: Begin and End calls nest like the evaluation they mirror.
type Builder struct {
	root  *Node
	stack []*Node
}

// NewBuilder returns a Builder with a fresh root node.
func NewBuilder(label string) *Builder {
	root := &Node{
		ID:    uuid.NewString(),
		Type:  TypeRoot,
		Label: label,
		Start: time.Now(),
	}
	return &Builder{root: root, stack: []*Node{root}}
}

// Begin opens a child node under the current node and descends into it.
// Returns nil on a nil builder.
func (b *Builder) Begin(t NodeType, label, input string) *Node {
	if b == nil {
		return nil
	}
	n := &Node{
		ID:    uuid.NewString(),
		Type:  t,
		Label: label,
		Input: input,
		Start: time.Now(),
	}
	parent := b.stack[len(b.stack)-1]
	parent.Children = append(parent.Children, n)
	b.stack = append(b.stack, n)
	return n
}

// End finalizes the node opened by the matching Begin and ascends.
// Safe on a nil builder or nil node.
func (b *Builder) End(n *Node, output string, meta Metadata) {
	if b == nil || n == nil {
		return
	}
	n.Output = output
	n.Meta = meta
	n.Duration = time.Since(n.Start)
	if len(b.stack) > 1 && b.stack[len(b.stack)-1] == n {
		b.stack = b.stack[:len(b.stack)-1]
	}
}

// Finish finalizes the root with the overall output and computed stats
// and returns the finished tree. Returns nil on a nil builder.
func (b *Builder) Finish(output string) *Node {
	if b == nil {
		return nil
	}
	b.root.Output = output
	b.root.Duration = time.Since(b.root.Start)
	b.root.Meta = RootMeta{Stats: b.root.ComputeStats()}
	return b.root
}

// Root returns the tree as built so far; partial traces accompany errors.
// Returns nil on a nil builder.
func (b *Builder) Root() *Node {
	if b == nil {
		return nil
	}
	return b.root
}
