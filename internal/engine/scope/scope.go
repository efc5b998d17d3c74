// Package scope holds the per-evaluation placeholder scope stack and the
// capture-variable store. Both live for exactly one top-level roll.
package scope

// Frame holds the properties set by the most recent rolls in one
// evaluation chain, keyed by table id then property name. The empty
// property name stores the table's last rendered value itself.
type Frame struct {
	props map[string]map[string]string
}

// Set writes one property into the frame.
func (f *Frame) Set(table, prop, value string) {
	if f.props == nil {
		f.props = make(map[string]map[string]string)
	}
	m, ok := f.props[table]
	if !ok {
		m = make(map[string]string)
		f.props[table] = m
	}
	m[prop] = value
}

// SetAll writes every entry of sets under the given table key.
func (f *Frame) SetAll(table string, sets map[string]string) {
	for k, v := range sets {
		f.Set(table, k, v)
	}
}

// Get reads one property from the frame. It never consults parent frames;
// that restriction is what isolates sibling rolls from each other.
func (f *Frame) Get(table, prop string) (string, bool) {
	m, ok := f.props[table]
	if !ok {
		return "", false
	}
	v, ok := m[prop]
	return v, ok
}

// Snapshot flattens the frame into a "table.prop" keyed map for the
// final roll result. Bare table values appear under the table id alone.
func (f *Frame) Snapshot() map[string]string {
	if len(f.props) == 0 {
		return nil
	}
	out := make(map[string]string)
	for table, m := range f.props {
		for prop, v := range m {
			key := table
			if prop != "" {
				key += "." + prop
			}
			out[key] = v
		}
	}
	return out
}

// Stack is the explicit scope-frame stack. A frame is pushed when a
// top-level roll or template evaluation begins and when a capturing
// multi-roll begins its sub-evaluation, and popped exactly once when
// that evaluation completes.
//
// Invariant: Pushes() == Pops() after any completed top-level call.
type Stack struct {
	frames []*Frame
	pushes int
	pops   int
}

// NewStack returns an empty stack.
func NewStack() *Stack {
	return &Stack{}
}

// Push adds a fresh frame and returns it.
func (s *Stack) Push() *Frame {
	f := &Frame{}
	s.frames = append(s.frames, f)
	s.pushes++
	return f
}

// Pop removes the top frame.
//
// Precondition: the stack must be non-empty. Panics on an empty stack,
// since an unbalanced pop is always an evaluator bug.
func (s *Stack) Pop() {
	if len(s.frames) == 0 {
		panic("scope: Pop on empty stack")
	}
	s.frames = s.frames[:len(s.frames)-1]
	s.pops++
}

// Current returns the top-of-stack frame, or nil when the stack is empty.
func (s *Stack) Current() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Depth returns the number of live frames.
func (s *Stack) Depth() int {
	return len(s.frames)
}

// Pushes returns the total number of Push calls on this stack.
func (s *Stack) Pushes() int { return s.pushes }

// Pops returns the total number of Pop calls on this stack.
func (s *Stack) Pops() int { return s.pops }
