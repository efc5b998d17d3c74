package scope

import "strings"

// DefaultSeparator joins multi-roll and collect values.
const DefaultSeparator = ", "

// CaptureItem is one rolled item stored in a capture variable: the
// rendered value plus a copy of the selected entry's sets.
type CaptureItem struct {
	Value string
	Sets  map[string]string
}

// CaptureVar is a named, ordered list of captured items produced by a
// capture multi-roll ("N*table >> $var").
type CaptureVar struct {
	Name  string
	Items []CaptureItem
}

// Join returns the item values joined with the default separator, in
// capture order.
func (v *CaptureVar) Join() string {
	parts := make([]string, len(v.Items))
	for i, item := range v.Items {
		parts[i] = item.Value
	}
	return strings.Join(parts, DefaultSeparator)
}

// Captures is the capture-variable store for one top-level evaluation.
// Unlike placeholder frames, captures are visible for the remainder of
// the enclosing top-level call regardless of scope depth.
type Captures struct {
	vars  map[string]*CaptureVar
	order []string
}

// NewCaptures returns an empty store.
func NewCaptures() *Captures {
	return &Captures{vars: make(map[string]*CaptureVar)}
}

// Add appends an item to the named capture variable, creating it on
// first use.
//
// Precondition: name must be non-empty.
func (c *Captures) Add(name string, item CaptureItem) {
	if name == "" {
		panic("scope: Captures.Add precondition violated: name must be non-empty")
	}
	v, ok := c.vars[name]
	if !ok {
		v = &CaptureVar{Name: name}
		c.vars[name] = v
		c.order = append(c.order, name)
	}
	v.Items = append(v.Items, item)
}

// Get returns the named capture variable, if present.
func (c *Captures) Get(name string) (*CaptureVar, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Len returns the number of capture variables in the store.
func (c *Captures) Len() int {
	return len(c.vars)
}

// Map returns the captures keyed by name, in no particular order.
// Returns nil when the store is empty so an empty roll result stays lean.
func (c *Captures) Map() map[string]*CaptureVar {
	if len(c.vars) == 0 {
		return nil
	}
	out := make(map[string]*CaptureVar, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

// Names returns the capture variable names in first-created order.
func (c *Captures) Names() []string {
	return append([]string(nil), c.order...)
}
