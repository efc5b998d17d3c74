// Package document defines the collection document model: metadata,
// tables, templates, imports, and variables, plus parsing and validation.
package document

// SpecVersionMajor is the supported major version of the collection
// document specification.
const SpecVersionMajor = "1"

// Metadata describes a collection document.
type Metadata struct {
	Name        string   `json:"name" yaml:"name"`
	Namespace   string   `json:"namespace" yaml:"namespace"`
	Version     string   `json:"version" yaml:"version"`
	SpecVersion string   `json:"specVersion" yaml:"specVersion"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// ImportBinding declares a dependency on another collection: Path names
// the target namespace, Alias is the local prefix used in expressions.
type ImportBinding struct {
	Path  string `json:"path" yaml:"path"`
	Alias string `json:"alias" yaml:"alias"`
}

// TableKind discriminates the three table variants.
type TableKind string

const (
	// KindSimple is an ordered pool of weighted entries.
	KindSimple TableKind = "simple"
	// KindComposite picks one of several source tables, then defers to it.
	KindComposite TableKind = "composite"
	// KindCollection merges several source tables into one weighted pool.
	KindCollection TableKind = "collection"
)

// Range is an inclusive numeric range attached to an entry; its width
// becomes the entry's effective weight (d100-style tables).
type Range struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// Width returns the number of values covered by the range.
func (r Range) Width() int {
	return r.Max - r.Min + 1
}

// Entry is one selectable row of a simple table. Weight and Range are
// mutually exclusive; with neither set the effective weight is 1.
type Entry struct {
	Value       string            `json:"value" yaml:"value"`
	Weight      float64           `json:"weight,omitempty" yaml:"weight,omitempty"`
	Range       *Range            `json:"range,omitempty" yaml:"range,omitempty"`
	Sets        map[string]string `json:"sets,omitempty" yaml:"sets,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
}

// EffectiveWeight returns the weight used for selection: the range width
// when a range is present, the explicit weight when set, else 1.
func (e *Entry) EffectiveWeight() float64 {
	if e.Range != nil {
		return float64(e.Range.Width())
	}
	if e.Weight > 0 {
		return e.Weight
	}
	return 1
}

// SourceRef points a composite or collection table at one source table.
// Probability is only meaningful for composites (weighted one-of choice).
type SourceRef struct {
	Table       string  `json:"table" yaml:"table"`
	Probability float64 `json:"probability,omitempty" yaml:"probability,omitempty"`
}

// Table is the tagged union of the three table variants. Entries is
// populated for KindSimple, Sources for KindComposite and KindCollection.
type Table struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name,omitempty" yaml:"name,omitempty"`
	Kind        TableKind   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Entries     []*Entry    `json:"entries,omitempty" yaml:"entries,omitempty"`
	Sources     []SourceRef `json:"sources,omitempty" yaml:"sources,omitempty"`
}

// DisplayName returns Name, falling back to ID.
func (t *Table) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}

// SharedVariable is one staged pattern of a template: evaluated before
// the main pattern so its rolls seed the placeholder context.
type SharedVariable struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Template is a top-level pattern with optional staged shared variables.
type Template struct {
	ID      string           `json:"id" yaml:"id"`
	Name    string           `json:"name,omitempty" yaml:"name,omitempty"`
	Pattern string           `json:"pattern" yaml:"pattern"`
	Shared  []SharedVariable `json:"shared,omitempty" yaml:"shared,omitempty"`
}

// DisplayName returns Name, falling back to ID.
func (t *Template) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}

// Document is one loaded collection. Immutable once loaded; replacing a
// collection requires unload+reload through the registry.
type Document struct {
	Metadata  Metadata          `json:"metadata" yaml:"metadata"`
	Tables    []*Table          `json:"tables,omitempty" yaml:"tables,omitempty"`
	Templates []*Template       `json:"templates,omitempty" yaml:"templates,omitempty"`
	Imports   []ImportBinding   `json:"imports,omitempty" yaml:"imports,omitempty"`
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
	Shared    []SharedVariable  `json:"shared,omitempty" yaml:"shared,omitempty"`
}

// Table returns the table with the given id, if present.
func (d *Document) Table(id string) (*Table, bool) {
	for _, t := range d.Tables {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// Template returns the template with the given id, if present.
func (d *Document) Template(id string) (*Template, bool) {
	for _, t := range d.Templates {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// Import returns the import binding with the given alias, if present.
func (d *Document) Import(alias string) (ImportBinding, bool) {
	for _, imp := range d.Imports {
		if imp.Alias == alias {
			return imp, true
		}
	}
	return ImportBinding{}, false
}
